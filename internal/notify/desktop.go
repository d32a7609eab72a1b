package notify

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	notificationsDest   = "org.freedesktop.Notifications"
	notificationsPath   = "/org/freedesktop/Notifications"
	notificationsMethod = "org.freedesktop.Notifications.Notify"
)

// DBusDesktop sends notifications through the freedesktop notification service.
type DBusDesktop struct {
	appName string
	timeout int32 // milliseconds, -1 lets the server decide
}

// NewDBusDesktop creates a desktop notifier for appName.
func NewDBusDesktop(appName string) *DBusDesktop {
	return &DBusDesktop{appName: appName, timeout: -1}
}

// Notify shows a single notification on the session bus.
func (d *DBusDesktop) Notify(ctx context.Context, title, body string) error {
	conn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to connect to session bus: %w", err)
	}
	defer func() { _ = conn.Close() }()

	obj := conn.Object(notificationsDest, dbus.ObjectPath(notificationsPath))
	call := obj.CallWithContext(ctx, notificationsMethod, 0,
		d.appName,
		uint32(0), // replaces_id
		"",        // app_icon
		title,
		body,
		[]string{},
		map[string]dbus.Variant{},
		d.timeout,
	)
	if call.Err != nil {
		return fmt.Errorf("notify call failed: %w", call.Err)
	}
	return nil
}
