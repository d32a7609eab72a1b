package notify

import (
	"context"
	"sync"
	"time"
)

// Async dispatches each Send on its own goroutine so callers never block
// on slow channels. Wait drains in-flight sends at shutdown.
type Async struct {
	next    Notifier
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewAsync wraps next. timeout bounds each background send.
func NewAsync(next Notifier, timeout time.Duration) *Async {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Async{next: next, timeout: timeout}
}

// Send starts delivery and returns immediately. The result is always nil;
// delivery outcome is logged and counted by the wrapped notifier.
func (a *Async) Send(_ context.Context, title, body string, channels ...Channel) []Channel {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		a.next.Send(ctx, title, body, channels...)
	}()
	return nil
}

// Wait blocks until every dispatched send has finished or ctx is done.
func (a *Async) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
