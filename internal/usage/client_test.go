package usage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeTokens struct {
	token   string
	err     error
	cleared int32
}

func (f *fakeTokens) AccessToken() (string, error) {
	return f.token, f.err
}

func (f *fakeTokens) Clear() {
	atomic.AddInt32(&f.cleared, 1)
}

func setupTestClient(t *testing.T, handler http.HandlerFunc, cache time.Duration) (*Client, *fakeTokens, *int32) {
	t.Helper()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	tokens := &fakeTokens{token: "sk-test"}
	client := NewClient(Options{
		BaseURL:        srv.URL,
		Version:        "1.2.3",
		CacheDuration:  cache,
		Retries:        2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}, tokens, zerolog.Nop())

	return client, tokens, &calls
}

const okBody = `{"five_hour": {"utilization": 0.42, "resets_at": "2026-01-01T15:00:00Z"}, "extra_usage": {"is_enabled": false}}`

func TestClient_FetchSuccess(t *testing.T) {
	client, _, _ := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/oauth/usage" {
			t.Errorf("Expected /api/oauth/usage, got %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Expected bearer token, got %q", got)
		}
		if got := r.Header.Get("anthropic-beta"); got != "oauth-2025-04-20" {
			t.Errorf("Expected beta header, got %q", got)
		}
		if got := r.Header.Get("User-Agent"); got != "usageminder/1.2.3" {
			t.Errorf("Expected user agent, got %q", got)
		}
		_, _ = w.Write([]byte(okBody))
	}, 0)

	resp, err := client.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if resp.FiveHour == nil {
		t.Fatal("Expected five_hour window")
	}
	if pct := resp.FiveHour.Percent(); pct < 41.99 || pct > 42.01 {
		t.Errorf("Expected 42%%, got %v", pct)
	}
	reset, ok := resp.FiveHour.ResetTime()
	if !ok {
		t.Fatal("Expected parseable reset time")
	}
	if !reset.Equal(time.Date(2026, 1, 1, 15, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected reset time %v", reset)
	}
	if client.TokenExpired() {
		t.Error("Expected token not expired")
	}
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		wantKind    ErrorKind
		wantCalls   int32
		wantCleared int32
		wantExpired bool
	}{
		{"unauthorized", http.StatusUnauthorized, KindTokenExpired, 1, 1, true},
		{"rate limited", http.StatusTooManyRequests, KindRateLimited, 1, 0, false},
		{"server error retried", http.StatusBadGateway, KindOther, 3, 0, false},
		{"client error not retried", http.StatusForbidden, KindOther, 1, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, tokens, calls := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}, time.Minute)

			_, err := client.Fetch(context.Background())
			if err == nil {
				t.Fatal("Expected error, got nil")
			}

			var fe *FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("Expected *FetchError, got %T", err)
			}
			if fe.Kind != tt.wantKind {
				t.Errorf("Expected kind %s, got %s", tt.wantKind, fe.Kind)
			}
			if fe.StatusCode != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, fe.StatusCode)
			}
			if got := atomic.LoadInt32(calls); got != tt.wantCalls {
				t.Errorf("Expected %d calls, got %d", tt.wantCalls, got)
			}
			if got := atomic.LoadInt32(&tokens.cleared); got != tt.wantCleared {
				t.Errorf("Expected credentials cleared %d times, got %d", tt.wantCleared, got)
			}
			if client.TokenExpired() != tt.wantExpired {
				t.Errorf("Expected TokenExpired %v", tt.wantExpired)
			}
		})
	}
}

func TestClient_RetryRecovers(t *testing.T) {
	var n int32
	client, _, calls := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&n, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(okBody))
	}, 0)

	if _, err := client.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if got := atomic.LoadInt32(calls); got != 2 {
		t.Errorf("Expected 2 calls, got %d", got)
	}
}

func TestClient_CacheAndRefresh(t *testing.T) {
	client, _, calls := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(okBody))
	}, time.Minute)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := client.Fetch(ctx); err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}
	}
	if got := atomic.LoadInt32(calls); got != 1 {
		t.Errorf("Expected 1 call with cache, got %d", got)
	}

	if _, err := client.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if got := atomic.LoadInt32(calls); got != 2 {
		t.Errorf("Expected Refresh to bypass cache, got %d calls", got)
	}
}

func TestClient_FailuresAreNotCached(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	client, _, _ := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(okBody))
	}, time.Minute)

	if _, err := client.Fetch(context.Background()); KindOf(err) != KindRateLimited {
		t.Fatalf("Expected rate limited, got %v", err)
	}

	fail.Store(false)
	if _, err := client.Fetch(context.Background()); err != nil {
		t.Errorf("Expected success after rate limit cleared, got %v", err)
	}
}

func TestClient_MissingToken(t *testing.T) {
	client, tokens, calls := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(okBody))
	}, 0)
	tokens.err = errors.New("no token")

	_, err := client.Fetch(context.Background())
	if KindOf(err) != KindTokenExpired {
		t.Errorf("Expected token expired, got %v", err)
	}
	if !client.TokenExpired() {
		t.Error("Expected TokenExpired to be set")
	}
	if got := atomic.LoadInt32(calls); got != 0 {
		t.Errorf("Expected no HTTP calls, got %d", got)
	}
}

func TestClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewClient(Options{
		BaseURL:        url,
		Retries:        1,
		InitialBackoff: time.Millisecond,
	}, &fakeTokens{token: "x"}, zerolog.Nop())

	_, err := client.Fetch(context.Background())
	if KindOf(err) != KindNetwork {
		t.Errorf("Expected network error, got %v", err)
	}
}

func TestParseResetTime_Location(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2026-01-01T15:00:00Z", time.Date(2026, 1, 1, 15, 0, 0, 0, time.UTC)},
		{"2026-01-01T15:00:00+02:00", time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC)},
		{"2026-01-01T15:00:00", time.Date(2026, 1, 1, 15, 0, 0, 0, time.Local)},
		{"2026-01-01T15:00:00.5", time.Date(2026, 1, 1, 15, 0, 0, 500000000, time.Local)},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseResetTime(tt.in)
			if !ok {
				t.Fatalf("Expected %q to parse", tt.in)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestWindow_ResetTime(t *testing.T) {
	tests := []struct {
		in     string
		wantOK bool
	}{
		{"2026-01-01T15:00:00Z", true},
		{"2026-01-01T15:00:00.123456+00:00", true},
		{"2026-01-01T15:00:00", true},
		{"", false},
		{"tomorrow", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			w := &Window{ResetsAt: tt.in}
			if _, ok := w.ResetTime(); ok != tt.wantOK {
				t.Errorf("ResetTime(%q) ok = %v, want %v", tt.in, ok, tt.wantOK)
			}
		})
	}

	var nilWindow *Window
	if nilWindow.Percent() != 0 {
		t.Error("Expected nil window to report 0%")
	}
}
