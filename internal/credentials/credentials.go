package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned when no OAuth credentials are available.
var ErrNotFound = errors.New("credentials: no OAuth token available")

// OAuth holds the token block written by the Claude CLI login flow.
type OAuth struct {
	AccessToken      string `json:"accessToken"`
	RefreshToken     string `json:"refreshToken,omitempty"`
	ExpiresAt        int64  `json:"expiresAt,omitempty"` // Unix milliseconds
	SubscriptionType string `json:"subscriptionType,omitempty"`
	RateLimitTier    string `json:"rateLimitTier,omitempty"`
}

// Expiry returns the token expiry, or false when the file does not carry one.
func (o *OAuth) Expiry() (time.Time, bool) {
	if o.ExpiresAt <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(o.ExpiresAt), true
}

type file struct {
	ClaudeAiOauth *OAuth `json:"claudeAiOauth"`
}

// Source reads credentials from disk and caches them until Clear is called.
type Source struct {
	path   string
	logger zerolog.Logger

	mu     sync.Mutex
	cached *OAuth
}

// NewSource creates a credentials source for path.
func NewSource(path string, logger zerolog.Logger) *Source {
	return &Source{
		path:   path,
		logger: logger.With().Str("component", "credentials").Logger(),
	}
}

// Path returns the credentials file location.
func (s *Source) Path() string {
	return s.path
}

// Load returns the cached credentials, reading the file on first use.
func (s *Source) Load() (*OAuth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil {
		return s.cached, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn().Str("path", s.path).Msg("Credentials file not found")
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid JSON in credentials file: %w", err)
	}

	if f.ClaudeAiOauth == nil || f.ClaudeAiOauth.AccessToken == "" {
		s.logger.Warn().Str("path", s.path).Msg("No OAuth credentials in file")
		return nil, ErrNotFound
	}

	s.cached = f.ClaudeAiOauth
	return s.cached, nil
}

// AccessToken returns the bearer token.
func (s *Source) AccessToken() (string, error) {
	creds, err := s.Load()
	if err != nil {
		return "", err
	}
	return creds.AccessToken, nil
}

// Available reports whether a token can be loaded.
func (s *Source) Available() bool {
	_, err := s.AccessToken()
	return err == nil
}

// Clear drops the cached credentials so the next Load re-reads the file.
func (s *Source) Clear() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}
