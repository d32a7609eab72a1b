package config

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Provider hands out the configuration for one decision cycle.
// Callers must treat the returned value as read-only.
type Provider interface {
	Current() *Config
}

// Static always returns the same configuration.
type Static struct {
	Config *Config
}

// Current returns the wrapped configuration.
func (s Static) Current() *Config {
	return s.Config
}

// FileProvider re-reads the config file at most once per TTL so edits made
// through the sidecar are picked up by a running watcher.
type FileProvider struct {
	path     string
	ttl      time.Duration
	logger   zerolog.Logger
	mu       sync.Mutex
	cached   *Config
	loadedAt time.Time
	now      func() time.Time
}

// NewFileProvider creates a provider for path. initial may be nil.
func NewFileProvider(path string, ttl time.Duration, initial *Config, logger zerolog.Logger) *FileProvider {
	p := &FileProvider{
		path:   path,
		ttl:    ttl,
		logger: logger.With().Str("component", "config").Logger(),
		now:    time.Now,
	}
	if initial != nil {
		p.cached = initial
		p.loadedAt = p.now()
	}
	return p
}

// Current returns the cached config, reloading it when stale.
// A failed reload keeps serving the last good config.
func (p *FileProvider) Current() *Config {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil && p.now().Sub(p.loadedAt) < p.ttl {
		return p.cached
	}

	cfg, err := Load(p.path)
	if err != nil {
		p.logger.Warn().Err(err).Str("path", p.path).Msg("Failed to reload configuration, keeping previous")
		if p.cached == nil {
			p.cached = Default()
		}
		p.loadedAt = p.now()
		return p.cached
	}

	p.cached = cfg
	p.loadedAt = p.now()
	return cfg
}

// Invalidate forces the next Current call to hit the file.
func (p *FileProvider) Invalidate() {
	p.mu.Lock()
	p.loadedAt = time.Time{}
	p.mu.Unlock()
}
