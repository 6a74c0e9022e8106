package config

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/stowage/stowage/pkg/errors"
)

// Source produces the raw configuration values for a cloud context. It is an
// interface so tests can substitute a fake for the SSM/Secrets Manager pair.
type Source interface {
	Fetch(ctx context.Context) (map[string]string, error)
}

// Resolver produces exactly one validated configuration snapshot per process.
// Construct one at the entry point and pass it (or its snapshot) to whatever
// needs configuration; there is no package-level instance.
type Resolver struct {
	file   string
	remote Source
	logger *slog.Logger

	mu       sync.RWMutex
	snapshot *Config

	group singleflight.Group
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithFile layers a YAML configuration file between the defaults and the
// environment. Only consulted in a local context.
func WithFile(path string) Option {
	return func(r *Resolver) { r.file = path }
}

// WithRemoteSource overrides the cloud parameter/secret source. When set, the
// resolver always resolves through it regardless of environment detection.
func WithRemoteSource(src Source) Option {
	return func(r *Resolver) { r.remote = src }
}

// NewResolver creates an unloaded resolver.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		logger: slog.Default().With("component", "config"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load resolves, validates and caches the configuration snapshot. It is
// idempotent: once a snapshot exists every call returns it without
// re-fetching. Concurrent first calls share a single in-flight resolution
// and all observe the same outcome. A failed load caches nothing, so a
// subsequent call retries from scratch.
func (r *Resolver) Load(ctx context.Context) (*Config, error) {
	r.mu.RLock()
	if r.snapshot != nil {
		defer r.mu.RUnlock()
		return r.snapshot, nil
	}
	r.mu.RUnlock()

	v, err, _ := r.group.Do("load", func() (interface{}, error) {
		// Re-check under the write path: a concurrent load may have
		// completed between the read-lock release and Do.
		r.mu.RLock()
		if r.snapshot != nil {
			defer r.mu.RUnlock()
			return r.snapshot, nil
		}
		r.mu.RUnlock()

		cfg, err := r.resolve(ctx)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.snapshot = cfg
		r.mu.Unlock()

		r.logger.Info("configuration loaded",
			"environment", cfg.App.Environment,
			"storage_provider", string(cfg.Storage.Provider))
		return cfg, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Config), nil
}

// Get returns the cached snapshot. It fails when no successful Load has
// happened yet; it never triggers a load itself.
func (r *Resolver) Get() (*Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.snapshot == nil {
		return nil, errors.NewError(errors.ErrCodeConfigNotLoaded, "configuration has not been loaded").
			WithComponent("config")
	}
	return r.snapshot, nil
}

// resolve performs one fetch-and-validate sequence. No partial result ever
// escapes: either a fully validated Config is returned or an error.
func (r *Resolver) resolve(ctx context.Context) (*Config, error) {
	cfg := NewDefault()
	var parseViolations []string

	remote := r.remote
	if remote == nil && IsCloudEnvironment() {
		src, err := NewRemoteSource(ctx, envOrDefault("APP_NAME", cfg.App.Name), envOrDefault("APP_ENV", cfg.App.Environment))
		if err != nil {
			return nil, err
		}
		remote = src
	}

	if remote != nil {
		raw, err := remote.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		parseViolations = cfg.applyRaw(raw)
	} else {
		if r.file != "" {
			if err := cfg.LoadFromFile(r.file); err != nil {
				return nil, errors.NewError(errors.ErrCodeConfigLoad, "failed to load config file").
					WithComponent("config").
					WithContext("file", r.file).
					WithCause(err)
			}
		}
		parseViolations = cfg.LoadFromEnv()
	}

	violations := append(parseViolations, cfg.Violations()...)
	if len(violations) > 0 {
		return nil, validationError(violations)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
