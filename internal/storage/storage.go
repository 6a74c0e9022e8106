package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stowage/stowage/internal/config"
	"github.com/stowage/stowage/internal/storage/local"
	s3backend "github.com/stowage/stowage/internal/storage/s3"
	"github.com/stowage/stowage/pkg/errors"
	"github.com/stowage/stowage/pkg/types"
)

// Store is the uniform object-storage interface. Callers must not need to
// know whether objects live on local disk or in a remote bucket; the one
// documented behavioral asymmetry is Delete of a missing key (an error
// locally, a no-op remotely).
type Store interface {
	// Upload writes data under key and returns a backend-specific location
	// (file:// locally, s3:// remotely). Concurrent uploads to the same key
	// are last-write-wins.
	Upload(ctx context.Context, key string, data io.Reader, opts types.UploadOptions) (string, error)

	// Download materializes the full object in memory.
	Download(ctx context.Context, key string) ([]byte, error)

	// OpenStream returns the object bytes lazily. The stream is finite and
	// non-restartable; the caller owns closing it.
	OpenStream(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object.
	Delete(ctx context.Context, key string) error

	// List eagerly collects every object whose key starts with prefix,
	// draining backend pagination before returning.
	List(ctx context.Context, prefix string) ([]types.ObjectInfo, error)

	// Exists never returns an error; backend failures map to false.
	Exists(ctx context.Context, key string) bool

	// SignedURL returns a time-limited URL for the object. The local
	// backend fabricates one without contacting anything.
	SignedURL(ctx context.Context, key string, expires time.Duration) (string, error)

	// Copy duplicates sourceKey to destKey, server-side where supported.
	Copy(ctx context.Context, sourceKey, destKey string) error
}

// Config is the subset of the resolved configuration the facade consumes.
// It is owned exclusively by the Store built from it.
type Config struct {
	Provider  config.Provider
	Bucket    string
	Region    string
	Endpoint  string
	LocalRoot string

	// PublicPort feeds fabricated local signed URLs.
	PublicPort int

	// Static credentials for emulator endpoints.
	AccessKeyID     string
	SecretAccessKey string

	// OptimizedUploads routes remote uploads through CargoShip.
	OptimizedUploads bool

	// Metrics wraps the store with Prometheus instrumentation.
	Metrics bool
}

// FromResolved extracts the facade's configuration from a resolved snapshot.
func FromResolved(cfg *config.Config) Config {
	return Config{
		Provider:   cfg.Storage.Provider,
		Bucket:     cfg.Storage.Bucket,
		Region:     cfg.Storage.Region,
		Endpoint:   cfg.Storage.Endpoint,
		LocalRoot:  cfg.Storage.LocalRoot,
		PublicPort: cfg.App.Port,
		Metrics:    cfg.Features.Metrics,
	}
}

// New builds the Store for the configured provider. The provider set is
// closed: anything but local or s3 is a configuration error.
func New(ctx context.Context, cfg Config) (Store, error) {
	var store Store

	switch cfg.Provider {
	case config.ProviderLocal:
		backend, err := local.NewBackend(local.Config{
			Root:       cfg.LocalRoot,
			PublicPort: cfg.PublicPort,
		})
		if err != nil {
			return nil, err
		}
		store = backend

	case config.ProviderS3:
		backend, err := s3backend.NewBackend(ctx, s3backend.Config{
			Bucket:           cfg.Bucket,
			Region:           cfg.Region,
			Endpoint:         cfg.Endpoint,
			AccessKeyID:      cfg.AccessKeyID,
			SecretAccessKey:  cfg.SecretAccessKey,
			OptimizedUploads: cfg.OptimizedUploads,
		})
		if err != nil {
			return nil, err
		}
		store = backend

	default:
		return nil, errors.NewError(errors.ErrCodeConfigValidation,
			fmt.Sprintf("unknown storage provider: %q", cfg.Provider)).
			WithComponent("storage")
	}

	if cfg.Metrics {
		store = Instrument(store, string(cfg.Provider), prometheus.DefaultRegisterer)
	}

	return store, nil
}
