package config

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stowage/stowage/pkg/errors"
)

// fakeSource is a Source that counts fetches and can fail on demand.
type fakeSource struct {
	values  map[string]string
	err     error
	delay   time.Duration
	fetches atomic.Int64
}

func (f *fakeSource) Fetch(ctx context.Context) (map[string]string, error) {
	f.fetches.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.values, nil
}

func validRawValues() map[string]string {
	return map[string]string{
		"APP_ENV":       "production",
		"DATABASE_HOST": "db.prod.internal",
		"JWT_SECRET":    "0123456789abcdef0123456789abcdef",
	}
}

func TestGetBeforeLoad(t *testing.T) {
	r := NewResolver()

	_, err := r.Get()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfigNotLoaded))
}

func TestLoadThenGet(t *testing.T) {
	src := &fakeSource{values: validRawValues()}
	r := NewResolver(WithRemoteSource(src))

	loaded, err := r.Load(context.Background())
	require.NoError(t, err)

	got, err := r.Get()
	require.NoError(t, err)
	assert.Same(t, loaded, got, "Get must return the loaded snapshot")
	assert.Equal(t, "production", got.App.Environment)
	assert.Equal(t, "db.prod.internal", got.Database.Host)
}

func TestLoadIsIdempotent(t *testing.T) {
	src := &fakeSource{values: validRawValues()}
	r := NewResolver(WithRemoteSource(src))

	first, err := r.Load(context.Background())
	require.NoError(t, err)

	second, err := r.Load(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second, "second Load must return the cached snapshot")
	assert.Equal(t, int64(1), src.fetches.Load(), "second Load must not re-fetch")
}

func TestConcurrentFirstLoadFetchesOnce(t *testing.T) {
	src := &fakeSource{values: validRawValues(), delay: 20 * time.Millisecond}
	r := NewResolver(WithRemoteSource(src))

	const callers = 16
	results := make([]*Config, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.Load(context.Background())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), src.fetches.Load(), "concurrent first loads must share one fetch")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i], "every caller must observe the same snapshot")
	}
}

func TestFailedLoadCachesNothing(t *testing.T) {
	src := &fakeSource{err: errors.NewError(errors.ErrCodeConfigSourceFetch, "store unreachable")}
	r := NewResolver(WithRemoteSource(src))

	_, err := r.Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfigSourceFetch))

	// No partial snapshot is visible.
	_, err = r.Get()
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfigNotLoaded))

	// A subsequent Load retries from scratch and can succeed.
	src.err = nil
	src.values = validRawValues()
	cfg, err := r.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.App.Environment)
	assert.Equal(t, int64(2), src.fetches.Load())
}

func TestLoadValidationFailureListsEverything(t *testing.T) {
	src := &fakeSource{values: map[string]string{
		"APP_ENV":       "production",
		"DATABASE_HOST": "",
		"JWT_SECRET":    "short",
		"PORT":          "banana",
	}}
	r := NewResolver(WithRemoteSource(src))

	_, err := r.Load(context.Background())
	require.Error(t, err)

	var se *errors.StowageError
	require.True(t, stderrors.As(err, &se))
	assert.Equal(t, errors.ErrCodeConfigValidation, se.Code)
	// One parse violation (PORT) plus two schema violations.
	assert.GreaterOrEqual(t, len(se.Violations), 3)

	// Nothing is cached after a validation failure.
	_, err = r.Get()
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfigNotLoaded))
}

func TestLoadFromLocalEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATABASE_HOST", "127.0.0.1")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("STORAGE_PROVIDER", "local")
	t.Setenv("STORAGE_LOCAL_ROOT", t.TempDir())

	r := NewResolver()
	cfg, err := r.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Database.Host)
	assert.Equal(t, ProviderLocal, cfg.Storage.Provider)
}

func TestLoadLayersFileUnderEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("PORT", "8088") // environment wins over the file

	file := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("app:\n  name: from-file\n  port: 9999\n")
	require.NoError(t, os.WriteFile(file, content, 0600))

	r := NewResolver(WithFile(file))
	cfg, err := r.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.App.Name, "file overrides the default")
	assert.Equal(t, 8088, cfg.App.Port, "environment overrides the file")
}
