package storage

import (
	"context"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stowage/stowage/pkg/types"
)

// instrumentedStore wraps a Store with Prometheus counters and latency
// histograms, one observation per operation.
type instrumentedStore struct {
	next Store

	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// Instrument wraps a Store with operation metrics registered on reg. The
// provider tag becomes a constant label so both backends share one metric
// family.
func Instrument(next Store, provider string, reg prometheus.Registerer) Store {
	s := &instrumentedStore{
		next: next,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "stowage",
			Subsystem:   "storage",
			Name:        "operations_total",
			Help:        "Total storage facade operations by operation and status.",
			ConstLabels: prometheus.Labels{"provider": provider},
		}, []string{"operation", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "stowage",
			Subsystem:   "storage",
			Name:        "operation_duration_seconds",
			Help:        "Storage facade operation latency in seconds.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: prometheus.Labels{"provider": provider},
		}, []string{"operation"}),
	}
	reg.MustRegister(s.operations, s.duration)
	return s
}

func (s *instrumentedStore) observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	s.operations.WithLabelValues(operation, status).Inc()
	s.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (s *instrumentedStore) Upload(ctx context.Context, key string, data io.Reader, opts types.UploadOptions) (string, error) {
	start := time.Now()
	location, err := s.next.Upload(ctx, key, data, opts)
	s.observe("upload", start, err)
	return location, err
}

func (s *instrumentedStore) Download(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	data, err := s.next.Download(ctx, key)
	s.observe("download", start, err)
	return data, err
}

func (s *instrumentedStore) OpenStream(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := s.next.OpenStream(ctx, key)
	s.observe("open_stream", start, err)
	return rc, err
}

func (s *instrumentedStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.next.Delete(ctx, key)
	s.observe("delete", start, err)
	return err
}

func (s *instrumentedStore) List(ctx context.Context, prefix string) ([]types.ObjectInfo, error) {
	start := time.Now()
	objects, err := s.next.List(ctx, prefix)
	s.observe("list", start, err)
	return objects, err
}

func (s *instrumentedStore) Exists(ctx context.Context, key string) bool {
	start := time.Now()
	ok := s.next.Exists(ctx, key)
	// Exists never errors; every call counts as a success.
	s.observe("exists", start, nil)
	return ok
}

func (s *instrumentedStore) SignedURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	start := time.Now()
	url, err := s.next.SignedURL(ctx, key, expires)
	s.observe("signed_url", start, err)
	return url, err
}

func (s *instrumentedStore) Copy(ctx context.Context, sourceKey, destKey string) error {
	start := time.Now()
	err := s.next.Copy(ctx, sourceKey, destKey)
	s.observe("copy", start, err)
	return err
}
