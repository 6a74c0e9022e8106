// Package local implements the filesystem storage backend. Objects live as
// plain files under a configured root; content type and user metadata are
// persisted in a sidecar JSON file next to the object since the filesystem
// has no native metadata slot.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/stowage/stowage/pkg/errors"
	"github.com/stowage/stowage/pkg/types"
	"github.com/stowage/stowage/pkg/utils"
)

// metaSuffix marks sidecar metadata files. Sidecars are invisible to List and
// are removed together with their object.
const metaSuffix = ".meta.json"

// Config represents local backend configuration.
type Config struct {
	// Root is the directory all objects live under. Created if absent.
	Root string

	// PublicPort is the port baked into fabricated signed URLs. Some other
	// component is assumed to serve /files/<key> there; this backend never
	// serves files itself.
	PublicPort int
}

// Backend stores objects on the local filesystem.
type Backend struct {
	root   string
	port   int
	logger *slog.Logger
}

// sidecar is the on-disk shape of the metadata file.
type sidecar struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NewBackend creates a local backend rooted at cfg.Root, creating the root
// directory if it does not exist.
func NewBackend(cfg Config) (*Backend, error) {
	if cfg.Root == "" {
		return nil, errors.NewError(errors.ErrCodePathInvalid, "local root cannot be empty").
			WithComponent("local-backend")
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodePathInvalid, "failed to resolve local root").
			WithComponent("local-backend").
			WithContext("root", cfg.Root).
			WithCause(err)
	}

	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, errors.NewError(errors.ErrCodeStorageWrite, "failed to create local root").
			WithComponent("local-backend").
			WithContext("root", root).
			WithCause(err)
	}

	port := cfg.PublicPort
	if port == 0 {
		port = 3000
	}

	return &Backend{
		root:   root,
		port:   port,
		logger: slog.Default().With("component", "local-backend", "root", root),
	}, nil
}

// resolve normalizes a key and maps it to a path guaranteed to stay inside
// the root. Every operation that touches disk goes through here.
func (b *Backend) resolve(key string) (string, string, error) {
	cleaned, err := utils.CleanKey(key)
	if err != nil {
		return "", "", errors.NewError(errors.ErrCodePathInvalid, "invalid object key").
			WithComponent("local-backend").
			WithContext("key", key).
			WithCause(err)
	}

	full, err := utils.SecureJoin(b.root, filepath.FromSlash(cleaned))
	if err != nil {
		return "", "", errors.NewError(errors.ErrCodePathInvalid, "key escapes storage root").
			WithComponent("local-backend").
			WithContext("key", key).
			WithCause(err)
	}

	return cleaned, full, nil
}

// Upload writes the object under key, creating intermediate directories as
// needed. Content type and metadata, when present, are written to a sidecar
// file. Returns a file:// location for the stored object.
func (b *Backend) Upload(ctx context.Context, key string, data io.Reader, opts types.UploadOptions) (string, error) {
	cleaned, full, err := b.resolve(key)
	if err != nil {
		return "", err
	}

	payload, err := io.ReadAll(data)
	if err != nil {
		return "", errors.NewError(errors.ErrCodeStorageWrite, "failed to read upload data").
			WithComponent("local-backend").
			WithOperation("Upload").
			WithContext("key", cleaned).
			WithCause(err)
	}

	if err := os.MkdirAll(filepath.Dir(full), 0750); err != nil {
		return "", errors.NewError(errors.ErrCodeStorageWrite, "failed to create object directory").
			WithComponent("local-backend").
			WithOperation("Upload").
			WithContext("key", cleaned).
			WithCause(err)
	}

	if err := os.WriteFile(full, payload, 0640); err != nil {
		return "", errors.NewError(errors.ErrCodeStorageWrite, "failed to write object").
			WithComponent("local-backend").
			WithOperation("Upload").
			WithContext("key", cleaned).
			WithCause(err)
	}

	if opts.ContentType != "" || len(opts.Metadata) > 0 {
		meta, err := json.Marshal(sidecar{ContentType: opts.ContentType, Metadata: opts.Metadata})
		if err != nil {
			return "", errors.NewError(errors.ErrCodeStorageWrite, "failed to encode object metadata").
				WithComponent("local-backend").
				WithOperation("Upload").
				WithContext("key", cleaned).
				WithCause(err)
		}
		if err := os.WriteFile(full+metaSuffix, meta, 0640); err != nil {
			return "", errors.NewError(errors.ErrCodeStorageWrite, "failed to write object metadata").
				WithComponent("local-backend").
				WithOperation("Upload").
				WithContext("key", cleaned).
				WithCause(err)
		}
	}

	b.logger.Debug("object stored", "key", cleaned, "size", len(payload))
	return "file://" + full, nil
}

// Download reads the full object. Missing keys fail with OBJECT_NOT_FOUND.
func (b *Backend) Download(ctx context.Context, key string) ([]byte, error) {
	cleaned, full, err := b.resolve(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return nil, b.translateReadError(err, "Download", cleaned)
	}
	return data, nil
}

// OpenStream returns a lazily consumed reader over the object. The caller
// owns closing it.
func (b *Backend) OpenStream(ctx context.Context, key string) (io.ReadCloser, error) {
	cleaned, full, err := b.resolve(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(full)
	if err != nil {
		return nil, b.translateReadError(err, "OpenStream", cleaned)
	}
	return f, nil
}

// Delete removes the object and its sidecar. Unlike the remote backend,
// deleting a missing key fails with OBJECT_NOT_FOUND.
func (b *Backend) Delete(ctx context.Context, key string) error {
	cleaned, full, err := b.resolve(key)
	if err != nil {
		return err
	}

	if err := os.Remove(full); err != nil {
		return b.translateReadError(err, "Delete", cleaned)
	}

	// Orphan sidecars are harmless; removal is best effort.
	_ = os.Remove(full + metaSuffix)

	return nil
}

// List walks the whole tree under the root and returns every object whose
// key starts with prefix (all objects when prefix is empty). Sidecar files
// never appear in the result.
func (b *Backend) List(ctx context.Context, prefix string) ([]types.ObjectInfo, error) {
	normalized := ""
	if prefix != "" {
		cleaned, err := utils.CleanKey(prefix)
		if err != nil {
			return nil, errors.NewError(errors.ErrCodePathInvalid, "invalid list prefix").
				WithComponent("local-backend").
				WithContext("prefix", prefix).
				WithCause(err)
		}
		normalized = cleaned
	}

	objects := make([]types.ObjectInfo, 0)
	err := filepath.WalkDir(b.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(b.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasSuffix(key, metaSuffix) {
			return nil
		}
		if normalized != "" && !strings.HasPrefix(key, normalized) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		obj := types.ObjectInfo{
			Key:          key,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		}
		if meta, ok := b.readSidecar(p); ok {
			obj.ContentType = meta.ContentType
			obj.Metadata = meta.Metadata
		}
		objects = append(objects, obj)
		return nil
	})
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeStorageRead, "failed to walk storage root").
			WithComponent("local-backend").
			WithOperation("List").
			WithContext("prefix", prefix).
			WithCause(err)
	}

	return objects, nil
}

// Exists reports whether the key resolves to a stored object. It never
// returns an error: invalid keys and filesystem failures all map to false.
func (b *Backend) Exists(ctx context.Context, key string) bool {
	_, full, err := b.resolve(key)
	if err != nil {
		return false
	}

	info, err := os.Stat(full)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// SignedURL fabricates a conventional localhost URL for the object without
// touching the filesystem or any network. The expiry is accepted for
// signature compatibility and ignored; the URL carries no credential.
func (b *Backend) SignedURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	cleaned, _, err := b.resolve(key)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("http://localhost:%d/files/%s", b.port, cleaned), nil
}

// Copy byte-copies the source object (and its sidecar, when present) to the
// destination key, creating destination directories as needed.
func (b *Backend) Copy(ctx context.Context, sourceKey, destKey string) error {
	srcClean, srcPath, err := b.resolve(sourceKey)
	if err != nil {
		return err
	}
	dstClean, dstPath, err := b.resolve(destKey)
	if err != nil {
		return err
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return b.translateReadError(err, "Copy", srcClean)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(dstPath), 0750); err != nil {
		return errors.NewError(errors.ErrCodeStorageWrite, "failed to create destination directory").
			WithComponent("local-backend").
			WithOperation("Copy").
			WithContext("key", dstClean).
			WithCause(err)
	}

	dst, err := os.Create(dstPath)
	if err != nil {
		return errors.NewError(errors.ErrCodeStorageWrite, "failed to create destination object").
			WithComponent("local-backend").
			WithOperation("Copy").
			WithContext("key", dstClean).
			WithCause(err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return errors.NewError(errors.ErrCodeStorageWrite, "failed to copy object bytes").
			WithComponent("local-backend").
			WithOperation("Copy").
			WithContext("source", srcClean).
			WithContext("destination", dstClean).
			WithCause(err)
	}

	if meta, err := os.ReadFile(srcPath + metaSuffix); err == nil {
		if err := os.WriteFile(dstPath+metaSuffix, meta, 0640); err != nil {
			return errors.NewError(errors.ErrCodeStorageWrite, "failed to copy object metadata").
				WithComponent("local-backend").
				WithOperation("Copy").
				WithContext("destination", dstClean).
				WithCause(err)
		}
	}

	return nil
}

func (b *Backend) readSidecar(objectPath string) (sidecar, bool) {
	data, err := os.ReadFile(objectPath + metaSuffix)
	if err != nil {
		return sidecar{}, false
	}
	var meta sidecar
	if err := json.Unmarshal(data, &meta); err != nil {
		return sidecar{}, false
	}
	return meta, true
}

func (b *Backend) translateReadError(err error, operation, key string) error {
	if os.IsNotExist(err) {
		return errors.NewError(errors.ErrCodeObjectNotFound, "object not found").
			WithComponent("local-backend").
			WithOperation(operation).
			WithContext("key", key).
			WithCause(err)
	}
	return errors.NewError(errors.ErrCodeStorageRead, "storage operation failed").
		WithComponent("local-backend").
		WithOperation(operation).
		WithContext("key", key).
		WithCause(err)
}
