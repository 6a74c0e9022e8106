package types

import "time"

// ObjectInfo describes an object discovered via listing or a head request.
// It is produced transiently; the backend owns persistence.
type ObjectInfo struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size"`
	LastModified time.Time         `json:"last_modified"`
	ETag         string            `json:"etag,omitempty"`
	ContentType  string            `json:"content_type,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// UploadOptions carries the optional attributes of an upload. The remote
// backend passes them as native object metadata/ACL; the local backend
// persists them in a sidecar file since the filesystem has no metadata slot.
type UploadOptions struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Public      bool              `json:"public,omitempty"`
}
