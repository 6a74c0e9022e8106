// Package storage exposes one object-storage interface with two backends
// selected by the configured provider: a local filesystem tree and an
// S3-compatible remote bucket. Behavior is backend-independent except for
// the documented Delete asymmetry.
package storage
