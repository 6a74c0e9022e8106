// Package types defines the shared value types exchanged between the storage
// facade and its callers: object descriptors produced by listing and the
// options accepted on upload. The types here are plain data with no behavior
// so both storage backends and external callers can depend on them without
// pulling in backend implementations.
package types
