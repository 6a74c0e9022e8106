// Package config produces the single validated configuration snapshot for a
// process.
//
// A Resolver loads configuration exactly once: values come from process
// environment variables in a local context (layered over documented defaults
// and an optional YAML file), or from an SSM parameter namespace plus a small
// set of Secrets Manager secrets in a cloud context. The merged raw values
// are validated field by field against the schema before any snapshot becomes
// visible; validation reports every violation together rather than failing on
// the first.
//
// Concurrent first loads share one in-flight fetch. After the first success,
// Load is a cached read and the snapshot is never mutated or re-resolved.
package config
