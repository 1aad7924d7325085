// Package cache implements the read-through cache engine: an in-memory
// directory of remote items, a per-item lifecycle state machine, single-flight
// existence probes and downloads with concurrent streaming readers, and a
// background expirer that bounds both the total size of downloaded bytes and
// the number of cached not-found answers.
//
// The engine owns its cache directory exclusively. It persists nothing but
// the payload files themselves; the in-memory directory is rebuilt on demand
// after a restart.
package cache
