// Package backend defines the storage abstraction used by swrcache.
//
// A Backend is the only shared mutable resource in the design: every piece
// of cross-process coordination (stale reads, lock ownership, regeneration
// commits) goes through it. Two families of implementations exist:
//
//   - volatile: data and locks share one expiring key-value space
//     (redis, ristretto, bigcache).
//   - durable: values persist indefinitely; freshness and locks live in
//     separate short-lived entries (sqlite).
//
// Implementations MUST honor the retention invariant: a value written once
// is returned by Read until overwritten or group-deleted, regardless of how
// far past its expiry the read happens. Expiry only flips the record's
// freshness classification.
//
// AddLock is the single primitive allowed to race across processes; it must
// map to an atomic "store if absent or expired" at the store's native
// granularity, never a read-then-write pair.
package backend

import (
	"context"
	"time"
)

// Record is the result of a Read. Present=false means the key was never
// written (or was purged); ExpiresAt is the recorded expiry, zero when the
// backend has no freshness information for a present value.
type Record struct {
	Value     []byte
	Present   bool
	ExpiresAt time.Time
}

// Backend is a group-scoped byte store with lock slots.
// Must be safe for concurrent use.
type Backend interface {
	// Read returns the last written value and its recorded expiry,
	// independent of whether the expiry has passed.
	Read(ctx context.Context, key, group string) (Record, error)

	// Write stores value with expiry now+ttl and clears the lock slot for
	// (key, group) as part of the same logical operation, so a regeneration
	// commit is indivisible: new data visible and lock cleared together.
	Write(ctx context.Context, key, group string, value []byte, ttl time.Duration) error

	// AddLock stores token under lockKey only if no live lock exists there.
	// Returns whether the store happened.
	AddLock(ctx context.Context, lockKey, group, token string, ttl time.Duration) (bool, error)

	// GetLock returns the stored token; ok=false when the slot is absent or
	// its deadline has passed. Locks have no retention.
	GetLock(ctx context.Context, lockKey, group string) (token string, ok bool, err error)

	// Delete removes a key (value, expiry marker, or lock slot).
	Delete(ctx context.Context, key, group string) error

	// DeleteGroup bulk-removes every record and lock scoped to group.
	// Returns false when nothing was removed or the backend cannot
	// enumerate its keyspace.
	DeleteGroup(ctx context.Context, group string) (bool, error)

	// RegisterGroup marks a group eligible for DeleteGroup. Volatile
	// backends may report success without tracking anything.
	RegisterGroup(ctx context.Context, group string) (bool, error)

	// Close releases resources.
	Close(ctx context.Context) error
}
