package swrcache

import (
	"context"
	"time"

	be "github.com/unkn0wn-root/swrcache/backend"
	co "github.com/unkn0wn-root/swrcache/codec"
	"github.com/unkn0wn-root/swrcache/sched"
)

// Cache is the revalidation orchestrator: a read entry point that never
// waits on recomputation, and a regeneration entry point invoked later by
// the scheduler. V is the caller's value type; serialization is handled by
// a pluggable Codec[V].
type Cache[V any] interface {
	Enabled() bool
	Close(context.Context) error

	// Get returns the cached value for (key, group). Warm values return
	// immediately with no scheduling. Cold or stale reads return the
	// last-known value as-is (ok=false when nothing was ever written) and
	// unconditionally schedule one regeneration attempt naming the given
	// producer; redundant attempts for the same key collapse at lock
	// verification. ttl=0 uses Options.DefaultTTL.
	Get(ctx context.Context, key, group, producer string, args []byte, ttl time.Duration) (v V, ok bool, err error)

	// RunRegeneration executes one scheduled job: verify lock ownership,
	// invoke the producer, commit the result. Losing the race returns nil;
	// a producer failure returns *ProducerError and leaves the lock to
	// self-expire. Called by the scheduler, never by Get.
	RunRegeneration(ctx context.Context, job sched.Job) error

	// RegisterProducer adds a named producer to the cache's registry.
	RegisterProducer(name string, p Producer[V]) error

	// RegisterGroup marks a group eligible for DeleteGroup.
	RegisterGroup(ctx context.Context, group string) (bool, error)

	// DeleteGroup bulk-purges every record and lock of the group (e.g. on
	// "settings saved" invalidation triggers). Returns whether anything
	// was removed.
	DeleteGroup(ctx context.Context, group string) (bool, error)
}

// Options tune the orchestrator. Backend and Codec are required; everything
// else has defaults.
type Options[V any] struct {
	// Required
	Backend be.Backend
	Codec   co.Codec[V]

	// Scheduler runs deferred regenerations. nil => an in-process
	// sched.Local owned (and closed) by the cache.
	Scheduler sched.Scheduler
	// Registry of named producers. nil => a fresh empty registry.
	Registry *Registry[V]

	Logger     Logger        // nil => NopLogger
	Hooks      Hooks         // nil => NopHooks
	LockTTL    time.Duration // 0 => DefaultLockTTL (60s)
	DefaultTTL time.Duration // used when Get passes ttl=0; 0 => 10m
	Disabled   bool          // default false (enabled)
}

func New[V any](opts Options[V]) (Cache[V], error) {
	return newCache[V](opts)
}
