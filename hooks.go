package swrcache

// Hooks are lightweight callbacks for high-signal events. Implementations
// MUST be cheap and non-blocking; the cache calls them on hot paths. Wrap
// with hooks/async for expensive sinks.
//
// A lost lock race is deliberately NOT an event: it is the expected outcome
// for every redundant regeneration attempt and carries no signal.
type Hooks interface {
	// A regeneration was handed to the scheduler for (key, group).
	RegenerationScheduled(key, group string)

	// The producer (or its codec/commit step) failed after winning the
	// lock. The lock is now waiting out its TTL; this is the failure sink
	// for alerting on broken producers.
	ProducerFailed(key, group, producer string, err error)

	// Lock acquisition or the scheduler enqueue failed; no regeneration
	// was scheduled for this read.
	ScheduleFailed(key, group string, err error)

	// DeleteGroup completed; removed reports whether anything was purged.
	GroupDeleted(group string, removed bool)
}

// NopHooks is the default no-op.
type NopHooks struct{}

func (NopHooks) RegenerationScheduled(string, string)         {}
func (NopHooks) ProducerFailed(string, string, string, error) {}
func (NopHooks) ScheduleFailed(string, string, error)         {}
func (NopHooks) GroupDeleted(string, bool)                    {}
