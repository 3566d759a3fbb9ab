package swrcache

import "time"

const (
	// DefaultLockTTL bounds how long a crashed or hung regeneration can
	// block new attempts for its key.
	DefaultLockTTL = time.Minute

	// defaultTTL applies when a Get passes ttl == 0.
	defaultTTL = 10 * time.Minute
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
