package swrcache

import (
	"time"

	"github.com/unkn0wn-root/swrcache/backend"
)

// IsWarm reports whether a stored record can be served without scheduling a
// regeneration: a value must be present and now strictly before its expiry.
// A record whose expiry equals now exactly is stale. Pure, no I/O.
func IsWarm(rec backend.Record, now time.Time) bool {
	return rec.Present && now.Before(rec.ExpiresAt)
}
