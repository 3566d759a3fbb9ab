package swrcache

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/swrcache/backend"
)

// lockCoordinator owns the acquire/verify/release protocol. It is built
// strictly on the backend's atomic conditional add: under N concurrent
// Acquire calls for one lock slot within a TTL window, only the first add
// stores anything, so exactly one of the N minted tokens can ever pass
// Verify.
type lockCoordinator struct {
	be  backend.Backend
	ttl time.Duration

	// token mint; overridable in tests
	newToken func() string
}

func newLockCoordinator(be backend.Backend, ttl time.Duration) *lockCoordinator {
	return &lockCoordinator{be: be, ttl: ttl, newToken: uuid.NewString}
}

// Acquire mints a fresh random token and attempts the conditional add. The
// token is returned regardless of whether the add stored: callers schedule
// a regeneration attempt either way, and a losing attempt becomes a no-op
// at Verify. stored is informational only; it never implies ownership.
func (l *lockCoordinator) Acquire(ctx context.Context, lockKey, group string) (token string, stored bool, err error) {
	token = l.newToken()
	stored, err = l.be.AddLock(ctx, lockKey, group, token, l.ttl)
	return token, stored, err
}

// Verify is the single authority for regeneration ownership: true only if a
// live lock exists at the slot AND its stored token equals the supplied
// one. An attempt failing Verify must exit without side effects.
func (l *lockCoordinator) Verify(ctx context.Context, lockKey, token, group string) (bool, error) {
	cur, ok, err := l.be.GetLock(ctx, lockKey, group)
	if err != nil || !ok {
		return false, err
	}
	return cur == token, nil
}

// Release deletes the lock unconditionally. A successful Write clears the
// lock itself, so Release is only needed for explicit teardown.
func (l *lockCoordinator) Release(ctx context.Context, lockKey, group string) error {
	return l.be.Delete(ctx, lockKey, group)
}
