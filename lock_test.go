package swrcache

import (
	"context"
	"sync"
	"testing"
	"time"
)

func newTestLocks(clock *fakeClock, ttl time.Duration) (*lockCoordinator, *memBackend) {
	mb := newMemBackend(clock)
	return newLockCoordinator(mb, ttl), mb
}

// Under K concurrent acquires for one slot, exactly one token verifies.
func TestAtMostOneTokenVerifies(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	locks, _ := newTestLocks(clock, time.Minute)

	const k = 64
	tokens := make([]string, k)
	var wg sync.WaitGroup
	wg.Add(k)
	for i := 0; i < k; i++ {
		go func(i int) {
			defer wg.Done()
			tok, _, err := locks.Acquire(ctx, "lock_widgets", "g")
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			tokens[i] = tok
		}(i)
	}
	wg.Wait()

	owners := 0
	for _, tok := range tokens {
		if tok == "" {
			t.Fatalf("every acquire must return a token")
		}
		ok, err := locks.Verify(ctx, "lock_widgets", tok, "g")
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
		if ok {
			owners++
		}
	}
	if owners != 1 {
		t.Fatalf("expected exactly one owner, got %d", owners)
	}
}

// A token is returned even when the add loses; it can never verify.
func TestLosingAcquireStillReturnsToken(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	locks, _ := newTestLocks(clock, time.Minute)

	winner, stored, err := locks.Acquire(ctx, "lock_k", "")
	if err != nil || !stored {
		t.Fatalf("first acquire: stored=%v err=%v", stored, err)
	}
	loser, stored, err := locks.Acquire(ctx, "lock_k", "")
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if stored {
		t.Fatalf("second acquire must lose while the lock is live")
	}
	if loser == "" || loser == winner {
		t.Fatalf("loser token must be fresh and distinct")
	}

	if ok, _ := locks.Verify(ctx, "lock_k", loser, ""); ok {
		t.Fatalf("loser token must not verify")
	}
	if ok, _ := locks.Verify(ctx, "lock_k", winner, ""); !ok {
		t.Fatalf("winner token must verify")
	}
}

// Self-healing: an unreleased lock blocks new owners only until its TTL.
func TestLockSelfExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	locks, _ := newTestLocks(clock, time.Minute)

	crashed, stored, _ := locks.Acquire(ctx, "lock_k", "")
	if !stored {
		t.Fatalf("first acquire should store")
	}
	// Simulated crash: no write, no release. Before the TTL nobody wins.
	clock.Advance(30 * time.Second)
	if _, stored, _ = locks.Acquire(ctx, "lock_k", ""); stored {
		t.Fatalf("acquire must fail while crashed lock is live")
	}

	clock.Advance(31 * time.Second)
	fresh, stored, _ := locks.Acquire(ctx, "lock_k", "")
	if !stored {
		t.Fatalf("acquire must succeed after TTL elapsed")
	}
	if ok, _ := locks.Verify(ctx, "lock_k", crashed, ""); ok {
		t.Fatalf("crashed owner must not verify after expiry")
	}
	if ok, _ := locks.Verify(ctx, "lock_k", fresh, ""); !ok {
		t.Fatalf("new owner must verify")
	}
}

func TestReleaseFreesSlot(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	locks, _ := newTestLocks(clock, time.Minute)

	tok, _, _ := locks.Acquire(ctx, "lock_k", "g")
	if err := locks.Release(ctx, "lock_k", "g"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if ok, _ := locks.Verify(ctx, "lock_k", tok, "g"); ok {
		t.Fatalf("released lock must not verify")
	}
	if _, stored, _ := locks.Acquire(ctx, "lock_k", "g"); !stored {
		t.Fatalf("slot must be free after release")
	}
}

// Lock slots are scoped per group: same key, different groups, no contention.
func TestLockGroupScoping(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	locks, _ := newTestLocks(clock, time.Minute)

	if _, stored, _ := locks.Acquire(ctx, "lock_k", "a"); !stored {
		t.Fatalf("group a acquire should store")
	}
	if _, stored, _ := locks.Acquire(ctx, "lock_k", "b"); !stored {
		t.Fatalf("group b acquire should store independently")
	}
}
