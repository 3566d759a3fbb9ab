// Package ristretto implements a local volatile swrcache backend for
// single-process deployments. Records live in a ristretto cache so memory
// pressure is handled by its admission/eviction policy; lock slots live in
// a small guarded table because conditional add must be atomic and
// ristretto's buffered writes are not.
package ristretto

import (
	"context"
	"errors"
	"sync"
	"time"

	rc "github.com/dgraph-io/ristretto"

	be "github.com/unkn0wn-root/swrcache/backend"
	"github.com/unkn0wn-root/swrcache/internal/util"
	"github.com/unkn0wn-root/swrcache/internal/wire"
)

type lockSlot struct {
	token    string
	deadline time.Time
}

type Backend struct {
	c   *rc.Cache
	now func() time.Time

	mu    sync.Mutex
	locks map[string]lockSlot
}

var _ be.Backend = (*Backend)(nil)

type Config struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	Metrics     bool
}

func New(cfg Config) (*Backend, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Backend{c: c, now: time.Now, locks: make(map[string]lockSlot)}, nil
}

func (b *Backend) Read(_ context.Context, key, group string) (be.Record, error) {
	sk := util.ScopedKey(group, key)
	v, ok := b.c.Get(sk)
	if !ok {
		return be.Record{}, nil
	}
	raw, _ := v.([]byte)
	if raw == nil {
		// unexpected entry shape; drop
		b.c.Del(sk)
		return be.Record{}, nil
	}
	expiresAt, payload, err := wire.DecodeRecord(raw)
	if err != nil {
		b.c.Del(sk)
		return be.Record{}, nil
	}
	return be.Record{Value: payload, Present: true, ExpiresAt: expiresAt}, nil
}

func (b *Backend) Write(_ context.Context, key, group string, value []byte, ttl time.Duration) error {
	sk := util.ScopedKey(group, key)
	raw := wire.EncodeRecord(b.now().Add(ttl), value)

	// No store TTL: the record stays until evicted or overwritten. Wait
	// makes the write visible to an immediate re-read.
	b.c.Set(sk, raw, int64(len(raw)))
	b.c.Wait()

	b.mu.Lock()
	delete(b.locks, util.ScopedKey(group, util.LockKey(key)))
	b.mu.Unlock()
	return nil
}

func (b *Backend) AddLock(_ context.Context, lockKey, group, token string, ttl time.Duration) (bool, error) {
	sk := util.ScopedKey(group, lockKey)
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.locks[sk]; ok && now.Before(s.deadline) {
		return false, nil // live lock already held
	}
	b.locks[sk] = lockSlot{token: token, deadline: now.Add(ttl)}
	return true, nil
}

func (b *Backend) GetLock(_ context.Context, lockKey, group string) (string, bool, error) {
	sk := util.ScopedKey(group, lockKey)

	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.locks[sk]
	if !ok || !b.now().Before(s.deadline) {
		return "", false, nil
	}
	return s.token, true, nil
}

func (b *Backend) Delete(_ context.Context, key, group string) error {
	sk := util.ScopedKey(group, key)
	b.c.Del(sk)
	b.mu.Lock()
	delete(b.locks, sk)
	b.mu.Unlock()
	return nil
}

// DeleteGroup is unsupported: ristretto cannot enumerate its keyspace.
func (b *Backend) DeleteGroup(context.Context, string) (bool, error) {
	return false, nil
}

func (b *Backend) RegisterGroup(context.Context, string) (bool, error) {
	return true, nil
}

func (b *Backend) Close(context.Context) error {
	b.c.Wait()
	b.c.Close()
	return nil
}

// Metrics exposes ristretto metrics (not part of backend.Backend).
func (b *Backend) Metrics() *rc.Metrics { return b.c.Metrics }
