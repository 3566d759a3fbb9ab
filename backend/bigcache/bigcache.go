// Package bigcache implements a local volatile swrcache backend on
// allegro/bigcache. BigCache has no per-entry TTL, so records and lock
// slots both carry their own deadline inside the wire envelope; the global
// LifeWindow acts as the store's eviction horizon and should comfortably
// exceed the longest cache TTL in use.
package bigcache

import (
	"context"
	"strings"
	"sync"
	"time"

	bc "github.com/allegro/bigcache/v3"

	be "github.com/unkn0wn-root/swrcache/backend"
	"github.com/unkn0wn-root/swrcache/internal/util"
	"github.com/unkn0wn-root/swrcache/internal/wire"
)

type Backend struct {
	c   *bc.BigCache
	now func() time.Time

	// serializes the check-then-store of AddLock; bigcache has no native
	// conditional add.
	mu sync.Mutex
}

var _ be.Backend = (*Backend)(nil)

type Config struct {
	LifeWindow         time.Duration
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
}

func New(cfg Config) (*Backend, error) {
	conf := bc.DefaultConfig(cfg.LifeWindow)
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.NewBigCache(conf)
	if err != nil {
		return nil, err
	}
	return &Backend{c: c, now: time.Now}, nil
}

func (b *Backend) Read(_ context.Context, key, group string) (be.Record, error) {
	sk := util.ScopedKey(group, key)
	raw, err := b.c.Get(sk)
	if err == bc.ErrEntryNotFound {
		return be.Record{}, nil
	}
	if err != nil {
		return be.Record{}, err
	}
	expiresAt, payload, derr := wire.DecodeRecord(raw)
	if derr != nil {
		_ = b.c.Delete(sk) // self-heal
		return be.Record{}, nil
	}
	return be.Record{Value: payload, Present: true, ExpiresAt: expiresAt}, nil
}

func (b *Backend) Write(_ context.Context, key, group string, value []byte, ttl time.Duration) error {
	sk := util.ScopedKey(group, key)
	if err := b.c.Set(sk, wire.EncodeRecord(b.now().Add(ttl), value)); err != nil {
		return err
	}
	if err := b.c.Delete(util.ScopedKey(group, util.LockKey(key))); err != nil && err != bc.ErrEntryNotFound {
		return err
	}
	return nil
}

func (b *Backend) AddLock(_ context.Context, lockKey, group, token string, ttl time.Duration) (bool, error) {
	sk := util.ScopedKey(group, lockKey)
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()
	if raw, err := b.c.Get(sk); err == nil {
		if deadline, _, derr := wire.DecodeLock(raw); derr == nil && now.Before(deadline) {
			return false, nil // live lock already held
		}
	}
	if err := b.c.Set(sk, wire.EncodeLock(now.Add(ttl), token)); err != nil {
		return false, err
	}
	return true, nil
}

func (b *Backend) GetLock(_ context.Context, lockKey, group string) (string, bool, error) {
	raw, err := b.c.Get(util.ScopedKey(group, lockKey))
	if err == bc.ErrEntryNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	deadline, token, derr := wire.DecodeLock(raw)
	if derr != nil || !b.now().Before(deadline) {
		return "", false, nil
	}
	return token, true, nil
}

func (b *Backend) Delete(_ context.Context, key, group string) error {
	if err := b.c.Delete(util.ScopedKey(group, key)); err != nil && err != bc.ErrEntryNotFound {
		return err
	}
	return nil
}

// DeleteGroup walks the keyspace and removes every entry under the group
// prefix. Returns true only if at least one entry was removed.
func (b *Backend) DeleteGroup(_ context.Context, group string) (bool, error) {
	prefix := util.GroupPrefix(group)

	var victims []string
	it := b.c.Iterator()
	for it.SetNext() {
		entry, err := it.Value()
		if err != nil {
			continue // entry evicted mid-iteration
		}
		if strings.HasPrefix(entry.Key(), prefix) {
			victims = append(victims, entry.Key())
		}
	}

	removed := 0
	for _, k := range victims {
		if err := b.c.Delete(k); err == nil {
			removed++
		}
	}
	return removed > 0, nil
}

func (b *Backend) RegisterGroup(context.Context, string) (bool, error) {
	return true, nil
}

func (b *Backend) Close(context.Context) error {
	return b.c.Close()
}
