// Package redis implements the volatile swrcache backend on a Redis
// cluster. Records and lock slots share one keyspace under the "swr:"
// prefix; locks use the server's native SET NX with TTL, which is the
// atomic conditional add the protocol depends on.
package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	be "github.com/unkn0wn-root/swrcache/backend"
	"github.com/unkn0wn-root/swrcache/internal/util"
	"github.com/unkn0wn-root/swrcache/internal/wire"
)

var ErrNilClient = errors.New("redis backend: nil client")

const (
	keyPrefix = "swr:"
	scanBatch = 200
)

type Redis struct {
	rdb         goredis.UniversalClient
	closeClient bool
	now         func() time.Time
}

var _ be.Backend = (*Redis)(nil)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this backend exclusively owns the client
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Redis{rdb: cfg.Client, closeClient: cfg.CloseClient, now: time.Now}, nil
}

func (b *Redis) storageKey(group, key string) string {
	return keyPrefix + util.ScopedKey(group, key)
}

func (b *Redis) Read(ctx context.Context, key, group string) (be.Record, error) {
	raw, err := b.rdb.Get(ctx, b.storageKey(group, key)).Bytes()
	if err == goredis.Nil {
		return be.Record{}, nil // never written
	}
	if err != nil {
		return be.Record{}, err // transport/server error
	}
	expiresAt, payload, err := wire.DecodeRecord(raw)
	if err != nil {
		// self-heal corrupt entry
		_ = b.rdb.Del(ctx, b.storageKey(group, key)).Err()
		return be.Record{}, nil
	}
	return be.Record{Value: payload, Present: true, ExpiresAt: expiresAt}, nil
}

// Write stores the record without a Redis TTL (retention: expiry is a
// classification carried inside the envelope, not a deletion) and clears
// the key's lock slot in the same pipeline.
func (b *Redis) Write(ctx context.Context, key, group string, value []byte, ttl time.Duration) error {
	raw := wire.EncodeRecord(b.now().Add(ttl), value)
	_, err := b.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Set(ctx, b.storageKey(group, key), raw, 0)
		p.Del(ctx, b.storageKey(group, util.LockKey(key)))
		return nil
	})
	return err
}

func (b *Redis) AddLock(ctx context.Context, lockKey, group, token string, ttl time.Duration) (bool, error) {
	return b.rdb.SetNX(ctx, b.storageKey(group, lockKey), token, ttl).Result()
}

func (b *Redis) GetLock(ctx context.Context, lockKey, group string) (string, bool, error) {
	token, err := b.rdb.Get(ctx, b.storageKey(group, lockKey)).Result()
	if err == goredis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return token, true, nil
}

func (b *Redis) Delete(ctx context.Context, key, group string) error {
	return b.rdb.Del(ctx, b.storageKey(group, key)).Err()
}

// DeleteGroup flushes the group's slice of the keyspace with SCAN+DEL.
// Returns true only if at least one key was removed.
func (b *Redis) DeleteGroup(ctx context.Context, group string) (bool, error) {
	pattern := keyPrefix + globEscape(util.GroupPrefix(group)) + "*"

	var (
		cursor  uint64
		removed int64
	)
	for {
		keys, next, err := b.rdb.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return removed > 0, err
		}
		if len(keys) > 0 {
			n, err := b.rdb.Del(ctx, keys...).Result()
			removed += n
			if err != nil {
				return removed > 0, err
			}
		}
		cursor = next
		if cursor == 0 {
			return removed > 0, nil
		}
	}
}

// RegisterGroup is a no-op success: the keyspace flush above needs no
// prior registration.
func (b *Redis) RegisterGroup(context.Context, string) (bool, error) {
	return true, nil
}

// Close releases the underlying redis client only when this backend owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (b *Redis) Close(context.Context) error {
	if b.closeClient {
		if err := b.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

// globEscape neutralizes SCAN MATCH metacharacters in a group name.
func globEscape(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			sb.WriteRune('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
