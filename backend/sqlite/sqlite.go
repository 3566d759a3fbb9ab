// Package sqlite implements the durable swrcache backend on a SQLite
// database. Values persist indefinitely in a plain kv table; because the
// table cannot express per-key TTL, freshness is tracked by a separate
// short-lived expiry marker row (scoped key + "_expiry") and locks are rows
// with their own deadline, both in a meta table. Group deletion is a
// pattern match over the keyspace and is guarded by an explicit
// registered-group set so a bulk delete cannot wipe unrelated persisted
// values that happen to share a prefix.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	be "github.com/unkn0wn-root/swrcache/backend"
	"github.com/unkn0wn-root/swrcache/internal/util"
)

// GroupNotRegisteredError is returned by DeleteGroup for groups that never
// opted into bulk deletion via RegisterGroup.
type GroupNotRegisteredError struct {
	Group string
}

func (e *GroupNotRegisteredError) Error() string {
	return "sqlite backend: group " + e.Group + " is not registered for deletion"
}

const schema = `
CREATE TABLE IF NOT EXISTS swr_record (
	record_key TEXT PRIMARY KEY,
	value      BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS swr_meta (
	meta_key   TEXT PRIMARY KEY,
	token      TEXT NOT NULL DEFAULT '',
	expires_at INTEGER NOT NULL
);
`

type Backend struct {
	db      *sql.DB
	closeDB bool
	now     func() time.Time

	// process-wide set of groups eligible for DeleteGroup
	mu     sync.RWMutex
	groups map[string]struct{}
}

var _ be.Backend = (*Backend)(nil)

type Config struct {
	// DSN is the SQLite data source, e.g. a file path or ":memory:".
	// Ignored when DB is set.
	DSN string
	// DB reuses an existing handle; the backend will not close it.
	DB *sql.DB
}

func New(cfg Config) (*Backend, error) {
	db := cfg.DB
	closeDB := false
	if db == nil {
		if cfg.DSN == "" {
			return nil, errors.New("sqlite backend: dsn or db handle required")
		}
		var err error
		db, err = sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, err
		}
		closeDB = true
	}
	if _, err := db.Exec(schema); err != nil {
		if closeDB {
			_ = db.Close()
		}
		return nil, err
	}
	return &Backend{
		db:      db,
		closeDB: closeDB,
		now:     time.Now,
		groups:  make(map[string]struct{}),
	}, nil
}

func (b *Backend) Read(ctx context.Context, key, group string) (be.Record, error) {
	sk := util.ScopedKey(group, key)

	var value []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT value FROM swr_record WHERE record_key = ?`, sk,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return be.Record{}, nil
	}
	if err != nil {
		return be.Record{}, err
	}

	// A missing marker reads as zero expiry: immediately stale, not absent.
	var expiresMS int64
	err = b.db.QueryRowContext(ctx,
		`SELECT expires_at FROM swr_meta WHERE meta_key = ?`, util.ExpiryKey(sk),
	).Scan(&expiresMS)
	if err != nil && err != sql.ErrNoRows {
		return be.Record{}, err
	}
	return be.Record{Value: value, Present: true, ExpiresAt: fromMS(expiresMS)}, nil
}

// Write commits value, refreshes the expiry marker, and clears the key's
// lock row in one transaction.
func (b *Backend) Write(ctx context.Context, key, group string, value []byte, ttl time.Duration) error {
	sk := util.ScopedKey(group, key)

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO swr_record (record_key, value) VALUES (?, ?)
		 ON CONFLICT(record_key) DO UPDATE SET value = excluded.value`,
		sk, value,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO swr_meta (meta_key, token, expires_at) VALUES (?, '', ?)
		 ON CONFLICT(meta_key) DO UPDATE SET token = '', expires_at = excluded.expires_at`,
		util.ExpiryKey(sk), b.now().Add(ttl).UnixMilli(),
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM swr_meta WHERE meta_key = ?`,
		util.ScopedKey(group, util.LockKey(key)),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// AddLock is a single upsert whose update clause only fires for expired
// rows, which makes "store if absent or expired" atomic at the database's
// granularity.
func (b *Backend) AddLock(ctx context.Context, lockKey, group, token string, ttl time.Duration) (bool, error) {
	now := b.now()
	res, err := b.db.ExecContext(ctx,
		`INSERT INTO swr_meta (meta_key, token, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(meta_key) DO UPDATE SET token = excluded.token, expires_at = excluded.expires_at
		 WHERE swr_meta.expires_at <= ?`,
		util.ScopedKey(group, lockKey), token, now.Add(ttl).UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (b *Backend) GetLock(ctx context.Context, lockKey, group string) (string, bool, error) {
	var (
		token     string
		expiresMS int64
	)
	err := b.db.QueryRowContext(ctx,
		`SELECT token, expires_at FROM swr_meta WHERE meta_key = ?`,
		util.ScopedKey(group, lockKey),
	).Scan(&token, &expiresMS)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if !b.now().Before(fromMS(expiresMS)) {
		return "", false, nil // expired lock reads as absent
	}
	return token, true, nil
}

func (b *Backend) Delete(ctx context.Context, key, group string) error {
	sk := util.ScopedKey(group, key)

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM swr_record WHERE record_key = ?`, sk,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM swr_meta WHERE meta_key IN (?, ?)`, sk, util.ExpiryKey(sk),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteGroup removes every record, marker, and lock under the group
// prefix. The group must have been registered first; returns true only if
// at least one row was removed.
func (b *Backend) DeleteGroup(ctx context.Context, group string) (bool, error) {
	b.mu.RLock()
	_, registered := b.groups[group]
	b.mu.RUnlock()
	if !registered {
		return false, &GroupNotRegisteredError{Group: group}
	}

	pattern := util.EscapeLike(util.GroupPrefix(group), '\\') + "%"

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var removed int64
	res, err := tx.ExecContext(ctx,
		`DELETE FROM swr_record WHERE record_key LIKE ? ESCAPE '\'`, pattern,
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	removed += n

	res, err = tx.ExecContext(ctx,
		`DELETE FROM swr_meta WHERE meta_key LIKE ? ESCAPE '\'`, pattern,
	)
	if err != nil {
		return false, err
	}
	n, _ = res.RowsAffected()
	removed += n

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return removed > 0, nil
}

func (b *Backend) RegisterGroup(_ context.Context, group string) (bool, error) {
	b.mu.Lock()
	b.groups[group] = struct{}{}
	b.mu.Unlock()
	return true, nil
}

func (b *Backend) Close(context.Context) error {
	if b.closeDB {
		return b.db.Close()
	}
	return nil
}

func fromMS(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
