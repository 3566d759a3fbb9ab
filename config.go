package swrcache

import (
	be "github.com/unkn0wn-root/swrcache/backend"
	bigcachebe "github.com/unkn0wn-root/swrcache/backend/bigcache"
	redisbe "github.com/unkn0wn-root/swrcache/backend/redis"
	ristrettobe "github.com/unkn0wn-root/swrcache/backend/ristretto"
	sqlitebe "github.com/unkn0wn-root/swrcache/backend/sqlite"
)

// BackendKind is the closed enumeration of storage backends. Selection is
// resolved once at configuration time; there is no string-keyed or
// reflective factory.
type BackendKind int

const (
	BackendRedis BackendKind = iota + 1
	BackendRistretto
	BackendBigCache
	BackendSQLite
)

func (k BackendKind) String() string {
	switch k {
	case BackendRedis:
		return "redis"
	case BackendRistretto:
		return "ristretto"
	case BackendBigCache:
		return "bigcache"
	case BackendSQLite:
		return "sqlite"
	default:
		return "unknown"
	}
}

// BackendConfig pairs a kind with its constructor input. Only the field
// matching Kind is consulted.
type BackendConfig struct {
	Kind BackendKind

	Redis     redisbe.Config
	Ristretto ristrettobe.Config
	BigCache  bigcachebe.Config
	SQLite    sqlitebe.Config
}

// OpenBackend dispatches on the kind enumeration. Unknown kinds fail fast
// with *UnknownBackendKindError and are never retried.
func OpenBackend(cfg BackendConfig) (be.Backend, error) {
	switch cfg.Kind {
	case BackendRedis:
		return redisbe.New(cfg.Redis)
	case BackendRistretto:
		return ristrettobe.New(cfg.Ristretto)
	case BackendBigCache:
		return bigcachebe.New(cfg.BigCache)
	case BackendSQLite:
		return sqlitebe.New(cfg.SQLite)
	default:
		return nil, &UnknownBackendKindError{Kind: cfg.Kind}
	}
}
