// Package swrcache implements a stale-while-revalidate cache: the read
// path never blocks on recomputation. Warm values are returned
// immediately; cold or stale reads return the last-known value (or a miss)
// immediately while a single background regeneration is scheduled for
// subsequent readers.
//
// Components:
//   - Backend: group-scoped byte store with lock slots (Redis, Ristretto,
//     BigCache, SQLite). The only shared mutable resource; all coordination
//     crosses process boundaries through it.
//   - Codec[V]: (de)serializes V <-> []byte.
//   - Registry[V]: producers registered under stable names so an external
//     scheduler can re-invoke them after a process boundary.
//   - sched.Scheduler: runs deferred regenerations. In-process by default,
//     pluggable for distributed job systems.
//
// Lock protocol:
//
//	get (cold/stale) -> AddLock(token)   // atomic add; token returned regardless
//	scheduler        -> Verify(token)    // exactly one token ever verifies
//	verified winner  -> producer() -> Write (commits value, clears lock)
//	failed/crashed   -> lock self-expires after its TTL (default 60s)
//
// A record, once populated, is always returned to readers until replaced
// or purged: expiry reclassifies it as stale, it never deletes it.
package swrcache
