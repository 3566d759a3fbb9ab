package swrcache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	be "github.com/unkn0wn-root/swrcache/backend"
	co "github.com/unkn0wn-root/swrcache/codec"
	"github.com/unkn0wn-root/swrcache/internal/util"
	"github.com/unkn0wn-root/swrcache/sched"
)

// ==============================
// Test fixtures
// ==============================

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type memRecord struct {
	value     []byte
	expiresAt time.Time
}

type memLock struct {
	token    string
	deadline time.Time
}

// memBackend honors the backend contract in memory: records are retained
// past expiry, locks self-expire, AddLock is atomic under its mutex.
type memBackend struct {
	mu      sync.Mutex
	records map[string]memRecord
	locks   map[string]memLock
	now     func() time.Time
}

var _ be.Backend = (*memBackend)(nil)

func newMemBackend(clock *fakeClock) *memBackend {
	return &memBackend{
		records: make(map[string]memRecord),
		locks:   make(map[string]memLock),
		now:     clock.Now,
	}
}

func (m *memBackend) Read(_ context.Context, key, group string) (be.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[util.ScopedKey(group, key)]
	if !ok {
		return be.Record{}, nil
	}
	return be.Record{Value: r.value, Present: true, ExpiresAt: r.expiresAt}, nil
}

func (m *memBackend) Write(_ context.Context, key, group string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[util.ScopedKey(group, key)] = memRecord{value: value, expiresAt: m.now().Add(ttl)}
	delete(m.locks, util.ScopedKey(group, util.LockKey(key)))
	return nil
}

func (m *memBackend) AddLock(_ context.Context, lockKey, group, token string, ttl time.Duration) (bool, error) {
	sk := util.ScopedKey(group, lockKey)
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[sk]; ok && now.Before(l.deadline) {
		return false, nil
	}
	m.locks[sk] = memLock{token: token, deadline: now.Add(ttl)}
	return true, nil
}

func (m *memBackend) GetLock(_ context.Context, lockKey, group string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[util.ScopedKey(group, lockKey)]
	if !ok || !m.now().Before(l.deadline) {
		return "", false, nil
	}
	return l.token, true, nil
}

func (m *memBackend) Delete(_ context.Context, key, group string) error {
	sk := util.ScopedKey(group, key)
	m.mu.Lock()
	delete(m.records, sk)
	delete(m.locks, sk)
	m.mu.Unlock()
	return nil
}

func (m *memBackend) DeleteGroup(_ context.Context, group string) (bool, error) {
	prefix := util.GroupPrefix(group)
	removed := 0
	m.mu.Lock()
	for k := range m.records {
		if strings.HasPrefix(k, prefix) {
			delete(m.records, k)
			removed++
		}
	}
	for k := range m.locks {
		if strings.HasPrefix(k, prefix) {
			delete(m.locks, k)
			removed++
		}
	}
	m.mu.Unlock()
	return removed > 0, nil
}

func (m *memBackend) RegisterGroup(context.Context, string) (bool, error) { return true, nil }
func (m *memBackend) Close(context.Context) error                        { return nil }

// manualScheduler records jobs; tests deliver them explicitly.
type manualScheduler struct {
	mu   sync.Mutex
	jobs []sched.Job
}

var _ sched.Scheduler = (*manualScheduler)(nil)

func (s *manualScheduler) Enqueue(_ context.Context, job sched.Job, _ time.Time) error {
	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()
	return nil
}

func (s *manualScheduler) take() []sched.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.jobs
	s.jobs = nil
	return out
}

type widgets struct {
	Count int `json:"count"`
}

func newTestCache(t *testing.T, mb be.Backend, sch sched.Scheduler, optsOpt func(*Options[widgets])) Cache[widgets] {
	t.Helper()
	opts := Options[widgets]{
		Backend:   mb,
		Codec:     co.JSON[widgets]{},
		Scheduler: sch,
	}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	cc, err := New[widgets](opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return cc
}

func mustImpl(t *testing.T, c Cache[widgets]) *cache[widgets] {
	t.Helper()
	impl, ok := c.(*cache[widgets])
	if !ok {
		t.Fatalf("unexpected concrete type for Cache")
	}
	return impl
}

func withClock(t *testing.T, c Cache[widgets], clock *fakeClock) {
	t.Helper()
	mustImpl(t, c).now = clock.Now
}

// ==============================
// Read path: cold, warm, stale
// ==============================

// TestColdWarmStaleScenario walks the full lifecycle: cold miss schedules a
// regeneration, the committed value serves warm, and after the TTL elapses
// the stale value is still served while a new regeneration is scheduled.
func TestColdWarmStaleScenario(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	mb := newMemBackend(clock)
	sc := &manualScheduler{}
	cc := newTestCache(t, mb, sc, nil)
	defer cc.Close(ctx)
	withClock(t, cc, clock)

	if err := cc.RegisterProducer("count_widgets", func(context.Context, []byte) (widgets, error) {
		return widgets{Count: 5}, nil
	}); err != nil {
		t.Fatalf("RegisterProducer: %v", err)
	}

	// Cold: miss, one job scheduled.
	v, ok, err := cc.Get(ctx, "widgets", "", "count_widgets", nil, 300*time.Second)
	if err != nil || ok {
		t.Fatalf("cold Get: ok=%v err=%v v=%v", ok, err, v)
	}
	jobs := sc.take()
	if len(jobs) != 1 {
		t.Fatalf("cold Get should schedule exactly one job, got %d", len(jobs))
	}
	if jobs[0].Producer != "count_widgets" || jobs[0].Key != "widgets" || jobs[0].Token == "" {
		t.Fatalf("bad job: %+v", jobs[0])
	}

	// Scheduler fires: regeneration commits.
	if err := cc.RunRegeneration(ctx, jobs[0]); err != nil {
		t.Fatalf("RunRegeneration: %v", err)
	}

	// Warm: value served, nothing scheduled.
	v, ok, err = cc.Get(ctx, "widgets", "", "count_widgets", nil, 300*time.Second)
	if err != nil || !ok || v.Count != 5 {
		t.Fatalf("warm Get: ok=%v err=%v v=%v", ok, err, v)
	}
	if got := sc.take(); len(got) != 0 {
		t.Fatalf("warm Get must not schedule, got %d jobs", len(got))
	}

	// 301s later: stale value still served, new regeneration scheduled.
	clock.Advance(301 * time.Second)
	v, ok, err = cc.Get(ctx, "widgets", "", "count_widgets", nil, 300*time.Second)
	if err != nil || !ok || v.Count != 5 {
		t.Fatalf("stale Get should serve last value: ok=%v err=%v v=%v", ok, err, v)
	}
	if got := sc.take(); len(got) != 1 {
		t.Fatalf("stale Get should schedule one job, got %d", len(got))
	}
}

// Exact-expiry reads are stale, not warm.
func TestExpiryBoundaryIsStale(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	mb := newMemBackend(clock)
	sc := &manualScheduler{}
	cc := newTestCache(t, mb, sc, nil)
	defer cc.Close(ctx)
	withClock(t, cc, clock)

	_ = cc.RegisterProducer("p", func(context.Context, []byte) (widgets, error) {
		return widgets{Count: 1}, nil
	})
	_, _, _ = cc.Get(ctx, "k", "", "p", nil, time.Minute)
	for _, j := range sc.take() {
		if err := cc.RunRegeneration(ctx, j); err != nil {
			t.Fatalf("RunRegeneration: %v", err)
		}
	}

	clock.Advance(time.Minute) // now == expiresAt exactly
	if _, ok, err := cc.Get(ctx, "k", "", "p", nil, time.Minute); err != nil || !ok {
		t.Fatalf("boundary Get: ok=%v err=%v", ok, err)
	}
	if got := sc.take(); len(got) != 1 {
		t.Fatalf("boundary read is stale and must schedule, got %d jobs", len(got))
	}
}

// Retention: a populated record survives arbitrarily far past its expiry.
func TestRetentionPastExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	mb := newMemBackend(clock)
	sc := &manualScheduler{}
	cc := newTestCache(t, mb, sc, nil)
	defer cc.Close(ctx)
	withClock(t, cc, clock)

	_ = cc.RegisterProducer("p", func(context.Context, []byte) (widgets, error) {
		return widgets{Count: 9}, nil
	})
	_, _, _ = cc.Get(ctx, "k", "g", "p", nil, time.Second)
	for _, j := range sc.take() {
		_ = cc.RunRegeneration(ctx, j)
	}

	clock.Advance(30 * 24 * time.Hour)
	rec, err := mb.Read(ctx, "k", "g")
	if err != nil || !rec.Present {
		t.Fatalf("record must be retained: present=%v err=%v", rec.Present, err)
	}
	if v, ok, err := cc.Get(ctx, "k", "g", "p", nil, time.Second); err != nil || !ok || v.Count != 9 {
		t.Fatalf("stale read after a month: ok=%v err=%v v=%v", ok, err, v)
	}
}

// ==============================
// Regeneration protocol
// ==============================

// Every cold/stale Get schedules, but only the first minted token wins;
// loser jobs are silent no-ops and do not invoke the producer.
func TestRedundantJobsCollapseAtVerify(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	mb := newMemBackend(clock)
	sc := &manualScheduler{}
	cc := newTestCache(t, mb, sc, nil)
	defer cc.Close(ctx)
	withClock(t, cc, clock)

	var calls int
	_ = cc.RegisterProducer("p", func(context.Context, []byte) (widgets, error) {
		calls++
		return widgets{Count: calls}, nil
	})

	// Two concurrent cold reads: two jobs, two distinct tokens.
	_, _, _ = cc.Get(ctx, "k", "", "p", nil, time.Minute)
	_, _, _ = cc.Get(ctx, "k", "", "p", nil, time.Minute)
	jobs := sc.take()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].Token == jobs[1].Token {
		t.Fatalf("tokens must be unique per acquire")
	}

	// Loser first: no-op, no producer call.
	if err := cc.RunRegeneration(ctx, jobs[1]); err != nil {
		t.Fatalf("loser run: %v", err)
	}
	if calls != 0 {
		t.Fatalf("loser must not invoke producer")
	}

	// Winner commits.
	if err := cc.RunRegeneration(ctx, jobs[0]); err != nil {
		t.Fatalf("winner run: %v", err)
	}
	if calls != 1 {
		t.Fatalf("winner should invoke producer once, got %d", calls)
	}

	// Replaying the winner after commit is also a no-op (lock consumed).
	if err := cc.RunRegeneration(ctx, jobs[0]); err != nil {
		t.Fatalf("replay run: %v", err)
	}
	if calls != 1 {
		t.Fatalf("replay must not invoke producer again, got %d", calls)
	}
}

// A failing producer writes nothing and leaves the lock to self-expire;
// after the TTL a new attempt can win.
func TestProducerFailureSelfHeals(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	mb := newMemBackend(clock)
	sc := &manualScheduler{}

	var failures []error
	cc := newTestCache(t, mb, sc, func(o *Options[widgets]) {
		o.Hooks = &recordingHooks{producerFailed: &failures}
	})
	defer cc.Close(ctx)
	withClock(t, cc, clock)

	boom := errors.New("upstream down")
	broken := true
	_ = cc.RegisterProducer("p", func(context.Context, []byte) (widgets, error) {
		if broken {
			return widgets{}, boom
		}
		return widgets{Count: 7}, nil
	})

	_, _, _ = cc.Get(ctx, "k", "", "p", nil, time.Minute)
	jobs := sc.take()

	err := cc.RunRegeneration(ctx, jobs[0])
	var pe *ProducerError
	if !errors.As(err, &pe) || !errors.Is(err, boom) {
		t.Fatalf("expected ProducerError wrapping cause, got %v", err)
	}
	if len(failures) != 1 {
		t.Fatalf("failure sink should have one event, got %d", len(failures))
	}
	if rec, _ := mb.Read(ctx, "k", ""); rec.Present {
		t.Fatalf("failed regeneration must not write a value")
	}

	// Lock still held: a new Get schedules, but its token cannot win.
	_, _, _ = cc.Get(ctx, "k", "", "p", nil, time.Minute)
	blocked := sc.take()
	if err := cc.RunRegeneration(ctx, blocked[0]); err != nil {
		t.Fatalf("blocked attempt should be a silent no-op, got %v", err)
	}

	// After the lock TTL the next attempt wins and commits.
	broken = false
	clock.Advance(DefaultLockTTL + time.Second)
	_, _, _ = cc.Get(ctx, "k", "", "p", nil, time.Minute)
	retry := sc.take()
	if err := cc.RunRegeneration(ctx, retry[0]); err != nil {
		t.Fatalf("retry after TTL: %v", err)
	}
	if v, ok, _ := cc.Get(ctx, "k", "", "p", nil, time.Minute); !ok || v.Count != 7 {
		t.Fatalf("expected committed value after recovery, got ok=%v v=%v", ok, v)
	}
}

func TestUnknownProducerFailsRegeneration(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	mb := newMemBackend(clock)
	sc := &manualScheduler{}
	cc := newTestCache(t, mb, sc, nil)
	defer cc.Close(ctx)
	withClock(t, cc, clock)

	_, _, _ = cc.Get(ctx, "k", "", "never_registered", nil, time.Minute)
	jobs := sc.take()

	err := cc.RunRegeneration(ctx, jobs[0])
	var ue *UnknownProducerError
	if !errors.As(err, &ue) || ue.Name != "never_registered" {
		t.Fatalf("expected UnknownProducerError, got %v", err)
	}
}

// ==============================
// Misc orchestrator behavior
// ==============================

func TestDisabledCacheMissesAndNeverSchedules(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	mb := newMemBackend(clock)
	sc := &manualScheduler{}
	cc := newTestCache(t, mb, sc, func(o *Options[widgets]) { o.Disabled = true })
	defer cc.Close(ctx)

	if v, ok, err := cc.Get(ctx, "k", "", "p", nil, time.Minute); err != nil || ok {
		t.Fatalf("disabled Get: ok=%v err=%v v=%v", ok, err, v)
	}
	if got := sc.take(); len(got) != 0 {
		t.Fatalf("disabled cache must not schedule")
	}
	if err := cc.RunRegeneration(ctx, sched.Job{Key: "k", Token: "t"}); err != nil {
		t.Fatalf("disabled RunRegeneration: %v", err)
	}
}

// Undecodable payloads are self-healed: deleted, treated as cold.
func TestSelfHealOnUndecodablePayload(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	mb := newMemBackend(clock)
	sc := &manualScheduler{}
	cc := newTestCache(t, mb, sc, nil)
	defer cc.Close(ctx)
	withClock(t, cc, clock)

	// Inject garbage directly; marks it warm so only decode can reject it.
	if err := mb.Write(ctx, "bad", "", []byte("{not json"), time.Hour); err != nil {
		t.Fatalf("inject: %v", err)
	}

	if _, ok, err := cc.Get(ctx, "bad", "", "p", nil, time.Minute); err != nil || ok {
		t.Fatalf("Get on corrupt should miss, ok=%v err=%v", ok, err)
	}
	if rec, _ := mb.Read(ctx, "bad", ""); rec.Present {
		t.Fatalf("corrupt record was not deleted by self-heal")
	}
	if got := sc.take(); len(got) != 1 {
		t.Fatalf("corrupt read is cold and must schedule, got %d", len(got))
	}
}

func TestGroupIsolation(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	mb := newMemBackend(clock)
	sc := &manualScheduler{}
	cc := newTestCache(t, mb, sc, nil)
	defer cc.Close(ctx)
	withClock(t, cc, clock)

	_ = cc.RegisterProducer("p", func(context.Context, []byte) (widgets, error) {
		return widgets{Count: 3}, nil
	})
	for _, g := range []string{"a", "b"} {
		_, _, _ = cc.Get(ctx, "k", g, "p", nil, time.Minute)
		for _, j := range sc.take() {
			_ = cc.RunRegeneration(ctx, j)
		}
	}

	if _, err := cc.RegisterGroup(ctx, "a"); err != nil {
		t.Fatalf("RegisterGroup: %v", err)
	}
	removed, err := cc.DeleteGroup(ctx, "a")
	if err != nil || !removed {
		t.Fatalf("DeleteGroup: removed=%v err=%v", removed, err)
	}

	if rec, _ := mb.Read(ctx, "k", "a"); rec.Present {
		t.Fatalf("group a should be purged")
	}
	if rec, _ := mb.Read(ctx, "k", "b"); !rec.Present {
		t.Fatalf("group b must be untouched")
	}
}

// Backend outages are hard failures of the current call.
func TestBackendErrorPropagates(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	sentinel := errors.New("backend down")
	mb := &errBackend{memBackend: newMemBackend(clock), readErr: sentinel}
	sc := &manualScheduler{}
	cc := newTestCache(t, mb, sc, nil)
	defer cc.Close(ctx)

	if _, _, err := cc.Get(ctx, "k", "", "p", nil, time.Minute); !errors.Is(err, sentinel) {
		t.Fatalf("expected backend error, got %v", err)
	}
}

type errBackend struct {
	*memBackend
	readErr error
}

func (b *errBackend) Read(context.Context, string, string) (be.Record, error) {
	return be.Record{}, b.readErr
}

type recordingHooks struct {
	NopHooks
	producerFailed *[]error
}

func (h *recordingHooks) ProducerFailed(_, _, _ string, err error) {
	*h.producerFailed = append(*h.producerFailed, err)
}
