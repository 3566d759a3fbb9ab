package swrcache

import (
	"context"
	"fmt"
	"time"

	"github.com/unkn0wn-root/swrcache/backend"
	"github.com/unkn0wn-root/swrcache/codec"
	"github.com/unkn0wn-root/swrcache/internal/util"
	"github.com/unkn0wn-root/swrcache/sched"
)

type cache[V any] struct {
	be       backend.Backend
	codec    codec.Codec[V]
	registry *Registry[V]
	locks    *lockCoordinator
	sch      sched.Scheduler
	ownSch   *sched.Local // set only when we constructed the scheduler
	log      Logger
	hooks    Hooks

	enabled    bool
	defaultTTL time.Duration

	// clock; overridable in tests
	now func() time.Time
}

func newCache[V any](opts Options[V]) (*cache[V], error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("swrcache: backend is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("swrcache: codec is required")
	}

	c := &cache[V]{
		be:      opts.Backend,
		codec:   opts.Codec,
		enabled: !opts.Disabled,
		now:     time.Now,
	}

	// defaults
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.defaultTTL = coalesce[time.Duration](opts.DefaultTTL, defaultTTL)
	c.locks = newLockCoordinator(c.be, coalesce[time.Duration](opts.LockTTL, DefaultLockTTL))

	if opts.Registry != nil {
		c.registry = opts.Registry
	} else {
		c.registry = NewRegistry[V]()
	}

	if opts.Scheduler != nil {
		c.sch = opts.Scheduler
	} else {
		// default to in-process execution of due jobs
		local := sched.NewLocal(func(ctx context.Context, job sched.Job) {
			if err := c.RunRegeneration(ctx, job); err != nil {
				c.log.Error("regeneration failed", Fields{
					"key": job.Key, "group": job.Group, "producer": job.Producer, "err": err,
				})
			}
		})
		c.sch = local
		c.ownSch = local
	}

	return c, nil
}

func (c *cache[V]) Enabled() bool { return c.enabled }

func (c *cache[V]) Close(ctx context.Context) error {
	// Stop our scheduler first so no regeneration lands on a closed backend.
	if c.ownSch != nil {
		_ = c.ownSch.Close()
	}
	if c.be != nil {
		return c.be.Close(ctx)
	}
	return nil
}

func (c *cache[V]) Get(ctx context.Context, key, group, producer string, args []byte, ttl time.Duration) (V, bool, error) {
	var zero V
	if !c.enabled {
		return zero, false, nil
	}
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	rec, err := c.be.Read(ctx, key, group)
	if err != nil {
		return zero, false, err
	}

	var (
		v       V
		present bool
	)
	if rec.Present {
		dv, derr := c.codec.Decode(rec.Value)
		if derr == nil {
			v, present = dv, true
		} else {
			// undecodable payload: self-heal and treat the key as cold
			_ = c.be.Delete(ctx, key, group)
			rec = backend.Record{}
		}
	}

	if IsWarm(rec, c.now()) {
		return v, true, nil
	}

	// Cold or stale: schedule unconditionally, even if a regeneration is
	// already in flight. Redundant scheduling is cheap and collapses at
	// Verify; deciding here would reopen a read-then-act race.
	if err := c.schedule(ctx, key, group, producer, args, ttl); err != nil {
		return zero, false, err
	}
	return v, present, nil
}

func (c *cache[V]) schedule(ctx context.Context, key, group, producer string, args []byte, ttl time.Duration) error {
	lockKey := util.LockKey(key)
	token, stored, err := c.locks.Acquire(ctx, lockKey, group)
	if err != nil {
		c.hooks.ScheduleFailed(key, group, err)
		return err
	}

	job := sched.Job{
		Key:      key,
		Group:    group,
		Producer: producer,
		Args:     args,
		Token:    token,
		TTL:      ttl,
	}
	if err := c.sch.Enqueue(ctx, job, c.now()); err != nil {
		c.hooks.ScheduleFailed(key, group, err)
		return err
	}

	c.hooks.RegenerationScheduled(key, group)
	c.log.Debug("regeneration scheduled", Fields{
		"key": key, "group": group, "producer": producer, "lock_stored": stored,
	})
	return nil
}

func (c *cache[V]) RunRegeneration(ctx context.Context, job sched.Job) error {
	if !c.enabled {
		return nil
	}

	lockKey := util.LockKey(job.Key)
	owned, err := c.locks.Verify(ctx, lockKey, job.Token, job.Group)
	if err != nil {
		return err
	}
	if !owned {
		// lost the race, or the lock expired/was consumed; the expected
		// outcome for every redundant attempt
		c.log.Debug("regeneration skipped (not lock owner)", Fields{
			"key": job.Key, "group": job.Group,
		})
		return nil
	}

	p, ok := c.registry.Lookup(job.Producer)
	if !ok {
		err := &UnknownProducerError{Name: job.Producer}
		c.hooks.ProducerFailed(job.Key, job.Group, job.Producer, err)
		c.log.Error("regeneration aborted", Fields{
			"key": job.Key, "group": job.Group, "producer": job.Producer, "err": err,
		})
		return err
	}

	v, err := p(ctx, job.Args)
	if err != nil {
		// No write, no release: the lock waits out its TTL, which is the
		// sole recovery path for a failed regeneration.
		c.hooks.ProducerFailed(job.Key, job.Group, job.Producer, err)
		c.log.Error("producer failed", Fields{
			"key": job.Key, "group": job.Group, "producer": job.Producer, "err": err,
		})
		return &ProducerError{Key: job.Key, Group: job.Group, Producer: job.Producer, Err: err}
	}

	raw, err := c.codec.Encode(v)
	if err != nil {
		c.hooks.ProducerFailed(job.Key, job.Group, job.Producer, err)
		return &ProducerError{Key: job.Key, Group: job.Group, Producer: job.Producer, Err: err}
	}

	ttl := job.TTL
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	// Write commits value+expiry and clears the lock as one operation.
	// Last write wins: a slow attempt that outlived its lock TTL can still
	// land after a fresher one.
	if err := c.be.Write(ctx, job.Key, job.Group, raw, ttl); err != nil {
		return err
	}

	c.log.Debug("regeneration committed", Fields{
		"key": job.Key, "group": job.Group, "producer": job.Producer,
	})
	return nil
}

func (c *cache[V]) RegisterProducer(name string, p Producer[V]) error {
	return c.registry.Register(name, p)
}

func (c *cache[V]) RegisterGroup(ctx context.Context, group string) (bool, error) {
	return c.be.RegisterGroup(ctx, group)
}

func (c *cache[V]) DeleteGroup(ctx context.Context, group string) (bool, error) {
	removed, err := c.be.DeleteGroup(ctx, group)
	if err != nil {
		return removed, err
	}
	c.hooks.GroupDeleted(group, removed)
	c.log.Info("group deleted", Fields{"group": group, "removed": removed})
	return removed, nil
}
