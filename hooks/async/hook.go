// Package asynchook decouples hook sinks from the cache's hot paths: events
// are queued onto a bounded channel and delivered by worker goroutines.
// When the queue is full events are dropped, never blocked on.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	cache, _ := swrcache.New[Widgets](swrcache.Options[Widgets]{
//	    Backend: be,
//	    Codec:   codec.JSON[Widgets]{},
//	    Hooks:   hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/swrcache"
)

type Hooks struct {
	inner swrcache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ swrcache.Hooks = (*Hooks)(nil)

func New(inner swrcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) RegenerationScheduled(key, group string) {
	h.try(func() { h.inner.RegenerationScheduled(key, group) })
}

func (h *Hooks) ProducerFailed(key, group, producer string, err error) {
	h.try(func() { h.inner.ProducerFailed(key, group, producer, err) })
}

func (h *Hooks) ScheduleFailed(key, group string, err error) {
	h.try(func() { h.inner.ScheduleFailed(key, group, err) })
}

func (h *Hooks) GroupDeleted(group string, removed bool) {
	h.try(func() { h.inner.GroupDeleted(group, removed) })
}
