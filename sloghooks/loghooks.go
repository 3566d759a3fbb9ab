package sloghooks

import (
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/swrcache"
)

type Options struct {
	// Sampling for the chatty scheduled event; 0/1 = log all.
	ScheduledEvery uint64
}

// Hooks logs swrcache events through slog. Producer failures are the
// high-value signal here: they mean a key is serving stale data until the
// lock TTL elapses and a retry lands.
type Hooks struct {
	l    *slog.Logger
	opts Options

	scheduledCtr atomic.Uint64
}

var _ swrcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) RegenerationScheduled(key, group string) {
	if h.l == nil || !sample(h.opts.ScheduledEvery, &h.scheduledCtr) {
		return
	}
	h.l.Debug("swrcache.regeneration_scheduled",
		"key", key,
		"group", group)
}

func (h *Hooks) ProducerFailed(key, group, producer string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("swrcache.producer_failed",
		"key", key,
		"group", group,
		"producer", producer,
		"err", err)
}

func (h *Hooks) ScheduleFailed(key, group string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("swrcache.schedule_failed",
		"key", key,
		"group", group,
		"err", err)
}

func (h *Hooks) GroupDeleted(group string, removed bool) {
	if h.l == nil {
		return
	}
	h.l.Info("swrcache.group_deleted",
		"group", group,
		"removed", removed)
}
