package sched

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrClosed = errors.New("sched: scheduler closed")

// Handler consumes a due job. The context is detached from the enqueueing
// request: regeneration latency must stay out of the reader's path.
type Handler func(ctx context.Context, job Job)

// Local runs jobs on in-process goroutines. It is the default scheduler for
// single-process deployments; multi-process setups should use an external
// job system instead and deliver jobs back via the cache's RunRegeneration.
type Local struct {
	handler Handler

	mu     sync.Mutex
	closed bool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

var _ Scheduler = (*Local)(nil)

func NewLocal(h Handler) *Local {
	return &Local{handler: h, stopCh: make(chan struct{})}
}

func (s *Local) Enqueue(_ context.Context, job Job, runAt time.Time) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		t := time.NewTimer(time.Until(runAt))
		defer t.Stop()
		select {
		case <-t.C:
			s.handler(context.Background(), job)
		case <-s.stopCh:
		}
	}()
	return nil
}

// Close stops accepting jobs, cancels pending timers, and waits for
// in-flight handlers to finish.
func (s *Local) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}
