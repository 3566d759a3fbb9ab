package swrcache

import (
	"errors"
	"fmt"
)

// ErrUnnamedProducer is returned when a producer is registered without a
// stable name. Anonymous producers cannot survive a process boundary, so
// they are rejected at registration, not at call time.
var ErrUnnamedProducer = errors.New("swrcache: producer must be registered under a stable name")

// UnknownProducerError is returned by RunRegeneration when a job names a
// producer this process never registered.
type UnknownProducerError struct {
	Name string
}

func (e *UnknownProducerError) Error() string {
	return fmt.Sprintf("swrcache: unknown producer %q", e.Name)
}

// AlreadyRegisteredError is returned when two producers claim one name.
type AlreadyRegisteredError struct {
	Name string
}

func (e *AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("swrcache: producer %q already registered", e.Name)
}

// ProducerError wraps a producer's domain error. The regeneration it
// aborted left its lock to self-expire; the next cold or stale read after
// the lock TTL schedules a fresh attempt.
type ProducerError struct {
	Key      string
	Group    string
	Producer string
	Err      error
}

func (e *ProducerError) Error() string {
	return fmt.Sprintf("swrcache: producer %q failed for key %q group %q: %v",
		e.Producer, e.Key, e.Group, e.Err)
}

func (e *ProducerError) Unwrap() error { return e.Err }

// UnknownBackendKindError is returned by OpenBackend for a kind outside the
// closed enumeration.
type UnknownBackendKindError struct {
	Kind BackendKind
}

func (e *UnknownBackendKindError) Error() string {
	return fmt.Sprintf("swrcache: unknown backend kind %d", int(e.Kind))
}
