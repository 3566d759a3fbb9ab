package swrcache

import (
	"context"
	"sync"
)

// Producer regenerates a value from its serialized arguments. Producers may
// block; their latency is isolated from readers because they only ever run
// inside RunRegeneration.
type Producer[V any] func(ctx context.Context, args []byte) (V, error)

// Registry maps stable names to producers. The scheduler persists only the
// name plus serialized arguments, so every process that can run
// regenerations must register the same names at startup.
type Registry[V any] struct {
	mu        sync.RWMutex
	producers map[string]Producer[V]
}

func NewRegistry[V any]() *Registry[V] {
	return &Registry[V]{producers: make(map[string]Producer[V])}
}

func (r *Registry[V]) Register(name string, p Producer[V]) error {
	if name == "" || p == nil {
		return ErrUnnamedProducer
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.producers[name]; ok {
		return &AlreadyRegisteredError{Name: name}
	}
	r.producers[name] = p
	return nil
}

func (r *Registry[V]) Lookup(name string) (Producer[V], bool) {
	r.mu.RLock()
	p, ok := r.producers[name]
	r.mu.RUnlock()
	return p, ok
}
