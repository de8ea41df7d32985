// Package kv is the client's persistent key/value surface. Keys live in
// namespaces and are stored as "{namespace}:{key}"; values are opaque
// strings. Every write or delete is announced to subscribers so that other
// components, or other processes sharing the store, can re-derive state
// without polling.
package kv

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Store defines the interface for local persistence
type Store interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, namespace, key string) (string, bool, error)
	Set(ctx context.Context, namespace, key, value string) error
	Delete(ctx context.Context, namespace, key string) error

	// Subscribe registers fn for every change; the returned func removes it.
	Subscribe(fn func(Change)) (cancel func())

	Close() error
}

// Change describes one write or delete. Origin identifies the store
// instance that made it.
type Change struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Value     string `json:"value,omitempty"`
	Deleted   bool   `json:"deleted,omitempty"`
	Origin    string `json:"origin"`
}

// FullKey joins a namespace and key the way every backend stores them.
func FullKey(namespace, key string) string {
	return namespace + ":" + key
}

// notifier fans changes out to local subscribers.
type notifier struct {
	origin string

	mu   sync.RWMutex
	subs map[string]func(Change)
}

func newNotifier() *notifier {
	return &notifier{
		origin: uuid.New().String(),
		subs:   make(map[string]func(Change)),
	}
}

func (n *notifier) Subscribe(fn func(Change)) func() {
	id := uuid.New().String()
	n.mu.Lock()
	n.subs[id] = fn
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
		})
	}
}

func (n *notifier) publish(c Change) {
	n.mu.RLock()
	subs := make([]func(Change), 0, len(n.subs))
	for _, fn := range n.subs {
		subs = append(subs, fn)
	}
	n.mu.RUnlock()

	for _, fn := range subs {
		fn(c)
	}
}

func (n *notifier) set(namespace, key, value string) Change {
	return Change{Namespace: namespace, Key: key, Value: value, Origin: n.origin}
}

func (n *notifier) deleted(namespace, key string) Change {
	return Change{Namespace: namespace, Key: key, Deleted: true, Origin: n.origin}
}
