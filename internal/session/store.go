// Package session persists per-visitor coreg state. A Backend hands out a
// Store scoped to one session; State layers typed accessors on top of it.
package session

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownSession is returned when a session id has no stored state.
var ErrUnknownSession = errors.New("unknown session")

// Store is string-valued key/value persistence scoped to one session.
type Store interface {
	// ID returns the session id the store is scoped to.
	ID() string
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string) (bool, error)
	Delete(ctx context.Context, key string) error
	// All returns every key/value pair of the session.
	All(ctx context.Context) (map[string]string, error)
}

// Backend opens session-scoped stores.
type Backend interface {
	Open(sessionID string) Store
	Exists(ctx context.Context, sessionID string) (bool, error)
}

// MemoryBackend keeps sessions in process memory. It is used in tests and
// single-instance deployments.
type MemoryBackend struct {
	mu       sync.Mutex
	sessions map[string]map[string]string
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{sessions: make(map[string]map[string]string)}
}

// Open returns the store for sessionID.
func (b *MemoryBackend) Open(sessionID string) Store {
	return &memoryStore{backend: b, id: sessionID}
}

// Exists reports whether any value has been written for sessionID.
func (b *MemoryBackend) Exists(_ context.Context, sessionID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.sessions[sessionID]
	return ok, nil
}

// Sessions lists the known session ids in sorted order.
func (b *MemoryBackend) Sessions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.sessions))
	for id := range b.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type memoryStore struct {
	backend *MemoryBackend
	id      string
}

func (s *memoryStore) values() map[string]string {
	vals, ok := s.backend.sessions[s.id]
	if !ok {
		vals = make(map[string]string)
		s.backend.sessions[s.id] = vals
	}
	return vals
}

func (s *memoryStore) ID() string { return s.id }

func (s *memoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	v, ok := s.backend.sessions[s.id][key]
	return v, ok, nil
}

func (s *memoryStore) Set(_ context.Context, key, value string) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.values()[key] = value
	return nil
}

func (s *memoryStore) SetNX(_ context.Context, key, value string) (bool, error) {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	vals := s.values()
	if _, exists := vals[key]; exists {
		return false, nil
	}
	vals[key] = value
	return true, nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	delete(s.backend.sessions[s.id], key)
	return nil
}

func (s *memoryStore) All(_ context.Context) (map[string]string, error) {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	out := make(map[string]string, len(s.backend.sessions[s.id]))
	for k, v := range s.backend.sessions[s.id] {
		out[k] = v
	}
	return out, nil
}

// keysWithPrefix returns the sorted keys of vals starting with prefix.
func keysWithPrefix(vals map[string]string, prefix string) []string {
	var keys []string
	for k := range vals {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
