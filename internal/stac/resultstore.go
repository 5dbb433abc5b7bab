package stac

import (
	"sync"
	"time"
)

// ResultStore caches computed responses, such as detection results, under
// caller-chosen keys.
type ResultStore[V any] interface {
	// Put saves a value under key, replacing any previous value
	Put(key string, v V)

	// Get returns the value stored under key
	Get(key string) (V, error)

	// Delete removes a value (optional cleanup)
	Delete(key string)
}

// resultEntry holds a value with its expiration time
type resultEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// MemoryResultStore implements ResultStore using in-memory storage with TTL.
// It is local to one process.
type MemoryResultStore[V any] struct {
	mu       sync.RWMutex
	entries  map[string]resultEntry[V]
	ttl      time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewMemoryResultStore creates a new in-memory result store.
// ttl specifies how long values are kept before expiration.
// cleanupInterval specifies how often to run the cleanup routine.
func NewMemoryResultStore[V any](ttl, cleanupInterval time.Duration) *MemoryResultStore[V] {
	store := &MemoryResultStore[V]{
		entries:  make(map[string]resultEntry[V]),
		ttl:      ttl,
		stopChan: make(chan struct{}),
	}

	go store.cleanupLoop(cleanupInterval)

	return store
}

// Put saves a value under key.
func (s *MemoryResultStore[V]) Put(key string, v V) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = resultEntry[V]{
		value:     v,
		expiresAt: time.Now().Add(s.ttl),
	}
}

// Get returns the value stored under key.
func (s *MemoryResultStore[V]) Get(key string) (V, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var zero V
	entry, exists := s.entries[key]
	if !exists {
		return zero, ErrResultNotFound
	}

	if time.Now().After(entry.expiresAt) {
		return zero, ErrResultExpired
	}

	return entry.value, nil
}

// Delete removes the value stored under key.
func (s *MemoryResultStore[V]) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
}

// Stop stops the background cleanup goroutine. It is safe to call more than
// once.
func (s *MemoryResultStore[V]) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// cleanupLoop periodically removes expired values.
func (s *MemoryResultStore[V]) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopChan:
			return
		}
	}
}

// cleanup removes all expired values.
func (s *MemoryResultStore[V]) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
}

// Stats returns the number of stored values and the age of the oldest.
func (s *MemoryResultStore[V]) Stats() (count int, oldestAge time.Duration) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count = len(s.entries)
	if count == 0 {
		return 0, 0
	}

	var oldest time.Time
	now := time.Now()
	for _, entry := range s.entries {
		created := entry.expiresAt.Add(-s.ttl)
		if oldest.IsZero() || created.Before(oldest) {
			oldest = created
		}
	}

	return count, now.Sub(oldest)
}

// Sentinel errors for result store operations
var (
	ErrResultNotFound = resultStoreError("result not found")
	ErrResultExpired  = resultStoreError("result expired")
)

type resultStoreError string

func (e resultStoreError) Error() string {
	return string(e)
}
