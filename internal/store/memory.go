package store

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// entry is a stored value with optional expiration.
type entry struct {
	value      []byte
	expiration time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiration.IsZero() && now.After(e.expiration)
}

// MemoryStore implements Store with process-local storage. It is used when
// no external store is configured and in tests. Expired entries are removed
// lazily on access and periodically by a background sweep.
type MemoryStore struct {
	mu      sync.Mutex
	data    map[string]*entry
	cleanup *time.Ticker
	done    chan struct{}
	once    sync.Once
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithCleanupInterval(time.Minute)
}

// NewMemoryStoreWithCleanupInterval creates an in-memory store with a custom
// sweep interval.
func NewMemoryStoreWithCleanupInterval(interval time.Duration) *MemoryStore {
	s := &MemoryStore{
		data:    make(map[string]*entry),
		cleanup: time.NewTicker(interval),
		done:    make(chan struct{}),
	}

	go s.sweep()

	return s
}

func (s *MemoryStore) sweep() {
	for {
		select {
		case <-s.cleanup.C:
			now := time.Now()
			s.mu.Lock()
			for key, e := range s.data {
				if e.expired(now) {
					delete(s.data, key)
				}
			}
			s.mu.Unlock()
		case <-s.done:
			return
		}
	}
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[key]
	if !ok || e.expired(time.Now()) {
		delete(s.data, key)
		return nil, ErrKeyNotFound
	}

	value := make([]byte, len(e.value))
	copy(value, e.value)
	return value, nil
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	e := &entry{value: stored}
	if expiration > 0 {
		e.expiration = time.Now().Add(expiration)
	}

	s.mu.Lock()
	s.data[key] = e
	s.mu.Unlock()
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}

// Exists implements Store.
func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Get(ctx, key)
	if IsKeyNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Increment implements Store.
func (s *MemoryStore) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	return s.IncrementWithExpiry(ctx, key, delta, 0)
}

// IncrementWithExpiry implements Store. The value is kept as a decimal
// string to mirror Redis INCRBY semantics.
func (s *MemoryStore) IncrementWithExpiry(ctx context.Context, key string, delta int64, expiration time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	e, ok := s.data[key]
	if !ok || e.expired(now) {
		e = &entry{}
		if expiration > 0 {
			e.expiration = now.Add(expiration)
		}
		s.data[key] = e
	}

	current := int64(0)
	if len(e.value) > 0 {
		parsed, err := strconv.ParseInt(string(e.value), 10, 64)
		if err != nil {
			return 0, err
		}
		current = parsed
	}

	current += delta
	e.value = []byte(strconv.FormatInt(current, 10))
	return current, nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.once.Do(func() {
		s.cleanup.Stop()
		close(s.done)
	})
	return nil
}
