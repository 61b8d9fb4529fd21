package kv

import (
	"sync"
	"time"
)

// memoryEntry holds a blob with its expiry in memory.
type memoryEntry struct {
	value     []byte
	expiresAt time.Time // Zero value means no expiry
}

// isExpired returns true if the entry has expired.
func (e *memoryEntry) isExpired() bool {
	if e.expiresAt.IsZero() {
		return false
	}
	return time.Now().After(e.expiresAt)
}

// MemoryBucket is an in-memory bucket (not persisted).
type MemoryBucket struct {
	name    string
	ttl     time.Duration
	entries map[string]*memoryEntry
	mu      sync.RWMutex
}

// NewMemoryBucket creates a new in-memory bucket.
// A zero ttl means entries never expire.
func NewMemoryBucket(name string, ttl time.Duration) *MemoryBucket {
	return &MemoryBucket{
		name:    name,
		ttl:     ttl,
		entries: make(map[string]*memoryEntry),
	}
}

// Name returns the bucket name.
func (b *MemoryBucket) Name() string {
	return b.name
}

// Put saves a blob under the given key.
func (b *MemoryBucket) Put(key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry := &memoryEntry{value: value}
	if b.ttl > 0 {
		entry.expiresAt = time.Now().Add(b.ttl)
	}

	b.entries[key] = entry
	return nil
}

// Get retrieves a blob by key.
func (b *MemoryBucket) Get(key string) ([]byte, error) {
	b.mu.RLock()
	entry, ok := b.entries[key]
	b.mu.RUnlock()

	if !ok {
		return nil, nil
	}

	if entry.isExpired() {
		// Lazy deletion of expired entry
		b.mu.Lock()
		delete(b.entries, key)
		b.mu.Unlock()
		return nil, nil
	}

	return entry.value, nil
}

// Delete removes a key from the bucket.
func (b *MemoryBucket) Delete(key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.entries[key]
	if ok {
		delete(b.entries, key)
	}
	return ok, nil
}

// Keys returns all non-expired keys in the bucket.
func (b *MemoryBucket) Keys() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var keys []string
	for key, entry := range b.entries {
		if entry.isExpired() {
			delete(b.entries, key)
			continue
		}
		keys = append(keys, key)
	}

	return keys, nil
}
