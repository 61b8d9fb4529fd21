// Package kv provides TTL-bounded blob storage with SQLite persistence
// and an in-memory variant for tests.
package kv

// Bucket is the interface for TTL-bounded key-value blob storage.
type Bucket interface {
	// Name returns the bucket name.
	Name() string

	// Put saves a blob under the given key, subject to the bucket's TTL.
	Put(key string, value []byte) error

	// Get retrieves a blob by key.
	// Returns nil if the key doesn't exist or has expired.
	Get(key string) ([]byte, error)

	// Delete removes a key from the bucket.
	// Returns true if the key existed.
	Delete(key string) (bool, error)

	// Keys returns all non-expired keys in the bucket.
	Keys() ([]string, error)
}
