package storage

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/evroute/ruled/internal/db"
)

func testDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestStore_GetMissing(t *testing.T) {
	store := NewStore(testDB(t).DB)

	payload, version, err := store.Get("rule", "orders")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if payload != nil || version != 0 {
		t.Errorf("missing entry: payload=%v version=%d, want nil/0", payload, version)
	}
}

func TestStore_SetIncrementsVersion(t *testing.T) {
	store := NewStore(testDB(t).DB)

	if err := store.Set("rule", "orders", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set("rule", "orders", []byte(`{"a":2}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	payload, version, err := store.Get("rule", "orders")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(payload) != `{"a":2}` {
		t.Errorf("payload = %s", payload)
	}
	if version != 2 {
		t.Errorf("version = %d, want 2", version)
	}
}

func TestStore_DeleteAndKeys(t *testing.T) {
	store := NewStore(testDB(t).DB)

	store.Set("rule", "orders", []byte(`{}`))
	store.Set("rule", "billing", []byte(`{}`))
	store.Set("other", "x", []byte(`{}`))

	if err := store.Delete("rule", "orders"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	keys, err := store.Keys("rule")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if !reflect.DeepEqual(keys, []string{"billing"}) {
		t.Errorf("keys = %v, want [billing]", keys)
	}
}

func TestTypedStore_RoundTrip(t *testing.T) {
	store := NewStore(testDB(t).DB)
	rules := NewTypedStore[map[string]string](store, "rule")

	want := map[string]string{"name": "orders", "arn": "arn:aws:events:us-east-1:111:rule/orders"}
	if err := rules.Set("orders", want); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, version, err := rules.Get("orders")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if version != 1 {
		t.Errorf("version = %d, want 1", version)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got = %v, want %v", got, want)
	}
}

func TestTypedStore_GetMissingReturnsZero(t *testing.T) {
	store := NewStore(testDB(t).DB)
	rules := NewTypedStore[map[string]string](store, "rule")

	got, version, err := rules.Get("nope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil || version != 0 {
		t.Errorf("got = %v version = %d, want nil/0", got, version)
	}
}
