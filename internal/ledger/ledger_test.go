package ledger

import (
	"path/filepath"
	"testing"

	"github.com/evroute/ruled/internal/db"
)

func testLedger(t *testing.T) *Ledger {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return New(database.DB)
}

func TestLedger_AppendAndQuery(t *testing.T) {
	l := testLedger(t)

	l.Append(EventReconcileStarted, "inv-1", "orders", map[string]any{"op": "upsert"})
	l.Append(EventReconcileCompleted, "inv-1", "orders", nil)
	l.Append(EventReconcileStarted, "inv-2", "billing", nil)

	entries, err := l.ByRule("orders", 10)
	if err != nil {
		t.Fatalf("ByRule: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Rule != "orders" {
		t.Errorf("rule = %q", entries[0].Rule)
	}
}

func TestLedger_CompletionDedupe(t *testing.T) {
	l := testLedger(t)

	// Only the first completion per invocation id is recorded.
	if err := l.Append(EventReconcileCompleted, "inv-1", "orders", nil); err != nil {
		t.Fatalf("first completion: %v", err)
	}
	if err := l.Append(EventReconcileCompleted, "inv-1", "orders", nil); err != nil {
		t.Fatalf("duplicate completion must be ignored, not fail: %v", err)
	}

	entries, err := l.ByRule("orders", 10)
	if err != nil {
		t.Fatalf("ByRule: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("entries = %d, want 1 (duplicate ignored)", len(entries))
	}
}

func TestLedger_HasCompleted(t *testing.T) {
	l := testLedger(t)

	if l.HasCompleted("inv-1") {
		t.Error("fresh invocation must not read as completed")
	}

	l.Append(EventReconcileStarted, "inv-1", "orders", nil)
	if l.HasCompleted("inv-1") {
		t.Error("started is not completed")
	}

	l.Append(EventReconcileCompleted, "inv-1", "orders", nil)
	if !l.HasCompleted("inv-1") {
		t.Error("completed invocation must read as completed")
	}

	if l.HasCompleted("") {
		t.Error("empty invocation id never dedupes")
	}
}

func TestLedger_PayloadRoundTrip(t *testing.T) {
	l := testLedger(t)

	l.Append(EventReconcileFailed, "inv-1", "orders", map[string]any{
		"code":    "ValidationError",
		"message": "a rule name is required",
	})

	entries, err := l.ByRule("orders", 1)
	if err != nil {
		t.Fatalf("ByRule: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].Payload["code"] != "ValidationError" {
		t.Errorf("payload = %v", entries[0].Payload)
	}
}

func TestLedger_Cleanup(t *testing.T) {
	l := testLedger(t)

	l.Append(EventReconcileStarted, "inv-1", "orders", nil)

	// Entries younger than the retention window stay.
	removed, err := l.Cleanup(30)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if removed != 0 {
		t.Errorf("removed = %d, want 0", removed)
	}

	// A negative retention pushes the cutoff into the future and removes
	// everything.
	removed, err = l.Cleanup(-1)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
}
