package eventbus

import (
	"context"
	"testing"
)

func TestInMemorySubscriptionManager_IncludeCollection(t *testing.T) {
	m := NewInMemorySubscriptionManager("arn:ingest", "arn:deletion")

	if err := m.IncludeCollection(context.Background(), "MOD09GA___061"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := m.collectionsByARN["arn:ingest"]["MOD09GA___061"]; !ok {
		t.Error("expected collection to be added to the ingest subscription filter policy")
	}

	if _, ok := m.collectionsByARN["arn:deletion"]["MOD09GA___061"]; !ok {
		t.Error("expected collection to be added to the deletion subscription filter policy")
	}
}

func TestInMemorySubscriptionManager_IncludeCollection_Idempotent(t *testing.T) {
	m := NewInMemorySubscriptionManager("arn:ingest", "arn:deletion")

	if err := m.IncludeCollection(context.Background(), "MOD09GA___061"); err != nil {
		t.Fatalf("unexpected error on first call: %v", err)
	}

	if err := m.IncludeCollection(context.Background(), "MOD09GA___061"); err != nil {
		t.Fatalf("unexpected error on second call: %v", err)
	}

	if len(m.collectionsByARN["arn:ingest"]) != 1 {
		t.Errorf("got %d entries, want 1 (idempotent insert)", len(m.collectionsByARN["arn:ingest"]))
	}
}
