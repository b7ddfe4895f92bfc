package session

import (
	"context"
	"testing"
)

func TestSweepIndexesPrunesDeadMembers(t *testing.T) {
	store, mr := newTestStore(t, Config{})
	ctx := context.Background()

	for _, id := range []string{"s1", "s2", "s3"} {
		if err := store.Create(ctx, newSession(id, "u1", "d1", "jti-"+id)); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	// Simulate record expiry without a Terminate: the hash vanishes but the
	// index members linger.
	mr.Del(store.key("s1"))
	mr.Del(store.key("s3"))

	pruned, err := store.SweepIndexes(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	// s1 and s3 each sit in a user index and a device index.
	if pruned != 4 {
		t.Errorf("pruned %d members, want 4", pruned)
	}

	sessions, err := store.ListForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != "s2" {
		t.Errorf("expected only s2 to remain, got %+v", sessions)
	}
}

func TestSweepIndexesCleanStore(t *testing.T) {
	store, _ := newTestStore(t, Config{})
	ctx := context.Background()

	if err := store.Create(ctx, newSession("s1", "u1", "d1", "jti-1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	pruned, err := store.SweepIndexes(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if pruned != 0 {
		t.Errorf("pruned %d members from a healthy store", pruned)
	}
}
