package realtime

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestOfflineStore(t *testing.T, maxLen int) (*OfflineStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewOfflineStore(rdb, time.Minute, maxLen), mr
}

func TestAppendAndDrainOrdered(t *testing.T) {
	store, _ := newTestOfflineStore(t, 16)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.Append(ctx, "u1", []byte("e"+strconv.Itoa(i))); err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
	}

	events, err := store.Drain(ctx, "u1")
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("drained %d events, want 3", len(events))
	}
	for i, data := range events {
		if string(data) != "e"+strconv.Itoa(i) {
			t.Errorf("event %d = %q, out of order", i, data)
		}
	}
}

func TestDrainIsExactlyOnce(t *testing.T) {
	store, _ := newTestOfflineStore(t, 16)
	ctx := context.Background()

	if err := store.Append(ctx, "u1", []byte("e0")); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	first, err := store.Drain(ctx, "u1")
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("drained %d events, want 1", len(first))
	}

	second, err := store.Drain(ctx, "u1")
	if err != nil {
		t.Fatalf("second drain failed: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("second drain returned %d events, want 0", len(second))
	}
}

func TestAppendDropsOldestPastCap(t *testing.T) {
	store, _ := newTestOfflineStore(t, 2)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := store.Append(ctx, "u1", []byte("e"+strconv.Itoa(i))); err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
	}

	events, err := store.Drain(ctx, "u1")
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("drained %d events, want cap of 2", len(events))
	}
	if string(events[0]) != "e2" || string(events[1]) != "e3" {
		t.Errorf("kept %q, %q; want the newest two", events[0], events[1])
	}
}

func TestQueuesArePerUser(t *testing.T) {
	store, _ := newTestOfflineStore(t, 16)
	ctx := context.Background()

	if err := store.Append(ctx, "u1", []byte("for-u1")); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	events, err := store.Drain(ctx, "u2")
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("u2 drained %d events, want 0", len(events))
	}

	pending, err := store.Pending(ctx, "u1")
	if err != nil {
		t.Fatalf("pending lookup failed: %v", err)
	}
	if pending != 1 {
		t.Errorf("u1 pending = %d, want 1", pending)
	}
}
