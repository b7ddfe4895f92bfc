package token

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestDenylist(t *testing.T) (*Denylist, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewDenylist(rdb), mr
}

func TestDenyAndCheck(t *testing.T) {
	d, _ := newTestDenylist(t)
	ctx := context.Background()

	if err := d.Deny(ctx, "jti-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("deny failed: %v", err)
	}

	denied, err := d.IsDenied(ctx, "jti-1")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !denied {
		t.Error("denied jti reported as clean")
	}

	denied, err = d.IsDenied(ctx, "jti-other")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if denied {
		t.Error("clean jti reported as denied")
	}
}

func TestDenyEntryExpiresWithToken(t *testing.T) {
	d, mr := newTestDenylist(t)
	ctx := context.Background()

	if err := d.Deny(ctx, "jti-1", time.Now().Add(time.Second)); err != nil {
		t.Fatalf("deny failed: %v", err)
	}

	mr.FastForward(2 * time.Second)

	denied, err := d.IsDenied(ctx, "jti-1")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if denied {
		t.Error("entry outlived the token it revokes")
	}
}

func TestDenyAlreadyExpiredIsNoOp(t *testing.T) {
	d, _ := newTestDenylist(t)
	ctx := context.Background()

	if err := d.Deny(ctx, "jti-1", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("deny failed: %v", err)
	}

	denied, err := d.IsDenied(ctx, "jti-1")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if denied {
		t.Error("expired token needs no denylist entry")
	}
}
