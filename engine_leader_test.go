package authcore

import (
	"context"
	"errors"
	"testing"
)

func TestRegisterTabElection(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	state, won, err := engine.RegisterTab(ctx, "user-1", "dev-1", "tab-a", 0)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if !won || state.LeaderTabID != "tab-a" {
		t.Fatalf("first tab must lead: won=%v state=%+v", won, state)
	}

	state, won, err = engine.RegisterTab(ctx, "user-1", "dev-1", "tab-b", 0)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if won || state.LeaderTabID != "tab-a" {
		t.Errorf("follower must not displace a live leader: won=%v state=%+v", won, state)
	}

	if v, want := engine.Metrics().Value(MetricLeaderElected), uint64(1); v != want {
		t.Errorf("elections = %d, want %d", v, want)
	}
}

func TestRegisterTabPriorityPreempts(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	if _, won, _ := engine.RegisterTab(ctx, "user-1", "dev-1", "tab-a", 0); !won {
		t.Fatal("first tab must lead")
	}

	state, won, err := engine.RegisterTab(ctx, "user-1", "dev-1", "tab-b", 5)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if !won || state.LeaderTabID != "tab-b" {
		t.Fatalf("priority 5 must preempt priority 0: won=%v state=%+v", won, state)
	}

	if v := engine.Metrics().Value(MetricLeaderPreempted); v != 1 {
		t.Errorf("preemptions = %d, want 1", v)
	}
}

func TestHeartbeatTabNonLeader(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	if _, _, err := engine.RegisterTab(ctx, "user-1", "dev-1", "tab-a", 0); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if err := engine.HeartbeatTab(ctx, "user-1", "dev-1", "tab-a"); err != nil {
		t.Errorf("leader heartbeat failed: %v", err)
	}
	if err := engine.HeartbeatTab(ctx, "user-1", "dev-1", "tab-b"); !errors.Is(err, ErrNotLeader) {
		t.Errorf("got %v, want ErrNotLeader", err)
	}
}

func TestResignTabHandsOver(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	if _, _, err := engine.RegisterTab(ctx, "user-1", "dev-1", "tab-a", 0); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := engine.ResignTab(ctx, "user-1", "dev-1", "tab-a"); err != nil {
		t.Fatalf("resign failed: %v", err)
	}

	state, err := engine.CurrentLeader(ctx, "user-1", "dev-1")
	if err != nil {
		t.Fatalf("current failed: %v", err)
	}
	if state.LeaderTabID != "" {
		t.Errorf("slot still held by %q after resign", state.LeaderTabID)
	}

	if _, won, _ := engine.RegisterTab(ctx, "user-1", "dev-1", "tab-b", 0); !won {
		t.Error("successor must win immediately after a resign")
	}
}

func TestPublishStateLeaderOnly(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	if _, _, err := engine.RegisterTab(ctx, "user-1", "dev-1", "tab-a", 0); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	err := engine.PublishState(ctx, "user-1", "dev-1", "tab-b", "cart", 1, []byte(`{"items":1}`))
	if !errors.Is(err, ErrNotLeader) {
		t.Fatalf("got %v, want ErrNotLeader", err)
	}

	if err := engine.PublishState(ctx, "user-1", "dev-1", "tab-a", "cart", 1, []byte(`{"items":1}`)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if v := engine.Metrics().Value(MetricStatePublished); v != 1 {
		t.Errorf("publishes = %d, want 1", v)
	}
}

func TestPublishStateVersionMustAdvance(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	if _, _, err := engine.RegisterTab(ctx, "user-1", "dev-1", "tab-a", 0); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := engine.PublishState(ctx, "user-1", "dev-1", "tab-a", "cart", 3, []byte(`v3`)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	for _, version := range []int64{3, 2} {
		err := engine.PublishState(ctx, "user-1", "dev-1", "tab-a", "cart", version, []byte(`stale`))
		if !errors.Is(err, ErrStaleWrite) {
			t.Errorf("version %d: got %v, want ErrStaleWrite", version, err)
		}
	}

	state, err := engine.GetSharedState(ctx, "user-1", "cart")
	if err != nil {
		t.Fatalf("get state failed: %v", err)
	}
	if state.Version != 3 || string(state.Payload) != "v3" {
		t.Errorf("stale write mutated state: %+v", state)
	}
	if state.UpdatedBy != "tab-a" {
		t.Errorf("updated by %q, want tab-a", state.UpdatedBy)
	}

	if v := engine.Metrics().Value(MetricStateStaleRejected); v != 2 {
		t.Errorf("stale rejections = %d, want 2", v)
	}
}

func TestGetSharedStateEmptyScope(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())

	state, err := engine.GetSharedState(context.Background(), "user-1", "cart")
	if err != nil {
		t.Fatalf("get state failed: %v", err)
	}
	if state.Version != 0 || state.Payload != nil {
		t.Errorf("expected zero state, got %+v", state)
	}
	if state.UserID != "user-1" || state.Scope != "cart" {
		t.Errorf("identity missing on zero state: %+v", state)
	}
}

func TestClearSharedStateResetsVersions(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	if _, _, err := engine.RegisterTab(ctx, "user-1", "dev-1", "tab-a", 0); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := engine.PublishState(ctx, "user-1", "dev-1", "tab-a", "cart", 7, []byte(`v7`)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if err := engine.ClearSharedState(ctx, "user-1", "cart"); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	// Version numbering restarts from scratch.
	if err := engine.PublishState(ctx, "user-1", "dev-1", "tab-a", "cart", 1, []byte(`v1`)); err != nil {
		t.Fatalf("publish after clear failed: %v", err)
	}
	state, err := engine.GetSharedState(ctx, "user-1", "cart")
	if err != nil {
		t.Fatalf("get state failed: %v", err)
	}
	if state.Version != 1 {
		t.Errorf("version = %d, want 1", state.Version)
	}
}

func TestLeaderScopedPerDevice(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	if _, won, _ := engine.RegisterTab(ctx, "user-1", "dev-1", "tab-a", 0); !won {
		t.Fatal("first tab must lead")
	}
	if _, won, _ := engine.RegisterTab(ctx, "user-1", "dev-2", "tab-b", 0); !won {
		t.Error("each device elects its own leader")
	}
}
