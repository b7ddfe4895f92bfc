package authcore

import (
	"context"
	"errors"

	"github.com/haloedesk/authcore/internal/coordinate"
	"github.com/haloedesk/authcore/realtime"
)

// RegisterTab enters the tab into leader election for its (user, device)
// pair. The call is idempotent: the current leader re-registering refreshes
// its heartbeat. A higher-priority tab preempts the incumbent; so does any
// tab once the incumbent's heartbeat has gone stale. Returns the resulting
// leader state and whether the caller now leads.
func (e *Engine) RegisterTab(ctx context.Context, userID, deviceID, tabID string, priority int) (LeaderState, bool, error) {
	if e == nil {
		return LeaderState{}, false, ErrEngineNotReady
	}

	previous, err := e.coordinator.Current(ctx, userID, deviceID)
	if err != nil {
		return LeaderState{}, false, err
	}

	state, won, err := e.coordinator.Register(ctx, userID, deviceID, tabID, priority)
	if err != nil {
		return LeaderState{}, false, err
	}

	if won && previous.LeaderTabID != tabID {
		if previous.LeaderTabID != "" {
			e.metricInc(MetricLeaderPreempted)
		}
		e.metricInc(MetricLeaderElected)
		e.emitAudit(ctx, auditEventLeaderElected, true, userID, "", deviceID, tabID, nil, nil)

		event := realtime.NewEvent(realtime.EventLeaderChanged, realtime.DirectionDown,
			userID, deviceID, "", "")
		event.Payload = map[string]string{
			"leader_tab_id":   tabID,
			"previous_tab_id": previous.LeaderTabID,
		}
		e.publishEvent(ctx, event)
	}

	return leaderState(userID, deviceID, state), won, nil
}

// HeartbeatTab refreshes the caller's leadership. Non-leaders get
// ErrNotLeader and should call [Engine.RegisterTab] again.
func (e *Engine) HeartbeatTab(ctx context.Context, userID, deviceID, tabID string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	if err := e.coordinator.Heartbeat(ctx, userID, deviceID, tabID); err != nil {
		if errors.Is(err, coordinate.ErrNotLeader) {
			return ErrNotLeader
		}
		return err
	}
	return nil
}

// ResignTab releases leadership voluntarily, typically from a page-unload
// handler. The next RegisterTab wins immediately instead of waiting out the
// heartbeat timeout. Resigning without holding leadership is a no-op.
func (e *Engine) ResignTab(ctx context.Context, userID, deviceID, tabID string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	if err := e.coordinator.Resign(ctx, userID, deviceID, tabID); err != nil {
		return err
	}

	e.emitAudit(ctx, auditEventLeaderResigned, true, userID, "", deviceID, tabID, nil, nil)

	event := realtime.NewEvent(realtime.EventLeaderChanged, realtime.DirectionDown,
		userID, deviceID, "", "")
	event.Payload = map[string]string{
		"leader_tab_id":   "",
		"previous_tab_id": tabID,
	}
	e.publishEvent(ctx, event)

	return nil
}

// CurrentLeader returns the leadership record for the (user, device) pair.
// A stale or missing leader yields a zero-valued state.
func (e *Engine) CurrentLeader(ctx context.Context, userID, deviceID string) (LeaderState, error) {
	if e == nil {
		return LeaderState{}, ErrEngineNotReady
	}

	state, err := e.coordinator.Current(ctx, userID, deviceID)
	if err != nil {
		return LeaderState{}, err
	}
	return leaderState(userID, deviceID, state), nil
}

// PublishState writes a new shared-state version for the user's scope. Only
// the leader tab of the (user, device) pair may publish, and the version
// must strictly advance; a losing write returns ErrStaleWrite together with
// no side effects. Followers are notified through the event stream.
func (e *Engine) PublishState(ctx context.Context, userID, deviceID, tabID, scope string, version int64, payload []byte) error {
	if e == nil {
		return ErrEngineNotReady
	}

	_, err := e.coordinator.Publish(ctx, userID, deviceID, tabID, scope, version, payload, false)
	if err != nil {
		switch {
		case errors.Is(err, coordinate.ErrNotLeader):
			return ErrNotLeader
		case errors.Is(err, coordinate.ErrStaleWrite):
			e.metricInc(MetricStateStaleRejected)
			return ErrStaleWrite
		default:
			return err
		}
	}

	e.metricInc(MetricStatePublished)
	e.emitAudit(ctx, auditEventStatePublished, true, userID, "", deviceID, tabID, nil, func() map[string]string {
		return map[string]string{"scope": scope}
	})

	event := realtime.NewEvent(realtime.EventStateUpdated, realtime.DirectionUp,
		userID, deviceID, "", tabID)
	event.Payload = map[string]string{"scope": scope}
	e.publishEvent(ctx, event)

	return nil
}

// GetSharedState returns the latest shared state for the user's scope, or
// a zero state when nothing has been published.
func (e *Engine) GetSharedState(ctx context.Context, userID, scope string) (SharedState, error) {
	if e == nil {
		return SharedState{}, ErrEngineNotReady
	}

	state, err := e.coordinator.GetState(ctx, userID, scope)
	if err != nil {
		if errors.Is(err, coordinate.ErrNoState) {
			return SharedState{UserID: userID, Scope: scope}, nil
		}
		return SharedState{}, err
	}

	return SharedState{
		UserID:    userID,
		Scope:     state.Scope,
		Version:   state.Version,
		Payload:   state.Payload,
		UpdatedBy: state.UpdatedBy,
		UpdatedAt: state.UpdatedAt,
	}, nil
}

// ClearSharedState removes the shared state for a scope, resetting the
// version sequence. Used when the state's subject (a draft, a wizard) is
// discarded.
func (e *Engine) ClearSharedState(ctx context.Context, userID, scope string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	return e.coordinator.ClearState(ctx, userID, scope)
}

func leaderState(userID, deviceID string, state coordinate.LeaderState) LeaderState {
	return LeaderState{
		UserID:        userID,
		DeviceID:      deviceID,
		LeaderTabID:   state.LeaderTabID,
		Priority:      state.Priority,
		LastHeartbeat: state.LastHeartbeat,
	}
}
