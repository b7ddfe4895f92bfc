package authcore

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	internalaudit "github.com/haloedesk/authcore/internal/audit"
	"github.com/haloedesk/authcore/internal/coordinate"
	"github.com/haloedesk/authcore/internal/rate"
	"github.com/haloedesk/authcore/internal/stores"
	"github.com/haloedesk/authcore/password"
	"github.com/haloedesk/authcore/realtime"
	"github.com/haloedesk/authcore/session"
	"github.com/haloedesk/authcore/token"
)

// Engine is the session authority. All state lives in Redis; the engine
// itself is stateless apart from background workers and safe for concurrent
// use. Construct via [New] and [Builder.Build].
type Engine struct {
	config       Config
	redis        redis.UniversalClient
	userProvider UserProvider
	passwords    *password.Argon2
	tokens       *token.Manager
	denylist     *token.Denylist
	sessions     *session.Store
	sweeper      *session.Sweeper
	devices      *stores.DeviceStore
	deviceCodes  *stores.DeviceCodeStore
	challenges   *stores.TwoFactorChallengeStore
	coordinator  *coordinate.Coordinator
	limiter      *rate.Limiter
	offline      *realtime.OfflineStore
	hub          *realtime.Hub
	totp         *totpManager
	audit        *internalaudit.Dispatcher
	metrics      *Metrics
	logger       *slog.Logger
}

// Close stops background workers and flushes buffered audit events. The
// engine must not be used afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.sweeper != nil {
		e.sweeper.Close()
	}
	e.audit.Close()
}

// Hub exposes the realtime hub so transports can register websocket clients.
func (e *Engine) Hub() *realtime.Hub {
	return e.hub
}

// Metrics exposes the engine's counter registry.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// Config returns a copy of the engine's effective configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// Ping reports Redis availability and round-trip latency.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	return e.sessions.Ping(ctx)
}

// MetricsSnapshot returns a point-in-time copy of every engine counter and
// histogram. Exporters poll this on their collection cycle.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// AuditDropped reports how many audit events were dropped because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.Dropped()
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.Inc(id)
}

// publishEvent fans a security event out through the hub and mirrors it as a
// counter.
func (e *Engine) publishEvent(ctx context.Context, event realtime.SecurityEvent) {
	if e.hub == nil {
		return
	}
	e.metricInc(MetricEventPublished)
	e.hub.Publish(ctx, event)
}
