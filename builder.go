package authcore

import (
	"errors"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/haloedesk/authcore/internal/coordinate"
	"github.com/haloedesk/authcore/internal/rate"
	"github.com/haloedesk/authcore/internal/stores"
	"github.com/haloedesk/authcore/password"
	"github.com/haloedesk/authcore/realtime"
	"github.com/haloedesk/authcore/session"
	"github.com/haloedesk/authcore/token"
)

// Builder assembles an [Engine]. Obtain one with [New], chain the With*
// methods, then call [Builder.Build] exactly once.
type Builder struct {
	config       Config
	redis        redis.UniversalClient
	userProvider UserProvider
	auditSink    AuditSink
	logger       *slog.Logger
	built        bool
}

// New returns a Builder preloaded with the default configuration.
func New() *Builder {
	return &Builder{config: defaultConfig()}
}

// WithConfig replaces the default configuration. Zero-valued sections keep
// their defaults only if the caller copied them from [New]'s config first;
// Build validates the final result either way.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client shared by every engine subsystem.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserProvider sets the caller's user database adapter.
func (b *Builder) WithUserProvider(provider UserProvider) *Builder {
	b.userProvider = provider
	return b
}

// WithAuditSink sets the destination for audit events. Without a sink,
// enabled auditing discards events through a no-op sink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the structured logger used by the realtime hub. Defaults
// to slog.Default().
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithMetricsEnabled toggles the in-process metrics registry.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles validation latency histograms. Implies
// nothing unless metrics are enabled.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every subsystem. The Builder
// must not be reused afterwards.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client is required")
	}
	if b.userProvider == nil {
		return nil, errors.New("user provider is required")
	}
	if err := b.config.Validate(); err != nil {
		return nil, err
	}
	b.built = true

	cfg := b.config

	hasher, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	tokens, err := token.NewManager(token.Config{
		AccessTTL:     cfg.Token.AccessTTL,
		RefreshTTL:    cfg.Token.RefreshTTL,
		TempTTL:       cfg.Token.TempTTL,
		SigningMethod: token.SigningMethod(cfg.Token.SigningMethod),
		PrivateKey:    cfg.Token.PrivateKey,
		PublicKey:     cfg.Token.PublicKey,
		Issuer:        cfg.Token.Issuer,
		Leeway:        cfg.Token.Leeway,
	})
	if err != nil {
		return nil, err
	}

	sessions := session.NewStore(b.redis, cfg.KeyPrefix, session.Config{
		SlidingWindow:       cfg.Session.SlidingWindow,
		MaxAbsoluteLifetime: cfg.Session.MaxAbsoluteLifetime,
		EndedRetention:      cfg.Session.EndedRetention,
	})

	limiter := rate.New(b.redis, rate.Config{
		EnableIPThrottle:      cfg.RateLimit.Enabled,
		EnableRefreshThrottle: cfg.RateLimit.Enabled,
		MaxLoginAttempts:      cfg.RateLimit.MaxLoginAttempts,
		LoginWindow:           cfg.RateLimit.LoginWindow,
		LockoutDuration:       cfg.RateLimit.LockoutDuration,
		MaxRefreshAttempts:    cfg.RateLimit.MaxRefreshAttempts,
		RefreshWindow:         cfg.RateLimit.RefreshWindow,
	})

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	offline := realtime.NewOfflineStore(b.redis, cfg.Events.OfflineTTL, cfg.Events.OfflineMaxLen)

	engine := &Engine{
		config:       cfg,
		redis:        b.redis,
		userProvider: b.userProvider,
		passwords:    hasher,
		tokens:       tokens,
		denylist:     token.NewDenylist(b.redis),
		sessions:     sessions,
		sweeper:      session.NewSweeper(sessions, cfg.Session.SweepInterval),
		devices:      stores.NewDeviceStore(b.redis),
		deviceCodes:  stores.NewDeviceCodeStore(b.redis),
		challenges:   stores.NewTwoFactorChallengeStore(b.redis, cfg.KeyPrefix+":mc"),
		coordinator:  coordinate.NewCoordinator(b.redis, cfg.Leader.HeartbeatTimeout),
		limiter:      limiter,
		offline:      offline,
		hub:          realtime.NewHub(offline, logger),
		totp:         newTOTPManager(cfg.TwoFactor),
		audit:        newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:      NewMetrics(cfg.Metrics),
		logger:       logger,
	}

	return engine, nil
}
