package authcore

import (
	"errors"
	"time"
)

// Config defines the full engine configuration. Zero values are replaced by
// defaultConfig(); Build validates the merged result and rejects unsafe
// combinations.
type Config struct {
	Token      TokenConfig
	Session    SessionConfig
	Device     DeviceConfig
	TwoFactor  TwoFactorConfig
	Leader     LeaderConfig
	Events     EventsConfig
	RateLimit  RateLimitConfig
	Timing     TimingConfig
	Password   PasswordConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
	KeyPrefix  string
	CookieName CookieNames
}

// TokenConfig controls issuance and verification of the three token kinds.
//
// RememberMeMultiplier applies a single fixed multiplier to RefreshTTL when a
// login requests persistence. The policy here is 7x (24h base, 7 days
// remembered); it is deliberately one constant rather than a per-call knob.
type TokenConfig struct {
	AccessTTL            time.Duration
	RefreshTTL           time.Duration
	RememberMeMultiplier int
	TempTTL              time.Duration
	SigningMethod        string // "hs256" or "ed25519"
	PrivateKey           []byte
	PublicKey            []byte
	Issuer               string
	Leeway               time.Duration
}

// SessionConfig controls session lifetime policy.
//
// Sliding extension on activity never pushes a session's expiry past
// CreatedAt + MaxAbsoluteLifetime.
type SessionConfig struct {
	SlidingWindow        time.Duration
	MaxAbsoluteLifetime  time.Duration
	EndedRetention       time.Duration
	SweepInterval        time.Duration
	MaxSessionsPerDevice int
}

// DeviceConfig controls device trust and verification codes.
type DeviceConfig struct {
	Enabled         bool
	CodeTTL         time.Duration
	CodeDigits      int
	CodeMaxAttempts int
	RequireTrusted  bool
}

// TwoFactorConfig controls the login challenge state machine.
type TwoFactorConfig struct {
	Enabled      bool
	ChallengeTTL time.Duration
	MaxAttempts  int
	Issuer       string
	Digits       int
	Period       int
	Skew         int
}

// LeaderConfig controls cross-tab leader election.
type LeaderConfig struct {
	HeartbeatTimeout time.Duration
}

// EventsConfig controls offline persistence of security events.
type EventsConfig struct {
	OfflineTTL    time.Duration
	OfflineMaxLen int
}

// RateLimitConfig controls the login/refresh throttles.
type RateLimitConfig struct {
	Enabled            bool
	MaxLoginAttempts   int
	LoginWindow        time.Duration
	LockoutDuration    time.Duration
	MaxRefreshAttempts int
	RefreshWindow      time.Duration
}

// TimingConfig controls the login latency floor. Every login response,
// success or failure, is padded to a uniform random delay in [MinLatency,
// MaxLatency] so response timing cannot distinguish failure causes.
type TimingConfig struct {
	Enabled    bool
	MinLatency time.Duration
	MaxLatency time.Duration
}

// PasswordConfig holds argon2id parameters.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process metrics registry.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// CookieNames are the cookie identifiers consumed by httpapi and middleware.
type CookieNames struct {
	Access  string
	Refresh string
	CSRF    string
}

// DefaultConfig returns the configuration [New] starts from. Callers adjust
// fields and pass the result to [Builder.WithConfig].
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:            15 * time.Minute,
			RefreshTTL:           24 * time.Hour,
			RememberMeMultiplier: 7,
			TempTTL:              5 * time.Minute,
			SigningMethod:        "ed25519",
			Issuer:               "authcore",
		},
		Session: SessionConfig{
			SlidingWindow:       24 * time.Hour,
			MaxAbsoluteLifetime: 30 * 24 * time.Hour,
			EndedRetention:      24 * time.Hour,
			SweepInterval:       10 * time.Minute,
		},
		Device: DeviceConfig{
			Enabled:         true,
			CodeTTL:         10 * time.Minute,
			CodeDigits:      6,
			CodeMaxAttempts: 3,
		},
		TwoFactor: TwoFactorConfig{
			Enabled:      true,
			ChallengeTTL: 5 * time.Minute,
			MaxAttempts:  5,
			Issuer:       "authcore",
			Digits:       6,
			Period:       30,
			Skew:         1,
		},
		Leader: LeaderConfig{
			HeartbeatTimeout: 10 * time.Second,
		},
		Events: EventsConfig{
			OfflineTTL:    24 * time.Hour,
			OfflineMaxLen: 256,
		},
		RateLimit: RateLimitConfig{
			Enabled:            true,
			MaxLoginAttempts:   5,
			LoginWindow:        15 * time.Minute,
			LockoutDuration:    15 * time.Minute,
			MaxRefreshAttempts: 30,
			RefreshWindow:      time.Minute,
		},
		Timing: TimingConfig{
			Enabled:    true,
			MinLatency: 100 * time.Millisecond,
			MaxLatency: 300 * time.Millisecond,
		},
		Password: PasswordConfig{
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		KeyPrefix: "ac",
		CookieName: CookieNames{
			Access:  "access_token",
			Refresh: "refresh_token",
			CSRF:    "csrf_token",
		},
	}
}

// Validate checks the configuration for unsafe or inconsistent values.
func (c *Config) Validate() error {
	if c.Token.AccessTTL <= 0 || c.Token.RefreshTTL <= 0 || c.Token.TempTTL <= 0 {
		return errors.New("token TTLs must be positive")
	}
	if c.Token.AccessTTL >= c.Token.RefreshTTL {
		return errors.New("access TTL must be shorter than refresh TTL")
	}
	if c.Token.RememberMeMultiplier < 1 {
		return errors.New("rememberMe multiplier must be >= 1")
	}
	switch c.Token.SigningMethod {
	case "hs256", "ed25519":
	default:
		return errors.New("unsupported signing method")
	}
	if c.Session.SlidingWindow <= 0 {
		return errors.New("session sliding window must be positive")
	}
	if c.Session.MaxAbsoluteLifetime < c.Session.SlidingWindow {
		return errors.New("absolute session lifetime must be >= sliding window")
	}
	if c.Session.MaxAbsoluteLifetime < c.Token.RefreshTTL*time.Duration(c.Token.RememberMeMultiplier) {
		return errors.New("absolute session lifetime must cover the remembered refresh TTL")
	}
	if c.Device.Enabled {
		if c.Device.CodeDigits < 6 || c.Device.CodeDigits > 10 {
			return errors.New("device code digits must be 6..10")
		}
		if c.Device.CodeMaxAttempts < 1 {
			return errors.New("device code max attempts must be >= 1")
		}
		if c.Device.CodeTTL <= 0 {
			return errors.New("device code TTL must be positive")
		}
	}
	if c.TwoFactor.Enabled {
		if c.TwoFactor.ChallengeTTL <= 0 || c.TwoFactor.MaxAttempts < 1 {
			return errors.New("invalid two-factor challenge configuration")
		}
		if c.TwoFactor.Period <= 0 || c.TwoFactor.Digits < 6 {
			return errors.New("invalid two-factor code configuration")
		}
	}
	if c.Leader.HeartbeatTimeout <= 0 {
		return errors.New("leader heartbeat timeout must be positive")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.MaxLoginAttempts < 1 || c.RateLimit.LoginWindow <= 0 || c.RateLimit.LockoutDuration <= 0 {
			return errors.New("invalid login rate limit configuration")
		}
	}
	if c.Timing.Enabled {
		if c.Timing.MinLatency < 0 || c.Timing.MaxLatency < c.Timing.MinLatency {
			return errors.New("invalid timing defense configuration")
		}
	}
	if c.KeyPrefix == "" {
		return errors.New("key prefix must not be empty")
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
