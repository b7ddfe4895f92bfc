package authcore

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/haloedesk/authcore/internal/audit"
)

// UserProvider is the interface callers must implement to integrate authcore
// with their user database. It covers credential lookup, password updates,
// the per-user token version counter, and MFA secret storage. The provider
// owns persistence; authcore never stores credentials itself.
type UserProvider interface {
	GetUserByIdentifier(ctx context.Context, identifier string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	UpdatePasswordHash(ctx context.Context, userID, newHash string) error

	// IncrementTokenVersion atomically bumps the user's token version counter
	// and returns the new value. Every outstanding token carrying an older
	// version fails verification afterwards.
	IncrementTokenVersion(ctx context.Context, userID string) (uint32, error)

	GetMFASecret(ctx context.Context, userID string) (*MFARecord, error)
	EnableMFA(ctx context.Context, userID string, secret []byte) error
	DisableMFA(ctx context.Context, userID string) error
}

// UserRecord is the account record returned by [UserProvider].
type UserRecord struct {
	UserID       string
	Identifier   string
	PasswordHash string
	Role         string
	TokenVersion uint32
	MFAEnabled   bool
}

// MFARecord is retrieved from [UserProvider.GetMFASecret]. LastUsedCounter
// provides replay protection for time-based codes.
type MFARecord struct {
	Secret          []byte
	Enabled         bool
	LastUsedCounter int64
}

// LoginRequest carries the client-supplied context of a login attempt.
// Fingerprint identifies the device; TabID is optional and only used for
// realtime room membership and leader election.
type LoginRequest struct {
	Identifier  string
	Password    string
	Fingerprint string
	DeviceName  string
	TabID       string
	RememberMe  bool

	// TrustDevice asks to mark the device trusted once the login fully
	// completes. Only honored when the login is confirmed with a second
	// factor; password-only logins trust devices through code verification.
	TrustDevice bool
}

// LoginResult is returned by [Engine.Login] and [Engine.ConfirmTwoFactor].
// When RequiresTwoFactor is set, no session exists yet and TempToken must be
// presented to ConfirmTwoFactor together with a valid code.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	CSRFToken    string
	SessionID    string
	DeviceID     string
	ExpiresAt    time.Time

	RequiresTwoFactor bool
	TempToken         string
}

// AuthResult is the resolved identity produced by [Engine.Validate].
// Downstream modules consume only UserID and Role.
type AuthResult struct {
	UserID    string
	SessionID string
	DeviceID  string
	Role      string
}

// SessionInfo is a read-only snapshot of one session record, returned by
// [Engine.ListSessions].
type SessionInfo struct {
	SessionID      string
	UserID         string
	DeviceID       string
	TabID          string
	RememberMe     bool
	IsActive       bool
	EndReason      string
	CreatedAt      time.Time
	LastActivityAt time.Time
	ExpiresAt      time.Time
	EndedAt        time.Time
}

// DeviceInfo is a read-only snapshot of a known device.
type DeviceInfo struct {
	DeviceID   string
	UserID     string
	Name       string
	Trusted    bool
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// LeaderState describes the current leader tab for one (user, device) pair.
type LeaderState struct {
	UserID        string
	DeviceID      string
	LeaderTabID   string
	Priority      int
	LastHeartbeat time.Time
}

// SharedState is the leader-written state shared by all tabs of a user.
// Version is strictly increasing per (user, scope); stale writes are rejected.
type SharedState struct {
	UserID    string
	Scope     string
	Version   int64
	Payload   []byte
	UpdatedBy string
	UpdatedAt time.Time
}

// MFAProvision holds the raw secret and otpauth:// URI returned by
// [Engine.ProvisionMFA]. The secret is only enabled after the first valid
// code is confirmed through [Engine.EnableMFA].
type MFAProvision struct {
	Secret       []byte
	SecretBase32 string
	URI          string
}

// SecurityReport is a read-only snapshot of the engine's security posture.
type SecurityReport struct {
	SigningAlgorithm       string
	AccessTTL              time.Duration
	RefreshTTL             time.Duration
	RememberMeMultiplier   int
	RotationEnabled        bool
	ReplayEscalation       bool
	TwoFactorEnabled       bool
	DeviceTrustEnabled     bool
	RateLimitingActive     bool
	TimingDefenseActive    bool
	LeaderTimeout          time.Duration
	OfflineEventTTL        time.Duration
	MaxAbsoluteSessionLife time.Duration
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
