package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the JWT signature algorithm.
type SigningMethod string

const (
	// MethodEd25519 signs with EdDSA over Curve25519.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with HMAC-SHA256 and a shared secret.
	MethodHS256 SigningMethod = "hs256"
)

// Type discriminates the three token kinds the manager issues. The kind is
// embedded in the claims, so an access token can never pass where a refresh
// token is required and vice versa.
type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
	TypeTemp    Type = "temp"
)

// Config holds manager construction parameters. Instances are immutable
// after NewManager.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	TempTTL       time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

// Claims is the claim set carried by every authcore token. TokenVersion
// mirrors the user's revocation counter at issuance time; ChallengeID is set
// only on temp tokens and binds them to one pending two-factor challenge.
type Claims struct {
	UID          string `json:"uid"`
	SID          string `json:"sid,omitempty"`
	DID          string `json:"did,omitempty"`
	Role         string `json:"role,omitempty"`
	TokenVersion uint32 `json:"tv"`
	TokenType    Type   `json:"typ"`
	ChallengeID  string `json:"cid,omitempty"`
	jwt.RegisteredClaims
}

// Manager signs and verifies authcore tokens. Safe for concurrent use.
type Manager struct {
	config Config
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 || cfg.TempTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("ed25519 requires private key")
		}
		if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
			return nil, err
		}
		if len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key")
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	return &Manager{config: cfg}, nil
}

// Issued describes one signed token.
type Issued struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// IssueAccess signs a short-lived access token for the session.
func (m *Manager) IssueAccess(uid, sid, did, role string, tokenVersion uint32) (Issued, error) {
	return m.issue(Claims{
		UID:          uid,
		SID:          sid,
		DID:          did,
		Role:         role,
		TokenVersion: tokenVersion,
		TokenType:    TypeAccess,
	}, m.config.AccessTTL)
}

// IssueRefresh signs a refresh token. ttl overrides the configured refresh
// TTL when positive; the rememberMe multiplier is applied by the caller.
func (m *Manager) IssueRefresh(uid, sid, did string, tokenVersion uint32, ttl time.Duration) (Issued, error) {
	if ttl <= 0 {
		ttl = m.config.RefreshTTL
	}
	return m.issue(Claims{
		UID:          uid,
		SID:          sid,
		DID:          did,
		TokenVersion: tokenVersion,
		TokenType:    TypeRefresh,
	}, ttl)
}

// IssueTemp signs the short-lived token handed out between password
// verification and two-factor confirmation. It grants nothing except the
// right to answer its challenge.
func (m *Manager) IssueTemp(uid, challengeID string, tokenVersion uint32) (Issued, error) {
	return m.issue(Claims{
		UID:          uid,
		TokenVersion: tokenVersion,
		TokenType:    TypeTemp,
		ChallengeID:  challengeID,
	}, m.config.TempTTL)
}

func (m *Manager) issue(claims Claims, ttl time.Duration) (Issued, error) {
	now := time.Now()
	jti := uuid.NewString()
	expiresAt := now.Add(ttl)

	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        jti,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    m.config.Issuer,
	}

	tok := jwt.NewWithClaims(m.getMethod(), claims)
	signKey, err := m.getSignKey()
	if err != nil {
		return Issued{}, err
	}

	signed, err := tok.SignedString(signKey)
	if err != nil {
		return Issued{}, err
	}

	return Issued{Token: signed, JTI: jti, ExpiresAt: expiresAt}, nil
}

// Parse verifies the signature and registered claims of tokenStr and checks
// that it is of the wanted kind. Expiry maps to ErrExpired, everything else
// that fails validation maps to ErrInvalid.
func (m *Manager) Parse(tokenStr string, want Type) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.getMethod().Alg()}),
		jwt.WithIssuedAt(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	tok, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != m.getMethod().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return m.getVerifyKey()
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, ErrInvalid
	}
	if claims.ID == "" {
		return nil, ErrInvalid
	}
	if claims.TokenType != want {
		return nil, ErrWrongType
	}

	return claims, nil
}

func (m *Manager) getMethod() jwt.SigningMethod {
	switch m.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (m *Manager) getSignKey() (interface{}, error) {
	switch m.config.SigningMethod {
	case MethodHS256:
		return m.config.PrivateKey, nil
	default:
		return parseEdPrivateKey(m.config.PrivateKey)
	}
}

func (m *Manager) getVerifyKey() (interface{}, error) {
	switch m.config.SigningMethod {
	case MethodHS256:
		return m.config.PrivateKey, nil
	default:
		return parseEdPublicKey(m.config.PublicKey)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
