package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenIssuer = "vetrai"

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"

	DefaultAccessTTL  = 30 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour

	// issuedAtLeeway bounds how far ahead of us another replica's clock may
	// be before its tokens are refused.
	issuedAtLeeway = 30 * time.Second
)

// AccessClaims is the payload of an access token.
type AccessClaims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	OrgID    int64  `json:"org_id"`
	Role     Role   `json:"role"`
	Type     string `json:"type"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a refresh token. It carries no
// authorization data; role and org are always re-read from storage.
type RefreshClaims struct {
	UserID int64  `json:"user_id"`
	Type   string `json:"type"`
	jwt.RegisteredClaims
}

// CodecConfig configures token signing.
type CodecConfig struct {
	Secret     string
	Algorithm  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Codec issues and decodes signed access and refresh tokens.
type Codec struct {
	key        []byte
	method     jwt.SigningMethod
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// CodecOption customizes a Codec.
type CodecOption func(*Codec)

// WithClock overrides the time source used for issuing and validating tokens.
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCodec validates cfg and returns a ready Codec.
func NewCodec(cfg CodecConfig, opts ...CodecOption) (*Codec, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, ErrMissingSecret
	}
	method, err := signingMethod(cfg.Algorithm)
	if err != nil {
		return nil, err
	}
	c := &Codec{
		key:        []byte(secret),
		method:     method,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}
	if c.accessTTL <= 0 {
		c.accessTTL = DefaultAccessTTL
	}
	if c.refreshTTL <= 0 {
		c.refreshTTL = DefaultRefreshTTL
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func signingMethod(name string) (jwt.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "HS256":
		return jwt.SigningMethodHS256, nil
	case "HS384":
		return jwt.SigningMethodHS384, nil
	case "HS512":
		return jwt.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("%w: unsupported signing algorithm %q", ErrInvalidInput, name)
	}
}

// AccessTTL returns the configured access token lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

func (c *Codec) registered(u *User, ttl time.Duration) jwt.RegisteredClaims {
	now := c.now().UTC()
	return jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   strconv.FormatInt(u.ID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
}

// IssueAccess signs an access token carrying u's current identity, org and role.
func (c *Codec) IssueAccess(u *User) (string, time.Time, error) {
	if u == nil || u.ID <= 0 {
		return "", time.Time{}, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	claims := AccessClaims{
		UserID:           u.ID,
		Username:         u.Username,
		Email:            u.Email,
		OrgID:            u.OrgID,
		Role:             u.Role,
		Type:             tokenTypeAccess,
		RegisteredClaims: c.registered(u, c.accessTTL),
	}
	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// IssueRefresh signs a refresh token that identifies u only.
func (c *Codec) IssueRefresh(u *User) (string, time.Time, error) {
	if u == nil || u.ID <= 0 {
		return "", time.Time{}, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	claims := RefreshClaims{
		UserID:           u.ID,
		Type:             tokenTypeRefresh,
		RegisteredClaims: c.registered(u, c.refreshTTL),
	}
	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// DecodeAccess verifies token and requires it to be an access token.
func (c *Codec) DecodeAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.parse(token, claims); err != nil {
		return nil, err
	}
	if claims.Type != tokenTypeAccess {
		return nil, ErrTokenType
	}
	if claims.UserID <= 0 {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

// DecodeRefresh verifies token and requires it to be a refresh token.
func (c *Codec) DecodeRefresh(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := c.parse(token, claims); err != nil {
		return nil, err
	}
	if claims.Type != tokenTypeRefresh {
		return nil, ErrTokenType
	}
	if claims.UserID <= 0 {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

func (c *Codec) parse(token string, claims jwt.Claims) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrTokenMalformed
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return c.key, nil
	})
	if err != nil {
		return classifyJWTError(err)
	}
	// Expiry is exact; only iat tolerates issuer clocks running ahead.
	iat, err := claims.GetIssuedAt()
	if err != nil {
		return ErrTokenMalformed
	}
	if iat != nil && iat.After(c.now().Add(issuedAtLeeway)) {
		return ErrTokenMalformed
	}
	return nil
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrTokenSignature
	default:
		return ErrTokenMalformed
	}
}
