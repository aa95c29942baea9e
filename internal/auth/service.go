package auth

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"vetrai.org/internal/obs"
)

// dummyPassword is hashed once at startup so a login for an unknown user
// spends the same verification work as one for a known user.
const dummyPassword = "vetrai-timing-equalizer"

// Service provides login, refresh and caller resolution on top of the
// directory and token codec.
type Service struct {
	dir    *Directory
	codec  *Codec
	logger *zap.Logger
	tracer trace.Tracer

	dummyDigest string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithLogger sets the logger used for auth diagnostics.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// WithTracer overrides the tracer, mainly for tests.
func WithTracer(tracer trace.Tracer) ServiceOption {
	return func(s *Service) error {
		if tracer == nil {
			return errors.New("tracer is nil")
		}
		s.tracer = tracer
		return nil
	}
}

// NewService constructs the credential and session service.
func NewService(dir *Directory, codec *Codec, opts ...ServiceOption) (*Service, error) {
	if dir == nil || codec == nil {
		return nil, errors.New("directory and codec are required")
	}
	s := &Service{
		dir:    dir,
		codec:  codec,
		logger: zap.NewNop(),
		tracer: otel.Tracer("vetrai/auth"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	// Digests of a retired algorithm are upgraded on successful login, so
	// matching the primary algorithm covers the steady state.
	digest, err := dir.pool.hasher.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("prepare dummy digest: %w", err)
	}
	s.dummyDigest = digest
	return s, nil
}

// Directory exposes the underlying user directory.
func (s *Service) Directory() *Directory { return s.dir }

// Login verifies username/password and issues a fresh token pair. Unknown
// users and wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, username, password string) (TokenPair, *User, error) {
	ctx, span := s.tracer.Start(ctx, "auth.Login")
	defer span.End()

	u, err := s.dir.FindByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		if _, verr := s.dir.pool.Verify(ctx, password, s.dummyDigest); verr != nil {
			return TokenPair{}, nil, verr
		}
		s.reject(span, "login", "invalid_credentials")
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	if err != nil {
		return TokenPair{}, nil, s.fail(span, fmt.Errorf("lookup user: %w", err))
	}

	ok, err := s.dir.pool.Verify(ctx, password, u.PasswordHash)
	if err != nil {
		return TokenPair{}, nil, err
	}
	if !ok {
		s.reject(span, "login", "invalid_credentials")
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		s.reject(span, "login", "inactive")
		return TokenPair{}, nil, ErrInactive
	}
	s.dir.upgradeDigest(ctx, u, password)

	pair, err := s.issuePair(u)
	if err != nil {
		return TokenPair{}, nil, s.fail(span, err)
	}
	span.SetAttributes(attribute.Int64("user.id", u.ID))
	obs.RecordAuth("login", "ok")
	s.logger.Info("login succeeded", zap.Int64("user_id", u.ID), zap.Int64("org_id", u.OrgID))
	return pair, u, nil
}

// Refresh exchanges a refresh token for a new access token built from the
// user's current state. The refresh token itself is returned unchanged.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	ctx, span := s.tracer.Start(ctx, "auth.Refresh")
	defer span.End()

	claims, err := s.codec.DecodeRefresh(refreshToken)
	if err != nil {
		s.logger.Debug("refresh token rejected", zap.Error(err))
		s.reject(span, "refresh", "invalid_token")
		return TokenPair{}, err
	}
	u, err := s.loadActive(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrUserUnavailable) {
			s.reject(span, "refresh", "user_unavailable")
			return TokenPair{}, err
		}
		return TokenPair{}, s.fail(span, err)
	}

	access, accessExp, err := s.codec.IssueAccess(u)
	if err != nil {
		return TokenPair{}, s.fail(span, err)
	}
	obs.RecordAuth("refresh", "ok")
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// ResolveCaller authenticates the raw Authorization header value.
func (s *Service) ResolveCaller(ctx context.Context, authorization string) (*User, error) {
	token, err := ParseBearer(authorization)
	if err != nil {
		obs.RecordAuth("resolve", "bad_header")
		return nil, err
	}
	return s.Authenticate(ctx, token)
}

// Authenticate decodes an access token and returns its user as currently
// stored. Role and org come from storage, not from the token.
func (s *Service) Authenticate(ctx context.Context, token string) (*User, error) {
	ctx, span := s.tracer.Start(ctx, "auth.Authenticate")
	defer span.End()

	claims, err := s.codec.DecodeAccess(token)
	if err != nil {
		s.logger.Debug("access token rejected", zap.Error(err))
		s.reject(span, "resolve", "invalid_token")
		return nil, err
	}
	u, err := s.loadActive(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrUserUnavailable) {
			s.reject(span, "resolve", "user_unavailable")
			return nil, err
		}
		return nil, s.fail(span, err)
	}
	span.SetAttributes(attribute.Int64("user.id", u.ID))
	obs.RecordAuth("resolve", "ok")
	return u, nil
}

// Logout is advisory: tokens stay valid until they expire and clients are
// expected to discard them.
func (s *Service) Logout(ctx context.Context) {
	_, span := s.tracer.Start(ctx, "auth.Logout")
	defer span.End()

	fields := []zap.Field{}
	if u, ok := UserFromContext(ctx); ok {
		fields = append(fields, zap.Int64("user_id", u.ID))
	}
	obs.RecordAuth("logout", "ok")
	s.logger.Info("logout", fields...)
}

func (s *Service) loadActive(ctx context.Context, id int64) (*User, error) {
	u, err := s.dir.FindByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUserUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !u.IsActive {
		return nil, ErrUserUnavailable
	}
	return u, nil
}

func (s *Service) issuePair(u *User) (TokenPair, error) {
	access, accessExp, err := s.codec.IssueAccess(u)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := s.codec.IssueRefresh(u)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *Service) reject(span trace.Span, op, outcome string) {
	span.SetAttributes(attribute.String("auth.outcome", outcome))
	obs.RecordAuth(op, outcome)
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
