package auth

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("auth: not found")
	ErrConflict      = errors.New("auth: already exists")
	ErrInvalidInput  = errors.New("auth: invalid input")
	ErrUnauthorized  = errors.New("auth: unauthorized")
	ErrForbidden     = errors.New("auth: forbidden")
	ErrInvalidToken  = errors.New("auth: invalid token")
	ErrMissingSecret = errors.New("auth: signing secret is not configured")
)

// Login failures. Both wrap the generic taxonomy so callers can switch on
// ErrUnauthorized / ErrForbidden alone.
var (
	ErrInvalidCredentials = fmt.Errorf("%w: invalid username or password", ErrUnauthorized)
	ErrInactive           = fmt.Errorf("%w: user account is inactive", ErrForbidden)
)

// ErrUserUnavailable reports that a token decoded fine but its user is gone
// or deactivated.
var ErrUserUnavailable = fmt.Errorf("%w: user not found or inactive", ErrUnauthorized)

// Token decode failures. The distinction is diagnostic only.
var (
	ErrTokenExpired   = fmt.Errorf("%w: expired", ErrInvalidToken)
	ErrTokenSignature = fmt.Errorf("%w: bad signature", ErrInvalidToken)
	ErrTokenMalformed = fmt.Errorf("%w: malformed", ErrInvalidToken)
	ErrTokenType      = fmt.Errorf("%w: wrong token type", ErrInvalidToken)
)

// Bearer header failures, reported as unauthorized.
var (
	ErrMissingAuthHeader = fmt.Errorf("%w: missing authorization header", ErrUnauthorized)
	ErrBadAuthHeader     = fmt.Errorf("%w: invalid authorization header format", ErrUnauthorized)
)
