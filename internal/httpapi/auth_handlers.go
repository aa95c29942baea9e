package httpapi

import (
	"context"
	"errors"
	"net/http"
	"unicode/utf8"

	"go.uber.org/zap"

	"vetrai.org/internal/auth"
)

const (
	minUsernameLen = 3
	minPasswordLen = 6
)

// Client-facing messages. Enumeration-equivalent failures share one string.
const (
	msgInvalidCredentials = "Invalid username or password"
	msgInactive           = "User account is inactive"
	msgBadRefresh         = "Invalid or expired refresh token"
	msgUserUnavailable    = "User not found or inactive"
	msgMissingHeader      = "Missing authorization header"
	msgBadHeader          = "Invalid authorization header format"
	msgBadToken           = "Invalid or expired token"
	msgInternal           = "Internal server error"
	msgUnavailable        = "Service temporarily unavailable"
	msgLoggedOut          = "Logged out successfully"
)

type loginRequest struct {
	Username *string `json:"username"`
	Password *string `json:"password"`
}

type loginResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	User         auth.Profile `json:"user"`
}

type refreshRequest struct {
	RefreshToken *string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// validationIssue mirrors one entry of a FastAPI 422 "detail" list.
type validationIssue struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

func writeValidation(w http.ResponseWriter, issues ...validationIssue) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": issues})
}

// decodeBody reports false after writing a 413/422 response.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(r, dst); err != nil {
		if isBodyTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		writeValidation(w, validationIssue{Loc: []string{"body"}, Msg: err.Error(), Type: "json_invalid"})
		return false
	}
	return true
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var issues []validationIssue
	switch {
	case req.Username == nil:
		issues = append(issues, validationIssue{Loc: []string{"body", "username"}, Msg: "Field required", Type: "missing"})
	case utf8.RuneCountInString(*req.Username) < minUsernameLen:
		issues = append(issues, validationIssue{Loc: []string{"body", "username"}, Msg: "String should have at least 3 characters", Type: "string_too_short"})
	}
	switch {
	case req.Password == nil:
		issues = append(issues, validationIssue{Loc: []string{"body", "password"}, Msg: "Field required", Type: "missing"})
	case utf8.RuneCountInString(*req.Password) < minPasswordLen:
		issues = append(issues, validationIssue{Loc: []string{"body", "password"}, Msg: "String should have at least 6 characters", Type: "string_too_short"})
	}
	if len(issues) > 0 {
		writeValidation(w, issues...)
		return
	}

	pair, u, err := a.svc.Login(r.Context(), *req.Username, *req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			_ = a.audit.Event(r.Context(), "auth.login.failed", zap.String("username", *req.Username), zap.String("reason", "invalid_credentials"))
			writeUnauthorized(w, msgInvalidCredentials)
		case errors.Is(err, auth.ErrInactive):
			_ = a.audit.Event(r.Context(), "auth.login.failed", zap.String("username", *req.Username), zap.String("reason", "inactive"))
			writeError(w, http.StatusForbidden, msgInactive)
		default:
			a.internalError(w, r, "login", err)
		}
		return
	}

	ctx := auth.ContextWithUser(r.Context(), u)
	_ = a.audit.Event(ctx, "auth.login")
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User:         u.Profile(),
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req refreshRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RefreshToken == nil {
		writeValidation(w, validationIssue{Loc: []string{"body", "refresh_token"}, Msg: "Field required", Type: "missing"})
		return
	}

	pair, err := a.svc.Refresh(r.Context(), *req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidToken):
			writeUnauthorized(w, msgBadRefresh)
		case errors.Is(err, auth.ErrUserUnavailable):
			writeUnauthorized(w, msgUserUnavailable)
		default:
			a.internalError(w, r, "refresh", err)
		}
		return
	}

	_ = a.audit.Event(r.Context(), "auth.refresh")
	writeJSON(w, http.StatusOK, refreshResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	u, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, msgMissingHeader)
		return
	}
	writeJSON(w, http.StatusOK, u.Profile())
}

// handleLogout never fails. A valid bearer, when present, only enriches the
// audit entry.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	ctx := r.Context()
	if header := r.Header.Get("Authorization"); header != "" {
		if u, err := a.svc.ResolveCaller(ctx, header); err == nil {
			ctx = auth.ContextWithUser(ctx, u)
		}
	}
	a.svc.Logout(ctx)
	_ = a.audit.Event(ctx, "auth.logout")
	writeJSON(w, http.StatusOK, map[string]string{"message": msgLoggedOut})
}

func (a *API) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		a.logger.Warn("auth request aborted", zap.String("op", op), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, msgUnavailable)
		return
	}
	a.logger.Error("auth request failed", zap.String("op", op), zap.Error(err))
	writeError(w, http.StatusInternalServerError, msgInternal)
}
