package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"vetrai.org/internal/auth"
)

const authHeader = "Authorization"

// RequireUser resolves the bearer caller and stores the user and raw token
// in the request context. Failures are answered with 401 and the detail
// matching the failed step.
func RequireUser(svc *auth.Service, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			header := r.Header.Get(authHeader)
			u, err := svc.ResolveCaller(r.Context(), header)
			if err != nil {
				if detail, ok := unauthorizedDetail(err); ok {
					writeUnauthorized(w, detail)
					return
				}
				logger.Error("authentication error", zap.Error(err))
				writeError(w, http.StatusInternalServerError, msgInternal)
				return
			}
			ctx := auth.ContextWithUser(r.Context(), u)
			if token, err := auth.ParseBearer(header); err == nil {
				ctx = auth.ContextWithToken(ctx, token)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole admits callers holding any of roles. It must run after
// RequireUser.
func RequireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, ok := auth.UserFromContext(r.Context())
			if !ok {
				writeUnauthorized(w, msgMissingHeader)
				return
			}
			if !u.HasRole(roles...) {
				writeError(w, http.StatusForbidden, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorizedDetail(err error) (string, bool) {
	switch {
	case errors.Is(err, auth.ErrMissingAuthHeader):
		return msgMissingHeader, true
	case errors.Is(err, auth.ErrBadAuthHeader):
		return msgBadHeader, true
	case errors.Is(err, auth.ErrInvalidToken):
		return msgBadToken, true
	case errors.Is(err, auth.ErrUserUnavailable):
		return msgUserUnavailable, true
	case errors.Is(err, auth.ErrUnauthorized):
		return msgBadToken, true
	}
	return "", false
}
