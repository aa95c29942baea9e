package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"vetrai.org/internal/auth"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireRoleAllowsMatchingRole(t *testing.T) {
	handler := RequireRole(auth.RoleOrgAdmin)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	req = req.WithContext(auth.ContextWithUser(req.Context(), &auth.User{ID: 1, Role: auth.RoleOrgAdmin, IsActive: true}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRequireRoleSuperAdminPasses(t *testing.T) {
	handler := RequireRole(auth.RoleOrgAdmin)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	req = req.WithContext(auth.ContextWithUser(req.Context(), &auth.User{ID: 1, Role: auth.RoleSuperAdmin, IsActive: true}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRequireRoleRejectsMissingRole(t *testing.T) {
	handler := RequireRole(auth.RoleOrgAdmin)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	req = req.WithContext(auth.ContextWithUser(req.Context(), &auth.User{ID: 1, Role: auth.RoleUser, IsActive: true}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestRequireRoleRejectsMissingUser(t *testing.T) {
	handler := RequireRole(auth.RoleOrgAdmin)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got == "" {
		t.Fatalf("expected WWW-Authenticate header set")
	}
}

func TestRequireUserChainsIntoRole(t *testing.T) {
	c := newTestAPI(t, Options{})
	c.createUser("alice", "wonderland")
	pair, _, err := c.svc.Login(t.Context(), "alice", "wonderland")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	var token string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, _ = auth.TokenFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	gate := RequireUser(c.svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rr := httptest.NewRecorder()
	gate(inner).ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || token != pair.AccessToken {
		t.Fatalf("expected 200 with token in context, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	gate(RequireRole(auth.RoleSuperAdmin)(inner)).ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for plain user, got %d", rr.Code)
	}
}
