package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testUser() *User {
	return &User{
		ID:       42,
		Username: "alice",
		Email:    "alice@example.com",
		IsActive: true,
		OrgID:    7,
		Role:     RoleOrgAdmin,
	}
}

func newTestCodec(t *testing.T, opts ...CodecOption) *Codec {
	t.Helper()
	c, err := NewCodec(CodecConfig{Secret: "unit-test-secret"}, opts...)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

func TestAccessTokenRoundTrip(t *testing.T) {
	c := newTestCodec(t)
	token, exp, err := c.IssueAccess(testUser())
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if d := time.Until(exp); d <= 29*time.Minute || d > 30*time.Minute {
		t.Fatalf("unexpected access expiry in %v", d)
	}

	claims, err := c.DecodeAccess(token)
	if err != nil {
		t.Fatalf("DecodeAccess: %v", err)
	}
	if claims.UserID != 42 || claims.Username != "alice" || claims.Email != "alice@example.com" {
		t.Fatalf("identity claims lost: %+v", claims)
	}
	if claims.OrgID != 7 || claims.Role != RoleOrgAdmin || claims.Type != "access" {
		t.Fatalf("authorization claims lost: %+v", claims)
	}
	if claims.ID == "" {
		t.Fatal("jti missing")
	}
}

func TestRefreshTokenCarriesIdentityOnly(t *testing.T) {
	c := newTestCodec(t)
	token, exp, err := c.IssueRefresh(testUser())
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	if d := time.Until(exp); d <= 167*time.Hour {
		t.Fatalf("refresh expiry too short: %v", d)
	}

	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, mc); err != nil {
		t.Fatalf("ParseUnverified: %v", err)
	}
	for _, k := range []string{"role", "org_id", "username", "email"} {
		if _, ok := mc[k]; ok {
			t.Fatalf("refresh token must not carry %q", k)
		}
	}

	claims, err := c.DecodeRefresh(token)
	if err != nil {
		t.Fatalf("DecodeRefresh: %v", err)
	}
	if claims.UserID != 42 || claims.Type != "refresh" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestTokenTypeConfusionFails(t *testing.T) {
	c := newTestCodec(t)
	access, _, err := c.IssueAccess(testUser())
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	refresh, _, err := c.IssueRefresh(testUser())
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}

	if _, err := c.DecodeRefresh(access); !errors.Is(err, ErrTokenType) {
		t.Fatalf("access as refresh: expected ErrTokenType, got %v", err)
	}
	if _, err := c.DecodeAccess(refresh); !errors.Is(err, ErrTokenType) {
		t.Fatalf("refresh as access: expected ErrTokenType, got %v", err)
	}
	if _, err := c.DecodeAccess(refresh); !errors.Is(err, ErrInvalidToken) {
		t.Fatal("type errors must be invalid-token errors")
	}
}

func TestExpiredTokenFails(t *testing.T) {
	issued := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	now := issued
	c := newTestCodec(t, WithClock(func() time.Time { return now }))

	token, _, err := c.IssueAccess(testUser())
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	now = issued.Add(29 * time.Minute)
	if _, err := c.DecodeAccess(token); err != nil {
		t.Fatalf("token should still be valid: %v", err)
	}
	now = issued.Add(31 * time.Minute)
	if _, err := c.DecodeAccess(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestTamperedOrForeignTokenFails(t *testing.T) {
	c := newTestCodec(t)
	token, _, err := c.IssueAccess(testUser())
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	other, err := NewCodec(CodecConfig{Secret: "a-different-secret"})
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	if _, err := other.DecodeAccess(token); !errors.Is(err, ErrTokenSignature) {
		t.Fatalf("expected ErrTokenSignature, got %v", err)
	}

	parts := strings.Split(token, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)
	if _, err := c.DecodeAccess(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token for tampered signature, got %v", err)
	}

	for _, junk := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := c.DecodeAccess(junk); !errors.Is(err, ErrTokenMalformed) {
			t.Fatalf("DecodeAccess(%q): expected ErrTokenMalformed, got %v", junk, err)
		}
	}
}

func TestAlgorithmIsPinned(t *testing.T) {
	hs512, err := NewCodec(CodecConfig{Secret: "unit-test-secret", Algorithm: "HS512"})
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	token, _, err := hs512.IssueAccess(testUser())
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if _, err := newTestCodec(t).DecodeAccess(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("HS256 codec accepted HS512 token: %v", err)
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, AccessClaims{
		UserID: 42,
		Type:   "access",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := newTestCodec(t).DecodeAccess(none); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("unsigned token accepted: %v", err)
	}
}

func TestNewCodecValidation(t *testing.T) {
	if _, err := NewCodec(CodecConfig{Secret: "  "}); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
	if _, err := NewCodec(CodecConfig{Secret: "x", Algorithm: "RS256"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	c, err := NewCodec(CodecConfig{Secret: "x", AccessTTL: time.Minute})
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	if c.AccessTTL() != time.Minute || c.RefreshTTL() != DefaultRefreshTTL {
		t.Fatalf("unexpected ttls %v / %v", c.AccessTTL(), c.RefreshTTL())
	}
	if _, _, err := c.IssueAccess(&User{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero user, got %v", err)
	}
}

func TestIssuedAtToleratesClockSkew(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	verifier := newTestCodec(t, WithClock(func() time.Time { return base }))

	issuerNow := base.Add(10 * time.Second)
	issuer := newTestCodec(t, WithClock(func() time.Time { return issuerNow }))
	token, _, err := issuer.IssueAccess(testUser())
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if _, err := verifier.DecodeAccess(token); err != nil {
		t.Fatalf("token from a clock 10s ahead should decode: %v", err)
	}

	issuerNow = base.Add(2 * time.Minute)
	token, _, err = issuer.IssueAccess(testUser())
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if _, err := verifier.DecodeAccess(token); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("token issued 2m in the future: expected ErrTokenMalformed, got %v", err)
	}
}
