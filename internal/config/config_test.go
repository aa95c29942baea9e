package config

import (
	"strings"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(map[string]string{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.HTTPAddr != ":7860" || cfg.DatabaseURL != "sqlite://vetrai.db" || cfg.Algorithm != "HS256" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.AccessTokenTTL != 30*time.Minute || cfg.RefreshTokenTTL != 7*24*time.Hour {
		t.Fatalf("unexpected ttls: %v / %v", cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	}
	if cfg.AdminUsername != "admin" || cfg.AdminEmail != "admin@vetrai.local" || cfg.AdminFullName != "Admin User" {
		t.Fatalf("unexpected bootstrap admin: %+v", cfg)
	}
	if !cfg.GeneratedSecret || len(cfg.SecretKey) < 32 {
		t.Fatalf("development should generate a secret, got %q", cfg.SecretKey)
	}
}

func TestParseOverrides(t *testing.T) {
	cfg, err := Parse(map[string]string{
		"SECRET_KEY":           "explicit",
		"ACCESS_TOKEN_TTL":     "5m",
		"CORS_ALLOWED_ORIGINS": "https://a.example,https://b.example",
		"HASH_WORKERS":         "3",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.SecretKey != "explicit" || cfg.GeneratedSecret {
		t.Fatalf("explicit secret not kept: %+v", cfg)
	}
	if cfg.AccessTokenTTL != 5*time.Minute || cfg.HashWorkers != 3 || len(cfg.CORSOrigins) != 2 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestProductionRefusesInsecureSettings(t *testing.T) {
	strong := strings.Repeat("k", 40)
	cases := map[string]map[string]string{
		"missing secret": {"VETRAI_ENV": "production", "BOOTSTRAP_ADMIN_PASSWORD": "Sup3r-Secret"},
		"default secret": {"VETRAI_ENV": "production", "SECRET_KEY": insecureDefaultSecret, "BOOTSTRAP_ADMIN_PASSWORD": "Sup3r-Secret"},
		"short secret":   {"VETRAI_ENV": "production", "SECRET_KEY": "short", "BOOTSTRAP_ADMIN_PASSWORD": "Sup3r-Secret"},
		"default admin":  {"VETRAI_ENV": "production", "SECRET_KEY": strong},
	}
	for name, environ := range cases {
		if _, err := Parse(environ); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}

	cfg, err := Parse(map[string]string{"VETRAI_ENV": "Production", "SECRET_KEY": strong, "BOOTSTRAP_ADMIN_PASSWORD": "Sup3r-Secret"})
	if err != nil {
		t.Fatalf("valid production config rejected: %v", err)
	}
	if !cfg.IsProduction() {
		t.Fatal("expected production")
	}
	if _, err := Parse(map[string]string{"VETRAI_ENV": "production", "SECRET_KEY": strong, "BOOTSTRAP_ADMIN": "false"}); err != nil {
		t.Fatalf("default admin password is irrelevant when bootstrap is off: %v", err)
	}
}

func TestParseRejectsBadTTLs(t *testing.T) {
	if _, err := Parse(map[string]string{"ACCESS_TOKEN_TTL": "2h", "REFRESH_TOKEN_TTL": "1h"}); err == nil {
		t.Fatal("expected error when refresh ttl is shorter than access ttl")
	}
	if _, err := Parse(map[string]string{"ACCESS_TOKEN_TTL": "soon"}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestTrustedProxies(t *testing.T) {
	cfg, err := Parse(map[string]string{"TRUSTED_PROXIES": "10.0.0.0/8, 192.168.1.5,::1"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	prefixes, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		t.Fatalf("TrustedProxyPrefixes: %v", err)
	}
	want := []string{"10.0.0.0/8", "192.168.1.5/32", "::1/128"}
	if len(prefixes) != len(want) {
		t.Fatalf("got %v, want %v", prefixes, want)
	}
	for i, p := range prefixes {
		if p.String() != want[i] {
			t.Fatalf("prefix %d: got %s, want %s", i, p, want[i])
		}
	}

	if _, err := Parse(map[string]string{"TRUSTED_PROXIES": "10.0.0.0/33"}); err == nil {
		t.Fatal("expected error for invalid prefix")
	}
	if _, err := Parse(map[string]string{"TRUSTED_PROXIES": "proxy.internal"}); err == nil {
		t.Fatal("expected error for hostname")
	}
}
