// Package config loads process configuration from the environment.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"vetrai.org/internal/auth"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	insecureDefaultSecret = "your-secret-key-change-in-production"
	minProductionSecret   = 32
)

// Config is the full process configuration. It is loaded once in main and
// passed down explicitly.
type Config struct {
	Env string `env:"VETRAI_ENV" envDefault:"development"`

	SecretKey       string        `env:"SECRET_KEY"`
	Algorithm       string        `env:"ALGORITHM" envDefault:"HS256"`
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"30m"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`

	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":7860"`
	GRPCAddr        string        `env:"GRPC_ADDR"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	MaxBodyBytes    int64         `env:"MAX_BODY_BYTES" envDefault:"1048576"`
	CORSOrigins     []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	// TrustedProxies lists the peers (CIDRs or bare addresses) whose
	// X-Forwarded-For header is believed. Empty means every client is keyed
	// on its socket address.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	DatabaseURL string `env:"DATABASE_URL" envDefault:"sqlite://vetrai.db"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"true"`

	PasswordAlgorithm string `env:"PASSWORD_ALGORITHM" envDefault:"bcrypt"`
	BcryptCost        int    `env:"BCRYPT_COST" envDefault:"12"`
	HashWorkers       int    `env:"HASH_WORKERS"`

	LoginRateLimit float64 `env:"LOGIN_RATE_LIMIT" envDefault:"5"`
	LoginRateBurst int     `env:"LOGIN_RATE_BURST" envDefault:"10"`

	BootstrapAdmin bool   `env:"BOOTSTRAP_ADMIN" envDefault:"true"`
	AdminUsername  string `env:"BOOTSTRAP_ADMIN_USERNAME" envDefault:"admin"`
	AdminEmail     string `env:"BOOTSTRAP_ADMIN_EMAIL" envDefault:"admin@vetrai.local"`
	AdminFullName  string `env:"BOOTSTRAP_ADMIN_FULL_NAME" envDefault:"Admin User"`
	AdminPassword  string `env:"BOOTSTRAP_ADMIN_PASSWORD" envDefault:"admin123"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogDev   bool   `env:"LOG_DEV"`
	LogFile  string `env:"LOG_FILE"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// GeneratedSecret is set when SecretKey was empty in development and a
	// random one was generated for this process.
	GeneratedSecret bool
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return Parse(nil)
}

// Parse builds a Config from environ, or from the process environment when
// environ is nil, and validates it.
func Parse(environ map[string]string) (Config, error) {
	var cfg Config
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))
	if err := cfg.finalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address is treated as a
// single-host prefix.
func (c Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// IsProduction reports whether strict checks apply.
func (c Config) IsProduction() bool { return c.Env == EnvProduction }

func (c *Config) finalize() error {
	var errs []error

	secret := strings.TrimSpace(c.SecretKey)
	switch {
	case c.IsProduction() && secret == "":
		errs = append(errs, errors.New("SECRET_KEY is required in production"))
	case c.IsProduction() && (secret == insecureDefaultSecret || len(secret) < minProductionSecret):
		errs = append(errs, fmt.Errorf("SECRET_KEY must be a random value of at least %d characters in production", minProductionSecret))
	case secret == "":
		generated, err := randomSecret()
		if err != nil {
			return err
		}
		c.SecretKey = generated
		c.GeneratedSecret = true
	}

	if c.IsProduction() && c.BootstrapAdmin && c.AdminPassword == auth.DefaultAdminPassword {
		errs = append(errs, errors.New("BOOTSTRAP_ADMIN_PASSWORD must be changed from the default in production"))
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	}
	if c.RefreshTokenTTL < c.AccessTokenTTL {
		errs = append(errs, errors.New("REFRESH_TOKEN_TTL must not be shorter than ACCESS_TOKEN_TTL"))
	}
	if c.LoginRateLimit < 0 || c.LoginRateBurst < 0 {
		errs = append(errs, errors.New("login rate limit must not be negative"))
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func randomSecret() (string, error) {
	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
