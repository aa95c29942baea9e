package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"strings"

	"go.uber.org/zap"

	"vetrai.org/internal/audit"
	"vetrai.org/internal/auth"
	"vetrai.org/internal/obs"
)

const serviceName = "vetrai-auth"

// Pinger is satisfied by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe: простая проверка готовности (ping хранилища).
type ReadyProbe struct {
	Store Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return rp.Store.Ping(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Options configures the HTTP layer.
type Options struct {
	Version      string
	Logger       *zap.Logger
	Audit        *audit.Logger
	Ready        readinessChecker
	CORSOrigins  []string
	MaxBodyBytes int64

	// LoginRateLimit is the sustained per-IP rate for login and refresh in
	// requests per second. Zero disables limiting.
	LoginRateLimit float64
	LoginRateBurst int

	// TrustedProxies are the peers whose X-Forwarded-For is used to key the
	// limiter and the access log.
	TrustedProxies []netip.Prefix
}

// API: HTTP слой.
type API struct {
	mux     *http.ServeMux
	svc     *auth.Service
	logger  *zap.Logger
	audit   *audit.Logger
	ready   readinessChecker
	limiter *RateLimiter
	opts    Options
}

// New wires the auth routes, health probes and metrics.
func New(svc *auth.Service, opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Audit == nil {
		opts.Audit = audit.New(opts.Logger)
	}
	if opts.Ready == nil {
		opts.Ready = ReadyProbe{}
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	a := &API{
		mux:    http.NewServeMux(),
		svc:    svc,
		logger: opts.Logger,
		audit:  opts.Audit,
		ready:  opts.Ready,
		opts:   opts,
	}
	if opts.LoginRateLimit > 0 {
		burst := opts.LoginRateBurst
		if burst <= 0 {
			burst = 1
		}
		a.limiter = NewRateLimiter(opts.LoginRateLimit, burst, opts.TrustedProxies...)
	}

	a.mux.Handle("/api/auth/login", a.rateLimited(http.HandlerFunc(a.handleLogin)))
	a.mux.Handle("/api/auth/refresh", a.rateLimited(http.HandlerFunc(a.handleRefresh)))
	a.mux.Handle("/api/auth/me", RequireUser(svc, a.logger)(http.HandlerFunc(a.handleMe)))
	a.mux.HandleFunc("/api/auth/logout", a.handleLogout)

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not Found")
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	h = CORS(a.opts.CORSOrigins)(h)
	h = SecurityHeaders(h)
	h = Logging(a.logger, a.opts.TrustedProxies...)(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) rateLimited(next http.Handler) http.Handler {
	if a.limiter == nil {
		return next
	}
	return a.limiter.Middleware(next)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		a.logger.Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError emits the {"detail": "..."} body existing API clients
// expect. The request id travels only in the X-Request-ID header.
func writeError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}

func writeUnauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, detail)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
}

var errEmptyBody = errors.New("request body is required")

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
