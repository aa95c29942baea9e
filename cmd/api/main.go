package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vetrai.org/internal/app"
	"vetrai.org/internal/audit"
	"vetrai.org/internal/config"
	"vetrai.org/internal/httpapi"
	"vetrai.org/internal/obs"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Логгер ещё не создан: конфигурация нужна для его уровня.
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := obs.NewLogger(obs.LogConfig{Level: cfg.LogLevel, Dev: cfg.LogDev, File: cfg.LogFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("vetrai-auth stopped with error", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Инициализация observability (регистрация метрик, трассировка)
	obs.Init()
	obs.InitBuildInfo(version, commit)
	shutdownTracing, err := obs.SetupTracing(ctx, obs.TracingConfig{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: "vetrai-auth",
		Version:     version,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	if cfg.GeneratedSecret {
		logger.Warn("SECRET_KEY is not set; using a random per-process secret, tokens will not survive a restart")
	}

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.BootstrapAdmin {
		if _, err := a.Directory.BootstrapDefaultAdmin(ctx); err != nil {
			return err
		}
	}

	proxies, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		return err
	}

	ready := httpapi.ReadyProbe{Store: a.Directory}
	api := httpapi.New(a.Service, httpapi.Options{
		Version:        version,
		Logger:         logger.Named("http"),
		Audit:          audit.New(logger),
		Ready:          ready,
		CORSOrigins:    cfg.CORSOrigins,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		LoginRateLimit: cfg.LoginRateLimit,
		LoginRateBurst: cfg.LoginRateBurst,
		TrustedProxies: proxies,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(), // уже обёрнут метриками в httpapi
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting vetrai-auth", zap.String("version", version), zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		gsrv, hs := httpapi.NewGRPCServer(a.Service, logger.Named("grpc"))
		g.Go(func() error {
			httpapi.WatchReadiness(gctx, hs, ready, 10*time.Second)
			return nil
		})
		g.Go(func() error {
			logger.Info("starting grpc", zap.String("addr", cfg.GRPCAddr))
			return gsrv.Serve(lis)
		})
		g.Go(func() error {
			<-gctx.Done()
			gsrv.GracefulStop()
			return nil
		})
	}

	// graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err = g.Wait()
	logger.Info("stopped")
	return err
}
