// Package app assembles the auth components from configuration. Both the
// API server and the operator CLI build on it.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"vetrai.org/internal/auth"
	"vetrai.org/internal/config"
	"vetrai.org/internal/migrate"
	"vetrai.org/internal/store/sqlstore"
)

type App struct {
	Store     *sqlstore.Store
	Directory *auth.Directory
	Service   *auth.Service
	Pool      *auth.HashPool
}

// Open connects storage, applies pending migrations when enabled and builds
// the directory and service. The caller owns Close.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	store, err := sqlstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a, err := build(ctx, cfg, logger, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func build(ctx context.Context, cfg config.Config, logger *zap.Logger, store *sqlstore.Store) (*App, error) {
	if cfg.AutoMigrate {
		mgr, err := migrate.NewManager(store.DB(), nil)
		if err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		applied, err := mgr.Up(ctx)
		if err != nil {
			return nil, fmt.Errorf("migrate up: %w", err)
		}
		for _, name := range applied {
			logger.Info("migration applied", zap.String("name", name))
		}
	}

	hasher, err := auth.NewHasher(cfg.PasswordAlgorithm, cfg.BcryptCost, auth.DefaultArgon2idParams())
	if err != nil {
		return nil, err
	}
	pool := auth.NewHashPool(hasher, cfg.HashWorkers)
	dir := auth.NewDirectory(store, pool, logger.Named("directory"), auth.BootstrapAdmin{
		Username: cfg.AdminUsername,
		Email:    cfg.AdminEmail,
		FullName: cfg.AdminFullName,
		Password: cfg.AdminPassword,
	})

	codec, err := auth.NewCodec(auth.CodecConfig{
		Secret:     cfg.SecretKey,
		Algorithm:  cfg.Algorithm,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	})
	if err != nil {
		return nil, err
	}
	svc, err := auth.NewService(dir, codec, auth.WithLogger(logger.Named("auth")))
	if err != nil {
		return nil, err
	}
	return &App{Store: store, Directory: dir, Service: svc, Pool: pool}, nil
}

func (a *App) Close() error {
	return a.Store.Close()
}
