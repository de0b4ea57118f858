// Package app assembles the ledger, its store, and the item workflow from runtime configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/auctioncredits/internal/database"
	"github.com/MarkoPoloResearchLab/auctioncredits/internal/logging"
	"github.com/MarkoPoloResearchLab/auctioncredits/internal/notify"
	"github.com/MarkoPoloResearchLab/auctioncredits/internal/store/cachedstore"
	"github.com/MarkoPoloResearchLab/auctioncredits/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/auctioncredits/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/auctioncredits/pkg/ledger"
	"github.com/MarkoPoloResearchLab/auctioncredits/pkg/workflow"
	"go.uber.org/zap"
)

const (
	StoreGorm = "gorm"
	StorePgx  = "pgx"
)

var ErrInvalidStoreKind = errors.New("invalid store kind")

// Config selects the persistence and notification backends.
type Config struct {
	DatabaseURL         string
	StoreKind           string
	SettingsCacheTTL    time.Duration
	RedisURL            string
	RedisChannelPrefix  string
	LowBalanceThreshold int64
	SeedSettings        bool
}

// Runtime holds the assembled services. Workflow is nil when the ledger runs on the pgx store,
// since item stage changes must share the ledger's gorm transaction.
type Runtime struct {
	Database *database.Handle
	Ledger   *ledger.Service
	Workflow *workflow.Engine
	closers  []func() error
}

// Open connects every backend named in cfg. The caller owns the returned Runtime and must Close it.
func Open(ctx context.Context, cfg Config, logger *zap.Logger, now func() int64) (*Runtime, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	storeKind := strings.ToLower(strings.TrimSpace(cfg.StoreKind))
	if storeKind == "" {
		storeKind = StoreGorm
	}
	if storeKind != StoreGorm && storeKind != StorePgx {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStoreKind, cfg.StoreKind)
	}

	runtime := &Runtime{}
	handle, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database open: %w", err)
	}
	runtime.Database = handle
	runtime.closers = append(runtime.closers, handle.Close)
	if err := database.PrepareSchema(ctx, handle); err != nil {
		_ = runtime.Close()
		return nil, err
	}

	var store ledger.Store
	switch storeKind {
	case StorePgx:
		pool, err := database.OpenPool(ctx, cfg.DatabaseURL)
		if err != nil {
			_ = runtime.Close()
			return nil, err
		}
		runtime.closers = append(runtime.closers, func() error { pool.Close(); return nil })
		store = pgstore.New(pool)
	default:
		store = gormstore.New(handle.DB)
	}
	if cfg.SettingsCacheTTL > 0 {
		store = cachedstore.New(store, cfg.SettingsCacheTTL)
	}

	options := []ledger.ServiceOption{
		ledger.WithOperationLogger(logging.NewOperationLogger(logger)),
		ledger.WithLowBalanceThreshold(cfg.LowBalanceThreshold),
	}
	if redisURL := strings.TrimSpace(cfg.RedisURL); redisURL != "" {
		client, err := notify.Connect(ctx, redisURL)
		if err != nil {
			_ = runtime.Close()
			return nil, err
		}
		runtime.closers = append(runtime.closers, client.Close)
		options = append(options, ledger.WithEventPublisher(notify.NewRedisPublisher(client, cfg.RedisChannelPrefix, logger)))
		logger.Info("balance events enabled", zap.String("channel_prefix", cfg.RedisChannelPrefix))
	}

	service, err := ledger.NewService(store, now, options...)
	if err != nil {
		_ = runtime.Close()
		return nil, fmt.Errorf("ledger service init: %w", err)
	}
	runtime.Ledger = service
	if cfg.SeedSettings {
		if err := service.SeedDefaultSettings(ctx); err != nil {
			_ = runtime.Close()
			return nil, fmt.Errorf("seed settings: %w", err)
		}
	}

	if storeKind == StoreGorm {
		engine, err := workflow.NewEngine(gormstore.NewItemStore(handle.DB), service, now)
		if err != nil {
			_ = runtime.Close()
			return nil, err
		}
		runtime.Workflow = engine
	}
	logger.Info("ledger ready",
		zap.String("driver", handle.Driver),
		zap.String("store", storeKind),
		zap.Duration("settings_cache_ttl", cfg.SettingsCacheTTL),
	)
	return runtime, nil
}

// Close releases backends in reverse order of opening.
func (runtime *Runtime) Close() error {
	var errs []error
	for index := len(runtime.closers) - 1; index >= 0; index-- {
		if err := runtime.closers[index](); err != nil {
			errs = append(errs, err)
		}
	}
	runtime.closers = nil
	return errors.Join(errs...)
}
