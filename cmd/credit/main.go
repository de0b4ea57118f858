package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	creditv1 "github.com/MarkoPoloResearchLab/auctioncredits/api/credit/v1"
	"github.com/MarkoPoloResearchLab/auctioncredits/internal/app"
	"github.com/MarkoPoloResearchLab/auctioncredits/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/auctioncredits/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

const (
	flagDatabaseURL         = "database-url"
	flagListenAddr          = "listen-addr"
	flagStore               = "store"
	flagSettingsCacheTTL    = "settings-cache-ttl"
	flagRedisURL            = "redis-url"
	flagRedisChannelPrefix  = "redis-channel-prefix"
	flagLowBalanceThreshold = "low-balance-threshold"
	flagLogLevel            = "log-level"
	flagLogFile             = "log-file"
	configKeyDatabaseURL    = "database_url"
	configKeyListenAddr     = "listen_addr"
	configKeyStore          = "store"
	configKeyCacheTTL       = "settings_cache_ttl"
	configKeyRedisURL       = "redis_url"
	configKeyRedisPrefix    = "redis_channel_prefix"
	configKeyLowBalance     = "low_balance_threshold"
	configKeyLogLevel       = "log_level"
	configKeyLogFile        = "log_file"
	defaultDatabaseURL      = "sqlite:///tmp/credits.db"
	defaultGRPCListenAddr   = ":7000"
	defaultLowBalance       = 10
)

type runtimeConfig struct {
	ListenAddr string
	App        app.Config
	Log        logging.Config
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "creditd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "creditd",
		Short:         "Credit ledger gRPC server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, viper.New(), cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL URL or SQLite path")
	cmd.Flags().String(flagListenAddr, defaultGRPCListenAddr, "gRPC listen address")
	cmd.Flags().String(flagStore, app.StoreGorm, "ledger store implementation (gorm or pgx)")
	cmd.Flags().Duration(flagSettingsCacheTTL, 30*time.Second, "how long cost settings are cached (0 disables)")
	cmd.Flags().String(flagRedisURL, "", "redis URL for balance change events (optional)")
	cmd.Flags().String(flagRedisChannelPrefix, "", "redis channel prefix for balance events")
	cmd.Flags().Int64(flagLowBalanceThreshold, defaultLowBalance, "balance at or below which accounts are reported low")
	cmd.Flags().String(flagLogLevel, "info", "log level")
	cmd.Flags().String(flagLogFile, "", "also write logs to this rotated file")

	cmd.AddCommand(newGrantCommand(), newBalanceCommand(), newSettingsCommand())
	return cmd
}

func loadConfig(cmd *cobra.Command, v *viper.Viper, cfg *runtimeConfig) error {
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	bindings := []struct {
		key  string
		env  string
		flag string
	}{
		{key: configKeyDatabaseURL, env: "DATABASE_URL", flag: flagDatabaseURL},
		{key: configKeyListenAddr, env: "GRPC_LISTEN_ADDR", flag: flagListenAddr},
		{key: configKeyStore, env: "LEDGER_STORE", flag: flagStore},
		{key: configKeyCacheTTL, env: "SETTINGS_CACHE_TTL", flag: flagSettingsCacheTTL},
		{key: configKeyRedisURL, env: "REDIS_URL", flag: flagRedisURL},
		{key: configKeyRedisPrefix, env: "REDIS_CHANNEL_PREFIX", flag: flagRedisChannelPrefix},
		{key: configKeyLowBalance, env: "LOW_BALANCE_THRESHOLD", flag: flagLowBalanceThreshold},
		{key: configKeyLogLevel, env: "LOG_LEVEL", flag: flagLogLevel},
		{key: configKeyLogFile, env: "LOG_FILE", flag: flagLogFile},
	}
	for _, binding := range bindings {
		if err := v.BindEnv(binding.key, binding.env); err != nil {
			return err
		}
		if err := v.BindPFlag(binding.key, cmd.Flags().Lookup(binding.flag)); err != nil {
			return err
		}
	}

	cfg.ListenAddr = v.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultGRPCListenAddr
	}
	cfg.App = app.Config{
		DatabaseURL:         v.GetString(configKeyDatabaseURL),
		StoreKind:           v.GetString(configKeyStore),
		SettingsCacheTTL:    v.GetDuration(configKeyCacheTTL),
		RedisURL:            v.GetString(configKeyRedisURL),
		RedisChannelPrefix:  v.GetString(configKeyRedisPrefix),
		LowBalanceThreshold: v.GetInt64(configKeyLowBalance),
		SeedSettings:        true,
	}
	if cfg.App.DatabaseURL == "" {
		cfg.App.DatabaseURL = defaultDatabaseURL
	}
	if cfg.App.LowBalanceThreshold < 0 {
		return fmt.Errorf("%s must not be negative", flagLowBalanceThreshold)
	}
	cfg.Log = logging.Config{
		Level:    v.GetString(configKeyLogLevel),
		FilePath: v.GetString(configKeyLogFile),
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	clock := func() int64 { return time.Now().UTC().Unix() }
	runtime, err := app.Open(ctx, cfg.App, logger, clock)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := runtime.Close(); closeErr != nil {
			logger.Warn("backend close failed", zap.Error(closeErr))
		}
	}()

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	grpcServer := grpc.NewServer()
	creditv1.RegisterCreditServiceServer(grpcServer, grpcserver.NewCreditServiceServer(runtime.Ledger))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC server starting", zap.String("listen_addr", cfg.ListenAddr))
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
		grpcServer.GracefulStop()
		if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			return serveErr
		}
		return nil
	case serveErr := <-errCh:
		if errors.Is(serveErr, grpc.ErrServerStopped) {
			return nil
		}
		return serveErr
	}
}
