package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/auctioncredits/internal/app"
	"github.com/MarkoPoloResearchLab/auctioncredits/internal/httpapi"
	"github.com/MarkoPoloResearchLab/auctioncredits/internal/logging"
	"github.com/MarkoPoloResearchLab/auctioncredits/internal/payment"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	flagEnvFile             = "env-file"
	flagListenAddr          = "listen-addr"
	flagDatabaseURL         = "database-url"
	flagSettingsCacheTTL    = "settings-cache-ttl"
	flagRedisURL            = "redis-url"
	flagRedisChannelPrefix  = "redis-channel-prefix"
	flagLowBalanceThreshold = "low-balance-threshold"
	flagAllowedOrigins      = "allowed-origins"
	flagJWTSigningKey       = "jwt-signing-key"
	flagJWTIssuer           = "jwt-issuer"
	flagJWTCookieName       = "jwt-cookie-name"
	flagRequestTimeout      = "request-timeout"
	flagMidtransServerKey   = "midtrans-server-key"
	flagMidtransProduction  = "midtrans-production"
	flagLogLevel            = "log-level"
	flagLogFile             = "log-file"
	envPrefix               = "CREDITAPI"
	defaultEnvFile          = ".env"
	defaultDatabaseURL      = "sqlite:///tmp/credits.db"
)

type runtimeConfig struct {
	HTTP              httpapi.Config
	App               app.Config
	Log               logging.Config
	MidtransServerKey string
	MidtransLive      bool
}

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "creditapi: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "creditapi",
		Short:         "HTTP API for credits and the auction item workflow",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			envFile, _ := cmd.Flags().GetString(flagEnvFile)
			if err := loadEnvFile(envFile); err != nil {
				return err
			}
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	cmd.Flags().String(flagEnvFile, defaultEnvFile, "optional dotenv file loaded before reading the environment")
	cmd.Flags().String(flagListenAddr, ":9090", "HTTP listen address")
	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL URL or SQLite path")
	cmd.Flags().Duration(flagSettingsCacheTTL, 30*time.Second, "how long cost settings are cached (0 disables)")
	cmd.Flags().String(flagRedisURL, "", "redis URL for balance change events (optional)")
	cmd.Flags().String(flagRedisChannelPrefix, "", "redis channel prefix for balance events")
	cmd.Flags().Int64(flagLowBalanceThreshold, 10, "balance at or below which accounts are reported low")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().String(flagJWTSigningKey, "", "TAuth JWT signing key (required)")
	cmd.Flags().String(flagJWTIssuer, "tauth", "expected JWT issuer")
	cmd.Flags().String(flagJWTCookieName, "app_session", "JWT cookie name")
	cmd.Flags().Duration(flagRequestTimeout, 5*time.Second, "per-request ledger timeout")
	cmd.Flags().String(flagMidtransServerKey, "", "Midtrans server key; payments are disabled when empty")
	cmd.Flags().Bool(flagMidtransProduction, false, "use the Midtrans production environment")
	cmd.Flags().String(flagLogLevel, "info", "log level")
	cmd.Flags().String(flagLogFile, "", "also write logs to this rotated file")

	return cmd
}

// loadEnvFile applies a dotenv file without overriding variables already set. A missing file is not an error.
func loadEnvFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("access env file %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range []string{
		flagListenAddr, flagDatabaseURL, flagSettingsCacheTTL, flagRedisURL, flagRedisChannelPrefix,
		flagLowBalanceThreshold, flagAllowedOrigins, flagJWTSigningKey, flagJWTIssuer, flagJWTCookieName,
		flagRequestTimeout, flagMidtransServerKey, flagMidtransProduction, flagLogLevel, flagLogFile,
	} {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.HTTP = httpapi.Config{
		ListenAddr:        strings.TrimSpace(v.GetString(flagListenAddr)),
		AllowedOrigins:    httpapi.ParseAllowedOrigins(v.GetString(flagAllowedOrigins)),
		SessionSigningKey: v.GetString(flagJWTSigningKey),
		SessionIssuer:     strings.TrimSpace(v.GetString(flagJWTIssuer)),
		SessionCookieName: strings.TrimSpace(v.GetString(flagJWTCookieName)),
		RequestTimeout:    v.GetDuration(flagRequestTimeout),
	}
	cfg.App = app.Config{
		DatabaseURL:         strings.TrimSpace(v.GetString(flagDatabaseURL)),
		StoreKind:           app.StoreGorm,
		SettingsCacheTTL:    v.GetDuration(flagSettingsCacheTTL),
		RedisURL:            v.GetString(flagRedisURL),
		RedisChannelPrefix:  v.GetString(flagRedisChannelPrefix),
		LowBalanceThreshold: v.GetInt64(flagLowBalanceThreshold),
		SeedSettings:        true,
	}
	if cfg.App.DatabaseURL == "" {
		cfg.App.DatabaseURL = defaultDatabaseURL
	}
	cfg.Log = logging.Config{
		Level:    v.GetString(flagLogLevel),
		FilePath: v.GetString(flagLogFile),
	}
	cfg.MidtransServerKey = strings.TrimSpace(v.GetString(flagMidtransServerKey))
	cfg.MidtransLive = v.GetBool(flagMidtransProduction)
	return cfg.HTTP.Validate()
}

func run(ctx context.Context, cfg *runtimeConfig) error {
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

	deps := httpapi.Dependencies{
		Ledger:   runtime.Ledger,
		Workflow: runtime.Workflow,
		Logger:   logger,
	}
	if cfg.MidtransServerKey != "" {
		provider, err := payment.NewMidtransProvider(cfg.MidtransServerKey, cfg.MidtransLive)
		if err != nil {
			return fmt.Errorf("midtrans init: %w", err)
		}
		deps.Payments = provider
	} else {
		logger.Warn("payments disabled: no midtrans server key configured")
	}
	return httpapi.Run(ctx, cfg.HTTP, deps)
}
