package main

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadConfigPrefersEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://ledger@localhost/credits")
	t.Setenv("LEDGER_STORE", "pgx")
	t.Setenv("SETTINGS_CACHE_TTL", "2m")
	t.Setenv("LOW_BALANCE_THRESHOLD", "25")

	cmd := newRootCommand()
	cfg := &runtimeConfig{}
	if err := loadConfig(cmd, viper.New(), cfg); err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.App.DatabaseURL != "postgres://ledger@localhost/credits" || cfg.App.StoreKind != "pgx" {
		t.Fatalf("unexpected app config %+v", cfg.App)
	}
	if cfg.App.SettingsCacheTTL != 2*time.Minute || cfg.App.LowBalanceThreshold != 25 {
		t.Fatalf("unexpected app config %+v", cfg.App)
	}
	if cfg.ListenAddr != defaultGRPCListenAddr || cfg.Log.Level != "info" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadConfigRejectsNegativeThreshold(t *testing.T) {
	cmd := newRootCommand()
	if err := cmd.Flags().Set(flagLowBalanceThreshold, "-1"); err != nil {
		t.Fatalf("set flag: %v", err)
	}
	if err := loadConfig(cmd, viper.New(), &runtimeConfig{}); err == nil {
		t.Fatalf("expected negative threshold to be rejected")
	}
}

func TestClientCommandsRequireArguments(t *testing.T) {
	testCases := []struct {
		name string
		args []string
	}{
		{name: "grant without amount", args: []string{"grant", "user-1"}},
		{name: "balance without user", args: []string{"balance"}},
		{name: "settings set without value", args: []string{"settings", "set", "research2_cost"}},
	}
	for _, testCase := range testCases {
		cmd := newRootCommand()
		cmd.SetArgs(testCase.args)
		if err := cmd.Execute(); err == nil {
			t.Fatalf("%s: expected an argument error", testCase.name)
		}
	}
}
