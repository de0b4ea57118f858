package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/auctioncredits/pkg/ledger"
	"github.com/MarkoPoloResearchLab/auctioncredits/pkg/workflow"
	"go.uber.org/zap"
)

const testNowUnixUTC = int64(1_700_000_000)

func testClock() int64 {
	return testNowUnixUTC
}

func TestOpenWiresLedgerAndWorkflowOnSQLite(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	runtime, err := Open(ctx, Config{
		DatabaseURL:  "sqlite://" + test.TempDir() + "/credits.db",
		SeedSettings: true,
	}, zap.NewNop(), testClock)
	if err != nil {
		test.Fatalf("open: %v", err)
	}
	defer func() { _ = runtime.Close() }()
	if runtime.Workflow == nil {
		test.Fatalf("expected workflow engine on the gorm store")
	}

	userID, _ := ledger.NewUserID("user-1")
	credits, _ := ledger.NewCredits(2)
	if _, err := runtime.Ledger.Grant(ctx, ledger.GrantRequest{UserID: userID, Amount: credits}); err != nil {
		test.Fatalf("grant: %v", err)
	}
	outcome, err := runtime.Workflow.Admit(ctx, workflow.AdmitRequest{Actor: "user-1", Title: "Clock"})
	if err != nil || outcome.Status != workflow.OutcomeAdmitted {
		test.Fatalf("admit: %+v %v", outcome, err)
	}
	settings, err := runtime.Ledger.Settings(ctx)
	if err != nil {
		test.Fatalf("settings: %v", err)
	}
	for _, setting := range settings {
		if setting.UpdatedUnixUTC != testNowUnixUTC {
			test.Fatalf("expected seeded setting, got %+v", setting)
		}
	}
}

func TestOpenCachesSettings(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	runtime, err := Open(ctx, Config{
		DatabaseURL:      test.TempDir() + "/cached.db",
		StoreKind:        "GORM",
		SettingsCacheTTL: time.Minute,
	}, nil, testClock)
	if err != nil {
		test.Fatalf("open: %v", err)
	}
	defer func() { _ = runtime.Close() }()
	if _, err := runtime.Ledger.UpdateSetting(ctx, ledger.SettingResearch2Cost, 5, "admin"); err != nil {
		test.Fatalf("update: %v", err)
	}
	cost, err := runtime.Ledger.Cost(ctx, ledger.SettingResearch2Cost)
	if err != nil || cost != 5 {
		test.Fatalf("expected updated cost 5 through the cache, got %d %v", cost, err)
	}
}

func TestOpenRejectsInvalidConfiguration(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name string
		cfg  Config
	}{
		{name: "unknown store", cfg: Config{DatabaseURL: test.TempDir() + "/x.db", StoreKind: "mongo"}},
		{name: "pgx on sqlite", cfg: Config{DatabaseURL: test.TempDir() + "/y.db", StoreKind: StorePgx}},
		{name: "missing database", cfg: Config{}},
	}
	for _, testCase := range testCases {
		runtime, err := Open(context.Background(), testCase.cfg, nil, testClock)
		if err == nil {
			_ = runtime.Close()
			test.Fatalf("%s: expected an error", testCase.name)
		}
	}
	if _, err := Open(context.Background(), Config{StoreKind: "mongo"}, nil, testClock); !errors.Is(err, ErrInvalidStoreKind) {
		test.Fatalf("expected ErrInvalidStoreKind, got %v", err)
	}
}
