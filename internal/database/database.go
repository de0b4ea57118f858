// Package database opens the relational store behind the ledger and prepares its schema.
package database

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/MarkoPoloResearchLab/auctioncredits/internal/store/gormstore"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	DriverPostgres    = "postgres"
	DriverSQLite      = "sqlite"
	defaultSQLiteFile = "credits.db"
	sqliteMemoryPath  = ":memory:"
)

// Handle is an open gorm connection together with the driver it was opened with.
type Handle struct {
	DB     *gorm.DB
	Driver string
	close  func() error
}

// Close releases the underlying connection pool.
func (handle *Handle) Close() error {
	if handle == nil || handle.close == nil {
		return nil
	}
	return handle.close()
}

// Open connects to postgres:// URLs with the gorm postgres driver and treats anything else as a SQLite path.
func Open(ctx context.Context, dsn string) (*Handle, error) {
	driver, sqlitePath, err := ResolveDriver(dsn)
	if err != nil {
		return nil, err
	}
	var db *gorm.DB
	switch driver {
	case DriverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	case DriverSQLite:
		db, err = gorm.Open(sqlite.Open(sqlitePath), &gorm.Config{})
	default:
		return nil, fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	return &Handle{DB: db.WithContext(ctx), Driver: driver, close: sqlDB.Close}, nil
}

// OpenPool opens a pgx pool for the native Postgres store.
func OpenPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	driver, _, err := ResolveDriver(dsn)
	if err != nil {
		return nil, err
	}
	if driver != DriverPostgres {
		return nil, fmt.Errorf("pgx store requires a postgres url, got %s", driver)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgx ping: %w", err)
	}
	return pool, nil
}

// PrepareSchema migrates every ledger and workflow table.
func PrepareSchema(ctx context.Context, handle *Handle) error {
	if err := gormstore.AutoMigrate(ctx, handle.DB); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// ResolveDriver maps a DSN to a driver name and, for SQLite, a filesystem path.
func ResolveDriver(dsn string) (string, string, error) {
	trimmed := strings.TrimSpace(dsn)
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		return DriverPostgres, "", nil
	}
	if strings.HasPrefix(trimmed, "sqlite://") {
		parsed, err := url.Parse(trimmed)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := parsed.Path
		if path == "" {
			path = parsed.Host
		}
		if path == "" || path == "/" {
			path = defaultSQLiteFile
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return DriverSQLite, sqlitePath, err
	}
	if trimmed == "" {
		return "", "", fmt.Errorf("database url is required")
	}
	sqlitePath, err := normalizeSQLitePath(trimmed)
	return DriverSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == sqliteMemoryPath {
		return path, nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(".", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	return path, nil
}
