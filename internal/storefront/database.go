package storefront

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/MarkoPoloResearchLab/ticketgate/internal/store/gormstore"
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
	driverMemory   = "memory"
)

// openDatabase opens and migrates the session database. The memory driver
// returns a nil db.
func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}
	if driver == driverMemory {
		return nil, func() error { return nil }, driver, nil
	}

	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	var db *gorm.DB
	switch driver {
	case driverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	case driverSQLite:
		db, err = gorm.Open(sqlite.Open(sqlitePath), cfg)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	if err := gormstore.Migrate(ctx, db); err != nil {
		_ = cleanup()
		return nil, nil, "", err
	}
	return db, cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == MemoryDatabaseURL {
		return driverMemory, "", nil
	}
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		return driverPostgres, "", nil
	}
	if strings.HasPrefix(trimmed, "sqlite://") {
		parsed, err := url.Parse(trimmed)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := parsed.Path
		if parsed.Host != "" {
			path = parsed.Host + path
		}
		if path == "" || path == "/" {
			path = sessionDatabaseName
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return driverSQLite, sqlitePath, err
	}
	sqlitePath, err := normalizeSQLitePath(trimmed)
	return driverSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if filepath.IsAbs(path) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	relative := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(relative), 0o755); err != nil {
		return "", err
	}
	return relative, nil
}
