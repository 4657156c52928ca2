package db

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

// NewSQLiteService opens a file-backed (or ":memory:") SQLite database for local
// development. Row locks are not supported there and are silently dropped.
func NewSQLiteService(logg *logger.Logger, path string) (*PostgresService, error) {
	serviceLog := logg.With("service", "SQLiteService")
	db, err := OpenSQLite(path, newGormLogger())
	if err != nil {
		return nil, err
	}
	serviceLog.Info("Opened SQLite database", "path", path)
	return &PostgresService{db: db, log: serviceLog}, nil
}

func OpenSQLite(path string, l gormLogger.Interface) (*gorm.DB, error) {
	dsn := path
	if dsn == "" || dsn == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}
	db, err := gorm.Open(sqlite.Open(dsn+sqliteParams(dsn)), gormConfig(l))
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// One writer at a time; also keeps a shared in-memory db alive.
	sqlDB.SetMaxOpenConns(1)
	if err := RegisterCallbacks(db); err != nil {
		return nil, err
	}
	return db, nil
}

func sqliteParams(dsn string) string {
	sep := "?"
	for _, r := range dsn {
		if r == '?' {
			sep = "&"
			break
		}
	}
	return sep + "_foreign_keys=off&_busy_timeout=5000"
}
