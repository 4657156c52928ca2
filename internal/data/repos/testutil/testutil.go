package testutil

import (
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	dbpkg "github.com/kryptonit/mes-backend/internal/data/db"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

var (
	dbOnce sync.Once
	db     *gorm.DB
	dbErr  error

	logOnce sync.Once
	logg    *logger.Logger
	logErr  error
)

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	logOnce.Do(func() {
		logg, logErr = logger.New("test")
	})
	if logErr != nil {
		tb.Fatalf("failed to init logger: %v", logErr)
	}
	return logg
}

// DB returns a process-wide database: Postgres when TEST_POSTGRES_DSN is set,
// otherwise a shared in-memory SQLite. Pair it with Tx so tests stay isolated.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()

	dbOnce.Do(func() {
		if dsn := os.Getenv("TEST_POSTGRES_DSN"); dsn != "" {
			db, dbErr = openPostgres(dsn)
			return
		}
		db, dbErr = openSQLite("file:mes_shared?mode=memory&cache=shared")
	})

	if dbErr != nil {
		tb.Fatalf("failed to init test db: %v", dbErr)
	}
	return db
}

// FreshDB opens a private, migrated in-memory SQLite database for tests that
// exercise code opening its own transactions. It is closed on cleanup.
func FreshDB(tb testing.TB) *gorm.DB {
	tb.Helper()
	fresh, err := openSQLite("file:mes_" + uuid.NewString() + "?mode=memory&cache=shared")
	if err != nil {
		tb.Fatalf("failed to init fresh db: %v", err)
	}
	tb.Cleanup(func() {
		if sqlDB, err := fresh.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return fresh
}

func Tx(tb testing.TB, db *gorm.DB) *gorm.DB {
	tb.Helper()
	tx := db.Begin()
	if tx.Error != nil {
		tb.Fatalf("begin tx: %v", tx.Error)
	}
	tb.Cleanup(func() {
		_ = tx.Rollback().Error
	})
	return tx
}

func openPostgres(dsn string) (*gorm.DB, error) {
	pg, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := dbpkg.RegisterCallbacks(pg); err != nil {
		return nil, err
	}
	if err := dbpkg.AutoMigrateAll(pg); err != nil {
		return nil, err
	}
	return pg, nil
}

func openSQLite(dsn string) (*gorm.DB, error) {
	lite, err := dbpkg.OpenSQLite(dsn, gormLogger.Default.LogMode(gormLogger.Silent))
	if err != nil {
		return nil, err
	}
	if err := dbpkg.AutoMigrateAll(lite); err != nil {
		return nil, err
	}
	return lite, nil
}
