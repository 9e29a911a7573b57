package db

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"field-control-backend/config"
)

// NewTestSQLite opens a migrated in-memory SQLite database private to tb.
func NewTestSQLite(tb testing.TB) *gorm.DB {
	tb.Helper()

	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(tb.Name())
	gdb, err := Init(&config.DatabaseConfig{
		Dialect: "sqlite",
		DSN:     "file:" + name + "?mode=memory&cache=shared",
	}, zerolog.Nop())
	if err != nil {
		tb.Fatalf("failed to open test database: %v", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		tb.Fatalf("failed to get sql.DB: %v", err)
	}
	tb.Cleanup(func() { _ = sqlDB.Close() })
	return gdb
}
