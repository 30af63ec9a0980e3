package testing

import (
	"io"
	"testing"

	"gorm.io/gorm"

	"voice-server-go/internal/platform/config"
	"voice-server-go/internal/platform/logging"
	"voice-server-go/internal/platform/storage"
)

// SetupTestConfig returns defaults pointed at a per-test directory.
func SetupTestConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Server.IP = "127.0.0.1"
	cfg.Log = config.LogConfig{Level: "debug", Dir: dir, File: "test.log"}
	cfg.Storage.DSN = ":memory:"
	cfg.Voice.AssetRoot = dir
	return cfg
}

// SetupTestLogger returns a debug logger writing into t.TempDir and
// discarding console output.
func SetupTestLogger(t *testing.T) *logging.Logger {
	t.Helper()

	logger, err := logging.New(logging.Config{
		Level:    "debug",
		Dir:      t.TempDir(),
		Filename: "test.log",
		Console:  io.Discard,
	})
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}
	t.Cleanup(func() { _ = logger.Close() })
	return logger
}

// SetupTestDB opens a migrated in-memory sqlite database.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}
