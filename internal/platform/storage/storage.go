package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"voice-server-go/internal/platform/errors"
)

// Open connects to the sqlite database at dsn, creating its directory.
// ":memory:" and "file:" DSNs are passed through untouched.
func Open(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New(errors.KindStorage, "storage.open", "empty dsn")
	}
	if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrap(errors.KindStorage, "storage.open", "failed to create data directory", err)
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "storage.open", fmt.Sprintf("failed to open %s", dsn), err)
	}

	// sqlite allows one writer; an in-memory database also vanishes per
	// connection, so pin the pool to a single connection.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "storage.open", "failed to get sql handle", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}

// Migrate brings db up to the current schema.
func Migrate(db *gorm.DB) error {
	_, err := NewMigrator(db).Apply()
	return err
}

// Close releases the pool behind db.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return errors.Wrap(errors.KindStorage, "storage.close", "failed to get sql handle", err)
	}
	return sqlDB.Close()
}
