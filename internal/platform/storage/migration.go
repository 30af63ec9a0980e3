package storage

import (
	stderrors "errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"voice-server-go/internal/platform/errors"
	"voice-server-go/internal/platform/storage/migrations"
)

// Migration is one versioned schema change. Versions sort lexically, so
// they carry a zero-padded sequence prefix ("001_ledger").
type Migration interface {
	Version() string
	Description() string
	Up(db *gorm.DB) error
	Down(db *gorm.DB) error
}

// SchemaVersion is the row recorded for every applied migration.
type SchemaVersion struct {
	ID        uint      `gorm:"primaryKey"`
	Version   string    `gorm:"uniqueIndex;not null"`
	Name      string    `gorm:"not null"`
	AppliedAt time.Time `gorm:"not null"`
}

func (SchemaVersion) TableName() string { return "schema_versions" }

// registered is the schema of this service, oldest first.
func registered() []Migration {
	return []Migration{
		&migrations.Migration001Ledger{},
	}
}

// Migrator applies and reverts migrations against one database.
type Migrator struct {
	db         *gorm.DB
	migrations []Migration
	now        func() time.Time
}

// NewMigrator builds a migrator over ms, or over the service schema when
// ms is empty.
func NewMigrator(db *gorm.DB, ms ...Migration) *Migrator {
	if len(ms) == 0 {
		ms = registered()
	}
	sorted := append([]Migration(nil), ms...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Version() < sorted[j].Version() })
	return &Migrator{db: db, migrations: sorted, now: time.Now}
}

// Apply runs every pending migration in version order, each in its own
// transaction, and reports how many ran.
func (m *Migrator) Apply() (int, error) {
	if err := m.db.AutoMigrate(&SchemaVersion{}); err != nil {
		return 0, errors.Wrap(errors.KindStorage, "migration.prepare", "create schema_versions", err)
	}

	applied, err := m.appliedVersions()
	if err != nil {
		return 0, err
	}

	ran := 0
	for _, mig := range m.migrations {
		if applied[mig.Version()] {
			continue
		}
		err := m.db.Transaction(func(tx *gorm.DB) error {
			if err := mig.Up(tx); err != nil {
				return err
			}
			return tx.Create(&SchemaVersion{
				Version:   mig.Version(),
				Name:      mig.Description(),
				AppliedAt: m.now(),
			}).Error
		})
		if err != nil {
			return ran, errors.Wrap(errors.KindStorage, "migration.up", fmt.Sprintf("migration %s", mig.Version()), err)
		}
		ran++
	}
	return ran, nil
}

// Revert undoes one applied migration.
func (m *Migrator) Revert(version string) error {
	var target Migration
	for _, mig := range m.migrations {
		if mig.Version() == version {
			target = mig
			break
		}
	}
	if target == nil {
		return errors.Errorf(errors.KindStorage, "migration.revert", "migration %s not registered", version)
	}

	err := m.db.Transaction(func(tx *gorm.DB) error {
		var row SchemaVersion
		if err := tx.Where("version = ?", version).First(&row).Error; err != nil {
			return err
		}
		if err := target.Down(tx); err != nil {
			return err
		}
		return tx.Delete(&row).Error
	})
	switch {
	case stderrors.Is(err, gorm.ErrRecordNotFound):
		return errors.Errorf(errors.KindStorage, "migration.revert", "migration %s not applied", version)
	case err != nil:
		return errors.Wrap(errors.KindStorage, "migration.revert", fmt.Sprintf("migration %s", version), err)
	}
	return nil
}

// History lists applied migrations, newest first.
func (m *Migrator) History() ([]SchemaVersion, error) {
	var rows []SchemaVersion
	if err := m.db.Order("applied_at DESC, version DESC").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "migration.history", "list schema_versions", err)
	}
	return rows, nil
}

func (m *Migrator) appliedVersions() (map[string]bool, error) {
	var versions []string
	if err := m.db.Model(&SchemaVersion{}).Pluck("version", &versions).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "migration.prepare", "read schema_versions", err)
	}
	applied := make(map[string]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}
