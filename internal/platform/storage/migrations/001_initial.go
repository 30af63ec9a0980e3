package migrations

import (
	"gorm.io/gorm"
)

// Migration001Ledger creates the usage event log and the settlement history.
type Migration001Ledger struct{}

func (m *Migration001Ledger) Version() string {
	return "001_ledger"
}

func (m *Migration001Ledger) Description() string {
	return "Create usage_events and settlements tables"
}

func (m *Migration001Ledger) Up(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS usage_events (
			id VARCHAR(36) PRIMARY KEY,
			contribution_id VARCHAR(255) NOT NULL,
			character_id VARCHAR(255),
			source VARCHAR(16) NOT NULL,
			provider VARCHAR(64),
			duration_seconds REAL NOT NULL,
			cash_value_usd REAL NOT NULL DEFAULT 0,
			token_amount REAL NOT NULL DEFAULT 0,
			market_price_usd REAL NOT NULL DEFAULT 0,
			settlement_id VARCHAR(36),
			occurred_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL
		)
	`).Error; err != nil {
		return err
	}

	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS settlements (
			id VARCHAR(36) PRIMARY KEY,
			settled_at DATETIME NOT NULL,
			market_price_usd REAL NOT NULL,
			voices_settled INTEGER NOT NULL,
			total_tokens REAL NOT NULL,
			total_cash_usd REAL NOT NULL,
			report JSON NOT NULL
		)
	`).Error; err != nil {
		return err
	}

	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_usage_events_contribution_id ON usage_events(contribution_id)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_events_settlement_id ON usage_events(settlement_id)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_events_occurred_at ON usage_events(occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_settlements_settled_at ON settlements(settled_at)`,
	} {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}

	return nil
}

func (m *Migration001Ledger) Down(db *gorm.DB) error {
	if err := db.Exec(`DROP TABLE IF EXISTS settlements`).Error; err != nil {
		return err
	}
	if err := db.Exec(`DROP TABLE IF EXISTS usage_events`).Error; err != nil {
		return err
	}
	return nil
}
