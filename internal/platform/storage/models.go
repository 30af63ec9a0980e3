package storage

import (
	"time"

	"gorm.io/datatypes"
)

// UsageEvent is the row behind one recorded usage event.
type UsageEvent struct {
	ID              string `gorm:"primaryKey;type:varchar(36)"`
	ContributionID  string `gorm:"index;not null"`
	CharacterID     string
	Source          string `gorm:"not null"`
	Provider        string
	DurationSeconds float64 `gorm:"not null"`
	CashValueUSD    float64 `gorm:"column:cash_value_usd"`
	TokenAmount     float64
	MarketPriceUSD  float64   `gorm:"column:market_price_usd"`
	SettlementID    *string   `gorm:"index"`
	OccurredAt      time.Time `gorm:"index;not null"`
	CreatedAt       time.Time
}

func (UsageEvent) TableName() string { return "usage_events" }

// Settlement stores one settlement run; Report holds the per-contribution
// lines as JSON.
type Settlement struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)"`
	SettledAt      time.Time `gorm:"index;not null"`
	MarketPriceUSD float64   `gorm:"column:market_price_usd"`
	VoicesSettled  int
	TotalTokens    float64
	TotalCashUSD   float64        `gorm:"column:total_cash_usd"`
	Report         datatypes.JSON `gorm:"not null"`
}

func (Settlement) TableName() string { return "settlements" }
