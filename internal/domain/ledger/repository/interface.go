package repository

import (
	"context"
	"time"
)

// UsageRecord is a persisted usage event with the proportional reward it
// earned when it was accumulated.
type UsageRecord struct {
	ID              string
	ContributionID  string
	CharacterID     string
	Source          string
	Provider        string
	DurationSeconds float64
	CashValueUSD    float64
	TokenAmount     float64
	MarketPriceUSD  float64
	SettlementID    string
	OccurredAt      time.Time
}

// ContributionTotal aggregates the unsettled usage of one contribution.
type ContributionTotal struct {
	ContributionID      string
	TotalSeconds        float64
	Events              int64
	ProportionalCashUSD float64
}

type SettlementLine struct {
	ContributionID string  `json:"contributionId"`
	Minutes        float64 `json:"minutes"`
	RewardUnits    int64   `json:"rewardUnits"`
	CashValueUSD   float64 `json:"cashUsd"`
	TokenAmount    float64 `json:"tokens"`
}

type Settlement struct {
	ID             string
	SettledAt      time.Time
	MarketPriceUSD float64
	VoicesSettled  int
	TotalTokens    float64
	TotalCashUSD   float64
	Lines          []SettlementLine
}

// LedgerRepository persists usage and settlements. RecordSettlement must
// write the settlement and claim the events it covers atomically.
type LedgerRepository interface {
	// AppendUsage ignores a record whose ID is already stored.
	AppendUsage(ctx context.Context, rec UsageRecord) error

	// UnsettledTotals groups unsettled events that occurred at or before
	// cutoff by contribution, ordered by contribution id.
	UnsettledTotals(ctx context.Context, cutoff time.Time) ([]ContributionTotal, error)

	// ContributionUsage sums every event of one contribution, settled or not.
	ContributionUsage(ctx context.Context, contributionID string) (ContributionTotal, error)

	RecordSettlement(ctx context.Context, s Settlement, cutoff time.Time) error

	// LastSettlement returns nil when nothing was ever settled.
	LastSettlement(ctx context.Context) (*Settlement, error)

	ListSettlements(ctx context.Context, limit int) ([]Settlement, error)
}
