// Package ledger turns usage minutes into contributor rewards. The reward
// math is pure; Accumulator and Settler add persistence around it.
package ledger

import (
	"errors"
	"math"
	"time"
)

const (
	// MinutesPerUnit is the size of one reward unit.
	MinutesPerUnit = 10
	// RatePerMinuteUSD is what one minute of heard voice earns.
	RatePerMinuteUSD = 0.01
	// UnitValueUSD is the cash value of one full reward unit.
	UnitValueUSD = MinutesPerUnit * RatePerMinuteUSD
	// CycleDays is the default settlement period.
	CycleDays = 60
)

var (
	ErrInvalidPrice  = errors.New("ledger: market price must be positive")
	ErrNegativeUsage = errors.New("ledger: usage must not be negative")
)

// RewardCalculation is recomputed from aggregates and never stored as is.
type RewardCalculation struct {
	TotalMinutes   float64 `json:"totalMinutes"`
	RewardUnits    int64   `json:"rewardUnits"`
	CashValueUSD   float64 `json:"cashEquivalentUsd"`
	TokenAmount    float64 `json:"tokens"`
	MarketPriceUSD float64 `json:"marketPriceUsd"`
}

// CalculateReward applies the batch formula. Only whole units are paid.
func CalculateReward(totalMinutes, marketPriceUSD float64) (RewardCalculation, error) {
	if err := checkInputs(totalMinutes, marketPriceUSD); err != nil {
		return RewardCalculation{}, err
	}
	units := int64(math.Floor(totalMinutes / MinutesPerUnit))
	cash := roundCents(float64(units) * UnitValueUSD)
	return RewardCalculation{
		TotalMinutes:   totalMinutes,
		RewardUnits:    units,
		CashValueUSD:   cash,
		TokenAmount:    cash / marketPriceUSD,
		MarketPriceUSD: marketPriceUSD,
	}, nil
}

// EventReward is the proportional share of a single usage event.
type EventReward struct {
	Minutes      float64 `json:"minutes"`
	CashValueUSD float64 `json:"cashUsd"`
	TokenAmount  float64 `json:"tokens"`
}

// CalculateEventReward pays every second at the per-minute rate without
// flooring, so a sum of events tracks the unfloored aggregate.
func CalculateEventReward(durationSeconds, marketPriceUSD float64) (EventReward, error) {
	if err := checkInputs(durationSeconds, marketPriceUSD); err != nil {
		return EventReward{}, err
	}
	minutes := durationSeconds / 60
	cash := minutes * RatePerMinuteUSD
	return EventReward{
		Minutes:      minutes,
		CashValueUSD: cash,
		TokenAmount:  cash / marketPriceUSD,
	}, nil
}

// DaysUntilNextSettlement counts whole days, rounding up, until the cycle
// that began at last ends. A zero last means nothing was settled yet and
// settlement is due now.
func DaysUntilNextSettlement(last, now time.Time) int {
	return daysUntil(last, now, CycleDays)
}

func daysUntil(last, now time.Time, cycleDays int) int {
	if last.IsZero() {
		return 0
	}
	remaining := last.AddDate(0, 0, cycleDays).Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Hours() / 24))
}

func checkInputs(amount, price float64) error {
	if math.IsNaN(price) || price <= 0 {
		return ErrInvalidPrice
	}
	if math.IsNaN(amount) || amount < 0 {
		return ErrNegativeUsage
	}
	return nil
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
