package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"voice-server-go/internal/domain/ledger/repository"
	"voice-server-go/internal/platform/logging"
)

var ErrSettlementNotDue = errors.New("ledger: settlement cycle has not elapsed")

// SettlementReport is the only externally visible output of a settlement.
type SettlementReport struct {
	ID            string                      `json:"id,omitempty"`
	SettledAt     time.Time                   `json:"settledAt"`
	VoicesSettled int                         `json:"voicesSettled"`
	TotalTokens   float64                     `json:"totalTokens"`
	TotalCashUSD  float64                     `json:"totalCashUsd"`
	Lines         []repository.SettlementLine `json:"lines,omitempty"`
	NextInDays    int                         `json:"nextSettlementInDays"`
}

type Settler struct {
	repo      repository.LedgerRepository
	cycleDays int
	logger    *logging.Logger
}

func NewSettler(repo repository.LedgerRepository, cycleDays int, logger *logging.Logger) *Settler {
	if cycleDays <= 0 {
		cycleDays = CycleDays
	}
	return &Settler{repo: repo, cycleDays: cycleDays, logger: logger}
}

// DaysUntilNext reports how long until the next settlement may run.
func (s *Settler) DaysUntilNext(ctx context.Context, now time.Time) (int, error) {
	last, err := s.repo.LastSettlement(ctx)
	if err != nil {
		return 0, err
	}
	if last == nil {
		return 0, nil
	}
	return daysUntil(last.SettledAt, now, s.cycleDays), nil
}

// Settle pays out every unsettled event up to now with the floored batch
// formula per contribution. Unless force is set it refuses to run before
// the cycle since the previous settlement has elapsed.
func (s *Settler) Settle(ctx context.Context, now time.Time, marketPriceUSD float64, force bool) (*SettlementReport, error) {
	if marketPriceUSD <= 0 {
		return nil, ErrInvalidPrice
	}
	if !force {
		days, err := s.DaysUntilNext(ctx, now)
		if err != nil {
			return nil, err
		}
		if days > 0 {
			return nil, fmt.Errorf("%w: %d days remaining", ErrSettlementNotDue, days)
		}
	}

	totals, err := s.repo.UnsettledTotals(ctx, now)
	if err != nil {
		return nil, err
	}

	report := &SettlementReport{ID: uuid.NewString(), SettledAt: now.UTC()}
	for _, total := range totals {
		calc, err := CalculateReward(total.TotalSeconds/60, marketPriceUSD)
		if err != nil {
			return nil, err
		}
		report.Lines = append(report.Lines, repository.SettlementLine{
			ContributionID: total.ContributionID,
			Minutes:        calc.TotalMinutes,
			RewardUnits:    calc.RewardUnits,
			CashValueUSD:   calc.CashValueUSD,
			TokenAmount:    calc.TokenAmount,
		})
		if calc.RewardUnits > 0 {
			report.VoicesSettled++
		}
		report.TotalCashUSD += calc.CashValueUSD
		report.TotalTokens += calc.TokenAmount
	}
	report.TotalCashUSD = roundCents(report.TotalCashUSD)

	if err := s.repo.RecordSettlement(ctx, repository.Settlement{
		ID:             report.ID,
		SettledAt:      report.SettledAt,
		MarketPriceUSD: marketPriceUSD,
		VoicesSettled:  report.VoicesSettled,
		TotalTokens:    report.TotalTokens,
		TotalCashUSD:   report.TotalCashUSD,
		Lines:          report.Lines,
	}, now); err != nil {
		return nil, err
	}
	report.NextInDays = s.cycleDays

	s.logger.InfoTag("LEDGER", "settled %d voices: $%.2f, %.4f tokens", report.VoicesSettled, report.TotalCashUSD, report.TotalTokens)
	return report, nil
}
