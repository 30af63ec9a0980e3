package ledger

import (
	"context"
	"time"

	"voice-server-go/internal/domain/eventbus"
	"voice-server-go/internal/domain/ledger/repository"
	"voice-server-go/internal/platform/logging"
)

// Accumulator persists each usage event with its proportional reward at
// the current market price.
type Accumulator struct {
	repo    repository.LedgerRepository
	price   float64
	timeout time.Duration
	logger  *logging.Logger
}

func NewAccumulator(repo repository.LedgerRepository, marketPriceUSD float64, logger *logging.Logger) *Accumulator {
	return &Accumulator{repo: repo, price: marketPriceUSD, timeout: 5 * time.Second, logger: logger}
}

// Attach subscribes the accumulator to the bus.
func (a *Accumulator) Attach(bus *eventbus.Bus) error {
	return eventbus.SubscribeUsage(bus, a.handle)
}

func (a *Accumulator) handle(e eventbus.UsageEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if err := a.Record(ctx, e); err != nil {
		a.logger.ErrorTag("LEDGER", "dropping usage event %s: %v", e.ID, err)
	}
}

// Record stores one event. Events without a contribution are not billable
// and are skipped.
func (a *Accumulator) Record(ctx context.Context, e eventbus.UsageEvent) error {
	if e.ContributionID == "" {
		a.logger.DebugTag("LEDGER", "usage event %s has no contribution, skipped", e.ID)
		return nil
	}
	reward, err := CalculateEventReward(e.DurationSeconds, a.price)
	if err != nil {
		return err
	}
	occurred := e.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	if err := a.repo.AppendUsage(ctx, repository.UsageRecord{
		ID:              e.ID,
		ContributionID:  e.ContributionID,
		CharacterID:     e.CharacterID,
		Source:          string(e.Source),
		Provider:        e.Provider,
		DurationSeconds: e.DurationSeconds,
		CashValueUSD:    reward.CashValueUSD,
		TokenAmount:     reward.TokenAmount,
		MarketPriceUSD:  a.price,
		OccurredAt:      occurred,
	}); err != nil {
		return err
	}
	a.logger.DebugTag("LEDGER", "recorded %.2fs for %s (%s)", e.DurationSeconds, e.ContributionID, e.Source)
	return nil
}
