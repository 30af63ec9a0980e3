package storage

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/bytedance/sonic"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"voice-server-go/internal/domain/ledger/repository"
	"voice-server-go/internal/platform/errors"
)

type ledgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) repository.LedgerRepository {
	return &ledgerRepository{db: db}
}

func (r *ledgerRepository) AppendUsage(ctx context.Context, rec repository.UsageRecord) error {
	model := r.toUsageModel(rec)
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(model).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "ledger.usage.append", "failed to store usage event", err)
	}
	return nil
}

func (r *ledgerRepository) UnsettledTotals(ctx context.Context, cutoff time.Time) ([]repository.ContributionTotal, error) {
	var rows []repository.ContributionTotal
	if err := r.db.WithContext(ctx).
		Model(&UsageEvent{}).
		Select("contribution_id, SUM(duration_seconds) AS total_seconds, COUNT(*) AS events, SUM(cash_value_usd) AS proportional_cash_usd").
		Where("settlement_id IS NULL AND occurred_at <= ?", cutoff.UTC()).
		Group("contribution_id").
		Order("contribution_id ASC").
		Scan(&rows).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "ledger.usage.unsettled", "failed to aggregate unsettled usage", err)
	}
	return rows, nil
}

func (r *ledgerRepository) ContributionUsage(ctx context.Context, contributionID string) (repository.ContributionTotal, error) {
	total := repository.ContributionTotal{ContributionID: contributionID}
	row := struct {
		TotalSeconds        float64
		Events              int64
		ProportionalCashUSD float64
	}{}
	if err := r.db.WithContext(ctx).
		Model(&UsageEvent{}).
		Select("COALESCE(SUM(duration_seconds), 0) AS total_seconds, COUNT(*) AS events, COALESCE(SUM(cash_value_usd), 0) AS proportional_cash_usd").
		Where("contribution_id = ?", contributionID).
		Scan(&row).Error; err != nil {
		return total, errors.Wrap(errors.KindStorage, "ledger.usage.contribution", "failed to sum contribution usage", err)
	}
	total.TotalSeconds = row.TotalSeconds
	total.Events = row.Events
	total.ProportionalCashUSD = row.ProportionalCashUSD
	return total, nil
}

func (r *ledgerRepository) RecordSettlement(ctx context.Context, s repository.Settlement, cutoff time.Time) error {
	report, err := sonic.Marshal(s.Lines)
	if err != nil {
		return errors.Wrap(errors.KindStorage, "ledger.settle.marshal", "failed to marshal settlement report", err)
	}
	model := &Settlement{
		ID:             s.ID,
		SettledAt:      s.SettledAt.UTC(),
		MarketPriceUSD: s.MarketPriceUSD,
		VoicesSettled:  s.VoicesSettled,
		TotalTokens:    s.TotalTokens,
		TotalCashUSD:   s.TotalCashUSD,
		Report:         report,
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		return tx.Model(&UsageEvent{}).
			Where("settlement_id IS NULL AND occurred_at <= ?", cutoff.UTC()).
			Update("settlement_id", s.ID).Error
	})
	if err != nil {
		return errors.Wrap(errors.KindStorage, "ledger.settle.record", "failed to record settlement", err)
	}
	return nil
}

func (r *ledgerRepository) LastSettlement(ctx context.Context) (*repository.Settlement, error) {
	var model Settlement
	err := r.db.WithContext(ctx).Order("settled_at DESC").First(&model).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "ledger.settle.last", "failed to load last settlement", err)
	}
	s, err := r.fromSettlementModel(model)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *ledgerRepository) ListSettlements(ctx context.Context, limit int) ([]repository.Settlement, error) {
	var models []Settlement
	query := r.db.WithContext(ctx).Order("settled_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "ledger.settle.list", "failed to list settlements", err)
	}

	out := make([]repository.Settlement, 0, len(models))
	for _, m := range models {
		s, err := r.fromSettlementModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *ledgerRepository) toUsageModel(rec repository.UsageRecord) *UsageEvent {
	model := &UsageEvent{
		ID:              rec.ID,
		ContributionID:  rec.ContributionID,
		CharacterID:     rec.CharacterID,
		Source:          rec.Source,
		Provider:        rec.Provider,
		DurationSeconds: rec.DurationSeconds,
		CashValueUSD:    rec.CashValueUSD,
		TokenAmount:     rec.TokenAmount,
		MarketPriceUSD:  rec.MarketPriceUSD,
		OccurredAt:      rec.OccurredAt.UTC(),
	}
	if rec.SettlementID != "" {
		id := rec.SettlementID
		model.SettlementID = &id
	}
	return model
}

func (r *ledgerRepository) fromSettlementModel(m Settlement) (repository.Settlement, error) {
	s := repository.Settlement{
		ID:             m.ID,
		SettledAt:      m.SettledAt,
		MarketPriceUSD: m.MarketPriceUSD,
		VoicesSettled:  m.VoicesSettled,
		TotalTokens:    m.TotalTokens,
		TotalCashUSD:   m.TotalCashUSD,
	}
	if len(m.Report) > 0 {
		if err := sonic.Unmarshal(m.Report, &s.Lines); err != nil {
			return s, errors.Wrap(errors.KindStorage, "ledger.settle.unmarshal", "failed to unmarshal settlement report", err)
		}
	}
	return s, nil
}
