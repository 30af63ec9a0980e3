package storage_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-server-go/internal/domain/ledger/repository"
	"voice-server-go/internal/platform/storage"
	platformtesting "voice-server-go/internal/platform/testing"
)

func TestOpenAndMigrate_File(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nested", "voice.db")
	db, err := storage.Open(dsn)
	require.NoError(t, err)
	defer storage.Close(db)

	require.NoError(t, storage.Migrate(db))
	// a second run sees the recorded version and does nothing
	require.NoError(t, storage.Migrate(db))

	history, err := storage.NewMigrator(db).History()
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "001_ledger", history[0].Version)
}

func TestMigrator_RevertAndReapply(t *testing.T) {
	db := platformtesting.SetupTestDB(t)
	m := storage.NewMigrator(db)

	require.NoError(t, m.Revert("001_ledger"))
	assert.False(t, db.Migrator().HasTable("usage_events"))

	err := m.Revert("001_ledger")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not applied")

	ran, err := m.Apply()
	require.NoError(t, err)
	assert.Equal(t, 1, ran)
	assert.True(t, db.Migrator().HasTable("usage_events"))

	assert.Error(t, m.Revert("999_unknown"))
}

func TestLedgerRepository_UsageAndSettlement(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewLedgerRepository(platformtesting.SetupTestDB(t))

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	records := []repository.UsageRecord{
		{ID: "e1", ContributionID: "alice", Source: "tts", DurationSeconds: 30, CashValueUSD: 0.005, OccurredAt: base},
		{ID: "e2", ContributionID: "alice", Source: "call", DurationSeconds: 90, CashValueUSD: 0.015, OccurredAt: base.Add(time.Hour)},
		{ID: "e3", ContributionID: "bob", Source: "tts", DurationSeconds: 60, CashValueUSD: 0.01, OccurredAt: base.Add(2 * time.Hour)},
		{ID: "late", ContributionID: "bob", Source: "tts", DurationSeconds: 600, CashValueUSD: 0.1, OccurredAt: base.Add(48 * time.Hour)},
	}
	for _, rec := range records {
		require.NoError(t, repo.AppendUsage(ctx, rec))
	}
	// duplicate id is ignored
	require.NoError(t, repo.AppendUsage(ctx, records[0]))

	cutoff := base.Add(24 * time.Hour)
	totals, err := repo.UnsettledTotals(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, "alice", totals[0].ContributionID)
	assert.InDelta(t, 120, totals[0].TotalSeconds, 1e-9)
	assert.Equal(t, int64(2), totals[0].Events)
	assert.InDelta(t, 0.02, totals[0].ProportionalCashUSD, 1e-9)
	assert.InDelta(t, 60, totals[1].TotalSeconds, 1e-9)

	last, err := repo.LastSettlement(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	settlement := repository.Settlement{
		ID:             "s1",
		SettledAt:      cutoff,
		MarketPriceUSD: 0.1,
		VoicesSettled:  2,
		Lines:          []repository.SettlementLine{{ContributionID: "alice", Minutes: 2}},
	}
	require.NoError(t, repo.RecordSettlement(ctx, settlement, cutoff))

	totals, err = repo.UnsettledTotals(ctx, cutoff)
	require.NoError(t, err)
	assert.Empty(t, totals)

	totals, err = repo.UnsettledTotals(ctx, base.Add(72*time.Hour))
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.Equal(t, "bob", totals[0].ContributionID)

	last, err = repo.LastSettlement(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "s1", last.ID)
	require.Len(t, last.Lines, 1)
	assert.Equal(t, "alice", last.Lines[0].ContributionID)

	usage, err := repo.ContributionUsage(ctx, "bob")
	require.NoError(t, err)
	assert.InDelta(t, 660, usage.TotalSeconds, 1e-9)
	assert.Equal(t, int64(2), usage.Events)

	list, err := repo.ListSettlements(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
