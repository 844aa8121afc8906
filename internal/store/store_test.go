package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"intercompany-reconciliation-service/internal/models"
	"intercompany-reconciliation-service/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()

	sqliteStore, err := OpenSQLite(filepath.Join(t.TempDir(), "reconciler.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { sqliteStore.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqliteStore,
	}
}

func newStoredReconciliation(id, number string, created time.Time) *models.Reconciliation {
	rec := models.NewReconciliation()
	rec.ID = id
	rec.ReconciliationNumber = number
	rec.SourceFirmID = "A"
	rec.TargetFirmID = "B"
	rec.Currency = "SAR"
	rec.ReconciliationPeriodStart = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rec.ReconciliationPeriodEnd = time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	rec.CreatedAt = created
	rec.UpdatedAt = created
	rec.AddKnownTransactions(models.SideSource, []*models.LedgerTransaction{{
		ID: "s1", FirmID: "A", Amount: decimal.RequireFromString("100.50"), Currency: "SAR",
		Type: models.TransactionTypeDebit, Date: rec.ReconciliationPeriodStart,
	}})
	return rec
}

func TestStore_CreateGet(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			rec := newStoredReconciliation("rec-1", "ICR-2025-000001", created)
			require.NoError(t, s.Create(ctx, rec))

			got, err := s.Get(ctx, "rec-1")
			require.NoError(t, err)
			assert.Equal(t, "ICR-2025-000001", got.ReconciliationNumber)
			assert.Equal(t, []string{"s1"}, got.UnmatchedSourceTransactions)
			assert.True(t, got.SourceTransactions["s1"].Amount.Equal(decimal.RequireFromString("100.50")))
			assert.True(t, got.CreatedAt.Equal(created))

			err = s.Create(ctx, newStoredReconciliation("rec-2", "ICR-2025-000001", created))
			assert.Equal(t, errors.CategoryConflict, errors.KindOf(err))

			_, err = s.Get(ctx, "missing")
			assert.Equal(t, errors.CategoryNotFound, errors.KindOf(err))
		})
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Create(ctx, newStoredReconciliation("rec-1", "N-1", time.Now().UTC())))

			first, err := s.Get(ctx, "rec-1")
			require.NoError(t, err)
			first.UnmatchedSourceTransactions = nil
			first.Status = models.StatusApproved

			second, err := s.Get(ctx, "rec-1")
			require.NoError(t, err)
			assert.Equal(t, models.StatusDraft, second.Status)
			assert.Equal(t, []string{"s1"}, second.UnmatchedSourceTransactions)
		})
	}
}

func TestStore_UpdateVersioning(t *testing.T) {
	ctx := context.Background()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Create(ctx, newStoredReconciliation("rec-1", "N-1", time.Now().UTC())))

			writerA, err := s.Get(ctx, "rec-1")
			require.NoError(t, err)
			writerB, err := s.Get(ctx, "rec-1")
			require.NoError(t, err)

			writerA.Status = models.StatusInProgress
			require.NoError(t, s.Update(ctx, writerA))
			assert.Equal(t, int64(1), writerA.Version)

			writerB.Notes = "stale"
			err = s.Update(ctx, writerB)
			assert.Equal(t, errors.CategoryConflict, errors.KindOf(err))

			stored, err := s.Get(ctx, "rec-1")
			require.NoError(t, err)
			assert.Equal(t, models.StatusInProgress, stored.Status)
			assert.Equal(t, int64(1), stored.Version)
			assert.Empty(t, stored.Notes)

			ghost := newStoredReconciliation("ghost", "N-9", time.Now().UTC())
			assert.Equal(t, errors.CategoryNotFound, errors.KindOf(s.Update(ctx, ghost)))
		})
	}
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			first := newStoredReconciliation("rec-1", "N-1", base)
			second := newStoredReconciliation("rec-2", "N-2", base.Add(time.Hour))
			second.SourceFirmID = "C"
			second.TargetFirmID = "A"
			second.Status = models.StatusCompleted
			third := newStoredReconciliation("rec-3", "N-3", base.Add(2*time.Hour))
			third.SourceFirmID = "C"
			third.TargetFirmID = "D"

			for _, rec := range []*models.Reconciliation{third, first, second} {
				require.NoError(t, s.Create(ctx, rec))
			}

			all, err := s.List(ctx, ListFilter{})
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, []string{"rec-1", "rec-2", "rec-3"}, []string{all[0].ID, all[1].ID, all[2].ID})

			byFirm, err := s.List(ctx, ListFilter{FirmID: "A"})
			require.NoError(t, err)
			assert.Len(t, byFirm, 2)

			byStatus, err := s.List(ctx, ListFilter{Status: models.StatusCompleted})
			require.NoError(t, err)
			require.Len(t, byStatus, 1)
			assert.Equal(t, "rec-2", byStatus[0].ID)

			limited, err := s.List(ctx, ListFilter{Limit: 1})
			require.NoError(t, err)
			assert.Len(t, limited, 1)
		})
	}
}

func TestStore_NextSequence(t *testing.T) {
	ctx := context.Background()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for want := int64(1); want <= 3; want++ {
				got, err := s.NextSequence(ctx, "ICR-2025")
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}

			other, err := s.NextSequence(ctx, "ICR-2026")
			require.NoError(t, err)
			assert.Equal(t, int64(1), other)
		})
	}
}

func TestStore_Ledger(t *testing.T) {
	ctx := context.Background()
	jan := func(d int) time.Time { return time.Date(2025, 1, d, 15, 30, 0, 0, time.UTC) }

	txs := []*models.LedgerTransaction{
		{ID: "a1", FirmID: "A", CounterpartyFirmID: "B", Reference: "INV-1", Amount: decimal.RequireFromString("100.00"), Currency: "SAR", Type: models.TransactionTypeDebit, Date: jan(1)},
		{ID: "a2", FirmID: "A", Amount: decimal.RequireFromString("-20.5"), Currency: "SAR", Type: models.TransactionTypeCredit, Date: jan(31)},
		{ID: "a3", FirmID: "A", CounterpartyFirmID: "C", Amount: decimal.RequireFromString("5"), Currency: "SAR", Type: models.TransactionTypeDebit, Date: jan(15)},
		{ID: "a4", FirmID: "A", CounterpartyFirmID: "B", Amount: decimal.RequireFromString("7"), Currency: "SAR", Type: models.TransactionTypeDebit, Date: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "b1", FirmID: "B", CounterpartyFirmID: "A", Amount: decimal.RequireFromString("100"), Currency: "SAR", Type: models.TransactionTypeCredit, Date: jan(2)},
	}

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			inserted, err := s.SaveTransactions(ctx, txs)
			require.NoError(t, err)
			assert.Equal(t, 5, inserted)

			inserted, err = s.SaveTransactions(ctx, txs[:2])
			require.NoError(t, err)
			assert.Equal(t, 0, inserted)

			got, err := s.Transactions(ctx, LedgerQuery{
				FirmID:             "A",
				CounterpartyFirmID: "B",
				Start:              time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
				End:                time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
			})
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "a1", got[0].ID)
			assert.Equal(t, "a2", got[1].ID)
			assert.True(t, got[0].Amount.Equal(decimal.NewFromInt(100)))
			assert.Equal(t, "INV-1", got[0].Reference)
			assert.True(t, got[1].Date.Equal(jan(31)))
		})
	}
}

func TestStore_LedgerKeyedByFirm(t *testing.T) {
	ctx := context.Background()
	jan5 := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)

	txs := []*models.LedgerTransaction{
		{ID: "1", FirmID: "A", CounterpartyFirmID: "B", Reference: "INV-7", Amount: decimal.NewFromInt(100), Currency: "SAR", Type: models.TransactionTypeDebit, Date: jan5},
		{ID: "1", FirmID: "B", CounterpartyFirmID: "A", Reference: "INV-7", Amount: decimal.NewFromInt(100), Currency: "SAR", Type: models.TransactionTypeCredit, Date: jan5},
	}

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			inserted, err := s.SaveTransactions(ctx, txs)
			require.NoError(t, err)
			assert.Equal(t, 2, inserted)

			inserted, err = s.SaveTransactions(ctx, txs[1:])
			require.NoError(t, err)
			assert.Equal(t, 0, inserted)

			for _, tt := range []struct{ firm, counterparty string }{{"A", "B"}, {"B", "A"}} {
				got, err := s.Transactions(ctx, LedgerQuery{
					FirmID:             tt.firm,
					CounterpartyFirmID: tt.counterparty,
					Start:              jan5,
					End:                jan5,
				})
				require.NoError(t, err)
				require.Len(t, got, 1)
				assert.Equal(t, "1", got[0].ID)
				assert.Equal(t, tt.firm, got[0].FirmID)
			}
		})
	}
}
