package matcher

import (
	"fmt"
	"time"

	"intercompany-reconciliation-service/internal/models"

	"github.com/shopspring/decimal"
)

func day(d int) time.Time {
	return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC)
}

func ledgerTx(id, firm, counterparty, ref string, amount int64, txType models.TransactionType, date time.Time) *models.LedgerTransaction {
	return &models.LedgerTransaction{
		ID:                 id,
		FirmID:             firm,
		CounterpartyFirmID: counterparty,
		Reference:          ref,
		Amount:             decimal.NewFromInt(amount),
		Currency:           "SAR",
		Type:               txType,
		Date:               date,
	}
}

func newTestReconciliation(sources, targets []*models.LedgerTransaction) *models.Reconciliation {
	rec := models.NewReconciliation()
	rec.ID = "rec-test"
	rec.SourceFirmID = "A"
	rec.TargetFirmID = "B"
	rec.Currency = "SAR"
	rec.ReconciliationPeriodStart = day(1)
	rec.ReconciliationPeriodEnd = day(31)
	rec.AddKnownTransactions(models.SideSource, sources)
	rec.AddKnownTransactions(models.SideTarget, targets)
	return rec
}

func newTestEngine(config *MatchingConfig) *MatchingEngine {
	seq := 0
	engine := NewMatchingEngine(config).WithClock(func() time.Time {
		return time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	})
	engine.newID = func() string {
		seq++
		return fmt.Sprintf("m%d", seq)
	}
	return engine
}
