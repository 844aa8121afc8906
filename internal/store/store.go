// Package store persists reconciliations and the per-firm ledger feed.
//
// Two backends are provided: an in-memory store for tests and single-process
// use, and a SQLite store whose schema is managed by golang-migrate. Both
// apply the same optimistic versioning rule: an update succeeds only when the
// caller holds the latest version of the aggregate.
package store

import (
	"context"
	"time"

	"intercompany-reconciliation-service/internal/models"
)

// ListFilter narrows a reconciliation listing. Zero values match everything.
type ListFilter struct {
	Status models.Status
	FirmID string
	Limit  int
}

// Matches reports whether rec satisfies the filter
func (f ListFilter) Matches(rec *models.Reconciliation) bool {
	if f.Status != "" && rec.Status != f.Status {
		return false
	}
	if f.FirmID != "" && rec.SourceFirmID != f.FirmID && rec.TargetFirmID != f.FirmID {
		return false
	}
	return true
}

// LedgerQuery selects the transactions of one firm within a period.
// Transactions whose counterparty is empty or equal to CounterpartyFirmID
// are returned.
type LedgerQuery struct {
	FirmID             string
	CounterpartyFirmID string
	Start              time.Time
	End                time.Time
}

// Matches reports whether tx satisfies the query
func (q LedgerQuery) Matches(tx *models.LedgerTransaction) bool {
	if tx.FirmID != q.FirmID {
		return false
	}
	if tx.CounterpartyFirmID != "" && tx.CounterpartyFirmID != q.CounterpartyFirmID {
		return false
	}
	return models.WithinPeriod(tx.Date, q.Start, q.End)
}

// ReconciliationRepository persists reconciliation aggregates.
//
//go:generate mockgen -destination=mocks/mock_store.go -package=mock_store intercompany-reconciliation-service/internal/store LedgerSource,ReconciliationRepository
type ReconciliationRepository interface {
	// Create stores a new aggregate. A duplicate ID or number is a conflict.
	Create(ctx context.Context, rec *models.Reconciliation) error
	// Get returns a copy of the stored aggregate.
	Get(ctx context.Context, id string) (*models.Reconciliation, error)
	// Update replaces the stored aggregate when rec.Version equals the stored
	// version, then increments rec.Version.
	Update(ctx context.Context, rec *models.Reconciliation) error
	// List returns copies ordered by creation time.
	List(ctx context.Context, filter ListFilter) ([]*models.Reconciliation, error)
	// NextSequence returns the next value of the named counter, starting at 1.
	NextSequence(ctx context.Context, name string) (int64, error)
}

// LedgerSource is the read side of the per-firm transaction feed
type LedgerSource interface {
	Transactions(ctx context.Context, query LedgerQuery) ([]*models.LedgerTransaction, error)
}

// LedgerWriter records transactions into the feed
type LedgerWriter interface {
	// SaveTransactions inserts transactions whose IDs are new and returns how
	// many were inserted. Known IDs are skipped.
	SaveTransactions(ctx context.Context, txs []*models.LedgerTransaction) (int, error)
}

// Ledger combines both sides of the feed
type Ledger interface {
	LedgerSource
	LedgerWriter
}

// Store is everything the service needs from persistence
type Store interface {
	ReconciliationRepository
	Ledger
	Close() error
}
