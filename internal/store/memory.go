package store

import (
	"context"
	"sort"
	"sync"

	"intercompany-reconciliation-service/internal/models"
	"intercompany-reconciliation-service/pkg/errors"
)

// MemoryStore keeps everything in process memory
type MemoryStore struct {
	mu              sync.RWMutex
	reconciliations map[string]*models.Reconciliation
	numbers         map[string]string
	sequences       map[string]int64
	ledger          map[ledgerKey]*models.LedgerTransaction
}

// ledgerKey identifies a transaction within its firm's ledger
type ledgerKey struct {
	firmID string
	id     string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reconciliations: make(map[string]*models.Reconciliation),
		numbers:         make(map[string]string),
		sequences:       make(map[string]int64),
		ledger:          make(map[ledgerKey]*models.LedgerTransaction),
	}
}

// Create implements ReconciliationRepository
func (s *MemoryStore) Create(ctx context.Context, rec *models.Reconciliation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.reconciliations[rec.ID]; exists {
		return errors.ConflictError(errors.CodeDuplicate, "reconciliation", rec.ID, nil)
	}
	if _, exists := s.numbers[rec.ReconciliationNumber]; exists {
		return errors.ConflictError(errors.CodeDuplicate, "reconciliation number", rec.ReconciliationNumber, nil)
	}

	s.reconciliations[rec.ID] = rec.Clone()
	s.numbers[rec.ReconciliationNumber] = rec.ID
	return nil
}

// Get implements ReconciliationRepository
func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Reconciliation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.reconciliations[id]
	if !ok {
		return nil, errors.NotFoundError(errors.CodeReconciliationNotFound, "reconciliation", id)
	}
	return rec.Clone(), nil
}

// Update implements ReconciliationRepository
func (s *MemoryStore) Update(ctx context.Context, rec *models.Reconciliation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.reconciliations[rec.ID]
	if !ok {
		return errors.NotFoundError(errors.CodeReconciliationNotFound, "reconciliation", rec.ID)
	}
	if current.Version != rec.Version {
		return errors.ConflictError(errors.CodeVersionConflict, "reconciliation", rec.ID, nil).
			WithContext("expected_version", current.Version).
			WithContext("actual_version", rec.Version)
	}

	rec.Version++
	s.reconciliations[rec.ID] = rec.Clone()
	return nil
}

// List implements ReconciliationRepository
func (s *MemoryStore) List(ctx context.Context, filter ListFilter) ([]*models.Reconciliation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Reconciliation, 0)
	for _, rec := range s.reconciliations {
		if filter.Matches(rec) {
			result = append(result, rec.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// NextSequence implements ReconciliationRepository
func (s *MemoryStore) NextSequence(ctx context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sequences[name]++
	return s.sequences[name], nil
}

// Transactions implements LedgerSource
func (s *MemoryStore) Transactions(ctx context.Context, query LedgerQuery) ([]*models.LedgerTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.LedgerTransaction, 0)
	for _, tx := range s.ledger {
		if query.Matches(tx) {
			txc := *tx
			result = append(result, &txc)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// SaveTransactions implements LedgerWriter
func (s *MemoryStore) SaveTransactions(ctx context.Context, txs []*models.LedgerTransaction) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, tx := range txs {
		key := ledgerKey{firmID: tx.FirmID, id: tx.ID}
		if _, exists := s.ledger[key]; exists {
			continue
		}
		txc := *tx
		s.ledger[key] = &txc
		inserted++
	}
	return inserted, nil
}

// Close implements Store
func (s *MemoryStore) Close() error {
	return nil
}
