package matcher

import (
	"sort"

	"intercompany-reconciliation-service/internal/models"
)

// LedgerIndex provides efficient lookups over one side of a reconciliation
type LedgerIndex struct {
	// ExactAmountIndex maps rounded absolute amounts to transactions
	ExactAmountIndex map[string][]*models.LedgerTransaction

	// ReferenceIndex maps normalized references to transactions
	ReferenceIndex map[string][]*models.LedgerTransaction

	// AllTransactions holds all indexed transactions in (date, ID) order
	AllTransactions []*models.LedgerTransaction

	config *MatchingConfig
	taken  map[string]bool
}

// NewLedgerIndex builds an index over the given transactions. Transactions
// whose currency differs from currency are skipped since they can never be
// matched automatically.
func NewLedgerIndex(transactions []*models.LedgerTransaction, currency string, config *MatchingConfig) *LedgerIndex {
	index := &LedgerIndex{
		ExactAmountIndex: make(map[string][]*models.LedgerTransaction),
		ReferenceIndex:   make(map[string][]*models.LedgerTransaction),
		config:           config,
		taken:            make(map[string]bool),
	}

	for _, tx := range transactions {
		if tx.Currency != currency {
			continue
		}
		index.AllTransactions = append(index.AllTransactions, tx)
	}
	SortByDateAndID(index.AllTransactions)

	index.buildIndexes()
	return index
}

// buildIndexes constructs the amount and reference indexes. Buckets inherit
// the (date, ID) order of AllTransactions.
func (li *LedgerIndex) buildIndexes() {
	for _, tx := range li.AllTransactions {
		amountKey := li.amountKey(tx)
		li.ExactAmountIndex[amountKey] = append(li.ExactAmountIndex[amountKey], tx)

		if ref := models.NormalizeIdentifier(tx.Reference); ref != "" {
			li.ReferenceIndex[ref] = append(li.ReferenceIndex[ref], tx)
		}
	}
}

func (li *LedgerIndex) amountKey(tx *models.LedgerTransaction) string {
	return li.config.RoundAmount(tx.Amount).StringFixed(int32(li.config.AmountPrecision))
}

// GetByExactAmount returns untaken transactions whose rounded absolute amount
// equals that of tx
func (li *LedgerIndex) GetByExactAmount(tx *models.LedgerTransaction) []*models.LedgerTransaction {
	var result []*models.LedgerTransaction
	for _, candidate := range li.ExactAmountIndex[li.amountKey(tx)] {
		if !li.IsTaken(candidate.ID) {
			result = append(result, candidate)
		}
	}
	return result
}

// GetByReference returns untaken transactions sharing the normalized reference
func (li *LedgerIndex) GetByReference(reference string) []*models.LedgerTransaction {
	ref := models.NormalizeIdentifier(reference)
	if ref == "" {
		return nil
	}

	var result []*models.LedgerTransaction
	for _, candidate := range li.ReferenceIndex[ref] {
		if !li.IsTaken(candidate.ID) {
			result = append(result, candidate)
		}
	}
	return result
}

// Take marks a transaction as consumed by a match
func (li *LedgerIndex) Take(id string) {
	li.taken[id] = true
}

// IsTaken reports whether the transaction was consumed by a match
func (li *LedgerIndex) IsTaken(id string) bool {
	return li.taken[id]
}

// SortByDateAndID orders transactions by calendar date, then by ID
func SortByDateAndID(txs []*models.LedgerTransaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		di, dj := models.DateOnly(txs[i].Date), models.DateOnly(txs[j].Date)
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return txs[i].ID < txs[j].ID
	})
}
