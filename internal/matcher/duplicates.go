package matcher

import (
	"fmt"

	"intercompany-reconciliation-service/internal/models"
)

// DuplicateGroup is a set of ledger transactions of one firm that look like
// the same economic event recorded more than once
type DuplicateGroup struct {
	GroupID      string                      `json:"groupId"`
	Transactions []*models.LedgerTransaction `json:"transactions"`
	Reason       string                      `json:"reason"`
}

// DetectDuplicates identifies potential duplicate transactions within one feed.
// Transactions are compared pairwise; each transaction joins at most one group.
func (me *MatchingEngine) DetectDuplicates(transactions []*models.LedgerTransaction) []DuplicateGroup {
	var groups []DuplicateGroup
	processed := make([]bool, len(transactions))

	for i, tx1 := range transactions {
		if processed[i] {
			continue
		}

		duplicates := []*models.LedgerTransaction{tx1}
		for j := i + 1; j < len(transactions); j++ {
			tx2 := transactions[j]
			if processed[j] {
				continue
			}

			if me.isPotentialDuplicate(tx1, tx2) {
				duplicates = append(duplicates, tx2)
				processed[j] = true
			}
		}

		if len(duplicates) > 1 {
			groups = append(groups, DuplicateGroup{
				GroupID:      fmt.Sprintf("DUP_%s", tx1.ID),
				Transactions: duplicates,
				Reason: fmt.Sprintf("found %d %s transactions of %s %s on %s for firm %s",
					len(duplicates), tx1.Type, tx1.Amount.String(), tx1.Currency,
					tx1.Date.Format("2006-01-02"), tx1.FirmID),
			})
		}

		processed[i] = true
	}

	return groups
}

func (me *MatchingEngine) isPotentialDuplicate(tx1, tx2 *models.LedgerTransaction) bool {
	if tx1.FirmID != tx2.FirmID || tx1.Currency != tx2.Currency || tx1.Type != tx2.Type {
		return false
	}

	if !tx1.Amount.Equal(tx2.Amount) {
		return false
	}

	if !models.DateOnly(tx1.Date).Equal(models.DateOnly(tx2.Date)) {
		return false
	}

	return models.NormalizeIdentifier(tx1.Reference) == models.NormalizeIdentifier(tx2.Reference)
}
