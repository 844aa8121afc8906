package models

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Side identifies which firm of a reconciliation a transaction belongs to.
type Side string

const (
	SideSource Side = "source"
	SideTarget Side = "target"
)

// NewReconciliation returns an empty aggregate with initialised collections.
func NewReconciliation() *Reconciliation {
	return &Reconciliation{
		Status:                      StatusDraft,
		MatchedTransactions:         []*Match{},
		UnmatchedSourceTransactions: []string{},
		UnmatchedTargetTransactions: []string{},
		AdjustmentEntries:           []*AdjustmentEntry{},
		TotalMatched:                decimal.Zero,
		TotalAdjustments:            decimal.Zero,
		SourceTransactions:          map[string]*LedgerTransaction{},
		TargetTransactions:          map[string]*LedgerTransaction{},
	}
}

// Clone returns a deep copy, so callers can read a snapshot while writers
// mutate the stored aggregate.
func (r *Reconciliation) Clone() *Reconciliation {
	if r == nil {
		return nil
	}

	c := *r
	c.MatchedTransactions = make([]*Match, len(r.MatchedTransactions))
	for i, m := range r.MatchedTransactions {
		mc := *m
		c.MatchedTransactions[i] = &mc
	}
	c.UnmatchedSourceTransactions = append([]string{}, r.UnmatchedSourceTransactions...)
	c.UnmatchedTargetTransactions = append([]string{}, r.UnmatchedTargetTransactions...)
	c.AdjustmentEntries = make([]*AdjustmentEntry, len(r.AdjustmentEntries))
	for i, a := range r.AdjustmentEntries {
		ac := *a
		if a.ExchangeRate != nil {
			rate := *a.ExchangeRate
			ac.ExchangeRate = &rate
		}
		c.AdjustmentEntries[i] = &ac
	}
	c.SourceTransactions = cloneLedger(r.SourceTransactions)
	c.TargetTransactions = cloneLedger(r.TargetTransactions)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	if r.ApprovedAt != nil {
		t := *r.ApprovedAt
		c.ApprovedAt = &t
	}
	return &c
}

func cloneLedger(in map[string]*LedgerTransaction) map[string]*LedgerTransaction {
	out := make(map[string]*LedgerTransaction, len(in))
	for id, tx := range in {
		txc := *tx
		out[id] = &txc
	}
	return out
}

// Ledger returns the known transactions of one side.
func (r *Reconciliation) Ledger(side Side) map[string]*LedgerTransaction {
	if side == SideSource {
		return r.SourceTransactions
	}
	return r.TargetTransactions
}

// Unmatched returns the unmatched IDs of one side.
func (r *Reconciliation) Unmatched(side Side) []string {
	if side == SideSource {
		return r.UnmatchedSourceTransactions
	}
	return r.UnmatchedTargetTransactions
}

func (r *Reconciliation) setUnmatched(side Side, ids []string) {
	if side == SideSource {
		r.UnmatchedSourceTransactions = ids
	} else {
		r.UnmatchedTargetTransactions = ids
	}
}

// IsUnmatched reports whether id is in the unmatched set of side.
func (r *Reconciliation) IsUnmatched(side Side, id string) bool {
	ids := r.Unmatched(side)
	i := sort.SearchStrings(ids, id)
	return i < len(ids) && ids[i] == id
}

func (r *Reconciliation) addUnmatched(side Side, id string) {
	ids := r.Unmatched(side)
	i := sort.SearchStrings(ids, id)
	if i < len(ids) && ids[i] == id {
		return
	}
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	r.setUnmatched(side, ids)
}

func (r *Reconciliation) removeUnmatched(side Side, id string) bool {
	ids := r.Unmatched(side)
	i := sort.SearchStrings(ids, id)
	if i >= len(ids) || ids[i] != id {
		return false
	}
	r.setUnmatched(side, append(ids[:i], ids[i+1:]...))
	return true
}

// AddKnownTransactions registers ledger transactions of one side that the
// reconciliation has not seen before and puts them into the unmatched set.
// It returns the number of newly registered transactions.
func (r *Reconciliation) AddKnownTransactions(side Side, txs []*LedgerTransaction) int {
	ledger := r.Ledger(side)
	added := 0
	for _, tx := range txs {
		if _, known := ledger[tx.ID]; known {
			continue
		}
		txc := *tx
		ledger[tx.ID] = &txc
		r.addUnmatched(side, tx.ID)
		added++
	}
	return added
}

// FindMatch returns the index and value of the match with the given ID.
func (r *Reconciliation) FindMatch(matchID string) (int, *Match) {
	for i, m := range r.MatchedTransactions {
		if m.ID == matchID {
			return i, m
		}
	}
	return -1, nil
}

// AddMatch appends m and moves both of its transactions out of the unmatched
// sets. Both IDs must currently be unmatched.
func (r *Reconciliation) AddMatch(m *Match) error {
	if !r.IsUnmatched(SideSource, m.SourceTransactionID) {
		return fmt.Errorf("source transaction %s is not unmatched", m.SourceTransactionID)
	}
	if !r.IsUnmatched(SideTarget, m.TargetTransactionID) {
		return fmt.Errorf("target transaction %s is not unmatched", m.TargetTransactionID)
	}

	r.removeUnmatched(SideSource, m.SourceTransactionID)
	r.removeUnmatched(SideTarget, m.TargetTransactionID)
	r.MatchedTransactions = append(r.MatchedTransactions, m)
	r.Recalculate()
	return nil
}

// RemoveMatch deletes the match with the given ID and returns both
// transactions to their unmatched sets.
func (r *Reconciliation) RemoveMatch(matchID string) (*Match, bool) {
	i, m := r.FindMatch(matchID)
	if m == nil {
		return nil, false
	}

	r.MatchedTransactions = append(r.MatchedTransactions[:i], r.MatchedTransactions[i+1:]...)
	r.addUnmatched(SideSource, m.SourceTransactionID)
	r.addUnmatched(SideTarget, m.TargetTransactionID)
	r.Recalculate()
	return m, true
}

// AddAdjustment appends an adjustment entry and refreshes the totals.
func (r *Reconciliation) AddAdjustment(entry *AdjustmentEntry) {
	r.AdjustmentEntries = append(r.AdjustmentEntries, entry)
	r.Recalculate()
}

// Recalculate refreshes the derived totals.
func (r *Reconciliation) Recalculate() {
	total := decimal.Zero
	for _, m := range r.MatchedTransactions {
		total = total.Add(m.Amount)
	}
	r.TotalMatched = total

	adjustments := decimal.Zero
	for _, a := range r.AdjustmentEntries {
		adjustments = adjustments.Add(a.ConvertedAmount)
	}
	r.TotalAdjustments = adjustments
}

// CheckPartition verifies that every known transaction of each side is in
// exactly one of the matched or unmatched buckets.
func (r *Reconciliation) CheckPartition() error {
	matchedSource := make(map[string]bool, len(r.MatchedTransactions))
	matchedTarget := make(map[string]bool, len(r.MatchedTransactions))
	for _, m := range r.MatchedTransactions {
		if matchedSource[m.SourceTransactionID] {
			return fmt.Errorf("source transaction %s belongs to more than one match", m.SourceTransactionID)
		}
		if matchedTarget[m.TargetTransactionID] {
			return fmt.Errorf("target transaction %s belongs to more than one match", m.TargetTransactionID)
		}
		matchedSource[m.SourceTransactionID] = true
		matchedTarget[m.TargetTransactionID] = true
	}

	if err := checkSide(SideSource, r.SourceTransactions, matchedSource, r.UnmatchedSourceTransactions); err != nil {
		return err
	}
	return checkSide(SideTarget, r.TargetTransactions, matchedTarget, r.UnmatchedTargetTransactions)
}

func checkSide(side Side, known map[string]*LedgerTransaction, matched map[string]bool, unmatched []string) error {
	seen := make(map[string]bool, len(unmatched))
	for _, id := range unmatched {
		if seen[id] {
			return fmt.Errorf("%s transaction %s is listed twice as unmatched", side, id)
		}
		if matched[id] {
			return fmt.Errorf("%s transaction %s is both matched and unmatched", side, id)
		}
		if _, ok := known[id]; !ok {
			return fmt.Errorf("%s transaction %s is unmatched but unknown", side, id)
		}
		seen[id] = true
	}

	for id := range matched {
		if _, ok := known[id]; !ok {
			return fmt.Errorf("%s transaction %s is matched but unknown", side, id)
		}
	}

	if len(known) != len(matched)+len(unmatched) {
		return fmt.Errorf("%s side has %d known transactions but %d matched and %d unmatched",
			side, len(known), len(matched), len(unmatched))
	}
	return nil
}

// Summary is a derived view of a reconciliation used by reports.
type Summary struct {
	MatchedCount          int             `json:"matchedCount"`
	AutomaticMatches      int             `json:"automaticMatches"`
	ManualMatches         int             `json:"manualMatches"`
	UnmatchedSourceCount  int             `json:"unmatchedSourceCount"`
	UnmatchedTargetCount  int             `json:"unmatchedTargetCount"`
	AdjustmentCount       int             `json:"adjustmentCount"`
	TotalMatched          decimal.Decimal `json:"totalMatched"`
	TotalMatchDifference  decimal.Decimal `json:"totalMatchDifference"`
	TotalAdjustments      decimal.Decimal `json:"totalAdjustments"`
	UnmatchedSourceAmount decimal.Decimal `json:"unmatchedSourceAmount"`
	UnmatchedTargetAmount decimal.Decimal `json:"unmatchedTargetAmount"`
	UnresolvedDifference  decimal.Decimal `json:"unresolvedDifference"`
}

// Summarize computes the derived view of r.
func (r *Reconciliation) Summarize() Summary {
	s := Summary{
		MatchedCount:          len(r.MatchedTransactions),
		UnmatchedSourceCount:  len(r.UnmatchedSourceTransactions),
		UnmatchedTargetCount:  len(r.UnmatchedTargetTransactions),
		AdjustmentCount:       len(r.AdjustmentEntries),
		TotalMatched:          r.TotalMatched,
		TotalMatchDifference:  decimal.Zero,
		TotalAdjustments:      r.TotalAdjustments,
		UnmatchedSourceAmount: decimal.Zero,
		UnmatchedTargetAmount: decimal.Zero,
	}

	for _, m := range r.MatchedTransactions {
		if m.MatchType == MatchAutomatic {
			s.AutomaticMatches++
		} else {
			s.ManualMatches++
		}
		s.TotalMatchDifference = s.TotalMatchDifference.Add(m.Difference)
	}
	for _, id := range r.UnmatchedSourceTransactions {
		if tx, ok := r.SourceTransactions[id]; ok {
			s.UnmatchedSourceAmount = s.UnmatchedSourceAmount.Add(tx.AbsAmount())
		}
	}
	for _, id := range r.UnmatchedTargetTransactions {
		if tx, ok := r.TargetTransactions[id]; ok {
			s.UnmatchedTargetAmount = s.UnmatchedTargetAmount.Add(tx.AbsAmount())
		}
	}

	s.UnresolvedDifference = s.TotalMatchDifference.
		Add(s.UnmatchedSourceAmount).
		Sub(s.UnmatchedTargetAmount).
		Sub(s.TotalAdjustments)
	return s
}
