package matcher

import (
	"fmt"
	"time"

	"intercompany-reconciliation-service/internal/models"
	"intercompany-reconciliation-service/pkg/errors"

	"github.com/google/uuid"
)

// MatchingEngine is the core engine responsible for pairing transactions
type MatchingEngine struct {
	Config *MatchingConfig

	now   func() time.Time
	newID func() string
}

// Candidate is a ranked target transaction for one source transaction
type Candidate struct {
	Transaction    *models.LedgerTransaction `json:"transaction"`
	ByReference    bool                      `json:"byReference"`
	ByCounterparty bool                      `json:"byCounterparty"`
	DateDifference int                       `json:"dateDifferenceDays"`
}

// NewMatchingEngine creates a new matching engine with the specified configuration
func NewMatchingEngine(config *MatchingConfig) *MatchingEngine {
	if config == nil {
		config = DefaultMatchingConfig()
	}

	return &MatchingEngine{
		Config: config,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.NewString() },
	}
}

// WithClock replaces the time source used for MatchedAt
func (me *MatchingEngine) WithClock(now func() time.Time) *MatchingEngine {
	me.now = now
	return me
}

// AutoMatch pairs correlating unmatched transactions of rec and records them
// as automatic matches. It returns the matches created by this call.
func (me *MatchingEngine) AutoMatch(rec *models.Reconciliation) ([]*models.Match, error) {
	sources := me.unmatchedTransactions(rec, models.SideSource)
	targets := NewLedgerIndex(me.unmatchedTransactions(rec, models.SideTarget), rec.Currency, me.Config)
	SortByDateAndID(sources)

	var created []*models.Match
	for _, src := range sources {
		if src.Currency != rec.Currency {
			continue
		}

		ranked := me.rank(rec, src, targets)
		if len(ranked) == 0 {
			continue
		}

		best := ranked[0].Transaction
		match := me.newMatch(src, best, rec.Currency, models.MatchAutomatic)
		if err := rec.AddMatch(match); err != nil {
			return created, errors.InternalError(errors.CodeUnexpectedError, "auto-match", err)
		}
		targets.Take(best.ID)
		created = append(created, match)
	}

	return created, nil
}

// Candidates returns the ranked correlating targets for one unmatched source
// transaction, limited to MaxCandidatesPerTransaction.
func (me *MatchingEngine) Candidates(rec *models.Reconciliation, sourceID string) ([]Candidate, error) {
	if !rec.IsUnmatched(models.SideSource, sourceID) {
		return nil, errors.NotFoundError(errors.CodeTransactionNotFound, "unmatched source transaction", sourceID)
	}

	src := rec.SourceTransactions[sourceID]
	if src.Currency != rec.Currency {
		return []Candidate{}, nil
	}

	targets := NewLedgerIndex(me.unmatchedTransactions(rec, models.SideTarget), rec.Currency, me.Config)
	ranked := me.rank(rec, src, targets)
	if len(ranked) > me.Config.MaxCandidatesPerTransaction {
		ranked = ranked[:me.Config.MaxCandidatesPerTransaction]
	}
	return ranked, nil
}

// ManualMatch pairs two unmatched transactions chosen by a user. The amounts
// do not have to balance; any difference is recorded on the match.
func (me *MatchingEngine) ManualMatch(rec *models.Reconciliation, sourceID, targetID string) (*models.Match, error) {
	if !rec.IsUnmatched(models.SideSource, sourceID) {
		return nil, errors.NotFoundError(errors.CodeTransactionNotFound, "unmatched source transaction", sourceID)
	}
	if !rec.IsUnmatched(models.SideTarget, targetID) {
		return nil, errors.NotFoundError(errors.CodeTransactionNotFound, "unmatched target transaction", targetID)
	}

	src := rec.SourceTransactions[sourceID]
	tgt := rec.TargetTransactions[targetID]
	if src.Currency != rec.Currency {
		return nil, errors.ValidationError(errors.CodeInvalidCurrency, "sourceTransactionId", src.Currency,
			fmt.Errorf("transaction %s is in %s, reconciliation is in %s", src.ID, src.Currency, rec.Currency))
	}
	if tgt.Currency != rec.Currency {
		return nil, errors.ValidationError(errors.CodeInvalidCurrency, "targetTransactionId", tgt.Currency,
			fmt.Errorf("transaction %s is in %s, reconciliation is in %s", tgt.ID, tgt.Currency, rec.Currency))
	}

	match := me.newMatch(src, tgt, rec.Currency, models.MatchManual)
	if err := rec.AddMatch(match); err != nil {
		return nil, errors.InternalError(errors.CodeUnexpectedError, "manual-match", err)
	}
	return match, nil
}

// Unmatch removes a match and returns both of its transactions to the
// unmatched sets.
func (me *MatchingEngine) Unmatch(rec *models.Reconciliation, matchID string) (*models.Match, error) {
	match, ok := rec.RemoveMatch(matchID)
	if !ok {
		return nil, errors.NotFoundError(errors.CodeMatchNotFound, "match", matchID)
	}
	return match, nil
}

// Correlates reports whether src and tgt satisfy the automatic matching rule
// within rec, and whether they correlate through a shared reference.
func (me *MatchingEngine) Correlates(rec *models.Reconciliation, src, tgt *models.LedgerTransaction) (ok bool, byReference bool) {
	if src.Currency != rec.Currency || tgt.Currency != rec.Currency {
		return false, false
	}

	if !me.Config.AmountsEqual(src.Amount, tgt.Amount) {
		return false, false
	}

	if me.Config.RequireOppositeSides && src.Type == tgt.Type {
		return false, false
	}

	if sharesReference(src, tgt) {
		return true, true
	}

	return me.namesCounterparty(rec, src, tgt), false
}

func sharesReference(src, tgt *models.LedgerTransaction) bool {
	ref := models.NormalizeIdentifier(src.Reference)
	return ref != "" && ref == models.NormalizeIdentifier(tgt.Reference)
}

func (me *MatchingEngine) namesCounterparty(rec *models.Reconciliation, src, tgt *models.LedgerTransaction) bool {
	if src.CounterpartyFirmID != rec.TargetFirmID || tgt.CounterpartyFirmID != rec.SourceFirmID {
		return false
	}
	return me.Config.IsWithinDateTolerance(src.Date, tgt.Date)
}

// rank returns every correlating untaken target for src, best first
func (me *MatchingEngine) rank(rec *models.Reconciliation, src *models.LedgerTransaction, targets *LedgerIndex) []Candidate {
	var ranked []Candidate
	seen := make(map[string]bool)

	// Index buckets are already in (date, ID) order, so each group stays sorted.
	for _, tgt := range targets.GetByReference(src.Reference) {
		if ok, viaRef := me.Correlates(rec, src, tgt); ok && viaRef {
			ranked = append(ranked, me.candidate(rec, src, tgt, true))
			seen[tgt.ID] = true
		}
	}

	for _, tgt := range targets.GetByExactAmount(src) {
		if seen[tgt.ID] {
			continue
		}
		if ok, _ := me.Correlates(rec, src, tgt); ok {
			ranked = append(ranked, me.candidate(rec, src, tgt, false))
		}
	}

	return ranked
}

func (me *MatchingEngine) candidate(rec *models.Reconciliation, src, tgt *models.LedgerTransaction, byReference bool) Candidate {
	return Candidate{
		Transaction:    tgt,
		ByReference:    byReference,
		ByCounterparty: me.namesCounterparty(rec, src, tgt),
		DateDifference: dayDifference(src.Date, tgt.Date),
	}
}

func (me *MatchingEngine) newMatch(src, tgt *models.LedgerTransaction, currency string, matchType models.MatchType) *models.Match {
	return &models.Match{
		ID:                  me.newID(),
		SourceTransactionID: src.ID,
		TargetTransactionID: tgt.ID,
		Amount:              src.AbsAmount(),
		Currency:            currency,
		MatchType:           matchType,
		Difference:          src.AbsAmount().Sub(tgt.AbsAmount()),
		MatchedAt:           me.now(),
	}
}

func (me *MatchingEngine) unmatchedTransactions(rec *models.Reconciliation, side models.Side) []*models.LedgerTransaction {
	ids := rec.Unmatched(side)
	ledger := rec.Ledger(side)

	txs := make([]*models.LedgerTransaction, 0, len(ids))
	for _, id := range ids {
		if tx, ok := ledger[id]; ok {
			txs = append(txs, tx)
		}
	}
	return txs
}

func dayDifference(a, b time.Time) int {
	diff := models.DateOnly(a).Sub(models.DateOnly(b))
	if diff < 0 {
		diff = -diff
	}
	return int(diff / (24 * time.Hour))
}
