package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType represents the side of a ledger transaction
type TransactionType string

const (
	// TransactionTypeDebit represents a debit transaction
	TransactionTypeDebit TransactionType = "DEBIT"
	// TransactionTypeCredit represents a credit transaction
	TransactionTypeCredit TransactionType = "CREDIT"
)

// String returns the string representation of TransactionType
func (t TransactionType) String() string {
	return string(t)
}

// IsValid checks if the transaction type is valid
func (t TransactionType) IsValid() bool {
	return t == TransactionTypeDebit || t == TransactionTypeCredit
}

// Opposite returns the other side of the ledger.
func (t TransactionType) Opposite() TransactionType {
	if t == TransactionTypeDebit {
		return TransactionTypeCredit
	}
	return TransactionTypeDebit
}

// Status is the lifecycle state of a reconciliation.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusApproved   Status = "approved"
)

var statusOrder = map[Status]int{
	StatusDraft:      0,
	StatusInProgress: 1,
	StatusCompleted:  2,
	StatusApproved:   3,
}

// IsValid checks if the status is one of the known lifecycle states
func (s Status) IsValid() bool {
	_, ok := statusOrder[s]
	return ok
}

// Rank returns the position of s in the lifecycle, or -1 for unknown states.
func (s Status) Rank() int {
	if rank, ok := statusOrder[s]; ok {
		return rank
	}
	return -1
}

// IsTerminal reports whether no further transition is possible from s.
func (s Status) IsTerminal() bool {
	return s == StatusApproved
}

// MatchType records how a match was produced.
type MatchType string

const (
	MatchAutomatic MatchType = "automatic"
	MatchManual    MatchType = "manual"
)

// IsValid checks if the match type is valid
func (mt MatchType) IsValid() bool {
	return mt == MatchAutomatic || mt == MatchManual
}

// AdjustmentType classifies a correcting entry.
type AdjustmentType string

const (
	AdjustmentSource       AdjustmentType = "source_adjustment"
	AdjustmentTarget       AdjustmentType = "target_adjustment"
	AdjustmentExchangeRate AdjustmentType = "exchange_rate_adjustment"
)

// IsValid checks if the adjustment type is valid
func (at AdjustmentType) IsValid() bool {
	switch at {
	case AdjustmentSource, AdjustmentTarget, AdjustmentExchangeRate:
		return true
	default:
		return false
	}
}

// LedgerTransaction is a single entry from a firm's ledger feed.
type LedgerTransaction struct {
	ID                 string          `json:"id"`
	FirmID             string          `json:"firmId"`
	CounterpartyFirmID string          `json:"counterpartyFirmId,omitempty"`
	Reference          string          `json:"reference,omitempty"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	Type               TransactionType `json:"type"`
	Date               time.Time       `json:"date"`
	Description        string          `json:"description,omitempty"`
}

// Validate performs basic validation on the LedgerTransaction
func (t *LedgerTransaction) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("transaction ID cannot be empty")
	}

	if strings.TrimSpace(t.FirmID) == "" {
		return fmt.Errorf("transaction %s has no firm", t.ID)
	}

	if t.Amount.IsZero() {
		return fmt.Errorf("transaction amount cannot be zero")
	}

	if _, err := NormalizeCurrency(t.Currency); err != nil {
		return err
	}

	if !t.Type.IsValid() {
		return fmt.Errorf("invalid transaction type: %s", t.Type)
	}

	if t.Date.IsZero() {
		return fmt.Errorf("transaction date cannot be zero")
	}

	return nil
}

// AbsAmount returns the absolute value of the transaction amount
func (t *LedgerTransaction) AbsAmount() decimal.Decimal {
	return t.Amount.Abs()
}

// String returns a string representation of the LedgerTransaction
func (t *LedgerTransaction) String() string {
	return fmt.Sprintf("LedgerTransaction{ID: %s, Firm: %s, Amount: %s %s, Type: %s, Date: %s}",
		t.ID, t.FirmID, t.Amount.String(), t.Currency, t.Type, t.Date.Format("2006-01-02"))
}

// Match pairs one source-firm transaction with one target-firm transaction.
type Match struct {
	ID                  string          `json:"_id"`
	SourceTransactionID string          `json:"sourceTransactionId"`
	TargetTransactionID string          `json:"targetTransactionId"`
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency"`
	MatchType           MatchType       `json:"matchType"`
	Difference          decimal.Decimal `json:"difference"`
	MatchedAt           time.Time       `json:"matchedAt"`
}

// AdjustmentEntry is a correcting ledger line layered on top of the matches.
type AdjustmentEntry struct {
	ID              string           `json:"_id"`
	Type            AdjustmentType   `json:"type"`
	Amount          decimal.Decimal  `json:"amount"`
	Currency        string           `json:"currency"`
	ExchangeRate    *decimal.Decimal `json:"exchangeRate,omitempty"`
	ConvertedAmount decimal.Decimal  `json:"convertedAmount"`
	Reason          string           `json:"reason"`
	Description     string           `json:"description,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
}

// Reconciliation is a bounded matching session between two firms over a
// period and a currency.
type Reconciliation struct {
	ID                          string             `json:"_id"`
	ReconciliationNumber        string             `json:"reconciliationNumber"`
	SourceFirmID                string             `json:"sourceFirmId"`
	TargetFirmID                string             `json:"targetFirmId"`
	ReconciliationPeriodStart   time.Time          `json:"reconciliationPeriodStart"`
	ReconciliationPeriodEnd     time.Time          `json:"reconciliationPeriodEnd"`
	Currency                    string             `json:"currency"`
	Status                      Status             `json:"status"`
	MatchedTransactions         []*Match           `json:"matchedTransactions"`
	UnmatchedSourceTransactions []string           `json:"unmatchedSourceTransactions"`
	UnmatchedTargetTransactions []string           `json:"unmatchedTargetTransactions"`
	AdjustmentEntries           []*AdjustmentEntry `json:"adjustmentEntries"`
	TotalMatched                decimal.Decimal    `json:"totalMatched"`
	TotalAdjustments            decimal.Decimal    `json:"totalAdjustments"`
	Notes                       string             `json:"notes,omitempty"`

	SourceTransactions map[string]*LedgerTransaction `json:"sourceTransactions"`
	TargetTransactions map[string]*LedgerTransaction `json:"targetTransactions"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	ApprovedAt  *time.Time `json:"approvedAt,omitempty"`
	Version     int64      `json:"version"`
}
