package reconciler

import (
	"fmt"
	"strings"
	"time"

	"intercompany-reconciliation-service/internal/models"
	"intercompany-reconciliation-service/pkg/errors"
)

// PreprocessingConfig contains configuration for ledger preprocessing
type PreprocessingConfig struct {
	// DefaultTimezone is applied to transaction dates
	DefaultTimezone *time.Location

	// NormalizeDecimalPlaces rounds amounts; -1 leaves them untouched
	NormalizeDecimalPlaces int

	// SanitizeText strips markup from references and descriptions
	SanitizeText bool

	// RemoveDuplicates drops repeated IDs within one batch
	RemoveDuplicates bool
}

// DefaultPreprocessingConfig returns a default preprocessing configuration
func DefaultPreprocessingConfig() *PreprocessingConfig {
	return &PreprocessingConfig{
		DefaultTimezone:        time.UTC,
		NormalizeDecimalPlaces: -1,
		SanitizeText:           true,
		RemoveDuplicates:       true,
	}
}

// LedgerPreprocessor normalizes and validates ledger transactions before
// they are written to the feed
type LedgerPreprocessor struct {
	config *PreprocessingConfig
}

// PreprocessingStats contains statistics about one preprocessing run
type PreprocessingStats struct {
	Received   int `json:"received"`
	Accepted   int `json:"accepted"`
	Duplicates int `json:"duplicates"`
	Rejected   int `json:"rejected"`
}

// NewLedgerPreprocessor creates a new ledger preprocessor
func NewLedgerPreprocessor(config *PreprocessingConfig) *LedgerPreprocessor {
	if config == nil {
		config = DefaultPreprocessingConfig()
	}

	return &LedgerPreprocessor{
		config: config,
	}
}

// PreprocessTransactions returns normalized copies of the valid transactions
// together with one error per rejected transaction
func (lp *LedgerPreprocessor) PreprocessTransactions(transactions []*models.LedgerTransaction) ([]*models.LedgerTransaction, []*errors.ReconcilerError, PreprocessingStats) {
	stats := PreprocessingStats{Received: len(transactions)}
	processed := make([]*models.LedgerTransaction, 0, len(transactions))
	var rejected []*errors.ReconcilerError
	seen := make(map[[2]string]bool)

	for i, tx := range transactions {
		normalized, err := lp.preprocessTransaction(tx)
		if err != nil {
			rejected = append(rejected, errors.ValidationError(errors.CodeInvalidValue, "transactions", tx.ID, err).
				WithContext("index", i))
			stats.Rejected++
			continue
		}

		if lp.config.RemoveDuplicates {
			key := [2]string{normalized.FirmID, normalized.ID}
			if seen[key] {
				stats.Duplicates++
				continue
			}
			seen[key] = true
		}

		processed = append(processed, normalized)
	}

	stats.Accepted = len(processed)
	return processed, rejected, stats
}

// preprocessTransaction processes a single transaction
func (lp *LedgerPreprocessor) preprocessTransaction(tx *models.LedgerTransaction) (*models.LedgerTransaction, error) {
	processed := &models.LedgerTransaction{
		ID:                 strings.TrimSpace(tx.ID),
		FirmID:             strings.TrimSpace(tx.FirmID),
		CounterpartyFirmID: strings.TrimSpace(tx.CounterpartyFirmID),
		Reference:          strings.TrimSpace(tx.Reference),
		Amount:             tx.Amount,
		Currency:           strings.ToUpper(strings.TrimSpace(tx.Currency)),
		Type:               models.TransactionType(strings.ToUpper(strings.TrimSpace(string(tx.Type)))),
		Date:               tx.Date,
		Description:        strings.TrimSpace(tx.Description),
	}

	if lp.config.SanitizeText {
		processed.Reference = SanitizeText(processed.Reference)
		processed.Description = SanitizeText(processed.Description)
	}

	if lp.config.NormalizeDecimalPlaces >= 0 {
		processed.Amount = processed.Amount.Round(int32(lp.config.NormalizeDecimalPlaces))
	}

	if lp.config.DefaultTimezone != nil {
		processed.Date = processed.Date.In(lp.config.DefaultTimezone)
	}

	if err := processed.Validate(); err != nil {
		return nil, err
	}

	if processed.CounterpartyFirmID == processed.FirmID {
		return nil, fmt.Errorf("transaction %s names its own firm %s as counterparty", processed.ID, processed.FirmID)
	}

	return processed, nil
}
