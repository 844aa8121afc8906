// Package reconciler is the facade the API and CLI use to drive
// inter-company reconciliations.
//
// Every mutation follows the same path: take the per-reconciliation lock,
// load the latest stored version, check the operation against the lifecycle,
// apply it, verify the matched/unmatched partition and write back with an
// optimistic version check. The fresh aggregate is returned to the caller and
// placed in the read cache.
//
// Example usage:
//
//	svc, err := reconciler.NewService(reconciler.Dependencies{
//		Repository: st,
//		Ledger:     st,
//		Writer:     st,
//		Rates:      rates,
//	}, reconciler.DefaultConfig())
//
//	rec, err := svc.Create(ctx, reconciler.CreateRequest{...})
//	rec, created, err := svc.AutoMatch(ctx, rec.ID)
package reconciler

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"intercompany-reconciliation-service/internal/matcher"
	"intercompany-reconciliation-service/internal/models"
	"intercompany-reconciliation-service/internal/store"
	"intercompany-reconciliation-service/pkg/errors"
	"intercompany-reconciliation-service/pkg/logger"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// Config holds configuration options for the reconciliation service
type Config struct {
	Matching      *matcher.MatchingConfig
	Preprocessing *PreprocessingConfig

	// NumberPrefix starts every reconciliation number, e.g. ICR-2025-000001
	NumberPrefix string

	// CacheTTL is how long a snapshot stays in the read cache
	CacheTTL time.Duration
	// CacheCleanupInterval is how often expired snapshots are purged
	CacheCleanupInterval time.Duration
}

// DefaultConfig returns a default configuration for the reconciliation service
func DefaultConfig() *Config {
	return &Config{
		Matching:             matcher.DefaultMatchingConfig(),
		Preprocessing:        DefaultPreprocessingConfig(),
		NumberPrefix:         "ICR",
		CacheTTL:             5 * time.Minute,
		CacheCleanupInterval: 10 * time.Minute,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Matching == nil {
		return fmt.Errorf("matching configuration is required")
	}
	if err := c.Matching.Validate(); err != nil {
		return fmt.Errorf("invalid matching configuration: %w", err)
	}
	if strings.TrimSpace(c.NumberPrefix) == "" {
		return fmt.Errorf("reconciliation number prefix cannot be empty")
	}
	// go-cache reads a zero TTL as "never expire"
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive, got %s", c.CacheTTL)
	}
	return nil
}

// Dependencies are the collaborators of the service
type Dependencies struct {
	Repository store.ReconciliationRepository
	Ledger     store.LedgerSource
	// Writer is optional; ImportTransactions fails without it.
	Writer store.LedgerWriter
	// Rates is optional; only same-currency adjustments work without it.
	Rates  RateProvider
	Logger logger.Logger
}

// CreateRequest holds the fields needed to open a reconciliation
type CreateRequest struct {
	SourceFirmID string    `json:"sourceFirmId"`
	TargetFirmID string    `json:"targetFirmId"`
	PeriodStart  time.Time `json:"reconciliationPeriodStart"`
	PeriodEnd    time.Time `json:"reconciliationPeriodEnd"`
	Currency     string    `json:"currency"`
	Notes        string    `json:"notes,omitempty"`
}

// ImportResult summarizes a ledger import
type ImportResult struct {
	PreprocessingStats
	Inserted   int                      `json:"inserted"`
	Skipped    int                      `json:"skipped"`
	Duplicates []matcher.DuplicateGroup `json:"possibleDuplicates,omitempty"`
}

// Service orchestrates matching, adjustments and lifecycle of reconciliations
type Service struct {
	repo         store.ReconciliationRepository
	ledger       store.LedgerSource
	writer       store.LedgerWriter
	engine       *matcher.MatchingEngine
	adjustments  *AdjustmentLedger
	preprocessor *LedgerPreprocessor
	snapshots    *cache.Cache
	locks        *keyedMutex
	logger       logger.Logger
	config       *Config

	now   func() time.Time
	newID func() string
}

// NewService creates a new reconciliation service
func NewService(deps Dependencies, config *Config) (*Service, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "reconciler", config, err)
	}
	if deps.Repository == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "repository", nil, nil).
			WithSuggestion("provide a reconciliation repository")
	}
	if deps.Ledger == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "ledger", nil, nil).
			WithSuggestion("provide a ledger transaction source")
	}

	log := deps.Logger
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	now := func() time.Time { return time.Now().UTC() }

	return &Service{
		repo:         deps.Repository,
		ledger:       deps.Ledger,
		writer:       deps.Writer,
		engine:       matcher.NewMatchingEngine(config.Matching).WithClock(now),
		adjustments:  NewAdjustmentLedger(deps.Rates, config.Matching.AmountPrecision),
		preprocessor: NewLedgerPreprocessor(config.Preprocessing),
		snapshots:    cache.New(config.CacheTTL, config.CacheCleanupInterval),
		locks:        newKeyedMutex(),
		logger:       log.WithComponent("reconciliation_service"),
		config:       config,
		now:          now,
		newID:        func() string { return uuid.NewString() },
	}, nil
}

// WithClock replaces the time source for timestamps
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.engine.WithClock(now)
	s.adjustments.now = now
	return s
}

func (s *Service) log(ctx context.Context) logger.Logger {
	return logger.FromContextOr(ctx, s.logger)
}

// Create validates req, assigns an ID and number, loads both firms' ledger
// transactions for the period and stores the new draft.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Reconciliation, error) {
	rec, err := s.validateCreate(req)
	if err != nil {
		return nil, err
	}

	created := s.now()
	seq, err := s.repo.NextSequence(ctx, fmt.Sprintf("%s-%d", s.config.NumberPrefix, created.Year()))
	if err != nil {
		return nil, err
	}

	rec.ID = s.newID()
	rec.ReconciliationNumber = fmt.Sprintf("%s-%d-%06d", s.config.NumberPrefix, created.Year(), seq)
	rec.CreatedAt = created
	rec.UpdatedAt = created

	if _, err := s.pullLedger(ctx, rec); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, err
	}
	s.remember(rec)

	s.log(ctx).WithFields(logger.Fields{
		"reconciliation_id":     rec.ID,
		"reconciliation_number": rec.ReconciliationNumber,
		"source_firm":           rec.SourceFirmID,
		"target_firm":           rec.TargetFirmID,
		"unmatched_source":      len(rec.UnmatchedSourceTransactions),
		"unmatched_target":      len(rec.UnmatchedTargetTransactions),
	}).Info("Reconciliation created")

	return rec.Clone(), nil
}

func (s *Service) validateCreate(req CreateRequest) (*models.Reconciliation, error) {
	source := strings.TrimSpace(req.SourceFirmID)
	target := strings.TrimSpace(req.TargetFirmID)

	if source == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "sourceFirmId", req.SourceFirmID, nil)
	}
	if target == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "targetFirmId", req.TargetFirmID, nil)
	}
	if source == target {
		return nil, errors.ValidationError(errors.CodeSameFirm, "targetFirmId", target, nil)
	}
	if req.PeriodStart.IsZero() {
		return nil, errors.ValidationError(errors.CodeMissingField, "reconciliationPeriodStart", nil, nil)
	}
	if req.PeriodEnd.IsZero() {
		return nil, errors.ValidationError(errors.CodeMissingField, "reconciliationPeriodEnd", nil, nil)
	}
	if req.PeriodStart.After(req.PeriodEnd) {
		return nil, errors.ValidationError(errors.CodeInvalidDate, "reconciliationPeriodEnd",
			req.PeriodEnd.Format("2006-01-02"),
			fmt.Errorf("period start %s is after period end %s",
				req.PeriodStart.Format("2006-01-02"), req.PeriodEnd.Format("2006-01-02")))
	}

	currency, err := models.NormalizeCurrency(req.Currency)
	if err != nil {
		return nil, errors.ValidationError(errors.CodeInvalidCurrency, "currency", req.Currency, err)
	}

	rec := models.NewReconciliation()
	rec.SourceFirmID = source
	rec.TargetFirmID = target
	rec.ReconciliationPeriodStart = req.PeriodStart.UTC()
	rec.ReconciliationPeriodEnd = req.PeriodEnd.UTC()
	rec.Currency = currency
	rec.Notes = SanitizeText(req.Notes)
	return rec, nil
}

// pullLedger adds newly arrived ledger transactions of both firms to rec
func (s *Service) pullLedger(ctx context.Context, rec *models.Reconciliation) (int, error) {
	added := 0
	for _, side := range []models.Side{models.SideSource, models.SideTarget} {
		query := store.LedgerQuery{
			FirmID:             rec.SourceFirmID,
			CounterpartyFirmID: rec.TargetFirmID,
			Start:              rec.ReconciliationPeriodStart,
			End:                rec.ReconciliationPeriodEnd,
		}
		if side == models.SideTarget {
			query.FirmID, query.CounterpartyFirmID = rec.TargetFirmID, rec.SourceFirmID
		}

		txs, err := s.ledger.Transactions(ctx, query)
		if err != nil {
			return 0, errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeStorageFailure, "ledger lookup failed")
		}
		added += rec.AddKnownTransactions(side, txs)
	}
	return added, nil
}

// Get returns a snapshot of the reconciliation
func (s *Service) Get(ctx context.Context, id string) (*models.Reconciliation, error) {
	if cached, ok := s.snapshots.Get(id); ok {
		return cached.(*models.Reconciliation).Clone(), nil
	}

	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.remember(rec)
	return rec, nil
}

// List returns reconciliations matching filter
func (s *Service) List(ctx context.Context, filter store.ListFilter) ([]*models.Reconciliation, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, errors.ValidationError(errors.CodeInvalidValue, "status", filter.Status, nil).
			WithSuggestion("use draft, in_progress, completed or approved")
	}
	return s.repo.List(ctx, filter)
}

// Start explicitly moves a draft to in_progress
func (s *Service) Start(ctx context.Context, id string) (*models.Reconciliation, error) {
	return s.mutate(ctx, id, OpStart, func(rec *models.Reconciliation) error {
		return Advance(rec, models.StatusInProgress, s.now())
	})
}

// Sync pulls ledger transactions that arrived after creation into the
// unmatched sets. It does not change the status.
func (s *Service) Sync(ctx context.Context, id string) (*models.Reconciliation, int, error) {
	var added int
	rec, err := s.mutate(ctx, id, OpSync, func(rec *models.Reconciliation) error {
		var err error
		added, err = s.pullLedger(ctx, rec)
		if err == nil && added == 0 {
			return errUnchanged
		}
		return err
	})
	if err != nil {
		return nil, 0, err
	}

	s.log(ctx).WithField("reconciliation_id", id).WithField("added", added).Info("Ledger synchronized")
	return rec, added, nil
}

// AutoMatch runs the matching engine and returns the fresh aggregate with
// the matches created by this call
func (s *Service) AutoMatch(ctx context.Context, id string) (*models.Reconciliation, []*models.Match, error) {
	var created []*models.Match
	rec, err := s.mutate(ctx, id, OpAutoMatch, func(rec *models.Reconciliation) error {
		var err error
		created, err = s.engine.AutoMatch(rec)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.log(ctx).WithFields(logger.Fields{
		"reconciliation_id": id,
		"new_matches":       len(created),
		"unmatched_source":  len(rec.UnmatchedSourceTransactions),
		"unmatched_target":  len(rec.UnmatchedTargetTransactions),
	}).Info("Automatic matching finished")
	return rec, created, nil
}

// ManualMatch pairs two unmatched transactions chosen by a user
func (s *Service) ManualMatch(ctx context.Context, id, sourceTransactionID, targetTransactionID string) (*models.Reconciliation, *models.Match, error) {
	if strings.TrimSpace(sourceTransactionID) == "" {
		return nil, nil, errors.ValidationError(errors.CodeMissingField, "sourceTransactionId", sourceTransactionID, nil)
	}
	if strings.TrimSpace(targetTransactionID) == "" {
		return nil, nil, errors.ValidationError(errors.CodeMissingField, "targetTransactionId", targetTransactionID, nil)
	}

	var match *models.Match
	rec, err := s.mutate(ctx, id, OpManualMatch, func(rec *models.Reconciliation) error {
		var err error
		match, err = s.engine.ManualMatch(rec, sourceTransactionID, targetTransactionID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.log(ctx).WithFields(logger.Fields{
		"reconciliation_id": id,
		"match_id":          match.ID,
		"difference":        match.Difference.String(),
	}).Info("Manual match recorded")
	return rec, match, nil
}

// Unmatch removes a match and returns its transactions to the unmatched sets
func (s *Service) Unmatch(ctx context.Context, id, matchID string) (*models.Reconciliation, *models.Match, error) {
	if strings.TrimSpace(matchID) == "" {
		return nil, nil, errors.ValidationError(errors.CodeMissingField, "matchId", matchID, nil)
	}

	var match *models.Match
	rec, err := s.mutate(ctx, id, OpUnmatch, func(rec *models.Reconciliation) error {
		var err error
		match, err = s.engine.Unmatch(rec, matchID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.log(ctx).WithField("reconciliation_id", id).WithField("match_id", matchID).Info("Match removed")
	return rec, match, nil
}

// AddAdjustment appends a correcting entry
func (s *Service) AddAdjustment(ctx context.Context, id string, req AdjustmentRequest) (*models.Reconciliation, *models.AdjustmentEntry, error) {
	var entry *models.AdjustmentEntry
	rec, err := s.mutate(ctx, id, OpAddAdjustment, func(rec *models.Reconciliation) error {
		var err error
		entry, err = s.adjustments.Add(ctx, rec, req)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.log(ctx).WithFields(logger.Fields{
		"reconciliation_id": id,
		"adjustment_id":     entry.ID,
		"type":              entry.Type,
		"converted_amount":  entry.ConvertedAmount.String(),
	}).Info("Adjustment recorded")
	return rec, entry, nil
}

// Complete moves an in-progress reconciliation to completed. Unmatched
// transactions may remain.
func (s *Service) Complete(ctx context.Context, id string) (*models.Reconciliation, error) {
	return s.mutate(ctx, id, OpComplete, func(rec *models.Reconciliation) error {
		return Advance(rec, models.StatusCompleted, s.now())
	})
}

// Approve freezes a completed reconciliation
func (s *Service) Approve(ctx context.Context, id string) (*models.Reconciliation, error) {
	return s.mutate(ctx, id, OpApprove, func(rec *models.Reconciliation) error {
		return Advance(rec, models.StatusApproved, s.now())
	})
}

// Candidates ranks the correlating targets of one unmatched source transaction
func (s *Service) Candidates(ctx context.Context, id, sourceTransactionID string) ([]matcher.Candidate, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.engine.Candidates(rec, sourceTransactionID)
}

// ImportTransactions preprocesses and records ledger transactions. The whole
// batch is refused when any transaction is invalid.
func (s *Service) ImportTransactions(ctx context.Context, txs []*models.LedgerTransaction) (*ImportResult, error) {
	if s.writer == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "ledger writer", nil, nil)
	}

	processed, rejected, stats := s.preprocessor.PreprocessTransactions(txs)
	if len(rejected) > 0 {
		summary := errors.NewErrorSummary(rejected)
		return nil, errors.Wrap(summary, errors.CategoryValidation, errors.CodeInvalidData, summary.Error()).
			WithContext("rejected", stats.Rejected).
			WithContext("errors", summary.SampleErrors)
	}

	inserted, err := s.writer.SaveTransactions(ctx, processed)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{
		PreprocessingStats: stats,
		Inserted:           inserted,
		Skipped:            len(processed) - inserted,
		Duplicates:         s.engine.DetectDuplicates(processed),
	}

	s.log(ctx).WithFields(logger.Fields{
		"received": stats.Received,
		"inserted": inserted,
		"skipped":  result.Skipped,
	}).Info("Ledger transactions imported")
	return result, nil
}

// errUnchanged lets a mutation report that nothing needs to be written
var errUnchanged = stderrors.New("reconciliation unchanged")

// mutate applies fn to the latest stored version of the reconciliation under
// the per-reconciliation lock and persists the result
func (s *Service) mutate(ctx context.Context, id string, op Operation, fn func(rec *models.Reconciliation) error) (*models.Reconciliation, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := CheckOperation(rec.Status, op); err != nil {
		return nil, err
	}

	if err := fn(rec); err != nil {
		if err == errUnchanged {
			return rec, nil
		}
		return nil, err
	}

	if advancesDraft(op) && rec.Status == models.StatusDraft {
		if err := Advance(rec, models.StatusInProgress, s.now()); err != nil {
			return nil, err
		}
	}

	if err := rec.CheckPartition(); err != nil {
		return nil, errors.InternalError(errors.CodeUnexpectedError, string(op), err)
	}

	rec.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, rec); err != nil {
		if errors.Is(err, errors.CategoryConflict) {
			s.snapshots.Delete(id)
		}
		s.log(ctx).WithError(err).WithField("reconciliation_id", id).WithField("operation", op).
			Warn("Reconciliation update failed")
		return nil, err
	}

	s.remember(rec)
	return rec.Clone(), nil
}

func (s *Service) remember(rec *models.Reconciliation) {
	s.snapshots.Set(rec.ID, rec.Clone(), cache.DefaultExpiration)
}
