package reconciler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"intercompany-reconciliation-service/internal/models"
	"intercompany-reconciliation-service/pkg/errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RateProvider converts between currencies for exchange-rate adjustments
type RateProvider interface {
	// Rate returns how many units of to one unit of from is worth.
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// StaticRates is a RateProvider backed by a fixed table keyed "FROM_TO".
// Inverse pairs are derived when only one direction is configured.
type StaticRates map[string]decimal.Decimal

// NewStaticRates parses a table of decimal strings keyed "FROM_TO"
func NewStaticRates(raw map[string]string) (StaticRates, error) {
	rates := make(StaticRates, len(raw))
	for key, value := range raw {
		from, to, ok := strings.Cut(strings.ToUpper(strings.TrimSpace(key)), "_")
		if !ok {
			return nil, fmt.Errorf("exchange rate key '%s' must look like FROM_TO", key)
		}
		if _, err := models.NormalizeCurrency(from); err != nil {
			return nil, fmt.Errorf("exchange rate key '%s': %w", key, err)
		}
		if _, err := models.NormalizeCurrency(to); err != nil {
			return nil, fmt.Errorf("exchange rate key '%s': %w", key, err)
		}

		rate, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("exchange rate '%s' for %s: %w", value, key, err)
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("exchange rate for %s must be positive, got %s", key, rate)
		}
		rates[from+"_"+to] = rate
	}
	return rates, nil
}

// Rate implements RateProvider
func (r StaticRates) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	if rate, ok := r[from+"_"+to]; ok {
		return rate, nil
	}
	if inverse, ok := r[to+"_"+from]; ok {
		return decimal.NewFromInt(1).DivRound(inverse, 10), nil
	}
	return decimal.Zero, errors.NotFoundError(errors.CodeRateNotFound, "exchange rate", from+"_"+to)
}

// AdjustmentRequest is the caller-supplied part of an adjustment entry
type AdjustmentRequest struct {
	Type         models.AdjustmentType `json:"type"`
	Amount       decimal.Decimal       `json:"amount"`
	Currency     string                `json:"currency,omitempty"`
	ExchangeRate *decimal.Decimal      `json:"exchangeRate,omitempty"`
	Reason       string                `json:"reason"`
	Description  string                `json:"description,omitempty"`
}

// AdjustmentLedger validates and appends correcting entries. It never touches
// the matched or unmatched sets.
type AdjustmentLedger struct {
	rates     RateProvider
	precision int32
	now       func() time.Time
	newID     func() string
}

// NewAdjustmentLedger creates a ledger converting amounts through rates and
// rounding converted amounts to precision decimal places
func NewAdjustmentLedger(rates RateProvider, precision int) *AdjustmentLedger {
	if rates == nil {
		rates = StaticRates{}
	}
	return &AdjustmentLedger{
		rates:     rates,
		precision: int32(precision),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return uuid.NewString() },
	}
}

// Add validates req against rec and appends the resulting entry
func (al *AdjustmentLedger) Add(ctx context.Context, rec *models.Reconciliation, req AdjustmentRequest) (*models.AdjustmentEntry, error) {
	if !req.Type.IsValid() {
		return nil, errors.ValidationError(errors.CodeInvalidValue, "type", req.Type, nil).
			WithSuggestion("use source_adjustment, target_adjustment or exchange_rate_adjustment")
	}

	if req.Amount.IsZero() {
		return nil, errors.ValidationError(errors.CodeInvalidAmount, "amount", req.Amount.String(), nil)
	}

	reason := SanitizeText(req.Reason)
	if reason == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "reason", req.Reason, nil)
	}

	currency := rec.Currency
	if strings.TrimSpace(req.Currency) != "" {
		normalized, err := models.NormalizeCurrency(req.Currency)
		if err != nil {
			return nil, errors.ValidationError(errors.CodeInvalidCurrency, "currency", req.Currency, err)
		}
		currency = normalized
	}

	entry := &models.AdjustmentEntry{
		ID:          al.newID(),
		Type:        req.Type,
		Amount:      req.Amount,
		Currency:    currency,
		Reason:      reason,
		Description: SanitizeText(req.Description),
		CreatedAt:   al.now(),
	}

	if currency == rec.Currency {
		if req.ExchangeRate != nil {
			return nil, errors.ValidationError(errors.CodeInvalidValue, "exchangeRate", req.ExchangeRate.String(),
				fmt.Errorf("adjustment is already in the reconciliation currency %s", rec.Currency)).
				WithSuggestion("omit exchangeRate or set currency to the foreign currency being converted")
		}
		entry.ConvertedAmount = req.Amount
	} else {
		if req.Type != models.AdjustmentExchangeRate {
			return nil, errors.ValidationError(errors.CodeInvalidCurrency, "currency", currency,
				fmt.Errorf("%s must be in the reconciliation currency %s", req.Type, rec.Currency))
		}

		rate, err := al.rate(ctx, currency, rec.Currency, req.ExchangeRate)
		if err != nil {
			return nil, err
		}
		entry.ExchangeRate = &rate
		entry.ConvertedAmount = req.Amount.Mul(rate).Round(al.precision)
	}

	rec.AddAdjustment(entry)
	return entry, nil
}

func (al *AdjustmentLedger) rate(ctx context.Context, from, to string, explicit *decimal.Decimal) (decimal.Decimal, error) {
	if explicit != nil {
		if !explicit.IsPositive() {
			return decimal.Zero, errors.ValidationError(errors.CodeOutOfRange, "exchangeRate", explicit.String(), nil).
				WithSuggestion("exchange rates must be positive")
		}
		return *explicit, nil
	}

	rate, err := al.rates.Rate(ctx, from, to)
	if err != nil {
		if errors.Is(err, errors.CategoryNotFound) {
			return decimal.Zero, errors.ValidationError(errors.CodeInvalidCurrency, "currency", from, err).
				WithSuggestion(fmt.Sprintf("configure an exchange rate for %s_%s or pass exchangeRate explicitly", from, to))
		}
		return decimal.Zero, errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeUnexpectedError, "exchange rate lookup failed")
	}
	return rate, nil
}
