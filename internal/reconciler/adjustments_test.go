package reconciler

import (
	"context"
	"testing"
	"time"

	"intercompany-reconciliation-service/internal/models"
	"intercompany-reconciliation-service/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdjustmentTestLedger(t *testing.T, raw map[string]string) *AdjustmentLedger {
	t.Helper()
	rates, err := NewStaticRates(raw)
	require.NoError(t, err)

	ledger := NewAdjustmentLedger(rates, 2)
	ledger.now = func() time.Time { return time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC) }
	ledger.newID = func() string { return "adj-1" }
	return ledger
}

func sarReconciliation() *models.Reconciliation {
	rec := models.NewReconciliation()
	rec.ID = "rec-1"
	rec.SourceFirmID = "A"
	rec.TargetFirmID = "B"
	rec.Currency = "SAR"
	return rec
}

func TestNewStaticRates(t *testing.T) {
	rates, err := NewStaticRates(map[string]string{"usd_sar": "3.75"})
	require.NoError(t, err)
	assert.True(t, rates["USD_SAR"].Equal(decimal.RequireFromString("3.75")))

	for name, raw := range map[string]map[string]string{
		"missing separator": {"USDSAR": "3.75"},
		"bad currency":      {"US_SAR": "3.75"},
		"not a number":      {"USD_SAR": "abc"},
		"negative":          {"USD_SAR": "-1"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewStaticRates(raw)
			assert.Error(t, err)
		})
	}
}

func TestStaticRates_Rate(t *testing.T) {
	rates, err := NewStaticRates(map[string]string{"USD_SAR": "4"})
	require.NoError(t, err)
	ctx := context.Background()

	rate, err := rates.Rate(ctx, "SAR", "SAR")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(1)))

	rate, err = rates.Rate(ctx, "USD", "SAR")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(4)))

	rate, err = rates.Rate(ctx, "SAR", "USD")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("0.25")), "got %s", rate)

	_, err = rates.Rate(ctx, "EUR", "SAR")
	assert.True(t, errors.Is(err, errors.CategoryNotFound))
}

func TestAdjustmentLedger_SameCurrency(t *testing.T) {
	ledger := newAdjustmentTestLedger(t, nil)
	rec := sarReconciliation()

	entry, err := ledger.Add(context.Background(), rec, AdjustmentRequest{
		Type:   models.AdjustmentSource,
		Amount: decimal.RequireFromString("-25"),
		Reason: "  Bank <i>fee</i> ",
	})
	require.NoError(t, err)

	assert.Equal(t, "adj-1", entry.ID)
	assert.Equal(t, "SAR", entry.Currency)
	assert.Equal(t, "Bank fee", entry.Reason)
	assert.Nil(t, entry.ExchangeRate)
	assert.True(t, entry.ConvertedAmount.Equal(decimal.RequireFromString("-25")))
	assert.True(t, rec.TotalAdjustments.Equal(decimal.RequireFromString("-25")))
	require.Len(t, rec.AdjustmentEntries, 1)
	assert.Empty(t, rec.MatchedTransactions)
}

func TestAdjustmentLedger_ExchangeRate(t *testing.T) {
	ledger := newAdjustmentTestLedger(t, map[string]string{"USD_SAR": "3.75"})
	rec := sarReconciliation()

	entry, err := ledger.Add(context.Background(), rec, AdjustmentRequest{
		Type:     models.AdjustmentExchangeRate,
		Amount:   decimal.RequireFromString("10.01"),
		Currency: "usd",
		Reason:   "FX revaluation",
	})
	require.NoError(t, err)
	require.NotNil(t, entry.ExchangeRate)
	assert.True(t, entry.ExchangeRate.Equal(decimal.RequireFromString("3.75")))
	assert.True(t, entry.ConvertedAmount.Equal(decimal.RequireFromString("37.54")), "got %s", entry.ConvertedAmount)

	explicit := decimal.RequireFromString("2")
	entry, err = ledger.Add(context.Background(), rec, AdjustmentRequest{
		Type:         models.AdjustmentExchangeRate,
		Amount:       decimal.NewFromInt(5),
		Currency:     "EUR",
		ExchangeRate: &explicit,
		Reason:       "manual rate",
	})
	require.NoError(t, err)
	assert.True(t, entry.ConvertedAmount.Equal(decimal.NewFromInt(10)))
	assert.True(t, rec.TotalAdjustments.Equal(decimal.RequireFromString("47.54")))
}

func TestAdjustmentLedger_Rejections(t *testing.T) {
	zero := decimal.Zero
	rate := decimal.RequireFromString("3.75")
	tests := []struct {
		name string
		req  AdjustmentRequest
		code errors.ErrorCode
	}{
		{
			name: "zero amount",
			req:  AdjustmentRequest{Type: models.AdjustmentSource, Amount: decimal.Zero, Reason: "x"},
			code: errors.CodeInvalidAmount,
		},
		{
			name: "unknown type",
			req:  AdjustmentRequest{Type: "rounding", Amount: decimal.NewFromInt(1), Reason: "x"},
			code: errors.CodeInvalidValue,
		},
		{
			name: "blank reason",
			req:  AdjustmentRequest{Type: models.AdjustmentTarget, Amount: decimal.NewFromInt(1), Reason: "<br>"},
			code: errors.CodeMissingField,
		},
		{
			name: "foreign currency on plain adjustment",
			req:  AdjustmentRequest{Type: models.AdjustmentTarget, Amount: decimal.NewFromInt(1), Currency: "USD", Reason: "x"},
			code: errors.CodeInvalidCurrency,
		},
		{
			name: "missing rate",
			req:  AdjustmentRequest{Type: models.AdjustmentExchangeRate, Amount: decimal.NewFromInt(1), Currency: "EUR", Reason: "x"},
			code: errors.CodeInvalidCurrency,
		},
		{
			name: "non positive explicit rate",
			req: AdjustmentRequest{Type: models.AdjustmentExchangeRate, Amount: decimal.NewFromInt(1), Currency: "EUR",
				ExchangeRate: &zero, Reason: "x"},
			code: errors.CodeOutOfRange,
		},
		{
			name: "explicit rate in reconciliation currency",
			req: AdjustmentRequest{Type: models.AdjustmentExchangeRate, Amount: decimal.NewFromInt(1), Currency: "SAR",
				ExchangeRate: &rate, Reason: "x"},
			code: errors.CodeInvalidValue,
		},
		{
			name: "explicit rate without currency",
			req: AdjustmentRequest{Type: models.AdjustmentSource, Amount: decimal.NewFromInt(1),
				ExchangeRate: &rate, Reason: "x"},
			code: errors.CodeInvalidValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := newAdjustmentTestLedger(t, nil)
			rec := sarReconciliation()

			_, err := ledger.Add(context.Background(), rec, tt.req)
			require.Error(t, err)

			recErr, ok := errors.AsReconcilerError(err)
			require.True(t, ok)
			assert.Equal(t, errors.CategoryValidation, recErr.Category)
			assert.Equal(t, tt.code, recErr.Code)
			assert.Empty(t, rec.AdjustmentEntries)
			assert.True(t, rec.TotalAdjustments.IsZero())
		})
	}
}

func TestSanitizeText(t *testing.T) {
	assert.Equal(t, "R&D costs", SanitizeText(" R&D <b>costs</b> "))
	assert.Equal(t, "", SanitizeText("<script>alert(1)</script>"))
	assert.Equal(t, "ab", SanitizeText("a\x00b"))
}
