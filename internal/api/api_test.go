package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"intercompany-reconciliation-service/internal/models"
	"intercompany-reconciliation-service/internal/reconciler"
	"intercompany-reconciliation-service/internal/store"
	"intercompany-reconciliation-service/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ledgerCSV = `id,firmId,counterpartyFirmId,reference,amount,currency,type,date,description
s1,A,B,INV-1,1000,SAR,DEBIT,2025-01-10,services
t1,B,A,INV-1,1000,SAR,CREDIT,2025-01-11,services
s2,A,B,,500,SAR,DEBIT,2025-01-12,recharge
`

type errorEnvelope struct {
	Error struct {
		Kind       string                 `json:"kind"`
		Code       string                 `json:"code"`
		Message    string                 `json:"message"`
		Suggestion string                 `json:"suggestion"`
		Context    map[string]interface{} `json:"context"`
	} `json:"error"`
	RequestID string `json:"requestId"`
}

func newTestHandler(t *testing.T, config *Config) http.Handler {
	t.Helper()

	log, err := logger.NewWithWriter(logger.DefaultConfig(), io.Discard)
	require.NoError(t, err)

	st := store.NewMemoryStore()
	rates, err := reconciler.NewStaticRates(map[string]string{"USD_SAR": "3.75"})
	require.NoError(t, err)

	svc, err := reconciler.NewService(reconciler.Dependencies{
		Repository: st,
		Ledger:     st,
		Writer:     st,
		Rates:      rates,
		Logger:     log,
	}, reconciler.DefaultConfig())
	require.NoError(t, err)

	if config == nil {
		config = DefaultConfig()
		config.RateLimitInterval = 0
	}
	return NewServer(svc, config, log).Routes()
}

func do(t *testing.T, h http.Handler, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeReconciliation(t *testing.T, rec *httptest.ResponseRecorder) *models.Reconciliation {
	t.Helper()
	var out models.Reconciliation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return &out
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var out errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func importLedger(t *testing.T, h http.Handler) {
	t.Helper()
	res := do(t, h, http.MethodPost, "/ledger/transactions", "text/csv", ledgerCSV)
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
}

func createJanuary(t *testing.T, h http.Handler) *models.Reconciliation {
	t.Helper()
	res := do(t, h, http.MethodPost, "/reconciliations", "application/json", `{
		"sourceFirmId": "A",
		"targetFirmId": "B",
		"reconciliationPeriodStart": "2025-01-01",
		"reconciliationPeriodEnd": "2025-01-31",
		"currency": "sar",
		"notes": "<b>January</b> close"
	}`)
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	return decodeReconciliation(t, res)
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, nil)

	res := do(t, h, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `{"status":"ok"}`, res.Body.String())
	assert.NotEmpty(t, res.Header().Get(RequestIDHeader))
}

func TestImportLedger(t *testing.T) {
	h := newTestHandler(t, nil)

	res := do(t, h, http.MethodPost, "/ledger/transactions", "text/csv", ledgerCSV)
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())

	var body struct {
		Format string `json:"format"`
		Import struct {
			Received int `json:"received"`
			Inserted int `json:"inserted"`
			Skipped  int `json:"skipped"`
		} `json:"import"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	assert.Equal(t, "standard", body.Format)
	assert.Equal(t, 3, body.Import.Received)
	assert.Equal(t, 3, body.Import.Inserted)

	res = do(t, h, http.MethodPost, "/ledger/transactions", "text/csv", ledgerCSV)
	require.Equal(t, http.StatusCreated, res.Code)
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	assert.Equal(t, 0, body.Import.Inserted)
	assert.Equal(t, 3, body.Import.Skipped)
}

func TestImportLedger_SameIDsAcrossFirms(t *testing.T) {
	h := newTestHandler(t, nil)

	res := do(t, h, http.MethodPost, "/ledger/transactions", "text/csv",
		`id,firmId,counterpartyFirmId,reference,amount,currency,type,date,description
1,A,B,INV-7,100,SAR,DEBIT,2025-01-05,fees
1,B,A,INV-7,100,SAR,CREDIT,2025-01-05,fees
`)
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())

	var body struct {
		Import struct {
			Inserted   int `json:"inserted"`
			Duplicates int `json:"duplicates"`
		} `json:"import"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Import.Inserted)
	assert.Equal(t, 0, body.Import.Duplicates)

	rec := createJanuary(t, h)
	assert.Equal(t, []string{"1"}, rec.UnmatchedSourceTransactions)
	assert.Equal(t, []string{"1"}, rec.UnmatchedTargetTransactions)

	res = do(t, h, http.MethodPost, "/reconciliations/"+rec.ID+"/auto-match", "", "")
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	assert.Equal(t, "1", res.Header().Get(MatchesCreatedHeader))

	matched := decodeReconciliation(t, res)
	require.Len(t, matched.MatchedTransactions, 1)
	assert.Empty(t, matched.UnmatchedSourceTransactions)
	assert.Empty(t, matched.UnmatchedTargetTransactions)
}

func TestImportLedger_Errors(t *testing.T) {
	h := newTestHandler(t, nil)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		kind   string
	}{
		{
			name:   "invalid rows",
			path:   "/ledger/transactions",
			body:   "id,firmId,counterpartyFirmId,reference,amount,currency,type,date\nx1,A,B,R,abc,SAR,DEBIT,2025-01-10\n",
			status: http.StatusBadRequest,
			kind:   "parse",
		},
		{
			name:   "missing columns",
			path:   "/ledger/transactions",
			body:   "id,amount\nx1,10\n",
			status: http.StatusBadRequest,
			kind:   "parse",
		},
		{
			name:   "unknown format",
			path:   "/ledger/transactions?format=sap",
			body:   ledgerCSV,
			status: http.StatusBadRequest,
			kind:   "validation",
		},
		{
			name:   "empty body",
			path:   "/ledger/transactions",
			body:   "",
			status: http.StatusBadRequest,
			kind:   "validation",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := do(t, h, http.MethodPost, tt.path, "text/csv", tt.body)
			require.Equal(t, tt.status, res.Code, res.Body.String())
			assert.Equal(t, tt.kind, decodeError(t, res).Error.Kind)
		})
	}
}

func TestReconciliationLifecycle(t *testing.T) {
	h := newTestHandler(t, nil)
	importLedger(t, h)

	rec := createJanuary(t, h)
	assert.Equal(t, models.StatusDraft, rec.Status)
	assert.Equal(t, "SAR", rec.Currency)
	assert.Equal(t, "January close", rec.Notes)
	assert.ElementsMatch(t, []string{"s1", "s2"}, rec.UnmatchedSourceTransactions)
	assert.Equal(t, []string{"t1"}, rec.UnmatchedTargetTransactions)
	base := "/reconciliations/" + rec.ID

	res := do(t, h, http.MethodGet, base, "", "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, rec.ReconciliationNumber, decodeReconciliation(t, res).ReconciliationNumber)

	res = do(t, h, http.MethodPost, base+"/auto-match", "", "")
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	assert.Equal(t, "1", res.Header().Get(MatchesCreatedHeader))
	rec = decodeReconciliation(t, res)
	assert.Equal(t, models.StatusInProgress, rec.Status)
	require.Len(t, rec.MatchedTransactions, 1)
	assert.Equal(t, "s1", rec.MatchedTransactions[0].SourceTransactionID)
	assert.Equal(t, models.MatchAutomatic, rec.MatchedTransactions[0].MatchType)

	res = do(t, h, http.MethodPost, base+"/auto-match", "", "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "0", res.Header().Get(MatchesCreatedHeader))

	res = do(t, h, http.MethodPost, base+"/unmatch", "application/json",
		`{"matchId":"`+rec.MatchedTransactions[0].ID+`"}`)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	rec = decodeReconciliation(t, res)
	assert.Empty(t, rec.MatchedTransactions)
	assert.Equal(t, []string{"t1"}, rec.UnmatchedTargetTransactions)

	res = do(t, h, http.MethodPost, base+"/manual-match", "application/json",
		`{"sourceTransactionId":"s2","targetTransactionId":"t1"}`)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	rec = decodeReconciliation(t, res)
	require.Len(t, rec.MatchedTransactions, 1)
	assert.Equal(t, models.MatchManual, rec.MatchedTransactions[0].MatchType)
	assert.Equal(t, "-500", rec.MatchedTransactions[0].Difference.String())

	res = do(t, h, http.MethodPost, base+"/adjustments", "application/json",
		`{"type":"exchange_rate_adjustment","amount":"10","currency":"USD","reason":"FX revaluation"}`)
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	rec = decodeReconciliation(t, res)
	require.Len(t, rec.AdjustmentEntries, 1)
	assert.Equal(t, "37.5", rec.AdjustmentEntries[0].ConvertedAmount.String())

	res = do(t, h, http.MethodPost, base+"/approve", "", "")
	require.Equal(t, http.StatusConflict, res.Code)
	assert.Equal(t, "illegal_transition", decodeError(t, res).Error.Code)

	res = do(t, h, http.MethodPost, base+"/complete", "", "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, models.StatusCompleted, decodeReconciliation(t, res).Status)

	res = do(t, h, http.MethodPost, base+"/approve", "", "")
	require.Equal(t, http.StatusOK, res.Code)
	rec = decodeReconciliation(t, res)
	assert.Equal(t, models.StatusApproved, rec.Status)
	assert.NotNil(t, rec.ApprovedAt)

	res = do(t, h, http.MethodPost, base+"/unmatch", "application/json",
		`{"matchId":"`+rec.MatchedTransactions[0].ID+`"}`)
	require.Equal(t, http.StatusConflict, res.Code)
	env := decodeError(t, res)
	assert.Equal(t, "invalid_state", env.Error.Kind)
	assert.Equal(t, "immutable", env.Error.Code)
}

func TestCreate_Errors(t *testing.T) {
	h := newTestHandler(t, nil)

	tests := []struct {
		name string
		body string
		code string
	}{
		{"same firm", `{"sourceFirmId":"A","targetFirmId":"A","reconciliationPeriodStart":"2025-01-01","reconciliationPeriodEnd":"2025-01-31","currency":"SAR"}`, "same_firm"},
		{"inverted period", `{"sourceFirmId":"A","targetFirmId":"B","reconciliationPeriodStart":"2025-02-01","reconciliationPeriodEnd":"2025-01-31","currency":"SAR"}`, "invalid_date"},
		{"unparseable date", `{"sourceFirmId":"A","targetFirmId":"B","reconciliationPeriodStart":"first of May","reconciliationPeriodEnd":"2025-01-31","currency":"SAR"}`, "invalid_date"},
		{"unknown field", `{"sourceFirm":"A"}`, "invalid_value"},
		{"malformed json", `{"sourceFirmId":`, "invalid_value"},
		{"empty body", ``, "missing_field"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := do(t, h, http.MethodPost, "/reconciliations", "application/json", tt.body)
			require.Equal(t, http.StatusBadRequest, res.Code, res.Body.String())
			env := decodeError(t, res)
			assert.Equal(t, "validation", env.Error.Kind)
			assert.Equal(t, tt.code, env.Error.Code)
			assert.NotEmpty(t, env.Error.Message)
		})
	}
}

func TestNotFound(t *testing.T) {
	h := newTestHandler(t, nil)
	importLedger(t, h)
	rec := createJanuary(t, h)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		code   string
	}{
		{"unknown reconciliation", http.MethodGet, "/reconciliations/nope", "", "reconciliation_not_found"},
		{"unknown match", http.MethodPost, "/reconciliations/" + rec.ID + "/unmatch", `{"matchId":"m-404"}`, "match_not_found"},
		{"unknown transaction", http.MethodPost, "/reconciliations/" + rec.ID + "/manual-match", `{"sourceTransactionId":"s1","targetTransactionId":"t9"}`, "transaction_not_found"},
		{"unknown route", http.MethodGet, "/firms", "", "route_not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := do(t, h, tt.method, tt.path, "application/json", tt.body)
			require.Equal(t, http.StatusNotFound, res.Code, res.Body.String())
			env := decodeError(t, res)
			assert.Equal(t, "not_found", env.Error.Kind)
			assert.Equal(t, tt.code, env.Error.Code)
			assert.NotEmpty(t, env.RequestID)
			assert.Equal(t, res.Header().Get(RequestIDHeader), env.RequestID)
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestHandler(t, nil)

	res := do(t, h, http.MethodDelete, "/reconciliations", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, res.Code)
	assert.Equal(t, "method_not_allowed", decodeError(t, res).Error.Code)
}

func TestListReconciliations(t *testing.T) {
	h := newTestHandler(t, nil)

	res := do(t, h, http.MethodGet, "/reconciliations", "", "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `[]`, res.Body.String())

	importLedger(t, h)
	first := createJanuary(t, h)
	createJanuary(t, h)
	do(t, h, http.MethodPost, "/reconciliations/"+first.ID+"/start", "", "")

	var recs []*models.Reconciliation
	res = do(t, h, http.MethodGet, "/reconciliations?status=in_progress", "", "")
	require.Equal(t, http.StatusOK, res.Code)
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, first.ID, recs[0].ID)

	res = do(t, h, http.MethodGet, "/reconciliations?firmId=B&limit=1", "", "")
	require.Equal(t, http.StatusOK, res.Code)
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &recs))
	assert.Len(t, recs, 1)

	res = do(t, h, http.MethodGet, "/reconciliations?status=done", "", "")
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = do(t, h, http.MethodGet, "/reconciliations?limit=-1", "", "")
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestSync(t *testing.T) {
	h := newTestHandler(t, nil)
	rec := createJanuary(t, h)
	assert.Empty(t, rec.UnmatchedSourceTransactions)

	importLedger(t, h)

	res := do(t, h, http.MethodPost, "/reconciliations/"+rec.ID+"/sync", "", "")
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	assert.Equal(t, "3", res.Header().Get(TransactionsAddedHeader))
	synced := decodeReconciliation(t, res)
	assert.Len(t, synced.UnmatchedSourceTransactions, 2)
	assert.Equal(t, models.StatusDraft, synced.Status)
}

func TestCandidates(t *testing.T) {
	h := newTestHandler(t, nil)
	importLedger(t, h)
	rec := createJanuary(t, h)

	res := do(t, h, http.MethodGet, "/reconciliations/"+rec.ID+"/candidates/s1", "", "")
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	var candidates []struct {
		Transaction struct {
			ID string `json:"id"`
		} `json:"transaction"`
		ByReference bool `json:"byReference"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &candidates))
	require.Len(t, candidates, 1)
	assert.Equal(t, "t1", candidates[0].Transaction.ID)
	assert.True(t, candidates[0].ByReference)
}

func TestReport(t *testing.T) {
	h := newTestHandler(t, nil)
	importLedger(t, h)
	rec := createJanuary(t, h)
	base := "/reconciliations/" + rec.ID + "/report"

	res := do(t, h, http.MethodGet, base, "", "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "application/json", res.Header().Get("Content-Type"))
	var report map[string]interface{}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &report))
	assert.Contains(t, report, "summary")

	res = do(t, h, http.MethodGet, base+"?format=csv", "", "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, res.Header().Get("Content-Disposition"), rec.ReconciliationNumber)
	assert.True(t, strings.HasPrefix(res.Body.String(), "Section,ID"))

	res = do(t, h, http.MethodGet, base+"?format=console", "", "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), "=== SUMMARY ===")

	res = do(t, h, http.MethodGet, base+"?format=pdf", "", "")
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestRateLimit(t *testing.T) {
	h := newTestHandler(t, &Config{
		RateLimitInterval: time.Hour,
		RateLimitBurst:    1,
		MaxBodyBytes:      1 << 20,
	})

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "", "").Code)

	res := do(t, h, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusTooManyRequests, res.Code)
	assert.Equal(t, "rate_limited", decodeError(t, res).Error.Kind)
}

func TestBodyLimit(t *testing.T) {
	h := newTestHandler(t, &Config{MaxBodyBytes: 16})

	res := do(t, h, http.MethodPost, "/ledger/transactions", "text/csv", ledgerCSV)
	assert.Equal(t, http.StatusBadRequest, res.Code)

	body := bytes.Repeat([]byte(" "), 64)
	res = do(t, h, http.MethodPost, "/reconciliations", "application/json", string(body)+"{}")
	assert.Equal(t, http.StatusBadRequest, res.Code)
}
