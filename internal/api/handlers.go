package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"intercompany-reconciliation-service/internal/models"
	"intercompany-reconciliation-service/internal/parsers"
	"intercompany-reconciliation-service/internal/reconciler"
	"intercompany-reconciliation-service/internal/reporter"
	"intercompany-reconciliation-service/internal/store"
	"intercompany-reconciliation-service/pkg/errors"
	"intercompany-reconciliation-service/pkg/logger"

	"github.com/go-chi/chi/v5"
)

// Response headers carrying the side result of a mutation. The body is
// always the updated reconciliation.
const (
	MatchesCreatedHeader    = "X-Matches-Created"
	TransactionsAddedHeader = "X-Transactions-Added"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

type createBody struct {
	SourceFirmID string `json:"sourceFirmId"`
	TargetFirmID string `json:"targetFirmId"`
	PeriodStart  string `json:"reconciliationPeriodStart"`
	PeriodEnd    string `json:"reconciliationPeriodEnd"`
	Currency     string `json:"currency"`
	Notes        string `json:"notes,omitempty"`
}

func (b createBody) request() (reconciler.CreateRequest, error) {
	req := reconciler.CreateRequest{
		SourceFirmID: b.SourceFirmID,
		TargetFirmID: b.TargetFirmID,
		Currency:     b.Currency,
		Notes:        b.Notes,
	}

	var err error
	if strings.TrimSpace(b.PeriodStart) != "" {
		if req.PeriodStart, err = models.ParseTimeWithFormats(b.PeriodStart); err != nil {
			return req, errors.ValidationError(errors.CodeInvalidDate, "reconciliationPeriodStart", b.PeriodStart, err)
		}
	}
	if strings.TrimSpace(b.PeriodEnd) != "" {
		if req.PeriodEnd, err = models.ParseTimeWithFormats(b.PeriodEnd); err != nil {
			return req, errors.ValidationError(errors.CodeInvalidDate, "reconciliationPeriodEnd", b.PeriodEnd, err)
		}
	}
	return req, nil
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body createBody
	if err := s.decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	req, err := body.request()
	if err != nil {
		writeError(w, r, err)
		return
	}

	rec, err := s.svc.Create(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/reconciliations/"+rec.ID)
	writeJSON(w, r, http.StatusCreated, rec)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := store.ListFilter{
		Status: models.Status(query.Get("status")),
		FirmID: query.Get("firmId"),
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, r, errors.ValidationError(errors.CodeOutOfRange, "limit", raw, err))
			return
		}
		filter.Limit = limit
	}

	recs, err := s.svc.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []*models.Reconciliation{}
	}
	writeJSON(w, r, http.StatusOK, recs)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}

// transition adapts the lifecycle operations that take only the ID
func (s *Server) transition(op func(ctx context.Context, id string) (*models.Reconciliation, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := op(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, rec)
	}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.transition(s.svc.Start)(w, r)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	s.transition(s.svc.Complete)(w, r)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.transition(s.svc.Approve)(w, r)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	rec, added, err := s.svc.Sync(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set(TransactionsAddedHeader, strconv.Itoa(added))
	writeJSON(w, r, http.StatusOK, rec)
}

func (s *Server) handleAutoMatch(w http.ResponseWriter, r *http.Request) {
	rec, created, err := s.svc.AutoMatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set(MatchesCreatedHeader, strconv.Itoa(len(created)))
	writeJSON(w, r, http.StatusOK, rec)
}

type manualMatchBody struct {
	SourceTransactionID string `json:"sourceTransactionId"`
	TargetTransactionID string `json:"targetTransactionId"`
}

func (s *Server) handleManualMatch(w http.ResponseWriter, r *http.Request) {
	var body manualMatchBody
	if err := s.decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	rec, _, err := s.svc.ManualMatch(r.Context(), chi.URLParam(r, "id"), body.SourceTransactionID, body.TargetTransactionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}

type unmatchBody struct {
	MatchID string `json:"matchId"`
}

func (s *Server) handleUnmatch(w http.ResponseWriter, r *http.Request) {
	var body unmatchBody
	if err := s.decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(body.MatchID) == "" {
		writeError(w, r, errors.ValidationError(errors.CodeMissingField, "matchId", nil, nil))
		return
	}

	rec, _, err := s.svc.Unmatch(r.Context(), chi.URLParam(r, "id"), body.MatchID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}

func (s *Server) handleAddAdjustment(w http.ResponseWriter, r *http.Request) {
	var req reconciler.AdjustmentRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	rec, _, err := s.svc.AddAdjustment(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, rec)
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	candidates, err := s.svc.Candidates(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "transactionId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, candidates)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	format := reporter.FormatJSON
	if raw := r.URL.Query().Get("format"); raw != "" {
		format = reporter.OutputFormat(strings.ToLower(raw))
	}
	if !format.IsValid() {
		writeError(w, r, errors.ValidationError(errors.CodeInvalidValue, "format", string(format), nil).
			WithSuggestion("use json, csv or console"))
		return
	}

	rec, err := s.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	config := reporter.DefaultReportConfig()
	config.Format = format
	config.MaxListItems = 0
	generator, err := reporter.NewReportGenerator(config)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := generator.GenerateReport(rec, &buf); err != nil {
		writeError(w, r, errors.InternalError(errors.CodeUnexpectedError, "report", err))
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	if format == reporter.FormatCSV {
		w.Header().Set("Content-Disposition", `attachment; filename="`+rec.ReconciliationNumber+`.csv"`)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		logger.FromContext(r.Context()).WithError(err).Warn("Failed to write report")
	}
}

type importResponse struct {
	Format string                   `json:"format"`
	Parse  *parsers.ParseStats      `json:"parse"`
	Import *reconciler.ImportResult `json:"import"`
}

// handleImportLedger records a CSV ledger export into the transaction feed.
// Query parameters: format (standard|erp, detected from the header when
// absent), firmId and currency as defaults for rows without those columns.
func (s *Server) handleImportLedger(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	if err != nil {
		writeError(w, r, errors.ValidationError(errors.CodeOutOfRange, "body", nil, err).
			WithSuggestion("split the ledger export into smaller files"))
		return
	}

	query := r.URL.Query()
	var format *parsers.LedgerFormat
	if name := query.Get("format"); name != "" {
		if format = parsers.GetLedgerFormat(name); format == nil {
			writeError(w, r, errors.ValidationError(errors.CodeInvalidValue, "format", name, nil).
				WithSuggestion("use one of the predefined ledger formats: standard, erp"))
			return
		}
	} else if format, err = parsers.DetectLedgerFormat(bytes.NewReader(data)); err != nil {
		writeError(w, r, err)
		return
	}

	parser, err := parsers.NewLedgerParser(&parsers.LedgerParserConfig{
		Format:          format,
		FirmID:          query.Get("firmId"),
		DefaultCurrency: query.Get("currency"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	txs, stats, err := parser.Parse(r.Context(), bytes.NewReader(data), "request body")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if stats.HasErrors() {
		writeError(w, r, errors.New(errors.CategoryParse, errors.CodeInvalidData, stats.String()).
			WithContext("errors", stats.GetSampleErrors(10)).
			WithSuggestion("fix the listed rows and upload the file again"))
		return
	}

	result, err := s.svc.ImportTransactions(r.Context(), txs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, importResponse{Format: format.Name, Parse: stats, Import: result})
}
