// Package reporter renders reconciliations for people and spreadsheets.
//
// Supported output formats:
//   - Console: human-readable tables for terminal display
//   - JSON: structured data for programmatic consumption
//   - CSV: one row per match, unmatched transaction and adjustment
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatCSV})
//	err = generator.GenerateReport(rec, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"intercompany-reconciliation-service/internal/models"

	"github.com/shopspring/decimal"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ContentType returns the MIME type of the format
func (f OutputFormat) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatCSV:
		return "text/csv; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	IncludeMatches     bool `json:"include_matches"`
	IncludeUnmatched   bool `json:"include_unmatched"`
	IncludeAdjustments bool `json:"include_adjustments"`

	// MaxListItems caps each console list; 0 prints everything
	MaxListItems int  `json:"max_list_items"`
	SortByAmount bool `json:"sort_by_amount"`

	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:             FormatConsole,
		IncludeMatches:     true,
		IncludeUnmatched:   true,
		IncludeAdjustments: true,
		MaxListItems:       20,
		SortByAmount:       false,
		CSVDelimiter:       ',',
		CSVHeaders:         true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}

	if c.MaxListItems < 0 {
		return fmt.Errorf("max list items cannot be negative, got %d", c.MaxListItems)
	}

	if c.Format == FormatCSV && (c.CSVDelimiter == 0 || c.CSVDelimiter == '"' || c.CSVDelimiter == '\n') {
		return fmt.Errorf("invalid CSV delimiter %q", c.CSVDelimiter)
	}

	return nil
}

// MatchLine is a match together with the transactions it pairs
type MatchLine struct {
	*models.Match
	Source *models.LedgerTransaction `json:"source"`
	Target *models.LedgerTransaction `json:"target"`
}

// Report is the renderable view of one reconciliation
type Report struct {
	ID                   string                      `json:"_id"`
	ReconciliationNumber string                      `json:"reconciliationNumber"`
	SourceFirmID         string                      `json:"sourceFirmId"`
	TargetFirmID         string                      `json:"targetFirmId"`
	PeriodStart          time.Time                   `json:"reconciliationPeriodStart"`
	PeriodEnd            time.Time                   `json:"reconciliationPeriodEnd"`
	Currency             string                      `json:"currency"`
	Status               models.Status               `json:"status"`
	Notes                string                      `json:"notes,omitempty"`
	Summary              models.Summary              `json:"summary"`
	Matches              []MatchLine                 `json:"matches,omitempty"`
	UnmatchedSource      []*models.LedgerTransaction `json:"unmatchedSource,omitempty"`
	UnmatchedTarget      []*models.LedgerTransaction `json:"unmatchedTarget,omitempty"`
	Adjustments          []*models.AdjustmentEntry   `json:"adjustments,omitempty"`
	GeneratedAt          time.Time                   `json:"generatedAt"`
}

// ReportGenerator generates reconciliation reports in various formats
type ReportGenerator struct {
	config *ReportConfig
	now    func() time.Time
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}

	return &ReportGenerator{
		config: config,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// BuildReport assembles the report view of rec according to the configuration
func (rg *ReportGenerator) BuildReport(rec *models.Reconciliation) *Report {
	report := &Report{
		ID:                   rec.ID,
		ReconciliationNumber: rec.ReconciliationNumber,
		SourceFirmID:         rec.SourceFirmID,
		TargetFirmID:         rec.TargetFirmID,
		PeriodStart:          rec.ReconciliationPeriodStart,
		PeriodEnd:            rec.ReconciliationPeriodEnd,
		Currency:             rec.Currency,
		Status:               rec.Status,
		Notes:                rec.Notes,
		Summary:              rec.Summarize(),
		GeneratedAt:          rg.now(),
	}

	if rg.config.IncludeMatches {
		for _, m := range rec.MatchedTransactions {
			report.Matches = append(report.Matches, MatchLine{
				Match:  m,
				Source: rec.SourceTransactions[m.SourceTransactionID],
				Target: rec.TargetTransactions[m.TargetTransactionID],
			})
		}
		if rg.config.SortByAmount {
			sort.SliceStable(report.Matches, func(i, j int) bool {
				return report.Matches[i].Amount.GreaterThan(report.Matches[j].Amount)
			})
		}
	}

	if rg.config.IncludeUnmatched {
		report.UnmatchedSource = rg.collect(rec.SourceTransactions, rec.UnmatchedSourceTransactions)
		report.UnmatchedTarget = rg.collect(rec.TargetTransactions, rec.UnmatchedTargetTransactions)
	}

	if rg.config.IncludeAdjustments {
		report.Adjustments = rec.AdjustmentEntries
	}

	return report
}

func (rg *ReportGenerator) collect(ledger map[string]*models.LedgerTransaction, ids []string) []*models.LedgerTransaction {
	txs := make([]*models.LedgerTransaction, 0, len(ids))
	for _, id := range ids {
		if tx, ok := ledger[id]; ok {
			txs = append(txs, tx)
		}
	}
	if rg.config.SortByAmount {
		sort.SliceStable(txs, func(i, j int) bool {
			return txs[i].AbsAmount().GreaterThan(txs[j].AbsAmount())
		})
	}
	return txs
}

// GenerateReport renders rec and writes it to writer
func (rg *ReportGenerator) GenerateReport(rec *models.Reconciliation, writer io.Writer) error {
	if rec == nil {
		return fmt.Errorf("reconciliation cannot be nil")
	}

	report := rg.BuildReport(rec)
	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(report, writer)
	case FormatJSON:
		return rg.generateJSONReport(report, writer)
	case FormatCSV:
		return rg.generateCSVReport(report, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// generateConsoleReport generates a human-readable console report
func (rg *ReportGenerator) generateConsoleReport(report *Report, writer io.Writer) error {
	ew := &errWriter{w: writer}

	fmt.Fprintf(ew, "INTER-COMPANY RECONCILIATION %s\n", report.ReconciliationNumber)
	fmt.Fprintf(ew, "Firms:     %s -> %s\n", report.SourceFirmID, report.TargetFirmID)
	fmt.Fprintf(ew, "Period:    %s to %s\n", report.PeriodStart.Format("2006-01-02"), report.PeriodEnd.Format("2006-01-02"))
	fmt.Fprintf(ew, "Currency:  %s\n", report.Currency)
	fmt.Fprintf(ew, "Status:    %s\n", report.Status)
	fmt.Fprintf(ew, "Generated: %s\n", report.GeneratedAt.Format(time.RFC3339))
	if report.Notes != "" {
		fmt.Fprintf(ew, "Notes:     %s\n", report.Notes)
	}
	fmt.Fprintf(ew, "\n")

	fmt.Fprintf(ew, "=== SUMMARY ===\n")
	rg.printSummary(report, ew)
	fmt.Fprintf(ew, "\n")

	if len(report.Matches) > 0 {
		fmt.Fprintf(ew, "=== MATCHES (%d) ===\n", len(report.Matches))
		rg.printMatches(report.Matches, ew)
		fmt.Fprintf(ew, "\n")
	}

	if rg.config.IncludeUnmatched {
		if len(report.UnmatchedSource) > 0 {
			fmt.Fprintf(ew, "=== UNMATCHED %s (%d) ===\n", report.SourceFirmID, len(report.UnmatchedSource))
			rg.printTransactions(report.UnmatchedSource, ew)
			fmt.Fprintf(ew, "\n")
		}
		if len(report.UnmatchedTarget) > 0 {
			fmt.Fprintf(ew, "=== UNMATCHED %s (%d) ===\n", report.TargetFirmID, len(report.UnmatchedTarget))
			rg.printTransactions(report.UnmatchedTarget, ew)
			fmt.Fprintf(ew, "\n")
		}
	}

	if len(report.Adjustments) > 0 {
		fmt.Fprintf(ew, "=== ADJUSTMENTS (%d) ===\n", len(report.Adjustments))
		rg.printAdjustments(report.Adjustments, ew)
	}

	return ew.err
}

func (rg *ReportGenerator) printSummary(report *Report, writer io.Writer) {
	s := report.Summary
	total := s.MatchedCount*2 + s.UnmatchedSourceCount + s.UnmatchedTargetCount

	tw := tabwriter.NewWriter(writer, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Matches:\t%d\t(%d automatic, %d manual)\n", s.MatchedCount, s.AutomaticMatches, s.ManualMatches)
	fmt.Fprintf(tw, "Matched transactions:\t%d\t(%.1f%%)\n", s.MatchedCount*2, calculatePercentage(s.MatchedCount*2, total))
	fmt.Fprintf(tw, "Unmatched %s:\t%d\t%s\n", report.SourceFirmID, s.UnmatchedSourceCount, s.UnmatchedSourceAmount.StringFixed(2))
	fmt.Fprintf(tw, "Unmatched %s:\t%d\t%s\n", report.TargetFirmID, s.UnmatchedTargetCount, s.UnmatchedTargetAmount.StringFixed(2))
	fmt.Fprintf(tw, "Total matched:\t%s\t\n", s.TotalMatched.StringFixed(2))
	fmt.Fprintf(tw, "Match differences:\t%s\t\n", s.TotalMatchDifference.StringFixed(2))
	fmt.Fprintf(tw, "Adjustments:\t%s\t(%d entries)\n", s.TotalAdjustments.StringFixed(2), s.AdjustmentCount)
	fmt.Fprintf(tw, "Unresolved difference:\t%s\t\n", s.UnresolvedDifference.StringFixed(2))

	volume := s.TotalMatched.Add(s.UnmatchedSourceAmount).Add(s.UnmatchedTargetAmount)
	if !s.UnresolvedDifference.IsZero() && volume.IsPositive() {
		pct := s.UnresolvedDifference.Abs().Div(volume).Mul(decimal.NewFromInt(100))
		fmt.Fprintf(tw, "Unresolved share:\t%s%%\t\n", pct.StringFixed(2))
	}
	tw.Flush()
}

func (rg *ReportGenerator) printMatches(matches []MatchLine, writer io.Writer) {
	tw := tabwriter.NewWriter(writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSOURCE\tTARGET\tAMOUNT\tDIFFERENCE\tTYPE\tMATCHED AT")
	for i, m := range matches {
		if rg.truncated(i, len(matches), tw) {
			break
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			i+1, m.SourceTransactionID, m.TargetTransactionID,
			m.Amount.StringFixed(2), m.Difference.StringFixed(2), m.MatchType,
			m.MatchedAt.Format("2006-01-02 15:04"))
	}
	tw.Flush()
}

func (rg *ReportGenerator) printTransactions(transactions []*models.LedgerTransaction, writer io.Writer) {
	tw := tabwriter.NewWriter(writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tID\tDATE\tTYPE\tAMOUNT\tREFERENCE\tCOUNTERPARTY")
	for i, tx := range transactions {
		if rg.truncated(i, len(transactions), tw) {
			break
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			i+1, tx.ID, tx.Date.Format("2006-01-02"), tx.Type,
			tx.Amount.StringFixed(2), tx.Reference, tx.CounterpartyFirmID)
	}
	tw.Flush()
}

func (rg *ReportGenerator) printAdjustments(entries []*models.AdjustmentEntry, writer io.Writer) {
	tw := tabwriter.NewWriter(writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTYPE\tAMOUNT\tRATE\tCONVERTED\tREASON")
	for i, a := range entries {
		if rg.truncated(i, len(entries), tw) {
			break
		}
		rate := "-"
		if a.ExchangeRate != nil {
			rate = a.ExchangeRate.String()
		}
		fmt.Fprintf(tw, "%d\t%s\t%s %s\t%s\t%s\t%s\n",
			i+1, a.Type, a.Amount.StringFixed(2), a.Currency, rate, a.ConvertedAmount.StringFixed(2), a.Reason)
	}
	tw.Flush()
}

// truncated prints the overflow line once the list limit is reached
func (rg *ReportGenerator) truncated(i, total int, writer io.Writer) bool {
	if rg.config.MaxListItems == 0 || i < rg.config.MaxListItems {
		return false
	}
	fmt.Fprintf(writer, "...\tand %d more\n", total-i)
	return true
}

// generateJSONReport generates a structured JSON report
func (rg *ReportGenerator) generateJSONReport(report *Report, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

// generateCSVReport writes one row per match, unmatched transaction and adjustment
func (rg *ReportGenerator) generateCSVReport(report *Report, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	write := func(record []string) error {
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
		return nil
	}

	if rg.config.CSVHeaders {
		headers := []string{
			"Section",
			"ID",
			"Source_Transaction",
			"Target_Transaction",
			"Amount",
			"Currency",
			"Type",
			"Date",
			"Difference",
			"Reference",
			"Notes",
		}
		if err := write(headers); err != nil {
			return err
		}
	}

	for _, m := range report.Matches {
		reference := ""
		if m.Source != nil {
			reference = m.Source.Reference
		}
		record := []string{
			"Match",
			safeCell(m.ID),
			safeCell(m.SourceTransactionID),
			safeCell(m.TargetTransactionID),
			m.Amount.String(),
			m.Currency,
			string(m.MatchType),
			m.MatchedAt.Format("2006-01-02"),
			m.Difference.String(),
			safeCell(reference),
			"",
		}
		if err := write(record); err != nil {
			return err
		}
	}

	unmatched := func(section string, txs []*models.LedgerTransaction) error {
		for _, tx := range txs {
			record := []string{
				section,
				safeCell(tx.ID),
				"",
				"",
				tx.Amount.String(),
				tx.Currency,
				string(tx.Type),
				tx.Date.Format("2006-01-02"),
				"",
				safeCell(tx.Reference),
				safeCell(tx.Description),
			}
			if err := write(record); err != nil {
				return err
			}
		}
		return nil
	}
	if err := unmatched("Unmatched Source", report.UnmatchedSource); err != nil {
		return err
	}
	if err := unmatched("Unmatched Target", report.UnmatchedTarget); err != nil {
		return err
	}

	for _, a := range report.Adjustments {
		record := []string{
			"Adjustment",
			safeCell(a.ID),
			"",
			"",
			a.ConvertedAmount.String(),
			report.Currency,
			string(a.Type),
			a.CreatedAt.Format("2006-01-02"),
			"",
			"",
			safeCell(a.Reason),
		}
		if err := write(record); err != nil {
			return err
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// safeCell prefixes text that a spreadsheet would evaluate as a formula
func safeCell(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return s
	}

	switch trimmed[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + s
	}
	return s
}

func calculatePercentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

// errWriter remembers the first write error so the console renderer can
// report it once
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) Write(p []byte) (int, error) {
	if ew.err != nil {
		return 0, ew.err
	}
	n, err := ew.w.Write(p)
	ew.err = err
	return n, err
}
