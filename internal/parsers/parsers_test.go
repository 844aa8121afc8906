package parsers

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"intercompany-reconciliation-service/internal/models"
	"intercompany-reconciliation-service/pkg/errors"

	"github.com/shopspring/decimal"
)

const standardLedger = `id,firmId,counterpartyFirmId,reference,amount,currency,type,date,description
s1,A,B,INV-001,"1,000.00",SAR,DEBIT,2025-01-10,Management fee
s2,A,B,,500,sar,dr,2025-01-12T08:30:00Z,
s3,A,,REF-9,75.25,SAR,C,01/20/2025,Recharge
`

// Helper function to create temporary CSV file
func createTempCSVFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.csv")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}
	return path
}

func TestDefaultParseConfig(t *testing.T) {
	config := DefaultParseConfig()

	if !config.HasHeader {
		t.Error("Expected HasHeader to be true")
	}
	if config.Delimiter != ',' {
		t.Errorf("Expected delimiter to be ',', got %q", config.Delimiter)
	}
	if !config.SkipEmptyRows {
		t.Error("Expected SkipEmptyRows to be true")
	}
}

func TestParseError(t *testing.T) {
	err := &ParseError{
		Line:    5,
		Column:  3,
		Field:   "amount",
		Value:   "invalid",
		Message: "invalid format",
	}

	expected := "parse error at line 5, column 3 (amount='invalid'): invalid format"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestLedgerFormat_Validate(t *testing.T) {
	tests := []struct {
		name      string
		format    *LedgerFormat
		wantError bool
	}{
		{"standard", StandardLedgerFormat, false},
		{"erp", ERPLedgerFormat, false},
		{"missing name", &LedgerFormat{IDColumn: "id", AmountColumn: "a", TypeColumn: "t", DateColumn: "d"}, true},
		{"missing amount column", &LedgerFormat{Name: "x", IDColumn: "id", TypeColumn: "t", DateColumn: "d"}, true},
		{
			name: "alias fills missing column",
			format: &LedgerFormat{Name: "x", IDColumn: "id", TypeColumn: "t", DateColumn: "d", Delimiter: ',',
				ColumnAliases: map[string]string{ColumnAmount: "value"}},
			wantError: false,
		},
		{"quote delimiter", &LedgerFormat{Name: "x", IDColumn: "id", AmountColumn: "a", TypeColumn: "t", DateColumn: "d", Delimiter: '"'}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.format.Validate()
			if (err != nil) != tt.wantError {
				t.Errorf("Validate() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestNewLedgerParser_InvalidConfig(t *testing.T) {
	_, err := NewLedgerParser(&LedgerParserConfig{Format: StandardLedgerFormat, DefaultCurrency: "riyal"})
	if !errors.Is(err, errors.CategoryConfiguration) {
		t.Errorf("Expected configuration error, got %v", err)
	}

	_, err = NewLedgerParser(&LedgerParserConfig{})
	if err == nil {
		t.Error("Expected error for missing format")
	}
}

func TestLedgerParser_ParseFile(t *testing.T) {
	parser, err := NewLedgerParser(nil)
	if err != nil {
		t.Fatalf("NewLedgerParser() error = %v", err)
	}

	txs, stats, err := parser.ParseFile(context.Background(), createTempCSVFile(t, standardLedger))
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	if stats.HasErrors() {
		t.Fatalf("unexpected errors: %v", stats.GetSampleErrors(5))
	}
	if len(txs) != 3 || stats.RecordsValid != 3 || stats.TotalLines != 4 {
		t.Fatalf("Expected 3 transactions over 4 lines, got %d (%s)", len(txs), stats)
	}

	first := txs[0]
	if first.ID != "s1" || first.FirmID != "A" || first.CounterpartyFirmID != "B" || first.Reference != "INV-001" {
		t.Errorf("unexpected identity fields: %+v", first)
	}
	if !first.Amount.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("Expected amount 1000, got %s", first.Amount)
	}
	if first.Type != models.TransactionTypeDebit || first.Description != "Management fee" {
		t.Errorf("unexpected type/description: %+v", first)
	}

	if txs[1].Currency != "SAR" || txs[1].Type != models.TransactionTypeDebit {
		t.Errorf("Expected normalized currency and type, got %+v", txs[1])
	}
	if txs[2].CounterpartyFirmID != "" || txs[2].Type != models.TransactionTypeCredit {
		t.Errorf("unexpected third transaction: %+v", txs[2])
	}
	if !models.DateOnly(txs[2].Date).Equal(time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected 2025-01-20, got %v", txs[2].Date)
	}
}

func TestLedgerParser_ParseFile_NotFound(t *testing.T) {
	parser, _ := NewLedgerParser(nil)

	_, _, err := parser.ParseFile(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	recErr, ok := errors.AsReconcilerError(err)
	if !ok || recErr.Code != errors.CodeFileNotFound {
		t.Errorf("Expected file not found error, got %v", err)
	}
}

func TestLedgerParser_Malformed(t *testing.T) {
	content := `id,firmId,amount,currency,type,date
ok1,A,10,SAR,DEBIT,2025-01-01
bad-amount,A,ten,SAR,DEBIT,2025-01-01
bad-type,A,10,SAR,TRANSFER,2025-01-01
bad-date,A,10,SAR,CREDIT,yesterday
zero,A,0,SAR,CREDIT,2025-01-01
,A,10,SAR,CREDIT,2025-01-01

ok2,A,10,USD,CREDIT,2025-01-02
`
	parser, _ := NewLedgerParser(nil)
	txs, stats, err := parser.Parse(context.Background(), strings.NewReader(content), "inline")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if len(txs) != 2 {
		t.Errorf("Expected 2 valid transactions, got %d", len(txs))
	}
	if stats.ErrorCount != 5 {
		t.Errorf("Expected 5 errors, got %d: %v", stats.ErrorCount, stats.GetSampleErrors(10))
	}

	wantFields := []string{"amount", "type", "date", "id", "id"}
	for i, want := range wantFields {
		if i >= len(stats.Errors) {
			break
		}
		if stats.Errors[i].Field != want {
			t.Errorf("error %d: expected field %q, got %q", i, want, stats.Errors[i].Field)
		}
	}
	if stats.Errors[0].Line != 3 {
		t.Errorf("Expected first error on line 3, got %d", stats.Errors[0].Line)
	}
}

func TestLedgerParser_MissingHeaders(t *testing.T) {
	parser, _ := NewLedgerParser(nil)

	_, _, err := parser.Parse(context.Background(), strings.NewReader("id,amount,type\n1,2,DEBIT\n"), "inline")
	recErr, ok := errors.AsReconcilerError(err)
	if !ok || recErr.Code != errors.CodeMissingColumn {
		t.Fatalf("Expected missing column error, got %v", err)
	}
	if !strings.Contains(recErr.Message, "date") {
		t.Errorf("Expected message to name the missing date column, got %q", recErr.Message)
	}

	_, _, err = parser.Parse(context.Background(), strings.NewReader(""), "inline")
	if !errors.Is(err, errors.CategoryValidation) {
		t.Errorf("Expected validation error for empty input, got %v", err)
	}
}

func TestLedgerParser_FirmDefaults(t *testing.T) {
	content := "Entry No;Document No;Amount;Dr/Cr;Posting Date;IC Partner\n" +
		"E-1;INV-5;250.5;Cr;31.01.2025;A\n"

	parser, err := NewLedgerParser(&LedgerParserConfig{
		Format:          ERPLedgerFormat,
		FirmID:          "B",
		DefaultCurrency: "sar",
	})
	if err != nil {
		t.Fatalf("NewLedgerParser() error = %v", err)
	}

	txs, stats, err := parser.Parse(context.Background(), strings.NewReader(content), "erp.csv")
	if err != nil || stats.HasErrors() {
		t.Fatalf("Parse() error = %v, parse errors %v", err, stats.GetSampleErrors(3))
	}
	if len(txs) != 1 {
		t.Fatalf("Expected 1 transaction, got %d", len(txs))
	}

	tx := txs[0]
	if tx.FirmID != "B" || tx.Currency != "SAR" || tx.CounterpartyFirmID != "A" {
		t.Errorf("defaults not applied: %+v", tx)
	}
	if !tx.Date.Equal(time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected 2025-01-31, got %v", tx.Date)
	}
}

func TestLedgerParser_ParseStream(t *testing.T) {
	var content strings.Builder
	content.WriteString("id,firmId,amount,currency,type,date\n")
	for i := 0; i < 25; i++ {
		content.WriteString("tx")
		content.WriteString(strings.Repeat("x", i))
		content.WriteString(",A,10,SAR,DEBIT,2025-01-01\n")
	}

	parser, _ := NewLedgerParser(nil)
	var batches []int
	stats, err := parser.ParseStream(context.Background(), strings.NewReader(content.String()), "inline",
		&StreamingConfig{BatchSize: 10, ContinueOnError: true},
		func(batch []*models.LedgerTransaction) error {
			batches = append(batches, len(batch))
			return nil
		})
	if err != nil {
		t.Fatalf("ParseStream() error = %v", err)
	}
	if stats.RecordsValid != 25 {
		t.Errorf("Expected 25 valid records, got %d", stats.RecordsValid)
	}
	if len(batches) != 3 || batches[0] != 10 || batches[1] != 10 || batches[2] != 5 {
		t.Errorf("Expected batches [10 10 5], got %v", batches)
	}
}

func TestLedgerParser_ParseStreamStopsOnErrors(t *testing.T) {
	content := "id,firmId,amount,currency,type,date\n" +
		"a,A,x,SAR,DEBIT,2025-01-01\n" +
		"b,A,x,SAR,DEBIT,2025-01-01\n" +
		"c,A,1,SAR,DEBIT,2025-01-01\n"

	parser, _ := NewLedgerParser(nil)
	called := false
	_, err := parser.ParseStream(context.Background(), strings.NewReader(content), "inline",
		&StreamingConfig{BatchSize: 10, ContinueOnError: true, MaxErrors: 2},
		func([]*models.LedgerTransaction) error {
			called = true
			return nil
		})
	if !errors.Is(err, errors.CategoryParse) {
		t.Errorf("Expected parse error, got %v", err)
	}
	if called {
		t.Error("callback must not run once parsing stopped")
	}

	_, err = parser.ParseStream(context.Background(), strings.NewReader(content), "inline",
		&StreamingConfig{BatchSize: 0}, nil)
	if !errors.Is(err, errors.CategoryConfiguration) {
		t.Errorf("Expected configuration error for zero batch size, got %v", err)
	}
}

func TestLedgerParser_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	parser, _ := NewLedgerParser(nil)
	_, _, err := parser.Parse(ctx, strings.NewReader(standardLedger), "inline")
	if err == nil {
		t.Error("Expected error for cancelled context")
	}
}

func TestDetectLedgerFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   *LedgerFormat
	}{
		{"standard", "id,firmId,amount,currency,type,date\n", StandardLedgerFormat},
		{"erp", "\ufeffEntry No;Company;Amount;Dr/Cr;Posting Date\r\n", ERPLedgerFormat},
		{"unknown falls back", "foo,bar\n", StandardLedgerFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectLedgerFormat(strings.NewReader(tt.header))
			if err != nil {
				t.Fatalf("DetectLedgerFormat() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want.Name, got.Name)
			}
		})
	}

	if _, err := DetectLedgerFormat(strings.NewReader("")); err == nil {
		t.Error("Expected error for empty input")
	}
}

func TestParseContext_GetColumnIndex(t *testing.T) {
	parseCtx := NewParseContext(context.Background(), "inline")
	parseCtx.HeaderMap = map[string]int{"Amount": 0, "Type": 1}

	if parseCtx.GetColumnIndex("amount") != 0 {
		t.Error("Expected case-insensitive lookup")
	}
	if parseCtx.GetColumnIndex("Type") != 1 {
		t.Error("Expected exact lookup")
	}
	if parseCtx.GetColumnIndex("missing") != -1 || parseCtx.GetColumnIndex("") != -1 {
		t.Error("Expected -1 for unknown columns")
	}
}

func BenchmarkLedgerParser_Parse(b *testing.B) {
	var content strings.Builder
	content.WriteString("id,firmId,counterpartyFirmId,reference,amount,currency,type,date\n")
	for i := 0; i < 1000; i++ {
		content.WriteString("tx,A,B,INV-1,100.50,SAR,DEBIT,2025-01-15\n")
	}
	data := content.String()

	parser, _ := NewLedgerParser(nil)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := parser.Parse(context.Background(), strings.NewReader(data), "bench"); err != nil {
			b.Fatal(err)
		}
	}
}
