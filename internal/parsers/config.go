package parsers

import (
	"fmt"
	"strings"

	"intercompany-reconciliation-service/internal/models"
)

// Standard column names. ColumnAliases and the *Column fields map these to
// the headers a particular ledger export uses.
const (
	ColumnID           = "id"
	ColumnFirm         = "firm"
	ColumnCounterparty = "counterparty"
	ColumnReference    = "reference"
	ColumnAmount       = "amount"
	ColumnCurrency     = "currency"
	ColumnType         = "type"
	ColumnDate         = "date"
	ColumnDescription  = "description"
)

// LedgerFormat describes the CSV layout of one firm's ledger export
type LedgerFormat struct {
	Name               string            `json:"name" mapstructure:"name"`
	IDColumn           string            `json:"id_column" mapstructure:"id_column"`
	FirmColumn         string            `json:"firm_column" mapstructure:"firm_column"`
	CounterpartyColumn string            `json:"counterparty_column" mapstructure:"counterparty_column"`
	ReferenceColumn    string            `json:"reference_column" mapstructure:"reference_column"`
	AmountColumn       string            `json:"amount_column" mapstructure:"amount_column"`
	CurrencyColumn     string            `json:"currency_column" mapstructure:"currency_column"`
	TypeColumn         string            `json:"type_column" mapstructure:"type_column"`
	DateColumn         string            `json:"date_column" mapstructure:"date_column"`
	DescriptionColumn  string            `json:"description_column" mapstructure:"description_column"`
	DateFormat         string            `json:"date_format,omitempty" mapstructure:"date_format"`
	HasHeader          bool              `json:"has_header" mapstructure:"has_header"`
	Delimiter          rune              `json:"delimiter" mapstructure:"delimiter"`
	ColumnAliases      map[string]string `json:"column_aliases,omitempty" mapstructure:"column_aliases"`
	Description        string            `json:"description,omitempty" mapstructure:"description"`
}

// Validate checks if the ledger format is valid
func (lf *LedgerFormat) Validate() error {
	if strings.TrimSpace(lf.Name) == "" {
		return fmt.Errorf("format name cannot be empty")
	}

	for _, column := range []string{ColumnID, ColumnAmount, ColumnType, ColumnDate} {
		if strings.TrimSpace(lf.GetColumnName(column)) == "" {
			return fmt.Errorf("%s column cannot be empty", column)
		}
	}

	if lf.Delimiter == '\n' || lf.Delimiter == '\r' || lf.Delimiter == '"' {
		return fmt.Errorf("invalid delimiter %q", lf.Delimiter)
	}

	return nil
}

// GetColumnName returns the actual column name, checking aliases first
func (lf *LedgerFormat) GetColumnName(standardName string) string {
	if alias, exists := lf.ColumnAliases[standardName]; exists {
		return alias
	}

	switch standardName {
	case ColumnID:
		return lf.IDColumn
	case ColumnFirm:
		return lf.FirmColumn
	case ColumnCounterparty:
		return lf.CounterpartyColumn
	case ColumnReference:
		return lf.ReferenceColumn
	case ColumnAmount:
		return lf.AmountColumn
	case ColumnCurrency:
		return lf.CurrencyColumn
	case ColumnType:
		return lf.TypeColumn
	case ColumnDate:
		return lf.DateColumn
	case ColumnDescription:
		return lf.DescriptionColumn
	default:
		return standardName
	}
}

// LedgerParserConfig holds configuration for parsing ledger CSV files
type LedgerParserConfig struct {
	Format *LedgerFormat

	// FirmID is used for rows without a firm column, e.g. a single firm's export
	FirmID string
	// DefaultCurrency is used for rows without a currency column
	DefaultCurrency string
}

// Validate checks if the ledger parser configuration is valid
func (c *LedgerParserConfig) Validate() error {
	if c.Format == nil {
		return fmt.Errorf("ledger format is required")
	}
	if err := c.Format.Validate(); err != nil {
		return err
	}
	if c.DefaultCurrency != "" {
		if _, err := models.NormalizeCurrency(c.DefaultCurrency); err != nil {
			return fmt.Errorf("default currency: %w", err)
		}
	}
	return nil
}

// DefaultLedgerParserConfig returns a configuration for the standard format
func DefaultLedgerParserConfig() *LedgerParserConfig {
	return &LedgerParserConfig{Format: StandardLedgerFormat}
}

// Predefined ledger export formats
var (
	// StandardLedgerFormat uses the field names of the JSON API
	StandardLedgerFormat = &LedgerFormat{
		Name:               "standard",
		IDColumn:           "id",
		FirmColumn:         "firmId",
		CounterpartyColumn: "counterpartyFirmId",
		ReferenceColumn:    "reference",
		AmountColumn:       "amount",
		CurrencyColumn:     "currency",
		TypeColumn:         "type",
		DateColumn:         "date",
		DescriptionColumn:  "description",
		HasHeader:          true,
		Delimiter:          ',',
		Description:        "Standard ledger export with ISO dates",
	}

	// ERPLedgerFormat matches the journal export of common ERP systems
	ERPLedgerFormat = &LedgerFormat{
		Name:               "erp",
		IDColumn:           "Entry No",
		FirmColumn:         "Company",
		CounterpartyColumn: "IC Partner",
		ReferenceColumn:    "Document No",
		AmountColumn:       "Amount",
		CurrencyColumn:     "Currency Code",
		TypeColumn:         "Dr/Cr",
		DateColumn:         "Posting Date",
		DescriptionColumn:  "Description",
		DateFormat:         "02.01.2006",
		HasHeader:          true,
		Delimiter:          ';',
		Description:        "ERP journal export with semicolon delimiter and DD.MM.YYYY dates",
	}
)

// GetLedgerFormat returns a predefined ledger format by name
func GetLedgerFormat(name string) *LedgerFormat {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "standard", "":
		return StandardLedgerFormat
	case "erp":
		return ERPLedgerFormat
	default:
		return nil
	}
}

// ListLedgerFormats returns all predefined ledger formats
func ListLedgerFormats() []*LedgerFormat {
	return []*LedgerFormat{
		StandardLedgerFormat,
		ERPLedgerFormat,
	}
}

// AutoDetectLedgerFormat picks the predefined format whose key columns all
// appear in headers, falling back to the standard format
func AutoDetectLedgerFormat(headers []string) *LedgerFormat {
	headerMap := make(map[string]bool)
	for _, header := range headers {
		headerMap[strings.ToLower(strings.TrimSpace(header))] = true
	}

	for _, format := range ListLedgerFormats() {
		matched := true
		for _, column := range []string{ColumnID, ColumnAmount, ColumnType, ColumnDate} {
			if !headerMap[strings.ToLower(format.GetColumnName(column))] {
				matched = false
				break
			}
		}
		if matched {
			return format
		}
	}

	return StandardLedgerFormat
}

// StreamingConfig holds configuration for batched parsing
type StreamingConfig struct {
	BatchSize       int  `json:"batch_size" mapstructure:"batch_size"`
	ContinueOnError bool `json:"continue_on_error" mapstructure:"continue_on_error"`
	MaxErrors       int  `json:"max_errors" mapstructure:"max_errors"`
}

// DefaultStreamingConfig returns a configuration with sensible defaults for streaming
func DefaultStreamingConfig() *StreamingConfig {
	return &StreamingConfig{
		BatchSize:       1000,
		ContinueOnError: true,
		MaxErrors:       100,
	}
}

// Validate checks if the streaming configuration is valid
func (sc *StreamingConfig) Validate() error {
	if sc.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", sc.BatchSize)
	}

	if sc.MaxErrors < 0 {
		return fmt.Errorf("max errors cannot be negative, got %d", sc.MaxErrors)
	}

	return nil
}
