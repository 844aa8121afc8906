package parsers

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"intercompany-reconciliation-service/internal/models"
	"intercompany-reconciliation-service/pkg/errors"
	"intercompany-reconciliation-service/pkg/logger"
)

// LedgerParser handles parsing of firm ledger CSV exports
type LedgerParser struct {
	*BaseParser
	config *LedgerParserConfig
	logger logger.Logger
}

// NewLedgerParser creates a new LedgerParser with the given configuration
func NewLedgerParser(config *LedgerParserConfig) (*LedgerParser, error) {
	if config == nil {
		config = DefaultLedgerParserConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "ledger_parser_config", config.Format, err).
			WithSuggestion("Check the ledger format configuration values")
	}

	parseConfig := DefaultParseConfig()
	parseConfig.HasHeader = config.Format.HasHeader
	parseConfig.Delimiter = config.Format.Delimiter

	log := logger.GetGlobalLogger().WithComponent("ledger_parser")
	log.WithFields(logger.Fields{
		"format":    config.Format.Name,
		"firm_id":   config.FirmID,
		"delimiter": string(config.Format.Delimiter),
	}).Debug("Created ledger parser")

	return &LedgerParser{
		BaseParser: NewBaseParser(parseConfig),
		config:     config,
		logger:     log,
	}, nil
}

// ParseFile parses a ledger CSV file
func (lp *LedgerParser) ParseFile(ctx context.Context, filePath string) ([]*models.LedgerTransaction, *ParseStats, error) {
	file, _, err := lp.OpenFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	return lp.Parse(ctx, file, filePath)
}

// Parse reads every ledger transaction from r. Invalid rows are reported in
// the returned stats; an error means the input was unreadable or had more
// invalid rows than the default streaming limit allows.
func (lp *LedgerParser) Parse(ctx context.Context, r io.Reader, source string) ([]*models.LedgerTransaction, *ParseStats, error) {
	var transactions []*models.LedgerTransaction
	stats, err := lp.parse(ctx, r, source, func(tx *models.LedgerTransaction) error {
		transactions = append(transactions, tx)
		return nil
	}, DefaultStreamingConfig())
	return transactions, stats, err
}

// ParseTransactionsCallback receives one batch of parsed transactions
type ParseTransactionsCallback func([]*models.LedgerTransaction) error

// ParseStream parses r in batches and hands each batch to callback. Parsing
// stops at the first callback error or once MaxErrors bad rows were seen.
func (lp *LedgerParser) ParseStream(ctx context.Context, r io.Reader, source string, streamConfig *StreamingConfig, callback ParseTransactionsCallback) (*ParseStats, error) {
	if streamConfig == nil {
		streamConfig = DefaultStreamingConfig()
	}
	if err := streamConfig.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "streaming_config", streamConfig, err)
	}

	batch := make([]*models.LedgerTransaction, 0, streamConfig.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := callback(batch); err != nil {
			return fmt.Errorf("callback error: %w", err)
		}
		batch = make([]*models.LedgerTransaction, 0, streamConfig.BatchSize)
		return nil
	}

	stats, err := lp.parse(ctx, r, source, func(tx *models.LedgerTransaction) error {
		batch = append(batch, tx)
		if len(batch) >= streamConfig.BatchSize {
			return flush()
		}
		return nil
	}, streamConfig)
	if err != nil {
		return stats, err
	}
	return stats, flush()
}

func (lp *LedgerParser) parse(ctx context.Context, r io.Reader, source string, emit func(*models.LedgerTransaction) error, streamConfig *StreamingConfig) (*ParseStats, error) {
	lp.logger.WithFields(logger.Fields{
		"source": source,
		"format": lp.config.Format.Name,
	}).Info("Starting ledger parsing")

	reader := lp.NewReader(r)
	parseCtx := NewParseContext(ctx, source)
	stats := NewParseStats()

	if err := lp.ReadHeaders(reader, parseCtx, lp.getRequiredHeaders()); err != nil {
		return stats, err
	}

	for {
		record, err := lp.ReadRecord(reader, parseCtx)
		if err == io.EOF {
			break
		}
		if err != nil {
			parseErr, ok := err.(*ParseError)
			if !ok {
				stats.TotalLines = parseCtx.LineNumber
				return stats, err
			}
			stats.AddError(parseErr)
			if stop := lp.tooManyErrors(stats, streamConfig); stop != nil {
				return stats, stop
			}
			continue
		}

		stats.RecordsParsed++
		tx, parseErr := lp.parseRecord(record, parseCtx)
		if parseErr != nil {
			stats.AddError(parseErr)
			if stop := lp.tooManyErrors(stats, streamConfig); stop != nil {
				return stats, stop
			}
			continue
		}

		stats.RecordsValid++
		if err := emit(tx); err != nil {
			stats.TotalLines = parseCtx.LineNumber
			return stats, err
		}
	}

	stats.TotalLines = parseCtx.LineNumber

	lp.logger.WithFields(logger.Fields{
		"source":         source,
		"total_lines":    stats.TotalLines,
		"records_parsed": stats.RecordsParsed,
		"records_valid":  stats.RecordsValid,
		"error_count":    stats.ErrorCount,
	}).Info("Ledger parsing completed")

	if stats.HasErrors() {
		lp.logger.WithField("sample_errors", stats.GetSampleErrors(3)).Warn("Encountered errors during parsing")
	}

	return stats, nil
}

func (lp *LedgerParser) tooManyErrors(stats *ParseStats, streamConfig *StreamingConfig) error {
	if !streamConfig.ContinueOnError || (streamConfig.MaxErrors > 0 && stats.ErrorCount >= streamConfig.MaxErrors) {
		last := stats.Errors[len(stats.Errors)-1]
		return errors.Wrap(last, errors.CategoryParse, errors.CodeInvalidData,
			fmt.Sprintf("parsing stopped after %d invalid rows", stats.ErrorCount))
	}
	return nil
}

// getRequiredHeaders returns the header names every file must carry
func (lp *LedgerParser) getRequiredHeaders() []string {
	required := []string{
		lp.config.Format.GetColumnName(ColumnID),
		lp.config.Format.GetColumnName(ColumnAmount),
		lp.config.Format.GetColumnName(ColumnType),
		lp.config.Format.GetColumnName(ColumnDate),
	}
	if lp.config.FirmID == "" {
		required = append(required, lp.config.Format.GetColumnName(ColumnFirm))
	}
	if lp.config.DefaultCurrency == "" {
		required = append(required, lp.config.Format.GetColumnName(ColumnCurrency))
	}
	return required
}

func (lp *LedgerParser) field(record []string, parseCtx *ParseContext, column string) string {
	return lp.GetFieldValue(record, parseCtx, lp.config.Format.GetColumnName(column))
}

// parseRecord creates a LedgerTransaction from a CSV record
func (lp *LedgerParser) parseRecord(record []string, parseCtx *ParseContext) (*models.LedgerTransaction, *ParseError) {
	fail := func(column, value, message string, err error) *ParseError {
		name := lp.config.Format.GetColumnName(column)
		return &ParseError{
			Line:    parseCtx.LineNumber,
			Column:  parseCtx.GetColumnIndex(name),
			Field:   name,
			Value:   value,
			Message: message,
			Err:     err,
		}
	}

	tx := &models.LedgerTransaction{
		ID:                 lp.field(record, parseCtx, ColumnID),
		FirmID:             lp.field(record, parseCtx, ColumnFirm),
		CounterpartyFirmID: lp.field(record, parseCtx, ColumnCounterparty),
		Reference:          lp.field(record, parseCtx, ColumnReference),
		Description:        lp.field(record, parseCtx, ColumnDescription),
	}

	if tx.ID == "" {
		return nil, fail(ColumnID, "", "transaction ID is required", nil)
	}
	if tx.FirmID == "" {
		tx.FirmID = lp.config.FirmID
	}
	if tx.FirmID == "" {
		return nil, fail(ColumnFirm, "", "firm is required", nil)
	}

	amountStr := lp.field(record, parseCtx, ColumnAmount)
	amount, err := models.ParseDecimalFromString(amountStr)
	if err != nil {
		return nil, fail(ColumnAmount, amountStr, "invalid amount", err)
	}
	tx.Amount = amount

	currency := lp.field(record, parseCtx, ColumnCurrency)
	if currency == "" {
		currency = lp.config.DefaultCurrency
	}
	if tx.Currency, err = models.NormalizeCurrency(currency); err != nil {
		return nil, fail(ColumnCurrency, currency, "invalid currency", err)
	}

	typeStr := lp.field(record, parseCtx, ColumnType)
	if tx.Type, err = models.ParseTransactionType(typeStr); err != nil {
		return nil, fail(ColumnType, typeStr, "invalid transaction type", err)
	}

	dateStr := lp.field(record, parseCtx, ColumnDate)
	if tx.Date, err = lp.parseDate(dateStr); err != nil {
		return nil, fail(ColumnDate, dateStr, "invalid date", err)
	}

	if err := tx.Validate(); err != nil {
		return nil, fail(ColumnID, tx.ID, "transaction validation failed", err)
	}

	return tx, nil
}

func (lp *LedgerParser) parseDate(value string) (time.Time, error) {
	if format := lp.config.Format.DateFormat; format != "" {
		if t, err := time.Parse(format, strings.TrimSpace(value)); err == nil {
			return t.UTC(), nil
		}
	}
	return models.ParseTimeWithFormats(value)
}

// DetectLedgerFormat reads the header row of r and returns the matching
// predefined format
func DetectLedgerFormat(r io.Reader) (*LedgerFormat, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, errors.FileError(errors.CodeInvalidFormat, "header", err)
	}
	line = strings.TrimPrefix(strings.TrimRight(line, "\r\n"), "\ufeff")
	if strings.TrimSpace(line) == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "file_content", "empty", nil).
			WithSuggestion("Ensure the file contains header and data rows")
	}

	for _, format := range ListLedgerFormats() {
		reader := csv.NewReader(strings.NewReader(line))
		reader.Comma = format.Delimiter
		headers, err := reader.Read()
		if err != nil {
			continue
		}
		if AutoDetectLedgerFormat(headers) == format {
			return format, nil
		}
	}
	return StandardLedgerFormat, nil
}
