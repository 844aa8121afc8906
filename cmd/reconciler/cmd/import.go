package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"intercompany-reconciliation-service/internal/models"
	"intercompany-reconciliation-service/internal/parsers"
	"intercompany-reconciliation-service/internal/reconciler"
	"intercompany-reconciliation-service/pkg/errors"
	"intercompany-reconciliation-service/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the import command
var (
	ledgerFiles     []string
	ledgerFormat    string
	importFirmID    string
	importCurrency  string
	importBatchSize int
	skipInvalid     bool
)

// importCmd loads firm ledger exports into the configured store
var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import firm ledger CSV exports",
	Long: `Import reads one or more ledger CSV exports and records their transactions
so reconciliations can pull them in when they are created or synced.

Transactions that are already stored are skipped, so re-importing a file is safe.
The ledger format is detected from the header row unless --format is given.

Examples:
  # Import two firm exports into a SQLite database
  RECONCILER_STORAGE_DRIVER=sqlite reconciler import --ledger-file firm-a.csv --ledger-file firm-b.csv

  # ERP export without a firm column
  reconciler import --ledger-file erp.csv --format erp --firm FIRM-A --currency SAR

  # Keep going past invalid rows
  reconciler import --ledger-file messy.csv --skip-invalid`,

	PreRunE: validateImportFlags,
	RunE:    runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringSliceVarP(&ledgerFiles, "ledger-file", "l", []string{}, "ledger CSV file to import (repeatable)")
	importCmd.Flags().StringVar(&ledgerFormat, "format", "", "ledger format: standard, erp (default: detect)")
	importCmd.Flags().StringVar(&importFirmID, "firm", "", "firm ID for rows without a firm column")
	importCmd.Flags().StringVar(&importCurrency, "currency", "", "currency for rows without a currency column")
	importCmd.Flags().IntVar(&importBatchSize, "batch-size", 1000, "transactions stored per batch")
	importCmd.Flags().BoolVar(&skipInvalid, "skip-invalid", false, "skip invalid rows instead of stopping")

	importCmd.MarkFlagRequired("ledger-file")
}

func validateImportFlags(cmd *cobra.Command, args []string) error {
	if len(ledgerFiles) == 0 {
		return errors.ValidationError(errors.CodeMissingField, "ledger-file", "", nil)
	}
	for _, path := range ledgerFiles {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return errors.FileError(errors.CodeFileNotFound, path, err)
			}
			return errors.FileError(errors.CodeFilePermission, path, err)
		}
		if info.IsDir() {
			return errors.FileError(errors.CodeInvalidFormat, path, fmt.Errorf("%s is a directory", path))
		}
	}

	if ledgerFormat != "" && parsers.GetLedgerFormat(ledgerFormat) == nil {
		return errors.ValidationError(errors.CodeInvalidValue, "format", ledgerFormat, nil).
			WithSuggestion("Use one of: standard, erp")
	}
	if importBatchSize <= 0 {
		return errors.ValidationError(errors.CodeOutOfRange, "batch-size", importBatchSize, nil)
	}
	return nil
}

// fileImport tallies one imported ledger file
type fileImport struct {
	Path     string
	Format   string
	Parse    *parsers.ParseStats
	Inserted int
	Skipped  int
	Possible int
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	svc, err := newService(cfg, st, log)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, path := range ledgerFiles {
		result, err := importFile(cmd, svc, path, log)
		if result != nil {
			printFileImport(out, result)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func importFile(cmd *cobra.Command, svc *reconciler.Service, path string, log logger.Logger) (*fileImport, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.FileError(errors.CodeFileNotFound, path, err)
	}
	defer file.Close()

	format := parsers.GetLedgerFormat(ledgerFormat)
	if ledgerFormat == "" {
		format, err = parsers.DetectLedgerFormat(file)
		if err != nil {
			return nil, err
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return nil, errors.FileError(errors.CodeInvalidFormat, path, err)
		}
	}

	parser, err := parsers.NewLedgerParser(&parsers.LedgerParserConfig{
		Format:          format,
		FirmID:          importFirmID,
		DefaultCurrency: strings.ToUpper(importCurrency),
	})
	if err != nil {
		return nil, err
	}

	result := &fileImport{Path: path, Format: format.Name}
	streamConfig := &parsers.StreamingConfig{
		BatchSize:       importBatchSize,
		ContinueOnError: skipInvalid,
	}

	stats, err := parser.ParseStream(cmd.Context(), file, path, streamConfig, func(batch []*models.LedgerTransaction) error {
		imported, err := svc.ImportTransactions(cmd.Context(), batch)
		if err != nil {
			return err
		}
		result.Inserted += imported.Inserted
		result.Skipped += imported.Skipped
		result.Possible += len(imported.Duplicates)
		return nil
	})
	result.Parse = stats
	if err != nil {
		return result, err
	}

	log.WithFields(logger.Fields{
		"file":     path,
		"format":   format.Name,
		"inserted": result.Inserted,
		"skipped":  result.Skipped,
	}).Info("Ledger file imported")
	return result, nil
}

func printFileImport(w io.Writer, r *fileImport) {
	fmt.Fprintf(w, "%s (%s)\n", r.Path, r.Format)
	if r.Parse != nil {
		fmt.Fprintf(w, "  %s\n", r.Parse)
	}
	fmt.Fprintf(w, "  Inserted: %d, already stored: %d\n", r.Inserted, r.Skipped)
	if r.Possible > 0 {
		fmt.Fprintf(w, "  Possible duplicate groups: %d\n", r.Possible)
	}
	if r.Parse != nil && r.Parse.HasErrors() {
		fmt.Fprintln(w, FormatRowErrors(r.Parse.GetSampleErrors(10), r.Parse.ErrorCount))
	}
	if viper.GetBool("verbose") && r.Parse != nil {
		fmt.Fprintf(w, "  Lines read: %d\n", r.Parse.TotalLines)
	}
}
