package cmd

import (
	"os"
	"path/filepath"

	"intercompany-reconciliation-service/internal/reporter"
	"intercompany-reconciliation-service/pkg/errors"

	"github.com/spf13/cobra"
)

// Flags for the report command
var (
	reportID     string
	outputFormat string
	outputFile   string
	maxItems     int
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render a stored reconciliation",
	Long: `Report renders one reconciliation with its matches, unmatched transactions
and adjustments.

Examples:
  reconciler report --id 3f2b0c1e-...
  reconciler report --id 3f2b0c1e-... --output-format csv --output-file january.csv`,

	PreRunE: validateReportFlags,
	RunE:    runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVar(&reportID, "id", "", "reconciliation ID (required)")
	reportCmd.Flags().StringVarP(&outputFormat, "output-format", "f", "console", "output format: console, json, csv")
	reportCmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "output file path (default: stdout)")
	reportCmd.Flags().IntVar(&maxItems, "max-items", 20, "console rows per list, 0 for all")

	reportCmd.MarkFlagRequired("id")
}

func validateReportFlags(cmd *cobra.Command, args []string) error {
	if reportID == "" {
		return errors.ValidationError(errors.CodeMissingField, "id", "", nil)
	}
	if !reporter.OutputFormat(outputFormat).IsValid() {
		return errors.ValidationError(errors.CodeInvalidValue, "output-format", outputFormat, nil).
			WithSuggestion("Use one of: console, json, csv")
	}
	if maxItems < 0 {
		return errors.ValidationError(errors.CodeOutOfRange, "max-items", maxItems, nil)
	}
	if outputFile != "" {
		if dir := filepath.Dir(outputFile); dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return errors.FileError(errors.CodeFileNotFound, dir, err).
					WithSuggestion("Create the output directory first")
			}
		}
	}
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
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

	rec, err := svc.Get(cmd.Context(), reportID)
	if err != nil {
		return err
	}

	reportConfig := reporter.DefaultReportConfig()
	reportConfig.Format = reporter.OutputFormat(outputFormat)
	reportConfig.MaxListItems = maxItems
	generator, err := reporter.NewSafeReportGenerator(reportConfig, log)
	if err != nil {
		return err
	}

	output := cmd.OutOrStdout()
	if outputFile != "" {
		file, err := os.Create(outputFile)
		if err != nil {
			return errors.FileError(errors.CodeFilePermission, outputFile, err)
		}
		defer file.Close()
		output = file
	}

	return generator.GenerateReportSafely(rec, output)
}
