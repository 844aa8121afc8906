package cmd

import (
	"fmt"
	"os"

	"intercompany-reconciliation-service/cmd/reconciler/config"
	"intercompany-reconciliation-service/pkg/errors"
	"intercompany-reconciliation-service/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Inter-company reconciliation service",
	Long: `Reconciler pairs the ledger transactions two firms of a group booked against
each other, records correcting adjustments and walks every reconciliation
through draft, in_progress, completed and approved.

Examples:
  reconciler serve --config reconciler.yaml
  reconciler import --ledger-file ledger_a.csv --ledger-file ledger_b.csv
  reconciler import --ledger-file journal.csv --format erp --firm ACME-SA --currency SAR
  reconciler report --id 5b0c... --output-format csv --output-file january.csv
  reconciler --version`,
	Version:       getVersionString(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads the .env file, the config file and RECONCILER_* variables.
func initConfig() error {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	if err := config.Prepare(viper.GetViper(), cfgFile); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "config", cfgFile, err).
			WithSuggestion("Check that the config file exists and is valid YAML, JSON or TOML")
	}

	if viper.GetBool("verbose") && cfgFile != "" {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
	return nil
}

// loadConfig decodes the prepared configuration and installs the global logger
func loadConfig() (*config.Config, logger.Logger, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, errors.ConfigurationError(errors.CodeInvalidConfig, "config", cfgFile, err)
	}

	if viper.GetBool("verbose") {
		cfg.Log.Verbose()
	}

	log, err := logger.NewLogger(&cfg.Log)
	if err != nil {
		return nil, nil, errors.ConfigurationError(errors.CodeInvalidConfig, "log", cfg.Log, err)
	}
	logger.SetGlobalLogger(log)
	return cfg, log, nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
