package commands

import (
	"fmt"
	"os"

	"github.com/Sternrassler/learnforge/internal/printer"
	"github.com/Sternrassler/learnforge/pkg/config"
	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string
)

// configPath is the --config flag shared by every subcommand.
var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "learnforge",
	Short: "learnforge - serving core for AI-generated learning content",
	Long: `learnforge serves AI-generated topic breakdowns and explanations.

Every request passes per-identity admission quotas, is answered from a
two-tier cache where possible, and fans uncached items out to the
generation provider with bounded concurrency and retries. Generated
content is scored by a quality gate before it is cached.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	// Enable strict flag parsing - unknown flags will cause an error
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute runs the root command. It is called by main.main().
func Execute() error {
	// Errors are printed by the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	defaultPath := os.Getenv("LEARNFORGE_CONFIG")
	if defaultPath == "" {
		defaultPath = "learnforge.yaml"
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultPath, "path to the YAML configuration (env LEARNFORGE_CONFIG)")
}

func newPrinter(cmd *cobra.Command) *printer.Printer {
	return printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// loadConfig loads and validates the configuration, printing a formatted
// error on failure.
func loadConfig(p *printer.Printer) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, p.ErrorWithContext("Invalid configuration", err,
			map[string]string{"config": configPath},
			"Fix the reported fields and run 'learnforge config validate'",
		)
	}
	return cfg, nil
}
