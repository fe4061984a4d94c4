package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var configPath string

var rootCmd = &cobra.Command{
	Use:   "mirador-audit",
	Short: "mirador-audit extracts vulnerabilities from security audit reports",
	Long: `mirador-audit turns free-form audit reports into structured findings.

Each run sends the report through three language-model agents: a parser that
locates finding sections, an extractor that copies every finding out verbatim,
and a classifier that assigns severity, tags and category. The results are
reconciled by section id; a failed classification degrades findings to a
default classification instead of failing the run.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config (default $MIRADOR_AUDIT_CONFIG)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(promptsCmd)
}
