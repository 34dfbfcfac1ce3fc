// Warden is a guarded action authorization engine for cloud operations.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jkaninda/warden/internal/config"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Warden authorizes and executes guarded cloud actions.",
	Long: `Warden sits between operators (or an LLM that parses their requests) and a
cloud resource backend. Every action is checked against a per-hour budget,
requires a recent backup before irreversible changes, and must be confirmed
with a single-use token when it is high risk. Every decision is audited.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath(), "path to config file (or WARDEN_CONFIG env)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error (or WARDEN_LOG_LEVEL env)")
	rootCmd.AddCommand(serveCmd, execCmd, queryCmd, auditCmd, pricingCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(ExitFailure)
	}
}
