package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

// flags shared by every command; empty values leave the loaded config alone
var (
	configPath  string
	dbDriver    string
	dbPath      string
	databaseURL string
	logLevel    string
	logFormat   string
)

var rootCmd = &cobra.Command{
	Use:   "devmemory",
	Short: "Persistent semantic memory for AI coding agents",
	Long: "devmemory stores development context with embeddings, a naming registry\n" +
		"and a technical decision ledger, and serves them to agents over MCP.\n\n" +
		"Configuration comes from an optional YAML file, .env, DEVMEMORY_* environment\n" +
		"variables and these flags, in increasing precedence.",
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "path to a YAML config file")
	flags.StringVar(&dbDriver, "db-driver", "", "database driver (sqlite or postgres)")
	flags.StringVar(&dbPath, "db", "", "SQLite database file")
	flags.StringVar(&databaseURL, "database-url", "", "Postgres connection URL")
	flags.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", "", "log format (json or console)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(embedCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
