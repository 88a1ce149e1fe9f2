// Package main is the entry point for the extract CLI, which runs
// extractions against a staging backend without the HTTP server.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	_ "github.com/JonMunkholm/extractor/internal/core/formats" // Register all formats
	"github.com/JonMunkholm/extractor/internal/logging"
)

// version is set at build time via ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "extract",
	Short: "Run fisheries data extractions from the command line",
	Long: `extract builds the sheets of an extraction format (RDB, ICES,
SURVIVAL_TEST, STRAT, VESSEL or an aggregated product) into staging
tables, prints them, and releases them.

Storage is selected with --backend: memory and sqlite are seeded from a
YAML fixture, postgres reads the source views of an existing database.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.SetupWriter(os.Stderr, viper.GetString("log_level"), viper.GetString("log_format"))
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of extract",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("extract %s\n", version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default: ./extract.yaml or ~/.config/extract/config.yaml)")
	flags.String("backend", "memory", "staging backend: memory, sqlite or postgres")
	flags.String("fixture", "", "YAML dataset seeded into the memory or sqlite backend")
	flags.String("sqlite-path", "", "SQLite database file (default: a temporary file)")
	flags.String("database-url", "", "PostgreSQL connection string for the postgres backend")
	flags.String("schema", "extraction_staging", "PostgreSQL schema holding staging tables")
	flags.String("log-level", "warn", "log level: debug, info, warn, error")
	flags.String("log-format", "text", "log format: text or json")

	for _, name := range []string{"backend", "fixture", "sqlite-path", "database-url", "schema", "log-level", "log-format"} {
		_ = viper.BindPFlag(flagKey(name), flags.Lookup(name))
	}

	rootCmd.AddCommand(versionCmd)
}

// flagKey maps a flag name to its viper key, so --sqlite-path is
// EXTRACT_SQLITE_PATH in the environment.
func flagKey(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("extract")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "extract"))
		}
	}

	viper.SetEnvPrefix("EXTRACT")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
