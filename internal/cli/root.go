// Package cli provides the command-line interface for pricedock.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/pricedock/pricedock/internal/client"
	"github.com/pricedock/pricedock/internal/config"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	serverURL string
	verbose   bool

	cfg       config.Config
	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "pricedock",
	Short: "Supplier price-list ingestion",
	Long: `Pricedock ingests supplier price lists from hosted spreadsheets, URLs, or
local files, parses them with a two-stage LLM pipeline, and reconciles the
extracted records against the product catalog.

Jobs run asynchronously on the pricedockd daemon; the CLI creates them and
tracks their progress.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		if serverURL == "" {
			serverURL = "http://localhost" + cfg.OrchestratorAddr
		}
		apiClient = client.New(serverURL)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "orchestrator base URL (default http://localhost:8490)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
