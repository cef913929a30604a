package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pricedock/pricedock/internal/config"
	"github.com/pricedock/pricedock/internal/models"
	"github.com/pricedock/pricedock/internal/orchestrator"
)

var (
	createSupplierID   string
	createSupplierName string
	createKind         string
	createLocator      string
	createCurrency     string
	createDelimiter    string
	createUseML        bool
	createFromFile     string
	createWatch        bool
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create one or more ingestion jobs",
	Long: `Create an ingestion job for a single supplier source, or a batch of jobs
from a YAML sources file.

Examples:
  pricedock create --supplier acme --kind direct-url --locator https://acme.example/price.xlsx
  pricedock create --from sources.yaml`,
	RunE: runCreate,
}

func init() {
	createCmd.Flags().StringVar(&createSupplierID, "supplier", "", "supplier id")
	createCmd.Flags().StringVar(&createSupplierName, "supplier-name", "", "human-readable supplier name")
	createCmd.Flags().StringVar(&createKind, "kind", "", "source kind: hosted-spreadsheet, direct-url, local-copy")
	createCmd.Flags().StringVar(&createLocator, "locator", "", "source locator (URL, share link, or path)")
	createCmd.Flags().StringVar(&createCurrency, "currency", "", "default ISO 4217 currency for unannotated prices")
	createCmd.Flags().StringVar(&createDelimiter, "delimiter", "", "composite field delimiter (default |)")
	createCmd.Flags().BoolVar(&createUseML, "ml", false, "enable embedding-based catalog matching")
	createCmd.Flags().StringVar(&createFromFile, "from", "", "YAML sources file for batch creation")
	createCmd.Flags().BoolVarP(&createWatch, "watch", "w", false, "watch job progress after creation")
	rootCmd.AddCommand(createCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if createFromFile != "" {
		return createFromSources(ctx, createFromFile)
	}

	if createSupplierID == "" || createKind == "" || createLocator == "" {
		return fmt.Errorf("--supplier, --kind, and --locator are required (or use --from)")
	}

	job, err := apiClient.CreateJob(ctx, orchestrator.CreateJobRequest{
		SupplierID:    createSupplierID,
		SupplierName:  createSupplierName,
		SourceKind:    models.SourceKind(createKind),
		SourceLocator: createLocator,
		Options: models.JobOptions{
			DefaultCurrency:    createCurrency,
			CompositeDelimiter: createDelimiter,
			UseMLProcessing:    createUseML,
		},
	})
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	fmt.Printf("Job created: %s\n", job.JobID)
	if createWatch {
		return RunJobProgress(apiClient, job)
	}
	fmt.Printf("Use 'pricedock jobs %s' to check status.\n", job.JobID)
	return nil
}

func createFromSources(ctx context.Context, path string) error {
	sources, err := config.LoadSources(path)
	if err != nil {
		return err
	}

	for _, src := range sources.Sources {
		job, err := apiClient.CreateJob(ctx, orchestrator.CreateJobRequest{
			SupplierID:    src.SupplierID,
			SupplierName:  src.SupplierName,
			SourceKind:    models.SourceKind(src.SourceKind),
			SourceLocator: src.SourceLocator,
			Options: models.JobOptions{
				DefaultCurrency:    src.DefaultCurrency,
				CompositeDelimiter: src.CompositeDelimiter,
				UseMLProcessing:    src.UseMLProcessing,
			},
		})
		if err != nil {
			return fmt.Errorf("create job for %s: %w", src.SupplierID, err)
		}
		fmt.Printf("Job created: %s (%s)\n", job.JobID, src.SupplierID)
	}
	return nil
}
