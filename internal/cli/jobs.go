package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pricedock/pricedock/internal/models"
)

var jobsLimit int

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List or inspect ingestion jobs",
	Long: `List recent ingestion jobs or inspect a specific job by ID.

Examples:
  pricedock jobs           # List recent jobs
  pricedock jobs abc123    # Show details for job abc123`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

func init() {
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 50, "maximum number of jobs to list")
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if len(args) == 1 {
		return showJob(ctx, args[0])
	}
	return listJobs(ctx)
}

func listJobs(ctx context.Context) error {
	jobs, err := apiClient.ListJobs(ctx, jobsLimit)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-36s %-14s %-12s %-10s %s\n", "ID", "SUPPLIER", "PHASE", "PROGRESS", "CREATED")
	fmt.Println("--------------------------------------------------------------------------------------")
	for _, job := range jobs {
		progress := ""
		if job.Analysis.ItemsTotal > 0 {
			progress = fmt.Sprintf("%d/%d", job.Analysis.ItemsProcessed, job.Analysis.ItemsTotal)
		} else if job.Phase == models.PhaseDownloading && job.Download.BytesTotal > 0 {
			progress = fmt.Sprintf("%d%%", 100*job.Download.BytesTransferred/job.Download.BytesTotal)
		}
		fmt.Printf("%-36s %-14s %-12s %-10s %s\n",
			job.JobID, job.SupplierID, job.Phase, progress, job.CreatedAt.Format("01-02 15:04"))
	}
	return nil
}

func showJob(ctx context.Context, id string) error {
	job, err := apiClient.GetJob(ctx, id)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}

	fmt.Printf("Job: %s\n", job.JobID)
	fmt.Printf("  Supplier: %s", job.SupplierID)
	if job.SupplierName != "" {
		fmt.Printf(" (%s)", job.SupplierName)
	}
	fmt.Println()
	fmt.Printf("  Phase: %s\n", job.Phase)
	fmt.Printf("  Status: %s\n", job.Status)
	fmt.Printf("  Source: %s %s\n", job.SourceKind, job.SourceLocator)
	if job.FileReference != "" {
		fmt.Printf("  File: %s (%s, %d bytes)\n", job.FileReference, job.FileType, job.FileSize)
	}
	fmt.Printf("  Created: %s\n", job.CreatedAt.Format(time.RFC3339))
	if job.CompletedAt != nil {
		fmt.Printf("  Completed: %s\n", job.CompletedAt.Format(time.RFC3339))
		if job.StartedAt != nil {
			fmt.Printf("  Duration: %s\n", job.CompletedAt.Sub(*job.StartedAt).Round(time.Second))
		}
	}
	if job.RetryCount > 0 {
		fmt.Printf("  Retries: %d/%d\n", job.RetryCount, job.MaxRetries)
	}

	if job.Error != "" {
		fmt.Printf("  Error: %s\n", job.Error)
		for _, detail := range job.ErrorDetail {
			fmt.Printf("    - %s\n", detail)
		}
	}

	if job.Analysis.ItemsTotal > 0 {
		fmt.Println("\nAnalysis:")
		fmt.Printf("  Items: %d/%d\n", job.Analysis.ItemsProcessed, job.Analysis.ItemsTotal)
		fmt.Printf("  Matched: %d\n", job.Analysis.MatchesFound)
		fmt.Printf("  Queued for review: %d\n", job.Analysis.ReviewQueued)
		fmt.Printf("  Row errors: %d\n", job.Analysis.ErrorCount)
	}

	if m := job.Metrics; m != nil {
		fmt.Println("\nParsing:")
		fmt.Printf("  Rows: %d total, %d parsed, %d skipped, %d errors\n",
			m.TotalRows, m.ParsedRows, m.SkippedRows, m.ErrorRows)
		fmt.Printf("  Tokens: %d structure, %d extraction\n", m.StageATokens, m.StageBTokens)
		fmt.Printf("  Duration: %dms\n", m.DurationMs)
	}
	return nil
}
