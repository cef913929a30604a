package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var retryWatch bool

var retryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Retry a failed ingestion job",
	Long: `Retry a failed job. The job re-enters the downloading phase; a previously
downloaded file is reused when its checksum still verifies.`,
	Args: cobra.ExactArgs(1),
	RunE: runRetry,
}

func init() {
	retryCmd.Flags().BoolVarP(&retryWatch, "watch", "w", false, "watch job progress after retrying")
	rootCmd.AddCommand(retryCmd)
}

func runRetry(cmd *cobra.Command, args []string) error {
	job, err := apiClient.Retry(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}

	fmt.Printf("Job %s retrying (phase: %s)\n", job.JobID, job.Phase)
	if retryWatch {
		return RunJobProgress(apiClient, job)
	}
	return nil
}
