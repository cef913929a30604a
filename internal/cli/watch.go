package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Watch a running job's progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := apiClient.GetJob(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("get job: %w", err)
		}
		return RunJobProgress(apiClient, job)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
