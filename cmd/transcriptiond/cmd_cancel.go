package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// cancelCmd requests cancellation of a job id known to this process,
// subject to the same single-process limitation as watch (§6.1).
func cancelCmd(env *env) *cobra.Command {
	return &cobra.Command{
		Use:     "cancel <job-id>",
		Short:   "Cancel a job id known to this process",
		Example: `  transcriptiond cancel 5b1f...`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := args[0]
			if err := env.scheduler.Cancel(jobID); err != nil {
				return fmt.Errorf("cancel %s: %w", jobID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s cancellation requested\n", jobID)
			return nil
		},
	}
}
