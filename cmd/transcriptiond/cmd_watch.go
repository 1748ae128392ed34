package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// watchCmd streams progress for an already-running job. Since this
// process's store is private to it, watch only ever sees a job if it was
// submitted by this same invocation's scheduler; as a standalone
// invocation against a fresh process it reports "not found" (§6.1 notes
// this as the accepted limitation of an in-memory, single-process engine).
func watchCmd(env *env) *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:     "watch <job-id>",
		Short:   "Stream progress for a job id known to this process",
		Example: `  transcriptiond watch 5b1f...`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutputFormat(outputFormat); err != nil {
				return err
			}

			jobID := args[0]
			if _, err := env.scheduler.GetJob(jobID); err != nil {
				return fmt.Errorf("watch %s: %w", jobID, err)
			}
			sub := env.scheduler.Subscribe(jobID)
			if err := streamUntilTerminal(cmd, sub); err != nil {
				return err
			}
			return printTranscript(cmd, env, jobID, outputFormat)
		},
	}

	cmd.Flags().StringVar(&outputFormat, "format", "text", "transcript output format: text, json, srt, or vtt")
	return cmd
}
