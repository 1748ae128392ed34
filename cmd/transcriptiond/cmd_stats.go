package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Acclerate/video-transcriber/internal/format"
)

// statsCmd prints the scheduler's process-wide counters (§6).
func statsCmd(env *env) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print scheduler-wide job counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := env.scheduler.Stats()
			out := cmd.OutOrStdout()
			avg := time.Duration(s.AverageProcessingSecs * float64(time.Second))
			fmt.Fprintf(out, "active_workers   %d\n", s.ActiveWorkers)
			fmt.Fprintf(out, "queue_depth      %d\n", s.QueueDepth)
			fmt.Fprintf(out, "total_processed  %d\n", s.TotalProcessed)
			fmt.Fprintf(out, "total_success    %d\n", s.TotalSuccess)
			fmt.Fprintf(out, "total_failed     %d\n", s.TotalFailed)
			fmt.Fprintf(out, "avg_process_time %s\n", format.DurationHuman(avg))
			for state, count := range s.ByState {
				fmt.Fprintf(out, "state[%s]  %d\n", state, count)
			}
			return nil
		},
	}
}
