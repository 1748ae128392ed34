package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Acclerate/video-transcriber/internal/engine"
	"github.com/Acclerate/video-transcriber/internal/format"
	"github.com/Acclerate/video-transcriber/internal/progress"
)

// transcriptFormats lists the --format values accepted by submit and watch.
var transcriptFormats = []string{"text", "json", "srt", "vtt"}

// submitCmd submits one file and streams its progress to stdout until the
// job reaches a terminal state, then exits with a code derived from the
// result (§6.1). A long-lived operator surface would instead hand back a
// job id immediately; this process has nowhere else to keep that id alive.
func submitCmd(env *env) *cobra.Command {
	var (
		modelID        string
		language       string
		gpu            string
		chunkSeconds   float64
		overlapSeconds float64
		wordTimestamps bool
		outputFormat   string
	)

	cmd := &cobra.Command{
		Use:   "submit <file>",
		Short: "Submit a file for transcription and wait for the result",
		Example: `  transcriptiond submit lecture.mp4
  transcriptiond submit call.wav --gpu off --language en`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutputFormat(outputFormat); err != nil {
				return err
			}

			opts := engine.DefaultOptions()
			opts.ModelID = modelID
			opts.Language = language
			opts.WantWordTimestamps = wordTimestamps
			hint, err := parseGPUHint(gpu)
			if err != nil {
				return err
			}
			opts.UseGPU = hint
			if chunkSeconds > 0 {
				opts.Chunking.ChunkSeconds = chunkSeconds
			}
			if overlapSeconds > 0 {
				opts.Chunking.OverlapSeconds = overlapSeconds
			}

			jobID, err := env.scheduler.Submit(args[0], opts)
			if err != nil {
				return err
			}

			sub := env.scheduler.Subscribe(jobID)
			fmt.Fprintf(cmd.OutOrStdout(), "job %s submitted\n", jobID)
			if err := streamUntilTerminal(cmd, sub); err != nil {
				return err
			}
			return printTranscript(cmd, env, jobID, outputFormat)
		},
	}

	cmd.Flags().StringVar(&modelID, "model", "", "backend model id (defaults to the configured model)")
	cmd.Flags().StringVar(&language, "language", "", "source language hint, empty for auto-detect")
	cmd.Flags().StringVar(&gpu, "gpu", "auto", "accelerator hint: on, off, or auto")
	cmd.Flags().Float64Var(&chunkSeconds, "chunk-seconds", 0, "chunk window length in seconds (default 300)")
	cmd.Flags().Float64Var(&overlapSeconds, "overlap-seconds", 0, "chunk overlap in seconds (default 2)")
	cmd.Flags().BoolVar(&wordTimestamps, "word-timestamps", false, "request per-word timestamps when the backend supports them")
	cmd.Flags().StringVar(&outputFormat, "format", "text", "transcript output format: text, json, srt, or vtt")

	return cmd
}

func parseGPUHint(v string) (engine.GPUHint, error) {
	switch v {
	case "", "auto":
		return engine.GPUAuto, nil
	case "on":
		return engine.GPUOn, nil
	case "off":
		return engine.GPUOff, nil
	default:
		return engine.GPUAuto, fmt.Errorf("invalid argument %q for --gpu: want on, off, or auto", v)
	}
}

// streamUntilTerminal prints every progress event for sub to stdout and
// returns once a terminal event arrives: nil on KindResult, the job's
// JobError on KindError.
func streamUntilTerminal(cmd *cobra.Command, sub *progress.Subscription) error {
	out := cmd.OutOrStdout()
	for ev := range sub.Events() {
		switch ev.Kind {
		case progress.KindProgress:
			fmt.Fprintf(out, "%3d%%  %-12s %s\n", ev.Percent, ev.Phase, ev.Message)
		case progress.KindResult:
			fmt.Fprintln(out, "job completed")
			return nil
		case progress.KindError:
			return &engine.JobError{Kind: engine.ErrorKind(ev.ErrKind), Message: ev.Message}
		}
	}
	return nil
}

func validateOutputFormat(f string) error {
	for _, want := range transcriptFormats {
		if f == want {
			return nil
		}
	}
	return fmt.Errorf("invalid argument %q for --format: want one of %v", f, transcriptFormats)
}

// printTranscript fetches jobID's finished transcript and renders it to
// stdout in the requested format.
func printTranscript(cmd *cobra.Command, env *env, jobID, outputFormat string) error {
	job, err := env.scheduler.GetJob(jobID)
	if err != nil {
		return err
	}
	if job.Transcript == nil {
		return nil
	}

	out := cmd.OutOrStdout()
	switch outputFormat {
	case "json":
		doc, err := format.JSON(*job.Transcript)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(doc))
	case "srt":
		fmt.Fprint(out, format.SRT(*job.Transcript))
	case "vtt":
		fmt.Fprint(out, format.VTT(*job.Transcript))
	default:
		fmt.Fprint(out, format.Text(*job.Transcript))
	}
	return nil
}
