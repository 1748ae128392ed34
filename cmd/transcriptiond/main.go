package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Acclerate/video-transcriber/internal/engine"
	"github.com/Acclerate/video-transcriber/internal/probe"
	"github.com/Acclerate/video-transcriber/internal/store"
)

// Injected at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

// Exit codes per the job failure taxonomy (§7).
const (
	ExitOK            = 0
	ExitGeneral       = 1
	ExitUsage         = 2
	ExitSetup         = 3
	ExitValidation    = 4
	ExitTranscription = 5
	ExitCancelled     = 130
	ExitInterrupt     = 130
)

func main() {
	// Load .env file if present (ignore error if missing).
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	env, err := newEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitSetup)
	}
	defer env.shutdown()

	rootCmd := &cobra.Command{
		Use:     "transcriptiond",
		Short:   "Submit, watch, and manage transcription jobs",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		// Silence Cobra's default error/usage printing; we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCmd.AddCommand(submitCmd(env))
	rootCmd.AddCommand(watchCmd(env))
	rootCmd.AddCommand(statsCmd(env))
	rootCmd.AddCommand(cancelCmd(env))

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an engine/store error to a process exit code.
func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	if errors.Is(err, context.Canceled) {
		return ExitInterrupt
	}

	if isCobraUsageError(err) {
		return ExitUsage
	}

	if errors.Is(err, engine.ErrInvalidInput) {
		return ExitValidation
	}
	if errors.Is(err, engine.ErrSchedulerShutdown) {
		return ExitSetup
	}

	var jobErr *engine.JobError
	if errors.As(err, &jobErr) {
		switch jobErr.Kind {
		case engine.ErrorInvalidInput, engine.ErrorNotFound, engine.ErrorNotAFile, engine.ErrorUnsupportedFormat:
			return ExitValidation
		case engine.ErrorBackendTransient, engine.ErrorBackendOOM, engine.ErrorBackendFatal, engine.ErrorPrepareFailed, engine.ErrorSplitFailed:
			return ExitTranscription
		case engine.ErrorCancelled:
			return ExitCancelled
		default:
			return ExitGeneral
		}
	}

	var notFound *store.ErrNotFound
	if errors.As(err, &notFound) {
		return ExitValidation
	}

	if errors.Is(err, probe.ErrNotFound) || errors.Is(err, probe.ErrNotAFile) ||
		errors.Is(err, probe.ErrUnsupportedFormat) {
		return ExitValidation
	}

	return ExitGeneral
}

// cobraUsageErrorPatterns lists error message substrings that indicate a
// Cobra usage/parsing error rather than a job-level failure.
var cobraUsageErrorPatterns = []string{
	"required flag",
	"unknown flag",
	"unknown shorthand",
	"flag needs an argument",
	"invalid argument",
	"accepts ",
	"requires at least",
	"requires at most",
}

func isCobraUsageError(err error) bool {
	msg := err.Error()
	for _, pattern := range cobraUsageErrorPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
