package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Acclerate/video-transcriber/internal/backend"
	"github.com/Acclerate/video-transcriber/internal/config"
	"github.com/Acclerate/video-transcriber/internal/engine"
	"github.com/Acclerate/video-transcriber/internal/ffmpeg"
	"github.com/Acclerate/video-transcriber/internal/janitor"
	"github.com/Acclerate/video-transcriber/internal/logging"
	"github.com/Acclerate/video-transcriber/internal/postprocess"
	"github.com/Acclerate/video-transcriber/internal/prepare"
	"github.com/Acclerate/video-transcriber/internal/probe"
	"github.com/Acclerate/video-transcriber/internal/progress"
	"github.com/Acclerate/video-transcriber/internal/store"
	"github.com/Acclerate/video-transcriber/internal/transcribe"
)

// env bundles the wiring every subcommand needs. Each CLI invocation is a
// fresh process: the in-memory store and scheduler it builds here hold no
// state from any prior invocation (§6.1) — submit therefore runs its job
// to completion in-process rather than handing back control to a second
// invocation of watch/stats/cancel, which would otherwise see an empty
// store. That is a deliberate, documented limitation of a one-shot CLI
// around an in-memory engine, not a bug: a long-lived operator surface
// would keep the scheduler running behind a server process instead.
type env struct {
	cfg       config.Config
	logger    *slog.Logger
	store     *store.Store
	bus       *progress.Bus
	scheduler *engine.Scheduler
	janitor   *janitor.Janitor
	backend   backend.SpeechBackend
}

func newEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(logging.Options{Level: logging.LevelInfo})

	if cfg.TempRoot == "" {
		cfg.TempRoot = config.ExpandPath("~/.cache/go-transcript/jobs")
	}

	// Only auto-resolve when the operator never pinned an explicit path;
	// an explicit config value always wins over download-and-install.
	if cfg.FFmpegPath == config.DefaultFFmpegPath {
		if resolved, err := ffmpeg.Resolve(context.Background()); err == nil {
			cfg.FFmpegPath = resolved
		} else {
			logger.Warn("ffmpeg auto-resolve failed, falling back to PATH lookup", "error", err)
		}
	}

	sb, err := buildBackend(cfg)
	if err != nil {
		return nil, err
	}
	if err := sb.Load(context.Background(), cfg.BackendModelID); err != nil {
		return nil, fmt.Errorf("load backend model %q: %w", cfg.BackendModelID, err)
	}

	st := store.New()
	bus := progress.New()

	prober := probe.New(cfg.FFprobePath)
	preparer := prepare.New(cfg.FFmpegPath, prepare.WithLogger(logger))
	post := postprocess.New(postprocess.WithLogger(logger))

	sched := engine.New(cfg.TempRoot, cfg.FFmpegPath, prober, preparer, sb, st, bus,
		engine.WithMaxConcurrentJobs(cfg.MaxConcurrentJobs),
		engine.WithMaxConcurrentChunks(cfg.MaxConcurrentChunks),
		engine.WithJobTimeout(time.Duration(cfg.JobTimeoutSeconds)*time.Second),
		engine.WithPostprocessor(post),
		engine.WithLogger(logger),
	)

	j := janitor.New(cfg.TempRoot, st, sched, bus,
		janitor.WithRecordRetention(time.Duration(cfg.RecordRetentionHours)*time.Hour),
		janitor.WithTempRetention(time.Duration(cfg.TempRetentionHours)*time.Hour),
	)
	go j.Run(context.Background())

	return &env{cfg: cfg, logger: logger, store: st, bus: bus, scheduler: sched, janitor: j, backend: sb}, nil
}

// buildBackend falls back to the null backend when no API key is
// configured, so a bare checkout still runs end to end for smoke testing.
func buildBackend(cfg config.Config) (backend.SpeechBackend, error) {
	if cfg.OpenAIAPIKey == "" {
		return transcribe.NewNullBackend(nil), nil
	}
	return transcribe.NewOpenAIBackend(cfg.OpenAIAPIKey), nil
}

func (e *env) shutdown() {
	e.janitor.Stop()
	_ = e.scheduler.Shutdown(context.Background(), 30*time.Second)
	_ = e.backend.Unload(context.Background())
}
