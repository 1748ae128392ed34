package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Acclerate/video-transcriber/internal/apierr"
	"github.com/Acclerate/video-transcriber/internal/audio"
	"github.com/Acclerate/video-transcriber/internal/backend"
	"github.com/Acclerate/video-transcriber/internal/probe"
	"github.com/Acclerate/video-transcriber/internal/progress"
	"github.com/Acclerate/video-transcriber/internal/store"
)

// Progress weighting bands, per §4.7: validation 0-5, probe 5-10, prepare
// 10-50, transcribe 50-95 (linear in chunk count), merge+postprocess 95-100.
const (
	progressValidateEnd   = 5
	progressProbeEnd      = 10
	progressPrepareEnd    = 50
	progressTranscribeEnd = 95
	progressDone          = 100
)

// chunkRetryConfig governs a single chunk's transcribe attempts: base 2s,
// factor 2.0 (encoded by RetryWithBackoff's doubling), cap 30s, at most 2
// retries (3 attempts total), full jitter in [0.5, 1.0).
var chunkRetryConfig = apierr.RetryConfig{
	MaxRetries: 2,
	BaseDelay:  2 * time.Second,
	MaxDelay:   30 * time.Second,
	JitterMin:  0.5,
	JitterMax:  1.0,
}

func (s *Scheduler) runJob(jobID string) {
	s.inFlight.Add(1)
	atomic.AddInt32(&s.activeWorkers, 1)
	defer func() {
		atomic.AddInt32(&s.activeWorkers, -1)
		s.inFlight.Done()
	}()

	s.mu.Lock()
	in, ok := s.jobInputs[jobID]
	s.mu.Unlock()
	if !ok {
		s.logger.Error("job has no recorded input, dropping", slog.String("job_id", jobID))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	s.mu.Lock()
	s.cancelFuncs[jobID] = cancel
	s.mu.Unlock()
	defer cancel()
	defer s.releaseJob(jobID)

	if err := s.runPipeline(ctx, jobID, in.path, in.opts); err != nil {
		s.failJob(jobID, err)
	}
}

func (s *Scheduler) runPipeline(ctx context.Context, jobID, path string, opts Options) error {
	startedAt := time.Now()

	if err := s.store.Transition(jobID, store.Preparing, nil); err != nil {
		return err
	}
	s.publish(jobID, 0, "validate", "validating input")
	s.publish(jobID, progressValidateEnd, "validate", "input accepted")

	info, err := s.prober.Probe(ctx, path)
	if err != nil {
		return &JobError{Kind: probeErrorKind(err), Message: err.Error()}
	}
	s.publish(jobID, progressProbeEnd, "probe", "media probed")

	if err := ctx.Err(); err != nil {
		return cancelledOrTimeout(err)
	}

	effectiveDevice := s.effectiveDevice(opts.UseGPU, info.DurationSeconds)
	_ = s.store.Mutate(jobID, func(rec *store.Record) {
		rec.EffectiveDevice = effectiveDevice
	})

	jobDir := s.jobTempDir(jobID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return &JobError{Kind: ErrorInternal, Message: err.Error()}
	}
	s.trackCleanup(jobID, jobDir)

	descriptor, err := s.preparer.Prepare(ctx, path, info.DurationSeconds, jobDir, func(milestone string) {
		s.publish(jobID, progressProbeEnd+(progressPrepareEnd-progressProbeEnd)/2, "prepare", milestone)
	})
	if err != nil {
		return &JobError{Kind: ErrorPrepareFailed, Message: err.Error()}
	}
	s.publish(jobID, progressPrepareEnd, "prepare", "audio prepared")

	if err := ctx.Err(); err != nil {
		return cancelledOrTimeout(err)
	}

	if err := s.store.Transition(jobID, store.Transcribing, nil); err != nil {
		return err
	}

	chunks, err := audio.Split(ctx, descriptor, opts.Chunking.toAudioOptions(s.ffmpegPath), audio.DefaultDeps())
	if err != nil {
		return &JobError{Kind: ErrorSplitFailed, Message: err.Error()}
	}
	chunkDir := s.chunksDir(jobID)
	s.trackCleanup(jobID, chunkDir)
	defer audio.CleanupChunks(chunks)

	results, err := s.transcribeChunks(ctx, jobID, chunks, opts)
	if err != nil {
		var jerr *JobError
		if errors.As(err, &jerr) {
			return jerr
		}
		return cancelledOrTimeout(err)
	}

	if err := s.store.Transition(jobID, store.Merging, nil); err != nil {
		return err
	}
	s.publish(jobID, progressTranscribeEnd, "merge", "merging chunk transcripts")

	transcript := audio.Merge(results)
	transcript.Text = s.postprocessor.Process(ctx, transcript.Text, opts.Language)
	transcript.ProcessingSeconds = time.Since(startedAt).Seconds()
	transcript.ModelID = s.backend.Describe().ModelID

	s.mu.Lock()
	s.transcripts[jobID] = &transcript
	s.mu.Unlock()

	if err := s.store.Transition(jobID, store.Completed, nil); err != nil {
		return err
	}
	s.publish(jobID, progressDone, "complete", "job complete")
	s.bus.Publish(progress.Event{JobID: jobID, Kind: progress.KindResult, Percent: progressDone, Terminal: true, Message: "complete"})
	return nil
}

// transcribeChunks drives the inner bounded chunk pool: each chunk retried
// independently with exponential backoff, OOM responses downgrading the
// chunk's device hint to CPU for its remaining attempts before surfacing a
// fatal BackendOOM failure.
func (s *Scheduler) transcribeChunks(ctx context.Context, jobID string, chunks []audio.Chunk, opts Options) ([]audio.ChunkResult, error) {
	results := make([]audio.ChunkResult, len(chunks))

	limit := s.maxConcurrentChunks
	if caps := s.backend.Describe(); !caps.ThreadSafeTranscribe {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	total := len(chunks)
	var completed int32

	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			result, err := s.transcribeOneChunk(gctx, jobID, chunk, opts)
			if err != nil {
				return err
			}
			results[i] = audio.ChunkResult{Chunk: chunk, Result: result}

			done := atomic.AddInt32(&completed, 1)
			pct := progressPrepareEnd + int(float64(done)/float64(total)*(progressTranscribeEnd-progressPrepareEnd))
			s.publish(jobID, pct, "transcribe", fmt.Sprintf("chunk %d/%d", done, total))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Scheduler) transcribeOneChunk(ctx context.Context, jobID string, chunk audio.Chunk, opts Options) (backend.ChunkResult, error) {
	useGPU := opts.UseGPU == GPUOn || opts.UseGPU == GPUAuto
	downgraded := false

	shouldRetry := func(err error) bool {
		var be *backend.Error
		if !errors.As(err, &be) {
			return false
		}
		switch be.Kind {
		case backend.ErrKindOutOfMemory:
			downgraded = true
			useGPU = false
			return true
		case backend.ErrKindTransient:
			return true
		default:
			return false
		}
	}

	attempt := 0
	fn := func() (backend.ChunkResult, error) {
		_ = useGPU // backend.Options carries no device field; the downgrade is recorded on the job record
		if attempt > 0 {
			_ = s.store.Mutate(jobID, func(rec *store.Record) {
				rec.RetryCount++
				if downgraded {
					rec.EffectiveDevice = "cpu"
				}
			})
		}
		attempt++
		return s.backend.Transcribe(ctx, chunk.Path, backend.Options{
			Language:           opts.Language,
			WantWordTimestamps: opts.WantWordTimestamps,
			Temperature:        opts.Temperature,
			CancelToken:        ctx,
		})
	}

	result, err := apierr.RetryWithBackoff(ctx, chunkRetryConfig, fn, shouldRetry)
	if err != nil {
		if ctx.Err() != nil {
			return backend.ChunkResult{}, cancelledOrTimeout(ctx.Err())
		}
		var be *backend.Error
		if errors.As(err, &be) {
			kind := ErrorBackendFatal
			switch {
			case be.Kind == backend.ErrKindOutOfMemory && downgraded:
				kind = ErrorBackendOOM
			case be.Kind == backend.ErrKindTransient:
				kind = ErrorBackendTransient
			case be.Kind == backend.ErrKindCancelled:
				return backend.ChunkResult{}, &JobError{Kind: ErrorCancelled, Message: err.Error()}
			}
			return backend.ChunkResult{}, &JobError{Kind: kind, Message: err.Error()}
		}
		return backend.ChunkResult{}, &JobError{Kind: ErrorInternal, Message: err.Error()}
	}
	return result, nil
}

func (s *Scheduler) effectiveDevice(hint GPUHint, durationSeconds float64) string {
	switch hint {
	case GPUOff:
		return "cpu"
	case GPUOn:
		return "gpu"
	default: // GPUAuto
		if time.Duration(durationSeconds*float64(time.Second)) > gpuDowngradeDurationThreshold {
			return "cpu"
		}
		return "gpu"
	}
}

func (s *Scheduler) publish(jobID string, percent int, phase, message string) {
	_ = s.store.IncrementProgress(jobID, percent, phase)
	s.bus.Publish(progress.Event{
		JobID:   jobID,
		Kind:    progress.KindProgress,
		Percent: percent,
		Phase:   phase,
		Message: message,
	})
}

func (s *Scheduler) failJob(jobID string, err error) {
	var jerr *JobError
	if !errors.As(err, &jerr) {
		jerr = &JobError{Kind: ErrorInternal, Message: err.Error()}
	}

	targetState := store.Failed
	if jerr.Kind == ErrorCancelled {
		targetState = store.Cancelled
	}

	transErr := s.store.Transition(jobID, targetState, func(rec *store.Record) {
		rec.Error = &store.JobError{Kind: string(jerr.Kind), Message: jerr.Message}
	})
	if transErr != nil {
		s.logger.Warn("failed to transition job to terminal state", slog.String("job_id", jobID), slog.Any("error", transErr))
	}

	s.bus.Publish(progress.Event{
		JobID:    jobID,
		Kind:     progress.KindError,
		Terminal: true,
		ErrKind:  string(jerr.Kind),
		Message:  jerr.Message,
	})
}

func cancelledOrTimeout(err error) *JobError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &JobError{Kind: ErrorTimeout, Message: err.Error()}
	}
	return &JobError{Kind: ErrorCancelled, Message: err.Error()}
}

func probeErrorKind(err error) ErrorKind {
	switch {
	case errors.Is(err, probe.ErrNotFound):
		return ErrorNotFound
	case errors.Is(err, probe.ErrNotAFile):
		return ErrorNotAFile
	case errors.Is(err, probe.ErrUnsupportedFormat):
		return ErrorUnsupportedFormat
	default:
		return ErrorInternal
	}
}
