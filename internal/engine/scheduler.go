package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Acclerate/video-transcriber/internal/audio"
	"github.com/Acclerate/video-transcriber/internal/backend"
	"github.com/Acclerate/video-transcriber/internal/lang"
	"github.com/Acclerate/video-transcriber/internal/postprocess"
	"github.com/Acclerate/video-transcriber/internal/prepare"
	"github.com/Acclerate/video-transcriber/internal/probe"
	"github.com/Acclerate/video-transcriber/internal/progress"
	"github.com/Acclerate/video-transcriber/internal/store"
)

const (
	defaultMaxConcurrentJobs   = 4
	defaultMaxConcurrentChunks = 1
	defaultJobTimeout          = 1 * time.Hour
	defaultJobQueueDepth       = 4096

	// gpuDowngradeDurationThreshold is the input length past which
	// use_gpu=auto is downgraded to cpu (§4.7).
	gpuDowngradeDurationThreshold = 600 * time.Second
)

// Prober is the subset of probe.Prober the Scheduler depends on.
type Prober interface {
	Probe(ctx context.Context, path string) (probe.Info, error)
}

// Preparer is the subset of prepare.Preparer the Scheduler depends on.
type Preparer interface {
	Prepare(ctx context.Context, path string, durationSeconds float64, outputDir string, onMilestone prepare.ProgressFunc) (audio.Descriptor, error)
}

// Scheduler is the bounded-concurrency pipeline executor: the programmatic
// surface described in §6.
type Scheduler struct {
	prober        Prober
	preparer      Preparer
	backend       backend.SpeechBackend
	postprocessor *postprocess.Postprocessor
	store         *store.Store
	bus           *progress.Bus
	logger        *slog.Logger

	tempRoot            string
	ffmpegPath          string
	maxConcurrentJobs   int
	maxConcurrentChunks int
	jobTimeout          time.Duration

	queue chan string

	mu          sync.Mutex
	cancelFuncs map[string]context.CancelFunc
	cleanup     map[string][]string
	transcripts map[string]*audio.Transcript
	batchJobs   map[string][]string
	jobInputs   map[string]jobInput

	shutdownOnce sync.Once
	shutdown     chan struct{}
	inFlight     sync.WaitGroup
	workersWG    sync.WaitGroup

	activeWorkers int32
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithMaxConcurrentJobs(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxConcurrentJobs = n
		}
	}
}

func WithMaxConcurrentChunks(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxConcurrentChunks = n
		}
	}
}

func WithJobTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.jobTimeout = d
		}
	}
}

func WithPostprocessor(p *postprocess.Postprocessor) Option {
	return func(s *Scheduler) { s.postprocessor = p }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Scheduler and starts its outer worker pool. tempRoot is the
// filesystem root the Scheduler owns exclusively (§6 filesystem contract).
func New(tempRoot, ffmpegPath string, prober Prober, preparer Preparer, sb backend.SpeechBackend, st *store.Store, bus *progress.Bus, opts ...Option) *Scheduler {
	s := &Scheduler{
		prober:              prober,
		preparer:            preparer,
		backend:             sb,
		postprocessor:       postprocess.New(),
		store:               st,
		bus:                 bus,
		logger:              slog.Default(),
		tempRoot:            tempRoot,
		ffmpegPath:          ffmpegPath,
		maxConcurrentJobs:   defaultMaxConcurrentJobs,
		maxConcurrentChunks: defaultMaxConcurrentChunks,
		jobTimeout:          defaultJobTimeout,
		queue:               make(chan string, defaultJobQueueDepth),
		cancelFuncs:         make(map[string]context.CancelFunc),
		cleanup:             make(map[string][]string),
		transcripts:         make(map[string]*audio.Transcript),
		batchJobs:           make(map[string][]string),
		jobInputs:           make(map[string]jobInput),
		shutdown:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	for i := 0; i < s.maxConcurrentJobs; i++ {
		s.workersWG.Add(1)
		go s.worker()
	}

	return s
}

func (s *Scheduler) worker() {
	defer s.workersWG.Done()
	for {
		select {
		case <-s.shutdown:
			return
		case jobID, ok := <-s.queue:
			if !ok {
				return
			}
			s.runJob(jobID)
		}
	}
}

// Submit enqueues a new job for inputPath with the given options. Validation
// failures are rejected here and never become a job (§7 InvalidInput).
func (s *Scheduler) Submit(inputPath string, opts Options) (string, error) {
	return s.submit(inputPath, opts, "")
}

func (s *Scheduler) submit(inputPath string, opts Options, batchID string) (string, error) {
	select {
	case <-s.shutdown:
		return "", ErrSchedulerShutdown
	default:
	}

	if inputPath == "" {
		return "", fmt.Errorf("%w: input path is empty", ErrInvalidInput)
	}
	if opts.Chunking.Enabled && opts.Chunking.ChunkSeconds <= opts.Chunking.OverlapSeconds {
		return "", fmt.Errorf("%w: chunk_seconds must exceed overlap_seconds", ErrInvalidInput)
	}
	if opts.Chunking.OverlapSeconds < 0 {
		return "", fmt.Errorf("%w: overlap_seconds must be non-negative", ErrInvalidInput)
	}
	if _, err := lang.Parse(opts.Language); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if loaded := s.backend.Describe().ModelID; opts.ModelID != "" && opts.ModelID != loaded {
		// The backend is loaded exactly once per process (at-most-one-load
		// invariant, §4.4): a job cannot request a different model than
		// whatever is already resident, so a mismatch is rejected up front
		// rather than silently transcribed against the wrong model.
		return "", fmt.Errorf("%w: model_id %q does not match the loaded backend model %q", ErrInvalidInput, opts.ModelID, loaded)
	}

	jobID := uuid.NewString()
	s.store.CreateJob(jobID, batchID)
	s.jobOptions(jobID, inputPath, opts)

	select {
	case s.queue <- jobID:
	default:
		// The outer pool's backlog is deep enough that this should never
		// happen in practice; submission must never block (§5 Backpressure).
		go func() { s.queue <- jobID }()
	}

	return jobID, nil
}

// jobOptions stashes per-job submission inputs the pipeline needs but the
// store's Record does not carry (it is a status registry, not an input
// cache).
func (s *Scheduler) jobOptions(jobID, inputPath string, opts Options) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobInputs[jobID] = jobInput{path: inputPath, opts: opts}
}

// SubmitBatch enqueues every (path, options) pair under one batch id.
func (s *Scheduler) SubmitBatch(inputs []BatchInput) (string, []string, error) {
	select {
	case <-s.shutdown:
		return "", nil, ErrSchedulerShutdown
	default:
	}

	batchID := uuid.NewString()
	jobIDs := make([]string, 0, len(inputs))

	for _, in := range inputs {
		jobID, err := s.submit(in.Path, in.Options, batchID)
		if err != nil {
			return "", nil, err
		}
		jobIDs = append(jobIDs, jobID)
	}

	s.store.CreateBatch(batchID, jobIDs)
	s.mu.Lock()
	s.batchJobs[batchID] = jobIDs
	s.mu.Unlock()

	return batchID, jobIDs, nil
}

// BatchInput pairs an input path with its submission options.
type BatchInput struct {
	Path    string
	Options Options
}

// Cancel requests cancellation of jobID. Idempotent; a no-op on a job
// already in a terminal state.
func (s *Scheduler) Cancel(jobID string) error {
	rec, err := s.store.Get(jobID)
	if err != nil {
		return err
	}
	if rec.State.IsTerminal() {
		return nil
	}

	// runJob registers the cancel func under s.mu before leaving Pending, so a
	// job with none is still queued: holding s.mu, move it straight to
	// Cancelled. When a worker later dequeues it, its Pending->Preparing
	// transition is rejected and the job stays Cancelled.
	s.mu.Lock()
	cancel, ok := s.cancelFuncs[jobID]
	var queuedErr error
	if !ok {
		queuedErr = s.store.Transition(jobID, store.Cancelled, func(rec *store.Record) {
			rec.Error = &store.JobError{Kind: string(ErrorCancelled), Message: "cancelled before start"}
		})
	}
	s.mu.Unlock()
	if ok {
		cancel()
	} else if queuedErr == nil {
		s.bus.Publish(progress.Event{JobID: jobID, Kind: progress.KindError, Terminal: true, ErrKind: string(ErrorCancelled), Message: "cancelled before start"})
	}
	return nil
}

// CancelBatch cancels every non-terminal job in batchID, idempotently.
func (s *Scheduler) CancelBatch(batchID string) error {
	b, err := s.store.GetBatch(batchID)
	if err != nil {
		return err
	}
	for _, jobID := range b.JobIDs {
		_ = s.Cancel(jobID)
	}
	return nil
}

// GetJob returns the caller-facing snapshot of jobID.
func (s *Scheduler) GetJob(jobID string) (Job, error) {
	rec, err := s.store.Get(jobID)
	if err != nil {
		return Job{}, err
	}
	s.mu.Lock()
	transcript := s.transcripts[jobID]
	s.mu.Unlock()
	return jobFromRecord(rec, transcript), nil
}

// GetBatch returns the caller-facing snapshot of batchID.
func (s *Scheduler) GetBatch(batchID string) (Batch, error) {
	rec, err := s.store.GetBatch(batchID)
	if err != nil {
		return Batch{}, err
	}
	return batchFromRecord(rec), nil
}

// ListJobs returns jobs matching filter.
func (s *Scheduler) ListJobs(filter store.Filter, limit, offset int) []Job {
	recs := s.store.List(filter, limit, offset)
	out := make([]Job, 0, len(recs))
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		out = append(out, jobFromRecord(rec, s.transcripts[rec.JobID]))
	}
	return out
}

// Subscribe registers a progress subscription for jobID.
func (s *Scheduler) Subscribe(jobID string) *progress.Subscription {
	return s.bus.Subscribe(jobID)
}

// Stats returns process-wide scheduler statistics.
func (s *Scheduler) Stats() SchedulerStats {
	snap := s.store.SnapshotStats()
	return SchedulerStats{
		ByState:               snap.ByState,
		TotalProcessed:        snap.TotalProcessed,
		TotalSuccess:          snap.TotalSuccess,
		TotalFailed:           snap.TotalFailed,
		AverageProcessingSecs: snap.AverageProcessingSecs,
		ActiveWorkers:         int(atomic.LoadInt32(&s.activeWorkers)),
		QueueDepth:            len(s.queue),
	}
}

// Shutdown stops accepting new work, drains in-flight jobs up to deadline,
// then cancels whatever remains.
func (s *Scheduler) Shutdown(ctx context.Context, deadline time.Duration) error {
	s.shutdownOnce.Do(func() { close(s.shutdown) })

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		s.mu.Lock()
		cancels := make([]context.CancelFunc, 0, len(s.cancelFuncs))
		for _, c := range s.cancelFuncs {
			cancels = append(cancels, c)
		}
		s.mu.Unlock()
		for _, c := range cancels {
			c()
		}
		<-done
	case <-ctx.Done():
		return ctx.Err()
	}

	s.workersWG.Wait()
	return nil
}

// ActivePaths implements janitor.ActiveCleanupLists: every path currently
// on any active job's cleanup_list, so the Janitor's temp sweep never
// removes a file in use.
func (s *Scheduler) ActivePaths() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]struct{})
	for _, paths := range s.cleanup {
		for _, p := range paths {
			out[p] = struct{}{}
		}
	}
	return out
}

func (s *Scheduler) jobTempDir(jobID string) string {
	return filepath.Join(s.tempRoot, "jobs", jobID)
}

func (s *Scheduler) chunksDir(jobID string) string {
	return filepath.Join(s.jobTempDir(jobID), "chunks")
}

func (s *Scheduler) trackCleanup(jobID string, paths ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanup[jobID] = append(s.cleanup[jobID], paths...)
}

func (s *Scheduler) releaseJob(jobID string) {
	s.mu.Lock()
	paths := s.cleanup[jobID]
	delete(s.cleanup, jobID)
	delete(s.cancelFuncs, jobID)
	delete(s.jobInputs, jobID)
	s.mu.Unlock()

	for _, p := range paths {
		if err := os.RemoveAll(p); err != nil {
			s.logger.Warn("cleanup failed", slog.String("job_id", jobID), slog.String("path", p), slog.Any("error", err))
		}
	}
	_ = os.RemoveAll(s.jobTempDir(jobID))
}

type jobInput struct {
	path string
	opts Options
}
