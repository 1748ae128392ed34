// Package janitor periodically evicts old job/batch records and stale
// temp files, grounded on original_source/core/engine.py's two-sweep
// cleanup_old_tasks/cleanup_temp_files pair.
package janitor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Acclerate/video-transcriber/internal/progress"
	"github.com/Acclerate/video-transcriber/internal/store"
)

const (
	defaultPeriod          = 1 * time.Hour
	defaultRecordRetention = 24 * time.Hour
	defaultTempRetention   = 1 * time.Hour
)

// RecordStore is the subset of store.Store the Janitor's record-eviction
// sweep needs. Kept narrow for testability, following the teacher's small-
// interface-seam idiom.
type RecordStore interface {
	ListCompletedBefore(cutoff time.Time) []store.Record
	Delete(jobID string)
	DeleteBatch(batchID string)
	GetBatch(batchID string) (store.BatchRecord, error)
}

// ActiveCleanupLists reports every path currently referenced by any
// non-terminal job's cleanup_list, so the temp sweep never removes a file
// still in use.
type ActiveCleanupLists interface {
	ActivePaths() map[string]struct{}
}

// Janitor runs the two periodic sweeps.
type Janitor struct {
	period          time.Duration
	recordRetention time.Duration
	tempRetention   time.Duration
	tempDir         string

	store  RecordStore
	active ActiveCleanupLists
	bus    *progress.Bus
	logger *slog.Logger
	now    func() time.Time

	stopOnce sync.Once
	done     chan struct{}
}

// Option configures a Janitor.
type Option func(*Janitor)

func WithPeriod(d time.Duration) Option {
	return func(j *Janitor) {
		if d > 0 {
			j.period = d
		}
	}
}

func WithRecordRetention(d time.Duration) Option {
	return func(j *Janitor) {
		if d > 0 {
			j.recordRetention = d
		}
	}
}

func WithTempRetention(d time.Duration) Option {
	return func(j *Janitor) {
		if d > 0 {
			j.tempRetention = d
		}
	}
}

// WithClock overrides time.Now, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(j *Janitor) {
		if now != nil {
			j.now = now
		}
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(j *Janitor) {
		if logger != nil {
			j.logger = logger
		}
	}
}

// New creates a Janitor over tempDir, backed by store for record eviction
// and reporting telemetry through bus's global broadcast channel.
func New(tempDir string, store RecordStore, active ActiveCleanupLists, bus *progress.Bus, opts ...Option) *Janitor {
	j := &Janitor{
		period:          defaultPeriod,
		recordRetention: defaultRecordRetention,
		tempRetention:   defaultTempRetention,
		tempDir:         tempDir,
		store:           store,
		active:          active,
		bus:             bus,
		logger:          slog.Default(),
		now:             time.Now,
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run blocks, sweeping every period until ctx is cancelled or Stop is
// called. Intended to be run in its own goroutine.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.done:
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Stop ends a running Janitor's Run loop.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() { close(j.done) })
}

// Sweep runs both sweeps once, synchronously. Exported so callers and
// tests can trigger an out-of-band sweep without waiting for the ticker.
func (j *Janitor) Sweep(ctx context.Context) {
	evicted := j.sweepRecords(ctx)
	removed := j.sweepTempFiles(ctx)

	if j.bus != nil {
		j.bus.Publish(progress.Event{
			JobID:   "janitor",
			Kind:    progress.KindHeartbeat,
			Message: "sweep complete",
			Percent: evicted + removed,
		})
	}
}

func (j *Janitor) sweepRecords(ctx context.Context) int {
	cutoff := j.now().Add(-j.recordRetention)
	count := 0
	batchesSeen := make(map[string]struct{})
	for _, rec := range j.store.ListCompletedBefore(cutoff) {
		if ctx.Err() != nil {
			return count
		}
		j.store.Delete(rec.JobID)
		count++
		if rec.BatchID != "" {
			batchesSeen[rec.BatchID] = struct{}{}
		}
	}

	// A batch is only evicted once the batch itself finished (every member
	// job terminal) before cutoff; one stale sibling must never drag down a
	// batch that still has other jobs active or that completed more
	// recently than cutoff.
	for batchID := range batchesSeen {
		batch, err := j.store.GetBatch(batchID)
		if err != nil {
			continue
		}
		if batch.Pending == 0 && batch.CompletedAt != nil && batch.CompletedAt.Before(cutoff) {
			j.store.DeleteBatch(batchID)
		}
	}

	if count > 0 {
		j.logger.InfoContext(ctx, "janitor evicted stale job records", slog.Int("count", count))
	}
	return count
}

func (j *Janitor) sweepTempFiles(ctx context.Context) int {
	if j.tempDir == "" {
		return 0
	}

	var active map[string]struct{}
	if j.active != nil {
		active = j.active.ActivePaths()
	}

	cutoff := j.now().Add(-j.tempRetention)
	count := 0

	_ = filepath.WalkDir(j.tempDir, func(path string, d os.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil || d.IsDir() {
			return nil
		}
		if _, protected := active[path]; protected {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if rmErr := os.Remove(path); rmErr != nil {
				j.logger.WarnContext(ctx, "janitor failed to remove stale temp file",
					slog.String("path", path), slog.Any("error", rmErr))
				return nil
			}
			count++
		}
		return nil
	})

	if count > 0 {
		j.logger.InfoContext(ctx, "janitor removed stale temp files", slog.Int("count", count))
	}
	return count
}
