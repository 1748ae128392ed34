// Package engine is the Scheduler: the bounded-concurrency executor that
// drives each job through Probe -> Prepare -> Split -> Transcribe -> Merge
// -> Postprocess -> Complete, publishing progress and enforcing the job
// state machine.
package engine

import (
	"time"

	"github.com/Acclerate/video-transcriber/internal/audio"
	"github.com/Acclerate/video-transcriber/internal/store"
)

// GPUHint is the tri-state use_gpu option.
type GPUHint int

const (
	GPUAuto GPUHint = iota
	GPUOn
	GPUOff
)

// ChunkingOptions mirrors audio.ChunkingOptions in the submission-facing
// vocabulary (seconds instead of time.Duration), per the spec's Options
// enumeration (§6).
type ChunkingOptions struct {
	Enabled            bool
	ChunkSeconds       float64
	OverlapSeconds     float64
	MinDurationSeconds float64
}

func (c ChunkingOptions) toAudioOptions(ffmpegPath string) audio.ChunkingOptions {
	return audio.ChunkingOptions{
		Enabled:     c.Enabled,
		Chunk:       secondsToDuration(c.ChunkSeconds),
		Overlap:     secondsToDuration(c.OverlapSeconds),
		MinDuration: secondsToDuration(c.MinDurationSeconds),
		FFmpegPath:  ffmpegPath,
	}
}

// Options configures a single job submission (§3).
type Options struct {
	ModelID            string
	Language           string
	WantWordTimestamps bool
	Temperature        float64
	UseGPU             GPUHint
	Chunking           ChunkingOptions
}

// DefaultOptions returns the spec's documented defaults: chunking enabled
// at a 300s window with 2s overlap, triggered above 300s of input.
func DefaultOptions() Options {
	return Options{
		UseGPU: GPUAuto,
		Chunking: ChunkingOptions{
			Enabled:            true,
			ChunkSeconds:       300,
			OverlapSeconds:     2,
			MinDurationSeconds: 300,
		},
	}
}

// Job is the caller-facing view of one submitted file, assembled from the
// store's internal Record.
type Job struct {
	JobID   string
	BatchID string
	State   store.State

	Progress int

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	EffectiveDevice string
	RetryCount      int
	CleanupList     []string

	Transcript *audio.Transcript
	Error      *JobError
}

func jobFromRecord(rec store.Record, transcript *audio.Transcript) Job {
	var jobErr *JobError
	if rec.Error != nil {
		jobErr = &JobError{Kind: ErrorKind(rec.Error.Kind), Message: rec.Error.Message}
	}
	return Job{
		JobID:           rec.JobID,
		BatchID:         rec.BatchID,
		State:           rec.State,
		Progress:        rec.Progress,
		CreatedAt:       rec.CreatedAt,
		StartedAt:       rec.StartedAt,
		CompletedAt:     rec.CompletedAt,
		EffectiveDevice: rec.EffectiveDevice,
		RetryCount:      rec.RetryCount,
		CleanupList:     rec.CleanupList,
		Transcript:      transcript,
		Error:           jobErr,
	}
}

// Batch is the caller-facing view of a batch submission.
type Batch struct {
	BatchID   string
	JobIDs    []string
	Total     int
	Pending   int
	Completed int
	Failed    int
}

func batchFromRecord(rec store.BatchRecord) Batch {
	return Batch{
		BatchID:   rec.BatchID,
		JobIDs:    rec.JobIDs,
		Total:     rec.Total,
		Pending:   rec.Pending,
		Completed: rec.Completed,
		Failed:    rec.Failed,
	}
}

// SchedulerStats is the return value of Scheduler.Stats.
type SchedulerStats struct {
	ByState               map[store.State]int
	TotalProcessed        int
	TotalSuccess          int
	TotalFailed           int
	AverageProcessingSecs float64
	ActiveWorkers         int
	QueueDepth            int
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
