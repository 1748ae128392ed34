// Package backend defines the SpeechBackend capability contract: the
// pluggable neural transcription component the Scheduler drives through a
// narrow, testable surface. Concrete adapters (internal/transcribe) bind
// this contract to a real model client; the engine package never imports
// an adapter directly.
package backend

import (
	"context"
	"errors"
)

// ErrKind classifies a backend failure for the Scheduler's retry policy.
type ErrKind int

const (
	// ErrKindUnknown is the zero value; never returned deliberately.
	ErrKindUnknown ErrKind = iota
	// ErrKindModelLoadFailed indicates load could not bring the model online.
	ErrKindModelLoadFailed
	// ErrKindOutOfMemory indicates a retryable accelerator/host OOM.
	ErrKindOutOfMemory
	// ErrKindInputUnreadable indicates the audio file itself is unusable.
	ErrKindInputUnreadable
	// ErrKindTransient indicates a retryable, non-OOM failure.
	ErrKindTransient
	// ErrKindCancelled indicates the operation honored cancellation.
	ErrKindCancelled
	// ErrKindInternal indicates an unclassified backend-side fault.
	ErrKindInternal
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindModelLoadFailed:
		return "ModelLoadFailed"
	case ErrKindOutOfMemory:
		return "OutOfMemory"
	case ErrKindInputUnreadable:
		return "InputUnreadable"
	case ErrKindTransient:
		return "Transient"
	case ErrKindCancelled:
		return "Cancelled"
	case ErrKindInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Error wraps a backend failure with its classification. Adapters construct
// these at the boundary where a provider-specific error is translated into
// the shared taxonomy; callers use errors.As to recover the Kind.
type Error struct {
	Kind ErrKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the Scheduler's retry policy applies to kind.
func (k ErrKind) Retryable() bool {
	return k == ErrKindTransient || k == ErrKindOutOfMemory
}

// IsCancelled reports whether err represents a cancelled backend operation.
func IsCancelled(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == ErrKindCancelled
}

// Segment is one unit of recognized speech with backend-local time offsets
// (relative to the audio segment the backend was given, not the source
// file's absolute timeline — the Chunker rewrites offsets during merge).
type Segment struct {
	StartSeconds float64
	EndSeconds   float64
	Text         string
	Confidence   float64
}

// ChunkResult is what a SpeechBackend produces for one audio segment.
type ChunkResult struct {
	Text             string
	DetectedLanguage string
	Segments         []Segment
}

// Options configures a single transcribe call.
type Options struct {
	Language           string
	WantWordTimestamps bool
	Temperature        float64
	ProgressSink       func(percent int, message string)
	CancelToken        context.Context
}

// Capabilities describes a loaded backend's properties.
type Capabilities struct {
	ModelID              string
	SupportedLanguages   []string
	NeedsAccelerator     bool
	ApproximateMemoryMB  int
	ThreadSafeTranscribe bool
}

// SpeechBackend is the pluggable neural transcription capability. Adapters
// must make Load idempotent and safe under concurrent first-callers: only
// one real load may occur per process, regardless of how many goroutines
// call Load concurrently before it completes.
type SpeechBackend interface {
	// Load brings modelID online. Idempotent; safe for concurrent callers.
	Load(ctx context.Context, modelID string) error
	// Unload releases backend memory. Safe to call when not loaded.
	Unload(ctx context.Context) error
	// Transcribe produces a ChunkResult for the audio at audioPath.
	// Honors opts.CancelToken, returning an Error{Kind: ErrKindCancelled}
	// as soon as practical after cancellation is observed.
	Transcribe(ctx context.Context, audioPath string, opts Options) (ChunkResult, error)
	// Describe reports the currently loaded model's capabilities.
	Describe() Capabilities
}
