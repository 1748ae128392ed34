package transcribe

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Acclerate/video-transcriber/internal/backend"
)

// Compile-time interface compliance check.
var _ backend.SpeechBackend = (*NullBackend)(nil)

// ResultFunc produces a deterministic ChunkResult for a given audio path,
// used by NullBackend in place of a real model call.
type ResultFunc func(audioPath string) (backend.ChunkResult, error)

// NullBackend is a deterministic fake SpeechBackend for engine tests. It
// never touches disk or network; LoadCount tracks how many times the real
// load body ran, for verifying the at-most-one-load property.
type NullBackend struct {
	result ResultFunc

	loadOnce  sync.Once
	loadCount int32
	modelID   string
}

// NewNullBackend creates a NullBackend that calls fn for every Transcribe.
// If fn is nil, Transcribe returns a single segment echoing the audio path.
func NewNullBackend(fn ResultFunc) *NullBackend {
	return &NullBackend{result: fn}
}

func (b *NullBackend) Load(_ context.Context, modelID string) error {
	b.loadOnce.Do(func() {
		atomic.AddInt32(&b.loadCount, 1)
		b.modelID = modelID
	})
	return nil
}

// LoadCount returns how many times the real load body executed. Always 0
// or 1: Load is idempotent under concurrent callers.
func (b *NullBackend) LoadCount() int { return int(atomic.LoadInt32(&b.loadCount)) }

func (b *NullBackend) Unload(_ context.Context) error { return nil }

func (b *NullBackend) Describe() backend.Capabilities {
	return backend.Capabilities{ModelID: b.modelID, ThreadSafeTranscribe: true}
}

func (b *NullBackend) Transcribe(ctx context.Context, audioPath string, opts backend.Options) (backend.ChunkResult, error) {
	if opts.CancelToken != nil && opts.CancelToken.Err() != nil {
		return backend.ChunkResult{}, &backend.Error{Kind: backend.ErrKindCancelled, Err: opts.CancelToken.Err()}
	}
	if b.result != nil {
		return b.result(audioPath)
	}
	return backend.ChunkResult{
		Text:             "transcribed: " + audioPath,
		DetectedLanguage: "en",
		Segments: []backend.Segment{
			{StartSeconds: 0, EndSeconds: 1, Text: "transcribed: " + audioPath, Confidence: 0.9},
		},
	}, nil
}
