package audio

import (
	"context"
	"fmt"
	"path/filepath"
	"time"
)

// Split partitions descriptor into an ordered sequence of chunks per the
// configured strategy. If chunking is disabled, or the source duration does
// not exceed opts.MinDuration, it returns a single chunk spanning the whole
// file without copying — the original path is reused as-is.
func Split(ctx context.Context, descriptor Descriptor, opts ChunkingOptions, deps chunkerDeps) ([]Chunk, error) {
	if !opts.Enabled || descriptor.Duration <= opts.MinDuration {
		return []Chunk{{
			Path:      descriptor.Path,
			Index:     0,
			StartTime: 0,
			EndTime:   descriptor.Duration,
		}}, nil
	}

	switch opts.Strategy {
	case StrategySilence:
		sc, err := newSilenceSplitterFromOptions(opts, deps)
		if err != nil {
			return nil, err
		}
		return sc.split(ctx, descriptor)
	default:
		fw := newFixedWindowSplitter(opts, deps)
		return fw.split(ctx, descriptor)
	}
}

// chunkerDeps bundles the injectable OS seams shared by every splitter.
// Production code gets osChunkerDeps(); tests substitute fakes.
type chunkerDeps struct {
	cmd     commandRunner
	tempDir tempDirCreator
	files   fileRemover
	statter fileStatter
}

// DefaultDeps returns the OS-backed dependency bundle production callers
// pass to Split.
func DefaultDeps() chunkerDeps {
	return osChunkerDeps()
}

func osChunkerDeps() chunkerDeps {
	return chunkerDeps{
		cmd:     osCommandRunner{},
		tempDir: osTempDirCreator{},
		files:   osFileRemover{},
		statter: osFileStatter{},
	}
}

// fixedWindowSplitter implements the spec-mandated fixed-length, overlapping
// window algorithm (§4.3): each chunk (after the first) begins at
// previous.end - overlap; the final chunk is shortened to end exactly at
// the source duration, and absorbed into the previous chunk if it would be
// shorter than absorbThreshold.
type fixedWindowSplitter struct {
	ffmpegPath string
	chunk      time.Duration
	overlap    time.Duration
	deps       chunkerDeps
}

func newFixedWindowSplitter(opts ChunkingOptions, deps chunkerDeps) *fixedWindowSplitter {
	chunk := opts.Chunk
	if chunk <= 0 {
		chunk = defaultTargetDuration
	}
	overlap := opts.Overlap
	if overlap < 0 || overlap >= chunk {
		overlap = 0
	}
	return &fixedWindowSplitter{ffmpegPath: opts.FFmpegPath, chunk: chunk, overlap: overlap, deps: deps}
}

func (s *fixedWindowSplitter) split(ctx context.Context, descriptor Descriptor) ([]Chunk, error) {
	tempDir, err := s.deps.tempDir.MkdirTemp("", "video-transcriber-chunks-*")
	if err != nil {
		return nil, fmt.Errorf("create chunk temp dir: %w", err)
	}

	var starts []time.Duration
	step := s.chunk - s.overlap
	if step <= 0 {
		step = s.chunk
	}
	for start := time.Duration(0); start < descriptor.Duration; start += step {
		starts = append(starts, start)
	}

	chunks := make([]Chunk, 0, len(starts))
	for i, start := range starts {
		end := min(start+s.chunk, descriptor.Duration)
		last := i == len(starts)-1

		// Absorb a short final chunk into the previous one instead of
		// emitting it standalone.
		if last && len(chunks) > 0 && end-start < absorbThreshold {
			prev := chunks[len(chunks)-1]
			if err := s.extract(ctx, descriptor.Path, prev.Path, prev.StartTime, end); err != nil {
				_ = s.deps.files.RemoveAll(tempDir)
				return nil, err
			}
			chunks[len(chunks)-1] = Chunk{Path: prev.Path, Index: prev.Index, StartTime: prev.StartTime, EndTime: end}
			break
		}

		path := filepath.Join(tempDir, fmt.Sprintf("chunk_%03d.wav", i))
		if err := s.extract(ctx, descriptor.Path, path, start, end); err != nil {
			for _, c := range chunks {
				_ = s.deps.files.Remove(c.Path)
			}
			_ = s.deps.files.RemoveAll(tempDir)
			return nil, err
		}
		chunks = append(chunks, Chunk{Path: path, Index: len(chunks), StartTime: start, EndTime: end})
	}

	if len(chunks) == 0 {
		return []Chunk{{Path: descriptor.Path, Index: 0, StartTime: 0, EndTime: descriptor.Duration}}, nil
	}

	return chunks, nil
}

func (s *fixedWindowSplitter) extract(ctx context.Context, src, dst string, start, end time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return runExtractChunk(ctx, s.deps.cmd, s.ffmpegPath, src, dst, start, end)
}
