// Package prepare decodes a probed media file down to the audio shape the
// rest of the pipeline assumes: 16 kHz mono PCM, loudness-normalized,
// silence-trimmed.
package prepare

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/Acclerate/video-transcriber/internal/audio"
)

// Milestone names passed to the progress sink, matching the coarse phases
// the contract requires.
const (
	MilestoneDecodeStart   = "decode_start"
	MilestoneDecodeDone    = "decode_done"
	MilestoneNormalizeDone = "normalize_done"
)

// ProgressFunc reports a milestone, following the teacher's mapreduce.go
// progress-callback shape (phase name, current, total), narrowed to the
// boolean milestones AudioPreparer emits.
type ProgressFunc func(milestone string)

const (
	targetLoudnessLUFS = -20.0
	silenceThresholdDB = -40.0
	minSilenceSeconds  = 1.0
	sampleRate         = 16000
	channels           = 1
)

// commandRunner executes ffmpeg and returns combined output. Mirrors the
// audio package's injectable seam.
type commandRunner interface {
	CombinedOutput(ctx context.Context, name string, args []string) ([]byte, error)
}

type osCommandRunner struct{}

func (osCommandRunner) CombinedOutput(ctx context.Context, name string, args []string) ([]byte, error) {
	// #nosec G204 -- name and args are controlled by the preparer, not user input
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// Preparer decodes and normalizes audio via ffmpeg.
type Preparer struct {
	ffmpegPath string
	cmd        commandRunner
	logger     *slog.Logger
}

// Option configures a Preparer.
type Option func(*Preparer)

// WithCommandRunner overrides command execution, for tests.
func WithCommandRunner(cmd commandRunner) Option {
	return func(p *Preparer) { p.cmd = cmd }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Preparer) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a Preparer bound to the given ffmpeg binary.
func New(ffmpegPath string, opts ...Option) *Preparer {
	p := &Preparer{
		ffmpegPath: ffmpegPath,
		cmd:        osCommandRunner{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Prepare decodes path into 16 kHz mono PCM at outputDir/prepared.wav,
// loudness-normalized and silence-trimmed. If normalization fails, it logs
// a warning and falls back to the plain decode — normalization alone never
// fails the job, per contract.
func (p *Preparer) Prepare(ctx context.Context, path string, durationSeconds float64, outputDir string, progress ProgressFunc) (audio.Descriptor, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return audio.Descriptor{}, fmt.Errorf("%w: create output dir: %v", ErrPrepareFailed, err)
	}
	outPath := filepath.Join(outputDir, "prepared.wav")

	if progress != nil {
		progress(MilestoneDecodeStart)
	}

	normalizedArgs := p.buildArgs(path, outPath, true)
	if err := p.run(ctx, normalizedArgs); err != nil {
		p.logger.WarnContext(ctx, "audio normalization failed, falling back to plain decode",
			slog.String("path", path), slog.Any("error", err))

		plainArgs := p.buildArgs(path, outPath, false)
		if err := p.run(ctx, plainArgs); err != nil {
			return audio.Descriptor{}, fmt.Errorf("%w: %v", ErrPrepareFailed, err)
		}
		if progress != nil {
			progress(MilestoneDecodeDone)
		}
		return audio.Descriptor{
			Path:       outPath,
			Duration:   secondsToDuration(durationSeconds),
			SampleRate: sampleRate,
			Channels:   channels,
		}, nil
	}

	if progress != nil {
		progress(MilestoneDecodeDone)
		progress(MilestoneNormalizeDone)
	}

	return audio.Descriptor{
		Path:       outPath,
		Duration:   secondsToDuration(durationSeconds),
		SampleRate: sampleRate,
		Channels:   channels,
	}, nil
}

// buildArgs constructs the ffmpeg invocation. When normalize is true it
// chains loudnorm (loudness target) and silenceremove (leading/trailing
// trim) filters; when false it performs only the format conversion.
func (p *Preparer) buildArgs(src, dst string, normalize bool) []string {
	args := []string{"-y", "-i", src}

	if normalize {
		// silenceremove only trims silence that has persisted for
		// minSilenceSeconds, which doubles as the keep-silence margin: up
		// to just under that long survives at each edge.
		filter := fmt.Sprintf(
			"loudnorm=I=%.1f:TP=-1.5:LRA=11,"+
				"silenceremove=start_periods=1:start_duration=%.1f:start_threshold=%ddB:"+
				"stop_periods=1:stop_duration=%.1f:stop_threshold=%ddB",
			targetLoudnessLUFS, minSilenceSeconds, int(silenceThresholdDB),
			minSilenceSeconds, int(silenceThresholdDB),
		)
		args = append(args, "-af", filter)
	}

	args = append(args,
		"-ar", fmt.Sprintf("%d", sampleRate),
		"-ac", fmt.Sprintf("%d", channels),
		"-c:a", "pcm_s16le",
		dst,
	)
	return args
}

func (p *Preparer) run(ctx context.Context, args []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	out, err := p.cmd.CombinedOutput(ctx, p.ffmpegPath, args)
	if err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, bytes.TrimSpace(out))
	}
	return nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
