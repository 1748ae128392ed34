package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Acclerate/video-transcriber/internal/ffmpeg"
)

// Chunk represents a segment of audio extracted from a larger file.
// The caller is responsible for cleaning up chunk files after use.
type Chunk struct {
	Path      string        // Absolute path to the chunk file.
	Index     int           // Zero-based index for ordering.
	StartTime time.Duration // Start timestamp in the source audio.
	EndTime   time.Duration // End timestamp in the source audio.
}

// Duration returns the length of this chunk.
func (c Chunk) Duration() time.Duration {
	return c.EndTime - c.StartTime
}

// String returns a human-readable representation for logging.
func (c Chunk) String() string {
	return fmt.Sprintf("chunk %d: %s-%s", c.Index, c.StartTime, c.EndTime)
}

// Default chunking parameters, mirrored from the reference chunker.
const (
	// defaultNoiseDB is the silence detection threshold in dB.
	defaultNoiseDB = -30.0

	// defaultMinSilence is the minimum silence duration to detect.
	defaultMinSilence = 500 * time.Millisecond

	// defaultMaxChunkSize is the target maximum chunk size in bytes.
	defaultMaxChunkSize = 20 * 1024 * 1024

	// defaultMaxChunkDuration bounds any single silence-delimited segment.
	defaultMaxChunkDuration = 5 * time.Minute

	// defaultSilenceChunkerOverlap lets a chunk start slightly before its
	// logical boundary so words at the edges are captured twice.
	defaultSilenceChunkerOverlap = 2 * time.Second

	// defaultOverlap is the fallback time-chunker's overlap.
	defaultOverlap = 30 * time.Second

	// defaultTargetDuration is the fallback time-chunker's window length.
	defaultTargetDuration = 10 * time.Minute

	// trailingSilenceEndPadding is restored after trimming trailing silence
	// so the last words are still captured by the backend.
	trailingSilenceEndPadding = 5 * time.Second
)

// WarnFunc is a callback for non-fatal chunking warnings.
type WarnFunc func(msg string)

func defaultWarnFunc(msg string) {
	fmt.Fprintln(os.Stderr, msg)
}

// chunkEncodingArgs returns FFmpeg encoding arguments for chunk extraction.
// Re-encodes to 16kHz mono PCM, matching AudioPreparer's output contract,
// so a chunk is always independently decodable even from a truncated cut.
func chunkEncodingArgs() []string {
	return []string{
		"-c:a", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
	}
}

// runExtractChunk extracts [start, end) from audioPath into chunkPath.
func runExtractChunk(ctx context.Context, cmd commandRunner, ffmpegPath, audioPath, chunkPath string, start, end time.Duration) error {
	args := []string{
		"-y",
		"-i", audioPath,
		"-ss", formatFFmpegTime(start),
		"-to", formatFFmpegTime(end),
	}
	args = append(args, chunkEncodingArgs()...)
	args = append(args, chunkPath)

	output, err := cmd.CombinedOutput(ctx, ffmpegPath, args)
	if err != nil {
		return fmt.Errorf("%w: failed to extract chunk %s: %v\nOutput: %s",
			ErrChunkingFailed, chunkPath, err, string(output))
	}
	return nil
}

// formatFFmpegTime formats a duration for FFmpeg -ss/-to arguments.
func formatFFmpegTime(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := d.Seconds() - float64(h*3600+m*60)
	return fmt.Sprintf("%02d:%02d:%06.3f", h, m, s)
}

// parseDurationFromFFmpegOutput extracts duration from FFmpeg stderr.
func parseDurationFromFFmpegOutput(output string) (time.Duration, error) {
	durationRe := regexp.MustCompile(`Duration:\s*(\d+):(\d+):(\d+)\.(\d+)`)
	if matches := durationRe.FindStringSubmatch(output); matches != nil {
		return parseTimeComponents(matches[1], matches[2], matches[3], matches[4])
	}

	timeRe := regexp.MustCompile(`time=(\d+):(\d+):(\d+)\.(\d+)`)
	allMatches := timeRe.FindAllStringSubmatch(output, -1)
	if len(allMatches) > 0 {
		matches := allMatches[len(allMatches)-1]
		return parseTimeComponents(matches[1], matches[2], matches[3], matches[4])
	}

	return 0, fmt.Errorf("could not parse duration from ffmpeg output")
}

func parseTimeComponents(hours, minutes, seconds, fractional string) (time.Duration, error) {
	h, _ := strconv.Atoi(hours)
	m, _ := strconv.Atoi(minutes)
	s, _ := strconv.Atoi(seconds)

	frac, _ := strconv.Atoi(fractional)
	ms := frac
	switch n := len(fractional); {
	case n == 1:
		ms = frac * 100
	case n == 2:
		ms = frac * 10
	case n == 3:
	case n > 3:
		for i := n; i > 3; i-- {
			ms /= 10
		}
	}

	return time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(ms)*time.Millisecond, nil
}

// silenceSplitter splits audio at detected silence points, falling back to
// the fixed-window splitter if no silences are found. Preserved from the
// reference chunker as the optional StrategySilence.
type silenceSplitter struct {
	ffmpegPath   string
	noiseDB      float64
	minSilence   time.Duration
	maxChunkSize int64
	fallback     *fixedWindowSplitter
	warn         WarnFunc
	deps         chunkerDeps
}

func newSilenceSplitterFromOptions(opts ChunkingOptions, deps chunkerDeps) (*silenceSplitter, error) {
	if opts.FFmpegPath == "" {
		return nil, fmt.Errorf("ffmpegPath cannot be empty: %w", ffmpeg.ErrNotFound)
	}
	return &silenceSplitter{
		ffmpegPath:   opts.FFmpegPath,
		noiseDB:      defaultNoiseDB,
		minSilence:   defaultMinSilence,
		maxChunkSize: defaultMaxChunkSize,
		warn:         defaultWarnFunc,
		fallback:     newFixedWindowSplitter(opts, deps),
		deps:         deps,
	}, nil
}

// split splits the audio file at silence points, falling back to
// fixed-window splitting if detection fails or finds nothing.
func (s *silenceSplitter) split(ctx context.Context, descriptor Descriptor) ([]Chunk, error) {
	fileInfo, err := s.deps.statter.Stat(descriptor.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileNotFound, err)
	}
	fileSize := fileInfo.Size()

	silences, totalDuration, err := s.detectSilences(ctx, descriptor.Path)
	if err != nil {
		if s.warn != nil {
			s.warn(fmt.Sprintf("silence detection failed (%v), falling back to fixed-window chunking", err))
		}
		return s.fallback.split(ctx, descriptor)
	}
	if len(silences) == 0 {
		if s.warn != nil {
			s.warn("no silences detected, falling back to fixed-window chunking")
		}
		return s.fallback.split(ctx, descriptor)
	}

	effectiveDuration := trimTrailingSilence(silences, totalDuration)
	if effectiveDuration < totalDuration {
		effectiveDuration = min(effectiveDuration+trailingSilenceEndPadding, totalDuration)
	}

	avgBitrate := float64(fileSize) / totalDuration.Seconds()
	cutPoints := s.selectCutPoints(silences, avgBitrate)

	tempDir, err := s.deps.tempDir.MkdirTemp("", "video-transcriber-chunks-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	chunks, err := s.extractChunks(ctx, descriptor.Path, tempDir, cutPoints, effectiveDuration)
	if err != nil {
		_ = s.deps.files.RemoveAll(tempDir)
		return nil, err
	}
	return chunks, nil
}

// trimTrailingSilence returns an effective end duration excluding trailing
// silence >= 5s that extends to (or within 1s of) the end of the file.
func trimTrailingSilence(silences []silencePoint, totalDuration time.Duration) time.Duration {
	if len(silences) == 0 {
		return totalDuration
	}

	lastSilence := silences[len(silences)-1]

	const tolerance = 1 * time.Second
	const minTrailingSilence = 5 * time.Second

	silenceDuration := lastSilence.end - lastSilence.start
	extendsToEnd := totalDuration-lastSilence.end < tolerance

	if extendsToEnd && silenceDuration >= minTrailingSilence {
		return lastSilence.start
	}
	return totalDuration
}

type silencePoint struct {
	start time.Duration
	end   time.Duration
}

func (s silencePoint) midpoint() time.Duration {
	return s.start + (s.end-s.start)/2
}

func (s *silenceSplitter) detectSilences(ctx context.Context, audioPath string) ([]silencePoint, time.Duration, error) {
	args := []string{
		"-i", audioPath,
		"-af", fmt.Sprintf("silencedetect=noise=%ddB:d=%.2f", int(s.noiseDB), s.minSilence.Seconds()),
		"-f", "null",
		"-",
	}

	output, err := s.deps.cmd.CombinedOutput(ctx, s.ffmpegPath, args)
	if err != nil && len(output) == 0 {
		return nil, 0, err
	}

	outputStr := string(output)
	silences := parseSilenceOutput(outputStr)
	duration, err := parseDurationFromFFmpegOutput(outputStr)
	if err != nil {
		return nil, 0, fmt.Errorf("could not determine audio duration: %w", err)
	}

	return silences, duration, nil
}

func parseSilenceOutput(output string) []silencePoint {
	var silences []silencePoint
	var currentStart time.Duration
	hasStart := false

	startRe := regexp.MustCompile(`silence_start:\s*([\d.]+)`)
	endRe := regexp.MustCompile(`silence_end:\s*([\d.]+)`)

	for _, line := range strings.Split(output, "\n") {
		if matches := startRe.FindStringSubmatch(line); matches != nil {
			if seconds, err := strconv.ParseFloat(matches[1], 64); err == nil {
				currentStart = time.Duration(seconds * float64(time.Second))
				hasStart = true
			}
		}
		if matches := endRe.FindStringSubmatch(line); matches != nil && hasStart {
			if seconds, err := strconv.ParseFloat(matches[1], 64); err == nil {
				silences = append(silences, silencePoint{
					start: currentStart,
					end:   time.Duration(seconds * float64(time.Second)),
				})
				hasStart = false
			}
		}
	}

	return silences
}

// selectCutPoints chooses silence midpoints that keep chunks under
// maxChunkSize, via a greedy accumulate-until-would-exceed algorithm.
func (s *silenceSplitter) selectCutPoints(silences []silencePoint, bytesPerSecond float64) []time.Duration {
	if len(silences) == 0 {
		return nil
	}

	maxDuration := time.Duration(float64(s.maxChunkSize) / bytesPerSecond * float64(time.Second))

	var cutPoints []time.Duration
	lastCut := time.Duration(0)
	var candidate *time.Duration

	for _, silence := range silences {
		mid := silence.midpoint()
		durationSinceCut := mid - lastCut

		if durationSinceCut < maxDuration {
			candidate = &mid
			continue
		}
		if candidate != nil {
			cutPoints = append(cutPoints, *candidate)
			lastCut = *candidate
			candidate = nil
			if mid-lastCut < maxDuration {
				candidate = &mid
			}
		} else {
			cutPoints = append(cutPoints, mid)
			lastCut = mid
		}
	}

	return cutPoints
}

// extractChunks creates chunk files at the given cut points, subdividing any
// segment that exceeds defaultMaxChunkDuration and overlapping each chunk
// (after the first) by defaultSilenceChunkerOverlap.
func (s *silenceSplitter) extractChunks(ctx context.Context, audioPath, tempDir string, cutPoints []time.Duration, totalDuration time.Duration) ([]Chunk, error) {
	boundaries := make([]time.Duration, 0, len(cutPoints)+2)
	boundaries = append(boundaries, 0)
	boundaries = append(boundaries, cutPoints...)
	boundaries = append(boundaries, totalDuration)
	boundaries = expandBoundariesForDuration(boundaries, defaultMaxChunkDuration)

	chunks := make([]Chunk, 0, len(boundaries)-1)
	for i := 0; i < len(boundaries)-1; i++ {
		start := boundaries[i]
		end := boundaries[i+1]

		extractStart := start
		if i > 0 && start >= defaultSilenceChunkerOverlap {
			extractStart = start - defaultSilenceChunkerOverlap
		}

		chunkPath := filepath.Join(tempDir, fmt.Sprintf("chunk_%03d.wav", i))
		if err := runExtractChunk(ctx, s.deps.cmd, s.ffmpegPath, audioPath, chunkPath, extractStart, end); err != nil {
			for _, c := range chunks {
				_ = s.deps.files.Remove(c.Path)
			}
			return nil, err
		}

		chunks = append(chunks, Chunk{Path: chunkPath, Index: i, StartTime: extractStart, EndTime: end})
	}

	return chunks, nil
}

// expandBoundariesForDuration subdivides segments exceeding maxDuration.
func expandBoundariesForDuration(boundaries []time.Duration, maxDuration time.Duration) []time.Duration {
	if len(boundaries) < 2 {
		return boundaries
	}

	expanded := make([]time.Duration, 0, len(boundaries))
	for i := 0; i < len(boundaries)-1; i++ {
		start := boundaries[i]
		end := boundaries[i+1]
		expanded = append(expanded, start)

		segmentDuration := end - start
		if segmentDuration > maxDuration {
			numSegments := int((segmentDuration + maxDuration - 1) / maxDuration)
			subDuration := segmentDuration / time.Duration(numSegments)
			for j := 1; j < numSegments; j++ {
				expanded = append(expanded, start+subDuration*time.Duration(j))
			}
		}
	}
	expanded = append(expanded, boundaries[len(boundaries)-1])

	return expanded
}

// CleanupChunks removes all chunk files and their parent temp directory.
func CleanupChunks(chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tempDir := filepath.Dir(chunks[0].Path)
	if !strings.Contains(tempDir, "video-transcriber-chunks-") {
		for _, chunk := range chunks {
			_ = os.Remove(chunk.Path)
		}
		return nil
	}

	return os.RemoveAll(tempDir)
}
