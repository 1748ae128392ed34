package audio

import "time"

// Descriptor describes prepared audio ready for chunking: 16 kHz mono PCM,
// loudness-normalized, silence-trimmed. Produced by the prepare package;
// consumed here.
type Descriptor struct {
	Path       string
	Duration   time.Duration
	SampleRate int
	Channels   int
}

// Strategy selects which splitting algorithm Split uses.
type Strategy int

const (
	// StrategyFixed splits into fixed-length overlapping windows. This is
	// the only strategy the contract requires.
	StrategyFixed Strategy = iota
	// StrategySilence splits at detected silence points, falling back to
	// StrategyFixed when detection fails or finds nothing. An optional
	// superset preserved from the reference chunker for callers who want
	// cut points that respect natural pauses.
	StrategySilence
)

// ChunkingOptions configures Split.
type ChunkingOptions struct {
	Enabled     bool
	Chunk       time.Duration
	Overlap     time.Duration
	MinDuration time.Duration
	Strategy    Strategy

	// FFmpegPath is the ffmpeg binary used for extraction. Required.
	FFmpegPath string
}

// absorbThreshold is the fixed 300s threshold below which a short final
// chunk is merged into its predecessor rather than emitted standalone.
const absorbThreshold = 5 * time.Minute
