package audio

import (
	"strings"
	"time"

	"github.com/Acclerate/video-transcriber/internal/backend"
)

// Segment is a single timed span of transcribed text in the merged,
// whole-file timeline (absolute offsets, not chunk-relative).
type Segment struct {
	StartSeconds float64
	EndSeconds   float64
	Text         string
	Confidence   float64
}

// Transcript is the fully merged result of transcribing every chunk of a
// job's audio and reconciling their overlaps back into one timeline.
type Transcript struct {
	Text              string
	DetectedLanguage  string
	Confidence        float64
	Segments          []Segment
	ProcessingSeconds float64
	ModelID           string
}

// ChunkResult pairs a chunk's absolute start offset with the backend's
// per-chunk transcription, so Merge can shift segment timestamps back into
// the whole-file timeline.
type ChunkResult struct {
	Chunk  Chunk
	Result backend.ChunkResult
}

// Merge reconciles per-chunk transcriptions (ordered by chunk index) into a
// single Transcript. Because adjacent chunks overlap by design (§4.3), any
// segment from a later chunk that starts before the previous chunk's end
// boundary is dropped — the earlier chunk's copy of that span wins, since
// it was transcribed with full leading context.
//
// DetectedLanguage is taken from the first chunk that reports one. Each
// segment's confidence defaults to 0.5 if the backend did not report one.
// The overall Transcript.Confidence is the mean of every surviving
// segment's confidence, or 0.5 if no segment survived (§4.3).
func Merge(results []ChunkResult) Transcript {
	var out Transcript
	var texts []string

	for i, cr := range results {
		prevEnd := time.Duration(-1)
		if i > 0 {
			prevEnd = results[i-1].Chunk.EndTime
		}

		if out.DetectedLanguage == "" {
			out.DetectedLanguage = cr.Result.DetectedLanguage
		}

		kept := 0
		for _, seg := range cr.Result.Segments {
			absStart := cr.Chunk.StartTime + secondsToDuration(seg.StartSeconds)
			absEnd := cr.Chunk.StartTime + secondsToDuration(seg.EndSeconds)

			if prevEnd >= 0 && absStart < prevEnd {
				continue
			}

			conf := seg.Confidence
			if conf == 0 {
				conf = 0.5
			}

			out.Segments = append(out.Segments, Segment{
				StartSeconds: absStart.Seconds(),
				EndSeconds:   absEnd.Seconds(),
				Text:         seg.Text,
				Confidence:   conf,
			})
			kept++
		}

		if kept > 0 {
			texts = append(texts, joinSegmentText(out.Segments[len(out.Segments)-kept:]))
		} else if cr.Result.Text != "" && len(cr.Result.Segments) == 0 {
			texts = append(texts, strings.TrimSpace(cr.Result.Text))
		}
	}

	out.Text = strings.Join(texts, " ")
	out.Confidence = meanConfidence(out.Segments)
	return out
}

// meanConfidence returns the mean of every segment's confidence, or 0.5 if
// segs is empty (§4.3's fallback for a transcript with no surviving
// segments).
func meanConfidence(segs []Segment) float64 {
	if len(segs) == 0 {
		return 0.5
	}
	var sum float64
	for _, s := range segs {
		sum += s.Confidence
	}
	return sum / float64(len(segs))
}

func joinSegmentText(segs []Segment) string {
	parts := make([]string, len(segs))
	for i, s := range segs {
		parts[i] = strings.TrimSpace(s.Text)
	}
	return strings.Join(parts, " ")
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
