package format

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Acclerate/video-transcriber/internal/audio"
)

// Text renders a transcript as its plain merged text, with a trailing
// newline. This is the default rendering for the CLI.
func Text(t audio.Transcript) string {
	return strings.TrimSpace(t.Text) + "\n"
}

// transcriptJSON is the on-the-wire shape for the json renderer: mirrors
// audio.Transcript but with JSON-friendly field names.
type transcriptJSON struct {
	Text              string        `json:"text"`
	DetectedLanguage  string        `json:"detected_language,omitempty"`
	Confidence        float64       `json:"confidence"`
	ProcessingSeconds float64       `json:"processing_seconds"`
	ModelID           string        `json:"model_id,omitempty"`
	Segments          []segmentJSON `json:"segments"`
}

type segmentJSON struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// JSON renders a transcript as indented JSON.
func JSON(t audio.Transcript) ([]byte, error) {
	doc := transcriptJSON{
		Text:              t.Text,
		DetectedLanguage:  t.DetectedLanguage,
		Confidence:        t.Confidence,
		ProcessingSeconds: t.ProcessingSeconds,
		ModelID:           t.ModelID,
		Segments:          make([]segmentJSON, len(t.Segments)),
	}
	for i, seg := range t.Segments {
		doc.Segments[i] = segmentJSON{
			Start:      seg.StartSeconds,
			End:        seg.EndSeconds,
			Text:       seg.Text,
			Confidence: seg.Confidence,
		}
	}
	return json.MarshalIndent(doc, "", "  ")
}

// SRT renders a transcript as SubRip subtitles, one cue per segment.
func SRT(t audio.Transcript) string {
	var b strings.Builder
	for i, seg := range t.Segments {
		fmt.Fprintf(&b, "%d\n", i+1)
		fmt.Fprintf(&b, "%s --> %s\n", srtTimestamp(seg.StartSeconds), srtTimestamp(seg.EndSeconds))
		fmt.Fprintf(&b, "%s\n\n", strings.TrimSpace(seg.Text))
	}
	return b.String()
}

// VTT renders a transcript as WebVTT subtitles, one cue per segment.
func VTT(t audio.Transcript) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for _, seg := range t.Segments {
		fmt.Fprintf(&b, "%s --> %s\n", vttTimestamp(seg.StartSeconds), vttTimestamp(seg.EndSeconds))
		fmt.Fprintf(&b, "%s\n\n", strings.TrimSpace(seg.Text))
	}
	return b.String()
}

// srtTimestamp formats seconds as SRT's HH:MM:SS,mmm.
func srtTimestamp(seconds float64) string {
	return clockTimestamp(seconds, ",")
}

// vttTimestamp formats seconds as WebVTT's HH:MM:SS.mmm.
func vttTimestamp(seconds float64) string {
	return clockTimestamp(seconds, ".")
}

func clockTimestamp(seconds float64, millisSep string) string {
	if seconds < 0 {
		seconds = 0
	}
	totalMillis := int64(seconds*1000 + 0.5)
	h := totalMillis / 3_600_000
	m := (totalMillis % 3_600_000) / 60_000
	s := (totalMillis % 60_000) / 1000
	ms := totalMillis % 1000
	return fmt.Sprintf("%02d:%02d:%02d%s%03d", h, m, s, millisSep, ms)
}
