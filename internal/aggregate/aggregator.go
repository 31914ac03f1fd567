// Package aggregate stitches per-chunk transcripts back into one continuous
// transcript. Segment timestamps are shifted by the source-time offset of
// their chunk, computed from the original chunk durations rather than the
// per-chunk local times.
package aggregate

import (
	"fmt"
	"strings"

	"github.com/orchardaudio/orchard/pkg/transcriber"
)

// TimedSegment is a transcript segment positioned in source time, with both
// millisecond bounds and human-readable timestamps.
type TimedSegment struct {
	Start   string `json:"start"`
	End     string `json:"end"`
	StartMS int64  `json:"start_ms"`
	EndMS   int64  `json:"end_ms"`
	Text    string `json:"text"`
}

// FinalResult is the assembled transcript for a whole job.
type FinalResult struct {
	Text                  string         `json:"text"`
	TotalProcessingTimeMS int64          `json:"total_processing_time_ms"`
	SegmentsCount         int            `json:"segments_count"`
	Segments              []TimedSegment `json:"segments"`
}

// Aggregate combines per-chunk results into a single transcript. results
// and chunkDurationsMS are parallel to the original chunk order; a nil
// result means the chunk failed and is omitted from the text, but its
// planned duration still advances the offset so later segments stay aligned
// to the source recording.
func Aggregate(results []*transcriber.Result, chunkDurationsMS []int64) *FinalResult {
	var fullText strings.Builder
	var totalTimeMS int64
	segments := []TimedSegment{}

	var offsetMS int64
	for i, res := range results {
		if res != nil {
			if text := strings.TrimSpace(res.Text); text != "" {
				fullText.WriteString(text)
				fullText.WriteString("\n")
			}
			totalTimeMS += res.TimeMS

			for _, seg := range res.Segments {
				segments = append(segments, TimedSegment{
					Start:   FormatTimestamp(seg.StartMS + offsetMS),
					End:     FormatTimestamp(seg.EndMS + offsetMS),
					StartMS: seg.StartMS + offsetMS,
					EndMS:   seg.EndMS + offsetMS,
					Text:    seg.Text,
				})
			}
		}

		if i < len(chunkDurationsMS) {
			offsetMS += chunkDurationsMS[i]
		}
	}

	return &FinalResult{
		Text:                  strings.TrimSpace(fullText.String()),
		TotalProcessingTimeMS: totalTimeMS,
		SegmentsCount:         len(segments),
		Segments:              segments,
	}
}

// FormatTimestamp renders a millisecond offset as HH:MM:SS.mmm.
func FormatTimestamp(ms int64) string {
	hours := ms / 3600000
	ms %= 3600000
	minutes := ms / 60000
	ms %= 60000
	seconds := ms / 1000
	ms %= 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, seconds, ms)
}
