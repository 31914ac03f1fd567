package audio

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	// defaultMinLengthMS is the minimum chunk length. Shorter speech runs
	// are coalesced with their successors.
	defaultMinLengthMS = 30000

	// defaultSilenceLenMS is how much continuous silence counts as a gap.
	defaultSilenceLenMS = 700

	// seekStepMS is the silence-scan window step.
	seekStepMS = 100

	// mergeGapMS merges speech ranges separated by less silence than this.
	mergeGapMS = 3000

	// padMS is the pre-roll and post-roll kept around each speech range.
	padMS = 500

	// fallbackTileMS is the fixed tile size used when no speech is found.
	fallbackTileMS = 60000

	// Dynamic silence threshold: average loudness minus this offset,
	// clamped to [minSilenceThreshDB, maxSilenceThreshDB].
	threshOffsetDB     = 12.0
	minSilenceThreshDB = -60.0
	maxSilenceThreshDB = -20.0
)

// SplitOptions controls silence-aware splitting. Zero values select the
// defaults above; a nil SilenceThreshDB derives the threshold from the
// recording's average loudness.
type SplitOptions struct {
	MinLengthMS     int64
	SilenceLenMS    int64
	SilenceThreshDB *float64
}

// Chunk is one exported chunk file with its known duration.
type Chunk struct {
	Path       string
	DurationMS int64
}

// Split loads the recording at path, cuts it at silence into chunks of at
// least MinLengthMS (except possibly the last), and exports them as WAV
// files named <base>_partNNN.wav under outDir. The returned chunks preserve
// source time order.
func Split(path, outDir string, opts SplitOptions) ([]Chunk, error) {
	if opts.MinLengthMS <= 0 {
		opts.MinLengthMS = defaultMinLengthMS
	}
	if opts.SilenceLenMS <= 0 {
		opts.SilenceLenMS = defaultSilenceLenMS
	}

	logger := logrus.WithField("component", "splitter")

	clip, err := ReadWAV(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	total := clip.DurationMS()

	avgDBFS := clip.DBFS()
	thresh := deriveThreshold(avgDBFS, opts.SilenceThreshDB)
	logger.WithFields(logrus.Fields{
		"file":        path,
		"duration_ms": total,
		"avg_dbfs":    avgDBFS,
		"threshold":   thresh,
	}).Info("Splitting audio")

	ranges := detectNonSilent(clip, opts.SilenceLenMS, seekStepMS, thresh)

	var pieces []*Clip
	if len(ranges) == 0 {
		// Nothing detected as speech; fall back to fixed tiling so the
		// whole recording is still covered.
		logger.Warn("No speech detected, using fixed-time splitting")
		for start := int64(0); start < total; start += fallbackTileMS {
			end := start + fallbackTileMS
			if end > total {
				end = total
			}
			pieces = append(pieces, clip.SliceMS(start, end))
		}
	} else {
		merged := mergeRanges(ranges, mergeGapMS)
		logger.WithFields(logrus.Fields{
			"detected": len(ranges),
			"merged":   len(merged),
		}).Debug("Speech ranges detected")

		for _, r := range merged {
			start := r.start - padMS
			if start < 0 {
				start = 0
			}
			end := r.end + padMS
			if end > total {
				end = total
			}
			pieces = append(pieces, clip.SliceMS(start, end))
		}
	}

	pieces = coalesceShort(pieces, opts.MinLengthMS)

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	chunks := make([]Chunk, 0, len(pieces))
	for i, p := range pieces {
		outPath := filepath.Join(outDir, fmt.Sprintf("%s_part%03d.wav", base, i))
		if err := WriteWAV(outPath, p); err != nil {
			return nil, fmt.Errorf("failed to export chunk %d: %w", i, err)
		}
		chunks = append(chunks, Chunk{Path: outPath, DurationMS: p.DurationMS()})
		logger.WithFields(logrus.Fields{
			"chunk":       filepath.Base(outPath),
			"duration_ms": p.DurationMS(),
		}).Debug("Chunk exported")
	}

	logger.WithField("chunks", len(chunks)).Info("Splitting complete")
	return chunks, nil
}

func deriveThreshold(avgDBFS float64, explicit *float64) float64 {
	if explicit != nil {
		return *explicit
	}
	t := avgDBFS - threshOffsetDB
	if t > maxSilenceThreshDB {
		t = maxSilenceThreshDB
	}
	if t < minSilenceThreshDB {
		t = minSilenceThreshDB
	}
	return t
}

// mergeRanges joins adjacent speech ranges whose silence gap is shorter
// than gap ms.
func mergeRanges(ranges []span, gap int64) []span {
	if len(ranges) == 0 {
		return nil
	}
	merged := []span{ranges[0]}
	for _, r := range ranges[1:] {
		last := &merged[len(merged)-1]
		if r.start-last.end < gap {
			last.end = r.end
		} else {
			merged = append(merged, r)
		}
	}
	return merged
}

// coalesceShort appends each piece into a running chunk until the running
// chunk reaches minLen, then flushes it. The final chunk may stay short.
func coalesceShort(pieces []*Clip, minLen int64) []*Clip {
	var out []*Clip
	var current *Clip
	for _, p := range pieces {
		switch {
		case current == nil:
			current = p
		case current.DurationMS() < minLen:
			current = current.Append(p)
		default:
			out = append(out, current)
			current = p
		}
	}
	if current != nil {
		out = append(out, current)
	}
	return out
}
