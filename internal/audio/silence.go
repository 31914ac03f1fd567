package audio

import (
	"math"
)

// span is a half-open [start, end) range in milliseconds.
type span struct {
	start int64
	end   int64
}

// DBFS returns the average loudness of the clip in decibels relative to
// full scale. A clip of pure silence returns negative infinity.
func (c *Clip) DBFS() float64 {
	if len(c.Samples) == 0 {
		return math.Inf(-1)
	}
	var sum float64
	for _, s := range c.Samples {
		normalized := float64(s) / 32768.0
		sum += normalized * normalized
	}
	rms := math.Sqrt(sum / float64(len(c.Samples)))
	if rms == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms)
}

// detectNonSilent scans the clip with a sliding window of minSilenceLen ms
// advancing by seekStep ms and returns the ranges that are not silent. A
// window is silent when its loudness is at or below silenceThresh dBFS.
func detectNonSilent(c *Clip, minSilenceLen, seekStep int64, silenceThresh float64) []span {
	total := c.DurationMS()
	if total == 0 {
		return nil
	}
	if total < minSilenceLen {
		if c.DBFS() <= silenceThresh {
			return nil
		}
		return []span{{0, total}}
	}

	lastStart := total - minSilenceLen
	var starts []int64
	for s := int64(0); s < lastStart; s += seekStep {
		starts = append(starts, s)
	}
	starts = append(starts, lastStart)

	var silentStarts []int64
	for _, s := range starts {
		window := c.SliceMS(s, s+minSilenceLen)
		if window.DBFS() <= silenceThresh {
			silentStarts = append(silentStarts, s)
		}
	}

	// Merge window starts that overlap or touch into silent ranges.
	var silent []span
	for i, s := range silentStarts {
		if i == 0 || s-silentStarts[i-1] > seekStep {
			silent = append(silent, span{s, s + minSilenceLen})
		} else {
			silent[len(silent)-1].end = s + minSilenceLen
		}
	}

	// Everything between silent ranges is speech.
	var nonsilent []span
	var pos int64
	for _, sl := range silent {
		if sl.start > pos {
			nonsilent = append(nonsilent, span{pos, sl.start})
		}
		pos = sl.end
	}
	if pos < total {
		nonsilent = append(nonsilent, span{pos, total})
	}
	return nonsilent
}
