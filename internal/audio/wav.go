// Package audio loads recordings, detects speech against silence, and splits
// long recordings into chunk files sized for remote transcription.
//
// Everything in this package operates on 16 kHz mono 16-bit PCM; ReadWAV
// normalizes whatever it is given into that format.
package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	// SampleRate is the pipeline-wide sample rate in Hz.
	SampleRate = 16000

	// NumChannels is the pipeline-wide channel count.
	NumChannels = 1

	// BitDepth is the pipeline-wide sample bit depth.
	BitDepth = 16
)

// Clip is a normalized (16 kHz mono) run of PCM samples.
type Clip struct {
	Samples []int16
}

// DurationMS returns the clip length in milliseconds.
func (c *Clip) DurationMS() int64 {
	return int64(len(c.Samples)) * 1000 / SampleRate
}

// SliceMS returns the sub-clip covering [startMS, endMS), clamped to the
// clip bounds. The returned clip shares the underlying sample array.
func (c *Clip) SliceMS(startMS, endMS int64) *Clip {
	start := int(startMS * SampleRate / 1000)
	end := int(endMS * SampleRate / 1000)
	if start < 0 {
		start = 0
	}
	if end > len(c.Samples) {
		end = len(c.Samples)
	}
	if start >= end {
		return &Clip{}
	}
	return &Clip{Samples: c.Samples[start:end]}
}

// Append returns a new clip holding this clip's samples followed by other's.
func (c *Clip) Append(other *Clip) *Clip {
	out := make([]int16, 0, len(c.Samples)+len(other.Samples))
	out = append(out, c.Samples...)
	out = append(out, other.Samples...)
	return &Clip{Samples: out}
}

// ReadWAV loads a WAV file and normalizes it to 16 kHz mono. Multi-channel
// input is downmixed by averaging, other sample rates are resampled with
// linear interpolation, and 24/32-bit samples are reduced to 16-bit.
func ReadWAV(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer func() { _ = f.Close() }()

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return nil, errors.New("invalid WAV file format")
	}
	if dec.BitDepth != 16 && dec.BitDepth != 24 && dec.BitDepth != 32 {
		return nil, fmt.Errorf("unsupported bit depth: %d", dec.BitDepth)
	}
	channels := int(dec.NumChans)
	if channels < 1 {
		return nil, fmt.Errorf("unsupported number of channels: %d", channels)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read PCM data: %w", err)
	}

	frames := len(buf.Data) / channels
	shift := uint(dec.BitDepth - 16)
	mono := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var acc int
		for ch := 0; ch < channels; ch++ {
			acc += buf.Data[i*channels+ch]
		}
		s := acc / channels
		if shift > 0 {
			s >>= shift
		}
		if s > 32767 {
			s = 32767
		} else if s < -32768 {
			s = -32768
		}
		mono[i] = int16(s)
	}

	if int(dec.SampleRate) != SampleRate {
		mono = resample(mono, int(dec.SampleRate), SampleRate)
	}
	return &Clip{Samples: mono}, nil
}

// WriteWAV saves a clip as a 16 kHz mono 16-bit PCM WAV file, creating the
// parent directory if needed.
func WriteWAV(path string, c *Clip) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() { _ = out.Close() }()

	enc := wav.NewEncoder(out, SampleRate, BitDepth, NumChannels, 1)
	intSamples := make([]int, len(c.Samples))
	for i, s := range c.Samples {
		intSamples[i] = int(s)
	}
	if err := enc.Write(&gaudio.IntBuffer{
		Data:   intSamples,
		Format: &gaudio.Format{SampleRate: SampleRate, NumChannels: NumChannels},
	}); err != nil {
		return fmt.Errorf("failed to write to WAV encoder: %w", err)
	}
	return enc.Close()
}

// resample converts between sample rates with linear interpolation.
func resample(in []int16, from, to int) []int16 {
	if from == to || len(in) == 0 {
		return in
	}
	n := int(int64(len(in)) * int64(to) / int64(from))
	out := make([]int16, n)
	ratio := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := pos - float64(j)
		out[i] = int16(float64(in[j])*(1-frac) + float64(in[j+1])*frac)
	}
	return out
}
