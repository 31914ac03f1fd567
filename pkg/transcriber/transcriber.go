// Package transcriber implements the wire contract of remote transcription
// workers: a health probe on the worker root and a blocking POST of raw WAV
// bytes to /transcribe that returns the transcript with per-segment timing.
package transcriber

import (
	"context"
	"errors"
)

var (
	// ErrWorkerUnreachable is returned when the worker cannot be reached at
	// the transport level. Callers treat this as the worker being offline.
	ErrWorkerUnreachable = errors.New("worker unreachable")

	// ErrWorkerStatus is returned when the worker answered with an
	// unexpected HTTP status. The worker itself is still alive.
	ErrWorkerStatus = errors.New("unexpected worker status")
)

// Segment is a single timed span of transcribed speech, with millisecond
// bounds local to the audio the worker was given.
type Segment struct {
	StartMS int64  `json:"start_ms"`
	EndMS   int64  `json:"end_ms"`
	Text    string `json:"text"`
}

// Result is the transcript a worker produced for one chunk of audio.
type Result struct {
	Text     string    `json:"text"`
	TimeMS   int64     `json:"time_ms"`
	Segments []Segment `json:"segments"`
}

// Transcriber is the client-side view of a transcription worker.
type Transcriber interface {
	// Probe checks whether the worker at baseURL is alive.
	Probe(ctx context.Context, baseURL string) error

	// Transcribe sends one WAV chunk to the worker at baseURL and blocks
	// until the transcript is returned. Chunk transcription can take
	// minutes, so callers should expect long waits.
	Transcribe(ctx context.Context, baseURL string, wavData []byte) (*Result, error)
}
