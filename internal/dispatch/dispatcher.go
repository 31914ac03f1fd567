// Package dispatch assigns audio chunks to transcription workers. Worker
// selection is performance-adaptive: new workers are benchmarked on cheap
// chunks, known workers are scored from their rolling speed history and
// current load, and the selection-plus-reservation step is serialized by a
// single scheduling mutex.
package dispatch

import (
	"context"
	"errors"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orchardaudio/orchard/internal/store"
	"github.com/orchardaudio/orchard/pkg/transcriber"
	"github.com/sirupsen/logrus"
)

// ErrNoWorkerAvailable is returned when no worker can take a chunk.
var ErrNoWorkerAvailable = errors.New("no worker available")

// Duration bands for the selection policy, in seconds. Chunks under
// shortChunkSec are cheap enough to benchmark new workers on; chunks over
// longChunkSec strongly prefer the fastest worker.
const (
	shortChunkSec = 40.0
	longChunkSec  = 60.0

	pendingWeight     = 1000.0
	bandPenaltyWeight = 50.0
	midPenaltyWeight  = 30.0
)

// OnlineWorker is one probe result with its positional id.
type OnlineWorker struct {
	ID     int    `json:"id"`
	URL    string `json:"url"`
	Status string `json:"status"`
}

// Metrics tracks dispatch outcomes.
type Metrics struct {
	ChunksDispatched int64
	ChunksCompleted  int64
	ChunksFailed     int64
}

// Dispatcher selects workers and executes chunk dispatches against them.
type Dispatcher struct {
	store  *store.Store
	client transcriber.Transcriber
	logger *logrus.Entry

	// schedMu serializes the choose-worker + reserve-worker critical
	// section and guards the worker set. The network call runs outside it.
	schedMu sync.Mutex
	workers []string

	metrics Metrics
}

// New creates a dispatcher over the given worker URLs.
func New(st *store.Store, client transcriber.Transcriber, workers []string) *Dispatcher {
	return &Dispatcher{
		store:   st,
		client:  client,
		workers: append([]string(nil), workers...),
		logger:  logrus.WithField("component", "dispatcher"),
	}
}

// Workers returns a copy of the current worker set.
func (d *Dispatcher) Workers() []string {
	d.schedMu.Lock()
	defer d.schedMu.Unlock()
	return append([]string(nil), d.workers...)
}

// SetWorkers replaces the worker set.
func (d *Dispatcher) SetWorkers(workers []string) {
	d.schedMu.Lock()
	defer d.schedMu.Unlock()
	d.workers = append([]string(nil), workers...)
}

// AddWorker appends url to the worker set if not already present and
// creates its store record. It reports whether the worker was added.
func (d *Dispatcher) AddWorker(ctx context.Context, url string) bool {
	d.schedMu.Lock()
	for _, w := range d.workers {
		if w == url {
			d.schedMu.Unlock()
			return false
		}
	}
	d.workers = append(d.workers, url)
	d.schedMu.Unlock()

	d.store.AddWorker(ctx, url)
	d.logger.WithField("worker", url).Info("Worker added")
	return true
}

// RemoveWorker drops url from the worker set and deletes its store record.
// It reports whether the worker was known.
func (d *Dispatcher) RemoveWorker(ctx context.Context, url string) bool {
	d.schedMu.Lock()
	found := false
	kept := d.workers[:0]
	for _, w := range d.workers {
		if w == url {
			found = true
			continue
		}
		kept = append(kept, w)
	}
	d.workers = kept
	d.schedMu.Unlock()

	if !found {
		return false
	}
	d.store.RemoveWorker(ctx, url)
	d.logger.WithField("worker", url).Info("Worker removed")
	return true
}

// ListOnlineWorkers probes every configured worker and returns the ones
// that answered, with 1-based positional ids. Probe outcomes are recorded
// in the store. The result is never nil so it serializes as a JSON array.
func (d *Dispatcher) ListOnlineWorkers(ctx context.Context) []OnlineWorker {
	online := []OnlineWorker{}
	for i, url := range d.Workers() {
		if err := d.client.Probe(ctx, url); err != nil {
			d.logger.WithError(err).WithField("worker", url).Debug("Worker probe failed")
			d.store.MarkWorkerOffline(ctx, url)
			continue
		}
		d.store.MarkWorkerOnline(ctx, url)
		online = append(online, OnlineWorker{ID: i + 1, URL: url, Status: store.WorkerOnline})
	}
	return online
}

// ProcessChunk assigns one chunk to the best available worker, posts it,
// and records the outcome. It returns nil when no worker is available or
// the dispatch failed; failed chunks are never retried elsewhere.
func (d *Dispatcher) ProcessChunk(ctx context.Context, chunkPath, jobID, chunkID string, chunkDurationSec float64) *transcriber.Result {
	workerURL, err := d.reserveWorker(ctx, jobID, chunkDurationSec)
	if err != nil {
		d.logger.WithFields(logrus.Fields{
			"job_id":   jobID,
			"chunk_id": chunkID,
		}).Warn("No worker available for chunk")
		return nil
	}

	logger := d.logger.WithFields(logrus.Fields{
		"job_id":   jobID,
		"chunk_id": chunkID,
		"worker":   workerURL,
	})

	d.store.AddChunk(ctx, jobID, chunkID, workerURL)
	atomic.AddInt64(&d.metrics.ChunksDispatched, 1)

	data, err := os.ReadFile(chunkPath)
	if err != nil {
		logger.WithError(err).Error("Failed to read chunk file")
		d.releaseWorker(ctx, workerURL, false)
		atomic.AddInt64(&d.metrics.ChunksFailed, 1)
		return nil
	}

	started := time.Now()
	result, err := d.client.Transcribe(ctx, workerURL, data)
	elapsed := time.Since(started)

	switch {
	case err == nil:
		d.store.RecordPerformance(ctx, workerURL, chunkDurationSec, elapsed.Seconds())
		d.releaseWorker(ctx, workerURL, false)
		d.store.CompleteChunk(ctx, jobID, chunkID, &store.ChunkSummary{
			TextLength:    len(result.Text),
			SegmentsCount: len(result.Segments),
		})
		atomic.AddInt64(&d.metrics.ChunksCompleted, 1)
		logger.WithFields(logrus.Fields{
			"processing_ms": elapsed.Milliseconds(),
			"text_length":   len(result.Text),
		}).Info("Chunk transcribed")
		return result

	case errors.Is(err, transcriber.ErrWorkerStatus):
		logger.WithError(err).Error("Worker rejected chunk")
		d.releaseWorker(ctx, workerURL, false)
		atomic.AddInt64(&d.metrics.ChunksFailed, 1)
		return nil

	default:
		logger.WithError(err).Error("Worker connection failed")
		d.releaseWorker(ctx, workerURL, true)
		atomic.AddInt64(&d.metrics.ChunksFailed, 1)
		return nil
	}
}

// reserveWorker runs the selection policy and reserves the chosen worker.
// Selection and reservation happen atomically under the scheduling mutex.
func (d *Dispatcher) reserveWorker(ctx context.Context, jobID string, chunkDurationSec float64) (string, error) {
	d.schedMu.Lock()
	defer d.schedMu.Unlock()

	url, err := d.selectWorker(ctx, chunkDurationSec)
	if err != nil {
		return "", err
	}

	d.store.SetWorkerProcessing(ctx, url, true)
	d.store.MarkWorkerBusy(ctx, url, jobID)
	d.store.IncrementPending(ctx, url)
	return url, nil
}

// releaseWorker undoes a reservation after a dispatch finishes. A dead
// connection marks the worker offline instead of idle.
func (d *Dispatcher) releaseWorker(ctx context.Context, url string, offline bool) {
	if offline {
		d.store.MarkWorkerOffline(ctx, url)
	} else {
		d.store.MarkWorkerIdle(ctx, url)
	}
	d.store.DecrementPending(ctx, url)
	d.store.SetWorkerProcessing(ctx, url, false)
}

// selectWorker picks the best worker for a chunk of the given duration.
// Callers must hold schedMu.
func (d *Dispatcher) selectWorker(ctx context.Context, chunkDurationSec float64) (string, error) {
	var candidates []*store.WorkerRecord
	var allKnown []*store.WorkerRecord
	for _, url := range d.workers {
		rec := d.store.GetWorker(ctx, url)
		if rec == nil {
			continue
		}
		allKnown = append(allKnown, rec)
		if rec.Status == store.WorkerOnline && !rec.IsProcessing {
			candidates = append(candidates, rec)
		}
	}

	var benchmarked, unbenchmarked []*store.WorkerRecord
	for _, rec := range candidates {
		if rec.Benchmarked() {
			benchmarked = append(benchmarked, rec)
		} else {
			unbenchmarked = append(unbenchmarked, rec)
		}
	}

	// Measure new workers on cheap chunks before trusting them with
	// expensive ones.
	if len(unbenchmarked) > 0 && chunkDurationSec < shortChunkSec {
		return unbenchmarked[0].URL, nil
	}

	if len(benchmarked) > 0 {
		best := benchmarked[0]
		bestScore := d.score(ctx, best, chunkDurationSec)
		for _, rec := range benchmarked[1:] {
			if s := d.score(ctx, rec, chunkDurationSec); s < bestScore {
				best, bestScore = rec, s
			}
		}
		return best.URL, nil
	}

	if len(unbenchmarked) > 0 {
		return unbenchmarked[0].URL, nil
	}

	// Last resort: the least-loaded online worker even if it is mid-
	// dispatch.
	var fallback *store.WorkerRecord
	for _, rec := range allKnown {
		if rec.Status != store.WorkerOnline {
			continue
		}
		if fallback == nil || lessLoaded(rec, fallback) {
			fallback = rec
		}
	}
	if fallback != nil {
		return fallback.URL, nil
	}
	return "", ErrNoWorkerAvailable
}

// score ranks a benchmarked worker for a chunk: load dominates, then a
// duration-banded speed penalty. Long chunks favor fast workers, short
// chunks favor slow ones (keeping fast workers free), and mid-length
// chunks favor near-realtime workers.
func (d *Dispatcher) score(ctx context.Context, rec *store.WorkerRecord, chunkDurationSec float64) float64 {
	speed := d.store.AvgSpeedRatio(ctx, rec.URL)

	var penalty float64
	switch {
	case chunkDurationSec > longChunkSec:
		penalty = speed * bandPenaltyWeight
	case chunkDurationSec < shortChunkSec:
		penalty = (2.0 - speed) * bandPenaltyWeight
	default:
		penalty = math.Abs(speed-1.0) * midPenaltyWeight
	}
	return float64(rec.PendingChunks)*pendingWeight + penalty
}

func lessLoaded(a, b *store.WorkerRecord) bool {
	if a.IsProcessing != b.IsProcessing {
		return !a.IsProcessing
	}
	return a.PendingChunks < b.PendingChunks
}

// GetMetrics returns a snapshot of dispatch counters.
func (d *Dispatcher) GetMetrics() Metrics {
	return Metrics{
		ChunksDispatched: atomic.LoadInt64(&d.metrics.ChunksDispatched),
		ChunksCompleted:  atomic.LoadInt64(&d.metrics.ChunksCompleted),
		ChunksFailed:     atomic.LoadInt64(&d.metrics.ChunksFailed),
	}
}
