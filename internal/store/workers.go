package store

import (
	"context"
	"encoding/json"
	"time"
)

// getWorker loads a worker record. Missing or expired keys return nil.
func (s *Store) getWorker(ctx context.Context, url string) *WorkerRecord {
	raw, ok, err := s.kv.Get(ctx, workerKey(url))
	if err != nil {
		s.logger.WithError(err).WithField("worker", url).Warn("Failed to read worker record")
		return nil
	}
	if !ok {
		return nil
	}
	var rec WorkerRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		s.logger.WithError(err).WithField("worker", url).Warn("Corrupt worker record")
		return nil
	}
	return &rec
}

func (s *Store) putWorker(ctx context.Context, rec *WorkerRecord) {
	rec.LastUpdated = time.Now()
	raw, err := json.Marshal(rec)
	if err != nil {
		s.logger.WithError(err).WithField("worker", rec.URL).Warn("Failed to encode worker record")
		return
	}
	if err := s.kv.Set(ctx, workerKey(rec.URL), string(raw), workerTTL); err != nil {
		s.logger.WithError(err).WithField("worker", rec.URL).Warn("Failed to write worker record")
	}
}

// mutateWorker applies fn to the worker's current record (creating a fresh
// one if absent) and writes it back, refreshing the TTL.
func (s *Store) mutateWorker(ctx context.Context, url string, fn func(*WorkerRecord)) {
	s.workerMu.Lock()
	defer s.workerMu.Unlock()

	rec := s.getWorker(ctx, url)
	if rec == nil {
		rec = &WorkerRecord{URL: url, Status: WorkerOnline, Metadata: map[string]string{}}
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]string{}
	}
	fn(rec)
	if rec.Status == WorkerOffline {
		rec.IsProcessing = false
	}
	s.putWorker(ctx, rec)
}

// GetWorker returns the worker record for url, or nil if unknown.
func (s *Store) GetWorker(ctx context.Context, url string) *WorkerRecord {
	s.workerMu.Lock()
	defer s.workerMu.Unlock()
	return s.getWorker(ctx, url)
}

// UpsertWorkerStatus sets the worker's status and metadata while preserving
// its pending count and performance history.
func (s *Store) UpsertWorkerStatus(ctx context.Context, url, status string, metadata map[string]string) {
	s.mutateWorker(ctx, url, func(rec *WorkerRecord) {
		rec.Status = status
		rec.Metadata = map[string]string{}
		for k, v := range metadata {
			rec.Metadata[k] = v
		}
	})
}

// SetWorkerProcessing flips the advisory in-processing flag. Ordering is
// the dispatcher's responsibility via its scheduling lock.
func (s *Store) SetWorkerProcessing(ctx context.Context, url string, processing bool) {
	s.mutateWorker(ctx, url, func(rec *WorkerRecord) {
		rec.IsProcessing = processing
	})
}

// MarkWorkerOnline records a successful health probe.
func (s *Store) MarkWorkerOnline(ctx context.Context, url string) {
	s.UpsertWorkerStatus(ctx, url, WorkerOnline, nil)
}

// MarkWorkerOffline records a failed probe or a dead connection. Offline
// workers are never mid-dispatch, so the processing flag is cleared.
func (s *Store) MarkWorkerOffline(ctx context.Context, url string) {
	s.UpsertWorkerStatus(ctx, url, WorkerOffline, nil)
}

// MarkWorkerBusy records that a dispatch reserved this worker for jobID.
func (s *Store) MarkWorkerBusy(ctx context.Context, url, jobID string) {
	s.UpsertWorkerStatus(ctx, url, WorkerBusy, map[string]string{"job_id": jobID})
}

// MarkWorkerIdle returns the worker to the online pool.
func (s *Store) MarkWorkerIdle(ctx context.Context, url string) {
	s.UpsertWorkerStatus(ctx, url, WorkerOnline, nil)
}

// AddWorker creates (or revives) the worker record for url.
func (s *Store) AddWorker(ctx context.Context, url string) {
	s.MarkWorkerOnline(ctx, url)
}

// RemoveWorker deletes the worker record for url.
func (s *Store) RemoveWorker(ctx context.Context, url string) {
	s.workerMu.Lock()
	defer s.workerMu.Unlock()
	if err := s.kv.Delete(ctx, workerKey(url)); err != nil {
		s.logger.WithError(err).WithField("worker", url).Warn("Failed to delete worker record")
	}
}

// ListWorkers returns every known (unexpired) worker record.
func (s *Store) ListWorkers(ctx context.Context) []*WorkerRecord {
	keys, err := s.kv.Keys(ctx, "worker:*")
	if err != nil {
		s.logger.WithError(err).Warn("Failed to list worker keys")
		return nil
	}
	var workers []*WorkerRecord
	for _, key := range keys {
		raw, ok, err := s.kv.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		var rec WorkerRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		workers = append(workers, &rec)
	}
	return workers
}

// IncrementPending adds one in-flight chunk to the worker.
func (s *Store) IncrementPending(ctx context.Context, url string) {
	s.mutateWorker(ctx, url, func(rec *WorkerRecord) {
		rec.PendingChunks++
	})
}

// DecrementPending removes one in-flight chunk, flooring at zero.
func (s *Store) DecrementPending(ctx context.Context, url string) {
	s.mutateWorker(ctx, url, func(rec *WorkerRecord) {
		if rec.PendingChunks > 0 {
			rec.PendingChunks--
		}
	})
}

// RecordPerformance appends a performance sample for the worker and trims
// the history to the most recent entries.
func (s *Store) RecordPerformance(ctx context.Context, url string, chunkDurationSec, processingTimeSec float64) {
	speedRatio := 1.0
	if chunkDurationSec > 0 {
		speedRatio = processingTimeSec / chunkDurationSec
	}
	s.mutateWorker(ctx, url, func(rec *WorkerRecord) {
		rec.Performance = append(rec.Performance, PerfSample{
			ChunkDurationSec:  chunkDurationSec,
			ProcessingTimeSec: processingTimeSec,
			SpeedRatio:        speedRatio,
			Timestamp:         time.Now(),
		})
		if len(rec.Performance) > historyCap {
			rec.Performance = rec.Performance[len(rec.Performance)-historyCap:]
		}
	})
}

// AvgSpeedRatio returns the mean speed ratio over the worker's most recent
// samples, or 1.0 when there is no history. Lower means faster.
func (s *Store) AvgSpeedRatio(ctx context.Context, url string) float64 {
	rec := s.GetWorker(ctx, url)
	if rec == nil || len(rec.Performance) == 0 {
		return 1.0
	}
	samples := rec.Performance
	if len(samples) > avgWindow {
		samples = samples[len(samples)-avgWindow:]
	}
	var sum float64
	for _, sample := range samples {
		sum += sample.SpeedRatio
	}
	return sum / float64(len(samples))
}
