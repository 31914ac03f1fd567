package store

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/orchardaudio/orchard/internal/aggregate"
)

func (s *Store) getJob(ctx context.Context, jobID string) *JobRecord {
	raw, ok, err := s.kv.Get(ctx, jobKey(jobID))
	if err != nil {
		s.logger.WithError(err).WithField("job_id", jobID).Warn("Failed to read job record")
		return nil
	}
	if !ok {
		return nil
	}
	var rec JobRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		s.logger.WithError(err).WithField("job_id", jobID).Warn("Corrupt job record")
		return nil
	}
	return &rec
}

func (s *Store) putJob(ctx context.Context, rec *JobRecord) {
	rec.UpdatedAt = time.Now()
	raw, err := json.Marshal(rec)
	if err != nil {
		s.logger.WithError(err).WithField("job_id", rec.JobID).Warn("Failed to encode job record")
		return
	}
	if err := s.kv.Set(ctx, jobKey(rec.JobID), string(raw), jobTTL); err != nil {
		s.logger.WithError(err).WithField("job_id", rec.JobID).Warn("Failed to write job record")
	}
}

// mutateJob applies fn to the job's current record and writes it back,
// refreshing the TTL. Missing jobs are ignored.
func (s *Store) mutateJob(ctx context.Context, jobID string, fn func(*JobRecord)) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	rec := s.getJob(ctx, jobID)
	if rec == nil {
		return
	}
	fn(rec)
	s.putJob(ctx, rec)
}

// CreateJob writes a fresh job record in the created state.
func (s *Store) CreateJob(ctx context.Context, jobID, filename string) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	now := time.Now()
	s.putJob(ctx, &JobRecord{
		JobID:     jobID,
		Filename:  filename,
		Status:    JobCreated,
		CreatedAt: now,
		UpdatedAt: now,
		Chunks:    []ChunkInfo{},
	})
}

// GetJob returns the job record, or nil if unknown or expired.
func (s *Store) GetJob(ctx context.Context, jobID string) *JobRecord {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	return s.getJob(ctx, jobID)
}

// UpdateJobStatus sets the job's lifecycle status.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID, status string) {
	s.mutateJob(ctx, jobID, func(rec *JobRecord) {
		rec.Status = status
	})
}

// SetTotalChunks records how many chunks the splitter produced.
func (s *Store) SetTotalChunks(ctx context.Context, jobID string, total int) {
	s.mutateJob(ctx, jobID, func(rec *JobRecord) {
		rec.TotalChunks = total
	})
}

// AddChunk appends a chunk assignment in the processing state.
func (s *Store) AddChunk(ctx context.Context, jobID, chunkID, workerURL string) {
	s.mutateJob(ctx, jobID, func(rec *JobRecord) {
		rec.Chunks = append(rec.Chunks, ChunkInfo{
			ChunkID:   chunkID,
			WorkerURL: workerURL,
			Status:    ChunkProcessing,
			StartedAt: time.Now(),
		})
	})
}

// CompleteChunk marks a chunk finished, recounts completed chunks, and
// auto-advances the job to aggregating once every chunk is done. The
// advance only fires from the processing state so it can never regress a
// later status.
func (s *Store) CompleteChunk(ctx context.Context, jobID, chunkID string, summary *ChunkSummary) {
	s.mutateJob(ctx, jobID, func(rec *JobRecord) {
		now := time.Now()
		for i := range rec.Chunks {
			if rec.Chunks[i].ChunkID == chunkID {
				rec.Chunks[i].Status = ChunkCompleted
				rec.Chunks[i].CompletedAt = &now
				rec.Chunks[i].ResultSummary = summary
				break
			}
		}
		completed := 0
		for i := range rec.Chunks {
			if rec.Chunks[i].Status == ChunkCompleted {
				completed++
			}
		}
		rec.CompletedChunks = completed
		if rec.TotalChunks > 0 && completed == rec.TotalChunks && rec.Status == JobProcessing {
			rec.Status = JobAggregating
		}
	})
}

// SetJobResult persists the aggregated transcript on the job record.
func (s *Store) SetJobResult(ctx context.Context, jobID string, result *aggregate.FinalResult) {
	s.mutateJob(ctx, jobID, func(rec *JobRecord) {
		rec.Result = result
	})
}

// DeleteJob removes the job record.
func (s *Store) DeleteJob(ctx context.Context, jobID string) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	if err := s.kv.Delete(ctx, jobKey(jobID)); err != nil {
		s.logger.WithError(err).WithField("job_id", jobID).Warn("Failed to delete job record")
	}
}

// ListRecentJobs returns up to limit job records, newest first. The result
// is never nil so it serializes as a JSON array.
func (s *Store) ListRecentJobs(ctx context.Context, limit int) []*JobRecord {
	jobs := []*JobRecord{}
	keys, err := s.kv.Keys(ctx, "job:*")
	if err != nil {
		s.logger.WithError(err).Warn("Failed to list job keys")
		return jobs
	}
	for _, key := range keys {
		raw, ok, err := s.kv.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		var rec JobRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		jobs = append(jobs, &rec)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}
