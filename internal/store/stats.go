package store

import "context"

// WorkerStats counts workers by status.
type WorkerStats struct {
	Total   int `json:"total"`
	Online  int `json:"online"`
	Busy    int `json:"busy"`
	Offline int `json:"offline"`
}

// JobStats counts jobs by lifecycle phase.
type JobStats struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
}

// Stats is the aggregate view served by the stats endpoint.
type Stats struct {
	Workers WorkerStats `json:"workers"`
	Jobs    JobStats    `json:"jobs"`
}

// GetStats aggregates worker and job counts from the current records.
func (s *Store) GetStats(ctx context.Context) Stats {
	var stats Stats

	for _, w := range s.ListWorkers(ctx) {
		stats.Workers.Total++
		switch w.Status {
		case WorkerOnline:
			stats.Workers.Online++
		case WorkerBusy:
			stats.Workers.Busy++
		default:
			stats.Workers.Offline++
		}
	}

	for _, j := range s.ListRecentJobs(ctx, 0) {
		stats.Jobs.Total++
		switch j.Status {
		case JobProcessing, JobAggregating:
			stats.Jobs.Active++
		case JobCompleted:
			stats.Jobs.Completed++
		}
	}
	return stats
}
