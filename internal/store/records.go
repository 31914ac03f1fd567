package store

import (
	"sync"
	"time"

	"github.com/orchardaudio/orchard/internal/aggregate"
	"github.com/sirupsen/logrus"
)

// Worker statuses.
const (
	WorkerOnline  = "online"
	WorkerOffline = "offline"
	WorkerBusy    = "busy"
)

// Job statuses, in pipeline order. Failed is reachable from any
// non-terminal state.
const (
	JobCreated           = "created"
	JobPurifying         = "purifying"
	JobPurifierCompleted = "purifier_completed"
	JobPurifierBypassed  = "purifier_bypassed"
	JobSplitting         = "splitting"
	JobProcessing        = "processing"
	JobAggregating       = "aggregating"
	JobCompleted         = "completed"
	JobFailed            = "failed"
)

// Record TTLs, refreshed on every write.
const (
	workerTTL = 300 * time.Second
	jobTTL    = 3600 * time.Second
	prefTTL   = 86400 * time.Second
)

const (
	// historyCap bounds the stored performance history per worker.
	historyCap = 20

	// avgWindow is how many recent samples inform scheduling. The full
	// history is retained for introspection; only this window is averaged.
	avgWindow = 10
)

// PerfSample is one dispatch measurement for a worker.
type PerfSample struct {
	ChunkDurationSec  float64   `json:"chunk_duration_sec"`
	ProcessingTimeSec float64   `json:"processing_time_sec"`
	SpeedRatio        float64   `json:"speed_ratio"`
	Timestamp         time.Time `json:"timestamp"`
}

// WorkerRecord is the stored state of one transcription worker.
type WorkerRecord struct {
	URL           string            `json:"url"`
	Status        string            `json:"status"`
	IsProcessing  bool              `json:"is_processing"`
	PendingChunks int               `json:"pending_chunks"`
	Performance   []PerfSample      `json:"performance_history"`
	LastUpdated   time.Time         `json:"last_updated"`
	Metadata      map[string]string `json:"metadata"`
}

// Benchmarked reports whether the worker has any performance history.
func (w *WorkerRecord) Benchmarked() bool {
	return len(w.Performance) > 0
}

// ChunkSummary is the compact per-chunk result kept on the job record.
type ChunkSummary struct {
	TextLength    int `json:"text_length"`
	SegmentsCount int `json:"segments_count"`
}

// ChunkInfo tracks one chunk's assignment and completion within a job.
type ChunkInfo struct {
	ChunkID       string        `json:"chunk_id"`
	WorkerURL     string        `json:"worker_url"`
	Status        string        `json:"status"`
	StartedAt     time.Time     `json:"started_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	ResultSummary *ChunkSummary `json:"result_summary,omitempty"`
}

// Chunk statuses.
const (
	ChunkProcessing = "processing"
	ChunkCompleted  = "completed"
)

// JobRecord is the stored state of one transcription job.
type JobRecord struct {
	JobID           string                 `json:"job_id"`
	Filename        string                 `json:"filename"`
	Status          string                 `json:"status"`
	TotalChunks     int                    `json:"total_chunks"`
	CompletedChunks int                    `json:"completed_chunks"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
	Chunks          []ChunkInfo            `json:"chunks"`
	Result          *aggregate.FinalResult `json:"result,omitempty"`
}

// Store exposes the typed operations the pipeline needs. Mutating
// operations swallow backend errors after logging them: a missed telemetry
// write must never take down a job.
type Store struct {
	kv     KV
	logger *logrus.Entry

	// Read-modify-write guards. Worker records are additionally ordered
	// by the dispatcher's scheduling lock; these keep concurrent updates
	// on the same process from losing writes.
	workerMu sync.Mutex
	jobMu    sync.Mutex
}

// NewStore wraps a KV backend with the typed operations.
func NewStore(kv KV) *Store {
	return &Store{
		kv:     kv,
		logger: logrus.WithField("component", "store"),
	}
}

func workerKey(url string) string { return "worker:" + url }

func jobKey(id string) string { return "job:" + id }

func prefKey(user, k string) string { return "user_pref:" + user + ":" + k }
