// Package job runs each submitted recording through the staged pipeline:
// purification, silence-aware splitting, parallel chunk dispatch, and
// transcript aggregation. Every stage transition and chunk completion is
// pushed to the job's notification room.
package job

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/orchardaudio/orchard/internal/aggregate"
	"github.com/orchardaudio/orchard/internal/audio"
	"github.com/orchardaudio/orchard/internal/dispatch"
	"github.com/orchardaudio/orchard/internal/store"
	"github.com/orchardaudio/orchard/pkg/transcriber"
	"github.com/sirupsen/logrus"
)

const (
	// PrefUsePurifier is the user preference that gates the purifier
	// stage. Defaults to enabled.
	PrefUsePurifier = "use_purifier"

	defaultPurifyDelay = 5 * time.Second
	defaultStageDelay  = 500 * time.Millisecond
)

// Notifier receives the full job record on every observable change.
type Notifier interface {
	Publish(jobID string, job any)
}

// Config holds orchestrator settings.
type Config struct {
	ChunksDir       string
	MinChunkLenMS   int64
	SilenceThreshDB *float64

	// Stage pacing. PurifyDelay covers the purifying stage; StageDelay
	// follows purifier_completed and purifier_bypassed. Kept configurable
	// so tests do not have to wait out UI pacing.
	PurifyDelay time.Duration
	StageDelay  time.Duration
}

// Orchestrator owns the background pipeline for every job.
type Orchestrator struct {
	store      *store.Store
	dispatcher *dispatch.Dispatcher
	notifier   Notifier
	purifier   Purifier
	cfg        Config
	logger     *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an orchestrator. A nil notifier disables progress pushes.
func New(st *store.Store, d *dispatch.Dispatcher, notifier Notifier, cfg Config) *Orchestrator {
	if cfg.PurifyDelay == 0 {
		cfg.PurifyDelay = defaultPurifyDelay
	}
	if cfg.StageDelay == 0 {
		cfg.StageDelay = defaultStageDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:      st,
		dispatcher: d,
		notifier:   notifier,
		purifier:   &NoopPurifier{Delay: cfg.PurifyDelay},
		cfg:        cfg,
		logger:     logrus.WithField("component", "orchestrator"),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Submit registers a new job for the uploaded file and starts its pipeline
// in the background. It returns the job id immediately.
func (o *Orchestrator) Submit(srcPath, filename, userID string) string {
	jobID := uuid.New().String()
	o.store.CreateJob(o.ctx, jobID, filename)

	o.logger.WithFields(logrus.Fields{
		"job_id":   jobID,
		"filename": filename,
	}).Info("Job accepted")

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(jobID, srcPath, userID)
	}()
	return jobID
}

// Stop cancels all in-flight pipelines and waits for them to unwind.
func (o *Orchestrator) Stop() {
	o.cancel()
	o.wg.Wait()
}

// setStatus updates the job status and pushes the new record to the room.
func (o *Orchestrator) setStatus(ctx context.Context, jobID, status string) {
	o.store.UpdateJobStatus(ctx, jobID, status)
	o.publish(ctx, jobID)
}

func (o *Orchestrator) publish(ctx context.Context, jobID string) {
	if o.notifier == nil {
		return
	}
	if rec := o.store.GetJob(ctx, jobID); rec != nil {
		o.notifier.Publish(jobID, rec)
	}
}

// run drives one job through the pipeline. Any stage error short-circuits
// to the failed state; in-flight dispatches finish on their own and their
// results are discarded.
func (o *Orchestrator) run(jobID, srcPath, userID string) {
	ctx := o.ctx
	logger := o.logger.WithField("job_id", jobID)

	if err := o.runStages(ctx, jobID, srcPath, userID, logger); err != nil {
		logger.WithError(err).Error("Job failed")
		o.setStatus(ctx, jobID, store.JobFailed)
	}
}

func (o *Orchestrator) runStages(ctx context.Context, jobID, srcPath, userID string, logger *logrus.Entry) error {
	if o.store.GetPreferenceBool(ctx, userID, PrefUsePurifier, true) {
		o.setStatus(ctx, jobID, store.JobPurifying)
		if err := o.purifier.Purify(ctx, srcPath); err != nil {
			return fmt.Errorf("purifier: %w", err)
		}
		o.setStatus(ctx, jobID, store.JobPurifierCompleted)
		o.pause(ctx)
	} else {
		logger.Info("Purifier bypassed by user preference")
		o.setStatus(ctx, jobID, store.JobPurifierBypassed)
		o.pause(ctx)
	}

	o.setStatus(ctx, jobID, store.JobSplitting)
	chunks, err := audio.Split(srcPath, o.cfg.ChunksDir, audio.SplitOptions{
		MinLengthMS:     o.cfg.MinChunkLenMS,
		SilenceThreshDB: o.cfg.SilenceThreshDB,
	})
	if err != nil {
		return fmt.Errorf("splitter: %w", err)
	}
	o.store.SetTotalChunks(ctx, jobID, len(chunks))
	logger.WithField("chunks", len(chunks)).Info("Audio split complete")

	o.setStatus(ctx, jobID, store.JobProcessing)
	results := o.fanOut(ctx, jobID, chunks, logger)

	o.setStatus(ctx, jobID, store.JobAggregating)
	durations := make([]int64, len(chunks))
	for i, c := range chunks {
		durations[i] = c.DurationMS
	}
	final := aggregate.Aggregate(results, durations)
	o.store.SetJobResult(ctx, jobID, final)

	if err := os.Remove(srcPath); err != nil {
		logger.WithError(err).Warn("Failed to delete source file")
	}

	o.setStatus(ctx, jobID, store.JobCompleted)
	logger.WithFields(logrus.Fields{
		"segments":    final.SegmentsCount,
		"text_length": len(final.Text),
	}).Info("Job completed")
	return nil
}

// fanOut dispatches every chunk with a parallelism bound equal to the
// worker count, scheduling the longest chunks first so the expensive work
// starts early. Results land at their original index regardless of
// completion order.
func (o *Orchestrator) fanOut(ctx context.Context, jobID string, chunks []audio.Chunk, logger *logrus.Entry) []*transcriber.Result {
	results := make([]*transcriber.Result, len(chunks))

	order := make([]int, len(chunks))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return chunks[order[a]].DurationMS > chunks[order[b]].DurationMS
	})

	parallelism := len(o.dispatcher.Workers())
	if parallelism < 1 {
		parallelism = 1
	}
	sem := make(chan struct{}, parallelism)

	var wg sync.WaitGroup
	for _, idx := range order {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			chunk := chunks[i]
			chunkID := fmt.Sprintf("%s_chunk_%d", jobID, i)
			res := o.dispatcher.ProcessChunk(ctx, chunk.Path, jobID, chunkID,
				float64(chunk.DurationMS)/1000.0)
			if res == nil {
				logger.WithField("chunk_id", chunkID).Warn("Chunk failed, dropping from transcript")
			}
			results[i] = res

			if err := os.Remove(chunk.Path); err != nil {
				logger.WithError(err).WithField("chunk", chunk.Path).Warn("Failed to delete chunk file")
			}

			o.publish(ctx, jobID)
		}(idx)
	}
	wg.Wait()
	return results
}

// pause sleeps for the stage pacing delay, honoring cancellation.
func (o *Orchestrator) pause(ctx context.Context) {
	select {
	case <-time.After(o.cfg.StageDelay):
	case <-ctx.Done():
	}
}
