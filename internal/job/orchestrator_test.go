package job

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/orchardaudio/orchard/internal/audio"
	"github.com/orchardaudio/orchard/internal/dispatch"
	"github.com/orchardaudio/orchard/internal/store"
	"github.com/orchardaudio/orchard/pkg/transcriber"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureNotifier records every published job record.
type captureNotifier struct {
	mu      sync.Mutex
	records []*store.JobRecord
}

func (c *captureNotifier) Publish(jobID string, job any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := job.(*store.JobRecord); ok {
		c.records = append(c.records, rec)
	}
}

func (c *captureNotifier) statuses() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, rec := range c.records {
		if len(out) == 0 || out[len(out)-1] != rec.Status {
			out = append(out, rec.Status)
		}
	}
	return out
}

// writeSilentWAV writes durationMS of silence and returns the path.
func writeSilentWAV(t *testing.T, dir string, durationMS int64) string {
	t.Helper()
	n := int(durationMS * audio.SampleRate / 1000)
	path := filepath.Join(dir, "input.wav")
	require.NoError(t, audio.WriteWAV(path, &audio.Clip{Samples: make([]int16, n)}))
	return path
}

func newTestOrchestrator(t *testing.T, mock *transcriber.Mock, notifier Notifier, workers ...string) (*Orchestrator, *store.Store, string) {
	t.Helper()
	st := store.Open(context.Background(), "")
	d := dispatch.New(st, mock, workers)
	for _, url := range workers {
		st.AddWorker(context.Background(), url)
	}
	chunksDir := t.TempDir()
	o := New(st, d, notifier, Config{
		ChunksDir:   chunksDir,
		PurifyDelay: time.Millisecond,
		StageDelay:  time.Millisecond,
	})
	t.Cleanup(o.Stop)
	return o, st, chunksDir
}

func waitForStatus(t *testing.T, st *store.Store, jobID, want string) *store.JobRecord {
	t.Helper()
	var rec *store.JobRecord
	require.Eventually(t, func() bool {
		rec = st.GetJob(context.Background(), jobID)
		return rec != nil && rec.Status == want
	}, 10*time.Second, 5*time.Millisecond)
	return rec
}

func TestSubmitRunsPipelineToCompletion(t *testing.T) {
	ctx := context.Background()
	mock := &transcriber.Mock{
		TranscribeFunc: func(ctx context.Context, baseURL string, wavData []byte) (*transcriber.Result, error) {
			return &transcriber.Result{
				Text:     "hello",
				TimeMS:   100,
				Segments: []transcriber.Segment{{StartMS: 0, EndMS: 900, Text: "hello"}},
			}, nil
		},
	}
	notifier := &captureNotifier{}
	o, st, chunksDir := newTestOrchestrator(t, mock, notifier, "http://w1:8000")

	src := writeSilentWAV(t, t.TempDir(), 3000)
	jobID := o.Submit(src, "input.wav", "default")
	require.NotEmpty(t, jobID)

	rec := waitForStatus(t, st, jobID, store.JobCompleted)
	assert.Equal(t, 1, rec.TotalChunks)
	assert.Equal(t, 1, rec.CompletedChunks)
	require.NotNil(t, rec.Result)
	assert.Equal(t, "hello", rec.Result.Text)
	assert.Equal(t, 1, rec.Result.SegmentsCount)

	// Source and chunk files are cleaned up.
	_, err := os.Stat(src)
	assert.True(t, os.IsNotExist(err))
	entries, err := os.ReadDir(chunksDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	statuses := notifier.statuses()
	assert.Contains(t, statuses, store.JobPurifying)
	assert.Contains(t, statuses, store.JobPurifierCompleted)
	assert.Contains(t, statuses, store.JobSplitting)
	assert.Contains(t, statuses, store.JobProcessing)
	assert.Contains(t, statuses, store.JobAggregating)
	assert.Equal(t, store.JobCompleted, statuses[len(statuses)-1])
	assert.NotContains(t, statuses, store.JobPurifierBypassed)

	// Worker returned to the idle pool with a recorded benchmark.
	w := st.GetWorker(ctx, "http://w1:8000")
	assert.Equal(t, store.WorkerOnline, w.Status)
	assert.True(t, w.Benchmarked())
}

func TestSubmitBypassesPurifierByPreference(t *testing.T) {
	ctx := context.Background()
	notifier := &captureNotifier{}
	o, st, _ := newTestOrchestrator(t, &transcriber.Mock{}, notifier, "http://w1:8000")

	st.SetPreference(ctx, "default", PrefUsePurifier, false)

	src := writeSilentWAV(t, t.TempDir(), 3000)
	jobID := o.Submit(src, "input.wav", "default")
	waitForStatus(t, st, jobID, store.JobCompleted)

	statuses := notifier.statuses()
	assert.Contains(t, statuses, store.JobPurifierBypassed)
	assert.NotContains(t, statuses, store.JobPurifying)
	assert.NotContains(t, statuses, store.JobPurifierCompleted)
}

func TestSubmitUnreadableSourceFails(t *testing.T) {
	o, st, _ := newTestOrchestrator(t, &transcriber.Mock{}, nil, "http://w1:8000")

	jobID := o.Submit(filepath.Join(t.TempDir(), "missing.wav"), "missing.wav", "default")
	rec := waitForStatus(t, st, jobID, store.JobFailed)
	assert.Nil(t, rec.Result)
}

func TestSubmitNoWorkersStillCompletes(t *testing.T) {
	// With no workers every chunk fails, but the job still runs through
	// aggregation and completes with an empty transcript.
	o, st, _ := newTestOrchestrator(t, &transcriber.Mock{}, nil)

	src := writeSilentWAV(t, t.TempDir(), 3000)
	jobID := o.Submit(src, "input.wav", "default")

	rec := waitForStatus(t, st, jobID, store.JobCompleted)
	require.NotNil(t, rec.Result)
	assert.Empty(t, rec.Result.Text)
	assert.Zero(t, rec.Result.SegmentsCount)
}

func TestResultsFollowChunkOrderNotCompletionOrder(t *testing.T) {
	// 150 s of silence splits into three tiles: 60 s, 60 s, 30 s. Two
	// workers run the long tiles concurrently; one of them is slow, so the
	// short tile finishes before the first long one. The transcript must
	// still read in source order, long text before short.
	mock := &transcriber.Mock{
		TranscribeFunc: func(ctx context.Context, baseURL string, wavData []byte) (*transcriber.Result, error) {
			// 16-bit mono at 16 kHz is 32 kB per second; 45 s splits the
			// 60 s tiles from the 30 s one.
			text := "short"
			if len(wavData) > 45*audio.SampleRate*2 {
				text = "long"
			}
			if baseURL == "http://slow:8000" {
				select {
				case <-time.After(200 * time.Millisecond):
				case <-ctx.Done():
				}
			}
			return &transcriber.Result{Text: text}, nil
		},
	}
	o, st, _ := newTestOrchestrator(t, mock, nil, "http://slow:8000", "http://fast:8000")

	src := writeSilentWAV(t, t.TempDir(), 150000)
	jobID := o.Submit(src, "input.wav", "default")

	rec := waitForStatus(t, st, jobID, store.JobCompleted)
	assert.Equal(t, 3, rec.TotalChunks)
	require.NotNil(t, rec.Result)
	assert.Equal(t, "long\nlong\nshort", rec.Result.Text)
}

func TestStopCancelsInFlightJob(t *testing.T) {
	o, st, _ := newTestOrchestrator(t, &transcriber.Mock{}, nil, "http://w1:8000")
	o.purifier = &NoopPurifier{Delay: time.Minute}

	src := writeSilentWAV(t, t.TempDir(), 3000)
	jobID := o.Submit(src, "input.wav", "default")
	waitForStatus(t, st, jobID, store.JobPurifying)

	o.Stop()

	rec := st.GetJob(context.Background(), jobID)
	require.NotNil(t, rec)
	assert.Equal(t, store.JobFailed, rec.Status)
}

func TestNoopPurifierHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &NoopPurifier{Delay: time.Minute}
	assert.Error(t, p.Purify(ctx, "any"))
}
