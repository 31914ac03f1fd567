package transcriber

import (
	"context"
	"sync"
)

// Mock is a scriptable Transcriber for tests. The zero value reports every
// worker as alive and returns an empty transcript.
type Mock struct {
	// ProbeFunc, when set, overrides the default always-alive probe.
	ProbeFunc func(ctx context.Context, baseURL string) error

	// TranscribeFunc, when set, overrides the default empty transcript.
	TranscribeFunc func(ctx context.Context, baseURL string, wavData []byte) (*Result, error)

	mu    sync.Mutex
	calls []string
}

func (m *Mock) Probe(ctx context.Context, baseURL string) error {
	if m.ProbeFunc != nil {
		return m.ProbeFunc(ctx, baseURL)
	}
	return nil
}

func (m *Mock) Transcribe(ctx context.Context, baseURL string, wavData []byte) (*Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, baseURL)
	m.mu.Unlock()

	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, baseURL, wavData)
	}
	return &Result{}, nil
}

// Calls returns the worker URLs Transcribe was invoked with, in call order.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}
