package job

import (
	"context"
	"time"
)

// Purifier is the noise-reduction stage. The current implementation is an
// opaque timed no-op, but it owns a distinct lifecycle state so clients can
// observe it.
type Purifier interface {
	Purify(ctx context.Context, path string) error
}

// NoopPurifier waits for Delay and leaves the file untouched.
type NoopPurifier struct {
	Delay time.Duration
}

func (p *NoopPurifier) Purify(ctx context.Context, _ string) error {
	select {
	case <-time.After(p.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
