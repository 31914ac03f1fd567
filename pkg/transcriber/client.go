package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	probeTimeout       = 2 * time.Second
	transcribePath     = "/transcribe"
	transcribeRawQuery = "include_formatted_log=false"
	errorBodyLimit     = 512
)

// Client talks to transcription workers over HTTP.
type Client struct {
	// probeClient has a short timeout; a worker that cannot answer its
	// root route within it is considered offline.
	probeClient *http.Client

	// transcribeClient has no timeout. A single chunk can take minutes to
	// transcribe and the pipeline never retries on a different worker, so
	// the request is allowed to run as long as the worker needs.
	transcribeClient *http.Client

	logger *logrus.Entry
}

// NewClient creates a worker client with default timeouts.
func NewClient() *Client {
	return &Client{
		probeClient:      &http.Client{Timeout: probeTimeout},
		transcribeClient: &http.Client{},
		logger:           logrus.WithField("component", "transcriber_client"),
	}
}

// Probe checks worker liveness with a GET on the worker root. Workers are
// not required to implement a root route, so 404 counts as alive just like
// 200 does.
func (c *Client) Probe(ctx context.Context, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWorkerUnreachable, err)
	}

	resp, err := c.probeClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWorkerUnreachable, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return fmt.Errorf("%w: %d from %s", ErrWorkerStatus, resp.StatusCode, baseURL)
}

// Transcribe posts one WAV chunk to the worker and parses the transcript.
func (c *Client) Transcribe(ctx context.Context, baseURL string, wavData []byte) (*Result, error) {
	endpoint := baseURL + transcribePath + "?" + transcribeRawQuery

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(wavData))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkerUnreachable, err)
	}
	req.Header.Set("Content-Type", "audio/wav")

	c.logger.WithFields(logrus.Fields{
		"worker":      baseURL,
		"audio_bytes": len(wavData),
	}).Debug("Sending chunk to worker")

	resp, err := c.transcribeClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkerUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return nil, fmt.Errorf("%w: %d from %s: %s", ErrWorkerStatus, resp.StatusCode, baseURL, bytes.TrimSpace(snippet))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		// A worker that returns an unparseable body is treated the same
		// as one that dropped the connection.
		return nil, fmt.Errorf("%w: decoding response from %s: %v", ErrWorkerUnreachable, baseURL, err)
	}

	c.logger.WithFields(logrus.Fields{
		"worker":      baseURL,
		"text_length": len(result.Text),
		"segments":    len(result.Segments),
	}).Debug("Chunk transcribed")

	return &result, nil
}
