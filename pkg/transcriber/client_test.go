package transcriber

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const workerURL = "http://worker:9000"

func newMockedClient(t *testing.T) *Client {
	t.Helper()
	c := NewClient()
	httpmock.ActivateNonDefault(c.probeClient)
	httpmock.ActivateNonDefault(c.transcribeClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func TestProbeAlive(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodGet, workerURL+"/",
		httpmock.NewStringResponder(http.StatusOK, "ok"))

	assert.NoError(t, c.Probe(context.Background(), workerURL))
}

func TestProbeNotFoundCountsAsAlive(t *testing.T) {
	// Workers are not required to serve a root route.
	c := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodGet, workerURL+"/",
		httpmock.NewStringResponder(http.StatusNotFound, "not found"))

	assert.NoError(t, c.Probe(context.Background(), workerURL))
}

func TestProbeServerError(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodGet, workerURL+"/",
		httpmock.NewStringResponder(http.StatusInternalServerError, "boom"))

	err := c.Probe(context.Background(), workerURL)
	assert.ErrorIs(t, err, ErrWorkerStatus)
}

func TestProbeConnectionRefused(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodGet, workerURL+"/",
		httpmock.NewErrorResponder(errors.New("connection refused")))

	err := c.Probe(context.Background(), workerURL)
	assert.ErrorIs(t, err, ErrWorkerUnreachable)
}

func TestTranscribeSuccess(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodPost, workerURL+"/transcribe",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "audio/wav", req.Header.Get("Content-Type"))
			assert.Equal(t, "false", req.URL.Query().Get("include_formatted_log"))
			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
				"text":    "hello world",
				"time_ms": 1234,
				"segments": []map[string]any{
					{"start_ms": 0, "end_ms": 900, "text": "hello world"},
				},
			})
		})

	result, err := c.Transcribe(context.Background(), workerURL, []byte("RIFFfake"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", result.Text)
	assert.Equal(t, int64(1234), result.TimeMS)
	require.Len(t, result.Segments, 1)
	assert.Equal(t, int64(900), result.Segments[0].EndMS)
}

func TestTranscribeErrorStatusIncludesBody(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodPost, workerURL+"/transcribe",
		httpmock.NewStringResponder(http.StatusInternalServerError, "model crashed"))

	_, err := c.Transcribe(context.Background(), workerURL, []byte("RIFFfake"))
	require.ErrorIs(t, err, ErrWorkerStatus)
	assert.Contains(t, err.Error(), "model crashed")
}

func TestTranscribeMalformedBody(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodPost, workerURL+"/transcribe",
		httpmock.NewStringResponder(http.StatusOK, "<html>not json</html>"))

	_, err := c.Transcribe(context.Background(), workerURL, []byte("RIFFfake"))
	assert.ErrorIs(t, err, ErrWorkerUnreachable)
}

func TestTranscribeConnectionRefused(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodPost, workerURL+"/transcribe",
		httpmock.NewErrorResponder(errors.New("connection refused")))

	_, err := c.Transcribe(context.Background(), workerURL, []byte("RIFFfake"))
	assert.ErrorIs(t, err, ErrWorkerUnreachable)
}
