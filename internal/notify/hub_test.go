package notify

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{}

// dialPair returns the client side of a live WebSocket connection and the
// server side as seen by the hub.
func dialPair(t *testing.T) (client *websocket.Conn, server *websocket.Conn) {
	t.Helper()
	serverCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverCh <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	server = <-serverCh
	t.Cleanup(func() { _ = server.Close() })
	return client, server
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func TestPublishReachesSubscribers(t *testing.T) {
	hub := NewHub()
	client, server := dialPair(t)

	hub.Subscribe("job-1", server)
	assert.Equal(t, 1, hub.Subscribers("job-1"))

	hub.Publish("job-1", map[string]string{"status": "processing"})

	env := readEnvelope(t, client)
	assert.Equal(t, EventJobUpdate, env.Event)
	assert.Equal(t, "job-1", env.JobID)
	job, ok := env.Job.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "processing", job["status"])
}

func TestPublishIsScopedToRoom(t *testing.T) {
	hub := NewHub()
	client1, server1 := dialPair(t)
	client2, server2 := dialPair(t)

	hub.Subscribe("job-1", server1)
	hub.Subscribe("job-2", server2)

	hub.Publish("job-1", map[string]string{"status": "splitting"})

	env := readEnvelope(t, client1)
	assert.Equal(t, "job-1", env.JobID)

	// The other room saw nothing.
	require.NoError(t, client2.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	var ignored Envelope
	assert.Error(t, client2.ReadJSON(&ignored))
}

func TestPublishEmptyRoomIsNoop(t *testing.T) {
	hub := NewHub()
	hub.Publish("job-none", map[string]string{"status": "completed"})
	assert.Zero(t, hub.Subscribers("job-none"))
}

func TestDropRemovesFromAllRooms(t *testing.T) {
	hub := NewHub()
	_, server := dialPair(t)

	hub.Subscribe("job-1", server)
	hub.Subscribe("job-2", server)

	hub.Drop(server)
	assert.Zero(t, hub.Subscribers("job-1"))
	assert.Zero(t, hub.Subscribers("job-2"))
}

func TestPublishPrunesDeadConnections(t *testing.T) {
	hub := NewHub()
	_, server := dialPair(t)

	hub.Subscribe("job-1", server)
	require.NoError(t, server.Close())

	hub.Publish("job-1", map[string]string{"status": "processing"})
	assert.Zero(t, hub.Subscribers("job-1"))
}

func TestParallelPublishersShareOneConnection(t *testing.T) {
	// Chunk completions publish from many goroutines at once, and the
	// snapshot Send can land mid-burst. Every frame must still arrive
	// intact on the single subscriber connection.
	hub := NewHub()
	client, server := dialPair(t)
	hub.Subscribe("job-1", server)

	const publishers = 4
	const perPublisher = 50
	total := publishers * perPublisher

	readErr := make(chan error, 1)
	go func() {
		for i := 0; i < total; i++ {
			_ = client.SetReadDeadline(time.Now().Add(10 * time.Second))
			var env Envelope
			if err := client.ReadJSON(&env); err != nil {
				readErr <- err
				return
			}
		}
		readErr <- nil
	}()

	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				if p%2 == 0 {
					hub.Publish("job-1", map[string]string{"status": "processing"})
				} else {
					_ = hub.Send(server, "job-1", map[string]string{"status": "processing"})
				}
			}
		}(p)
	}
	wg.Wait()

	require.NoError(t, <-readErr)
	assert.Equal(t, 1, hub.Subscribers("job-1"))
}

func TestSendSnapshot(t *testing.T) {
	hub := NewHub()
	client, server := dialPair(t)

	require.NoError(t, hub.Send(server, "job-1", map[string]string{"status": "created"}))

	env := readEnvelope(t, client)
	assert.Equal(t, EventJobUpdate, env.Event)
	assert.Equal(t, "job-1", env.JobID)
}
