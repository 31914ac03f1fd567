// Package notify fans job updates out to WebSocket subscribers. Each job id
// is a room; every status transition and chunk completion pushes the full
// job record to the room's subscribers.
package notify

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const writeTimeout = 5 * time.Second

// EventJobUpdate is the envelope event name for job record pushes.
const EventJobUpdate = "job_update"

// Envelope is the wire shape of every push.
type Envelope struct {
	Event string `json:"event"`
	JobID string `json:"job_id"`
	Job   any    `json:"job"`
}

// Hub tracks WebSocket subscribers per job room.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*websocket.Conn]bool
	logger *logrus.Entry

	// writers holds one lock per connection. gorilla/websocket allows at
	// most one concurrent writer per conn, and publishes arrive from every
	// chunk-completion goroutine at once.
	writers map[*websocket.Conn]*sync.Mutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms:   make(map[string]map[*websocket.Conn]bool),
		writers: make(map[*websocket.Conn]*sync.Mutex),
		logger:  logrus.WithField("component", "notify"),
	}
}

// Subscribe joins conn to the room for jobID.
func (h *Hub) Subscribe(jobID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[jobID]
	if !ok {
		room = make(map[*websocket.Conn]bool)
		h.rooms[jobID] = room
	}
	room[conn] = true
	if _, ok := h.writers[conn]; !ok {
		h.writers[conn] = &sync.Mutex{}
	}

	h.logger.WithFields(logrus.Fields{
		"job_id":      jobID,
		"subscribers": len(room),
	}).Debug("Subscriber joined job room")
}

// Drop removes conn from every room. Called when the connection closes.
func (h *Hub) Drop(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for jobID, room := range h.rooms {
		if room[conn] {
			delete(room, conn)
			if len(room) == 0 {
				delete(h.rooms, jobID)
			}
		}
	}
	delete(h.writers, conn)
}

// writerFor returns the write lock for conn, creating it if needed.
func (h *Hub) writerFor(conn *websocket.Conn) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()
	mu, ok := h.writers[conn]
	if !ok {
		mu = &sync.Mutex{}
		h.writers[conn] = mu
	}
	return mu
}

// write sends one envelope on conn under its write lock.
func (h *Hub) write(conn *websocket.Conn, msg Envelope) error {
	mu := h.writerFor(conn)
	mu.Lock()
	defer mu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(msg)
}

// Publish pushes the job record to every subscriber of the job's room.
// Connections that cannot be written to are closed and pruned.
func (h *Hub) Publish(jobID string, job any) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.rooms[jobID]))
	for conn := range h.rooms[jobID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		return
	}

	msg := Envelope{Event: EventJobUpdate, JobID: jobID, Job: job}
	var dead []*websocket.Conn
	for _, conn := range conns {
		if err := h.write(conn, msg); err != nil {
			h.logger.WithError(err).WithField("job_id", jobID).Debug("Dropping dead subscriber")
			dead = append(dead, conn)
		}
	}

	for _, conn := range dead {
		_ = conn.Close()
		h.Drop(conn)
	}
}

// Send pushes the job record to a single connection, used for the snapshot
// a subscriber receives on joining a room. It takes the same per-connection
// write lock as Publish, so a snapshot cannot interleave with a concurrent
// room push.
func (h *Hub) Send(conn *websocket.Conn, jobID string, job any) error {
	return h.write(conn, Envelope{Event: EventJobUpdate, JobID: jobID, Job: job})
}

// Subscribers returns the current subscriber count for a job room.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[jobID])
}
