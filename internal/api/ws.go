package api

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// subscribeRequest is what clients send to join a job room.
type subscribeRequest struct {
	Event string `json:"event"`
	JobID string `json:"job_id"`
}

// HandleWebSocket upgrades the connection and serves the subscribe loop.
// On subscribe_job the client joins that job's room and immediately gets a
// snapshot of the current record; thereafter every status change and chunk
// completion is pushed by the hub.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.WithError(err).Warn("WebSocket upgrade failed")
		return err
	}
	defer func() {
		s.hub.Drop(ws)
		_ = ws.Close()
	}()

	for {
		var req subscribeRequest
		if err := ws.ReadJSON(&req); err != nil {
			return nil
		}
		if req.Event != "subscribe_job" || req.JobID == "" {
			continue
		}

		s.hub.Subscribe(req.JobID, ws)

		// Late subscribers get the current state right away.
		if rec := s.store.GetJob(c.Request().Context(), req.JobID); rec != nil {
			if err := s.hub.Send(ws, req.JobID, rec); err != nil {
				return nil
			}
		}
	}
}
