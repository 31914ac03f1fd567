// Package api exposes the coordinator over HTTP: job submission and
// inspection, worker pool management, user preferences, aggregate stats,
// and the WebSocket notification channel.
package api

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/orchardaudio/orchard/internal/dispatch"
	"github.com/orchardaudio/orchard/internal/job"
	"github.com/orchardaudio/orchard/internal/notify"
	"github.com/orchardaudio/orchard/internal/store"
	"github.com/sirupsen/logrus"
)

// defaultUserID scopes preferences when the deployment has no user
// accounts.
const defaultUserID = "default"

// recentJobsLimit caps the job listing endpoint.
const recentJobsLimit = 50

// Server wires the HTTP surface to the pipeline components.
type Server struct {
	echo         *echo.Echo
	store        *store.Store
	dispatcher   *dispatch.Dispatcher
	orchestrator *job.Orchestrator
	hub          *notify.Hub
	uploadDir    string
	logger       *logrus.Entry
}

// New builds the server and registers all routes.
func New(st *store.Store, d *dispatch.Dispatcher, orch *job.Orchestrator, hub *notify.Hub, uploadDir string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:         e,
		store:        st,
		dispatcher:   d,
		orchestrator: orch,
		hub:          hub,
		uploadDir:    uploadDir,
		logger:       logrus.WithField("component", "api"),
	}

	e.Use(middleware.Recover())
	e.Use(s.requestLogger)

	e.POST("/submit", s.SubmitJob)
	e.GET("/jobs", s.ListJobs)
	e.GET("/jobs/:id", s.GetJob)
	e.GET("/stats", s.GetStats)

	e.GET("/workers", s.GetWorkers)
	e.POST("/workers/add", s.AddWorker)
	e.POST("/workers/remove", s.RemoveWorker)

	e.POST("/preferences/purifier", s.SetPurifierPreference)
	e.GET("/preferences/purifier", s.GetPurifierPreference)

	e.GET("/ws", s.HandleWebSocket)

	return s
}

// Start serves HTTP on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.WithField("addr", addr).Info("HTTP server starting")
	return s.echo.Start(addr)
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Echo exposes the underlying router for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		s.logger.WithFields(logrus.Fields{
			"method":  c.Request().Method,
			"path":    c.Request().URL.Path,
			"status":  c.Response().Status,
			"elapsed": time.Since(start).String(),
		}).Debug("Request handled")
		return err
	}
}
