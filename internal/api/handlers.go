package api

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/orchardaudio/orchard/internal/job"
	"github.com/sirupsen/logrus"
)

type errorResponse struct {
	Error string `json:"error"`
}

// SubmitJob accepts a multipart upload, stages it under the upload
// directory, and starts the pipeline. The response returns immediately
// with the job id; progress is observable via /jobs/:id and the WebSocket
// channel.
func (s *Server) SubmitJob(c echo.Context) error {
	// A part with an empty filename is parsed as a plain form value, so
	// both a missing part and an unnamed one surface here.
	file, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "No file"})
	}

	filename := sanitizeFilename(file.Filename)
	dstPath := filepath.Join(s.uploadDir, filename)

	src, err := file.Open()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Failed to read upload"})
	}
	defer func() { _ = src.Close() }()

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Failed to stage upload"})
	}
	dst, err := os.Create(dstPath)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Failed to stage upload"})
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Failed to stage upload"})
	}
	_ = dst.Close()

	jobID := s.orchestrator.Submit(dstPath, filename, defaultUserID)
	s.logger.WithFields(logrus.Fields{
		"job_id":   jobID,
		"filename": filename,
	}).Info("Upload accepted")

	return c.JSON(http.StatusAccepted, map[string]any{
		"status": "accepted",
		"job_id": jobID,
	})
}

// ListJobs returns recent jobs, newest first.
func (s *Server) ListJobs(c echo.Context) error {
	jobs := s.store.ListRecentJobs(c.Request().Context(), recentJobsLimit)
	return c.JSON(http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetJob returns the full record for one job.
func (s *Server) GetJob(c echo.Context) error {
	rec := s.store.GetJob(c.Request().Context(), c.Param("id"))
	if rec == nil {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "Job not found"})
	}
	return c.JSON(http.StatusOK, rec)
}

// GetStats returns aggregate worker and job counts.
func (s *Server) GetStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.store.GetStats(c.Request().Context()))
}

// GetWorkers probes the configured workers and returns the online ones.
func (s *Server) GetWorkers(c echo.Context) error {
	online := s.dispatcher.ListOnlineWorkers(c.Request().Context())
	return c.JSON(http.StatusOK, map[string]any{
		"workers": online,
		"count":   len(online),
	})
}

type workerRequest struct {
	URL string `json:"url"`
}

// AddWorker registers a new worker URL with the pool.
func (s *Server) AddWorker(c echo.Context) error {
	var req workerRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
	}
	url := strings.TrimSpace(req.URL)
	if url == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "URL is empty"})
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	if !s.dispatcher.AddWorker(c.Request().Context(), url) {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Worker already registered"})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "success",
		"workers": s.dispatcher.Workers(),
	})
}

// RemoveWorker drops a worker URL from the pool.
func (s *Server) RemoveWorker(c echo.Context) error {
	var req workerRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
	}
	url := strings.TrimSpace(req.URL)
	if url == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "URL is empty"})
	}
	if !s.dispatcher.RemoveWorker(c.Request().Context(), url) {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Unknown worker"})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "success",
		"workers": s.dispatcher.Workers(),
	})
}

type purifierPreference struct {
	UsePurifier bool `json:"usePurifier"`
}

// SetPurifierPreference stores whether submissions run the purifier stage.
func (s *Server) SetPurifierPreference(c echo.Context) error {
	var req purifierPreference
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
	}
	s.store.SetPreference(c.Request().Context(), defaultUserID, job.PrefUsePurifier, req.UsePurifier)
	return c.JSON(http.StatusOK, purifierPreference{UsePurifier: req.UsePurifier})
}

// GetPurifierPreference returns the purifier preference, defaulting to on.
func (s *Server) GetPurifierPreference(c echo.Context) error {
	use := s.store.GetPreferenceBool(c.Request().Context(), defaultUserID, job.PrefUsePurifier, true)
	return c.JSON(http.StatusOK, purifierPreference{UsePurifier: use})
}

// sanitizeFilename keeps only characters safe for a local filename.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if out == "" || out == "." || out == ".." {
		return "upload"
	}
	return out
}
