package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/orchardaudio/orchard/internal/api"
	"github.com/orchardaudio/orchard/internal/config"
	"github.com/orchardaudio/orchard/internal/dispatch"
	"github.com/orchardaudio/orchard/internal/job"
	"github.com/orchardaudio/orchard/internal/notify"
	"github.com/orchardaudio/orchard/internal/store"
	"github.com/orchardaudio/orchard/pkg/transcriber"
	"github.com/sirupsen/logrus"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	settings := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer cancel()

	if err := os.MkdirAll(settings.ChunksDir(), 0o755); err != nil {
		logrus.WithError(err).Fatal("Failed to create upload directories")
	}

	st := store.Open(ctx, settings.RedisAddr)

	// Persist any configured workers so probes and scheduling can see
	// them immediately.
	workers := settings.WorkerNodes
	for _, url := range workers {
		st.AddWorker(ctx, url)
	}
	if stored := st.ListWorkers(ctx); len(workers) == 0 && len(stored) > 0 {
		for _, w := range stored {
			workers = append(workers, w.URL)
		}
	}

	dispatcher := dispatch.New(st, transcriber.NewClient(), workers)
	logrus.WithField("workers", len(workers)).Info("Dispatcher initialized")

	hub := notify.NewHub()

	orchestrator := job.New(st, dispatcher, hub, job.Config{
		ChunksDir:       settings.ChunksDir(),
		MinChunkLenMS:   settings.ChunkMinLengthMS,
		SilenceThreshDB: settings.SilenceThreshDB,
	})
	defer orchestrator.Stop()

	server := api.New(st, dispatcher, orchestrator, hub, settings.UploadDir)
	go func() {
		if err := server.Start(settings.ListenAddr); err != nil {
			logrus.WithError(err).Info("HTTP server stopped")
		}
	}()
	logrus.WithField("addr", settings.ListenAddr).Info("Coordinator is running. Press CTRL-C to exit.")

	<-ctx.Done()

	logrus.Info("Shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP server shutdown failed")
	}
}
