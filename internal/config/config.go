// Package config loads runtime settings from the environment, with an
// optional .env file for local development.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Settings holds everything the coordinator needs at startup.
type Settings struct {
	// ListenAddr is the HTTP listen address, e.g. ":5000".
	ListenAddr string

	// RedisAddr is the Redis server address; empty selects the in-memory
	// store.
	RedisAddr string

	// UploadDir stages uploaded recordings; chunks go to UploadDir/chunks.
	UploadDir string

	// ChunkMinLengthMS is the minimum chunk length for the splitter.
	ChunkMinLengthMS int64

	// SilenceThreshDB overrides the dynamic silence threshold when set.
	SilenceThreshDB *float64

	// WorkerNodes is the initial worker URL list.
	WorkerNodes []string
}

// Load reads settings from the environment. Missing values fall back to
// sensible defaults; a .env file is honored when present.
func Load() Settings {
	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Debug("No .env file, using environment variables")
	}

	s := Settings{
		ListenAddr:       getEnv("LISTEN_ADDR", ":5000"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		UploadDir:        getEnv("UPLOAD_DIR", "uploads"),
		ChunkMinLengthMS: getEnvInt64("CHUNK_MIN_LENGTH_MS", 30000),
	}

	if raw := os.Getenv("SILENCE_THRESH_DB"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			s.SilenceThreshDB = &v
		} else {
			logrus.WithField("value", raw).Warn("Invalid SILENCE_THRESH_DB, using dynamic threshold")
		}
	}

	if raw := os.Getenv("WORKER_NODES"); raw != "" {
		for _, url := range strings.Split(raw, ",") {
			if url = strings.TrimSpace(url); url != "" {
				s.WorkerNodes = append(s.WorkerNodes, url)
			}
		}
	}
	return s
}

// ChunksDir returns the directory chunk files are exported to.
func (s Settings) ChunksDir() string {
	return filepath.Join(s.UploadDir, "chunks")
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		logrus.WithFields(logrus.Fields{"key": key, "value": raw}).Warn("Invalid integer setting, using default")
		return def
	}
	return v
}
