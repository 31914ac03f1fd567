package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"LISTEN_ADDR", "REDIS_ADDR", "UPLOAD_DIR",
		"CHUNK_MIN_LENGTH_MS", "SILENCE_THRESH_DB", "WORKER_NODES",
	} {
		t.Setenv(key, "")
	}

	s := Load()

	assert.Equal(t, ":5000", s.ListenAddr)
	assert.Equal(t, "uploads", s.UploadDir)
	assert.Equal(t, int64(30000), s.ChunkMinLengthMS)
	assert.Nil(t, s.SilenceThreshDB)
	assert.Empty(t, s.WorkerNodes)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":8080")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("UPLOAD_DIR", "/tmp/orchard")
	t.Setenv("CHUNK_MIN_LENGTH_MS", "45000")
	t.Setenv("SILENCE_THRESH_DB", "-35.5")
	t.Setenv("WORKER_NODES", "http://w1:8000, http://w2:8000 ,")

	s := Load()
	assert.Equal(t, ":8080", s.ListenAddr)
	assert.Equal(t, "localhost:6379", s.RedisAddr)
	assert.Equal(t, "/tmp/orchard", s.UploadDir)
	assert.Equal(t, int64(45000), s.ChunkMinLengthMS)
	if assert.NotNil(t, s.SilenceThreshDB) {
		assert.InDelta(t, -35.5, *s.SilenceThreshDB, 1e-9)
	}
	assert.Equal(t, []string{"http://w1:8000", "http://w2:8000"}, s.WorkerNodes)
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("CHUNK_MIN_LENGTH_MS", "not-a-number")
	t.Setenv("SILENCE_THRESH_DB", "loud")

	s := Load()
	assert.Equal(t, int64(30000), s.ChunkMinLengthMS)
	assert.Nil(t, s.SilenceThreshDB)
}

func TestChunksDir(t *testing.T) {
	s := Settings{UploadDir: "data"}
	assert.Equal(t, filepath.Join("data", "chunks"), s.ChunksDir())
}
