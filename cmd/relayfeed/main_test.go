package main

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agentworkforce/relayfeed/internal/relayfeed"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Addr)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, 1024, cfg.ReplyQueueSize)
	require.Equal(t, time.Minute, cfg.RateLimitWindow)
	require.Equal(t, 2*time.Second, cfg.AutoReplyDelay)
	require.False(t, cfg.AutoReply)
}

func TestLoadConfigParsesValues(t *testing.T) {
	t.Setenv("RELAYFEED_ADDR", ":9090")
	t.Setenv("RELAYFEED_AUTO_REPLY", "true")
	t.Setenv("RELAYFEED_AUTO_REPLY_DELAY", "150ms")
	t.Setenv("RELAYFEED_BACKEND_PROFILE", " Durable-Local ")
	t.Setenv("RELAYFEED_RATE_LIMIT_MAX", "42")

	cfg, err := loadConfig()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Addr)
	require.True(t, cfg.AutoReply)
	require.Equal(t, 150*time.Millisecond, cfg.AutoReplyDelay)
	require.Equal(t, "durable-local", cfg.BackendProfile)
	require.Equal(t, 42, cfg.RateLimitMax)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	t.Run("profile", func(t *testing.T) {
		t.Setenv("RELAYFEED_BACKEND_PROFILE", "cloud")
		_, err := loadConfig()
		require.Error(t, err)
	})
	t.Run("log level", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "chatty")
		_, err := loadConfig()
		require.Error(t, err)
	})
	t.Run("queue size", func(t *testing.T) {
		t.Setenv("RELAYFEED_REPLY_QUEUE_SIZE", "0")
		_, err := loadConfig()
		require.Error(t, err)
	})
}

func TestProfileDSNs(t *testing.T) {
	dataDir := t.TempDir()
	cfg := Config{BackendProfile: "durable-local", DataDir: dataDir}
	state, queue, err := cfg.profileDSNs()
	require.NoError(t, err)
	require.Equal(t, "file://"+filepath.Join(dataDir, "state.json"), state)
	require.Equal(t, "file://"+filepath.Join(dataDir, "reply-queue.json"), queue)

	_, _, err = Config{BackendProfile: "production"}.profileDSNs()
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "RELAYFEED_POSTGRES_DSN"))

	state, queue, err = Config{BackendProfile: "prod", PostgresDSN: "postgres://db/relayfeed"}.profileDSNs()
	require.NoError(t, err)
	require.Equal(t, "postgres://db/relayfeed", state)
	require.Equal(t, state, queue)
}

func TestExplicitDSNOverridesProfile(t *testing.T) {
	cfg := Config{BackendProfile: "memory", StateBackendDSN: "file:///tmp/relayfeed.json", ReplyQueueDSN: "memory://"}
	state, err := cfg.stateDSN()
	require.NoError(t, err)
	require.Equal(t, "file:///tmp/relayfeed.json", state)

	cfg = Config{StateFile: "state.json"}
	state, err = cfg.stateDSN()
	require.NoError(t, err)
	require.Equal(t, "state.json", state)
}

func TestBuildStorageBackends(t *testing.T) {
	stateBackend, replyQueue, err := buildStorageBackends(Config{BackendProfile: "memory", ReplyQueueSize: 16})
	require.NoError(t, err)
	require.IsType(t, &relayfeed.InMemoryStateBackend{}, stateBackend)
	require.Equal(t, 16, replyQueue.Capacity())

	stateBackend, replyQueue, err = buildStorageBackends(Config{ReplyQueueSize: 16})
	require.NoError(t, err)
	require.Nil(t, stateBackend)
	require.Nil(t, replyQueue)

	_, _, err = buildStorageBackends(Config{ReplyQueueDSN: "kafka://broker/replies", ReplyQueueSize: 16})
	require.ErrorIs(t, err, relayfeed.ErrNotImplemented)
}
