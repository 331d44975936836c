package config

import (
	"bytes"
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"pingme/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

const watchedConfig = `{"auth":{"token_secret":"` + testSecret + `"},"log_level":"info"}`

func newTestWatcher(t *testing.T) (*ConfigWatcher, string, *syncBuffer) {
	t.Helper()
	clearEnv(t)
	path := writeConfig(t, "config.json", watchedConfig)
	out := &syncBuffer{}
	logger := logrus.New()
	logger.SetOutput(out)
	w := NewConfigWatcher(path, logger)
	w.SetPollInterval(10 * time.Millisecond)
	return w, path, out
}

func TestConfigWatcher_StartInvalidPath(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(&syncBuffer{})
	w := NewConfigWatcher("/nonexistent/pingme.json", logger)
	assert.Error(t, w.Start(context.Background()))
	assert.Nil(t, w.GetConfig())
}

func TestConfigWatcher_ReloadsOnChange(t *testing.T) {
	w, path, out := newTestWatcher(t)

	changed := make(chan *models.Config, 1)
	w.OnConfigChange(func(cfg *models.Config) { changed <- cfg })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	require.Eventually(t, func() bool { return w.GetConfig() != nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "info", w.GetConfig().LogLevel)

	updated := strings.Replace(watchedConfig, `"info"`, `"warn"`, 1)
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0600))
	// Same mtime: the change must be picked up from the content alone.
	require.NoError(t, os.Chtimes(path, info.ModTime(), info.ModTime()))

	select {
	case cfg := <-changed:
		assert.Equal(t, "warn", cfg.LogLevel)
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked")
	}
	assert.Equal(t, "warn", w.GetConfig().LogLevel)

	cancel()
	assert.NoError(t, <-done)
	assert.Contains(t, out.String(), "Log level changed")
}

func TestConfigWatcher_InvalidReloadKeepsPreviousConfig(t *testing.T) {
	w, path, out := newTestWatcher(t)

	initial, err := LoadConfig(path)
	require.NoError(t, err)
	w.config = initial

	require.NoError(t, os.WriteFile(path, []byte(`{"auth":{}}`), 0600))
	w.reloadConfig()

	assert.Same(t, initial, w.GetConfig())
	assert.Contains(t, out.String(), "Failed to reload configuration")
}

func TestConfigWatcher_CallbackPanicIsContained(t *testing.T) {
	w, path, out := newTestWatcher(t)
	w.config, _ = LoadConfig(path)

	called := false
	w.OnConfigChange(func(*models.Config) { panic("boom") })
	w.OnConfigChange(func(*models.Config) { called = true })

	w.reloadConfig()

	assert.True(t, called)
	assert.Contains(t, out.String(), "Config change callback panicked")
}

func TestConfigWatcher_LogConfigChanges(t *testing.T) {
	w, _, out := newTestWatcher(t)

	w.logConfigChanges(nil, &models.Config{})
	assert.Empty(t, out.String())

	old := &models.Config{RateLimit: models.RateLimitConfig{RequestsPerSecond: 1, Burst: 1}}
	updated := &models.Config{RateLimit: models.RateLimitConfig{RequestsPerSecond: 2, Burst: 1}, Server: models.ServerConfig{Port: 1}}
	w.logConfigChanges(old, updated)

	assert.Contains(t, out.String(), "Request rate limit changed")
	assert.Contains(t, out.String(), "need a restart")
	assert.Contains(t, out.String(), "server.port")
}

func TestRestartRequired(t *testing.T) {
	base := func() *models.Config {
		return &models.Config{
			Server:   models.ServerConfig{Port: 8080, AllowedOrigins: []string{"https://chat.example"}},
			Database: models.DatabaseConfig{Path: "pingme.db"},
			LogLevel: "info",
		}
	}

	tests := []struct {
		name   string
		mutate func(*models.Config)
		want   []string
	}{
		{"live settings only", func(c *models.Config) {
			c.LogLevel = "debug"
			c.RateLimit.Burst = 50
		}, nil},
		{"origins", func(c *models.Config) { c.Server.AllowedOrigins = append(c.Server.AllowedOrigins, "https://m.example") }, []string{"server.allowed_origins"}},
		{"database and media", func(c *models.Config) {
			c.Database.Path = "other.db"
			c.Media.MaxSizeMB = 5
		}, []string{"database.path", "media.max_size_mb"}},
		{"realtime", func(c *models.Config) { c.Realtime.TypingTTLSec = 9 }, []string{"realtime"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := base()
			tt.mutate(next)
			assert.Equal(t, tt.want, restartRequired(base(), next))
		})
	}
}
