package config

import (
	"context"
	"crypto/sha256"
	"os"
	"slices"
	"sync"
	"time"

	"pingme/internal/models"

	"github.com/sirupsen/logrus"
)

const defaultPollInterval = 5 * time.Second

// ConfigWatcher polls the configuration file and hands every valid new
// version to the registered callbacks. Only the log level and the request
// rate limit are applied live; other changes are reported as needing a
// restart. A reload that fails validation keeps the previous config.
type ConfigWatcher struct {
	configPath   string
	logger       *logrus.Logger
	pollInterval time.Duration

	mu        sync.RWMutex
	config    *models.Config
	callbacks []func(*models.Config)
}

func NewConfigWatcher(configPath string, logger *logrus.Logger) *ConfigWatcher {
	return &ConfigWatcher{
		configPath:   configPath,
		logger:       logger,
		pollInterval: defaultPollInterval,
	}
}

// SetPollInterval changes how often the file is checked. Call before Start.
func (cw *ConfigWatcher) SetPollInterval(d time.Duration) {
	if d > 0 {
		cw.pollInterval = d
	}
}

// Start loads the file and then polls it until ctx is done. Changes are
// detected by content digest, so rewrites within the filesystem's mtime
// granularity are not missed.
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	config, err := LoadConfig(cw.configPath)
	if err != nil {
		return err
	}
	digest, err := fileDigest(cw.configPath)
	if err != nil {
		return err
	}

	cw.mu.Lock()
	cw.config = config
	cw.mu.Unlock()

	cw.logger.WithFields(logrus.Fields{
		"path":     cw.configPath,
		"interval": cw.pollInterval.String(),
	}).Info("Configuration watcher started")

	ticker := time.NewTicker(cw.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cw.logger.Info("Configuration watcher stopping")
			return nil
		case <-ticker.C:
			next, err := fileDigest(cw.configPath)
			if err != nil {
				cw.logger.WithError(err).Error("Failed to read configuration file")
				continue
			}
			if next == digest {
				continue
			}
			digest = next
			cw.logger.Debug("Configuration file changed")
			cw.reloadConfig()
		}
	}
}

func (cw *ConfigWatcher) GetConfig() *models.Config {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.config
}

func (cw *ConfigWatcher) OnConfigChange(callback func(*models.Config)) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

func (cw *ConfigWatcher) reloadConfig() {
	next, err := LoadConfig(cw.configPath)
	if err != nil {
		cw.logger.WithError(err).Error("Failed to reload configuration")
		return
	}

	cw.mu.Lock()
	prev := cw.config
	cw.config = next
	callbacks := slices.Clone(cw.callbacks)
	cw.mu.Unlock()

	cw.logger.Info("Configuration reloaded successfully")
	cw.logConfigChanges(prev, next)

	for _, cb := range callbacks {
		cw.notify(cb, next)
	}
}

func (cw *ConfigWatcher) notify(cb func(*models.Config), config *models.Config) {
	defer func() {
		if r := recover(); r != nil {
			cw.logger.WithField("panic", r).Error("Config change callback panicked")
		}
	}()
	cb(config)
}

func (cw *ConfigWatcher) logConfigChanges(prev, next *models.Config) {
	if prev == nil {
		return
	}

	if prev.LogLevel != next.LogLevel {
		cw.logger.WithFields(logrus.Fields{
			"old": prev.LogLevel,
			"new": next.LogLevel,
		}).Info("Log level changed")
	}

	if prev.RateLimit != next.RateLimit {
		cw.logger.WithFields(logrus.Fields{
			"old_rps":   prev.RateLimit.RequestsPerSecond,
			"new_rps":   next.RateLimit.RequestsPerSecond,
			"old_burst": prev.RateLimit.Burst,
			"new_burst": next.RateLimit.Burst,
		}).Info("Request rate limit changed")
	}

	if fields := restartRequired(prev, next); len(fields) > 0 {
		cw.logger.WithField("settings", fields).Warn("Settings changed that need a restart to apply")
	}
}

// restartRequired names the changed settings that are only read at startup.
func restartRequired(prev, next *models.Config) []string {
	var changed []string
	check := func(name string, differs bool) {
		if differs {
			changed = append(changed, name)
		}
	}
	check("server.port", prev.Server.Port != next.Server.Port)
	check("server.public_url", prev.Server.PublicURL != next.Server.PublicURL)
	check("server.allowed_origins", !slices.Equal(prev.Server.AllowedOrigins, next.Server.AllowedOrigins))
	check("database.path", prev.Database.Path != next.Database.Path)
	check("auth", prev.Auth != next.Auth)
	check("media.dir", prev.Media.Dir != next.Media.Dir)
	check("media.max_size_mb", prev.Media.MaxSizeMB != next.Media.MaxSizeMB)
	check("messages", prev.Messages != next.Messages)
	check("realtime", prev.Realtime != next.Realtime)
	check("tracing", prev.Tracing != next.Tracing)
	return changed
}

func fileDigest(path string) ([sha256.Size]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return [sha256.Size]byte{}, err
	}
	return sha256.Sum256(data), nil
}
