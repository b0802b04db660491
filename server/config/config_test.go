package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg := LoadConfig()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Drowsiness.AlarmThreshold)
	assert.Equal(t, 500*time.Millisecond, cfg.Drowsiness.Debounce)
	assert.Equal(t, 100*time.Millisecond, cfg.Drowsiness.Interval)
	assert.Equal(t, 3*time.Second, cfg.Link.RetryInterval)
	assert.Equal(t, 60, cfg.Telemetry.HistorySize)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Empty(t, cfg.EnvFile)

	require.NoError(t, cfg.ValidateConfig(zaptest.NewLogger(t)))
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DROWSINESS_ALARM_THRESHOLD", "6s")
	t.Setenv("CLASSIFIER_URLS", "http://a:5000, http://b:5000,,")
	t.Setenv("SERVER_PORT", "not-a-number")

	cfg := LoadConfig()
	assert.Equal(t, 6*time.Second, cfg.Drowsiness.AlarmThreshold)
	assert.Equal(t, []string{"http://a:5000", "http://b:5000"}, cfg.Classifier.BaseURLs)
	assert.Equal(t, 8080, cfg.Server.Port, "unparsable values fall back to the default")
}

func TestLoadConfigDotenv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rig.env")
	require.NoError(t, WriteEnvFile(path, map[string]string{
		"TELEMETRY_WORKER_ID": "W-042",
		"ALARM_MUTED":         "true",
	}))
	t.Cleanup(func() {
		os.Unsetenv("TELEMETRY_WORKER_ID")
		os.Unsetenv("ALARM_MUTED")
	})

	cfg := LoadConfig(path)
	assert.Equal(t, "W-042", cfg.Telemetry.WorkerID)
	assert.True(t, cfg.Alarm.Muted)
	assert.Equal(t, path, cfg.EnvFile)

	assert.Error(t, WriteEnvFile(path, nil), "existing files are not overwritten")
}

func TestValidateConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad_port", func(c *Config) { c.Server.Port = 0 }},
		{"grpc_clash", func(c *Config) { c.GRPC.Port = c.Server.Port }},
		{"unknown_source", func(c *Config) { c.Drowsiness.Source = "webcam" }},
		{"debounce_too_long", func(c *Config) { c.Drowsiness.Debounce = 10 * time.Second }},
		{"window_too_wide", func(c *Config) { c.Drowsiness.SmoothingWindow = 9 }},
		{"tone_longer_than_period", func(c *Config) { c.Alarm.ToneLength = time.Second }},
		{"unknown_driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"postgres_without_host", func(c *Config) {
			c.Database.Driver = "postgres"
			c.Database.Host = ""
		}},
		{"https_without_cert", func(c *Config) { c.Security.EnableHTTPS = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := LoadConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.ValidateConfig(zaptest.NewLogger(t)))
		})
	}
}

func TestDatabaseURL(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5433, User: "rig", Password: "p@ss", DBName: "rigwatch", SSLMode: "disable"}
	assert.Equal(t, "postgres://rig:p%40ss@db:5433/rigwatch?sslmode=disable", d.URL())
}

func TestNewLogger(t *testing.T) {
	logger, err := LoggingConfig{Level: "debug", Format: "console", Output: filepath.Join(t.TempDir(), "rig.log")}.NewLogger()
	require.NoError(t, err)
	logger.Debug("hello")

	_, err = LoggingConfig{Level: "loud"}.NewLogger()
	assert.Error(t, err)
}

func TestEnvTemplateLoadsCleanly(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	tmpl := EnvTemplate()
	require.NoError(t, WriteEnvFile(path, tmpl))
	t.Cleanup(func() {
		for key := range tmpl {
			os.Unsetenv(key)
		}
	})

	cfg := LoadConfig(path)
	require.NoError(t, cfg.ValidateConfig(zaptest.NewLogger(t)))
	assert.Equal(t, "simulated", cfg.Drowsiness.Source)
	assert.Equal(t, []string{"http://localhost:5000"}, cfg.Classifier.BaseURLs)
}
