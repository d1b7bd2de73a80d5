package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestReadFileAndDefaults(t *testing.T) {
	path := writeConfig(t, `{"host": "192.168.1.40", "api_prefix": "api/v1/", "follow_master": [1]}`)

	var cfg Config
	require.NoError(t, cfg.readFile(path))
	cfg.applyDefaults()
	cfg.validate()

	assert.Equal(t, "192.168.1.40", cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultScanInterval, cfg.ScanInterval)
	assert.Equal(t, DefaultRequestTimeout, cfg.RequestTimeoutSeconds)
	assert.Equal(t, DefaultAPIPort, cfg.APIPort)
	assert.Equal(t, DefaultFailureThreshold, cfg.FailureNotifyThreshold)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, []int{1}, cfg.FollowMaster)
	assert.Equal(t, MasterZoneSourceHeuristic, cfg.MasterZoneSource)
	assert.Equal(t, "airzone", cfg.MQTT.TopicPrefix)
}

func TestScanIntervalClamped(t *testing.T) {
	cfg := Config{Host: "airzone.local", ScanInterval: 2}
	cfg.applyDefaults()
	assert.Equal(t, MinScanInterval, cfg.ScanInterval)

	cfg = Config{Host: "airzone.local", ScanInterval: 60}
	cfg.applyDefaults()
	assert.Equal(t, 60, cfg.ScanInterval)
}

func TestReadFileErrors(t *testing.T) {
	var cfg Config
	assert.Error(t, cfg.readFile(filepath.Join(t.TempDir(), "missing.json")))
	assert.Error(t, cfg.readFile(writeConfig(t, `{"host": `)))
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLogLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, parseLogLevel("warn"))
	assert.Equal(t, zerolog.ErrorLevel, parseLogLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, parseLogLevel("verbose"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		panic bool
	}{
		{"valid", Config{Host: "10.0.0.2"}, false},
		{"missing host", Config{}, true},
		{"bad port", Config{Host: "10.0.0.2", Port: 70000}, true},
		{"port clash on localhost", Config{Host: "localhost", Port: 8080, APIPort: 8080}, true},
		{"unknown master source", Config{Host: "10.0.0.2", MasterZoneSource: "random"}, true},
		{"duplicate follow master", Config{Host: "10.0.0.2", FollowMaster: []int{1, 1}}, true},
		{"non-positive follow master", Config{Host: "10.0.0.2", FollowMaster: []int{0}}, true},
		{"system master source", Config{Host: "10.0.0.2", MasterZoneSource: MasterZoneSourceSystemData}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			cfg.applyDefaults()
			if tt.panic {
				assert.Panics(t, cfg.validate)
			} else {
				assert.NotPanics(t, cfg.validate)
			}
		})
	}
}

func TestFromFile(t *testing.T) {
	path := writeConfig(t, `{"host": "airzone.local", "db_path": "/var/lib/airzone/state.db", "mqtt": {"broker": "tcp://broker:1883", "topic_prefix": "home/airzone/"}}`)

	cfg, err := FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.ConfigFile)
	assert.Equal(t, "/var/lib/airzone/state.db", cfg.DBPath)
	assert.Equal(t, "home/airzone", cfg.MQTT.TopicPrefix)
	assert.Equal(t, DefaultPort, cfg.Port)

	_, err = FromFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	assert.Panics(t, func() { _, _ = FromFile(writeConfig(t, `{"port": 3000}`)) })
}
