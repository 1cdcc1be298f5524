package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "env: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Env)
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Backend)
	assert.Equal(t, 0.6, cfg.Face.MatchThreshold)
	assert.Equal(t, 128, cfg.Face.DescriptorLength)
	assert.Equal(t, 30*time.Second, cfg.Reports.DashboardCacheTTL)
	assert.Zero(t, cfg.Capture.IdleTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Capture.Retention)
	assert.False(t, cfg.Cloudinary.Enabled())
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	path := writeConfig(t, `
timezone: UTC
db:
  backend: memory
queue:
  backend: memory
face:
  match_threshold: 0.5
cameras:
  - name: lobby
    kind: snapshot
    url: http://cam.local/snapshot.jpg
    interval: 200ms
  - name: kiosk
    kind: push
`)
	t.Setenv("ATTEND_SERVER_PORT", "9090")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Database.Backend)
	assert.Equal(t, 0.5, cfg.Face.MatchThreshold)
	require.Len(t, cfg.Cameras, 2)
	assert.Equal(t, "lobby", cfg.Cameras[0].Name)
	assert.Equal(t, 200*time.Millisecond, cfg.Cameras[0].Interval)
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestValidate(t *testing.T) {
	base := func() *App {
		return &App{
			Timezone: "UTC",
			Server:   ServerConfig{Port: 8080},
			Database: DatabaseConfig{Backend: "memory"},
			Queue:    QueueConfig{Backend: "memory"},
			Face:     FaceConfig{MatchThreshold: 0.6, DescriptorLength: 128},
		}
	}

	tests := []struct {
		name   string
		mutate func(*App)
	}{
		{"bad port", func(a *App) { a.Server.Port = 0 }},
		{"bad db backend", func(a *App) { a.Database.Backend = "mysql" }},
		{"bad queue backend", func(a *App) { a.Queue.Backend = "kafka" }},
		{"bad threshold", func(a *App) { a.Face.MatchThreshold = 0 }},
		{"bad timezone", func(a *App) { a.Timezone = "Mars/Olympus" }},
		{"snapshot without url", func(a *App) { a.Cameras = []CameraConfig{{Name: "c", Kind: "snapshot"}} }},
		{"duplicate camera", func(a *App) {
			a.Cameras = []CameraConfig{{Name: "c", Kind: "push"}, {Name: "c", Kind: "push"}}
		}},
	}

	require.NoError(t, base().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
