package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentrycam/tracking"
)

func TestLoadFullConfig(t *testing.T) {
	t.Setenv("SENTRYCAM_TEST_PASSWORD", "hunter2")

	f, err := Load(filepath.Join("testdata", "sentrycam.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.64", f.Camera.Host)
	assert.Equal(t, "hunter2", f.Camera.Password)
	assert.Equal(t, "debug", f.LogLevel)

	cfg := f.EngineConfig()
	assert.Equal(t, []string{"person", "car"}, cfg.TargetClasses)
	assert.Equal(t, 0.7, cfg.MinConfidence)
	assert.Equal(t, 60.0, cfg.MovementThreshold)
	assert.Equal(t, 40, cfg.HistoryLength)
	assert.Equal(t, 20, cfg.CentroidMaxAge)
	assert.Equal(t, 3, cfg.MinFramesTracked)
	assert.Equal(t, 200*time.Millisecond, cfg.Cooldown)
	assert.Equal(t, 100*time.Millisecond, cfg.CommandDuration)
	assert.Equal(t, 25.0, cfg.DeadZonePixels)
	assert.Equal(t, 0.6, cfg.TiltCap)
	assert.Equal(t, 8*time.Second, cfg.InactivityTimeout)
	assert.Equal(t, "Preset002", cfg.HomePreset)
	assert.Equal(t,
		[]tracking.Direction{tracking.DirectionLeftToRight, tracking.DirectionRightToLeft},
		cfg.DirectionTriggers)

	require.Len(t, cfg.Zones, 2)
	assert.Equal(t, "driveway", cfg.Zones[0].Name)
	assert.Equal(t, "Preset010", cfg.Zones[0].Preset)
	assert.Equal(t, 10, cfg.Zones[0].Priority)
	assert.True(t, cfg.Zones[0].Contains(0.25, 0.5))
	assert.False(t, cfg.Zones[0].Contains(0.75, 0.5))

	assert.Equal(t, 0.3, cfg.Quadrant.PanOffset)
	assert.Equal(t, 0.1, cfg.Quadrant.ZoomStep)
}

func TestUnsetFieldsKeepDefaults(t *testing.T) {
	f := writeConfig(t, `
stream:
  url: rtsp://cam/stream
`)
	cfg := f.EngineConfig()
	assert.Equal(t, 0.6, cfg.MinConfidence)
	assert.Equal(t, 50.0, cfg.MovementThreshold)
	assert.Equal(t, 20.0, cfg.DeadZonePixels)
	assert.Equal(t, 150*time.Millisecond, cfg.Cooldown)
	assert.Equal(t, "Preset004", cfg.HomePreset)
	assert.Empty(t, cfg.DirectionTriggers)
}

func TestMissingStreamURLRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("camera:\n  host: cam\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream.url")
}

func TestBadZoneRangeRejected(t *testing.T) {
	cases := map[string]string{
		"inverted":     "x_range: [0.8, 0.2]\n      y_range: [0.0, 1.0]",
		"out of range": "x_range: [0.0, 1.5]\n      y_range: [0.0, 1.0]",
		"degenerate":   "x_range: [0.5, 0.5]\n      y_range: [0.0, 1.0]",
	}
	for name, ranges := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := loadString(t, `
stream:
  url: rtsp://cam/stream
tracking:
  zones:
    - name: bad
      `+ranges+`
`)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "bad")
		})
	}
}

func TestUnknownDirectionTriggerRejected(t *testing.T) {
	_, err := loadString(t, `
stream:
  url: rtsp://cam/stream
tracking:
  direction_triggers: [sideways]
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sideways")
}

func TestBadConfidenceRejected(t *testing.T) {
	_, err := loadString(t, `
stream:
  url: rtsp://cam/stream
tracking:
  min_confidence: 1.5
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_confidence")
}

func TestUnsetEnvVarExpandsEmpty(t *testing.T) {
	f := writeConfig(t, `
camera:
  password: ${SENTRYCAM_DEFINITELY_UNSET_VAR}
stream:
  url: rtsp://cam/stream
`)
	assert.Empty(t, f.Camera.Password)
}

func writeConfig(t *testing.T, body string) *File {
	t.Helper()
	f, err := loadString(t, body)
	require.NoError(t, err)
	return f
}

func loadString(t *testing.T, body string) (*File, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return Load(path)
}
