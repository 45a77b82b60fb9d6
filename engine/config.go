package engine

import (
	"time"

	"sentrycam/tracking"
)

// Zone is a named region of the frame in normalized [0,1] coordinates.
// When a tracked object enters a zone naming a preset, the engine recalls
// that preset once per entry. Higher Priority wins when zones overlap.
type Zone struct {
	Name     string
	XMin     float64
	XMax     float64
	YMin     float64
	YMax     float64
	Preset   string
	Priority int
}

// Contains reports whether the normalized point lies inside the zone.
func (z Zone) Contains(x, y float64) bool {
	return x >= z.XMin && x <= z.XMax && y >= z.YMin && y <= z.YMax
}

// QuadrantConfig calibrates the coarse move issued on a quadrant change.
// Offsets are normalized relative-position deltas, applied with signs
// matching the target quadrant.
type QuadrantConfig struct {
	PanOffset  float64
	TiltOffset float64
	ZoomStep   float64 // fixed zoom delta per coarse move, 0 disables
	Speed      float64
}

// Config carries every engine tunable. DefaultConfig returns the
// production tuning; YAML loading overlays it.
type Config struct {
	// Detection filtering.
	TargetClasses []string
	MinConfidence float64

	// Identity tracking.
	MaxCentroidDistance float64
	CentroidMaxAge      int

	// Motion classification.
	MovementThreshold   float64
	StationaryThreshold float64
	HistoryLength       int
	InactiveTimeout     time.Duration

	// Trigger gate.
	DirectionTriggers []tracking.Direction // empty admits any confirmed direction
	MinFramesTracked  int
	Cooldown          time.Duration

	// Control law.
	CommandDuration     time.Duration
	DeadZonePixels      float64
	MaxPanVelocity      float64
	MaxTiltVelocity     float64
	TiltCap             float64
	MaxZoomVelocity     float64
	ConfidenceFloor     float64
	PredictionLookahead time.Duration
	IdealBoxArea        float64

	// Frame geometry fallback until the first frame arrives.
	FrameWidth  int
	FrameHeight int

	// Idle behavior.
	HomePreset        string
	HomeSpeed         float64
	InactivityTimeout time.Duration

	Zones    []Zone
	Quadrant QuadrantConfig

	// Loop plumbing.
	ReadTimeout time.Duration
	StopTimeout time.Duration
}

// DefaultConfig mirrors the field-proven tuning for a 640x480 stream
// watching people-scale targets.
func DefaultConfig() Config {
	return Config{
		TargetClasses: []string{"person"},
		MinConfidence: 0.6,

		MaxCentroidDistance: 50,
		CentroidMaxAge:      30,

		MovementThreshold:   50,
		StationaryThreshold: 20,
		HistoryLength:       30,
		InactiveTimeout:     2 * time.Second,

		MinFramesTracked: 2,
		Cooldown:         150 * time.Millisecond,

		CommandDuration:     150 * time.Millisecond,
		DeadZonePixels:      20,
		MaxPanVelocity:      1.0,
		MaxTiltVelocity:     1.0,
		TiltCap:             0.7,
		MaxZoomVelocity:     0.5,
		ConfidenceFloor:     0.55,
		PredictionLookahead: 200 * time.Millisecond,
		IdealBoxArea:        20000,

		FrameWidth:  640,
		FrameHeight: 480,

		HomePreset:        "Preset004",
		HomeSpeed:         0.8,
		InactivityTimeout: 5 * time.Second,

		Quadrant: QuadrantConfig{
			PanOffset:  0.25,
			TiltOffset: 0.25,
			Speed:      0.5,
		},

		ReadTimeout: 100 * time.Millisecond,
		StopTimeout: 5 * time.Second,
	}
}
