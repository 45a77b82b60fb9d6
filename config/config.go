// Package config loads the sentrycam YAML configuration, expands
// ${ENV_VAR} references for secrets and validates the result before any
// component sees it.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"sentrycam/detection"
	"sentrycam/engine"
	"sentrycam/ptz"
	"sentrycam/stream"
	"sentrycam/tracking"
)

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// File is the root of the YAML document.
type File struct {
	Camera   CameraSection   `yaml:"camera"`
	Stream   StreamSection   `yaml:"stream"`
	Detector DetectorSection `yaml:"detector"`
	Tracking TrackingSection `yaml:"tracking"`
	LogLevel string          `yaml:"log_level"`
}

type CameraSection struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Channel  int    `yaml:"channel"`
}

type StreamSection struct {
	URL                   string  `yaml:"url"`
	BufferSize            int     `yaml:"buffer_size"`
	ReconnectDelaySeconds float64 `yaml:"reconnect_delay_seconds"`
}

type DetectorSection struct {
	Weights   string `yaml:"weights"`
	Config    string `yaml:"config"`
	Names     string `yaml:"names"`
	InputSize int    `yaml:"input_size"`
	UseCUDA   bool   `yaml:"use_cuda"`
}

type ZoneSection struct {
	Name     string     `yaml:"name"`
	XRange   [2]float64 `yaml:"x_range"`
	YRange   [2]float64 `yaml:"y_range"`
	Preset   string     `yaml:"preset"`
	Priority int        `yaml:"priority"`
}

type QuadrantSection struct {
	PanOffset  float64 `yaml:"pan_offset"`
	TiltOffset float64 `yaml:"tilt_offset"`
	ZoomStep   float64 `yaml:"zoom_step"`
	Speed      float64 `yaml:"speed"`
}

type TrackingSection struct {
	TargetClasses              []string         `yaml:"target_classes"`
	MinConfidence              *float64         `yaml:"min_confidence"`
	MovementThreshold          *float64         `yaml:"movement_threshold"`
	StationaryThreshold        *float64         `yaml:"stationary_threshold"`
	HistoryLength              *int             `yaml:"history_length"`
	MaxCentroidDistance        *float64         `yaml:"max_centroid_distance"`
	CentroidMaxAge             *int             `yaml:"centroid_max_age"`
	MinFramesTracked           *int             `yaml:"min_frames_tracked"`
	CooldownSeconds            *float64         `yaml:"cooldown_seconds"`
	CommandDurationSeconds     *float64         `yaml:"command_duration_seconds"`
	DeadZonePixels             *float64         `yaml:"dead_zone_pixels"`
	MaxPanVelocity             *float64         `yaml:"max_pan_velocity"`
	MaxTiltVelocity            *float64         `yaml:"max_tilt_velocity"`
	TiltCap                    *float64         `yaml:"tilt_cap"`
	MaxZoomVelocity            *float64         `yaml:"max_zoom_velocity"`
	ConfidenceFloor            *float64         `yaml:"confidence_floor"`
	PredictionLookaheadSeconds *float64         `yaml:"prediction_lookahead_seconds"`
	IdealBoxArea               *float64         `yaml:"ideal_box_area"`
	DirectionTriggers          []string         `yaml:"direction_triggers"`
	HomePreset                 *string          `yaml:"home_preset"`
	HomeSpeed                  *float64         `yaml:"home_speed"`
	InactivityTimeoutSeconds   *float64         `yaml:"inactivity_timeout_seconds"`
	Zones                      []ZoneSection    `yaml:"zones"`
	Quadrant                   *QuadrantSection `yaml:"quadrant"`
}

// Load reads, expands and validates a configuration file.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	expanded := envRef.ReplaceAllStringFunc(string(raw), func(ref string) string {
		name := envRef.FindStringSubmatch(ref)[1]
		return os.Getenv(name)
	})

	var f File
	if err := yaml.Unmarshal([]byte(expanded), &f); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate rejects configurations that would misbehave silently at
// runtime.
func (f *File) Validate() error {
	if f.Stream.URL == "" {
		return fmt.Errorf("stream.url is required")
	}
	if c := f.Tracking.MinConfidence; c != nil && (*c <= 0 || *c > 1) {
		return fmt.Errorf("tracking.min_confidence must be in (0, 1], got %v", *c)
	}
	for i, z := range f.Tracking.Zones {
		if z.Name == "" {
			return fmt.Errorf("tracking.zones[%d]: name is required", i)
		}
		if err := validRange("x_range", z.XRange); err != nil {
			return fmt.Errorf("tracking.zones[%d] (%s): %w", i, z.Name, err)
		}
		if err := validRange("y_range", z.YRange); err != nil {
			return fmt.Errorf("tracking.zones[%d] (%s): %w", i, z.Name, err)
		}
	}
	for _, d := range f.Tracking.DirectionTriggers {
		if tracking.ParseDirection(d) == tracking.DirectionUnknown {
			return fmt.Errorf("tracking.direction_triggers: unknown direction %q", d)
		}
	}
	return nil
}

func validRange(name string, r [2]float64) error {
	if r[0] < 0 || r[1] > 1 || r[0] >= r[1] {
		return fmt.Errorf("%s must satisfy 0 <= min < max <= 1, got [%v, %v]", name, r[0], r[1])
	}
	return nil
}

// EngineConfig overlays the tracking section onto the engine defaults.
func (f *File) EngineConfig() engine.Config {
	cfg := engine.DefaultConfig()
	t := f.Tracking

	if len(t.TargetClasses) > 0 {
		cfg.TargetClasses = t.TargetClasses
	}
	setF(&cfg.MinConfidence, t.MinConfidence)
	setF(&cfg.MovementThreshold, t.MovementThreshold)
	setF(&cfg.StationaryThreshold, t.StationaryThreshold)
	setI(&cfg.HistoryLength, t.HistoryLength)
	setF(&cfg.MaxCentroidDistance, t.MaxCentroidDistance)
	setI(&cfg.CentroidMaxAge, t.CentroidMaxAge)
	setI(&cfg.MinFramesTracked, t.MinFramesTracked)
	setDur(&cfg.Cooldown, t.CooldownSeconds)
	setDur(&cfg.CommandDuration, t.CommandDurationSeconds)
	setF(&cfg.DeadZonePixels, t.DeadZonePixels)
	setF(&cfg.MaxPanVelocity, t.MaxPanVelocity)
	setF(&cfg.MaxTiltVelocity, t.MaxTiltVelocity)
	setF(&cfg.TiltCap, t.TiltCap)
	setF(&cfg.MaxZoomVelocity, t.MaxZoomVelocity)
	setF(&cfg.ConfidenceFloor, t.ConfidenceFloor)
	setDur(&cfg.PredictionLookahead, t.PredictionLookaheadSeconds)
	setF(&cfg.IdealBoxArea, t.IdealBoxArea)
	if t.HomePreset != nil {
		cfg.HomePreset = *t.HomePreset
	}
	setF(&cfg.HomeSpeed, t.HomeSpeed)
	setDur(&cfg.InactivityTimeout, t.InactivityTimeoutSeconds)

	for _, d := range t.DirectionTriggers {
		cfg.DirectionTriggers = append(cfg.DirectionTriggers, tracking.ParseDirection(d))
	}
	for _, z := range t.Zones {
		cfg.Zones = append(cfg.Zones, engine.Zone{
			Name:     z.Name,
			XMin:     z.XRange[0],
			XMax:     z.XRange[1],
			YMin:     z.YRange[0],
			YMax:     z.YRange[1],
			Preset:   z.Preset,
			Priority: z.Priority,
		})
	}
	if q := t.Quadrant; q != nil {
		cfg.Quadrant = engine.QuadrantConfig{
			PanOffset:  q.PanOffset,
			TiltOffset: q.TiltOffset,
			ZoomStep:   q.ZoomStep,
			Speed:      q.Speed,
		}
	}
	return cfg
}

// ISAPIConfig maps the camera section to the PTZ controller.
func (f *File) ISAPIConfig() ptz.ISAPIConfig {
	return ptz.ISAPIConfig{
		Host:     f.Camera.Host,
		Port:     f.Camera.Port,
		Username: f.Camera.Username,
		Password: f.Camera.Password,
		Channel:  f.Camera.Channel,
	}
}

// CaptureConfig maps the stream section to the frame source.
func (f *File) CaptureConfig() stream.CaptureConfig {
	return stream.CaptureConfig{
		URL:            f.Stream.URL,
		BufferSize:     f.Stream.BufferSize,
		ReconnectDelay: time.Duration(f.Stream.ReconnectDelaySeconds * float64(time.Second)),
	}
}

// YOLOConfig maps the detector section to the detector.
func (f *File) YOLOConfig() detection.YOLOConfig {
	return detection.YOLOConfig{
		WeightsPath: f.Detector.Weights,
		ConfigPath:  f.Detector.Config,
		NamesPath:   f.Detector.Names,
		InputSize:   f.Detector.InputSize,
		UseCUDA:     f.Detector.UseCUDA,
	}
}

func setF(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func setI(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setDur(dst *time.Duration, seconds *float64) {
	if seconds != nil {
		*dst = time.Duration(*seconds * float64(time.Second))
	}
}
