package engine

import (
	"fmt"
	"time"

	"sentrycam/detection"
	"sentrycam/tracking"
)

// PTZAction describes one command the engine issued.
type PTZAction struct {
	Kind   string // "track", "quadrant", "zone_preset", "home"
	Pan    float64
	Tilt   float64
	Zoom   float64
	Preset string
	At     time.Time
}

// Label renders a compact description for event records and logs.
func (a PTZAction) Label() string {
	if a.Preset != "" {
		return fmt.Sprintf("%s:%s", a.Kind, a.Preset)
	}
	return fmt.Sprintf("%s pan=%+.2f tilt=%+.2f zoom=%+.2f", a.Kind, a.Pan, a.Tilt, a.Zoom)
}

// EventSink receives engine notifications. Implementations must return
// quickly; calls happen on the control loop.
type EventSink interface {
	// OnDetections delivers each fresh filtered detection snapshot.
	OnDetections(dets []detection.Detection)

	// OnTrack delivers a motion snapshot after each track update.
	OnTrack(track tracking.Track)

	// OnPTZMove fires after a command was accepted by the actuator.
	OnPTZMove(action PTZAction)
}

// NopSink discards all notifications.
type NopSink struct{}

func (NopSink) OnDetections([]detection.Detection) {}
func (NopSink) OnTrack(tracking.Track)             {}
func (NopSink) OnPTZMove(PTZAction)                {}
