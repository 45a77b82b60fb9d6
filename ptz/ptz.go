// Package ptz drives pan-tilt-zoom cameras. The engine only sees the
// Actuator contract; the concrete implementation speaks Hikvision ISAPI.
package ptz

import "time"

// Actuator is the engine-facing PTZ contract. Pan, tilt and zoom velocities
// are normalized to [-1, 1]. Every continuous move MUST terminate on its
// own after duration even if the caller never issues another command; a
// camera must not keep slewing because a process died mid-move.
type Actuator interface {
	// ContinuousMove starts a velocity move and schedules the stop. With
	// blocking true the call returns after the stop has been issued.
	ContinuousMove(pan, tilt, zoom float64, duration time.Duration, blocking bool) error

	// RelativeMove nudges the camera by normalized position deltas.
	RelativeMove(pan, tilt, zoom, speed float64) error

	// GotoPreset recalls a stored preset position by token.
	GotoPreset(token string, speed float64) error

	// Stop halts all axes immediately.
	Stop() error
}

// Position is the camera's reported absolute pose.
type Position struct {
	Pan  float64 // degrees
	Tilt float64 // degrees
	Zoom float64 // multiplier
}
