// Package stream pulls frames from a video source and hands the newest
// ones to the control loop, absorbing camera hiccups with reconnects.
package stream

import (
	"time"

	"gocv.io/x/gocv"
)

// Frame is one decoded video frame. The receiver owns the Mat and must
// Close it when done.
type Frame struct {
	Mat    gocv.Mat
	Number int64
	Time   time.Time
}

// Width returns the frame width in px.
func (f *Frame) Width() int { return f.Mat.Cols() }

// Height returns the frame height in px.
func (f *Frame) Height() int { return f.Mat.Rows() }

// Close releases the underlying Mat.
func (f *Frame) Close() {
	f.Mat.Close()
}

// Stats is a point-in-time snapshot of source health.
type Stats struct {
	FramesReceived int64
	FramesDropped  int64
	FPS            float64
	Connected      bool
	Reconnects     int64
	LastFrameTime  time.Time
}

// Source produces frames for the control loop.
type Source interface {
	// Read blocks up to timeout for the next frame. ok is false when no
	// frame arrived in time or the source is stopped.
	Read(timeout time.Duration) (frame *Frame, ok bool)
	Stats() Stats
}
