// Package detection provides the detector contract, a YOLO implementation
// on top of the OpenCV DNN module, and the scheduler that decouples
// inference from the frame cadence.
package detection

import (
	"image"
	"time"

	"gocv.io/x/gocv"
)

// Detection is one detected object in one frame. Box is in pixel
// coordinates of the source frame; Center is the box centroid.
type Detection struct {
	ClassName   string
	Confidence  float64
	Box         image.Rectangle
	Center      image.Point
	FrameNumber int64
	Timestamp   time.Time
}

// Area returns the bounding box area in px².
func (d Detection) Area() float64 {
	return float64(d.Box.Dx()) * float64(d.Box.Dy())
}

// Detector runs object detection on single frames. Implementations own
// their model state and must be safe to call from one worker goroutine.
type Detector interface {
	Detect(frame gocv.Mat, frameNumber int64, ts time.Time) ([]Detection, error)
	Close() error
}
