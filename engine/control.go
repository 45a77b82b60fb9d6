package engine

import (
	"math"

	"sentrycam/detection"
	"sentrycam/tracking"
)

// axisVelocity converts a pixel offset into a normalized velocity.
// Inside the dead zone the result is exactly zero, never a residual crawl.
// Outside it the magnitude scales quadratically with the normalized offset,
// so small errors get gentle corrections and large ones saturate at maxV.
func axisVelocity(offset, halfRange, deadZone, maxV float64) float64 {
	if halfRange <= 0 || math.Abs(offset) < deadZone {
		return 0
	}
	d := math.Abs(offset) / halfRange
	v := maxV * math.Min(1, d*d)
	if offset < 0 {
		v = -v
	}
	return clamp(v, -1, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// predictPosition extrapolates the aim point along the track velocity.
// Low-confidence detections get no lead at all; above the floor the lead
// ramps linearly to full at high confidence. The result is clamped to the
// frame so a noisy velocity can't aim outside it.
func (e *Engine) predictPosition(d detection.Detection, tr tracking.Track, w, h int) (float64, float64) {
	px := float64(d.Center.X)
	py := float64(d.Center.Y)

	floor := e.cfg.ConfidenceFloor
	if d.Confidence > floor && floor < 1 {
		ramp := clamp((d.Confidence-floor)/(1-floor), 0, 1)
		lead := e.cfg.PredictionLookahead.Seconds() * ramp
		px += tr.VelocityX * lead
		py += tr.VelocityY * lead
	}
	return clamp(px, 0, float64(w)), clamp(py, 0, float64(h))
}

// centerMove computes the continuous-move velocities that center the
// (predicted) target. The tilt axis is inverted from image coordinates and
// damped harder than pan since vertical hunting reads worse on a feed.
func (e *Engine) centerMove(d detection.Detection, tr tracking.Track, w, h int) (pan, tilt, zoom float64) {
	px, py := e.predictPosition(d, tr, w, h)
	cx, cy := float64(w)/2, float64(h)/2

	pan = axisVelocity(px-cx, cx, e.cfg.DeadZonePixels, e.cfg.MaxPanVelocity)
	tilt = axisVelocity(cy-py, cy, e.cfg.DeadZonePixels, e.cfg.MaxTiltVelocity)
	tilt = clamp(tilt, -e.cfg.TiltCap, e.cfg.TiltCap)
	zoom = e.zoomVelocity(d.Area())
	return pan, tilt, zoom
}

// fineMove is the in-quadrant variant of centerMove: same rules, but the
// gain is scoped to the quarter-frame sub-view so corrections stay tight
// after the coarse move.
func (e *Engine) fineMove(d detection.Detection, tr tracking.Track, w, h int) (pan, tilt, zoom float64) {
	px, py := e.predictPosition(d, tr, w, h)
	cx, cy := float64(w)/2, float64(h)/2

	pan = axisVelocity(px-cx, float64(w)/4, e.cfg.DeadZonePixels, e.cfg.MaxPanVelocity)
	tilt = axisVelocity(cy-py, float64(h)/4, e.cfg.DeadZonePixels, e.cfg.MaxTiltVelocity)
	tilt = clamp(tilt, -e.cfg.TiltCap, e.cfg.TiltCap)
	zoom = e.zoomVelocity(d.Area())
	return pan, tilt, zoom
}

// zoomVelocity decides whether to zoom toward the subject. Zoom engages
// only while the box area is growing tick over tick (subject approaching)
// and the box is still smaller than the calibrated ideal; anything else
// yields zero so the lens never hunts on a receding or jittery subject.
// Caller holds e.mu.
func (e *Engine) zoomVelocity(area float64) float64 {
	prev := e.lastBoxArea
	e.lastBoxArea = area

	if e.cfg.IdealBoxArea <= 0 || e.cfg.MaxZoomVelocity <= 0 {
		return 0
	}
	if prev <= 0 || area <= prev {
		return 0
	}
	ratio := area / e.cfg.IdealBoxArea
	if ratio >= 1 {
		return 0
	}
	return clamp((1-ratio)*e.cfg.MaxZoomVelocity, 0, 1)
}

// quadrantOffsets maps a quadrant to the signed coarse-move deltas that
// swing the camera toward it. Tilt is positive-up.
func (e *Engine) quadrantOffsets(q Quadrant) (pan, tilt float64) {
	p, t := e.cfg.Quadrant.PanOffset, e.cfg.Quadrant.TiltOffset
	switch q {
	case QuadrantTopLeft:
		return -p, t
	case QuadrantTopRight:
		return p, t
	case QuadrantBottomLeft:
		return -p, -t
	case QuadrantBottomRight:
		return p, -t
	default:
		return 0, 0
	}
}

// zoneFor finds the highest-priority configured zone containing the
// normalized point. Returns nil when no zone matches.
func (e *Engine) zoneFor(x, y float64) *Zone {
	var best *Zone
	for i := range e.cfg.Zones {
		z := &e.cfg.Zones[i]
		if !z.Contains(x, y) {
			continue
		}
		if best == nil || z.Priority > best.Priority {
			best = z
		}
	}
	return best
}
