// Package engine turns filtered detections into bounded PTZ commands. It
// owns the control loop, the identity and motion trackers, the quadrant
// state machine, the inactivity monitor and the event recorder.
package engine

import (
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"sentrycam/detection"
	"sentrycam/ptz"
	"sentrycam/stream"
	"sentrycam/tracking"
)

// Statistics is a point-in-time snapshot of engine counters and mode.
type Statistics struct {
	FramesProcessed int64
	DetectionsSeen  int64
	TracksUpdated   int64
	PTZMoves        int64
	ActiveTracks    int
	ActiveEvents    int
	CompletedEvents int
	State           string
	CurrentPreset   string
	QuadrantMode    bool
	Running         bool
	Paused          bool
	Scheduler       detection.SchedulerStats
	Stream          stream.Stats
}

// Engine wires the frame source, detection scheduler, trackers and
// actuator into one control loop. Exactly two goroutines run while the
// engine is up: the control loop here and the scheduler's inference
// worker. All tracker state is written only from the control loop.
type Engine struct {
	cfg      Config
	source   stream.Source
	sched    *detection.Scheduler
	actuator ptz.Actuator
	ids      *tracking.CentroidTracker
	motion   *tracking.MotionTracker
	events   *eventRecorder
	sink     EventSink
	log      *slog.Logger

	mu           sync.Mutex
	st           EngineState
	frameW       int
	frameH       int
	lastBoxArea  float64
	lastCommand  time.Time
	lastDetFrame int64
	lastZone     map[int]string
	running      bool
	paused       bool
	stopCh       chan struct{}
	doneCh       chan struct{}

	framesProcessed atomic.Int64
	detectionsSeen  atomic.Int64
	tracksUpdated   atomic.Int64
	ptzMoves        atomic.Int64
}

// New assembles an engine. detector may be shared with nothing else; the
// engine's scheduler becomes its only caller. A nil sink gets NopSink.
func New(cfg Config, source stream.Source, detector detection.Detector, actuator ptz.Actuator, sink EventSink, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = NopSink{}
	}
	return &Engine{
		cfg:      cfg,
		source:   source,
		sched:    detection.NewScheduler(detector, cfg.MinConfidence, cfg.TargetClasses, logger),
		actuator: actuator,
		ids:      tracking.NewCentroidTracker(cfg.MaxCentroidDistance, cfg.CentroidMaxAge),
		motion: tracking.NewMotionTracker(tracking.MotionConfig{
			HistoryLength:       cfg.HistoryLength,
			MovementThreshold:   cfg.MovementThreshold,
			StationaryThreshold: cfg.StationaryThreshold,
			InactiveTimeout:     cfg.InactiveTimeout,
		}),
		events:   newEventRecorder(),
		sink:     sink,
		log:      logger,
		frameW:   cfg.FrameWidth,
		frameH:   cfg.FrameHeight,
		lastZone: make(map[int]string),
	}
}

// Start launches the scheduler worker and the control loop.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return fmt.Errorf("engine already running")
	}
	e.running = true
	e.paused = false
	e.st.State = StateIdle
	e.st.LastActionAt = time.Now()
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})

	e.sched.Start()
	go e.run()
	e.log.Info("engine started",
		"target_classes", e.cfg.TargetClasses,
		"home_preset", e.cfg.HomePreset)
	return nil
}

// Stop signals the control loop, joins it with a bounded wait, stops the
// scheduler and closes all open tracking events. Safe to call once per
// Start.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	stopCh, doneCh := e.stopCh, e.doneCh
	e.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
	case <-time.After(e.cfg.StopTimeout):
		e.log.Warn("control loop did not stop in time", "timeout", e.cfg.StopTimeout)
	}
	e.sched.Stop(e.cfg.StopTimeout)

	closed := e.events.closeAll(time.Now())
	e.log.Info("engine stopped", "events_closed", closed)
}

// Pause suspends PTZ activity; frames keep flowing but no commands are
// issued until Resume.
func (e *Engine) Pause() {
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
	e.log.Info("engine paused")
}

// Resume re-enables PTZ activity after a Pause.
func (e *Engine) Resume() {
	e.mu.Lock()
	e.paused = false
	e.st.LastActionAt = time.Now()
	e.mu.Unlock()
	e.log.Info("engine resumed")
}

// ToggleQuadrantMode flips quadrant mode, or forces it when an explicit
// value is passed, and returns the new mode. Every call resets the current
// quadrant to unknown, so repeated calls with the same value are safe.
func (e *Engine) ToggleQuadrantMode(enable ...bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := !e.st.QuadrantMode
	if len(enable) > 0 {
		next = enable[0]
	}
	e.st.QuadrantMode = next
	e.st.CurrentQuadrant = QuadrantUnknown
	e.log.Info("quadrant mode toggled", "enabled", next)
	return next
}

// SetIdleOverride redirects the inactivity return to the given preset
// instead of the configured home. An empty token restores the default.
func (e *Engine) SetIdleOverride(preset string) {
	e.mu.Lock()
	e.st.IdleOverride = preset
	e.mu.Unlock()
}

// State returns a coherent snapshot of the controller state.
func (e *Engine) State() EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st
}

// ActiveEvents returns copies of the currently open tracking events.
func (e *Engine) ActiveEvents() []TrackingEvent { return e.events.activeEvents() }

// CompletedEvents returns copies of the closed tracking events.
func (e *Engine) CompletedEvents() []TrackingEvent { return e.events.completedEvents() }

// Statistics returns the current counter snapshot.
func (e *Engine) Statistics() Statistics {
	e.mu.Lock()
	st := e.st
	running, paused := e.running, e.paused
	e.mu.Unlock()

	active, completed := e.events.counts()
	stats := Statistics{
		FramesProcessed: e.framesProcessed.Load(),
		DetectionsSeen:  e.detectionsSeen.Load(),
		TracksUpdated:   e.tracksUpdated.Load(),
		PTZMoves:        e.ptzMoves.Load(),
		ActiveTracks:    len(e.motion.ActiveTracks()),
		ActiveEvents:    active,
		CompletedEvents: completed,
		State:           st.State.String(),
		CurrentPreset:   st.CurrentPreset,
		QuadrantMode:    st.QuadrantMode,
		Running:         running,
		Paused:          paused,
		Scheduler:       e.sched.Stats(),
	}
	if e.source != nil {
		stats.Stream = e.source.Stats()
	}
	return stats
}

func (e *Engine) run() {
	defer close(e.doneCh)
	for {
		select {
		case <-e.stopCh:
			return
		default:
		}

		e.mu.Lock()
		paused := e.paused
		e.mu.Unlock()
		if paused {
			select {
			case <-e.stopCh:
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		e.safeTick()
	}
}

// safeTick shields the loop from a panicking tick: log, back off, carry on.
func (e *Engine) safeTick() {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("control loop recovered from panic", "panic", r)
			time.Sleep(100 * time.Millisecond)
		}
	}()
	e.tick()
}

// tick pulls at most one frame, hands it to the scheduler, then acts on
// the latest completed detection snapshot. The frame read timeout paces
// the loop; a silent source still gets inactivity checks.
func (e *Engine) tick() {
	if frame, ok := e.source.Read(e.cfg.ReadTimeout); ok {
		e.framesProcessed.Add(1)
		e.mu.Lock()
		e.frameW, e.frameH = frame.Width(), frame.Height()
		e.mu.Unlock()
		e.sched.Submit(frame.Mat, frame.Number, frame.Time)
		frame.Close()
	}

	e.processDetections(e.sched.Latest(), time.Now())
}

// processDetections runs one control decision against a detection
// snapshot. A snapshot already processed (same source frame) is skipped so
// a stalled detector cannot replay old boxes into the trackers.
func (e *Engine) processDetections(dets []detection.Detection, now time.Time) {
	acted := false
	if len(dets) > 0 {
		e.mu.Lock()
		fresh := dets[0].FrameNumber != e.lastDetFrame
		if fresh {
			e.lastDetFrame = dets[0].FrameNumber
		}
		e.mu.Unlock()

		if fresh {
			e.detectionsSeen.Add(int64(len(dets)))
			e.sink.OnDetections(dets)
			acted = e.updateTrackers(dets, now)
		}
	} else {
		// Empty scene still ages identities toward eviction.
		_, evicted := e.ids.Assign(nil)
		e.dropEvicted(evicted)
	}

	if !acted {
		e.checkInactivity(now)
	}
}

// updateTrackers assigns identities, feeds the motion tracker and fires
// the controller for each detection that passes the trigger gate.
// Reports whether any PTZ command was issued.
func (e *Engine) updateTrackers(dets []detection.Detection, now time.Time) bool {
	centers := make([]image.Point, len(dets))
	for i, d := range dets {
		centers[i] = d.Center
	}
	ids, evicted := e.ids.Assign(centers)
	e.dropEvicted(evicted)

	acted := false
	for i, d := range dets {
		id := ids[i]
		dir := e.motion.Update(strconv.Itoa(id), d.Center, now)
		track, ok := e.motion.TrackInfo(strconv.Itoa(id))
		if !ok {
			continue
		}
		e.tracksUpdated.Add(1)
		e.sink.OnTrack(track)

		if !e.shouldTrigger(dir, track, now) {
			continue
		}
		if e.act(id, d, track, now) {
			acted = true
		}
	}
	return acted
}

// dropEvicted clears evicted identities from the motion tracker and zone
// memory in the same tick, keeping the two trackers in lock step.
func (e *Engine) dropEvicted(evicted []int) {
	for _, id := range evicted {
		e.motion.ClearTrack(strconv.Itoa(id))
		e.mu.Lock()
		delete(e.lastZone, id)
		e.mu.Unlock()
		e.log.Debug("identity evicted", "object_id", id)
	}
}

// shouldTrigger is the gate between "seen" and "acted on": the object must
// be moving (not stationary), must match a configured trigger direction if
// any are set, must have enough track depth, and the per-action cooldown
// must have elapsed.
func (e *Engine) shouldTrigger(dir tracking.Direction, track tracking.Track, now time.Time) bool {
	if dir == tracking.DirectionStationary {
		return false
	}
	if len(e.cfg.DirectionTriggers) > 0 {
		match := false
		for _, want := range e.cfg.DirectionTriggers {
			if dir == want {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	if track.FramesTracked < e.cfg.MinFramesTracked {
		return false
	}

	e.mu.Lock()
	last := e.st.LastActionAt
	idle := e.st.State == StateIdle && e.ptzMoves.Load() == 0
	e.mu.Unlock()
	if !idle && now.Sub(last) < e.cfg.Cooldown {
		return false
	}
	return true
}

// act issues at most one PTZ command for the detection. Zone preset
// recall takes precedence, then the quadrant state machine when enabled,
// then the proportional centering law.
func (e *Engine) act(id int, d detection.Detection, track tracking.Track, now time.Time) bool {
	e.mu.Lock()
	w, h := e.frameW, e.frameH
	quadMode := e.st.QuadrantMode
	curQuad := e.st.CurrentQuadrant
	curPreset := e.st.CurrentPreset
	lastZone := e.lastZone[id]
	e.mu.Unlock()

	zoneName := ""
	var zonePreset string
	if z := e.zoneFor(float64(d.Center.X)/float64(w), float64(d.Center.Y)/float64(h)); z != nil {
		zoneName = z.Name
		zonePreset = z.Preset
	}

	// One preset recall per zone entry. On failure the entry is left
	// unrecorded so the recall retries on the next trigger instead of
	// waiting for the object to leave and re-enter the zone.
	recallFailed := false
	if zoneName != "" && zoneName != lastZone && zonePreset != "" && zonePreset != curPreset {
		action := PTZAction{Kind: "zone_preset", Preset: zonePreset, At: now}
		if err := e.actuator.GotoPreset(zonePreset, e.cfg.HomeSpeed); err != nil {
			e.log.Warn("zone preset recall failed", "preset", zonePreset, "error", err)
			recallFailed = true
		} else {
			e.commit(id, d, track, action, now, zoneName, func(st *EngineState) {
				st.CurrentPreset = zonePreset
			})
			return true
		}
	}
	if !recallFailed {
		e.mu.Lock()
		e.lastZone[id] = zoneName
		e.mu.Unlock()
	}

	if quadMode {
		return e.actQuadrant(id, d, track, curQuad, w, h, now, zoneName)
	}

	e.mu.Lock()
	pan, tilt, zoom := e.centerMove(d, track, w, h)
	e.mu.Unlock()
	if pan == 0 && tilt == 0 && zoom == 0 {
		return false // inside the dead zone on all axes
	}

	action := PTZAction{Kind: "track", Pan: pan, Tilt: tilt, Zoom: zoom, At: now}
	if err := e.actuator.ContinuousMove(pan, tilt, zoom, e.cfg.CommandDuration, false); err != nil {
		e.log.Warn("track move failed", "error", err)
		return false
	}
	e.commit(id, d, track, action, now, zoneName, nil)
	return true
}

// actQuadrant runs the quadrant state machine: one coarse relative move
// per quadrant change, proportional fine tracking while the subject stays
// inside the committed quadrant.
func (e *Engine) actQuadrant(id int, d detection.Detection, track tracking.Track, cur Quadrant, w, h int, now time.Time, zoneName string) bool {
	q := quadrantFor(d.Center, w, h)
	if q != cur {
		pan, tilt := e.quadrantOffsets(q)
		action := PTZAction{Kind: "quadrant", Pan: pan, Tilt: tilt, Zoom: e.cfg.Quadrant.ZoomStep, At: now}
		if err := e.actuator.RelativeMove(pan, tilt, e.cfg.Quadrant.ZoomStep, e.cfg.Quadrant.Speed); err != nil {
			e.log.Warn("quadrant move failed", "quadrant", q.String(), "error", err)
			return false
		}
		e.commit(id, d, track, action, now, zoneName, func(st *EngineState) {
			st.CurrentQuadrant = q
		})
		e.log.Debug("quadrant change", "quadrant", q.String(), "object_id", id)
		return true
	}

	e.mu.Lock()
	pan, tilt, zoom := e.fineMove(d, track, w, h)
	e.mu.Unlock()
	if pan == 0 && tilt == 0 && zoom == 0 {
		return false
	}
	action := PTZAction{Kind: "track", Pan: pan, Tilt: tilt, Zoom: zoom, At: now}
	if err := e.actuator.ContinuousMove(pan, tilt, zoom, e.cfg.CommandDuration, false); err != nil {
		e.log.Warn("fine track move failed", "error", err)
		return false
	}
	e.commit(id, d, track, action, now, zoneName, nil)
	return true
}

// commit records a successfully issued command: state transition, counters,
// event append, sink notification.
func (e *Engine) commit(id int, d detection.Detection, track tracking.Track, action PTZAction, now time.Time, zoneName string, mutate func(*EngineState)) {
	e.mu.Lock()
	e.st.State = StateTracking
	e.st.LastActionAt = now
	e.lastCommand = now
	if mutate != nil {
		mutate(&e.st)
	}
	e.mu.Unlock()

	e.ptzMoves.Add(1)
	e.events.record(id, d.ClassName, track.Direction, zoneName, action.Label(), now)
	e.sink.OnPTZMove(action)
}

// checkInactivity returns the camera to its idle preset after the
// configured quiet period. Runs on every tick that issued no command.
func (e *Engine) checkInactivity(now time.Time) {
	e.mu.Lock()
	target := e.cfg.HomePreset
	if e.st.IdleOverride != "" {
		target = e.st.IdleOverride
	}
	if target == "" {
		e.mu.Unlock()
		return
	}
	if now.Sub(e.st.LastActionAt) < e.cfg.InactivityTimeout {
		e.mu.Unlock()
		return
	}
	// Already parked: re-issue at most once a second.
	if e.st.CurrentPreset == target && now.Sub(e.lastCommand) < time.Second {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	if err := e.actuator.GotoPreset(target, e.cfg.HomeSpeed); err != nil {
		e.log.Warn("return to idle preset failed", "preset", target, "error", err)
		return
	}

	e.mu.Lock()
	e.st.State = StateReturningHome
	e.st.CurrentPreset = target
	e.lastCommand = now
	e.mu.Unlock()
	e.ptzMoves.Add(1)
	e.sink.OnPTZMove(PTZAction{Kind: "home", Preset: target, At: now})
	e.log.Info("returned to idle preset", "preset", target)
}
