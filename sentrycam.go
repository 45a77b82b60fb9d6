// sentrycam watches a PTZ camera stream, tracks moving subjects and keeps
// the camera pointed at them. Detections come from a YOLO model, identity
// and motion tracking turn them into directions and velocities, and the
// engine issues bounded ISAPI commands so the camera can never run away.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sentrycam/config"
	"sentrycam/detection"
	"sentrycam/engine"
	"sentrycam/internal/log"
	"sentrycam/ptz"
	"sentrycam/stream"
	"sentrycam/tracking"
)

func main() {
	var (
		configPath = flag.String("config", "sentrycam.yaml", "path to YAML configuration")
		logLevel   = flag.String("log-level", "", "override configured log level (debug|info|warn|error)")
		quadrant   = flag.Bool("quadrant", false, "start in quadrant tracking mode")
	)
	flag.Parse()

	if err := run(*configPath, *logLevel, *quadrant); err != nil {
		fmt.Fprintln(os.Stderr, "sentrycam:", err)
		os.Exit(1)
	}
}

func run(configPath, logLevel string, quadrant bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	log.Init(level)
	logger := log.L()

	detector, err := detection.NewYOLODetector(cfg.YOLOConfig(), logger)
	if err != nil {
		return fmt.Errorf("initializing detector: %w", err)
	}
	defer detector.Close()

	source := stream.NewRTSPSource(cfg.CaptureConfig(), logger)
	if err := source.Start(); err != nil {
		return err
	}
	defer source.Stop()

	actuator := ptz.NewISAPIController(cfg.ISAPIConfig(), logger)
	if pos, err := actuator.CurrentPosition(); err != nil {
		logger.Warn("camera position query failed", "error", err)
	} else {
		logger.Info("camera online", "pan", pos.Pan, "tilt", pos.Tilt, "zoom", pos.Zoom)
	}

	eng := engine.New(cfg.EngineConfig(), source, detector, actuator, &logSink{}, logger)
	if quadrant {
		eng.ToggleQuadrantMode(true)
	}
	if err := eng.Start(); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logger.Info("shutting down", "signal", s.String())

	eng.Stop()

	stats := eng.Statistics()
	logger.Info("final statistics",
		"frames", stats.FramesProcessed,
		"detections", stats.DetectionsSeen,
		"ptz_moves", stats.PTZMoves,
		"events", stats.CompletedEvents)
	for _, ev := range eng.CompletedEvents() {
		logger.Info("tracking event",
			"id", ev.ID,
			"class", ev.ClassName,
			"direction", ev.Direction.String(),
			"triggers", ev.Triggers,
			"zones", ev.Zones)
	}
	return nil
}

// logSink mirrors engine activity into the structured log at debug level.
type logSink struct{}

func (logSink) OnDetections(dets []detection.Detection) {
	log.L().Debug("detections", "count", len(dets))
}

func (logSink) OnTrack(t tracking.Track) {
	log.L().Debug("track update",
		"object_id", t.ObjectID,
		"direction", t.Direction.String(),
		"speed", t.Speed(),
		"frames", t.FramesTracked)
}

func (logSink) OnPTZMove(a engine.PTZAction) {
	log.L().Debug("ptz move", "action", a.Label())
}
