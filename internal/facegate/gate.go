// Package facegate decides locally whether a frame contains a face before
// anything leaves the kiosk.
package facegate

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kozaktomas/attendance-kiosk/internal/config"
	"github.com/kozaktomas/attendance-kiosk/internal/imaging"
	"github.com/kozaktomas/attendance-kiosk/internal/logger"
)

// Verdict is the gate's decision for one frame.
type Verdict int

const (
	VerdictNoFace Verdict = iota
	VerdictFace
	VerdictUnavailable
)

func (v Verdict) String() string {
	switch v {
	case VerdictFace:
		return "face"
	case VerdictNoFace:
		return "no_face"
	case VerdictUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Detection is one face found by the detector, bbox in pixels of the
// image that was sent.
type Detection struct {
	BBox  []float64
	Score float64
}

// Detector finds faces in a JPEG image.
type Detector interface {
	DetectFaces(ctx context.Context, jpegData []byte) ([]Detection, error)
	Health(ctx context.Context) error
}

// Gate wraps a Detector with thresholds and availability tracking.
type Gate struct {
	detector     Detector
	threshold    float64
	inputSize    int
	minFaceRatio float64
	recheck      time.Duration
	clock        clockwork.Clock

	mu        sync.Mutex
	available bool
	lastProbe time.Time
}

// New creates a gate. The gate starts unavailable until Warmup succeeds.
func New(detector Detector, cfg config.DetectorConfig, clock clockwork.Clock) *Gate {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Gate{
		detector:     detector,
		threshold:    cfg.ScoreThreshold,
		inputSize:    cfg.InputSize,
		minFaceRatio: cfg.MinFaceRatio,
		recheck:      cfg.RecheckInterval,
		clock:        clock,
	}
}

// Warmup probes the detector once and records whether it is usable.
func (g *Gate) Warmup(ctx context.Context) error {
	return g.probe(ctx)
}

// Available reports whether detection currently works.
func (g *Gate) Available() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.available
}

func (g *Gate) probe(ctx context.Context) error {
	err := g.detector.Health(ctx)

	g.mu.Lock()
	wasAvailable := g.available
	g.available = err == nil
	g.lastProbe = g.clock.Now()
	g.mu.Unlock()

	log := logger.Component("facegate")
	switch {
	case err != nil && wasAvailable:
		log.WithError(err).Warn("face detection became unavailable")
	case err != nil:
		log.WithError(err).Debug("face detection unavailable")
	case !wasAvailable:
		log.Info("face detection available")
	}
	return err
}

// Check returns whether the frame contains at least one face that clears
// the score threshold and the minimum size.
func (g *Gate) Check(ctx context.Context, jpegData []byte) Verdict {
	log := logger.Component("facegate")

	if !g.Available() {
		g.mu.Lock()
		due := g.clock.Since(g.lastProbe) >= g.recheck
		g.mu.Unlock()
		if !due || g.probe(ctx) != nil {
			return VerdictUnavailable
		}
	}

	img, err := imaging.Decode(jpegData)
	if err != nil {
		log.WithError(err).Warn("could not decode frame for detection")
		return VerdictNoFace
	}
	if g.inputSize > 0 {
		img = imaging.Fit(img, g.inputSize)
	}
	input, err := imaging.EncodeJPEG(img)
	if err != nil {
		log.WithError(err).Warn("could not encode detector input")
		return VerdictNoFace
	}

	detections, err := g.detector.DetectFaces(ctx, input)
	if err != nil {
		if ctx.Err() != nil {
			return VerdictNoFace
		}
		// A failing detection call only disables the gate when the model is gone.
		if g.probe(ctx) != nil {
			return VerdictUnavailable
		}
		log.WithError(err).Warn("face detection failed")
		return VerdictNoFace
	}

	bounds := img.Bounds()
	faces := 0
	for _, d := range detections {
		if d.Score < g.threshold {
			continue
		}
		if g.minFaceRatio > 0 && len(d.BBox) == 4 && relativeWidth(d.BBox, bounds.Dx(), bounds.Dy()) < g.minFaceRatio {
			continue
		}
		faces++
	}

	log.WithField("detections", len(detections)).WithField("faces", faces).Debug("frame checked")
	if faces == 0 {
		return VerdictNoFace
	}
	return VerdictFace
}
