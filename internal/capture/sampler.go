package capture

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kozaktomas/attendance-kiosk/internal/imaging"
	"github.com/kozaktomas/attendance-kiosk/internal/logger"
)

// Frame is a still image materialized from the capture source.
type Frame struct {
	// Seq is the monotonic sample number
	Seq uint64
	// Data is the JPEG-encoded frame
	Data []byte
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// CapturedAt is when the frame was sampled
	CapturedAt time.Time
}

// Sampler pulls frames from a Source on demand.
type Sampler struct {
	source  Source
	timeout time.Duration
	clock   clockwork.Clock

	mu   sync.RWMutex
	seq  uint64
	last *Frame
}

// NewSampler creates a sampler with a per-grab timeout.
func NewSampler(source Source, timeout time.Duration, clock clockwork.Clock) *Sampler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Sampler{
		source:  source,
		timeout: timeout,
		clock:   clock,
	}
}

// Sample returns the current frame as JPEG, or nil if the source is not ready
// or the grab failed. A nil frame is a normal condition, not an error.
func (s *Sampler) Sample(ctx context.Context) *Frame {
	if !s.source.Ready() {
		return nil
	}

	log := logger.Component("capture").WithField("source", s.source.Name())

	grabCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		grabCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	data, err := s.source.Grab(grabCtx)
	if err != nil {
		log.WithError(err).Debug("frame grab failed")
		return nil
	}

	img, err := imaging.Decode(data)
	if err != nil {
		log.WithError(err).Warn("unreadable frame")
		return nil
	}

	jpegData, err := imaging.EncodeJPEG(img)
	if err != nil {
		log.WithError(err).Warn("could not materialize frame")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	bounds := img.Bounds()
	frame := &Frame{
		Seq:        s.seq,
		Data:       jpegData,
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		CapturedAt: s.clock.Now(),
	}
	s.last = frame
	return frame
}

// Last returns the most recently sampled frame, or nil.
func (s *Sampler) Last() *Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Source returns the underlying capture source.
func (s *Sampler) Source() Source {
	return s.source
}
