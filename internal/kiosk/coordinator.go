// Package kiosk coordinates the verification loop: it samples frames, runs
// the local face gate and drives upload, identity resolution and profile
// lookup for at most one attempt at a time.
package kiosk

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kozaktomas/attendance-kiosk/internal/capture"
	"github.com/kozaktomas/attendance-kiosk/internal/config"
	"github.com/kozaktomas/attendance-kiosk/internal/constants"
	"github.com/kozaktomas/attendance-kiosk/internal/facegate"
	"github.com/kozaktomas/attendance-kiosk/internal/identity"
	"github.com/kozaktomas/attendance-kiosk/internal/logger"
	"github.com/kozaktomas/attendance-kiosk/internal/models"
	"github.com/kozaktomas/attendance-kiosk/internal/scheduler"
	"github.com/sirupsen/logrus"
)

// ErrAlreadyRunning is returned when Run is called on a running coordinator.
var ErrAlreadyRunning = errors.New("coordinator already running")

// Sampler provides frames.
type Sampler interface {
	Sample(ctx context.Context) *capture.Frame
}

// Gate decides whether a frame contains a face.
type Gate interface {
	Check(ctx context.Context, jpegData []byte) facegate.Verdict
	Available() bool
}

// Verifier performs the network steps of an attempt.
type Verifier interface {
	Upload(ctx context.Context, attemptID, key string, jpegData []byte) identity.Outcome[struct{}]
	Resolve(ctx context.Context, attemptID, key string) identity.Outcome[identity.Match]
	LookupProfile(ctx context.Context, attemptID, faceID string) identity.Outcome[*models.Profile]
}

// Feedback shows status to the user. Both methods must return promptly.
type Feedback interface {
	Render(status models.Status)
	Speak(ctx context.Context, text string)
}

// Options tune the coordinator.
type Options struct {
	// Hold is how long recapture stays suppressed after a verification.
	Hold time.Duration
	// AttemptTimeout abandons an attempt that has not settled in time. Zero disables it.
	AttemptTimeout time.Duration
	// FailOpen lets frames through to upload while detection is unavailable.
	FailOpen bool
	Messages config.Messages
	Clock    clockwork.Clock
	// NewObjectKey mints upload keys. Defaults to identity.NewObjectKey.
	NewObjectKey func() string
}

// Stats are cumulative counters of the coordinator.
type Stats struct {
	Attempts uint64 `json:"attempts"`
	Verified uint64 `json:"verified"`
	Failed   uint64 `json:"failed"`
	Stale    uint64 `json:"stale"`
}

// Coordinator is the attempt state machine. The Session it owns is only
// touched by the goroutine executing Run.
type Coordinator struct {
	sampler  Sampler
	gate     Gate
	verifier Verifier
	feedback Feedback
	opts     Options
	ids      *ulidSource

	events  chan event
	done    chan struct{}
	running atomic.Bool

	// tickMu orders Tick sends against the drain in shutdown.
	tickMu  sync.RWMutex
	stopped bool

	session session

	mu       sync.RWMutex
	snapshot models.Status

	attempts atomic.Uint64
	verified atomic.Uint64
	failed   atomic.Uint64
	stale    atomic.Uint64
}

// New creates a coordinator.
func New(sampler Sampler, gate Gate, verifier Verifier, feedback Feedback, opts Options) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.NewObjectKey == nil {
		opts.NewObjectKey = identity.NewObjectKey
	}
	if opts.Hold <= 0 {
		opts.Hold = constants.DefaultHoldDuration
	}
	c := &Coordinator{
		sampler:  sampler,
		gate:     gate,
		verifier: verifier,
		feedback: feedback,
		opts:     opts,
		ids:      newULIDSource(),
		events:   make(chan event, constants.EventChannelBuffer),
		done:     make(chan struct{}),
	}
	c.session = session{state: models.StateIdle, message: opts.Messages.Looking}
	c.snapshot = c.session.status(opts.Clock.Now(), gate.Available())
	return c
}

// Status returns the last published status.
func (c *Coordinator) Status() models.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Stats returns cumulative counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Attempts: c.attempts.Load(),
		Verified: c.verified.Load(),
		Failed:   c.failed.Load(),
		Stale:    c.stale.Load(),
	}
}

// Tick asks the coordinator to run one cycle. The returned channel delivers
// a single report once the cycle settles. Ticks that arrive while an attempt
// is in flight are answered immediately and start nothing.
func (c *Coordinator) Tick(ctx context.Context) <-chan scheduler.Report {
	reply := make(chan scheduler.Report, 1)

	c.tickMu.RLock()
	defer c.tickMu.RUnlock()
	if c.stopped {
		reply <- scheduler.Report{}
		return reply
	}

	select {
	case c.events <- tickEvent{reply: reply}:
	case <-ctx.Done():
		reply <- scheduler.Report{}
	case <-c.done:
		reply <- scheduler.Report{}
	}
	return reply
}

// Run owns the session until ctx is cancelled. In-flight attempts are
// cancelled on return and their late results are ignored.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.shutdown()

	log := logger.Component("kiosk")
	log.Info("verification loop started")
	c.publish()

	for {
		select {
		case <-ctx.Done():
			if a := c.session.attempt; a != nil {
				c.endAttempt(scheduler.Report{})
			}
			log.Info("verification loop stopped")
			return nil
		case ev := <-c.events:
			c.handle(ctx, ev)
		}
	}
}

// shutdown releases pending senders, then answers every tick that reached
// the queue after the loop stopped reading it.
func (c *Coordinator) shutdown() {
	close(c.done)

	// Waits for Tick calls already past the stopped check.
	c.tickMu.Lock()
	c.stopped = true
	c.tickMu.Unlock()

	for {
		select {
		case ev := <-c.events:
			if tick, ok := ev.(tickEvent); ok {
				tick.reply <- scheduler.Report{}
			}
		default:
			return
		}
	}
}

// post delivers a step result to the loop, or drops it if the loop is gone.
func (c *Coordinator) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Coordinator) handle(ctx context.Context, ev event) {
	if tick, ok := ev.(tickEvent); ok {
		c.onTick(ctx, tick.reply)
		return
	}

	if !c.session.owns(ev.attemptID()) {
		c.stale.Add(1)
		logger.Component("kiosk").WithFields(logrus.Fields{
			"attempt": ev.attemptID(),
			"active":  c.session.activeID(),
			"event":   ev.name(),
		}).Debug("discarding stale result")
		return
	}

	switch e := ev.(type) {
	case gateEvent:
		c.onGate(e)
	case uploadEvent:
		c.onUpload(e)
	case resolveEvent:
		c.onResolve(e)
	case profileEvent:
		c.onProfile(ctx, e)
	case timeoutEvent:
		c.onTimeout()
	}
}

// publish renders the current session and stores it as the snapshot.
func (c *Coordinator) publish() {
	status := c.session.status(c.opts.Clock.Now(), c.gate.Available())

	c.mu.Lock()
	c.snapshot = status
	c.mu.Unlock()

	c.feedback.Render(status)
}

func (c *Coordinator) log() *logrus.Entry {
	entry := logger.Component("kiosk").WithField("state", c.session.state)
	if id := c.session.activeID(); id != "" {
		entry = entry.WithField("attempt", id)
	}
	return entry
}
