// Package scheduler drives the capture/verify cycle on a timer.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kozaktomas/attendance-kiosk/internal/config"
	"github.com/kozaktomas/attendance-kiosk/internal/logger"
)

// Policy selects how ticks are spaced.
type Policy string

const (
	// FixedInterval fires every interval regardless of how long a cycle takes.
	// The target is responsible for ignoring ticks while it is busy.
	FixedInterval Policy = config.PolicyFixed
	// SelfReschedule waits for the cycle to finish, then waits the interval
	// (or until the reported pause ends, whichever is later).
	SelfReschedule Policy = config.PolicySelf
)

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("scheduler already started")

// Report is what a target delivers once the cycle started by a tick settles.
type Report struct {
	// PauseUntil asks the scheduler not to tick again before this instant.
	// Zero means no pause. Only SelfReschedule honours it.
	PauseUntil time.Time
}

// Target receives ticks.
type Target interface {
	// Tick starts one cycle. The returned channel delivers a single Report
	// when the cycle reaches a resting state.
	Tick(ctx context.Context) <-chan Report
}

// Scheduler periodically ticks a Target.
type Scheduler struct {
	interval time.Duration
	policy   Policy
	clock    clockwork.Clock

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a scheduler. A nil clock means the real clock.
func New(interval time.Duration, policy Policy, clock clockwork.Clock) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", interval)
	}
	switch policy {
	case FixedInterval, SelfReschedule:
	default:
		return nil, fmt.Errorf("unknown scheduling policy %q", policy)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		interval: interval,
		policy:   policy,
		clock:    clock,
	}, nil
}

// Start begins ticking target. The first tick fires immediately.
func (s *Scheduler) Start(ctx context.Context, target Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	log := logger.Component("scheduler")
	log.WithField("policy", s.policy).WithField("interval", s.interval).Info("scheduler started")

	go func() {
		defer close(s.done)
		if s.policy == FixedInterval {
			s.runFixed(ctx, target)
		} else {
			s.runSelf(ctx, target)
		}
	}()
	return nil
}

// Stop cancels pending timers and waits for the tick goroutine to exit.
// No tick is issued after Stop returns. Stop is idempotent and safe to call
// on a scheduler that was never started.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) runFixed(ctx context.Context, target Target) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		target.Tick(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
	}
}

func (s *Scheduler) runSelf(ctx context.Context, target Target) {
	for {
		if ctx.Err() != nil {
			return
		}

		var report Report
		select {
		case <-ctx.Done():
			return
		case report = <-target.Tick(ctx):
		}

		wait := s.interval
		if !report.PauseUntil.IsZero() {
			if untilPause := report.PauseUntil.Sub(s.clock.Now()); untilPause > wait {
				wait = untilPause
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(wait):
		}
	}
}
