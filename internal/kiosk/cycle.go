package kiosk

import (
	"context"
	"time"

	"github.com/kozaktomas/attendance-kiosk/internal/facegate"
	"github.com/kozaktomas/attendance-kiosk/internal/models"
	"github.com/kozaktomas/attendance-kiosk/internal/scheduler"
)

func (c *Coordinator) onTick(ctx context.Context, reply chan scheduler.Report) {
	s := &c.session
	now := c.opts.Clock.Now()

	switch {
	case s.state.Busy():
		c.log().Debug("tick ignored, attempt in flight")
		reply <- scheduler.Report{}
		return
	case s.state == models.StateVerified && now.Before(s.verifiedUntil):
		reply <- scheduler.Report{PauseUntil: s.verifiedUntil}
		return
	case s.state == models.StateVerified, s.state == models.StateFailed:
		c.toIdle()
	}

	frame := c.sampler.Sample(ctx)
	if frame == nil {
		reply <- scheduler.Report{}
		return
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	a := &attempt{
		id:        c.ids.next(now),
		frame:     frame,
		startedAt: now,
		ctx:       attemptCtx,
		cancel:    cancel,
		reply:     reply,
	}
	if c.opts.AttemptTimeout > 0 {
		id := a.id
		a.timer = c.opts.Clock.AfterFunc(c.opts.AttemptTimeout, func() {
			c.post(timeoutEvent{id: id})
		})
	}
	s.attempt = a
	c.attempts.Add(1)

	c.transition(models.StateLocalGateOpen, models.ReasonNone, c.opts.Messages.Looking)
	c.log().WithField("frame", frame.Seq).Debug("attempt started")

	go func() {
		c.post(gateEvent{id: a.id, verdict: c.gate.Check(attemptCtx, frame.Data)})
	}()
}

func (c *Coordinator) onGate(e gateEvent) {
	switch e.verdict {
	case facegate.VerdictFace:
	case facegate.VerdictUnavailable:
		if !c.opts.FailOpen {
			c.fail(models.ReasonDetectionUnavailable, c.opts.Messages.DetectionUnavailable)
			return
		}
		c.log().Debug("detection unavailable, continuing without local gate")
	default:
		c.fail(models.ReasonNoFace, c.opts.Messages.NoFace)
		return
	}

	a := c.session.attempt
	a.key = c.opts.NewObjectKey()
	c.transition(models.StateUploading, models.ReasonNone, c.opts.Messages.Verifying)

	ctx := a.ctx
	go func() {
		c.post(uploadEvent(c.verifier.Upload(ctx, a.id, a.key, a.frame.Data)))
	}()
}

func (c *Coordinator) onUpload(e uploadEvent) {
	if e.Err != nil {
		c.log().WithError(e.Err).Warn("upload failed")
		c.fail(models.ReasonUploadError, c.opts.Messages.UploadError)
		return
	}

	a := c.session.attempt
	c.transition(models.StateResolving, models.ReasonNone, c.opts.Messages.Verifying)

	ctx := a.ctx
	go func() {
		c.post(resolveEvent(c.verifier.Resolve(ctx, a.id, a.key)))
	}()
}

func (c *Coordinator) onResolve(e resolveEvent) {
	if e.Err != nil {
		c.log().WithError(e.Err).Warn("identity resolution failed")
		c.fail(models.ReasonAuthFailed, c.opts.Messages.AuthFailed)
		return
	}
	if !e.Value.Matched {
		c.log().WithField("message", e.Value.Message).Info("no identity match")
		c.fail(models.ReasonAuthFailed, c.opts.Messages.AuthFailed)
		return
	}

	a := c.session.attempt
	faceID := e.Value.FaceID
	c.transition(models.StateProfileLookingUp, models.ReasonNone, c.opts.Messages.Verifying)

	ctx := a.ctx
	go func() {
		c.post(profileEvent(c.verifier.LookupProfile(ctx, a.id, faceID)))
	}()
}

func (c *Coordinator) onProfile(ctx context.Context, e profileEvent) {
	if e.Err != nil {
		c.log().WithError(e.Err).Warn("profile lookup failed")
		c.fail(models.ReasonProfileError, c.opts.Messages.ProfileError)
		return
	}
	if e.Value == nil {
		c.fail(models.ReasonEmployeeNotFound, c.opts.Messages.NotFound)
		return
	}

	s := &c.session
	profile := e.Value
	message := c.opts.Messages.Greeting(profile.Name, profile.AttendanceAlreadyMarked)
	s.profile = profile
	s.verifiedUntil = c.opts.Clock.Now().Add(c.opts.Hold)

	c.log().WithField("employee", profile.EmployeeID).Info("employee verified")
	c.verified.Add(1)
	c.endAttempt(scheduler.Report{PauseUntil: s.verifiedUntil})
	c.transition(models.StateVerified, models.ReasonNone, message)

	c.feedback.Speak(ctx, message)
}

func (c *Coordinator) onTimeout() {
	c.log().WithField("timeout", c.opts.AttemptTimeout).Warn("attempt timed out")
	c.fail(models.ReasonTimedOut, c.opts.Messages.TimedOut)
}

// fail ends the active attempt in the Failed state.
func (c *Coordinator) fail(reason, message string) {
	c.failed.Add(1)
	c.endAttempt(scheduler.Report{})
	c.transition(models.StateFailed, reason, message)
}

// toIdle clears the previous outcome before a new cycle.
func (c *Coordinator) toIdle() {
	s := &c.session
	s.profile = nil
	s.verifiedUntil = time.Time{}
	c.transition(models.StateIdle, models.ReasonNone, c.opts.Messages.Looking)
}

// endAttempt releases the active attempt and answers the tick that started it.
// Results still in flight become stale.
func (c *Coordinator) endAttempt(report scheduler.Report) {
	a := c.session.attempt
	if a == nil {
		return
	}
	if a.timer != nil {
		a.timer.Stop()
	}
	a.cancel()
	a.reply <- report
	c.session.attempt = nil
}

func (c *Coordinator) transition(state models.State, reason, message string) {
	s := &c.session
	s.state = state
	s.reason = reason
	s.message = message
	c.publish()
}
