package kiosk

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kozaktomas/attendance-kiosk/internal/capture"
	"github.com/kozaktomas/attendance-kiosk/internal/models"
	"github.com/kozaktomas/attendance-kiosk/internal/scheduler"
)

// session is the single mutable coordination context. Only the coordinator
// loop goroutine reads or writes it.
type session struct {
	state         models.State
	message       string
	reason        string
	profile       *models.Profile
	verifiedUntil time.Time
	attempt       *attempt
}

// attempt is one capture-detect-verify cycle.
type attempt struct {
	id        string
	frame     *capture.Frame
	startedAt time.Time
	key       string

	ctx    context.Context
	cancel context.CancelFunc
	timer  clockwork.Timer
	reply  chan scheduler.Report
}

// activeID returns the id of the in-flight attempt, or "".
func (s *session) activeID() string {
	if s.attempt == nil {
		return ""
	}
	return s.attempt.id
}

// owns reports whether a result tagged with id belongs to the active attempt.
func (s *session) owns(id string) bool {
	return s.attempt != nil && id != "" && s.attempt.id == id
}

func (s *session) status(now time.Time, detectionAvailable bool) models.Status {
	return models.Status{
		State:              s.state,
		Message:            s.message,
		Reason:             s.reason,
		Profile:            s.profile.Clone(),
		AttemptID:          s.activeID(),
		VerifiedUntil:      s.verifiedUntil,
		DetectionAvailable: detectionAvailable,
		UpdatedAt:          now,
	}
}
