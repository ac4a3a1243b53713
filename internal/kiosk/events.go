package kiosk

import (
	"github.com/kozaktomas/attendance-kiosk/internal/facegate"
	"github.com/kozaktomas/attendance-kiosk/internal/identity"
	"github.com/kozaktomas/attendance-kiosk/internal/models"
	"github.com/kozaktomas/attendance-kiosk/internal/scheduler"
)

// event is anything the coordinator loop consumes.
type event interface {
	attemptID() string
	name() string
}

type tickEvent struct {
	reply chan scheduler.Report
}

func (tickEvent) attemptID() string { return "" }
func (tickEvent) name() string      { return "tick" }

type gateEvent struct {
	id      string
	verdict facegate.Verdict
}

func (e gateEvent) attemptID() string { return e.id }
func (gateEvent) name() string        { return "gate" }

type uploadEvent identity.Outcome[struct{}]

func (e uploadEvent) attemptID() string { return e.AttemptID }
func (uploadEvent) name() string        { return "upload" }

type resolveEvent identity.Outcome[identity.Match]

func (e resolveEvent) attemptID() string { return e.AttemptID }
func (resolveEvent) name() string        { return "resolve" }

type profileEvent identity.Outcome[*models.Profile]

func (e profileEvent) attemptID() string { return e.AttemptID }
func (profileEvent) name() string        { return "profile" }

type timeoutEvent struct {
	id string
}

func (e timeoutEvent) attemptID() string { return e.id }
func (timeoutEvent) name() string        { return "timeout" }
