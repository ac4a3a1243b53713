// Package feedback shows the kiosk status to the person in front of it and
// to anything else listening.
package feedback

import (
	"context"
	"sync"
	"time"

	"github.com/kozaktomas/attendance-kiosk/internal/logger"
	"github.com/kozaktomas/attendance-kiosk/internal/models"
)

// Renderer displays a status. Implementations must not block.
type Renderer interface {
	Render(status models.Status)
}

// Speaker is an optional text-to-speech engine.
type Speaker interface {
	Available() bool
	Speak(ctx context.Context, text string) error
}

// Emitter fans statuses out to renderers and speaks verification messages.
type Emitter struct {
	renderers []Renderer
	speaker   Speaker
	timeout   time.Duration

	speakMu sync.Mutex
	wg      sync.WaitGroup
}

// NewEmitter creates an emitter. speaker may be nil.
func NewEmitter(speaker Speaker, speakTimeout time.Duration, renderers ...Renderer) *Emitter {
	return &Emitter{
		renderers: renderers,
		speaker:   speaker,
		timeout:   speakTimeout,
	}
}

// Render passes status to every renderer.
func (e *Emitter) Render(status models.Status) {
	for _, r := range e.renderers {
		r.Render(status)
	}
}

// Speak says text in the background. Without a usable speaker it does
// nothing; feedback then stays visual only.
func (e *Emitter) Speak(ctx context.Context, text string) {
	log := logger.Component("feedback")
	if e.speaker == nil || !e.speaker.Available() {
		log.Debug("no speech engine, skipping spoken feedback")
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		// One utterance at a time.
		e.speakMu.Lock()
		defer e.speakMu.Unlock()

		speakCtx := ctx
		if e.timeout > 0 {
			var cancel context.CancelFunc
			speakCtx, cancel = context.WithTimeout(ctx, e.timeout)
			defer cancel()
		}
		if err := e.speaker.Speak(speakCtx, text); err != nil {
			log.WithError(err).Warn("speech failed")
		}
	}()
}

// Wait blocks until queued speech has finished.
func (e *Emitter) Wait() {
	e.wg.Wait()
}
