// Package capture samples still frames from a live camera source.
//
// A Source exposes a cheap, synchronous readiness probe and a bounded grab.
// The Sampler turns grabbed bytes into a JPEG Frame, or reports no frame when
// the source is not producing readable images yet.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/attendance-kiosk/internal/logger"
)

// ErrNoFrame is returned by Grab when a source has nothing to hand out yet.
var ErrNoFrame = errors.New("no frame available")

// Source is a live capture source.
//
// Implementations must guarantee:
//   - Ready() never blocks on I/O
//   - Grab() honours ctx and never blocks past its deadline
//   - Close() is idempotent
type Source interface {
	Name() string
	Ready() bool
	Grab(ctx context.Context) ([]byte, error)
	Close() error
}

// Prober is implemented by sources that become ready only after an explicit probe.
type Prober interface {
	Probe(ctx context.Context) error
}

// Warmup waits until src reports ready, probing it when supported.
// It returns an error if the source is still not ready after timeout.
func Warmup(ctx context.Context, src Source, timeout, poll time.Duration) error {
	log := logger.Component("capture")
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		if p, ok := src.(Prober); ok {
			if err := p.Probe(ctx); err != nil {
				log.WithError(err).WithField("source", src.Name()).Debug("warm-up probe failed")
			}
		}
		if src.Ready() {
			log.WithField("source", src.Name()).Info("capture source ready")
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("capture source %s not ready after %s: %w", src.Name(), timeout, ctx.Err())
		case <-ticker.C:
		}
	}
}
