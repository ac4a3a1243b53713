package capture

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/kozaktomas/attendance-kiosk/internal/config"
)

// NewSource builds the configured capture source. Streaming sources are
// started immediately and run until Close.
func NewSource(ctx context.Context, cfg config.CameraConfig, clock clockwork.Clock) (Source, error) {
	switch cfg.Source {
	case config.SourceSnapshot:
		return NewSnapshotSource(cfg.URL), nil
	case config.SourceMJPEG:
		src := NewMJPEGSource(cfg.URL, cfg.MaxFrameAge, clock)
		src.Start(ctx)
		return src, nil
	case config.SourceDir:
		return NewDirSource(cfg.Dir), nil
	default:
		return nil, fmt.Errorf("unknown camera source %q", cfg.Source)
	}
}
