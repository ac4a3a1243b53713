package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kozaktomas/attendance-kiosk/internal/constants"
	"github.com/kozaktomas/attendance-kiosk/internal/logger"
)

const mjpegReconnectDelay = time.Second

// MJPEGSource reads a multipart/x-mixed-replace camera stream in the
// background and keeps only the latest frame. Older frames are overwritten,
// never queued.
type MJPEGSource struct {
	url         string
	maxFrameAge time.Duration
	client      *http.Client
	clock       clockwork.Clock
	maxBytes    int64

	mu        sync.RWMutex
	latest    []byte
	latestAt  time.Time
	oversized atomic.Uint64

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewMJPEGSource creates a stream source. Call Start to begin reading.
func NewMJPEGSource(url string, maxFrameAge time.Duration, clock clockwork.Clock) *MJPEGSource {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MJPEGSource{
		url:         url,
		maxFrameAge: maxFrameAge,
		client:      &http.Client{},
		clock:       clock,
		maxBytes:    constants.MaxFrameBytes,
	}
}

func (s *MJPEGSource) Name() string { return "mjpeg" }

// Start launches the background reader. It returns immediately.
func (s *MJPEGSource) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readLoop(ctx)
	}()
}

func (s *MJPEGSource) readLoop(ctx context.Context) {
	log := logger.Component("capture").WithField("source", s.Name())
	for {
		err := s.readStream(ctx)
		if ctx.Err() != nil {
			return
		}
		log.WithError(err).Warn("mjpeg stream interrupted, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(mjpegReconnectDelay):
		}
	}
}

func (s *MJPEGSource) readStream(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}

	resp, err := s.client.Do(req) //nolint:gosec // URL comes from operator configuration
	if err != nil {
		return fmt.Errorf("could not open stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream failed with status %d", resp.StatusCode)
	}

	boundary, err := streamBoundary(resp.Header.Get("Content-Type"))
	if err != nil {
		return err
	}

	log := logger.Component("capture").WithField("source", s.Name())
	reader := multipart.NewReader(resp.Body, boundary)
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return errors.New("stream ended")
		}
		if err != nil {
			return fmt.Errorf("could not read stream part: %w", err)
		}

		// One byte over the limit tells a full-size frame from a truncated one.
		data, err := io.ReadAll(io.LimitReader(part, s.maxBytes+1))
		part.Close()
		if err != nil {
			return fmt.Errorf("could not read frame: %w", err)
		}
		if int64(len(data)) > s.maxBytes {
			s.oversized.Add(1)
			log.WithField("limit", s.maxBytes).Warn("frame exceeds limit, dropped")
			continue
		}
		if len(data) == 0 {
			continue
		}

		s.mu.Lock()
		s.latest = data
		s.latestAt = s.clock.Now()
		s.mu.Unlock()
	}
}

// Oversized returns the number of frames dropped for exceeding the size limit.
func (s *MJPEGSource) Oversized() uint64 {
	return s.oversized.Load()
}

// streamBoundary extracts the multipart boundary from a Content-Type header.
// Some cameras send the boundary with its leading dashes; those are stripped.
func streamBoundary(contentType string) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("invalid stream content type: %w", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return "", fmt.Errorf("unexpected stream content type %q", mediaType)
	}
	boundary := strings.TrimPrefix(params["boundary"], "--")
	if boundary == "" {
		return "", errors.New("stream content type has no boundary")
	}
	return boundary, nil
}

// Ready reports whether a frame fresher than the maximum age is held.
func (s *MJPEGSource) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return false
	}
	return s.maxFrameAge <= 0 || s.clock.Since(s.latestAt) <= s.maxFrameAge
}

// Grab returns a copy of the latest frame.
func (s *MJPEGSource) Grab(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return nil, ErrNoFrame
	}
	out := make([]byte, len(s.latest))
	copy(out, s.latest)
	return out, nil
}

// Close stops the background reader and waits for it to exit.
func (s *MJPEGSource) Close() error {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		s.client.CloseIdleConnections()
	})
	return nil
}
