package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/kozaktomas/attendance-kiosk/internal/constants"
)

// SnapshotSource grabs stills from a camera's HTTP snapshot endpoint.
// It becomes ready after its first successful grab and stays ready; a failed
// grab only costs the current cycle.
type SnapshotSource struct {
	url    string
	client *http.Client
	ready  atomic.Bool
}

// NewSnapshotSource creates a snapshot source for the given still-image URL.
func NewSnapshotSource(url string) *SnapshotSource {
	return &SnapshotSource{
		url:    url,
		client: &http.Client{},
	}
}

func (s *SnapshotSource) Name() string { return "snapshot" }

func (s *SnapshotSource) Ready() bool { return s.ready.Load() }

// Probe performs a grab and discards the result.
func (s *SnapshotSource) Probe(ctx context.Context) error {
	_, err := s.Grab(ctx)
	return err
}

func (s *SnapshotSource) Grab(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}

	resp, err := s.client.Do(req) //nolint:gosec // URL comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("could not fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot failed with status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, constants.MaxFrameBytes))
	if err != nil {
		return nil, fmt.Errorf("could not read snapshot: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNoFrame
	}

	s.ready.Store(true)
	return data, nil
}

func (s *SnapshotSource) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
