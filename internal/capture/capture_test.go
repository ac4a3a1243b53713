package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kozaktomas/attendance-kiosk/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 90, 255})
		}
	}
	return img
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(w, h)))
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, testImage(w, h), nil))
	return buf.Bytes()
}

// stubSource is a controllable Source.
type stubSource struct {
	ready bool
	data  []byte
	err   error
	grabs int
}

func (s *stubSource) Name() string { return "stub" }
func (s *stubSource) Ready() bool  { return s.ready }
func (s *stubSource) Grab(ctx context.Context) ([]byte, error) {
	s.grabs++
	return s.data, s.err
}
func (s *stubSource) Close() error { return nil }

func TestSampler_NotReady(t *testing.T) {
	src := &stubSource{ready: false, data: pngBytes(t, 8, 8)}
	s := NewSampler(src, time.Second, clockwork.NewFakeClock())

	assert.Nil(t, s.Sample(context.Background()))
	assert.Zero(t, src.grabs, "grab must not run before the source is ready")
}

func TestSampler_MaterializesJPEG(t *testing.T) {
	clock := clockwork.NewFakeClock()
	src := &stubSource{ready: true, data: pngBytes(t, 64, 48)}
	s := NewSampler(src, time.Second, clock)

	frame := s.Sample(context.Background())
	require.NotNil(t, frame)
	assert.Equal(t, uint64(1), frame.Seq)
	assert.Equal(t, 64, frame.Width)
	assert.Equal(t, 48, frame.Height)
	assert.Equal(t, clock.Now(), frame.CapturedAt)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(frame.Data))
	require.NoError(t, err, "frame must be JPEG")
	assert.Equal(t, 64, cfg.Width)
	assert.Same(t, frame, s.Last())
}

func TestSampler_GrabErrorIsNoFrame(t *testing.T) {
	src := &stubSource{ready: true, err: fmt.Errorf("camera busy")}
	s := NewSampler(src, time.Second, nil)
	assert.Nil(t, s.Sample(context.Background()))
	assert.Nil(t, s.Last())
}

func TestSampler_UndecodableIsNoFrame(t *testing.T) {
	src := &stubSource{ready: true, data: []byte("garbage")}
	s := NewSampler(src, time.Second, nil)
	assert.Nil(t, s.Sample(context.Background()))
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	src := NewDirSource(dir)
	assert.False(t, src.Ready(), "empty directory is not ready")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), pngBytes(t, 4, 4), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.JPG"), jpegBytes(t, 4, 4), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o600))

	require.True(t, src.Ready())
	first, err := src.Grab(context.Background())
	require.NoError(t, err)
	second, err := src.Grab(context.Background())
	require.NoError(t, err)
	third, err := src.Grab(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, first, third, "source cycles through files")
}

func TestDirSource_MissingDir(t *testing.T) {
	src := NewDirSource(filepath.Join(t.TempDir(), "missing"))
	assert.False(t, src.Ready())
	_, err := src.Grab(context.Background())
	assert.ErrorIs(t, err, ErrNoFrame)
}

func TestSnapshotSource(t *testing.T) {
	frame := jpegBytes(t, 16, 16)
	var fail atomic.Bool
	fail.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(frame)
	}))
	defer server.Close()

	src := NewSnapshotSource(server.URL)
	defer src.Close()

	assert.False(t, src.Ready())
	assert.Error(t, src.Probe(context.Background()))
	assert.False(t, src.Ready())

	fail.Store(false)
	require.NoError(t, src.Probe(context.Background()))
	assert.True(t, src.Ready())

	data, err := src.Grab(context.Background())
	require.NoError(t, err)
	assert.Equal(t, frame, data)

	// A later failure costs one grab but keeps the source attached.
	fail.Store(true)
	_, err = src.Grab(context.Background())
	assert.Error(t, err)
	assert.True(t, src.Ready())
}

func TestWarmup(t *testing.T) {
	dir := t.TempDir()
	src := NewDirSource(dir)

	err := Warmup(context.Background(), src, 50*time.Millisecond, 10*time.Millisecond)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), pngBytes(t, 4, 4), 0o600))
	assert.NoError(t, Warmup(context.Background(), src, time.Second, 10*time.Millisecond))
}

func writeMJPEG(t *testing.T, w http.ResponseWriter, frames [][]byte) {
	t.Helper()
	mw := multipart.NewWriter(w)
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=--"+mw.Boundary())
	w.WriteHeader(http.StatusOK)
	for _, f := range frames {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Type", "image/jpeg")
		part, err := mw.CreatePart(h)
		if err != nil {
			return
		}
		part.Write(f)
		if fl, ok := w.(http.Flusher); ok {
			fl.Flush()
		}
	}
	mw.Close()
}

func TestMJPEGSource(t *testing.T) {
	frameA := jpegBytes(t, 8, 8)
	frameB := jpegBytes(t, 12, 12)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeMJPEG(t, w, [][]byte{frameA, frameB})
	}))
	defer server.Close()

	src := NewMJPEGSource(server.URL, time.Minute, nil)
	src.Start(context.Background())
	defer src.Close()

	require.Eventually(t, src.Ready, 2*time.Second, 10*time.Millisecond)

	data, err := src.Grab(context.Background())
	require.NoError(t, err)
	assert.Equal(t, frameB, data, "only the latest frame is kept")
}

func TestMJPEGSource_OversizedFrameDropped(t *testing.T) {
	small := jpegBytes(t, 8, 8)
	huge := bytes.Repeat([]byte{0xAB}, 4*len(small))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeMJPEG(t, w, [][]byte{small, huge})
	}))
	defer server.Close()

	src := NewMJPEGSource(server.URL, time.Minute, nil)
	src.maxBytes = int64(len(small)) + 16
	src.Start(context.Background())
	defer src.Close()

	require.Eventually(t, func() bool { return src.Oversized() >= 1 }, 2*time.Second, 10*time.Millisecond)

	data, err := src.Grab(context.Background())
	require.NoError(t, err)
	assert.Equal(t, small, data, "an oversized frame never replaces the latest frame")
}

func TestMJPEGSource_FrameAtLimitKept(t *testing.T) {
	frame := jpegBytes(t, 8, 8)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeMJPEG(t, w, [][]byte{frame})
	}))
	defer server.Close()

	src := NewMJPEGSource(server.URL, time.Minute, nil)
	src.maxBytes = int64(len(frame))
	src.Start(context.Background())
	defer src.Close()

	require.Eventually(t, src.Ready, 2*time.Second, 10*time.Millisecond)
	data, err := src.Grab(context.Background())
	require.NoError(t, err)
	assert.Equal(t, frame, data)
	assert.Zero(t, src.Oversized())
}

func TestMJPEGSource_StaleFrame(t *testing.T) {
	clock := clockwork.NewFakeClock()
	src := NewMJPEGSource("http://unused", time.Second, clock)
	src.latest = []byte{1}
	src.latestAt = clock.Now()

	assert.True(t, src.Ready())
	clock.Advance(2 * time.Second)
	assert.False(t, src.Ready(), "frames older than the max age make the source unready")
}

func TestStreamBoundary(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"multipart/x-mixed-replace; boundary=frame", "frame", false},
		{"multipart/x-mixed-replace; boundary=--frame", "frame", false},
		{"image/jpeg", "", true},
		{"multipart/x-mixed-replace", "", true},
		{"", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.header, func(t *testing.T) {
			got, err := streamBoundary(tc.header)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNewSource(t *testing.T) {
	ctx := context.Background()

	src, err := NewSource(ctx, config.CameraConfig{Source: config.SourceDir, Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	assert.Equal(t, "dir", src.Name())

	src, err = NewSource(ctx, config.CameraConfig{Source: config.SourceSnapshot, URL: "http://cam"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "snapshot", src.Name())

	_, err = NewSource(ctx, config.CameraConfig{Source: "v4l"}, nil)
	assert.Error(t, err)
}
