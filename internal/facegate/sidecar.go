package facegate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/kozaktomas/attendance-kiosk/internal/config"
)

const defaultSidecarURL = "http://localhost:8000"

// ErrModelNotLoaded is returned by Health when the sidecar is up but its
// detection model is not ready.
var ErrModelNotLoaded = errors.New("face detection model not loaded")

// SidecarDetector talks to the local face-detection sidecar.
type SidecarDetector struct {
	baseURL string
	client  *http.Client
}

// NewSidecarDetector creates a detector client for the sidecar at baseURL.
func NewSidecarDetector(baseURL string, timeout time.Duration) *SidecarDetector {
	if baseURL == "" {
		baseURL = defaultSidecarURL
	}
	return &SidecarDetector{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// NewSidecarFromConfig creates a detector client with the detector's own
// URL and request timeout.
func NewSidecarFromConfig(cfg config.DetectorConfig) *SidecarDetector {
	return NewSidecarDetector(cfg.URL, cfg.Timeout)
}

// faceDetection represents a single detected face
type faceDetection struct {
	BBox     []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore float64   `json:"det_score"`
}

// faceResponse represents the response from the face endpoint
type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
}

type healthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

// DetectFaces posts a JPEG to the sidecar and returns the detections.
func (d *SidecarDetector) DetectFaces(ctx context.Context, jpegData []byte) ([]Detection, error) {
	body, err := d.postMultipartImage(ctx, "/embed/face", jpegData)
	if err != nil {
		return nil, err
	}

	var faceResp faceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	detections := make([]Detection, 0, len(faceResp.Faces))
	for _, f := range faceResp.Faces {
		detections = append(detections, Detection{BBox: f.BBox, Score: f.DetScore})
	}
	return detections, nil
}

// Health checks that the sidecar is reachable and its model is loaded.
func (d *SidecarDetector) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute health check request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d: %s", resp.StatusCode, string(body))
	}

	var health healthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		return fmt.Errorf("failed to parse health response: %w", err)
	}
	if !health.ModelLoaded {
		return ErrModelNotLoaded
	}
	return nil
}

// postMultipartImage posts the image as the "file" form field and returns the response body.
func (d *SidecarDetector) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}
