// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Loop timing defaults
const (
	// DefaultCaptureInterval is the time between capture ticks
	DefaultCaptureInterval = 5 * time.Second

	// DefaultHoldDuration is how long recapture stays suppressed after a verification
	DefaultHoldDuration = 10 * time.Second

	// DefaultAttemptTimeout bounds a single capture-detect-verify attempt
	DefaultAttemptTimeout = 30 * time.Second

	// DefaultSampleTimeout bounds a single frame grab from the capture source
	DefaultSampleTimeout = 3 * time.Second

	// DefaultSpeakTimeout bounds a single spoken message
	DefaultSpeakTimeout = 15 * time.Second
)

// Face detection defaults
const (
	// DefaultScoreThreshold is the minimum detection score for a face to count
	DefaultScoreThreshold = 0.5

	// DefaultDetectorInputSize is the longest side in pixels of the frame sent to the detector
	DefaultDetectorInputSize = 320

	// DefaultDetectorRecheck is the minimum time between health probes of an unavailable detector
	DefaultDetectorRecheck = 30 * time.Second

	// DefaultMinFaceRatio ignores faces narrower than this fraction of the frame width
	DefaultMinFaceRatio = 0.08

	// DefaultDetectorTimeout bounds a single request to the local detector sidecar
	DefaultDetectorTimeout = 5 * time.Second

	// DefaultWarmupTimeout bounds startup warm-up of the camera and the detector
	DefaultWarmupTimeout = 20 * time.Second
)

// Capture defaults
const (
	// DefaultMaxFrameAge is how old the latest streamed frame may be before the source is unready
	DefaultMaxFrameAge = 2 * time.Second

	// JPEGQuality is the quality used when materializing frames
	JPEGQuality = 85

	// MaxFrameBytes caps the size of a single frame read from a camera
	MaxFrameBytes = 16 << 20
)

// Network defaults
const (
	// DefaultHTTPTimeout bounds each remote identity request
	DefaultHTTPTimeout = 15 * time.Second

	// EventChannelBuffer is the buffer size of status listener channels
	EventChannelBuffer = 16

	// MQTTQueueSize is the number of pending status publishes kept before dropping
	MQTTQueueSize = 64
)
