// Package identity contains the one-shot network adapters of a verification
// attempt: image upload, identity resolution and profile lookup.
//
// Adapters never retry and never panic across the caller boundary. Every call
// returns an Outcome tagged with the attempt it belongs to.
package identity

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/kozaktomas/attendance-kiosk/internal/config"
)

// ErrNotFound is returned when a remote endpoint answers 404.
var ErrNotFound = errors.New("not found")

// Outcome is the result of one adapter call.
type Outcome[T any] struct {
	AttemptID string
	Value     T
	Err       error
}

// OK reports whether the call succeeded.
func (o Outcome[T]) OK() bool {
	return o.Err == nil
}

// Match is the identity resolver's answer.
type Match struct {
	Matched bool
	FaceID  string
	// Message is the resolver's raw message, e.g. "Success" or "Failed".
	Message string
}

// Client talks to the object store, the face-matching service and the
// profile service.
type Client struct {
	uploadURL  string
	resolveURL string
	profileURL string
	http       *http.Client
}

// NewClient creates a client from configuration.
func NewClient(cfg config.IdentityConfig) *Client {
	return &Client{
		uploadURL:  strings.TrimSuffix(cfg.UploadURL, "/"),
		resolveURL: cfg.ResolveURL,
		profileURL: strings.TrimSuffix(cfg.ProfileURL, "/"),
		http:       &http.Client{Timeout: cfg.Timeout},
	}
}

// NewObjectKey mints a fresh unique object key for an upload.
func NewObjectKey() string {
	return uuid.NewString()
}

func objectName(key string) string {
	return key + ".jpg"
}
