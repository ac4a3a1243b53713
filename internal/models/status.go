package models

import "time"

// Reason codes attached to a status. They are stable identifiers; the
// human-facing text lives in the message catalog.
const (
	ReasonNone                 = ""
	ReasonNoFace               = "no face detected"
	ReasonUploadError          = "upload error"
	ReasonAuthFailed           = "authentication failed"
	ReasonEmployeeNotFound     = "employee not found"
	ReasonProfileError         = "profile lookup error"
	ReasonDetectionUnavailable = "detection unavailable"
	ReasonTimedOut             = "verification timed out"
)

// Status is a point-in-time snapshot of the session, as rendered to the user.
type Status struct {
	State              State     `json:"state"`
	Message            string    `json:"message"`
	Reason             string    `json:"reason,omitempty"`
	Profile            *Profile  `json:"profile,omitempty"`
	AttemptID          string    `json:"attempt_id,omitempty"`
	VerifiedUntil      time.Time `json:"verified_until,omitzero"`
	DetectionAvailable bool      `json:"detection_available"`
	UpdatedAt          time.Time `json:"updated_at"`
}
