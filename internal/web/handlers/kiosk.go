package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/kozaktomas/attendance-kiosk/internal/capture"
	"github.com/kozaktomas/attendance-kiosk/internal/kiosk"
	"github.com/kozaktomas/attendance-kiosk/internal/models"
)

// Kiosk is the read side of the attendance coordinator.
type Kiosk interface {
	Status() models.Status
	Stats() kiosk.Stats
}

// FrameSource exposes the most recently sampled camera frame.
type FrameSource interface {
	Last() *capture.Frame
}

// KioskHandler serves the kiosk status API.
type KioskHandler struct {
	kiosk  Kiosk
	frames FrameSource
	hub    *Hub
}

// NewKioskHandler creates a handler. frames may be nil.
func NewKioskHandler(k Kiosk, frames FrameSource, hub *Hub) *KioskHandler {
	return &KioskHandler{kiosk: k, frames: frames, hub: hub}
}

// Status returns the current session status.
func (h *KioskHandler) Status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.kiosk.Status())
}

// StatsResponse is the body of the stats endpoint.
type StatsResponse struct {
	kiosk.Stats
	Listeners int `json:"listeners"`
}

// Stats returns attempt counters.
func (h *KioskHandler) Stats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, StatsResponse{
		Stats:     h.kiosk.Stats(),
		Listeners: h.hub.Listeners(),
	})
}

// Events streams status changes as Server-Sent Events. The current status
// is sent first.
func (h *KioskHandler) Events(w http.ResponseWriter, r *http.Request) {
	ch := h.hub.AddListener()
	if ch == nil {
		respondError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	defer h.hub.RemoveListener(ch)

	flusher, ok := setupSSEConnection(w)
	if !ok {
		return
	}

	sendSSEEvent(w, flusher, "status", h.kiosk.Status())

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			sendSSEComment(w, flusher)
		case status, ok := <-ch:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, "status", status)
		}
	}
}

// Frame returns the last sampled frame as JPEG.
func (h *KioskHandler) Frame(w http.ResponseWriter, r *http.Request) {
	var frame *capture.Frame
	if h.frames != nil {
		frame = h.frames.Last()
	}
	if frame == nil {
		respondError(w, http.StatusNotFound, "no frame sampled yet")
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(frame.Data)))
	w.Header().Set("X-Frame-Seq", strconv.FormatUint(frame.Seq, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(frame.Data)
}
