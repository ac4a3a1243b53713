package handlers

import (
	"sync"

	"github.com/kozaktomas/attendance-kiosk/internal/constants"
	"github.com/kozaktomas/attendance-kiosk/internal/models"
)

// Hub fans status snapshots out to connected event streams.
// It implements feedback.Renderer.
type Hub struct {
	listeners []chan models.Status
	closed    bool
	mu        sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{}
}

// AddListener adds a status listener. It returns nil once the hub is closed.
func (h *Hub) AddListener() chan models.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	ch := make(chan models.Status, constants.EventChannelBuffer)
	h.listeners = append(h.listeners, ch)
	return ch
}

// RemoveListener removes a status listener.
func (h *Hub) RemoveListener(ch chan models.Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, listener := range h.listeners {
		if listener == ch {
			h.listeners = append(h.listeners[:i], h.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// Render sends a status to all listeners.
func (h *Hub) Render(status models.Status) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, listener := range h.listeners {
		select {
		case listener <- status:
		default:
			// Listener buffer full, skip.
		}
	}
}

// Listeners returns the number of connected listeners.
func (h *Hub) Listeners() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// Close closes every listener and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, ch := range h.listeners {
		close(ch)
	}
	h.listeners = nil
}
