package web

import (
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/kozaktomas/attendance-kiosk/internal/web/handlers"
	"github.com/kozaktomas/attendance-kiosk/internal/web/static"
)

func (s *Server) setupRoutes() {
	s.router.Get("/api/v1/health", handlers.HealthCheck)
	s.router.Get("/api/v1/status", s.kiosk.Status)
	s.router.Get("/api/v1/stats", s.kiosk.Stats)
	s.router.Get("/api/v1/events", s.kiosk.Events)
	s.router.Get("/api/v1/frame.jpg", s.kiosk.Frame)

	// Kiosk page
	s.router.Get("/*", s.serveStatic)
}

var contentTypes = map[string]string{
	".html": "text/html; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".js":   "application/javascript; charset=utf-8",
	".svg":  "image/svg+xml",
	".png":  "image/png",
	".ico":  "image/x-icon",
}

// serveStatic serves the embedded kiosk page and its assets
func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request) {
	fs := static.GetFileSystem()
	p := r.URL.Path
	if p == "/" {
		p = "/index.html"
	}

	f, err := fs.Open(p)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil || stat.IsDir() {
		http.NotFound(w, r)
		return
	}

	contentType, ok := contentTypes[strings.ToLower(path.Ext(p))]
	if !ok {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, f)
}
