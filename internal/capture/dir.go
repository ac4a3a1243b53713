package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp"}

// DirSource cycles through the image files of a directory. The directory is
// rescanned on every readiness probe so files may be dropped in while running.
type DirSource struct {
	dir string

	mu    sync.Mutex
	files []string
	next  int
}

// NewDirSource creates a directory-backed source.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

func (s *DirSource) Name() string { return "dir" }

func (s *DirSource) Ready() bool {
	files, err := listImages(s.dir)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = files
	if s.next >= len(files) {
		s.next = 0
	}
	return len(files) > 0
}

func (s *DirSource) Grab(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if len(s.files) == 0 {
		s.mu.Unlock()
		return nil, ErrNoFrame
	}
	path := s.files[s.next]
	s.next = (s.next + 1) % len(s.files)
	s.mu.Unlock()

	data, err := os.ReadFile(path) //nolint:gosec // files come from the configured frame directory
	if err != nil {
		return nil, fmt.Errorf("could not read frame file: %w", err)
	}
	return data, nil
}

func (s *DirSource) Close() error { return nil }

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("could not read frame directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(files)
	return files, nil
}
