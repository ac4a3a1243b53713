package speech

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// defaultPlayers are tried in order when no player is configured. Arguments
// precede the audio file path.
var defaultPlayers = [][]string{
	{"aplay", "-q"},
	{"paplay"},
	{"afplay"},
	{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet"},
}

func resolvePlayer(player string) []string {
	if fields := strings.Fields(player); len(fields) > 0 {
		path, err := lookPath(fields[0])
		if err != nil {
			return nil
		}
		return append([]string{path}, fields[1:]...)
	}
	for _, candidate := range defaultPlayers {
		if path, err := lookPath(candidate[0]); err == nil {
			return append([]string{path}, candidate[1:]...)
		}
	}
	return nil
}

// writeTempAudio copies audio into a file in a fresh temp dir. The caller
// removes the directory.
func writeTempAudio(audio io.Reader) (string, error) {
	dir, err := os.MkdirTemp("", "kiosk-speech-")
	if err != nil {
		return "", fmt.Errorf("could not create temp dir: %w", err)
	}
	path := filepath.Join(dir, "speech.wav")

	f, err := os.Create(path) //nolint:gosec // path inside our temp dir
	if err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("could not create audio file: %w", err)
	}
	if _, err := io.Copy(f, audio); err != nil {
		f.Close()
		os.RemoveAll(dir)
		return "", fmt.Errorf("could not read synthesized audio: %w", err)
	}
	if err := f.Close(); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("could not write audio file: %w", err)
	}
	return path, nil
}

// playFile plays the audio file at path and removes its temp dir.
func playFile(ctx context.Context, player []string, path string) error {
	defer os.RemoveAll(filepath.Dir(path))

	args := append(append([]string{}, player[1:]...), path)
	cmd := exec.CommandContext(ctx, player[0], args...) //nolint:gosec // configured audio player
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("audio player failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
