package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// defaultCommands are tried in order when no command is configured.
var defaultCommands = []string{"espeak-ng", "espeak", "say"}

var lookPath = exec.LookPath

// ErrUnavailable is returned when speaking without a usable engine.
var ErrUnavailable = errors.New("speech engine unavailable")

// CommandSpeaker speaks through a local TTS binary. The text is passed as
// the last argument.
type CommandSpeaker struct {
	path string
	args []string
}

// NewCommandSpeaker resolves the TTS command. command may carry extra
// arguments ("espeak-ng -s 150"). An empty command auto-detects one.
func NewCommandSpeaker(command string) *CommandSpeaker {
	if fields := strings.Fields(command); len(fields) > 0 {
		path, err := lookPath(fields[0])
		if err != nil {
			return &CommandSpeaker{}
		}
		return &CommandSpeaker{path: path, args: fields[1:]}
	}

	for _, name := range defaultCommands {
		if path, err := lookPath(name); err == nil {
			return &CommandSpeaker{path: path}
		}
	}
	return &CommandSpeaker{}
}

func (s *CommandSpeaker) Name() string { return "command" }

// Available reports whether a TTS binary was found.
func (s *CommandSpeaker) Available() bool {
	return s.path != ""
}

// Speak runs the TTS command and waits for it to finish.
func (s *CommandSpeaker) Speak(ctx context.Context, text string) error {
	if !s.Available() {
		return ErrUnavailable
	}
	text = Sanitize(text)
	if text == "" {
		return nil
	}

	args := append(append([]string{}, s.args...), text)
	cmd := exec.CommandContext(ctx, s.path, args...) //nolint:gosec // configured TTS binary
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("tts command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
