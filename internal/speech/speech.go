package speech

import (
	"context"
	"fmt"

	"github.com/kozaktomas/attendance-kiosk/internal/config"
	"google.golang.org/genai"
)

// Speaker is a text-to-speech engine.
type Speaker interface {
	Name() string
	Available() bool
	Speak(ctx context.Context, text string) error
}

// New builds the configured engine. It returns nil for the "none" engine.
func New(cfg config.SpeechConfig) (Speaker, error) {
	switch cfg.Engine {
	case config.SpeechNone, "":
		return nil, nil
	case config.SpeechCommand:
		return NewCommandSpeaker(cfg.Command), nil
	case config.SpeechOpenAI:
		return NewOpenAISpeaker(cfg), nil
	case config.SpeechGemini:
		s, err := NewGeminiSpeaker(context.Background(), cfg, genai.HTTPOptions{})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown speech engine %q", cfg.Engine)
	}
}
