package speech

import (
	"context"
	"fmt"

	"github.com/kozaktomas/attendance-kiosk/internal/config"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	defaultOpenAIModel = "gpt-4o-mini-tts"
	defaultOpenAIVoice = "alloy"
)

// OpenAISpeaker synthesizes speech with the OpenAI TTS API and plays it
// with a local audio player.
type OpenAISpeaker struct {
	client *openai.Client
	model  string
	voice  string
	player []string
	hasKey bool
}

// NewOpenAISpeaker creates a speaker from configuration. Extra request
// options are appended to the client options.
func NewOpenAISpeaker(cfg config.SpeechConfig, opts ...option.RequestOption) *OpenAISpeaker {
	client := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(cfg.OpenAIToken)}, opts...)...)
	return &OpenAISpeaker{
		client: &client,
		model:  orDefault(cfg.Model, defaultOpenAIModel),
		voice:  orDefault(cfg.Voice, defaultOpenAIVoice),
		player: resolvePlayer(cfg.Player),
		hasKey: cfg.OpenAIToken != "",
	}
}

func (s *OpenAISpeaker) Name() string { return "openai" }

// Available reports whether an API key and an audio player are present.
func (s *OpenAISpeaker) Available() bool {
	return s.hasKey && len(s.player) > 0
}

// Speak synthesizes text and plays it.
func (s *OpenAISpeaker) Speak(ctx context.Context, text string) error {
	if !s.Available() {
		return ErrUnavailable
	}
	text = Sanitize(text)
	if text == "" {
		return nil
	}

	path, err := s.synthesize(ctx, text)
	if err != nil {
		return err
	}
	return playFile(ctx, s.player, path)
}

// synthesize writes the speech audio to a temporary WAV file and returns its path.
func (s *OpenAISpeaker) synthesize(ctx context.Context, text string) (string, error) {
	resp, err := s.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(s.model),
		Voice:          openai.AudioSpeechNewParamsVoice(s.voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatWAV,
	})
	if err != nil {
		return "", fmt.Errorf("speech synthesis failed: %w", err)
	}
	defer resp.Body.Close()

	return writeTempAudio(resp.Body)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
