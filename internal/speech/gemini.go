package speech

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"mime"
	"strconv"
	"strings"

	"github.com/kozaktomas/attendance-kiosk/internal/config"
	"google.golang.org/genai"
)

const (
	defaultGeminiModel = "gemini-2.5-flash-preview-tts"
	defaultGeminiVoice = "Kore"

	// Gemini returns raw 16-bit little-endian mono PCM at this rate unless
	// the MIME type says otherwise.
	defaultPCMRate = 24000
)

var errNoAudio = errors.New("response contained no audio")

// GeminiSpeaker synthesizes speech with the Gemini API and plays it with a
// local audio player.
type GeminiSpeaker struct {
	client *genai.Client
	model  string
	voice  string
	player []string
}

// NewGeminiSpeaker creates a speaker from configuration. Without an API key
// the speaker is created but reports itself unavailable.
func NewGeminiSpeaker(ctx context.Context, cfg config.SpeechConfig, httpOptions genai.HTTPOptions) (*GeminiSpeaker, error) {
	s := &GeminiSpeaker{
		model:  orDefault(cfg.Model, defaultGeminiModel),
		voice:  orDefault(cfg.Voice, defaultGeminiVoice),
		player: resolvePlayer(cfg.Player),
	}
	if cfg.GeminiToken == "" {
		return s, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.GeminiToken,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: httpOptions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	s.client = client
	return s, nil
}

func (s *GeminiSpeaker) Name() string { return "gemini" }

// Available reports whether a client and an audio player are present.
func (s *GeminiSpeaker) Available() bool {
	return s.client != nil && len(s.player) > 0
}

// Speak synthesizes text and plays it.
func (s *GeminiSpeaker) Speak(ctx context.Context, text string) error {
	if !s.Available() {
		return ErrUnavailable
	}
	text = Sanitize(text)
	if text == "" {
		return nil
	}

	pcm, rate, err := s.synthesize(ctx, text)
	if err != nil {
		return err
	}
	path, err := writeTempAudio(bytes.NewReader(pcmToWAV(pcm, rate)))
	if err != nil {
		return err
	}
	return playFile(ctx, s.player, path)
}

func (s *GeminiSpeaker) synthesize(ctx context.Context, text string) ([]byte, int, error) {
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: s.voice},
			},
		},
	}

	resp, err := s.client.Models.GenerateContent(ctx, s.model, genai.Text(text), config)
	if err != nil {
		return nil, 0, fmt.Errorf("speech synthesis failed: %w", err)
	}

	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData.Data, pcmRate(part.InlineData.MIMEType), nil
			}
		}
	}
	return nil, 0, errNoAudio
}

// pcmRate reads the sample rate from a MIME type like "audio/L16;codec=pcm;rate=24000".
func pcmRate(mimeType string) int {
	_, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return defaultPCMRate
	}
	rate, err := strconv.Atoi(strings.TrimSpace(params["rate"]))
	if err != nil || rate <= 0 {
		return defaultPCMRate
	}
	return rate
}

// pcmToWAV wraps 16-bit mono PCM in a RIFF/WAVE header.
func pcmToWAV(pcm []byte, rate int) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	blockAlign := channels * bitsPerSample / 8

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(rate))
	binary.Write(&buf, binary.LittleEndian, uint32(rate*blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
