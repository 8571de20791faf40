package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"lookingglass/internal/ports"
)

// Config controls the OpenAI speech endpoint.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Voice   string
}

// Renderer voices text with the OpenAI (or compatible) audio/speech endpoint.
type Renderer struct {
	client *openai.Client
	cfg    Config
}

func NewRenderer(cfg Config) *Renderer {
	if cfg.Model == "" {
		cfg.Model = string(openai.TTSModel1)
	}
	if cfg.Voice == "" {
		cfg.Voice = string(openai.VoiceAlloy)
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Renderer{client: openai.NewClientWithConfig(clientCfg), cfg: cfg}
}

// Format is the container Render writes.
func (r *Renderer) Format() string { return "mp3" }

// Render writes the synthesised mp3 to w.
func (r *Renderer) Render(ctx context.Context, text string, params ports.SpeechParams, w io.Writer) error {
	if strings.TrimSpace(r.cfg.APIKey) == "" {
		return errors.New("OPENAI_API_KEY is not configured")
	}

	resp, err := r.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(r.cfg.Model),
		Input:          text,
		Voice:          openai.SpeechVoice(r.cfg.Voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Speed:          speed(params.Rate),
	})
	if err != nil {
		return fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Close()

	if _, err := io.Copy(w, resp); err != nil {
		return fmt.Errorf("read openai speech: %w", err)
	}
	return nil
}

// speed maps a webview speech rate onto the API's 0.25 to 4.0 range.
func speed(rate float64) float64 {
	switch {
	case rate <= 0:
		return 1.0
	case rate < 0.25:
		return 0.25
	case rate > 4:
		return 4
	default:
		return rate
	}
}
