package deepgram

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"lookingglass/internal/ports"
)

const (
	defaultSpeakURL   = "wss://api.deepgram.com/v1/speak"
	defaultModel      = "aura-2-thalia-en"
	defaultSampleRate = 24000
)

// Config controls Deepgram websocket settings.
type Config struct {
	APIKey     string
	SpeakURL   string
	Model      string
	SampleRate int
}

// Renderer voices text through Deepgram's streaming speak API and writes a
// WAV file.
type Renderer struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewRenderer(cfg Config) *Renderer {
	if cfg.SpeakURL == "" {
		cfg.SpeakURL = defaultSpeakURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	return &Renderer{cfg: cfg, dialer: websocket.DefaultDialer}
}

// Format is the container Render writes.
func (r *Renderer) Format() string { return "wav" }

// Render streams text to Deepgram, collects linear16 audio until the server
// acknowledges the flush, and writes it as a WAV file to w.
func (r *Renderer) Render(ctx context.Context, text string, _ ports.SpeechParams, w io.Writer) error {
	if strings.TrimSpace(r.cfg.APIKey) == "" {
		return errors.New("DEEPGRAM_API_KEY is not configured")
	}

	wsURL, err := buildSpeakURL(r.cfg)
	if err != nil {
		return err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+r.cfg.APIKey)

	conn, _, err := r.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return fmt.Errorf("failed to connect to Deepgram websocket: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := conn.WriteJSON(speakMessage{Type: "Speak", Text: text}); err != nil {
		return fmt.Errorf("failed to send text: %w", err)
	}
	if err := conn.WriteJSON(speakMessage{Type: "Flush"}); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	pcm, err := readUntilFlushed(conn)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}

	_ = conn.WriteJSON(speakMessage{Type: "Close"})

	if len(pcm) == 0 {
		return errors.New("deepgram returned no audio")
	}
	return writeWAV(w, pcm, r.cfg.SampleRate)
}

type speakMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type speakResponse struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func readUntilFlushed(conn *websocket.Conn) ([]byte, error) {
	var pcm []byte
	for {
		kind, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && len(pcm) > 0 {
				return pcm, nil
			}
			return nil, fmt.Errorf("failed to read provider event: %w", err)
		}

		if kind == websocket.BinaryMessage {
			pcm = append(pcm, payload...)
			continue
		}

		var response speakResponse
		if err := json.Unmarshal(payload, &response); err != nil {
			continue
		}
		switch {
		case strings.EqualFold(response.Type, "Flushed"):
			return pcm, nil
		case strings.EqualFold(response.Type, "Error"):
			message := strings.TrimSpace(firstNonEmpty(response.Description, response.Message))
			if message == "" {
				message = "deepgram returned an unknown error"
			}
			return nil, errors.New(message)
		}
	}
}

// writeWAV wraps mono 16-bit little-endian PCM in a RIFF header.
func writeWAV(w io.Writer, pcm []byte, sampleRate int) error {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	blockAlign := channels * bitsPerSample / 8
	header := struct {
		ChunkID       [4]byte
		ChunkSize     uint32
		Format        [4]byte
		Subchunk1ID   [4]byte
		Subchunk1Size uint32
		AudioFormat   uint16
		NumChannels   uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
		Subchunk2ID   [4]byte
		Subchunk2Size uint32
	}{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + len(pcm)),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   channels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * blockAlign),
		BlockAlign:    uint16(blockAlign),
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(len(pcm)),
	}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("write wav header: %w", err)
	}
	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("write wav data: %w", err)
	}
	return nil
}

func buildSpeakURL(cfg Config) (string, error) {
	base := strings.TrimSpace(cfg.SpeakURL)
	if base == "" {
		base = defaultSpeakURL
	}
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	speakURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram speak URL: %w", err)
	}
	if speakURL.Scheme != "ws" && speakURL.Scheme != "wss" {
		return "", fmt.Errorf("invalid Deepgram speak URL scheme %q", speakURL.Scheme)
	}

	query := speakURL.Query()
	query.Set("model", cfg.Model)
	query.Set("encoding", "linear16")
	query.Set("sample_rate", fmt.Sprintf("%d", cfg.SampleRate))
	speakURL.RawQuery = query.Encode()
	return speakURL.String(), nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
