package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Speech engines.
const (
	SpeechWebview  = "webview"
	SpeechCommand  = "command"
	SpeechDeepgram = "deepgram"
	SpeechOpenAI   = "openai"
)

// Audio backends.
const (
	AudioWebview = "webview"
	AudioFFplay  = "ffplay"
)

// JournalOff disables the playback journal when used as its path.
const JournalOff = "off"

// Config stores runtime configuration for the explorer and the simulator.
type Config struct {
	Playback  PlaybackConfig
	Speech    SpeechConfig
	Audio     AudioConfig
	Deepgram  DeepgramConfig
	OpenAI    OpenAIConfig
	Lexicon   LexiconConfig
	Journal   JournalConfig
	Telemetry TelemetryConfig
	Feed      FeedConfig
}

// PlaybackConfig holds every timing the playback machine uses.
type PlaybackConfig struct {
	InstantVideo bool `env:"LOOKINGGLASS_INSTANT_VIDEO" envDefault:"false"`

	SettleDelay  time.Duration `env:"LOOKINGGLASS_SETTLE_DELAY"  envDefault:"100ms"`
	LoadTimeout  time.Duration `env:"LOOKINGGLASS_LOAD_TIMEOUT"  envDefault:"10s"`
	RetryBackoff time.Duration `env:"LOOKINGGLASS_RETRY_BACKOFF" envDefault:"1500ms"`

	VoiceClipDefault time.Duration `env:"LOOKINGGLASS_VOICE_CLIP_DEFAULT"  envDefault:"5s"`
	VoiceClipBuffer  time.Duration `env:"LOOKINGGLASS_VOICE_CLIP_BUFFER"   envDefault:"2500ms"`
	CaptionSpeechCap time.Duration `env:"LOOKINGGLASS_CAPTION_SPEECH_CAP"  envDefault:"15s"`
	AudioDefault     time.Duration `env:"LOOKINGGLASS_AUDIO_DEFAULT"       envDefault:"30s"`

	DeepDiveClipDefault time.Duration `env:"LOOKINGGLASS_DEEP_DIVE_CLIP_DEFAULT" envDefault:"15s"`
	DeepDiveClipBuffer  time.Duration `env:"LOOKINGGLASS_DEEP_DIVE_CLIP_BUFFER"  envDefault:"5s"`
	DeepDiveSpeechCap   time.Duration `env:"LOOKINGGLASS_DEEP_DIVE_SPEECH_CAP"   envDefault:"60s"`

	VideoSelfieDelay   time.Duration `env:"LOOKINGGLASS_VIDEO_SELFIE_DELAY"    envDefault:"5s"`
	AudioSelfieDelay   time.Duration `env:"LOOKINGGLASS_AUDIO_SELFIE_DELAY"    envDefault:"1500ms"`
	PhotoSelfieDelay   time.Duration `env:"LOOKINGGLASS_PHOTO_SELFIE_DELAY"    envDefault:"200ms"`
	SelfieSnapDelay    time.Duration `env:"LOOKINGGLASS_SELFIE_SNAP_DELAY"     envDefault:"0s"`
	SelfieFadeOutDelay time.Duration `env:"LOOKINGGLASS_SELFIE_FADE_OUT_DELAY" envDefault:"500ms"`

	SyncInterval      time.Duration `env:"LOOKINGGLASS_SYNC_INTERVAL"       envDefault:"200ms"`
	FinishEpsilon     time.Duration `env:"LOOKINGGLASS_FINISH_EPSILON"      envDefault:"200ms"`
	VideoStallTimeout time.Duration `env:"LOOKINGGLASS_VIDEO_STALL_TIMEOUT" envDefault:"8s"`
}

type SpeechConfig struct {
	Engine   string  `env:"LOOKINGGLASS_SPEECH_ENGINE"   envDefault:"webview"`
	Command  string  `env:"LOOKINGGLASS_SPEECH_COMMAND"`
	Voice    string  `env:"LOOKINGGLASS_SPEECH_VOICE"`
	Language string  `env:"LOOKINGGLASS_SPEECH_LANGUAGE" envDefault:"en-US"`
	Pitch    float64 `env:"LOOKINGGLASS_SPEECH_PITCH"    envDefault:"1.0"`
	Rate     float64 `env:"LOOKINGGLASS_SPEECH_RATE"     envDefault:"0.9"`
}

type AudioConfig struct {
	Backend       string `env:"LOOKINGGLASS_AUDIO_BACKEND"        envDefault:"webview"`
	PlayerCommand string `env:"LOOKINGGLASS_FFPLAY_COMMAND"       envDefault:"ffplay"`
	ProbeCommand  string `env:"LOOKINGGLASS_FFPROBE_COMMAND"      envDefault:"ffprobe"`
	CacheDir      string `env:"LOOKINGGLASS_AUDIO_CACHE_DIR"`
}

type DeepgramConfig struct {
	APIKey     string `env:"DEEPGRAM_API_KEY"`
	SpeakURL   string `env:"DEEPGRAM_SPEAK_URL"   envDefault:"wss://api.deepgram.com/v1/speak"`
	Model      string `env:"DEEPGRAM_SPEAK_MODEL" envDefault:"aura-2-thalia-en"`
	SampleRate int    `env:"DEEPGRAM_SAMPLE_RATE" envDefault:"24000"`
}

type OpenAIConfig struct {
	APIKey  string `env:"OPENAI_API_KEY"`
	BaseURL string `env:"OPENAI_BASE_URL"`
	Model   string `env:"OPENAI_TTS_MODEL" envDefault:"tts-1"`
	Voice   string `env:"OPENAI_TTS_VOICE" envDefault:"alloy"`
}

type LexiconConfig struct {
	Path string `env:"LOOKINGGLASS_LEXICON_FILE"`
}

type JournalConfig struct {
	Path string `env:"LOOKINGGLASS_JOURNAL_PATH"`
}

type TelemetryConfig struct {
	Endpoint string `env:"LOOKINGGLASS_OTEL_ENDPOINT"`
	Enabled  bool   `env:"LOOKINGGLASS_OTEL_ENABLED" envDefault:"true"`
}

type FeedConfig struct {
	Loop bool `env:"LOOKINGGLASS_FEED_LOOP" envDefault:"true"`
}

// Load resolves configuration from environment variables and sensible defaults.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if strings.TrimSpace(cfg.Lexicon.Path) == "" {
		cfg.Lexicon.Path = filepath.Join(home, ".config", "lookingglass", "lexicon.yaml")
	}
	if strings.TrimSpace(cfg.Journal.Path) == "" {
		cfg.Journal.Path = filepath.Join(home, ".local", "state", "lookingglass", "journal.db")
	}
	if strings.TrimSpace(cfg.Audio.CacheDir) == "" {
		cfg.Audio.CacheDir = filepath.Join(os.TempDir(), "lookingglass-audio")
	}

	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	c.Speech.Engine = strings.ToLower(strings.TrimSpace(c.Speech.Engine))
	switch c.Speech.Engine {
	case SpeechWebview, SpeechCommand, SpeechDeepgram, SpeechOpenAI:
	default:
		c.Speech.Engine = SpeechWebview
	}
	if c.Speech.Engine == SpeechDeepgram && strings.TrimSpace(c.Deepgram.APIKey) == "" {
		c.Speech.Engine = SpeechWebview
	}
	if c.Speech.Engine == SpeechOpenAI && strings.TrimSpace(c.OpenAI.APIKey) == "" {
		c.Speech.Engine = SpeechWebview
	}
	if c.Speech.Pitch <= 0 || c.Speech.Pitch > 2 {
		c.Speech.Pitch = 1.0
	}
	if c.Speech.Rate <= 0 || c.Speech.Rate > 10 {
		c.Speech.Rate = 0.9
	}

	c.Audio.Backend = strings.ToLower(strings.TrimSpace(c.Audio.Backend))
	if c.Audio.Backend != AudioFFplay {
		c.Audio.Backend = AudioWebview
	}
	// Rendered speech engines play through the audio backend, which must then
	// be able to open local files.
	if (c.Speech.Engine == SpeechDeepgram || c.Speech.Engine == SpeechOpenAI) && c.Audio.Backend == AudioWebview {
		c.Audio.Backend = AudioFFplay
	}
	if c.Deepgram.SampleRate <= 0 {
		c.Deepgram.SampleRate = 24000
	}
}

// JournalEnabled reports whether transitions should be persisted.
func (c Config) JournalEnabled() bool {
	return !strings.EqualFold(strings.TrimSpace(c.Journal.Path), JournalOff)
}
