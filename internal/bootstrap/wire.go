package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"

	"lookingglass/internal/audio"
	"lookingglass/internal/bridge"
	"lookingglass/internal/config"
	"lookingglass/internal/journal"
	"lookingglass/internal/lexicon"
	"lookingglass/internal/ports"
	"lookingglass/internal/providers/deepgram"
	"lookingglass/internal/providers/openai"
	"lookingglass/internal/speech"
	"lookingglass/internal/telemetry"
	"lookingglass/internal/usecase"
)

const serviceName = "lookingglass"

// Services is the assembled runtime graph.
type Services struct {
	Player  *usecase.Player
	Feed    *usecase.Feed
	Bridge  *bridge.Bridge
	Journal *journal.Journal
	Config  config.Config

	shutdownTelemetry func(context.Context) error
}

// Close releases the journal and flushes telemetry.
func (s Services) Close(ctx context.Context) error {
	var errs []error
	if s.Journal != nil {
		errs = append(errs, s.Journal.Close())
	}
	if s.shutdownTelemetry != nil {
		errs = append(errs, s.shutdownTelemetry(ctx))
	}
	return errors.Join(errs...)
}

// Build wires all backend dependencies for the current runtime. The returned
// player is not yet running.
func Build(ctx context.Context, eventSink ports.EventSink, logger *slog.Logger) (Services, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	lex, err := lexicon.Load(cfg.Lexicon.Path)
	if err != nil {
		return Services{}, err
	}

	shutdown, err := telemetry.Setup(ctx, serviceName, telemetry.Settings{
		Endpoint: cfg.Telemetry.Endpoint,
		Enabled:  cfg.Telemetry.Enabled,
	})
	if err != nil {
		return Services{}, err
	}

	var store *journal.Journal
	if cfg.JournalEnabled() {
		if err := os.MkdirAll(filepath.Dir(cfg.Journal.Path), 0o755); err != nil {
			_ = shutdown(ctx)
			return Services{}, fmt.Errorf("create journal directory: %w", err)
		}
		store, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			_ = shutdown(ctx)
			return Services{}, err
		}
	}

	webview := bridge.New()
	sounds := audioLoader(cfg, webview)
	voice, err := synthesizer(cfg, webview, sounds, logger)
	if err != nil {
		_ = shutdown(ctx)
		if store != nil {
			_ = store.Close()
		}
		return Services{}, err
	}

	ps := usecase.Ports{
		Speech:  voice,
		Audio:   sounds,
		Video:   webview.Video(),
		Camera:  webview.Camera(),
		Selfies: webview.Camera(),
		Events:  eventSink,
		Text:    lex,
		Tracer:  otel.Tracer("lookingglass/playback"),
	}
	if store != nil {
		ps.Journal = store
	}
	player := usecase.NewPlayer(ps, PlayerConfig(cfg, logger))

	logger.Info("services built",
		"speech", cfg.Speech.Engine,
		"audio", cfg.Audio.Backend,
		"lexicon_entries", lex.Len(),
		"journal", cfg.JournalEnabled(),
	)

	return Services{
		Player:            player,
		Feed:              usecase.NewFeed(player, cfg.Feed.Loop),
		Bridge:            webview,
		Journal:           store,
		Config:            cfg,
		shutdownTelemetry: shutdown,
	}, nil
}

// PlayerConfig maps runtime configuration onto the playback machine.
func PlayerConfig(cfg config.Config, logger *slog.Logger) usecase.Config {
	p := cfg.Playback
	return usecase.Config{
		Logger: logger,
		Speech: ports.SpeechParams{
			Language: cfg.Speech.Language,
			Pitch:    cfg.Speech.Pitch,
			Rate:     cfg.Speech.Rate,
		},
		InstantVideoPlayback: p.InstantVideo,
		SettleDelay:          p.SettleDelay,
		LoadTimeout:          p.LoadTimeout,
		RetryBackoff:         p.RetryBackoff,
		VoiceClipDefault:     p.VoiceClipDefault,
		VoiceClipBuffer:      p.VoiceClipBuffer,
		CaptionSpeechCap:     p.CaptionSpeechCap,
		AudioDefault:         p.AudioDefault,
		DeepDiveClipDefault:  p.DeepDiveClipDefault,
		DeepDiveClipBuffer:   p.DeepDiveClipBuffer,
		DeepDiveSpeechCap:    p.DeepDiveSpeechCap,
		VideoSelfieDelay:     p.VideoSelfieDelay,
		AudioSelfieDelay:     p.AudioSelfieDelay,
		PhotoSelfieDelay:     p.PhotoSelfieDelay,
		SelfieSnapDelay:      p.SelfieSnapDelay,
		SelfieFadeOutDelay:   p.SelfieFadeOutDelay,
		SyncInterval:         p.SyncInterval,
		FinishEpsilon:        p.FinishEpsilon,
		VideoStallTimeout:    p.VideoStallTimeout,
	}
}

func audioLoader(cfg config.Config, webview *bridge.Bridge) ports.AudioLoader {
	if cfg.Audio.Backend == config.AudioFFplay {
		return audio.NewFFPlayLoader(cfg.Audio.PlayerCommand, cfg.Audio.ProbeCommand)
	}
	return webview
}

func synthesizer(cfg config.Config, webview *bridge.Bridge, sounds ports.AudioLoader, logger *slog.Logger) (ports.SpeechSynthesizer, error) {
	switch cfg.Speech.Engine {
	case config.SpeechCommand:
		return speech.NewCommandSynthesizer(cfg.Speech.Command), nil
	case config.SpeechDeepgram, config.SpeechOpenAI:
		if err := os.MkdirAll(cfg.Audio.CacheDir, 0o755); err != nil {
			return nil, fmt.Errorf("create audio cache directory: %w", err)
		}
		var renderer speech.Renderer
		if cfg.Speech.Engine == config.SpeechDeepgram {
			renderer = deepgram.NewRenderer(deepgram.Config{
				APIKey:     cfg.Deepgram.APIKey,
				SpeakURL:   cfg.Deepgram.SpeakURL,
				Model:      cfg.Deepgram.Model,
				SampleRate: cfg.Deepgram.SampleRate,
			})
		} else {
			renderer = openai.NewRenderer(openai.Config{
				APIKey:  cfg.OpenAI.APIKey,
				BaseURL: cfg.OpenAI.BaseURL,
				Model:   cfg.OpenAI.Model,
				Voice:   cfg.OpenAI.Voice,
			})
		}
		return speech.NewRenderedSynthesizer(renderer, sounds, cfg.Audio.CacheDir, logger), nil
	default:
		return webview, nil
	}
}
