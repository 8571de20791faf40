package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"lookingglass/internal/ports"
)

var errNoRenderer = errors.New("speech renderer is not configured")

// Renderer turns text into an audio file body.
type Renderer interface {
	Render(ctx context.Context, text string, params ports.SpeechParams, w io.Writer) error
	Format() string
}

// RenderedSynthesizer voices text by rendering it to a temp file with a cloud
// engine and playing that file through an AudioLoader.
type RenderedSynthesizer struct {
	renderer Renderer
	audio    ports.AudioLoader
	dir      string
	logger   *slog.Logger

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	handle ports.SoundHandle
	file   string
}

func NewRenderedSynthesizer(renderer Renderer, audio ports.AudioLoader, dir string, logger *slog.Logger) *RenderedSynthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &RenderedSynthesizer{renderer: renderer, audio: audio, dir: dir, logger: logger}
}

// Speak renders in the background. done receives render and load errors as
// well as the natural end of playback.
func (s *RenderedSynthesizer) Speak(ctx context.Context, text string, params ports.SpeechParams, done func(error)) error {
	if s.renderer == nil || s.audio == nil {
		return errNoRenderer
	}
	if err := s.Stop(); err != nil {
		return err
	}
	if done == nil {
		done = func(error) {}
	}

	renderCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		path, err := s.render(renderCtx, text, params)
		if err != nil {
			if s.isCurrent(gen) {
				done(err)
			}
			return
		}

		handle, err := s.audio.Load(renderCtx, path)
		if err != nil {
			os.Remove(path)
			if s.isCurrent(gen) {
				done(fmt.Errorf("load rendered speech: %w", err))
			}
			return
		}

		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			_ = handle.Unload()
			os.Remove(path)
			return
		}
		s.handle = handle
		s.file = path
		s.mu.Unlock()

		handle.OnFinished(func() {
			if s.isCurrent(gen) {
				done(nil)
			}
		})
		if err := handle.Play(); err != nil && s.isCurrent(gen) {
			done(fmt.Errorf("play rendered speech: %w", err))
		}
	}()
	return nil
}

// Stop cancels any pending render and releases the playing clip.
func (s *RenderedSynthesizer) Stop() error {
	s.mu.Lock()
	s.gen++
	cancel := s.cancel
	handle := s.handle
	file := s.file
	s.cancel = nil
	s.handle = nil
	s.file = ""
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if handle != nil {
		if err := handle.Stop(); err != nil {
			s.logger.Debug("rendered speech stop failed", "error", err)
		}
		if err := handle.Unload(); err != nil {
			s.logger.Debug("rendered speech unload failed", "error", err)
		}
	}
	if file != "" {
		os.Remove(file)
	}
	return nil
}

func (s *RenderedSynthesizer) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

func (s *RenderedSynthesizer) render(ctx context.Context, text string, params ports.SpeechParams) (string, error) {
	if s.dir != "" {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return "", fmt.Errorf("create speech cache dir: %w", err)
		}
	}
	file, err := os.CreateTemp(s.dir, "speech-*."+s.renderer.Format())
	if err != nil {
		return "", fmt.Errorf("create speech file: %w", err)
	}
	path := file.Name()

	renderErr := s.renderer.Render(ctx, text, params, file)
	closeErr := file.Close()
	if renderErr != nil {
		os.Remove(path)
		return "", fmt.Errorf("render speech: %w", renderErr)
	}
	if closeErr != nil {
		os.Remove(path)
		return "", fmt.Errorf("write speech file: %w", closeErr)
	}
	return path, nil
}
