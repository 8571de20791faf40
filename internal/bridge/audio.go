package bridge

import (
	"context"
	"fmt"
	"time"

	"lookingglass/internal/ports"
)

// Load creates an <audio> element in the webview and waits until it can play.
func (b *Bridge) Load(ctx context.Context, url string) (ports.SoundHandle, error) {
	id, reply, err := b.call(ctx, EventAudioLoad, "audio", map[string]any{"url": url})
	if err != nil {
		return nil, fmt.Errorf("load audio %q: %w", url, err)
	}
	if err := reply.err(); err != nil {
		return nil, fmt.Errorf("load audio %q: %w", url, err)
	}
	return &sound{bridge: b, id: id, duration: durationFromMS(reply.DurationMS)}, nil
}

// AudioEnded reports that sound id played to its end.
func (b *Bridge) AudioEnded(id string) {
	b.mu.Lock()
	fn, ok := b.soundFinished[id]
	b.mu.Unlock()
	if ok && fn != nil {
		fn()
	}
}

type sound struct {
	bridge   *Bridge
	id       string
	duration time.Duration
}

func (s *sound) Play() error  { return s.bridge.send(EventAudioPlay, map[string]any{"id": s.id}) }
func (s *sound) Pause() error { return s.bridge.send(EventAudioPause, map[string]any{"id": s.id}) }
func (s *sound) Stop() error  { return s.bridge.send(EventAudioStop, map[string]any{"id": s.id}) }

func (s *sound) Unload() error {
	s.bridge.mu.Lock()
	delete(s.bridge.soundFinished, s.id)
	s.bridge.mu.Unlock()
	return s.bridge.send(EventAudioUnload, map[string]any{"id": s.id})
}

func (s *sound) Duration() time.Duration { return s.duration }

func (s *sound) OnFinished(fn func()) {
	s.bridge.mu.Lock()
	defer s.bridge.mu.Unlock()
	s.bridge.soundFinished[s.id] = fn
}
