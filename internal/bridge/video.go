package bridge

import (
	"context"
	"fmt"
	"time"
)

type videoState struct {
	playing    bool
	position   time.Duration
	duration   time.Duration
	onFinished func()
}

// Video returns the bridge's VideoPlayer view.
func (b *Bridge) Video() *Video {
	return &Video{bridge: b}
}

// Video is the single <video> element.
type Video struct {
	bridge *Bridge
}

func (v *Video) Load(ctx context.Context, url string) error {
	_, reply, err := v.bridge.call(ctx, EventVideoLoad, "video", map[string]any{"url": url})
	if err != nil {
		return fmt.Errorf("load video %q: %w", url, err)
	}
	if err := reply.err(); err != nil {
		return fmt.Errorf("load video %q: %w", url, err)
	}
	v.bridge.mu.Lock()
	v.bridge.video.duration = durationFromMS(reply.DurationMS)
	v.bridge.video.position = 0
	v.bridge.mu.Unlock()
	return nil
}

func (v *Video) Play() error {
	return v.bridge.send(EventVideoPlay, map[string]any{})
}

func (v *Video) Pause() error {
	v.bridge.mu.Lock()
	v.bridge.video.playing = false
	v.bridge.mu.Unlock()
	return v.bridge.send(EventVideoPause, map[string]any{})
}

func (v *Video) Playing() bool {
	v.bridge.mu.Lock()
	defer v.bridge.mu.Unlock()
	return v.bridge.video.playing
}

func (v *Video) Position() time.Duration {
	v.bridge.mu.Lock()
	defer v.bridge.mu.Unlock()
	return v.bridge.video.position
}

func (v *Video) SetPosition(pos time.Duration) error {
	v.bridge.mu.Lock()
	v.bridge.video.position = pos
	v.bridge.mu.Unlock()
	return v.bridge.send(EventVideoSeek, map[string]any{"positionMs": pos.Milliseconds()})
}

func (v *Video) Duration() time.Duration {
	v.bridge.mu.Lock()
	defer v.bridge.mu.Unlock()
	return v.bridge.video.duration
}

func (v *Video) OnFinished(fn func()) {
	v.bridge.mu.Lock()
	defer v.bridge.mu.Unlock()
	v.bridge.video.onFinished = fn
}

// VideoProgress records the element's latest timeupdate.
func (b *Bridge) VideoProgress(positionMS, durationMS int64, playing bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.video.position = durationFromMS(positionMS)
	if d := durationFromMS(durationMS); d > 0 {
		b.video.duration = d
	}
	b.video.playing = playing
}

// VideoEnded reports the element's ended event.
func (b *Bridge) VideoEnded() {
	b.mu.Lock()
	b.video.playing = false
	fn := b.video.onFinished
	b.mu.Unlock()
	if fn != nil {
		fn()
	}
}
