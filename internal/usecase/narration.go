package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"lookingglass/internal/domain"
	"lookingglass/internal/ports"
)

var errStaleSession = errors.New("session superseded")

// clipRequest describes one voice-bearing action: a recorded clip preferred
// over synthesized text, completed by a single machine event.
type clipRequest struct {
	kind       domain.MediaKind
	url        string
	text       string
	completion domain.EventType

	clipDefault time.Duration
	clipBuffer  time.Duration
	speechCap   time.Duration
	// speakOnClipFailure falls back to text when the clip cannot be loaded.
	speakOnClipFailure bool
}

// completion delivers an action's completion event at most once, whichever of
// the native callback and the fallback timer comes first.
type completion struct {
	p     *Player
	token int64
	event domain.EventType
	kind  domain.MediaKind

	once  sync.Once
	mu    sync.Mutex
	done  bool
	timer timerID
	armed bool
}

func (p *Player) newCompletion(token int64, event domain.EventType, kind domain.MediaKind) *completion {
	return &completion{p: p, token: token, event: event, kind: kind}
}

func (c *completion) fire(source string) {
	c.once.Do(func() {
		c.mu.Lock()
		c.done = true
		timer, armed := c.timer, c.armed
		c.mu.Unlock()
		if armed {
			c.p.timers.Stop(timer)
		}
		if source == "fallback" && c.p.guard.IsCurrent(c.token) {
			c.p.log.Warn("fallback timer fired", "kind", c.kind, "event", c.event, "token", c.token)
		}
		c.p.emitIfCurrent(c.token, c.event)
	})
}

// arm schedules the fallback bound for this completion.
func (c *completion) arm(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done || !c.p.guard.IsCurrent(c.token) {
		return
	}
	if c.armed {
		c.p.timers.Stop(c.timer)
	}
	c.timer = c.p.timers.After(d, func() { c.fire("fallback") })
	c.armed = true
}

// speakCaption narrates the caption, preferring the companion's voice clip.
func (p *Player) speakCaption() {
	pctx := p.Context()
	req := clipRequest{
		kind:               domain.MediaKindVoiceClip,
		completion:         domain.EventNarrationFinished,
		clipDefault:        p.cfg.VoiceClipDefault,
		clipBuffer:         p.cfg.VoiceClipBuffer,
		speechCap:          p.cfg.CaptionSpeechCap,
		speakOnClipFailure: true,
	}
	if pctx.Metadata != nil {
		req.text = pctx.Metadata.CaptionText()
	}
	if pctx.Event != nil && pctx.Event.HasVideo() {
		req.url = strings.TrimSpace(pctx.Event.AudioURL)
	}
	p.narrate(p.guard.Next(), req)
}

// playDeepDive narrates the long-form story, preferring its recorded audio.
func (p *Player) playDeepDive() {
	pctx := p.Context()
	req := clipRequest{
		kind:               domain.MediaKindDeepDive,
		completion:         domain.EventNarrationFinished,
		clipDefault:        p.cfg.DeepDiveClipDefault,
		clipBuffer:         p.cfg.DeepDiveClipBuffer,
		speechCap:          p.cfg.DeepDiveSpeechCap,
		speakOnClipFailure: true,
	}
	if pctx.Metadata != nil {
		req.text = strings.TrimSpace(pctx.Metadata.DeepDive)
	}
	if pctx.Event != nil {
		req.url = strings.TrimSpace(pctx.Event.DeepDiveAudioURL)
	}
	p.narrate(p.guard.Next(), req)
}

// playAudio plays the recorded voice message. It never narrates.
func (p *Player) playAudio() {
	pctx := p.Context()
	req := clipRequest{
		kind:        domain.MediaKindAudio,
		completion:  domain.EventAudioFinished,
		clipDefault: p.cfg.AudioDefault,
		clipBuffer:  p.cfg.VoiceClipBuffer,
	}
	if pctx.Event != nil {
		req.url = strings.TrimSpace(pctx.Event.AudioURL)
	}
	p.narrate(p.guard.Current(), req)
}

func (p *Player) narrate(token int64, req clipRequest) {
	done := p.newCompletion(token, req.completion, req.kind)
	ctx := p.mediaCtx

	if req.url == "" {
		p.speak(ctx, done, req)
		return
	}

	go func() {
		handle, err := p.loadClip(ctx, token, req.kind, req.url)
		if errors.Is(err, errStaleSession) || !p.guard.IsCurrent(token) {
			return
		}
		if err != nil {
			p.reportFailure(req.kind, req.url, err)
			if req.speakOnClipFailure && req.text != "" {
				p.speak(ctx, done, req)
				return
			}
			done.fire("load_failed")
			return
		}
		if !p.startClip(token, handle, done) {
			return
		}
		bound := handle.Duration()
		if bound <= 0 {
			bound = req.clipDefault
		}
		done.arm(bound + req.clipBuffer)
	}()
}

// startClip installs handle as the voice and starts it, unless the session moved on.
func (p *Player) startClip(token int64, handle ports.SoundHandle, done *completion) bool {
	handle.OnFinished(func() { done.fire("native") })

	p.mediaMu.Lock()
	if !p.guard.IsCurrent(token) {
		p.mediaMu.Unlock()
		_ = handle.Stop()
		_ = handle.Unload()
		return false
	}
	previous := p.voice
	p.voice = handle
	err := handle.Play()
	p.mediaMu.Unlock()

	if previous != nil {
		_ = previous.Stop()
		_ = previous.Unload()
	}
	if err != nil {
		p.log.Warn("clip play failed", "error", err, "token", token)
		done.fire("play_failed")
		return false
	}
	return true
}

// loadClip loads url, retrying once after the configured backoff.
func (p *Player) loadClip(ctx context.Context, token int64, kind domain.MediaKind, url string) (ports.SoundHandle, error) {
	attempt := 0
	operation := func() (ports.SoundHandle, error) {
		if !p.guard.IsCurrent(token) {
			return nil, backoff.Permanent(errStaleSession)
		}
		attempt++
		loadCtx, cancel := context.WithTimeout(ctx, p.cfg.LoadTimeout)
		defer cancel()
		handle, err := p.audio.Load(loadCtx, url)
		if err != nil {
			p.log.Debug("clip load failed", "kind", kind, "attempt", attempt, "error", err)
			return nil, err
		}
		return handle, nil
	}
	handle, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(p.cfg.RetryBackoff)),
		backoff.WithMaxTries(loadAttempts),
	)
	if err != nil {
		if errors.Is(err, errStaleSession) {
			return nil, errStaleSession
		}
		return nil, fmt.Errorf("load %s: %w", kind, err)
	}
	return handle, nil
}

func (p *Player) speak(ctx context.Context, done *completion, req clipRequest) {
	text := p.transformText(req.text)
	if text == "" {
		done.fire("empty")
		return
	}
	done.arm(req.speechCap)
	err := p.speech.Speak(ctx, text, p.cfg.Speech, func(err error) {
		if err != nil {
			p.log.Debug("speech ended with error", "error", err, "token", done.token)
		}
		done.fire("native")
	})
	if err != nil {
		p.log.Warn("speech failed to start", "error", err, "token", done.token)
		done.fire("speak_failed")
	}
}

func (p *Player) transformText(text string) string {
	text = strings.TrimSpace(text)
	if text == "" || p.text == nil {
		return text
	}
	out, err := p.text.Apply(text)
	if err != nil {
		p.log.Warn("narration text transform failed", "error", err)
		return text
	}
	return strings.TrimSpace(out)
}
