package usecase

import (
	"context"
	"time"

	"lookingglass/internal/domain"
)

// stopAllMedia silences every voice-bearing resource and invalidates in-flight
// completions. Every step is best-effort.
func (p *Player) stopAllMedia(settle bool) {
	token := p.guard.Next()
	p.log.Debug("stopping all media", "token", token)

	p.timers.StopAll()
	p.stopSync()
	if p.mediaCancel != nil {
		p.mediaCancel()
	}
	if p.baseCtx != nil {
		p.mediaCtx, p.mediaCancel = context.WithCancel(p.baseCtx)
	}

	p.speechStop()
	p.releaseVoice()

	if err := p.video.Pause(); err != nil {
		p.log.Debug("video pause failed", "error", err)
	}
	if err := p.video.SetPosition(0); err != nil {
		p.log.Debug("video rewind failed", "error", err)
	}
	p.hideMirror()

	if settle && p.cfg.SettleDelay > 0 {
		sleepCtx(p.baseCtx, p.cfg.SettleDelay)
	}
}

func (p *Player) speechStop() {
	if err := p.speech.Stop(); err != nil {
		p.log.Debug("speech stop failed", "error", err)
	}
}

// releaseVoice stops and unloads the current voice handle. Unload errors mean
// the handle was already released.
func (p *Player) releaseVoice() {
	p.mediaMu.Lock()
	voice := p.voice
	p.voice = nil
	p.mediaMu.Unlock()

	if voice == nil {
		return
	}
	if err := voice.Stop(); err != nil {
		p.log.Debug("voice stop failed", "error", err)
	}
	if err := voice.Unload(); err != nil {
		p.log.Debug("voice unload failed", "error", err)
	}
}

func (p *Player) showMirror() {
	p.mediaMu.Lock()
	visible := p.mirrorVisible
	p.mirrorVisible = true
	p.mediaMu.Unlock()
	if !visible {
		p.events.SelfieMirror(true)
	}
}

func (p *Player) hideMirror() {
	p.mediaMu.Lock()
	visible := p.mirrorVisible
	p.mirrorVisible = false
	p.mediaMu.Unlock()
	if visible {
		p.events.SelfieMirror(false)
	}
}

func (p *Player) reportFailure(kind domain.MediaKind, url string, err error) {
	failure := domain.MediaFailure{
		Code:    domain.ErrorCodeMediaLoad,
		EventID: p.Context().EventID(),
		Kind:    kind,
		URL:     url,
		Detail:  err.Error(),
	}
	if kind == domain.MediaKindCamera {
		failure.Code = domain.ErrorCodeSelfie
	}
	p.log.Warn("media failed", "kind", kind, "event_id", failure.EventID, "error", err)
	p.events.MediaError(failure)
}

// sleepCtx waits d or until ctx is done. Returns false when ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
