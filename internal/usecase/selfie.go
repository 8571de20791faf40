package usecase

import (
	"context"
	"time"

	"lookingglass/internal/domain"
)

// scheduleSelfie arms the branch's selfie timer. The timer only enqueues
// SELFIE_DUE; the machine decides whether a capture still applies.
func (p *Player) scheduleSelfie() {
	var delay time.Duration
	switch p.State() {
	case domain.StateVideoPlaying:
		delay = p.cfg.VideoSelfieDelay
	case domain.StateAudioPlaying:
		delay = p.cfg.AudioSelfieDelay
	case domain.StatePhotoViewing:
		delay = p.cfg.PhotoSelfieDelay
	default:
		return
	}
	token := p.guard.Current()
	p.timers.After(delay, func() { p.emitIfCurrent(token, domain.EventSelfieDue) })
}

// triggerSelfie starts at most one capture per play-through.
func (p *Player) triggerSelfie() {
	pctx := p.Context()
	if pctx.SelfieTaken || pctx.Event == nil {
		return
	}
	if p.camera == nil || p.selfies == nil {
		p.log.Debug("selfie skipped: no camera configured")
		return
	}
	p.updateContext(func(c *domain.PlaybackContext) { c.SelfieTaken = true })

	token := p.guard.Current()
	go p.runSelfie(p.mediaCtx, token, pctx.Event.EventID)
}

// runSelfie gates on permission, then fades in, flashes, captures and fades out.
// A denied permission aborts without touching the UI.
func (p *Player) runSelfie(ctx context.Context, token int64, eventID string) {
	if !p.camera.PermissionGranted() {
		granted, err := p.camera.RequestPermission(ctx)
		if err != nil {
			p.log.Debug("camera permission request failed", "error", err)
			return
		}
		if !granted {
			p.log.Debug("camera permission denied, skipping selfie")
			return
		}
	}
	if !p.guard.IsCurrent(token) {
		return
	}

	p.showMirror()
	if p.cfg.SelfieSnapDelay > 0 && !sleepCtx(ctx, p.cfg.SelfieSnapDelay) {
		return
	}
	if !p.guard.IsCurrent(token) {
		return
	}

	p.events.SelfieFlash()
	if err := p.selfies.CaptureSelfie(ctx, eventID); err != nil {
		p.reportFailure(domain.MediaKindCamera, "", err)
	}

	if !sleepCtx(ctx, p.cfg.SelfieFadeOutDelay) {
		return
	}
	if p.guard.IsCurrent(token) {
		p.hideMirror()
	}
}
