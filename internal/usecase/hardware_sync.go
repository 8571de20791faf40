package usecase

import (
	"context"
	"time"

	"lookingglass/internal/domain"
)

// hardwareSync reconciles the video player with the machine while the video
// branch is active.
type hardwareSync struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (p *Player) startSync(ctx context.Context, token int64, load *videoLoad) {
	p.stopSync()

	syncCtx, cancel := context.WithCancel(ctx)
	hs := &hardwareSync{cancel: cancel, done: make(chan struct{})}
	p.hwSync = hs

	go func() {
		defer close(hs.done)
		p.syncLoop(syncCtx, token, load)
	}()
}

func (p *Player) stopSync() {
	hs := p.hwSync
	if hs == nil {
		return
	}
	p.hwSync = nil
	hs.cancel()
	<-hs.done
}

func (p *Player) syncLoop(ctx context.Context, token int64, load *videoLoad) {
	ticker := time.NewTicker(p.cfg.SyncInterval)
	defer ticker.Stop()

	var (
		lastPos     time.Duration = -1
		lastAdvance               = time.Now()
	)

	for {
		if !p.guard.IsCurrent(token) {
			return
		}
		if p.State() != domain.StateVideoPlaying {
			lastAdvance = time.Now()
		} else if p.syncTick(token, load, &lastPos, &lastAdvance) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// syncTick runs one reconciliation step. It returns true once VIDEO_FINISHED
// has been emitted.
func (p *Player) syncTick(token int64, load *videoLoad, lastPos *time.Duration, lastAdvance *time.Time) bool {
	switch load.get() {
	case videoFailed:
		p.log.Warn("video unavailable, advancing", "token", token)
		p.emitIfCurrent(token, domain.EventVideoFinished)
		return true
	case videoLoading:
		if time.Since(*lastAdvance) >= p.cfg.loadBudget()+p.cfg.VideoStallTimeout {
			p.log.Warn("video load stalled, advancing", "token", token)
			p.emitIfCurrent(token, domain.EventVideoFinished)
			return true
		}
		return false
	}

	if !p.video.Playing() {
		p.log.Debug("corrective video play", "token", token)
		if err := p.video.Play(); err != nil {
			p.log.Debug("corrective play failed", "error", err)
		}
	}

	pos, dur := p.video.Position(), p.video.Duration()
	if dur > 0 && pos >= dur-p.cfg.FinishEpsilon {
		p.log.Debug("video reached end", "position", pos, "duration", dur)
		p.emitIfCurrent(token, domain.EventVideoFinished)
		return true
	}

	if pos != *lastPos {
		*lastPos = pos
		*lastAdvance = time.Now()
		return false
	}
	if time.Since(*lastAdvance) >= p.cfg.VideoStallTimeout {
		p.log.Warn("video stalled, advancing", "position", pos, "token", token)
		p.emitIfCurrent(token, domain.EventVideoFinished)
		return true
	}
	return false
}
