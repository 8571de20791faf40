package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/cenkalti/backoff/v5"

	"lookingglass/internal/domain"
)

type videoLoadState int32

const (
	videoLoading videoLoadState = iota
	videoReady
	videoFailed
)

// videoLoad tracks the asynchronous load of the current video source.
type videoLoad struct {
	state atomic.Int32
}

func (v *videoLoad) set(s videoLoadState) { v.state.Store(int32(s)) }
func (v *videoLoad) get() videoLoadState  { return videoLoadState(v.state.Load()) }

// playVideo rewinds, fades the selfie bubble in, and leaves the actual Play
// call to the hardware sync loop.
func (p *Player) playVideo() {
	token := p.guard.Current()
	pctx := p.Context()
	url := ""
	if pctx.Event != nil {
		url = strings.TrimSpace(pctx.Event.VideoURL)
	}

	if err := p.video.SetPosition(0); err != nil {
		p.log.Debug("video rewind failed", "error", err)
	}
	p.showMirror()
	p.video.OnFinished(func() { p.emitIfCurrent(token, domain.EventVideoFinished) })

	load := &videoLoad{}
	ctx := p.mediaCtx
	go func() {
		err := p.loadVideo(ctx, token, url)
		switch {
		case err == nil:
			load.set(videoReady)
		case p.guard.IsCurrent(token):
			p.reportFailure(domain.MediaKindVideo, url, err)
			load.set(videoFailed)
		}
	}()

	p.startSync(ctx, token, load)
}

func (p *Player) loadVideo(ctx context.Context, token int64, url string) error {
	operation := func() (struct{}, error) {
		if !p.guard.IsCurrent(token) {
			return struct{}{}, backoff.Permanent(errStaleSession)
		}
		loadCtx, cancel := context.WithTimeout(ctx, p.cfg.LoadTimeout)
		defer cancel()
		return struct{}{}, p.video.Load(loadCtx, url)
	}
	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(p.cfg.RetryBackoff)),
		backoff.WithMaxTries(loadAttempts),
	)
	if err != nil {
		return fmt.Errorf("load video: %w", err)
	}
	return nil
}
