package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"lookingglass/internal/bootstrap"
	"lookingglass/internal/bridge"
	"lookingglass/internal/config"
	"lookingglass/internal/domain"
	"lookingglass/internal/usecase"
)

const (
	eventState        = "lookingglass:state"
	eventSelfieMirror = "lookingglass:selfie:mirror"
	eventSelfieFlash  = "lookingglass:selfie:flash"
	eventIdle         = "lookingglass:idle"
	eventError        = "lookingglass:error"
)

var errNotInitialized = errors.New("application is not initialized")

// App is the Wails application root.
type App struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	services bootstrap.Services
	player   *usecase.Player
	feed     *usecase.Feed
	bridge   *bridge.Bridge
	cfg      config.Config
	bootErr  error
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(ctx, a, slog.Default())
	if err != nil {
		a.bootErr = err
		a.emitError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.services = services
	a.cfg = services.Config
	a.player = services.Player
	a.feed = services.Feed
	a.bridge = services.Bridge
	a.bridge.Bind(func(name string, payload map[string]any) {
		runtime.EventsEmit(a.ctx, name, payload)
	})

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	go func() {
		defer close(a.done)
		if err := a.player.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("player stopped", "error", err)
		}
	}()

	a.PlaybackStateChanged(domain.StateIdle, "")
}

func (a *App) shutdown(ctx context.Context) {
	if a.cancel != nil {
		a.cancel()
		<-a.done
	}
	if err := a.services.Close(ctx); err != nil {
		slog.Warn("shutdown cleanup failed", "error", err)
	}
}

// Select opens a reflection, interrupting whatever is playing.
func (a *App) Select(event domain.ReflectionEvent, metadata domain.ReflectionMetadata) (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.player.Select(event, metadata); err != nil {
		return domain.Status{}, err
	}
	return a.player.Status(), nil
}

// SelectInstant opens a reflection; a video starts without narration.
func (a *App) SelectInstant(event domain.ReflectionEvent, metadata domain.ReflectionMetadata) (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.player.SelectInstant(event, metadata); err != nil {
		return domain.Status{}, err
	}
	return a.player.Status(), nil
}

// Replay restarts a finished reflection.
func (a *App) Replay() error { return a.send((*usecase.Player).Replay) }

// TellMeMore plays the deep dive of a finished reflection.
func (a *App) TellMeMore() error { return a.send((*usecase.Player).TellMeMore) }

// Close dismisses the open reflection.
func (a *App) Close() error { return a.send((*usecase.Player).Close) }

// Pause pauses playback where the state allows it.
func (a *App) Pause() error { return a.send((*usecase.Player).Pause) }

// Resume continues paused playback.
func (a *App) Resume() error { return a.send((*usecase.Player).Resume) }

func (a *App) send(fn func(*usecase.Player) error) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return fn(a.player)
}

// SetFeed replaces the reflections Next and Prev walk through.
func (a *App) SetFeed(items []usecase.FeedItem) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.feed.SetItems(items)
	return nil
}

// Next selects the following reflection in the feed.
func (a *App) Next() (usecase.FeedItem, error) {
	if err := a.requireReady(); err != nil {
		return usecase.FeedItem{}, err
	}
	return a.feed.Next()
}

// Prev selects the preceding reflection in the feed.
func (a *App) Prev() (usecase.FeedItem, error) {
	if err := a.requireReady(); err != nil {
		return usecase.FeedItem{}, err
	}
	return a.feed.Prev()
}

// GetStatus returns the current playback status.
func (a *App) GetStatus() domain.Status {
	if a.player == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.StateIdle, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.StateIdle}
	}
	return a.player.Status()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	info := map[string]string{
		"speechEngine": a.cfg.Speech.Engine,
		"audioBackend": a.cfg.Audio.Backend,
		"language":     a.cfg.Speech.Language,
		"lexiconFile":  a.cfg.Lexicon.Path,
		"journal":      a.cfg.Journal.Path,
	}
	switch a.cfg.Speech.Engine {
	case config.SpeechDeepgram:
		info["voice"] = a.cfg.Deepgram.Model
	case config.SpeechOpenAI:
		info["voice"] = a.cfg.OpenAI.Voice
	}
	return info
}

// ResolveRequest delivers the webview's reply to a pending bridge request.
func (a *App) ResolveRequest(id string, reply bridge.Reply) bool {
	if a.bridge == nil {
		return false
	}
	return a.bridge.Resolve(id, reply)
}

// SpeechEnded reports the end of a webview utterance. A non-empty detail is an error.
func (a *App) SpeechEnded(id string, detail string) {
	if a.bridge != nil {
		a.bridge.SpeechEnded(id, detail)
	}
}

// AudioEnded reports the natural end of a webview sound.
func (a *App) AudioEnded(id string) {
	if a.bridge != nil {
		a.bridge.AudioEnded(id)
	}
}

// VideoProgress reports the video element's position.
func (a *App) VideoProgress(positionMS, durationMS int64, playing bool) {
	if a.bridge != nil {
		a.bridge.VideoProgress(positionMS, durationMS, playing)
	}
}

// VideoEnded reports the video element's ended event.
func (a *App) VideoEnded() {
	if a.bridge != nil {
		a.bridge.VideoEnded()
	}
}

// CameraPermissionChanged records the browser's camera permission.
func (a *App) CameraPermissionChanged(granted bool) {
	if a.bridge != nil {
		a.bridge.CameraPermissionChanged(granted)
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.player == nil {
		return errNotInitialized
	}
	return nil
}

// PlaybackStateChanged emits machine transitions to the frontend.
func (a *App) PlaybackStateChanged(state domain.PlaybackState, trigger domain.EventType) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventState, map[string]string{
		"state":   string(state),
		"branch":  string(state.Branch()),
		"trigger": string(trigger),
		"message": stateMessage(state),
	})
}

// SelfieMirror shows or hides the camera bubble.
func (a *App) SelfieMirror(visible bool) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventSelfieMirror, map[string]bool{"visible": visible})
}

// SelfieFlash plays the capture flash.
func (a *App) SelfieFlash() {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventSelfieFlash)
}

// MediaError surfaces a media failure so the UI can refresh its URLs.
func (a *App) MediaError(failure domain.MediaFailure) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"code":    string(failure.Code),
		"message": errorMessage(failure.Code, failure.Detail),
		"detail":  failure.Detail,
		"eventId": failure.EventID,
		"kind":    string(failure.Kind),
		"url":     failure.URL,
	})
}

// PlaybackIdle tells the UI a reflection no longer holds any media.
func (a *App) PlaybackIdle(eventID string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventIdle, map[string]string{"eventId": eventID})
}

func (a *App) emitError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func stateMessage(state domain.PlaybackState) string {
	switch state {
	case domain.StateIdle:
		return ""
	case domain.StateLoading:
		return "Opening reflection"
	case domain.StateVideoNarrating, domain.StatePhotoNarrating:
		return "Reading the caption"
	case domain.StateVideoPlaying:
		return "Playing video"
	case domain.StateAudioPlaying:
		return "Playing voice message"
	case domain.StatePhotoViewing:
		return "Viewing photo"
	case domain.StateDeepDivePlaying:
		return "Telling you more"
	case domain.StateVideoNarratingPaused, domain.StateVideoPaused, domain.StateAudioPaused, domain.StateDeepDivePaused:
		return "Paused"
	case domain.StateFinished:
		return "Finished"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeMediaLoad:
		return "Media could not be loaded"
	case domain.ErrorCodeMediaStop:
		return "Media stop issue"
	case domain.ErrorCodeSpeech:
		return "Speech failed"
	case domain.ErrorCodeSelfie:
		return "Selfie capture failed"
	case domain.ErrorCodePermission:
		return "Camera permission denied"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
