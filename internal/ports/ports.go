package ports

import (
	"context"
	"time"

	"lookingglass/internal/domain"
)

// SpeechParams describes how text should be voiced.
type SpeechParams struct {
	Language string
	Pitch    float64
	Rate     float64
}

// SpeechSynthesizer voices text. done is called at most once, when speech ends or fails.
type SpeechSynthesizer interface {
	Speak(ctx context.Context, text string, params SpeechParams, done func(error)) error
	Stop() error
}

// SoundHandle is a loaded, playable audio clip.
type SoundHandle interface {
	Play() error
	Pause() error
	Stop() error
	Unload() error
	// Duration is zero when the backend cannot report it.
	Duration() time.Duration
	// OnFinished registers a callback for natural end of playback.
	OnFinished(fn func())
}

// AudioLoader loads remote or local clips.
type AudioLoader interface {
	Load(ctx context.Context, url string) (SoundHandle, error)
}

// VideoPlayer controls the single on-screen video surface.
type VideoPlayer interface {
	Load(ctx context.Context, url string) error
	Play() error
	Pause() error
	Playing() bool
	Position() time.Duration
	SetPosition(pos time.Duration) error
	Duration() time.Duration
	OnFinished(fn func())
}

// Camera gates selfie capture on permission.
type Camera interface {
	PermissionGranted() bool
	RequestPermission(ctx context.Context) (bool, error)
}

// SelfieCapturer takes and hands off a reaction selfie for one reflection.
type SelfieCapturer interface {
	CaptureSelfie(ctx context.Context, eventID string) error
}

// TextTransformer rewrites narration text before synthesis.
type TextTransformer interface {
	Apply(text string) (string, error)
}

// Journal records machine transitions for diagnostics.
type Journal interface {
	Record(ctx context.Context, t domain.Transition) error
}

// EventSink emits playback state/events to the UI.
type EventSink interface {
	PlaybackStateChanged(state domain.PlaybackState, trigger domain.EventType)
	SelfieMirror(visible bool)
	SelfieFlash()
	MediaError(failure domain.MediaFailure)
	PlaybackIdle(eventID string)
}
