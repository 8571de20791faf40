package domain

import (
	"strings"
	"time"
)

// ContentType is the companion-declared kind of a reflection.
type ContentType string

const (
	ContentTypePhoto ContentType = "photo"
	ContentTypeAudio ContentType = "audio"
	ContentTypeVideo ContentType = "video"
)

// ReflectionEvent is a single shared reflection with its presigned media URLs.
// An empty URL means the media is absent.
type ReflectionEvent struct {
	EventID          string `json:"event_id" yaml:"event_id"`
	ImageURL         string `json:"image_url" yaml:"image_url"`
	VideoURL         string `json:"video_url,omitempty" yaml:"video_url,omitempty"`
	AudioURL         string `json:"audio_url,omitempty" yaml:"audio_url,omitempty"`
	DeepDiveAudioURL string `json:"deep_dive_audio_url,omitempty" yaml:"deep_dive_audio_url,omitempty"`
}

// HasVideo reports whether a video file is attached.
func (e ReflectionEvent) HasVideo() bool {
	return strings.TrimSpace(e.VideoURL) != ""
}

// HasAudio reports whether a recorded voice clip is attached and no video wins over it.
func (e ReflectionEvent) HasAudio() bool {
	return strings.TrimSpace(e.AudioURL) != "" && !e.HasVideo()
}

// ReflectionMetadata carries the companion's caption and story text.
type ReflectionMetadata struct {
	Description  string      `json:"description" yaml:"description"`
	ShortCaption string      `json:"short_caption,omitempty" yaml:"short_caption,omitempty"`
	Sender       string      `json:"sender,omitempty" yaml:"sender,omitempty"`
	Timestamp    string      `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
	ContentType  ContentType `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	DeepDive     string      `json:"deep_dive,omitempty" yaml:"deep_dive,omitempty"`
}

// CaptionText returns the text narrated when a reflection opens.
func (m ReflectionMetadata) CaptionText() string {
	if text := strings.TrimSpace(m.ShortCaption); text != "" {
		return text
	}
	return strings.TrimSpace(m.Description)
}

// PlaybackContext is the machine-owned state of the current selection.
type PlaybackContext struct {
	SelectionID   string              `json:"selectionId,omitempty"`
	Event         *ReflectionEvent    `json:"event,omitempty"`
	Metadata      *ReflectionMetadata `json:"metadata,omitempty"`
	HasSpoken     bool                `json:"hasSpoken"`
	VideoFinished bool                `json:"videoFinished"`
	SelfieTaken   bool                `json:"selfieTaken"`
}

// EventID returns the selected reflection id, or "" when nothing is loaded.
func (c PlaybackContext) EventID() string {
	if c.Event == nil {
		return ""
	}
	return c.Event.EventID
}

// MediaKind identifies which primitive a failure or action belongs to.
type MediaKind string

const (
	MediaKindSpeech    MediaKind = "speech"
	MediaKindVoiceClip MediaKind = "voice_clip"
	MediaKindAudio     MediaKind = "audio"
	MediaKindVideo     MediaKind = "video"
	MediaKindDeepDive  MediaKind = "deep_dive"
	MediaKindCamera    MediaKind = "camera"
)

// ErrorCode identifies non-fatal backend errors surfaced to the UI.
type ErrorCode string

const (
	ErrorCodeStartup    ErrorCode = "startup"
	ErrorCodeMediaLoad  ErrorCode = "media_load"
	ErrorCodeMediaStop  ErrorCode = "media_stop"
	ErrorCodeSpeech     ErrorCode = "speech"
	ErrorCodeSelfie     ErrorCode = "selfie"
	ErrorCodePermission ErrorCode = "permission"
)

// MediaFailure is reported after a media action gave up, so the caller can refresh URLs.
type MediaFailure struct {
	Code    ErrorCode `json:"code"`
	EventID string    `json:"eventId,omitempty"`
	Kind    MediaKind `json:"kind"`
	URL     string    `json:"url,omitempty"`
	Detail  string    `json:"detail"`
}

// Transition is one journaled machine step.
type Transition struct {
	SelectionID string        `json:"selectionId,omitempty"`
	EventID     string        `json:"eventId,omitempty"`
	From        PlaybackState `json:"from"`
	To          PlaybackState `json:"to"`
	Trigger     EventType     `json:"trigger"`
	Token       int64         `json:"token"`
	At          time.Time     `json:"at"`
}

// Status summarizes the current runtime status.
type Status struct {
	State         PlaybackState `json:"state"`
	EventID       string        `json:"eventId,omitempty"`
	Active        bool          `json:"active"`
	HasSpoken     bool          `json:"hasSpoken"`
	VideoFinished bool          `json:"videoFinished"`
	Message       string        `json:"message,omitempty"`
}
