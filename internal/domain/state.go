package domain

import "strings"

// PlaybackState is a leaf state of the playback machine, written as branch.substate.
type PlaybackState string

const (
	StateIdle                 PlaybackState = "idle"
	StateLoading              PlaybackState = "loading"
	StateVideoNarrating       PlaybackState = "playingVideo.narrating"
	StateVideoNarratingPaused PlaybackState = "playingVideo.narratingPaused"
	StateVideoPlaying         PlaybackState = "playingVideo.playing"
	StateVideoPaused          PlaybackState = "playingVideo.paused"
	StateAudioPlaying         PlaybackState = "playingAudio.playing"
	StateAudioPaused          PlaybackState = "playingAudio.paused"
	StatePhotoNarrating       PlaybackState = "viewingPhoto.narrating"
	StatePhotoViewing         PlaybackState = "viewingPhoto.viewing"
	StateDeepDivePlaying      PlaybackState = "playingDeepDive.playing"
	StateDeepDivePaused       PlaybackState = "playingDeepDive.paused"
	StateFinished             PlaybackState = "finished"
)

// Branch is the top-level region a leaf state belongs to.
type Branch string

const (
	BranchIdle     Branch = "idle"
	BranchLoading  Branch = "loading"
	BranchVideo    Branch = "playingVideo"
	BranchAudio    Branch = "playingAudio"
	BranchPhoto    Branch = "viewingPhoto"
	BranchDeepDive Branch = "playingDeepDive"
	BranchFinished Branch = "finished"
)

// AllStates lists every leaf state in declaration order.
func AllStates() []PlaybackState {
	return []PlaybackState{
		StateIdle,
		StateLoading,
		StateVideoNarrating,
		StateVideoNarratingPaused,
		StateVideoPlaying,
		StateVideoPaused,
		StateAudioPlaying,
		StateAudioPaused,
		StatePhotoNarrating,
		StatePhotoViewing,
		StateDeepDivePlaying,
		StateDeepDivePaused,
		StateFinished,
	}
}

// Branch returns the top-level region of s.
func (s PlaybackState) Branch() Branch {
	head, _, _ := strings.Cut(string(s), ".")
	return Branch(head)
}

// Paused reports whether s is a paused sub-state.
func (s PlaybackState) Paused() bool {
	return strings.HasSuffix(string(s), ".paused") || s == StateVideoNarratingPaused
}

// Narrating reports whether s speaks the caption before playback.
func (s PlaybackState) Narrating() bool {
	return s == StateVideoNarrating || s == StatePhotoNarrating
}

// EventType names a machine input.
type EventType string

const (
	EventSelect     EventType = "SELECT_EVENT"
	EventReplay     EventType = "REPLAY"
	EventTellMeMore EventType = "TELL_ME_MORE"
	EventClose      EventType = "CLOSE"
	EventPause      EventType = "PAUSE"
	EventResume     EventType = "RESUME"

	EventNarrationFinished EventType = "NARRATION_FINISHED"
	EventVideoFinished     EventType = "VIDEO_FINISHED"
	EventAudioFinished     EventType = "AUDIO_FINISHED"
	EventSelfieDue         EventType = "SELFIE_DUE"

	// EventEnter marks the entry into a state reached without an input event.
	EventEnter EventType = "ENTER"
)

// Internal reports whether t is re-injected by the action layer rather than sent by the UI.
func (t EventType) Internal() bool {
	switch t {
	case EventNarrationFinished, EventVideoFinished, EventAudioFinished, EventSelfieDue:
		return true
	default:
		return false
	}
}

// Event is a single machine input.
type Event struct {
	Type     EventType
	Event    *ReflectionEvent
	Metadata *ReflectionMetadata
	// Instant skips caption narration for video reflections.
	Instant bool
	// Token is the session token captured by the action that produced an internal event.
	Token int64
}
