package usecase

import (
	"fmt"
	"io"
	"strings"

	"lookingglass/internal/domain"
)

// anyState marks transitions accepted from every state.
const anyState domain.PlaybackState = "*"

type guardName string

const (
	guardLoaded     guardName = "loaded"
	guardClipActive guardName = "clipActive"
)

type actionName string

const (
	actStopAllMedia     actionName = "stopAllMedia"
	actBeginSession     actionName = "beginSession"
	actClearContext     actionName = "clearContext"
	actResetPlaythrough actionName = "resetPlaythrough"
	actMarkSpoken       actionName = "markSpoken"
	actTriggerSelfie    actionName = "triggerSelfie"
	actPauseMedia       actionName = "pauseMedia"
	actResumeMedia      actionName = "resumeMedia"

	actSpeakCaption     actionName = "speakCaption"
	actPlayVideo        actionName = "playVideo"
	actPlayAudio        actionName = "playAudio"
	actPlayDeepDive     actionName = "playDeepDive"
	actShowSelfieBubble actionName = "showSelfieBubble"
	actScheduleSelfie   actionName = "scheduleSelfie"
	actMarkFinished     actionName = "markFinished"

	actReleaseVoice actionName = "releaseVoice"
	actStopSync     actionName = "stopSync"
	actCancelTimers actionName = "cancelTimers"
)

// rule is one edge of the machine. An empty target keeps the current state.
type rule struct {
	from    domain.PlaybackState
	on      domain.EventType
	guard   guardName
	target  domain.PlaybackState
	route   bool
	resume  bool
	actions []actionName
}

// transitions is the whole machine in declaration order. State-specific rules
// take precedence over anyState rules.
var transitions = []rule{
	{from: anyState, on: domain.EventSelect, target: domain.StateLoading, actions: []actionName{actStopAllMedia, actBeginSession}},
	{from: anyState, on: domain.EventClose, guard: guardLoaded, target: domain.StateIdle, actions: []actionName{actStopAllMedia, actClearContext}},

	{from: domain.StateLoading, on: domain.EventEnter, route: true},

	{from: domain.StateVideoNarrating, on: domain.EventNarrationFinished, target: domain.StateVideoPlaying, actions: []actionName{actMarkSpoken}},
	{from: domain.StateVideoNarrating, on: domain.EventPause, guard: guardClipActive, target: domain.StateVideoNarratingPaused, resume: true, actions: []actionName{actPauseMedia}},
	{from: domain.StateVideoNarratingPaused, on: domain.EventResume, target: domain.StateVideoNarrating, resume: true, actions: []actionName{actResumeMedia}},
	{from: domain.StateVideoNarratingPaused, on: domain.EventNarrationFinished, target: domain.StateVideoPlaying, actions: []actionName{actMarkSpoken}},
	{from: domain.StateVideoPlaying, on: domain.EventVideoFinished, target: domain.StateFinished},
	{from: domain.StateVideoPlaying, on: domain.EventPause, target: domain.StateVideoPaused, resume: true, actions: []actionName{actPauseMedia}},
	{from: domain.StateVideoPlaying, on: domain.EventSelfieDue, actions: []actionName{actTriggerSelfie}},
	{from: domain.StateVideoPaused, on: domain.EventResume, target: domain.StateVideoPlaying, resume: true, actions: []actionName{actResumeMedia}},
	{from: domain.StateVideoPaused, on: domain.EventVideoFinished, target: domain.StateFinished},
	{from: domain.StateVideoPaused, on: domain.EventSelfieDue, actions: []actionName{actTriggerSelfie}},

	{from: domain.StateAudioPlaying, on: domain.EventAudioFinished, target: domain.StateFinished},
	{from: domain.StateAudioPlaying, on: domain.EventPause, target: domain.StateAudioPaused, resume: true, actions: []actionName{actPauseMedia}},
	{from: domain.StateAudioPlaying, on: domain.EventSelfieDue, actions: []actionName{actTriggerSelfie}},
	{from: domain.StateAudioPaused, on: domain.EventResume, target: domain.StateAudioPlaying, resume: true, actions: []actionName{actResumeMedia}},
	{from: domain.StateAudioPaused, on: domain.EventAudioFinished, target: domain.StateFinished},
	{from: domain.StateAudioPaused, on: domain.EventSelfieDue, actions: []actionName{actTriggerSelfie}},

	{from: domain.StatePhotoNarrating, on: domain.EventNarrationFinished, target: domain.StatePhotoViewing, actions: []actionName{actMarkSpoken}},
	{from: domain.StatePhotoViewing, on: domain.EventSelfieDue, target: domain.StateFinished, actions: []actionName{actTriggerSelfie}},

	{from: domain.StateDeepDivePlaying, on: domain.EventNarrationFinished, target: domain.StateFinished},
	{from: domain.StateDeepDivePlaying, on: domain.EventPause, guard: guardClipActive, target: domain.StateDeepDivePaused, resume: true, actions: []actionName{actPauseMedia}},
	{from: domain.StateDeepDivePaused, on: domain.EventResume, target: domain.StateDeepDivePlaying, resume: true, actions: []actionName{actResumeMedia}},
	{from: domain.StateDeepDivePaused, on: domain.EventNarrationFinished, target: domain.StateFinished},

	{from: domain.StateFinished, on: domain.EventReplay, route: true, actions: []actionName{actStopAllMedia, actResetPlaythrough}},
	{from: domain.StateFinished, on: domain.EventTellMeMore, target: domain.StateDeepDivePlaying, actions: []actionName{actStopAllMedia}},
}

// entryActions run when a state is entered through a non-resume transition.
var entryActions = map[domain.PlaybackState][]actionName{
	domain.StateVideoNarrating:  {actSpeakCaption},
	domain.StateVideoPlaying:    {actPlayVideo, actScheduleSelfie},
	domain.StateAudioPlaying:    {actPlayAudio, actScheduleSelfie},
	domain.StatePhotoNarrating:  {actSpeakCaption},
	domain.StatePhotoViewing:    {actShowSelfieBubble, actScheduleSelfie},
	domain.StateDeepDivePlaying: {actPlayDeepDive},
	domain.StateFinished:        {actMarkFinished},
}

// exitActions run when a state is left through a non-resume transition.
var exitActions = map[domain.PlaybackState][]actionName{
	domain.StateVideoNarrating:       {actCancelTimers, actReleaseVoice},
	domain.StateVideoNarratingPaused: {actCancelTimers, actReleaseVoice},
	domain.StateVideoPlaying:         {actCancelTimers, actStopSync},
	domain.StateVideoPaused:          {actCancelTimers, actStopSync},
	domain.StateAudioPlaying:         {actCancelTimers, actReleaseVoice},
	domain.StateAudioPaused:          {actCancelTimers, actReleaseVoice},
	domain.StatePhotoNarrating:       {actCancelTimers, actReleaseVoice},
	domain.StatePhotoViewing:         {actCancelTimers},
	domain.StateDeepDivePlaying:      {actCancelTimers, actReleaseVoice},
	domain.StateDeepDivePaused:       {actCancelTimers, actReleaseVoice},
}

type ruleKey struct {
	from domain.PlaybackState
	on   domain.EventType
}

var ruleIndex = buildRuleIndex(transitions)

func buildRuleIndex(rules []rule) map[ruleKey]rule {
	index := make(map[ruleKey]rule, len(rules))
	for _, r := range rules {
		index[ruleKey{from: r.from, on: r.on}] = r
	}
	return index
}

func lookupRule(from domain.PlaybackState, on domain.EventType) (rule, bool) {
	if r, ok := ruleIndex[ruleKey{from: from, on: on}]; ok {
		return r, true
	}
	r, ok := ruleIndex[ruleKey{from: anyState, on: on}]
	return r, ok
}

// classify is the single content classification shared by loading and replay.
func classify(event *domain.ReflectionEvent) domain.Branch {
	switch {
	case event == nil:
		return domain.BranchPhoto
	case event.HasVideo():
		return domain.BranchVideo
	case event.HasAudio():
		return domain.BranchAudio
	default:
		return domain.BranchPhoto
	}
}

// routeTarget returns the first leaf state of the branch the context classifies into.
func routeTarget(pctx domain.PlaybackContext) domain.PlaybackState {
	switch classify(pctx.Event) {
	case domain.BranchVideo:
		if pctx.HasSpoken {
			return domain.StateVideoPlaying
		}
		return domain.StateVideoNarrating
	case domain.BranchAudio:
		return domain.StateAudioPlaying
	default:
		return domain.StatePhotoNarrating
	}
}

// WriteTransitionTable renders the machine as pipe-separated rows.
func WriteTransitionTable(w io.Writer) error {
	if _, err := fmt.Fprintln(w, "from | event | guard | target | actions"); err != nil {
		return err
	}
	for _, r := range transitions {
		target := string(r.target)
		switch {
		case r.route:
			target = "(classify)"
		case target == "":
			target = "(stay)"
		}
		if r.resume {
			target += " resume"
		}
		guard := string(r.guard)
		if guard == "" {
			guard = "-"
		}
		actions := joinActions(r.actions)
		if _, err := fmt.Fprintf(w, "%s | %s | %s | %s | %s\n", r.from, r.on, guard, target, actions); err != nil {
			return err
		}
	}
	for _, state := range domain.AllStates() {
		entry, exit := entryActions[state], exitActions[state]
		if len(entry) == 0 && len(exit) == 0 {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s | entry: %s | exit: %s\n", state, joinActions(entry), joinActions(exit)); err != nil {
			return err
		}
	}
	return nil
}

func joinActions(actions []actionName) string {
	if len(actions) == 0 {
		return "-"
	}
	names := make([]string, 0, len(actions))
	for _, a := range actions {
		names = append(names, string(a))
	}
	return strings.Join(names, ", ")
}
