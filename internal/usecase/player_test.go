package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lookingglass/internal/domain"
)

func videoReflection(id string) (domain.ReflectionEvent, domain.ReflectionMetadata) {
	return domain.ReflectionEvent{EventID: id, ImageURL: "img-" + id, VideoURL: "v-" + id},
		domain.ReflectionMetadata{ContentType: domain.ContentTypeVideo, Description: "Look!"}
}

func photoReflection(id, description string) (domain.ReflectionEvent, domain.ReflectionMetadata) {
	return domain.ReflectionEvent{EventID: id, ImageURL: "img-" + id},
		domain.ReflectionMetadata{ContentType: domain.ContentTypePhoto, Description: description}
}

func audioReflection(id string) (domain.ReflectionEvent, domain.ReflectionMetadata) {
	return domain.ReflectionEvent{EventID: id, ImageURL: "img-" + id, AudioURL: "a-" + id},
		domain.ReflectionMetadata{ContentType: domain.ContentTypeAudio}
}

func TestPlayerScenarioVideo(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fastConfig())
	h.video.duration = 10 * time.Second

	event, meta := videoReflection("v1")
	require.NoError(t, h.player.Select(event, meta))

	h.waitState(t, domain.StateVideoNarrating)
	h.waitSpeech(t, 1)
	assert.Equal(t, "Look!", h.speech.call(0).text)

	h.speech.call(0).done(nil)
	h.waitState(t, domain.StateVideoPlaying)

	require.Eventually(t, func() bool {
		playing, plays, _ := h.video.snapshot()
		return playing && plays > 0
	}, time.Second, 2*time.Millisecond, "sync loop never started the video")
	_, _, loaded := h.video.snapshot()
	assert.Equal(t, []string{"v-v1"}, loaded)
	assert.Contains(t, h.events.snapshotMirror(), true, "selfie bubble should fade in with the video")

	h.video.jumpTo(9900 * time.Millisecond)
	h.waitState(t, domain.StateFinished)

	pctx := h.player.Context()
	assert.True(t, pctx.HasSpoken)
	assert.True(t, pctx.VideoFinished)
	assert.Equal(t, []domain.PlaybackState{
		domain.StateLoading,
		domain.StateVideoNarrating,
		domain.StateVideoPlaying,
		domain.StateFinished,
	}, h.events.stateNames())
	assert.Equal(t, []string{"v1"}, h.events.snapshotIdles())

	playing, _, _ := h.video.snapshot()
	assert.False(t, playing, "finished should pause and rewind the video")
}

func TestPlayerScenarioAudio(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.AudioSelfieDelay = 1500 * time.Millisecond
	h := newHarness(t, cfg)
	h.audio.durations["a-a1"] = 10 * time.Second

	event, meta := audioReflection("a1")
	require.NoError(t, h.player.Select(event, meta))

	h.waitState(t, domain.StateAudioPlaying)
	require.Eventually(t, func() bool { return h.audio.lastSound() != nil }, time.Second, 2*time.Millisecond)
	sound := h.audio.lastSound()
	assert.Equal(t, "a-a1", sound.url)

	require.Eventually(t, func() bool { return len(h.selfies.snapshot()) == 1 },
		3*time.Second, 5*time.Millisecond, "selfie never fired")
	enteredAt, ok := h.events.enteredAt(domain.StateAudioPlaying)
	require.True(t, ok)
	shot := h.selfies.snapshot()[0]
	assert.Equal(t, "a1", shot.eventID)
	assert.GreaterOrEqual(t, shot.at.Sub(enteredAt), 1400*time.Millisecond)
	assert.Equal(t, domain.StateAudioPlaying, h.player.State(), "selfie runs alongside audio")

	sound.finish()
	h.waitState(t, domain.StateFinished)

	assert.Zero(t, h.speech.count(), "audio reflections are never narrated")
	play, _, stop, unload := sound.counts()
	assert.Equal(t, 1, play)
	assert.GreaterOrEqual(t, stop, 1)
	assert.GreaterOrEqual(t, unload, 1)
	assert.True(t, h.player.Context().SelfieTaken)
}

func TestPlayerScenarioPhoto(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.PhotoSelfieDelay = 200 * time.Millisecond
	h := newHarness(t, cfg)

	event, meta := photoReflection("p1", "A photo")
	require.NoError(t, h.player.Select(event, meta))

	h.waitState(t, domain.StatePhotoNarrating)
	h.waitSpeech(t, 1)
	assert.Equal(t, "A photo", h.speech.call(0).text)

	h.speech.call(0).done(nil)
	h.waitState(t, domain.StatePhotoViewing)
	viewingAt, ok := h.events.enteredAt(domain.StatePhotoViewing)
	require.True(t, ok)
	require.Eventually(t, func() bool { return len(h.events.snapshotMirror()) > 0 },
		time.Second, 2*time.Millisecond)
	assert.True(t, h.events.snapshotMirror()[0], "bubble shows on entry")

	require.Eventually(t, func() bool { return len(h.selfies.snapshot()) == 1 },
		2*time.Second, 5*time.Millisecond)
	shot := h.selfies.snapshot()[0]
	assert.GreaterOrEqual(t, shot.at.Sub(viewingAt), 150*time.Millisecond)
	assert.Equal(t, 1, h.events.flashCount())

	h.waitState(t, domain.StateFinished)
}

func TestPlayerScenarioDoubleSelectDiscardsStaleNarration(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fastConfig())

	first, firstMeta := photoReflection("first", "first caption")
	second, secondMeta := photoReflection("second", "second caption")

	require.NoError(t, h.player.Select(first, firstMeta))
	h.waitSpeech(t, 1)
	staleToken := h.player.Token()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, h.player.Select(second, secondMeta))
	h.waitSpeech(t, 2)
	h.waitState(t, domain.StatePhotoNarrating)
	require.Equal(t, "second", h.player.Context().EventID())
	require.Greater(t, h.player.Token(), staleToken)

	before := len(h.events.snapshotStates())
	h.speech.call(0).done(nil)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, domain.StatePhotoNarrating, h.player.State(), "stale narration must not advance the machine")
	assert.Len(t, h.events.snapshotStates(), before)
	assert.False(t, h.player.Context().HasSpoken)

	h.speech.call(1).done(nil)
	h.waitState(t, domain.StatePhotoViewing)
	assert.Equal(t, []string{"first caption", "second caption"}, h.speech.texts())
	assert.Equal(t, []string{"first"}, h.events.snapshotIdles())
}

func TestPlayerScenarioDeepDiveTwice(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.PhotoSelfieDelay = 5 * time.Millisecond
	h := newHarness(t, cfg)

	event, meta := photoReflection("p1", "A photo")
	meta.DeepDive = "Extended story..."
	require.NoError(t, h.player.Select(event, meta))
	h.waitSpeech(t, 1)
	h.speech.call(0).done(nil)
	h.waitState(t, domain.StateFinished)

	for round := 1; round <= 2; round++ {
		require.NoError(t, h.player.TellMeMore())
		h.waitState(t, domain.StateDeepDivePlaying)
		h.waitSpeech(t, 1+round)
		call := h.speech.call(round)
		assert.Equal(t, "Extended story...", call.text)

		call.done(nil)
		h.waitState(t, domain.StateFinished)
		require.Eventually(t, func() bool { return h.player.PendingTimers() == 0 },
			time.Second, 2*time.Millisecond, "round %d leaked timers", round)
	}
}

func TestPlayerLastSelectionWins(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fastConfig())
	h.audio.durations["a-last"] = 10 * time.Second

	v, vm := videoReflection("v")
	p, pm := photoReflection("p", "photo")
	a, am := audioReflection("last")
	require.NoError(t, h.player.Select(v, vm))
	require.NoError(t, h.player.Select(p, pm))
	require.NoError(t, h.player.Select(a, am))

	h.waitState(t, domain.StateAudioPlaying)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, domain.StateAudioPlaying, h.player.State())
	assert.Equal(t, "last", h.player.Context().EventID())

	// Every branch entered belongs to the selection that preceded it.
	var branch domain.Branch
	for _, s := range h.events.stateNames() {
		switch s.Branch() {
		case domain.BranchLoading:
			branch = ""
		case domain.BranchIdle, domain.BranchFinished:
		default:
			if branch == "" {
				branch = s.Branch()
			}
			assert.Equal(t, branch, s.Branch(), "two branches active in one selection")
		}
	}
}

func TestPlayerCloseWhileIdleIsNoop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fastConfig())
	token := h.player.Token()

	require.NoError(t, h.player.Close())
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, domain.StateIdle, h.player.State())
	assert.Empty(t, h.events.snapshotStates())
	assert.Equal(t, token, h.player.Token())
	assert.Zero(t, h.speech.stops())
}

func TestPlayerCloseStopsMediaAndClearsContext(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fastConfig())
	event, meta := photoReflection("p1", "caption")
	require.NoError(t, h.player.Select(event, meta))
	h.waitSpeech(t, 1)

	require.NoError(t, h.player.Close())
	h.waitState(t, domain.StateIdle)
	assert.Equal(t, domain.PlaybackContext{}, h.player.Context())

	h.speech.call(0).done(nil)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, domain.StateIdle, h.player.State())
}

func TestPlayerReplayOutsideFinishedIgnored(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fastConfig())
	event, meta := photoReflection("p1", "caption")
	require.NoError(t, h.player.Select(event, meta))
	h.waitSpeech(t, 1)
	token := h.player.Token()

	require.NoError(t, h.player.Replay())
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, domain.StatePhotoNarrating, h.player.State())
	assert.Equal(t, 1, h.speech.count())
	assert.Equal(t, token, h.player.Token())
}

func TestPlayerReplayRederivesBranch(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		event  domain.ReflectionEvent
		meta   domain.ReflectionMetadata
		branch domain.PlaybackState
	}{
		{name: "video", branch: domain.StateVideoNarrating},
		{name: "audio", branch: domain.StateAudioPlaying},
		{name: "photo", branch: domain.StatePhotoNarrating},
	}
	cases[0].event, cases[0].meta = videoReflection("v")
	cases[1].event, cases[1].meta = audioReflection("a")
	cases[2].event, cases[2].meta = photoReflection("p", "caption")

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := fastConfig()
			cfg.PhotoSelfieDelay = 5 * time.Millisecond
			h := newHarness(t, cfg)
			h.speech.autoFinish = 5 * time.Millisecond
			h.video.duration = 100 * time.Millisecond
			h.audio.durations[tc.event.AudioURL] = 10 * time.Millisecond

			require.NoError(t, h.player.Select(tc.event, tc.meta))
			h.waitState(t, domain.StateFinished)

			firstRoute := h.events.stateNames()[1]
			assert.Equal(t, tc.branch, firstRoute)

			require.NoError(t, h.player.Replay())
			require.Eventually(t, func() bool {
				names := h.events.stateNames()
				return len(names) > 0 && names[len(names)-1] == domain.StateFinished &&
					countState(names, domain.StateFinished) == 2
			}, 2*time.Second, 2*time.Millisecond)

			names := h.events.stateNames()
			replayed := names[indexAfter(names, domain.StateFinished)]
			assert.Equal(t, tc.branch, replayed)
		})
	}
}

func countState(names []domain.PlaybackState, state domain.PlaybackState) int {
	n := 0
	for _, s := range names {
		if s == state {
			n++
		}
	}
	return n
}

func indexAfter(names []domain.PlaybackState, state domain.PlaybackState) int {
	for i, s := range names {
		if s == state {
			return i + 1
		}
	}
	return -1
}

func TestPlayerDiscardsCompletionTwoTokensBehind(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fastConfig())
	event, meta := photoReflection("p1", "caption")
	require.NoError(t, h.player.Select(event, meta))
	h.waitSpeech(t, 1)
	h.waitState(t, domain.StatePhotoNarrating)

	h.player.guard.Next()
	h.player.guard.Next()
	before := len(h.events.snapshotStates())
	queued := h.player.queue.Len()

	h.speech.call(0).done(nil)
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, domain.StatePhotoNarrating, h.player.State())
	assert.False(t, h.player.Context().HasSpoken)
	assert.Len(t, h.events.snapshotStates(), before)
	assert.Equal(t, queued, h.player.queue.Len())
}

func TestPlayerSpeechFallbackAdvances(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.CaptionSpeechCap = 60 * time.Millisecond
	h := newHarness(t, cfg)

	event, meta := photoReflection("p1", "never finishes")
	start := time.Now()
	require.NoError(t, h.player.Select(event, meta))
	h.waitState(t, domain.StatePhotoViewing)

	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPlayerVoiceClipPreferredOverSpeech(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fastConfig())
	h.video.duration = 10 * time.Second
	event, meta := videoReflection("v1")
	event.AudioURL = "voice-v1"
	h.audio.durations["voice-v1"] = 30 * time.Millisecond

	require.NoError(t, h.player.Select(event, meta))
	h.waitState(t, domain.StateVideoNarrating)
	require.Eventually(t, func() bool { return h.audio.lastSound() != nil }, time.Second, 2*time.Millisecond)

	// The clip never reports completion; duration plus buffer bounds it.
	h.waitState(t, domain.StateVideoPlaying)
	assert.Zero(t, h.speech.count())
	_, _, stop, _ := h.audio.lastSound().counts()
	assert.GreaterOrEqual(t, stop, 1, "narration clip released before video starts")
}

func TestPlayerAudioLoadRetriesOnceThenCompletes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fastConfig())
	event, meta := audioReflection("a1")
	h.audio.failures["a-a1"] = 5

	require.NoError(t, h.player.Select(event, meta))
	h.waitState(t, domain.StateFinished)

	assert.Equal(t, 2, h.audio.loadCount("a-a1"))
	failures := h.events.snapshotFailures()
	require.Len(t, failures, 1)
	assert.Equal(t, domain.MediaKindAudio, failures[0].Kind)
	assert.Equal(t, "a1", failures[0].EventID)
	assert.Equal(t, "a-a1", failures[0].URL)
}

func TestPlayerAudioLoadRecoversOnRetry(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fastConfig())
	event, meta := audioReflection("a1")
	h.audio.failures["a-a1"] = 1

	require.NoError(t, h.player.Select(event, meta))
	require.Eventually(t, func() bool { return h.audio.lastSound() != nil }, time.Second, 2*time.Millisecond)
	assert.Equal(t, domain.StateAudioPlaying, h.player.State())
	assert.Empty(t, h.events.snapshotFailures())

	h.audio.lastSound().finish()
	h.waitState(t, domain.StateFinished)
}

func TestPlayerVideoLoadFailureAdvances(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fastConfig())
	h.video.loadErr = errors.New("decode failure")
	event, meta := videoReflection("v1")

	require.NoError(t, h.player.SelectInstant(event, meta))
	h.waitState(t, domain.StateFinished)

	_, _, loaded := h.video.snapshot()
	assert.Len(t, loaded, 2)
	failures := h.events.snapshotFailures()
	require.Len(t, failures, 1)
	assert.Equal(t, domain.MediaKindVideo, failures[0].Kind)
}

func TestPlayerVideoNativeFinishFastPath(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fastConfig())
	event, meta := videoReflection("v1")
	require.NoError(t, h.player.SelectInstant(event, meta))
	h.waitState(t, domain.StateVideoPlaying)

	var fn func()
	require.Eventually(t, func() bool {
		h.video.mu.Lock()
		defer h.video.mu.Unlock()
		fn = h.video.onFinished
		return fn != nil
	}, time.Second, 2*time.Millisecond)
	fn()
	h.waitState(t, domain.StateFinished)
}

func TestPlayerInstantSelectionSkipsNarration(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fastConfig())
	event, meta := videoReflection("v1")
	require.NoError(t, h.player.SelectInstant(event, meta))

	h.waitState(t, domain.StateVideoPlaying)
	assert.Zero(t, h.speech.count())
	assert.True(t, h.player.Context().HasSpoken)

	p, pm := photoReflection("p1", "caption")
	require.NoError(t, h.player.SelectInstant(p, pm))
	h.waitState(t, domain.StatePhotoNarrating)
}

func TestPlayerPauseSuspendsTimers(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.AudioSelfieDelay = 80 * time.Millisecond
	h := newHarness(t, cfg)
	h.audio.durations["a-a1"] = 10 * time.Second

	event, meta := audioReflection("a1")
	require.NoError(t, h.player.Select(event, meta))
	h.waitState(t, domain.StateAudioPlaying)
	require.Eventually(t, func() bool {
		sound := h.audio.lastSound()
		if sound == nil {
			return false
		}
		play, _, _, _ := sound.counts()
		return play == 1
	}, time.Second, 2*time.Millisecond)

	require.NoError(t, h.player.Pause())
	h.waitState(t, domain.StateAudioPaused)
	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, h.selfies.snapshot(), "paused timers must not fire")
	_, pauses, _, _ := h.audio.lastSound().counts()
	assert.Equal(t, 1, pauses)

	require.NoError(t, h.player.Resume())
	h.waitState(t, domain.StateAudioPlaying)
	require.Eventually(t, func() bool { return len(h.selfies.snapshot()) == 1 },
		time.Second, 5*time.Millisecond)
	play, _, _, _ := h.audio.lastSound().counts()
	assert.Equal(t, 2, play, "resume replays the handle without reloading")
	assert.Equal(t, 1, h.audio.loadCount("a-a1"))
}

func TestPlayerPauseDuringSpokenNarrationIgnored(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fastConfig())
	event, meta := videoReflection("v1")
	require.NoError(t, h.player.Select(event, meta))
	h.waitSpeech(t, 1)

	require.NoError(t, h.player.Pause())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, domain.StateVideoNarrating, h.player.State())

	p, pm := photoReflection("p1", "caption")
	require.NoError(t, h.player.Select(p, pm))
	h.waitSpeech(t, 2)
	require.NoError(t, h.player.Pause())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, domain.StatePhotoNarrating, h.player.State())
}

func TestPlayerPauseVoiceClipNarration(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fastConfig())
	h.video.duration = 10 * time.Second
	event, meta := videoReflection("v1")
	event.AudioURL = "voice-v1"
	h.audio.durations["voice-v1"] = 80 * time.Millisecond

	require.NoError(t, h.player.Select(event, meta))
	h.waitState(t, domain.StateVideoNarrating)
	sound := h.waitClip(t, 1)

	require.NoError(t, h.player.Pause())
	h.waitState(t, domain.StateVideoNarratingPaused)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, domain.StateVideoNarratingPaused, h.player.State(), "paused clip bound must not fire")
	_, pauses, _, _ := sound.counts()
	assert.Equal(t, 1, pauses)
	_, plays, loaded := h.video.snapshot()
	assert.Zero(t, plays)
	assert.Empty(t, loaded, "video waits for the narration")

	require.NoError(t, h.player.Resume())
	h.waitState(t, domain.StateVideoPlaying)
	play, _, stop, _ := sound.counts()
	assert.Equal(t, 2, play, "resume replays the same clip")
	assert.GreaterOrEqual(t, stop, 1)
	assert.True(t, h.player.Context().HasSpoken)
	assert.Zero(t, h.speech.count())
	assert.Equal(t, []domain.PlaybackState{
		domain.StateLoading,
		domain.StateVideoNarrating,
		domain.StateVideoNarratingPaused,
		domain.StateVideoNarrating,
		domain.StateVideoPlaying,
	}, h.events.stateNames())
}

func TestPlayerVoiceClipFinishWhilePausedStartsVideo(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fastConfig())
	h.video.duration = 10 * time.Second
	event, meta := videoReflection("v1")
	event.AudioURL = "voice-v1"
	h.audio.durations["voice-v1"] = 10 * time.Second

	require.NoError(t, h.player.Select(event, meta))
	sound := h.waitClip(t, 1)

	require.NoError(t, h.player.Pause())
	sound.finish()
	require.NoError(t, h.player.Resume())

	h.waitState(t, domain.StateVideoPlaying)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, domain.StateVideoPlaying, h.player.State())
	assert.True(t, h.player.Context().HasSpoken)
	require.Eventually(t, func() bool {
		playing, _, _ := h.video.snapshot()
		return playing
	}, time.Second, 2*time.Millisecond, "video never started after the paused narration ended")
}

func TestPlayerAudioFinishWhilePausedCompletes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fastConfig())
	h.audio.durations["a-a1"] = 10 * time.Second
	event, meta := audioReflection("a1")

	require.NoError(t, h.player.Select(event, meta))
	h.waitState(t, domain.StateAudioPlaying)
	sound := h.waitClip(t, 1)

	require.NoError(t, h.player.Pause())
	sound.finish()
	require.NoError(t, h.player.Resume())

	h.waitState(t, domain.StateFinished)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, domain.StateFinished, h.player.State())
	assert.Equal(t, []domain.PlaybackState{
		domain.StateLoading,
		domain.StateAudioPlaying,
		domain.StateAudioPaused,
		domain.StateFinished,
	}, h.events.stateNames())
	_, _, stop, unload := sound.counts()
	assert.GreaterOrEqual(t, stop, 1)
	assert.GreaterOrEqual(t, unload, 1)
	require.Eventually(t, func() bool { return h.player.PendingTimers() == 0 },
		time.Second, 2*time.Millisecond)
}

func TestPlayerAudioClipBoundedByDuration(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fastConfig())
	h.audio.durations["a-a1"] = 40 * time.Millisecond
	event, meta := audioReflection("a1")

	require.NoError(t, h.player.Select(event, meta))
	h.waitClip(t, 1)
	loadedAt := time.Now()

	// The handle never reports completion; duration plus buffer bounds it.
	h.waitState(t, domain.StateFinished)
	assert.GreaterOrEqual(t, time.Since(loadedAt), 40*time.Millisecond)
	assert.Less(t, time.Since(loadedAt), time.Second, "default bound used instead of the clip duration")
	assert.Empty(t, h.events.snapshotFailures())
	assert.Equal(t, 1, h.audio.loadCount("a-a1"))
}

func finishPhoto(t *testing.T, h *harness, event domain.ReflectionEvent, meta domain.ReflectionMetadata) {
	t.Helper()
	require.NoError(t, h.player.Select(event, meta))
	h.waitSpeech(t, 1)
	h.speech.call(0).done(nil)
	h.waitState(t, domain.StateFinished)
}

func TestPlayerDeepDivePrefersRecordedAudio(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.PhotoSelfieDelay = 5 * time.Millisecond
	h := newHarness(t, cfg)
	event, meta := photoReflection("p1", "A photo")
	event.DeepDiveAudioURL = "dd-p1"
	meta.DeepDive = "Extended story..."
	h.audio.durations["dd-p1"] = 10 * time.Second
	finishPhoto(t, h, event, meta)

	require.NoError(t, h.player.TellMeMore())
	h.waitState(t, domain.StateDeepDivePlaying)
	sound := h.waitClip(t, 1)
	assert.Equal(t, "dd-p1", sound.url)
	assert.Equal(t, 1, h.speech.count(), "deep dive text is not spoken when the recording loads")

	require.NoError(t, h.player.Pause())
	h.waitState(t, domain.StateDeepDivePaused)
	sound.finish()
	require.NoError(t, h.player.Resume())

	h.waitState(t, domain.StateFinished)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, domain.StateFinished, h.player.State())
	assert.Equal(t, 1, h.speech.count())
}

func TestPlayerDeepDiveClipFailureSpeaksText(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.PhotoSelfieDelay = 5 * time.Millisecond
	h := newHarness(t, cfg)
	event, meta := photoReflection("p1", "A photo")
	event.DeepDiveAudioURL = "dd-p1"
	meta.DeepDive = "Extended story..."
	h.audio.failures["dd-p1"] = 5
	finishPhoto(t, h, event, meta)

	require.NoError(t, h.player.TellMeMore())
	h.waitSpeech(t, 2)
	assert.Equal(t, "Extended story...", h.speech.call(1).text)
	assert.Equal(t, 2, h.audio.loadCount("dd-p1"))

	failures := h.events.snapshotFailures()
	require.Len(t, failures, 1)
	assert.Equal(t, domain.MediaKindDeepDive, failures[0].Kind)
	assert.Equal(t, "dd-p1", failures[0].URL)

	h.speech.call(1).done(nil)
	h.waitState(t, domain.StateFinished)
}

func TestPlayerSlowVideoLoadNotCutShort(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.LoadTimeout = 100 * time.Millisecond
	cfg.RetryBackoff = 50 * time.Millisecond
	cfg.VideoStallTimeout = 40 * time.Millisecond
	h := newHarness(t, cfg)
	h.video.duration = 10 * time.Second
	h.video.loadFn = func(ctx context.Context, attempt int) error {
		if attempt == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		time.Sleep(60 * time.Millisecond)
		return nil
	}

	event, meta := videoReflection("v1")
	require.NoError(t, h.player.SelectInstant(event, meta))
	h.waitState(t, domain.StateVideoPlaying)

	require.Eventually(t, func() bool {
		playing, _, loaded := h.video.snapshot()
		return playing && len(loaded) == 2
	}, 2*time.Second, 2*time.Millisecond, "video never recovered on retry")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, domain.StateVideoPlaying, h.player.State())
	assert.Empty(t, h.events.snapshotFailures())
}

func TestConfigLoadBudgetCoversRetry(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	assert.Equal(t, 21500*time.Millisecond, cfg.loadBudget())

	cfg.LoadTimeout = 100 * time.Millisecond
	cfg.RetryBackoff = 50 * time.Millisecond
	assert.Equal(t, 250*time.Millisecond, cfg.loadBudget())
}

func TestPlayerPhotoSelfieShowsMirrorOnce(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.PhotoSelfieDelay = 5 * time.Millisecond
	h := newHarness(t, cfg)
	event, meta := photoReflection("p1", "A photo")
	finishPhoto(t, h, event, meta)

	require.Eventually(t, func() bool { return len(h.selfies.snapshot()) == 1 },
		time.Second, 2*time.Millisecond)
	require.Eventually(t, func() bool {
		mirror := h.events.snapshotMirror()
		return len(mirror) > 0 && !mirror[len(mirror)-1]
	}, time.Second, 2*time.Millisecond, "mirror never faded out")
	assert.Equal(t, []bool{true, false}, h.events.snapshotMirror())
}

func TestPlayerSelfieSkippedWhenPermissionDenied(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.PhotoSelfieDelay = 5 * time.Millisecond
	h := newHarness(t, cfg)
	h.camera.granted = false
	h.camera.grant = false
	h.speech.autoFinish = 5 * time.Millisecond

	event, meta := photoReflection("p1", "caption")
	require.NoError(t, h.player.Select(event, meta))
	h.waitState(t, domain.StateFinished)
	time.Sleep(30 * time.Millisecond)

	h.camera.mu.Lock()
	requests := h.camera.requests
	h.camera.mu.Unlock()
	assert.Equal(t, 1, requests)
	assert.Empty(t, h.selfies.snapshot())
	assert.Zero(t, h.events.flashCount())
}

func TestPlayerJournalsTransitions(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fastConfig())
	event, meta := photoReflection("p1", "caption")
	require.NoError(t, h.player.Select(event, meta))
	h.waitState(t, domain.StatePhotoNarrating)

	transitions := h.journal.snapshot()
	require.Len(t, transitions, 2)
	assert.Equal(t, domain.StateIdle, transitions[0].From)
	assert.Equal(t, domain.StateLoading, transitions[0].To)
	assert.Equal(t, domain.EventSelect, transitions[0].Trigger)
	assert.Equal(t, "sel-1", transitions[0].SelectionID)
	assert.Equal(t, "p1", transitions[1].EventID)
	assert.Equal(t, domain.StatePhotoNarrating, transitions[1].To)
	assert.Equal(t, domain.EventEnter, transitions[1].Trigger)
}

func TestPlayerSendRejectsInternalEvents(t *testing.T) {
	t.Parallel()

	h := newHarness(t, fastConfig())
	err := h.player.Send(domain.Event{Type: domain.EventNarrationFinished})
	assert.ErrorIs(t, err, ErrInternalEvent)
	err = h.player.Send(domain.Event{Type: domain.EventSelect})
	assert.ErrorIs(t, err, ErrMissingReflection)
}
