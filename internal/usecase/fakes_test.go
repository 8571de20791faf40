package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lookingglass/internal/domain"
	"lookingglass/internal/ports"
)

func fastConfig() Config {
	return Config{
		SettleDelay:         2 * time.Millisecond,
		LoadTimeout:         200 * time.Millisecond,
		RetryBackoff:        20 * time.Millisecond,
		VoiceClipDefault:    2 * time.Second,
		VoiceClipBuffer:     20 * time.Millisecond,
		CaptionSpeechCap:    5 * time.Second,
		AudioDefault:        5 * time.Second,
		DeepDiveClipDefault: 5 * time.Second,
		DeepDiveClipBuffer:  20 * time.Millisecond,
		DeepDiveSpeechCap:   5 * time.Second,
		VideoSelfieDelay:    5 * time.Second,
		AudioSelfieDelay:    5 * time.Second,
		PhotoSelfieDelay:    5 * time.Second,
		SelfieFadeOutDelay:  10 * time.Millisecond,
		SyncInterval:        5 * time.Millisecond,
		FinishEpsilon:       200 * time.Millisecond,
		VideoStallTimeout:   5 * time.Second,
	}
}

type harness struct {
	player  *Player
	speech  *fakeSpeech
	audio   *fakeAudioLoader
	video   *fakeVideo
	camera  *fakeCamera
	selfies *fakeSelfies
	events  *fakeEventSink
	journal *fakeJournal
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	h := &harness{
		speech:  &fakeSpeech{},
		audio:   newFakeAudioLoader(),
		video:   &fakeVideo{},
		camera:  &fakeCamera{granted: true},
		selfies: &fakeSelfies{},
		events:  &fakeEventSink{},
		journal: &fakeJournal{},
	}
	h.player = NewPlayer(Ports{
		Speech:  h.speech,
		Audio:   h.audio,
		Video:   h.video,
		Camera:  h.camera,
		Selfies: h.selfies,
		Events:  h.events,
		Journal: h.journal,
		IDs:     NewFixedGenerator("sel-1", "sel-2", "sel-3", "sel-4", "sel-5", "sel-6"),
	}, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.player.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) waitState(t *testing.T, state domain.PlaybackState) {
	t.Helper()
	require.Eventually(t, func() bool { return h.player.State() == state },
		2*time.Second, 2*time.Millisecond, "never reached %s (at %s)", state, h.player.State())
}

func (h *harness) waitSpeech(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.speech.count() >= n },
		2*time.Second, 2*time.Millisecond, "expected %d speak calls", n)
}

// waitClip waits until the newest loaded sound has been played n times.
func (h *harness) waitClip(t *testing.T, n int) *fakeSound {
	t.Helper()
	require.Eventually(t, func() bool {
		sound := h.audio.lastSound()
		if sound == nil {
			return false
		}
		play, _, _, _ := sound.counts()
		return play >= n
	}, 2*time.Second, 2*time.Millisecond, "clip never played %d times", n)
	return h.audio.lastSound()
}

type speakCall struct {
	text string
	done func(error)
}

type fakeSpeech struct {
	mu        sync.Mutex
	calls     []speakCall
	stopCalls int
	// autoFinish completes each utterance after the given delay when non-zero.
	autoFinish time.Duration
	speakErr   error
}

func (f *fakeSpeech) Speak(_ context.Context, text string, _ ports.SpeechParams, done func(error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.speakErr != nil {
		return f.speakErr
	}
	f.calls = append(f.calls, speakCall{text: text, done: done})
	if f.autoFinish > 0 {
		time.AfterFunc(f.autoFinish, func() { done(nil) })
	}
	return nil
}

func (f *fakeSpeech) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return nil
}

func (f *fakeSpeech) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSpeech) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

func (f *fakeSpeech) call(i int) speakCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

func (f *fakeSpeech) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.text)
	}
	return out
}

type fakeSound struct {
	url      string
	duration time.Duration

	mu          sync.Mutex
	onFinished  func()
	playCalls   int
	pauseCalls  int
	stopCalls   int
	unloadCalls int
}

func (s *fakeSound) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playCalls++
	return nil
}

func (s *fakeSound) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauseCalls++
	return nil
}

func (s *fakeSound) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCalls++
	return nil
}

func (s *fakeSound) Unload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unloadCalls++
	return errors.New("already unloaded")
}

func (s *fakeSound) Duration() time.Duration { return s.duration }

func (s *fakeSound) OnFinished(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFinished = fn
}

func (s *fakeSound) finish() {
	s.mu.Lock()
	fn := s.onFinished
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (s *fakeSound) counts() (play, pause, stop, unload int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playCalls, s.pauseCalls, s.stopCalls, s.unloadCalls
}

type fakeAudioLoader struct {
	mu        sync.Mutex
	durations map[string]time.Duration
	failures  map[string]int
	loads     []string
	sounds    []*fakeSound
}

func newFakeAudioLoader() *fakeAudioLoader {
	return &fakeAudioLoader{durations: map[string]time.Duration{}, failures: map[string]int{}}
}

func (f *fakeAudioLoader) Load(_ context.Context, url string) (ports.SoundHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, url)
	if f.failures[url] > 0 {
		f.failures[url]--
		return nil, errors.New("expired url")
	}
	sound := &fakeSound{url: url, duration: f.durations[url]}
	f.sounds = append(f.sounds, sound)
	return sound, nil
}

func (f *fakeAudioLoader) loadCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, u := range f.loads {
		if u == url {
			n++
		}
	}
	return n
}

func (f *fakeAudioLoader) lastSound() *fakeSound {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sounds) == 0 {
		return nil
	}
	return f.sounds[len(f.sounds)-1]
}

type fakeVideo struct {
	mu      sync.Mutex
	loaded  []string
	loadErr error
	// loadFn replaces the canned loadErr when set; attempt counts from 1.
	loadFn     func(ctx context.Context, attempt int) error
	playing    bool
	playCalls  int
	position   time.Duration
	duration   time.Duration
	seeks      []time.Duration
	onFinished func()
}

func (v *fakeVideo) Load(ctx context.Context, url string) error {
	v.mu.Lock()
	v.loaded = append(v.loaded, url)
	attempt, fn, err := len(v.loaded), v.loadFn, v.loadErr
	v.mu.Unlock()
	if fn != nil {
		return fn(ctx, attempt)
	}
	return err
}

func (v *fakeVideo) Play() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.playing = true
	v.playCalls++
	return nil
}

func (v *fakeVideo) Pause() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.playing = false
	return nil
}

func (v *fakeVideo) Playing() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.playing
}

func (v *fakeVideo) Position() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.playing {
		v.position += time.Millisecond
	}
	return v.position
}

func (v *fakeVideo) SetPosition(pos time.Duration) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.position = pos
	v.seeks = append(v.seeks, pos)
	return nil
}

func (v *fakeVideo) Duration() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.duration
}

func (v *fakeVideo) OnFinished(fn func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onFinished = fn
}

func (v *fakeVideo) jumpTo(pos time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.position = pos
}

func (v *fakeVideo) snapshot() (playing bool, plays int, loaded []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.playing, v.playCalls, append([]string(nil), v.loaded...)
}

type fakeCamera struct {
	mu       sync.Mutex
	granted  bool
	grant    bool
	requests int
}

func (c *fakeCamera) PermissionGranted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.granted
}

func (c *fakeCamera) RequestPermission(context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests++
	c.granted = c.grant
	return c.grant, nil
}

type selfieShot struct {
	eventID string
	at      time.Time
}

type fakeSelfies struct {
	mu    sync.Mutex
	shots []selfieShot
}

func (s *fakeSelfies) CaptureSelfie(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shots = append(s.shots, selfieShot{eventID: eventID, at: time.Now()})
	return nil
}

func (s *fakeSelfies) snapshot() []selfieShot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]selfieShot(nil), s.shots...)
}

type stateEvent struct {
	state   domain.PlaybackState
	trigger domain.EventType
	at      time.Time
}

type fakeEventSink struct {
	mu       sync.Mutex
	states   []stateEvent
	mirror   []bool
	flashes  int
	failures []domain.MediaFailure
	idles    []string
}

func (f *fakeEventSink) PlaybackStateChanged(state domain.PlaybackState, trigger domain.EventType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{state: state, trigger: trigger, at: time.Now()})
}

func (f *fakeEventSink) SelfieMirror(visible bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mirror = append(f.mirror, visible)
}

func (f *fakeEventSink) SelfieFlash() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flashes++
}

func (f *fakeEventSink) MediaError(failure domain.MediaFailure) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, failure)
}

func (f *fakeEventSink) PlaybackIdle(eventID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idles = append(f.idles, eventID)
}

func (f *fakeEventSink) snapshotStates() []stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]stateEvent(nil), f.states...)
}

func (f *fakeEventSink) stateNames() []domain.PlaybackState {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.PlaybackState, 0, len(f.states))
	for _, s := range f.states {
		out = append(out, s.state)
	}
	return out
}

func (f *fakeEventSink) enteredAt(state domain.PlaybackState) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.states) - 1; i >= 0; i-- {
		if f.states[i].state == state {
			return f.states[i].at, true
		}
	}
	return time.Time{}, false
}

func (f *fakeEventSink) snapshotMirror() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.mirror...)
}

func (f *fakeEventSink) snapshotFailures() []domain.MediaFailure {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.MediaFailure(nil), f.failures...)
}

func (f *fakeEventSink) flashCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flashes
}

func (f *fakeEventSink) snapshotIdles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.idles...)
}

type fakeJournal struct {
	mu          sync.Mutex
	transitions []domain.Transition
}

func (j *fakeJournal) Record(_ context.Context, t domain.Transition) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.transitions = append(j.transitions, t)
	return nil
}

func (j *fakeJournal) snapshot() []domain.Transition {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]domain.Transition(nil), j.transitions...)
}
