// Package sim runs the playback machine against simulated media devices.
package sim

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"lookingglass/internal/domain"
	"lookingglass/internal/ports"
)

var errSimulatedLoad = errors.New("simulated load failure")

// Media describes how the simulated devices behave for each URL.
type Media struct {
	// SpeechPerWord is how long synthesised speech takes per word.
	SpeechPerWord time.Duration
	Clips         map[string]Clip
}

// Clip is the simulated behaviour of one audio or video URL.
type Clip struct {
	Duration time.Duration
	// Failures is how many load attempts fail before one succeeds.
	Failures int
	// Stall keeps a video's position frozen once playing.
	Stall bool
	// NativeEnd reports the natural end through OnFinished.
	NativeEnd bool
}

// CameraProfile is the simulated permission state.
type CameraProfile struct {
	Granted        bool `yaml:"granted"`
	GrantOnRequest bool `yaml:"grant_on_request"`
}

// Devices bundles the simulated ports.
type Devices struct {
	Speech   *Speech
	Audio    *AudioLoader
	Video    *Video
	Camera   *Camera
	Selfies  *Selfies
	Recorder *Recorder
}

// NewDevices builds simulated devices. scale divides every media duration.
func NewDevices(media Media, camera CameraProfile, scale float64) *Devices {
	if scale <= 0 {
		scale = 1
	}
	shrink := func(d time.Duration) time.Duration { return time.Duration(float64(d) / scale) }
	clips := make(map[string]Clip, len(media.Clips))
	for url, clip := range media.Clips {
		clip.Duration = shrink(clip.Duration)
		clips[url] = clip
	}
	perWord := shrink(media.SpeechPerWord)
	if perWord <= 0 {
		perWord = shrink(300 * time.Millisecond)
	}

	cam := &Camera{Granted: camera.Granted, GrantOnRequest: camera.GrantOnRequest}
	return &Devices{
		Speech:   &Speech{perWord: perWord},
		Audio:    &AudioLoader{clips: clips, attempts: map[string]int{}},
		Video:    &Video{clips: clips, attempts: map[string]int{}},
		Camera:   cam,
		Selfies:  &Selfies{},
		Recorder: &Recorder{},
	}
}

// Speech finishes each utterance after a per-word delay.
type Speech struct {
	perWord time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	spoken  []string
	stopped int
}

func (s *Speech) Speak(_ context.Context, text string, _ ports.SpeechParams, done func(error)) error {
	words := len(strings.Fields(text))
	if words == 0 {
		words = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.spoken = append(s.spoken, text)
	s.timer = time.AfterFunc(time.Duration(words)*s.perWord, func() {
		if done != nil {
			done(nil)
		}
	})
	return nil
}

func (s *Speech) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.stopped++
	return nil
}

// Spoken returns every text passed to Speak.
func (s *Speech) Spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...)
}

// AudioLoader hands out simulated sounds.
type AudioLoader struct {
	mu       sync.Mutex
	clips    map[string]Clip
	attempts map[string]int
}

func (l *AudioLoader) Load(ctx context.Context, url string) (ports.SoundHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	clip, ok := l.clips[url]
	if !ok {
		return nil, fmt.Errorf("%w: unknown clip %s", errSimulatedLoad, url)
	}
	l.attempts[url]++
	if l.attempts[url] <= clip.Failures {
		return nil, fmt.Errorf("%w: %s attempt %d", errSimulatedLoad, url, l.attempts[url])
	}
	return &Sound{remaining: clip.Duration, duration: clip.Duration}, nil
}

// Sound plays for its duration and then reports the natural end.
type Sound struct {
	mu         sync.Mutex
	duration   time.Duration
	remaining  time.Duration
	started    time.Time
	timer      *time.Timer
	unloaded   bool
	onFinished func()
}

func (s *Sound) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unloaded {
		return errors.New("sound unloaded")
	}
	if s.timer != nil {
		return nil
	}
	s.started = time.Now()
	s.timer = time.AfterFunc(s.remaining, s.finish)
	return nil
}

func (s *Sound) finish() {
	s.mu.Lock()
	s.timer = nil
	s.remaining = 0
	fn := s.onFinished
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (s *Sound) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer == nil {
		return nil
	}
	if s.timer.Stop() {
		s.remaining -= time.Since(s.started)
		if s.remaining < 0 {
			s.remaining = 0
		}
	}
	s.timer = nil
	return nil
}

func (s *Sound) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.remaining = s.duration
	return nil
}

func (s *Sound) Unload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.unloaded = true
	s.onFinished = nil
	return nil
}

func (s *Sound) Duration() time.Duration { return s.duration }

func (s *Sound) OnFinished(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFinished = fn
}

// Video is a simulated video surface whose position follows wall time.
type Video struct {
	mu       sync.Mutex
	clips    map[string]Clip
	attempts map[string]int

	clip       Clip
	playing    bool
	base       time.Duration
	started    time.Time
	endTimer   *time.Timer
	onFinished func()
}

func (v *Video) Load(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	clip, ok := v.clips[url]
	if !ok {
		return fmt.Errorf("%w: unknown video %s", errSimulatedLoad, url)
	}
	v.attempts[url]++
	if v.attempts[url] <= clip.Failures {
		return fmt.Errorf("%w: %s attempt %d", errSimulatedLoad, url, v.attempts[url])
	}
	v.clip = clip
	v.base = 0
	v.playing = false
	return nil
}

func (v *Video) Play() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.playing || v.clip.Duration <= 0 {
		return nil
	}
	v.playing = true
	v.started = time.Now()
	if v.clip.NativeEnd && !v.clip.Stall {
		remaining := v.clip.Duration - v.base
		v.endTimer = time.AfterFunc(remaining, v.ended)
	}
	return nil
}

func (v *Video) ended() {
	v.mu.Lock()
	v.playing = false
	v.base = v.clip.Duration
	fn := v.onFinished
	v.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (v *Video) Pause() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.base = v.positionLocked()
	v.playing = false
	if v.endTimer != nil {
		v.endTimer.Stop()
		v.endTimer = nil
	}
	return nil
}

func (v *Video) Playing() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.playing && v.positionLocked() >= v.clip.Duration {
		return false
	}
	return v.playing
}

func (v *Video) Position() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.positionLocked()
}

func (v *Video) positionLocked() time.Duration {
	if !v.playing || v.clip.Stall {
		return v.base
	}
	pos := v.base + time.Since(v.started)
	if pos > v.clip.Duration {
		pos = v.clip.Duration
	}
	return pos
}

func (v *Video) SetPosition(pos time.Duration) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.base = pos
	v.started = time.Now()
	return nil
}

func (v *Video) Duration() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.clip.Duration
}

func (v *Video) OnFinished(fn func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onFinished = fn
}

// Camera simulates the permission prompt.
type Camera struct {
	mu             sync.Mutex
	Granted        bool
	GrantOnRequest bool
	requests       int
}

func (c *Camera) PermissionGranted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Granted
}

func (c *Camera) RequestPermission(context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests++
	if c.GrantOnRequest {
		c.Granted = true
	}
	return c.Granted, nil
}

// Selfies records captured selfies by event id.
type Selfies struct {
	mu    sync.Mutex
	shots []string
}

func (s *Selfies) CaptureSelfie(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shots = append(s.shots, eventID)
	return nil
}

// Shots returns the event ids captured so far.
func (s *Selfies) Shots() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.shots...)
}

// Recorder is an EventSink that keeps everything the UI would have seen.
type Recorder struct {
	mu       sync.Mutex
	states   []domain.PlaybackState
	flashes  int
	mirror   bool
	failures []domain.MediaFailure
	idle     []string
}

func (r *Recorder) PlaybackStateChanged(state domain.PlaybackState, _ domain.EventType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *Recorder) SelfieMirror(visible bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mirror = visible
}

func (r *Recorder) SelfieFlash() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flashes++
}

func (r *Recorder) MediaError(failure domain.MediaFailure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, failure)
}

func (r *Recorder) PlaybackIdle(eventID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.idle = append(r.idle, eventID)
}

// Failures returns reported media failures.
func (r *Recorder) Failures() []domain.MediaFailure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.MediaFailure(nil), r.failures...)
}

// Idle returns event ids reported idle, in order.
func (r *Recorder) Idle() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.idle...)
}

// MirrorVisible reports the last mirror state.
func (r *Recorder) MirrorVisible() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mirror
}
