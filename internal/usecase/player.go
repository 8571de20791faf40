package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"lookingglass/internal/domain"
	"lookingglass/internal/ports"
)

var (
	ErrQueueClosed       = errors.New("playback queue closed")
	ErrMissingReflection = errors.New("select requires a reflection event")
	ErrInternalEvent     = errors.New("internal events cannot be sent from outside the player")
)

// SelectionIDGenerator issues correlation ids for selections.
type SelectionIDGenerator interface {
	Generate() string
}

// Ports bundles the collaborators the player drives.
type Ports struct {
	Speech  ports.SpeechSynthesizer
	Audio   ports.AudioLoader
	Video   ports.VideoPlayer
	Camera  ports.Camera
	Selfies ports.SelfieCapturer
	Events  ports.EventSink
	Journal ports.Journal
	Text    ports.TextTransformer
	IDs     SelectionIDGenerator
	Tracer  trace.Tracer
}

// Config controls playback timing. Zero values take the defaults.
type Config struct {
	Logger               *slog.Logger
	Speech               ports.SpeechParams
	InstantVideoPlayback bool

	SettleDelay  time.Duration
	LoadTimeout  time.Duration
	RetryBackoff time.Duration

	VoiceClipDefault time.Duration
	VoiceClipBuffer  time.Duration
	CaptionSpeechCap time.Duration
	AudioDefault     time.Duration

	DeepDiveClipDefault time.Duration
	DeepDiveClipBuffer  time.Duration
	DeepDiveSpeechCap   time.Duration

	VideoSelfieDelay   time.Duration
	AudioSelfieDelay   time.Duration
	PhotoSelfieDelay   time.Duration
	SelfieSnapDelay    time.Duration
	SelfieFadeOutDelay time.Duration

	SyncInterval      time.Duration
	FinishEpsilon     time.Duration
	VideoStallTimeout time.Duration
}

// loadAttempts is how many times a media load is tried before it is reported.
const loadAttempts = 2

// loadBudget is the longest a retried load may take to settle either way.
func (c Config) loadBudget() time.Duration {
	return loadAttempts*c.LoadTimeout + (loadAttempts-1)*c.RetryBackoff
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		Speech:              ports.SpeechParams{Language: "en-US", Pitch: 1.0, Rate: 0.9},
		SettleDelay:         100 * time.Millisecond,
		LoadTimeout:         10 * time.Second,
		RetryBackoff:        1500 * time.Millisecond,
		VoiceClipDefault:    5 * time.Second,
		VoiceClipBuffer:     2500 * time.Millisecond,
		CaptionSpeechCap:    15 * time.Second,
		AudioDefault:        30 * time.Second,
		DeepDiveClipDefault: 15 * time.Second,
		DeepDiveClipBuffer:  5 * time.Second,
		DeepDiveSpeechCap:   60 * time.Second,
		VideoSelfieDelay:    5 * time.Second,
		AudioSelfieDelay:    1500 * time.Millisecond,
		PhotoSelfieDelay:    200 * time.Millisecond,
		SelfieFadeOutDelay:  500 * time.Millisecond,
		SyncInterval:        200 * time.Millisecond,
		FinishEpsilon:       200 * time.Millisecond,
		VideoStallTimeout:   8 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Speech.Language == "" {
		c.Speech.Language = d.Speech.Language
	}
	if c.Speech.Pitch <= 0 {
		c.Speech.Pitch = d.Speech.Pitch
	}
	if c.Speech.Rate <= 0 {
		c.Speech.Rate = d.Speech.Rate
	}
	durations := []struct {
		value *time.Duration
		def   time.Duration
	}{
		{&c.SettleDelay, d.SettleDelay},
		{&c.LoadTimeout, d.LoadTimeout},
		{&c.RetryBackoff, d.RetryBackoff},
		{&c.VoiceClipDefault, d.VoiceClipDefault},
		{&c.VoiceClipBuffer, d.VoiceClipBuffer},
		{&c.CaptionSpeechCap, d.CaptionSpeechCap},
		{&c.AudioDefault, d.AudioDefault},
		{&c.DeepDiveClipDefault, d.DeepDiveClipDefault},
		{&c.DeepDiveClipBuffer, d.DeepDiveClipBuffer},
		{&c.DeepDiveSpeechCap, d.DeepDiveSpeechCap},
		{&c.VideoSelfieDelay, d.VideoSelfieDelay},
		{&c.AudioSelfieDelay, d.AudioSelfieDelay},
		{&c.PhotoSelfieDelay, d.PhotoSelfieDelay},
		{&c.SelfieFadeOutDelay, d.SelfieFadeOutDelay},
		{&c.SyncInterval, d.SyncInterval},
		{&c.FinishEpsilon, d.FinishEpsilon},
		{&c.VideoStallTimeout, d.VideoStallTimeout},
	}
	for _, item := range durations {
		if *item.value <= 0 {
			*item.value = item.def
		}
	}
	if c.SelfieSnapDelay < 0 {
		c.SelfieSnapDelay = 0
	}
	return c
}

// Player is the reflection playback state machine.
//
// All transitions happen on the goroutine running Run. Public methods enqueue
// events and are safe from any goroutine; media callbacks and timers re-enter
// the machine only through the same queue.
type Player struct {
	speech  ports.SpeechSynthesizer
	audio   ports.AudioLoader
	video   ports.VideoPlayer
	camera  ports.Camera
	selfies ports.SelfieCapturer
	events  ports.EventSink
	journal ports.Journal
	text    ports.TextTransformer
	ids     SelectionIDGenerator
	tracer  trace.Tracer
	cfg     Config
	log     *slog.Logger

	guard  SessionGuard
	queue  *eventQueue
	timers *timerSet

	running atomic.Bool

	// Loop-owned.
	baseCtx     context.Context
	mediaCtx    context.Context
	mediaCancel context.CancelFunc
	session     *playbackSession
	hwSync      *hardwareSync

	snapMu sync.RWMutex
	state  domain.PlaybackState
	pctx   domain.PlaybackContext

	mediaMu       sync.Mutex
	voice         ports.SoundHandle
	mirrorVisible bool
}

// NewPlayer wires a player. Speech, Audio, Video and Events are required.
func NewPlayer(p Ports, cfg Config) *Player {
	cfg = cfg.withDefaults()
	if p.IDs == nil {
		p.IDs = UUIDv7Generator{}
	}
	if p.Tracer == nil {
		p.Tracer = otel.Tracer("lookingglass/usecase")
	}
	return &Player{
		speech:  p.Speech,
		audio:   p.Audio,
		video:   p.Video,
		camera:  p.Camera,
		selfies: p.Selfies,
		events:  p.Events,
		journal: p.Journal,
		text:    p.Text,
		ids:     p.IDs,
		tracer:  p.Tracer,
		cfg:     cfg,
		log:     cfg.Logger,
		queue:   newEventQueue(),
		timers:  newTimerSet(),
		state:   domain.StateIdle,
	}
}

// Run processes machine events until ctx is cancelled or Stop is called.
// It must be called from exactly one goroutine.
func (p *Player) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.New("player already running")
	}
	p.baseCtx = ctx
	p.mediaCtx, p.mediaCancel = context.WithCancel(ctx)
	p.log.Info("player starting")

	defer p.shutdown()

	for {
		if ev, ok := p.queue.TryDequeue(); ok {
			p.process(ev)
			continue
		}

		select {
		case <-ctx.Done():
			p.log.Info("player stopping: context cancelled")
			p.queue.Close()
			return ctx.Err()
		case <-p.queue.Wait():
			if p.queue.Closed() && p.queue.Len() == 0 {
				p.log.Info("player stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the event queue; Run returns once it is drained.
func (p *Player) Stop() {
	p.queue.Close()
}

// Send submits a UI event.
func (p *Player) Send(ev domain.Event) error {
	if ev.Type.Internal() || ev.Type == domain.EventEnter {
		return fmt.Errorf("%w: %s", ErrInternalEvent, ev.Type)
	}
	if ev.Type == domain.EventSelect && ev.Event == nil {
		return ErrMissingReflection
	}
	if !p.queue.Enqueue(ev) {
		return ErrQueueClosed
	}
	return nil
}

// Select opens a reflection, interrupting whatever is playing.
func (p *Player) Select(event domain.ReflectionEvent, metadata domain.ReflectionMetadata) error {
	return p.Send(domain.Event{Type: domain.EventSelect, Event: &event, Metadata: &metadata})
}

// SelectInstant opens a reflection; videos start without caption narration.
func (p *Player) SelectInstant(event domain.ReflectionEvent, metadata domain.ReflectionMetadata) error {
	return p.Send(domain.Event{Type: domain.EventSelect, Event: &event, Metadata: &metadata, Instant: true})
}

func (p *Player) Replay() error     { return p.Send(domain.Event{Type: domain.EventReplay}) }
func (p *Player) TellMeMore() error { return p.Send(domain.Event{Type: domain.EventTellMeMore}) }
func (p *Player) Close() error      { return p.Send(domain.Event{Type: domain.EventClose}) }
func (p *Player) Pause() error      { return p.Send(domain.Event{Type: domain.EventPause}) }
func (p *Player) Resume() error     { return p.Send(domain.Event{Type: domain.EventResume}) }

// State returns the current leaf state.
func (p *Player) State() domain.PlaybackState {
	p.snapMu.RLock()
	defer p.snapMu.RUnlock()
	return p.state
}

// Context returns a copy of the playback context.
func (p *Player) Context() domain.PlaybackContext {
	p.snapMu.RLock()
	defer p.snapMu.RUnlock()
	return p.pctx
}

// Status summarizes the player for the UI.
func (p *Player) Status() domain.Status {
	p.snapMu.RLock()
	defer p.snapMu.RUnlock()
	return domain.Status{
		State:         p.state,
		EventID:       p.pctx.EventID(),
		Active:        p.state != domain.StateIdle && p.state != domain.StateFinished,
		HasSpoken:     p.pctx.HasSpoken,
		VideoFinished: p.pctx.VideoFinished,
	}
}

// Token returns the live session token.
func (p *Player) Token() int64 {
	return p.guard.Current()
}

// PendingTimers returns the number of armed fallback and selfie timers.
func (p *Player) PendingTimers() int {
	return p.timers.Len()
}

func (p *Player) enqueue(ev domain.Event) {
	if !p.queue.Enqueue(ev) {
		p.log.Debug("dropping event after shutdown", "event", ev.Type)
	}
}

// emitIfCurrent re-injects an internal completion while its token is live.
func (p *Player) emitIfCurrent(token int64, typ domain.EventType) bool {
	if !p.guard.IsCurrent(token) {
		p.log.Debug("discarding stale completion", "event", typ, "token", token, "live", p.guard.Current())
		return false
	}
	p.enqueue(domain.Event{Type: typ, Token: token})
	return true
}

func (p *Player) process(ev domain.Event) {
	if ev.Type.Internal() && !p.guard.IsCurrent(ev.Token) {
		p.log.Debug("discarding stale event", "event", ev.Type, "token", ev.Token, "live", p.guard.Current())
		return
	}

	from := p.State()
	r, ok := lookupRule(from, ev.Type)
	if !ok {
		p.log.Debug("event ignored", "state", from, "event", ev.Type)
		return
	}
	if r.guard != "" && !p.checkGuard(r.guard) {
		p.log.Debug("event rejected by guard", "state", from, "event", ev.Type, "guard", r.guard)
		return
	}
	p.apply(from, r, ev)
}

func (p *Player) apply(from domain.PlaybackState, r rule, ev domain.Event) {
	if r.target == "" && !r.route {
		p.runActions(r.actions, ev)
		return
	}
	if !r.resume {
		p.runActions(exitActions[from], ev)
	}
	p.runActions(r.actions, ev)

	target := r.target
	if r.route {
		target = routeTarget(p.Context())
	}
	p.setState(from, target, ev.Type)
	if r.resume {
		return
	}
	p.runActions(entryActions[target], ev)

	if target == domain.StateLoading {
		if next, ok := lookupRule(target, domain.EventEnter); ok {
			p.apply(target, next, domain.Event{Type: domain.EventEnter, Token: ev.Token})
		}
	}
}

func (p *Player) setState(from, to domain.PlaybackState, trigger domain.EventType) {
	pctx := p.Context()
	p.log.Debug("transition", "from", from, "to", to, "event", trigger, "token", p.guard.Current())
	transition := domain.Transition{
		SelectionID: pctx.SelectionID,
		EventID:     pctx.EventID(),
		From:        from,
		To:          to,
		Trigger:     trigger,
		Token:       p.guard.Current(),
		At:          time.Now().UTC(),
	}
	p.session.recordTransition(transition)
	if p.journal != nil {
		if err := p.journal.Record(p.baseCtx, transition); err != nil {
			p.log.Warn("journal record failed", "error", err)
		}
	}
	p.events.PlaybackStateChanged(to, trigger)

	p.snapMu.Lock()
	p.state = to
	p.snapMu.Unlock()
}

func (p *Player) updateContext(fn func(*domain.PlaybackContext)) {
	p.snapMu.Lock()
	defer p.snapMu.Unlock()
	fn(&p.pctx)
}

func (p *Player) checkGuard(g guardName) bool {
	switch g {
	case guardLoaded:
		return p.Context().Event != nil
	case guardClipActive:
		p.mediaMu.Lock()
		defer p.mediaMu.Unlock()
		return p.voice != nil
	default:
		return false
	}
}

func (p *Player) runActions(actions []actionName, ev domain.Event) {
	for _, name := range actions {
		p.runAction(name, ev)
	}
}

func (p *Player) runAction(name actionName, ev domain.Event) {
	switch name {
	case actStopAllMedia:
		p.stopAllMedia(true)
	case actBeginSession:
		p.beginSession(ev)
	case actClearContext:
		p.endSession()
		p.updateContext(func(c *domain.PlaybackContext) { *c = domain.PlaybackContext{} })
	case actResetPlaythrough:
		p.updateContext(func(c *domain.PlaybackContext) {
			c.HasSpoken = false
			c.VideoFinished = false
			c.SelfieTaken = false
		})
	case actMarkSpoken:
		p.updateContext(func(c *domain.PlaybackContext) { c.HasSpoken = true })
	case actTriggerSelfie:
		p.triggerSelfie()
	case actPauseMedia:
		p.pauseMedia()
	case actResumeMedia:
		p.resumeMedia()
	case actSpeakCaption:
		p.speakCaption()
	case actPlayVideo:
		p.playVideo()
	case actPlayAudio:
		p.playAudio()
	case actPlayDeepDive:
		p.playDeepDive()
	case actShowSelfieBubble:
		p.showMirror()
	case actScheduleSelfie:
		p.scheduleSelfie()
	case actMarkFinished:
		p.markFinished()
	case actReleaseVoice:
		p.speechStop()
		p.releaseVoice()
	case actStopSync:
		p.stopSync()
	case actCancelTimers:
		p.timers.StopAll()
	default:
		p.log.Error("unknown action", "action", name)
	}
}

func (p *Player) beginSession(ev domain.Event) {
	previous := p.Context()
	p.endSession()
	if previous.Event != nil {
		p.events.PlaybackIdle(previous.Event.EventID)
	}

	event := *ev.Event
	metadata := domain.ReflectionMetadata{}
	if ev.Metadata != nil {
		metadata = *ev.Metadata
	}
	instant := (ev.Instant || p.cfg.InstantVideoPlayback) && event.HasVideo()
	fresh := domain.PlaybackContext{
		SelectionID: p.ids.Generate(),
		Event:       &event,
		Metadata:    &metadata,
		HasSpoken:   instant,
	}
	p.updateContext(func(c *domain.PlaybackContext) { *c = fresh })
	p.session = startPlaybackSession(p.baseCtx, p.tracer, fresh, classify(&event))
	p.log.Info("reflection selected",
		"selection", fresh.SelectionID,
		"event_id", event.EventID,
		"branch", classify(&event),
		"instant", instant,
	)
}

func (p *Player) endSession() {
	if p.session == nil {
		return
	}
	p.session.end()
	p.session = nil
}

func (p *Player) markFinished() {
	p.updateContext(func(c *domain.PlaybackContext) { c.VideoFinished = true })
	pctx := p.Context()
	if pctx.Event != nil && pctx.Event.HasVideo() {
		if err := p.video.Pause(); err != nil {
			p.log.Debug("video pause on finish failed", "error", err)
		}
		if err := p.video.SetPosition(0); err != nil {
			p.log.Debug("video rewind on finish failed", "error", err)
		}
	}
	p.events.PlaybackIdle(pctx.EventID())
}

func (p *Player) pauseMedia() {
	p.timers.PauseAll()
	p.mediaMu.Lock()
	voice := p.voice
	p.mediaMu.Unlock()
	if voice != nil {
		if err := voice.Pause(); err != nil {
			p.log.Debug("voice pause failed", "error", err)
		}
	}
	if p.State() == domain.StateVideoPlaying {
		if err := p.video.Pause(); err != nil {
			p.log.Debug("video pause failed", "error", err)
		}
	}
}

func (p *Player) resumeMedia() {
	p.mediaMu.Lock()
	voice := p.voice
	p.mediaMu.Unlock()
	if voice != nil {
		if err := voice.Play(); err != nil {
			p.log.Debug("voice resume failed", "error", err)
		}
	}
	p.timers.ResumeAll()
}

func (p *Player) shutdown() {
	p.stopAllMedia(false)
	p.endSession()
	if p.mediaCancel != nil {
		p.mediaCancel()
	}
}
