package sim

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"lookingglass/internal/domain"
	"lookingglass/internal/usecase"
)

// Duration is a time.Duration written as "1.5s" in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Scenario is a scripted run of the playback machine against simulated devices.
// Every duration is written in real-world units and divided by TimeScale.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`

	// TimeScale speeds the run up. Defaults to 20.
	TimeScale float64 `yaml:"time_scale,omitempty"`
	Instant   bool    `yaml:"instant_video,omitempty"`
	LoopFeed  bool    `yaml:"loop_feed,omitempty"`

	Timings Timings            `yaml:"timings,omitempty"`
	Media   MediaSpec          `yaml:"media,omitempty"`
	Camera  CameraProfile      `yaml:"camera,omitempty"`
	Feed    []usecase.FeedItem `yaml:"feed"`
	Steps   []Step             `yaml:"steps"`
	Expect  Expect             `yaml:"expect,omitempty"`
}

// Timings overrides playback timings. Zero fields keep the production value.
type Timings struct {
	SettleDelay         Duration `yaml:"settle_delay,omitempty"`
	RetryBackoff        Duration `yaml:"retry_backoff,omitempty"`
	LoadTimeout         Duration `yaml:"load_timeout,omitempty"`
	VoiceClipDefault    Duration `yaml:"voice_clip_default,omitempty"`
	VoiceClipBuffer     Duration `yaml:"voice_clip_buffer,omitempty"`
	CaptionSpeechCap    Duration `yaml:"caption_speech_cap,omitempty"`
	AudioDefault        Duration `yaml:"audio_default,omitempty"`
	DeepDiveClipDefault Duration `yaml:"deep_dive_clip_default,omitempty"`
	DeepDiveClipBuffer  Duration `yaml:"deep_dive_clip_buffer,omitempty"`
	DeepDiveSpeechCap   Duration `yaml:"deep_dive_speech_cap,omitempty"`
	VideoSelfieDelay    Duration `yaml:"video_selfie_delay,omitempty"`
	AudioSelfieDelay    Duration `yaml:"audio_selfie_delay,omitempty"`
	PhotoSelfieDelay    Duration `yaml:"photo_selfie_delay,omitempty"`
	SelfieSnapDelay     Duration `yaml:"selfie_snap_delay,omitempty"`
	SelfieFadeOutDelay  Duration `yaml:"selfie_fade_out_delay,omitempty"`
	SyncInterval        Duration `yaml:"sync_interval,omitempty"`
	FinishEpsilon       Duration `yaml:"finish_epsilon,omitempty"`
	VideoStallTimeout   Duration `yaml:"video_stall_timeout,omitempty"`
}

// MediaSpec is the YAML form of Media.
type MediaSpec struct {
	SpeechPerWord Duration   `yaml:"speech_per_word,omitempty"`
	Clips         []ClipSpec `yaml:"clips,omitempty"`
}

type ClipSpec struct {
	URL       string   `yaml:"url"`
	Duration  Duration `yaml:"duration"`
	Failures  int      `yaml:"failures,omitempty"`
	Stall     bool     `yaml:"stall,omitempty"`
	NativeEnd bool     `yaml:"native_end,omitempty"`
}

// Step is one scripted action. Exactly one field other than Timeout is set.
type Step struct {
	Select  string   `yaml:"select,omitempty"`
	Instant bool     `yaml:"instant,omitempty"`
	Send    string   `yaml:"send,omitempty"`
	Feed    string   `yaml:"feed,omitempty"`
	WaitFor string   `yaml:"wait_for,omitempty"`
	Sleep   Duration `yaml:"sleep,omitempty"`
	Timeout Duration `yaml:"timeout,omitempty"`
}

// Expect is checked once every step has run.
type Expect struct {
	FinalState string   `yaml:"final_state,omitempty"`
	Selfies    *int     `yaml:"selfies,omitempty"`
	Failures   *int     `yaml:"failures,omitempty"`
	Spoken     []string `yaml:"spoken,omitempty"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes a scenario, rejecting unknown fields.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&sc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks structural rules the decoder cannot express.
func (sc *Scenario) Validate() error {
	var errs []error
	if strings.TrimSpace(sc.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if sc.TimeScale < 0 {
		errs = append(errs, errors.New("time_scale must be positive"))
	}
	if len(sc.Steps) == 0 {
		errs = append(errs, errors.New("at least one step is required"))
	}
	ids := make(map[string]bool, len(sc.Feed))
	for i, item := range sc.Feed {
		if item.Event.EventID == "" {
			errs = append(errs, fmt.Errorf("feed[%d]: event_id is required", i))
			continue
		}
		ids[item.Event.EventID] = true
	}
	for i, step := range sc.Steps {
		if err := step.validate(ids); err != nil {
			errs = append(errs, fmt.Errorf("steps[%d]: %w", i, err))
		}
	}
	if sc.Expect.FinalState != "" && !knownState(domain.PlaybackState(sc.Expect.FinalState)) {
		errs = append(errs, fmt.Errorf("expect.final_state: unknown state %q", sc.Expect.FinalState))
	}
	return errors.Join(errs...)
}

func (s Step) validate(feedIDs map[string]bool) error {
	set := 0
	if s.Select != "" {
		set++
		if !feedIDs[s.Select] {
			return fmt.Errorf("select: %q is not in the feed", s.Select)
		}
	}
	if s.Send != "" {
		set++
		if _, ok := sendable[domain.EventType(s.Send)]; !ok {
			return fmt.Errorf("send: unsupported event %q", s.Send)
		}
	}
	if s.Feed != "" {
		set++
		if s.Feed != "next" && s.Feed != "prev" {
			return fmt.Errorf("feed: want next or prev, got %q", s.Feed)
		}
	}
	if s.WaitFor != "" {
		set++
		if !knownState(domain.PlaybackState(s.WaitFor)) {
			return fmt.Errorf("wait_for: unknown state %q", s.WaitFor)
		}
	}
	if s.Sleep > 0 {
		set++
	}
	if set != 1 {
		return fmt.Errorf("exactly one of select, send, feed, wait_for or sleep is required (got %d)", set)
	}
	return nil
}

var sendable = map[domain.EventType]struct{}{
	domain.EventReplay:     {},
	domain.EventTellMeMore: {},
	domain.EventClose:      {},
	domain.EventPause:      {},
	domain.EventResume:     {},
}

func knownState(s domain.PlaybackState) bool {
	for _, known := range domain.AllStates() {
		if known == s {
			return true
		}
	}
	return false
}

func (sc *Scenario) scale() float64 {
	if sc.TimeScale <= 0 {
		return 20
	}
	return sc.TimeScale
}

func (sc *Scenario) shrink(d Duration) time.Duration {
	return time.Duration(float64(d) / sc.scale())
}

// playerConfig scales the production timings, then applies overrides.
func (sc *Scenario) playerConfig() usecase.Config {
	cfg := usecase.DefaultConfig()
	cfg.InstantVideoPlayback = sc.Instant

	fields := []struct {
		value    *time.Duration
		override Duration
	}{
		{&cfg.SettleDelay, sc.Timings.SettleDelay},
		{&cfg.RetryBackoff, sc.Timings.RetryBackoff},
		{&cfg.LoadTimeout, sc.Timings.LoadTimeout},
		{&cfg.VoiceClipDefault, sc.Timings.VoiceClipDefault},
		{&cfg.VoiceClipBuffer, sc.Timings.VoiceClipBuffer},
		{&cfg.CaptionSpeechCap, sc.Timings.CaptionSpeechCap},
		{&cfg.AudioDefault, sc.Timings.AudioDefault},
		{&cfg.DeepDiveClipDefault, sc.Timings.DeepDiveClipDefault},
		{&cfg.DeepDiveClipBuffer, sc.Timings.DeepDiveClipBuffer},
		{&cfg.DeepDiveSpeechCap, sc.Timings.DeepDiveSpeechCap},
		{&cfg.VideoSelfieDelay, sc.Timings.VideoSelfieDelay},
		{&cfg.AudioSelfieDelay, sc.Timings.AudioSelfieDelay},
		{&cfg.PhotoSelfieDelay, sc.Timings.PhotoSelfieDelay},
		{&cfg.SelfieSnapDelay, sc.Timings.SelfieSnapDelay},
		{&cfg.SelfieFadeOutDelay, sc.Timings.SelfieFadeOutDelay},
		{&cfg.SyncInterval, sc.Timings.SyncInterval},
		{&cfg.FinishEpsilon, sc.Timings.FinishEpsilon},
		{&cfg.VideoStallTimeout, sc.Timings.VideoStallTimeout},
	}
	for _, f := range fields {
		base := Duration(*f.value)
		if f.override > 0 {
			base = f.override
		}
		*f.value = sc.shrink(base)
	}
	return cfg
}

func (sc *Scenario) media() Media {
	m := Media{SpeechPerWord: sc.Media.SpeechPerWord.Std(), Clips: make(map[string]Clip, len(sc.Media.Clips))}
	for _, c := range sc.Media.Clips {
		m.Clips[c.URL] = Clip{Duration: c.Duration.Std(), Failures: c.Failures, Stall: c.Stall, NativeEnd: c.NativeEnd}
	}
	return m
}
