package sim

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"lookingglass/internal/domain"
	"lookingglass/internal/ports"
	"lookingglass/internal/usecase"
)

const defaultStepTimeout = 5 * time.Second

// Options tunes a run.
type Options struct {
	Logger *slog.Logger
	// Journal also receives every transition, e.g. the SQLite journal.
	Journal ports.Journal
	Text    ports.TextTransformer
	// StepTimeout bounds each wait_for step in wall-clock time.
	StepTimeout time.Duration
}

// Result is what a run observed.
type Result struct {
	Name        string
	Transitions []domain.Transition
	Final       domain.PlaybackState
	Spoken      []string
	Selfies     []string
	Failures    []domain.MediaFailure
	Idle        []string
	Violations  []string
}

// Passed reports whether every step and expectation held.
func (r *Result) Passed() bool { return len(r.Violations) == 0 }

// Run plays sc against fresh simulated devices.
func Run(ctx context.Context, sc *Scenario, opts Options) (*Result, error) {
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario %q: %w", sc.Name, err)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = defaultStepTimeout
	}

	devices := NewDevices(sc.media(), sc.Camera, sc.scale())
	trace := &traceJournal{next: opts.Journal}

	cfg := sc.playerConfig()
	cfg.Logger = opts.Logger.With("scenario", sc.Name)
	player := usecase.NewPlayer(usecase.Ports{
		Speech:  devices.Speech,
		Audio:   devices.Audio,
		Video:   devices.Video,
		Camera:  devices.Camera,
		Selfies: devices.Selfies,
		Events:  devices.Recorder,
		Journal: trace,
		Text:    opts.Text,
	}, cfg)

	sel := &selector{player: player}
	feed := usecase.NewFeed(sel, sc.LoopFeed)
	feed.SetItems(sc.Feed)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = player.Run(runCtx)
	}()

	result := &Result{Name: sc.Name}
	for i, step := range sc.Steps {
		if err := runStep(runCtx, sc, step, player, feed, sel, opts.StepTimeout); err != nil {
			result.Violations = append(result.Violations, fmt.Sprintf("step %d: %v", i+1, err))
			break
		}
	}

	result.Final = player.State()
	cancel()
	<-done

	result.Transitions = trace.snapshot()
	result.Spoken = devices.Speech.Spoken()
	result.Selfies = devices.Selfies.Shots()
	result.Failures = devices.Recorder.Failures()
	result.Idle = devices.Recorder.Idle()
	result.Violations = append(result.Violations, sc.Expect.check(result)...)
	return result, nil
}

func runStep(ctx context.Context, sc *Scenario, step Step, player *usecase.Player, feed *usecase.Feed, sel *selector, timeout time.Duration) error {
	switch {
	case step.Select != "":
		sel.instant = step.Instant
		defer func() { sel.instant = false }()
		_, err := feed.SelectByID(step.Select)
		return err
	case step.Send != "":
		return player.Send(domain.Event{Type: domain.EventType(step.Send)})
	case step.Feed == "next":
		_, err := feed.Next()
		return err
	case step.Feed == "prev":
		_, err := feed.Prev()
		return err
	case step.WaitFor != "":
		if step.Timeout > 0 {
			timeout = step.Timeout.Std()
		}
		return waitForState(ctx, player, domain.PlaybackState(step.WaitFor), timeout)
	case step.Sleep > 0:
		select {
		case <-time.After(sc.shrink(step.Sleep)):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		return fmt.Errorf("empty step")
	}
}

func waitForState(ctx context.Context, player *usecase.Player, want domain.PlaybackState, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		if player.State() == want {
			return nil
		}
		select {
		case <-ticker.C:
		case <-deadline.C:
			return fmt.Errorf("timed out after %s waiting for %s (at %s)", timeout, want, player.State())
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// selector routes feed selections to the player, instant when asked.
type selector struct {
	player  *usecase.Player
	instant bool
}

func (s *selector) Select(event domain.ReflectionEvent, metadata domain.ReflectionMetadata) error {
	if s.instant {
		return s.player.SelectInstant(event, metadata)
	}
	return s.player.Select(event, metadata)
}

type traceJournal struct {
	next ports.Journal

	mu          sync.Mutex
	transitions []domain.Transition
}

func (j *traceJournal) Record(ctx context.Context, t domain.Transition) error {
	j.mu.Lock()
	j.transitions = append(j.transitions, t)
	j.mu.Unlock()
	if j.next != nil {
		return j.next.Record(ctx, t)
	}
	return nil
}

func (j *traceJournal) snapshot() []domain.Transition {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]domain.Transition(nil), j.transitions...)
}

func (e Expect) check(r *Result) []string {
	var out []string
	if e.FinalState != "" && string(r.Final) != e.FinalState {
		out = append(out, fmt.Sprintf("final state %s, want %s", r.Final, e.FinalState))
	}
	if e.Selfies != nil && len(r.Selfies) != *e.Selfies {
		out = append(out, fmt.Sprintf("%d selfies, want %d", len(r.Selfies), *e.Selfies))
	}
	if e.Failures != nil && len(r.Failures) != *e.Failures {
		out = append(out, fmt.Sprintf("%d media failures, want %d", len(r.Failures), *e.Failures))
	}
	if len(e.Spoken) > 0 && strings.Join(e.Spoken, "\n") != strings.Join(r.Spoken, "\n") {
		out = append(out, fmt.Sprintf("spoken %q, want %q", r.Spoken, e.Spoken))
	}
	return out
}

// WriteTrace renders r as stable text.
func (r *Result) WriteTrace(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", r.Name)
	b.WriteString("transitions:\n")
	for _, t := range r.Transitions {
		fmt.Fprintf(&b, "  %s -> %s (%s)\n", t.From, t.To, t.Trigger)
	}
	fmt.Fprintf(&b, "final: %s\n", r.Final)
	b.WriteString("spoken:\n")
	for _, text := range r.Spoken {
		fmt.Fprintf(&b, "  %q\n", text)
	}
	fmt.Fprintf(&b, "selfies: %s\n", listOrNone(r.Selfies))
	failures := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		failures = append(failures, fmt.Sprintf("%s/%s %s", f.Code, f.Kind, f.URL))
	}
	fmt.Fprintf(&b, "failures: %s\n", listOrNone(failures))
	fmt.Fprintf(&b, "idle: %s\n", listOrNone(r.Idle))
	if r.Passed() {
		b.WriteString("result: pass\n")
	} else {
		b.WriteString("result: fail\n")
		for _, v := range r.Violations {
			fmt.Fprintf(&b, "  %s\n", v)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
