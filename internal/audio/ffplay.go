package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"lookingglass/internal/ports"
)

const stopGrace = 1200 * time.Millisecond

var errUnloaded = errors.New("sound already unloaded")

// FFPlayLoader plays clips through an ffplay subprocess and reads their
// duration with ffprobe.
type FFPlayLoader struct {
	player string
	probe  string
}

func NewFFPlayLoader(player, probe string) *FFPlayLoader {
	if player == "" {
		player = "ffplay"
	}
	if probe == "" {
		probe = "ffprobe"
	}
	return &FFPlayLoader{player: player, probe: probe}
}

// Load probes url. A clip that ffprobe cannot open is a load failure.
func (l *FFPlayLoader) Load(ctx context.Context, url string) (ports.SoundHandle, error) {
	duration, err := l.probeDuration(ctx, url)
	if err != nil {
		return nil, err
	}
	return &ffplaySound{command: l.player, url: url, duration: duration}, nil
}

func (l *FFPlayLoader) probeDuration(ctx context.Context, url string) (time.Duration, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		url,
	}
	cmd := exec.CommandContext(ctx, l.probe, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe %q failed: %w: %s", url, err, strings.TrimSpace(stderr.String()))
	}
	return parseProbeDuration(stdout.String()), nil
}

// parseProbeDuration reads ffprobe's seconds value. Streams without a known
// length report "N/A", which maps to zero.
func parseProbeDuration(output string) time.Duration {
	seconds, err := strconv.ParseFloat(strings.TrimSpace(output), 64)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

type ffplaySound struct {
	command  string
	url      string
	duration time.Duration

	mu         sync.Mutex
	process    *os.Process
	waitErr    <-chan error
	stderr     *bytes.Buffer
	paused     bool
	stopped    bool
	unloaded   bool
	onFinished func()
}

func (s *ffplaySound) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unloaded {
		return errUnloaded
	}
	if s.process != nil {
		if s.paused {
			if err := resumeProcess(s.process); err != nil {
				return fmt.Errorf("resume ffplay: %w", err)
			}
			s.paused = false
		}
		return nil
	}

	cmd := exec.Command(s.command, "-nodisp", "-autoexit", "-hide_banner", "-loglevel", "warning", s.url)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = stopGrace
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffplay: %w", err)
	}

	waitErr := make(chan error, 1)
	s.process = cmd.Process
	s.waitErr = waitErr
	s.stderr = &stderr
	s.stopped = false

	go func() {
		err := cmd.Wait()
		waitErr <- err
		close(waitErr)

		s.mu.Lock()
		finished := !s.stopped
		fn := s.onFinished
		s.mu.Unlock()
		if finished && fn != nil {
			fn()
		}
	}()
	return nil
}

func (s *ffplaySound) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.process == nil || s.paused {
		return nil
	}
	if err := suspendProcess(s.process); err != nil {
		return fmt.Errorf("pause ffplay: %w", err)
	}
	s.paused = true
	return nil
}

// Stop interrupts ffplay and kills it if it has not exited within the grace period.
func (s *ffplaySound) Stop() error {
	s.mu.Lock()
	process := s.process
	waitErr := s.waitErr
	stderr := s.stderr
	paused := s.paused
	s.stopped = true
	s.process = nil
	s.paused = false
	s.mu.Unlock()

	if process == nil {
		return nil
	}
	if paused {
		_ = resumeProcess(process)
	}
	_ = process.Signal(os.Interrupt)

	var stopErr error
	select {
	case err, ok := <-waitErr:
		if ok {
			stopErr = normalizeStopErr(err)
		}
	case <-time.After(stopGrace):
		_ = process.Kill()
		err, ok := <-waitErr
		if ok {
			stopErr = normalizeStopErr(err)
		}
	}

	if stopErr != nil && stderr != nil && stderr.Len() > 0 {
		stopErr = fmt.Errorf("%w: %s", stopErr, strings.TrimSpace(stderr.String()))
	}
	return stopErr
}

func (s *ffplaySound) Unload() error {
	s.mu.Lock()
	if s.unloaded {
		s.mu.Unlock()
		return nil
	}
	s.unloaded = true
	s.onFinished = nil
	s.mu.Unlock()
	return s.Stop()
}

func (s *ffplaySound) Duration() time.Duration { return s.duration }

func (s *ffplaySound) OnFinished(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFinished = fn
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
