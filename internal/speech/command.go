// Package speech adapts local and cloud speech engines to ports.SpeechSynthesizer.
package speech

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"lookingglass/internal/ports"
)

const stopGrace = 1200 * time.Millisecond

// CommandSynthesizer speaks through a local binary such as espeak-ng or say.
// One utterance runs at a time; Speak replaces the previous one.
type CommandSynthesizer struct {
	command string

	mu      sync.Mutex
	current *utterance
}

type utterance struct {
	process *os.Process
	waitErr chan error
	stopped bool
}

func NewCommandSynthesizer(command string) *CommandSynthesizer {
	if strings.TrimSpace(command) == "" {
		command = "espeak-ng"
	}
	return &CommandSynthesizer{command: command}
}

func (s *CommandSynthesizer) Speak(_ context.Context, text string, params ports.SpeechParams, done func(error)) error {
	if err := s.Stop(); err != nil {
		return err
	}

	cmd := exec.Command(s.command, commandArgs(s.command, text, params)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = stopGrace
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", s.command, err)
	}

	u := &utterance{process: cmd.Process, waitErr: make(chan error, 1)}
	s.mu.Lock()
	s.current = u
	s.mu.Unlock()

	go func() {
		err := cmd.Wait()
		u.waitErr <- err
		close(u.waitErr)

		s.mu.Lock()
		stopped := u.stopped
		if s.current == u {
			s.current = nil
		}
		s.mu.Unlock()

		if stopped || done == nil {
			return
		}
		if err != nil {
			done(fmt.Errorf("%s failed: %w: %s", s.command, err, strings.TrimSpace(stderr.String())))
			return
		}
		done(nil)
	}()
	return nil
}

// Stop interrupts the running utterance and kills it after a grace period.
func (s *CommandSynthesizer) Stop() error {
	s.mu.Lock()
	u := s.current
	s.current = nil
	if u != nil {
		u.stopped = true
	}
	s.mu.Unlock()

	if u == nil {
		return nil
	}

	_ = u.process.Signal(os.Interrupt)
	select {
	case <-u.waitErr:
	case <-time.After(stopGrace):
		_ = u.process.Kill()
		<-u.waitErr
	}
	return nil
}

// commandArgs maps speech params onto the flags of the known engines.
// Unknown commands receive the text as their only argument.
func commandArgs(command, text string, params ports.SpeechParams) []string {
	wpm := strconv.Itoa(int(175 * rateOrDefault(params.Rate)))
	switch strings.TrimSuffix(filepath.Base(command), filepath.Ext(command)) {
	case "espeak-ng", "espeak":
		args := []string{"-s", wpm, "-p", strconv.Itoa(espeakPitch(params.Pitch))}
		if voice := espeakVoice(params.Language); voice != "" {
			args = append(args, "-v", voice)
		}
		return append(args, "--", text)
	case "say":
		return []string{"-r", wpm, "--", text}
	default:
		return []string{text}
	}
}

func rateOrDefault(rate float64) float64 {
	if rate <= 0 {
		return 1
	}
	return rate
}

// espeakPitch maps the webview 0..2 pitch scale to espeak's 0..99.
func espeakPitch(pitch float64) int {
	if pitch <= 0 {
		pitch = 1
	}
	value := int(pitch * 50)
	if value > 99 {
		value = 99
	}
	return value
}

// espeakVoice turns a BCP 47 tag like en-US into espeak's en-us.
func espeakVoice(language string) string {
	return strings.ToLower(strings.TrimSpace(language))
}
