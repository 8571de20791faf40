package bridge

import (
	"context"
	"errors"

	"lookingglass/internal/ports"
)

var errSpeechFailed = errors.New("speech synthesis failed")

// Speak asks the webview's speechSynthesis to voice text. done runs when the
// frontend reports SpeechEnded for this utterance.
func (b *Bridge) Speak(_ context.Context, text string, params ports.SpeechParams, done func(error)) error {
	id := b.newID("speech")
	if done != nil {
		b.mu.Lock()
		b.speechDone[id] = done
		b.mu.Unlock()
	}
	err := b.send(EventSpeak, map[string]any{
		"id":    id,
		"text":  text,
		"lang":  params.Language,
		"pitch": params.Pitch,
		"rate":  params.Rate,
	})
	if err != nil {
		b.mu.Lock()
		delete(b.speechDone, id)
		b.mu.Unlock()
		return err
	}
	return nil
}

// Stop cancels every utterance. Pending done callbacks are dropped.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	clear(b.speechDone)
	b.mu.Unlock()
	return b.send(EventSpeechStop, map[string]any{})
}

// SpeechEnded reports that utterance id ended. A non-empty detail marks failure.
func (b *Bridge) SpeechEnded(id string, detail string) {
	b.mu.Lock()
	done, ok := b.speechDone[id]
	delete(b.speechDone, id)
	b.mu.Unlock()
	if !ok {
		return
	}
	if detail != "" {
		done(errors.Join(errSpeechFailed, errors.New(detail)))
		return
	}
	done(nil)
}
