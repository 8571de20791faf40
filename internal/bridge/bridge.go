// Package bridge drives the webview's media elements over Wails events.
//
// Commands go out as named events. Requests that need an answer carry an id;
// the frontend answers through the reply methods, which the App binds.
package bridge

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Outbound event names.
const (
	EventSpeak        = "lookingglass:speech:speak"
	EventSpeechStop   = "lookingglass:speech:stop"
	EventAudioLoad    = "lookingglass:audio:load"
	EventAudioPlay    = "lookingglass:audio:play"
	EventAudioPause   = "lookingglass:audio:pause"
	EventAudioStop    = "lookingglass:audio:stop"
	EventAudioUnload  = "lookingglass:audio:unload"
	EventVideoLoad    = "lookingglass:video:load"
	EventVideoPlay    = "lookingglass:video:play"
	EventVideoPause   = "lookingglass:video:pause"
	EventVideoSeek    = "lookingglass:video:seek"
	EventCameraAccess = "lookingglass:camera:request"
	EventSelfieTake   = "lookingglass:selfie:capture"
)

// ErrNotInitialized is returned before the webview is bound.
var ErrNotInitialized = errors.New("bridge is not initialized")

// Emitter publishes one event to the frontend.
type Emitter func(name string, payload map[string]any)

// Reply is the frontend's answer to a request.
type Reply struct {
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"durationMs"`
	Granted    bool   `json:"granted"`
}

func (r Reply) err() error {
	if r.Error == "" {
		return nil
	}
	return errors.New(r.Error)
}

// Bridge implements the media ports on top of the webview.
type Bridge struct {
	mu      sync.Mutex
	emit    Emitter
	nextID  atomic.Uint64
	pending map[string]chan Reply

	speechDone    map[string]func(error)
	soundFinished map[string]func()

	video  videoState
	camera atomic.Bool
}

// New returns an unbound bridge. Calls fail with ErrNotInitialized until Bind.
func New() *Bridge {
	return &Bridge{
		pending:       make(map[string]chan Reply),
		speechDone:    make(map[string]func(error)),
		soundFinished: make(map[string]func()),
	}
}

// Bind attaches the emitter once the webview runtime is up.
func (b *Bridge) Bind(emit Emitter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.emit = emit
}

func (b *Bridge) newID(prefix string) string {
	return prefix + "-" + strconv.FormatUint(b.nextID.Add(1), 10)
}

func (b *Bridge) send(name string, payload map[string]any) error {
	b.mu.Lock()
	emit := b.emit
	b.mu.Unlock()
	if emit == nil {
		return ErrNotInitialized
	}
	emit(name, payload)
	return nil
}

// call emits a request and waits for its reply or ctx. The returned id
// addresses the request on the frontend.
func (b *Bridge) call(ctx context.Context, name, prefix string, payload map[string]any) (string, Reply, error) {
	id := b.newID(prefix)
	replies := make(chan Reply, 1)

	b.mu.Lock()
	emit := b.emit
	if emit == nil {
		b.mu.Unlock()
		return id, Reply{}, ErrNotInitialized
	}
	b.pending[id] = replies
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	if payload == nil {
		payload = map[string]any{}
	}
	payload["id"] = id
	emit(name, payload)

	select {
	case reply := <-replies:
		return id, reply, nil
	case <-ctx.Done():
		return id, Reply{}, ctx.Err()
	}
}

// Resolve delivers the frontend's reply for request id. Unknown ids are
// ignored; they belong to requests that already timed out.
func (b *Bridge) Resolve(id string, reply Reply) bool {
	b.mu.Lock()
	replies, ok := b.pending[id]
	b.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case replies <- reply:
		return true
	default:
		return false
	}
}

func durationFromMS(ms int64) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
