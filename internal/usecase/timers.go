package usecase

import (
	"sync"
	"time"
)

type timerID uint64

// timerSet owns every fallback and selfie timer of the current play-through.
//
// Timers can be suspended as a group while playback is paused; each keeps its
// remaining time and is re-armed on resume.
type timerSet struct {
	mu      sync.Mutex
	next    timerID
	paused  bool
	entries map[timerID]*timerEntry
}

type timerEntry struct {
	fn        func()
	timer     *time.Timer
	gen       uint64
	deadline  time.Time
	remaining time.Duration
}

func newTimerSet() *timerSet {
	return &timerSet{entries: make(map[timerID]*timerEntry)}
}

// After schedules fn once d has elapsed on the running clock.
func (s *timerSet) After(d time.Duration, fn func()) timerID {
	if d < 0 {
		d = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	id := s.next
	entry := &timerEntry{fn: fn, remaining: d}
	s.entries[id] = entry
	if !s.paused {
		s.arm(id, entry, d)
	}
	return id
}

// Stop cancels a pending timer. Unknown ids are ignored.
func (s *timerSet) Stop(id timerID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(s.entries, id)
}

// StopAll cancels every pending timer and clears the paused flag.
func (s *timerSet) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, entry := range s.entries {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(s.entries, id)
	}
	s.paused = false
}

// PauseAll suspends every pending timer, preserving its remaining time.
func (s *timerSet) PauseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.paused {
		return
	}
	s.paused = true
	now := time.Now()
	for _, entry := range s.entries {
		if entry.timer == nil {
			continue
		}
		entry.timer.Stop()
		entry.timer = nil
		entry.gen++
		entry.remaining = entry.deadline.Sub(now)
		if entry.remaining < 0 {
			entry.remaining = 0
		}
	}
}

// ResumeAll re-arms suspended timers with their remaining time.
func (s *timerSet) ResumeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.paused {
		return
	}
	s.paused = false
	for id, entry := range s.entries {
		s.arm(id, entry, entry.remaining)
	}
}

// Len returns the number of timers that have neither fired nor been stopped.
func (s *timerSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *timerSet) arm(id timerID, entry *timerEntry, d time.Duration) {
	gen := entry.gen
	entry.deadline = time.Now().Add(d)
	entry.timer = time.AfterFunc(d, func() { s.fire(id, gen) })
}

func (s *timerSet) fire(id timerID, gen uint64) {
	s.mu.Lock()
	entry, ok := s.entries[id]
	if !ok || entry.gen != gen || entry.timer == nil {
		s.mu.Unlock()
		return
	}
	delete(s.entries, id)
	s.mu.Unlock()

	entry.fn()
}
