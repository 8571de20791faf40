package usecase

import (
	"errors"
	"fmt"
	"sync"

	"lookingglass/internal/domain"
)

var ErrFeedEmpty = errors.New("feed has no reflections")

// FeedItem is one reflection as listed by the gallery.
type FeedItem struct {
	Event    domain.ReflectionEvent    `json:"event" yaml:"event"`
	Metadata domain.ReflectionMetadata `json:"metadata" yaml:"metadata"`
}

// Selector opens a reflection.
type Selector interface {
	Select(event domain.ReflectionEvent, metadata domain.ReflectionMetadata) error
}

// Feed keeps the ordered reflection list behind swipe navigation.
type Feed struct {
	selector Selector
	loop     bool

	mu    sync.Mutex
	items []FeedItem
	index int
}

func NewFeed(selector Selector, loop bool) *Feed {
	return &Feed{selector: selector, loop: loop, index: -1}
}

// SetItems replaces the list, keeping the current reflection selected when it
// is still present.
func (f *Feed) SetItems(items []FeedItem) {
	f.mu.Lock()
	defer f.mu.Unlock()

	current := ""
	if f.index >= 0 && f.index < len(f.items) {
		current = f.items[f.index].Event.EventID
	}
	f.items = append([]FeedItem(nil), items...)
	f.index = -1
	for i, item := range f.items {
		if item.Event.EventID == current && current != "" {
			f.index = i
			break
		}
	}
}

// Current returns the selected item, if any.
func (f *Feed) Current() (FeedItem, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index < 0 || f.index >= len(f.items) {
		return FeedItem{}, false
	}
	return f.items[f.index], true
}

// SelectByID selects the reflection with eventID.
func (f *Feed) SelectByID(eventID string) (FeedItem, error) {
	f.mu.Lock()
	idx := -1
	for i, item := range f.items {
		if item.Event.EventID == eventID {
			idx = i
			break
		}
	}
	f.mu.Unlock()
	if idx < 0 {
		return FeedItem{}, fmt.Errorf("reflection %q not in feed", eventID)
	}
	return f.selectAt(idx)
}

// Next selects the following reflection. At the end it wraps when looping,
// otherwise it stays on the last one.
func (f *Feed) Next() (FeedItem, error) {
	return f.step(1)
}

// Prev selects the preceding reflection.
func (f *Feed) Prev() (FeedItem, error) {
	return f.step(-1)
}

func (f *Feed) step(delta int) (FeedItem, error) {
	f.mu.Lock()
	n := len(f.items)
	if n == 0 {
		f.mu.Unlock()
		return FeedItem{}, ErrFeedEmpty
	}
	idx := f.index + delta
	if f.index < 0 {
		idx = 0
		if delta < 0 {
			idx = n - 1
		}
	}
	switch {
	case idx >= n && f.loop:
		idx = 0
	case idx >= n:
		idx = n - 1
	case idx < 0 && f.loop:
		idx = n - 1
	case idx < 0:
		idx = 0
	}
	f.mu.Unlock()
	return f.selectAt(idx)
}

func (f *Feed) selectAt(idx int) (FeedItem, error) {
	f.mu.Lock()
	if idx < 0 || idx >= len(f.items) {
		f.mu.Unlock()
		return FeedItem{}, ErrFeedEmpty
	}
	item := f.items[idx]
	f.index = idx
	f.mu.Unlock()

	if err := f.selector.Select(item.Event, item.Metadata); err != nil {
		return FeedItem{}, err
	}
	return item, nil
}
