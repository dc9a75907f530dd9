package events

import (
	"sync"
	"time"
)

// Feed is a channel-based change feed for visualization and audit consumers.
// Subscriptions are per entity type, with SubscribeAll for cross-entity
// consumption.
type Feed struct {
	mu      sync.RWMutex
	subs    map[string][]chan Change // entity type -> subscriber channels
	allSubs []chan Change            // channels subscribed to every entity type
	closed  bool
}

// NewFeed creates a new change feed.
func NewFeed() *Feed {
	return &Feed{
		subs:    make(map[string][]chan Change),
		allSubs: make([]chan Change, 0),
	}
}

// Subscribe creates a subscription to changes of a specific entity type.
// Returns a read-only channel that receives those changes.
// bufSize determines the channel buffer size (defaults to 256 if <= 0).
func (f *Feed) Subscribe(entityType string, bufSize int) <-chan Change {
	if bufSize <= 0 {
		bufSize = 256
	}

	ch := make(chan Change, bufSize)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		close(ch)
		return ch
	}

	f.subs[entityType] = append(f.subs[entityType], ch)

	return ch
}

// SubscribeAll creates a subscription to changes of ALL entity types.
// bufSize determines the channel buffer size (defaults to 256 if <= 0).
func (f *Feed) SubscribeAll(bufSize int) <-chan Change {
	if bufSize <= 0 {
		bufSize = 256
	}

	ch := make(chan Change, bufSize)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		close(ch)
		return ch
	}

	f.allSubs = append(f.allSubs, ch)

	return ch
}

// Publish sends a change to all subscribers of its entity type and to all
// SubscribeAll channels. Non-blocking: if a subscriber's channel is full,
// the change is dropped for that subscriber. A zero Timestamp is stamped
// with the current time.
func (f *Feed) Publish(change Change) {
	if change.Timestamp.IsZero() {
		change.Timestamp = time.Now()
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return
	}

	for _, ch := range f.subs[change.EntityType] {
		select {
		case ch <- change:
		default:
			// Channel full, drop change (non-blocking)
		}
	}

	for _, ch := range f.allSubs {
		select {
		case ch <- change:
		default:
			// Channel full, drop change (non-blocking)
		}
	}
}

// Close closes the feed and all subscriber channels.
// Safe to call multiple times (idempotent).
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}

	f.closed = true

	for _, channels := range f.subs {
		for _, ch := range channels {
			close(ch)
		}
	}

	for _, ch := range f.allSubs {
		close(ch)
	}
}
