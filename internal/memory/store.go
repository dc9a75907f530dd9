// Package memory is advisory context passing between workers: a key/value
// store partitioned into a private namespace per worker and one shared
// namespace visible to everyone. It is not a system of record -- the goal
// graph and the lock manager are. Concurrent writers to the same shared key
// race and the last write wins.
package memory

import (
	"errors"
	"sync"
	"time"

	"github.com/falconhq/falcon/internal/events"
)

// SharedNamespace is the reserved namespace visible to every worker.
// Worker IDs are UUIDs, so the name cannot collide with a private namespace.
const SharedNamespace = "shared"

// ErrNotFound is returned when a key does not exist in the queried namespace.
var ErrNotFound = errors.New("memory entry not found")

// Entry is one stored value plus its bookkeeping metadata.
type Entry struct {
	Key       string
	Value     any
	Category  string
	UpdatedAt time.Time
}

// Store holds per-worker private entries and the shared namespace.
type Store struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]Entry // namespace (worker ID or shared) -> key -> entry
	feed       *events.Feed
	now        func() time.Time
}

// NewStore creates an empty memory store. feed may be nil.
func NewStore(feed *events.Feed) *Store {
	return &Store{
		namespaces: make(map[string]map[string]Entry),
		feed:       feed,
		now:        time.Now,
	}
}

// Put stores a value. With shared=false it lands in the caller's private
// namespace, visible only to reads issued under the same owner ID. With
// shared=true it lands in the shared namespace where any worker may read or
// overwrite it.
func (s *Store) Put(ownerID, key string, value any, shared bool) {
	s.PutCategory(ownerID, key, value, "", shared)
}

// PutCategory stores a value with a category tag, used by ContextByCategory.
func (s *Store) PutCategory(ownerID, key string, value any, category string, shared bool) {
	namespace := ownerID
	if shared {
		namespace = SharedNamespace
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.namespaces[namespace]
	if !ok {
		bucket = make(map[string]Entry)
		s.namespaces[namespace] = bucket
	}
	old, existed := bucket[key]
	bucket[key] = Entry{Key: key, Value: value, Category: category, UpdatedAt: s.now()}

	var oldValue any
	if existed {
		oldValue = old.Value
	}
	// Published under the write lock so the feed sees changes to a key in
	// the order they were applied.
	s.publish(namespace, key, oldValue, value, ownerID)
}

// Get retrieves a value from the caller's private namespace only.
// A private entry never leaks into shared reads and vice versa.
func (s *Store) Get(ownerID, key string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.namespaces[ownerID][key]
	if !ok {
		return nil, ErrNotFound
	}
	return entry.Value, nil
}

// GetShared retrieves a value from the shared namespace.
func (s *Store) GetShared(key string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.namespaces[SharedNamespace][key]
	if !ok {
		return nil, ErrNotFound
	}
	return entry.Value, nil
}

// Forget removes a private entry.
func (s *Store) Forget(ownerID, key string) error {
	return s.forget(ownerID, key, ownerID)
}

// ForgetShared removes a shared entry. Deliberately a separate call: shared
// deletion is an administrative action, so a worker's routine cleanup can
// never clobber someone else's shared context by accident.
func (s *Store) ForgetShared(key string, actorID string) error {
	return s.forget(SharedNamespace, key, actorID)
}

func (s *Store) forget(namespace, key, actorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.namespaces[namespace][key]
	if !ok {
		return ErrNotFound
	}
	delete(s.namespaces[namespace], key)
	s.publish(namespace, key, entry.Value, nil, actorID)
	return nil
}

// Context returns a snapshot of the caller's view: shared entries overlaid
// with the caller's private entries, private winning on key collision.
// With keys given, only those keys are included.
func (s *Store) Context(ownerID string, keys ...string) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := func(string) bool { return true }
	if len(keys) > 0 {
		set := make(map[string]bool, len(keys))
		for _, k := range keys {
			set[k] = true
		}
		wanted = func(k string) bool { return set[k] }
	}

	merged := make(map[string]any)
	for key, entry := range s.namespaces[SharedNamespace] {
		if wanted(key) {
			merged[key] = entry.Value
		}
	}
	for key, entry := range s.namespaces[ownerID] {
		if wanted(key) {
			merged[key] = entry.Value
		}
	}
	return merged
}

// ContextByCategory is Context restricted to entries tagged with category.
func (s *Store) ContextByCategory(ownerID, category string) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	merged := make(map[string]any)
	for key, entry := range s.namespaces[SharedNamespace] {
		if entry.Category == category {
			merged[key] = entry.Value
		}
	}
	for key, entry := range s.namespaces[ownerID] {
		if entry.Category == category {
			merged[key] = entry.Value
		}
	}
	return merged
}

// Entries returns all entries of a namespace, for persistence.
func (s *Store) Entries(namespace string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]Entry, 0, len(s.namespaces[namespace]))
	for _, entry := range s.namespaces[namespace] {
		entries = append(entries, entry)
	}
	return entries
}

// Namespaces returns every namespace that currently holds entries.
func (s *Store) Namespaces() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.namespaces))
	for name, bucket := range s.namespaces {
		if len(bucket) > 0 {
			names = append(names, name)
		}
	}
	return names
}

// Restore installs a persisted entry without emitting a change.
func (s *Store) Restore(namespace string, entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.namespaces[namespace]
	if !ok {
		bucket = make(map[string]Entry)
		s.namespaces[namespace] = bucket
	}
	bucket[entry.Key] = entry
}

func (s *Store) publish(namespace, key string, oldValue, newValue any, actorID string) {
	if s.feed == nil {
		return
	}
	s.feed.Publish(events.Change{
		EntityType: events.EntityMemory,
		EntityID:   namespace + "/" + key,
		Field:      events.FieldValue,
		OldValue:   oldValue,
		NewValue:   newValue,
		ActorID:    actorID,
	})
}
