// Package locks arbitrates exclusive write access to shared artifacts.
// Locks protect writes only: any reader may inspect an artifact's content
// regardless of lock state, which is what lets reviewers look at in-progress
// work. A lock that is not explicitly released expires after a configured
// TTL so a crashed worker cannot deadlock the project.
package locks

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/falconhq/falcon/internal/events"
)

// DefaultTTL is how long a lock is honored without an explicit release.
// Reclamation is lazy: an expired lock is dropped on the next Acquire or
// IsLocked touching its path, and Sweep can reclaim proactively.
const DefaultTTL = 5 * time.Minute

var (
	// ErrAlreadyLocked is returned when another holder has a live lock on
	// the path. Expected and retryable; callers choose their own backoff.
	ErrAlreadyLocked = errors.New("artifact already locked")

	// ErrNotHolder is returned when a release is attempted by anyone other
	// than the current holder.
	ErrNotHolder = errors.New("caller does not hold the lock")
)

// Lock is the observable state of one held artifact lock.
type Lock struct {
	Path       string
	Holder     string
	AcquiredAt time.Time
}

// Config configures a Manager. Zero values get sensible defaults.
type Config struct {
	TTL          time.Duration    // Lock expiry, DefaultTTL if zero
	ArtifactRoot string           // Directory ReadThrough resolves paths against
	Feed         *events.Feed     // Optional change feed, nil disables emission
	Now          func() time.Time // Clock override for tests
}

// Manager provides per-path exclusive write locks with lazy TTL expiry.
type Manager struct {
	mu    sync.Mutex
	locks map[string]*Lock
	ttl   time.Duration
	root  string
	feed  *events.Feed
	now   func() time.Time
}

// NewManager creates a lock manager.
func NewManager(cfg Config) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Manager{
		locks: make(map[string]*Lock),
		ttl:   cfg.TTL,
		root:  cfg.ArtifactRoot,
		feed:  cfg.Feed,
		now:   cfg.Now,
	}
}

// Acquire takes the exclusive write lock on path for owner. It never blocks:
// if another holder has a live lock, it fails with ErrAlreadyLocked and the
// caller decides whether to poll, wait, or pick different work. An expired
// lock is treated as released. Re-acquiring a lock you already hold
// refreshes its acquisition time.
func (m *Manager) Acquire(path, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	prev := ""

	if lock, held := m.locks[path]; held {
		expired := now.Sub(lock.AcquiredAt) > m.ttl
		if !expired && lock.Holder != owner {
			return fmt.Errorf("%w: %s held by %s", ErrAlreadyLocked, path, lock.Holder)
		}
		prev = lock.Holder
	}

	m.locks[path] = &Lock{Path: path, Holder: owner, AcquiredAt: now}
	// A refresh keeps the same holder; only actual holder changes are
	// worth announcing.
	if prev != owner {
		m.publish(path, prev, owner, owner, now)
	}
	return nil
}

// Release drops the lock on path. Fails with ErrNotHolder unless owner is
// the current holder, so a worker can never release another worker's lock.
// Releasing an expired or unheld lock also reports ErrNotHolder.
func (m *Manager) Release(path, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, held := m.locks[path]
	if !held || m.expiredLocked(lock) || lock.Holder != owner {
		return fmt.Errorf("%w: %s", ErrNotHolder, path)
	}

	delete(m.locks, path)
	m.publish(path, owner, "", owner, m.now())
	return nil
}

// IsLocked reports whether path has a live lock, and by whom. Expired locks
// are reclaimed on the way through so the answer stays accurate without a
// background sweeper.
func (m *Manager) IsLocked(path string) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, held := m.locks[path]
	if !held {
		return false, ""
	}
	if m.expiredLocked(lock) {
		delete(m.locks, path)
		m.publish(path, lock.Holder, "", "", m.now())
		return false, ""
	}
	return true, lock.Holder
}

// ReadThrough returns the artifact's content regardless of lock state.
// Locking protects writes, never reads: reviewers inspect in-progress work
// through this call. The path is resolved under the configured artifact root.
func (m *Manager) ReadThrough(path, readerID string) ([]byte, error) {
	resolved, err := m.resolve(path)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading artifact %s for %s: %w", path, readerID, err)
	}
	return content, nil
}

// WriteArtifact writes content for path under the artifact root, creating
// parent directories as needed. The caller is expected to hold the lock;
// the manager does not re-check it here because lock discipline is enforced
// at the coordinator boundary.
func (m *Manager) WriteArtifact(path string, content []byte) error {
	resolved, err := m.resolve(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("creating artifact directory: %w", err)
	}
	if err := os.WriteFile(resolved, content, 0o644); err != nil {
		return fmt.Errorf("writing artifact %s: %w", path, err)
	}
	return nil
}

// Sweep proactively reclaims all expired locks and returns their paths in
// sorted order. Optional: correctness only requires lazy expiry.
func (m *Manager) Sweep() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var reclaimed []string
	for path, lock := range m.locks {
		if m.expiredLocked(lock) {
			delete(m.locks, path)
			m.publish(path, lock.Holder, "", "", m.now())
			reclaimed = append(reclaimed, path)
		}
	}
	sort.Strings(reclaimed)
	return reclaimed
}

// Snapshot returns all live (non-expired) locks, sorted by path.
// Used for persistence and state inspection.
func (m *Manager) Snapshot() []Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make([]Lock, 0, len(m.locks))
	for _, lock := range m.locks {
		if !m.expiredLocked(lock) {
			snapshot = append(snapshot, *lock)
		}
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].Path < snapshot[j].Path })
	return snapshot
}

// Restore installs a previously persisted lock without emitting a change.
// Expired entries are skipped by the persistence layer before this is called.
func (m *Manager) Restore(lock Lock) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := lock
	m.locks[lock.Path] = &cp
}

// expiredLocked reports whether a lock is past its TTL. Caller holds m.mu.
func (m *Manager) expiredLocked(lock *Lock) bool {
	return m.now().Sub(lock.AcquiredAt) > m.ttl
}

func (m *Manager) resolve(path string) (string, error) {
	cleaned := filepath.Clean(path)
	if filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("artifact path %q escapes the artifact root", path)
	}
	if m.root == "" {
		return cleaned, nil
	}
	return filepath.Join(m.root, cleaned), nil
}

func (m *Manager) publish(path, oldHolder, newHolder, actor string, ts time.Time) {
	if m.feed == nil {
		return
	}
	m.feed.Publish(events.Change{
		EntityType: events.EntityLock,
		EntityID:   path,
		Field:      events.FieldHolder,
		OldValue:   oldHolder,
		NewValue:   newHolder,
		Timestamp:  ts,
		ActorID:    actor,
	})
}
