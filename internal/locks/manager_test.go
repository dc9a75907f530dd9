package locks

import (
	"errors"
	"testing"
	"time"

	"github.com/falconhq/falcon/internal/events"
)

// fakeClock lets tests control lock expiry deterministically.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestManager(ttl time.Duration) (*Manager, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	return NewManager(Config{TTL: ttl, Now: clock.Now}), clock
}

func TestAcquireConflict(t *testing.T) {
	mgr, clock := newTestManager(30 * time.Second)

	if err := mgr.Acquire("app.py", "W1"); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	// W2 at t=10s: lock is live, must fail.
	clock.Advance(10 * time.Second)
	if err := mgr.Acquire("app.py", "W2"); !errors.Is(err, ErrAlreadyLocked) {
		t.Fatalf("acquire by W2 at t=10s: error = %v, want ErrAlreadyLocked", err)
	}

	// W2 at t=31s: W1's lock has expired, must succeed.
	clock.Advance(21 * time.Second)
	if err := mgr.Acquire("app.py", "W2"); err != nil {
		t.Fatalf("acquire by W2 at t=31s failed: %v", err)
	}

	locked, holder := mgr.IsLocked("app.py")
	if !locked || holder != "W2" {
		t.Errorf("IsLocked = (%v, %q), want (true, W2)", locked, holder)
	}
}

func TestAcquireSameHolderRefreshes(t *testing.T) {
	mgr, clock := newTestManager(30 * time.Second)

	mgr.Acquire("app.py", "W1")
	clock.Advance(20 * time.Second)

	// Re-acquire by the holder resets the expiry window.
	if err := mgr.Acquire("app.py", "W1"); err != nil {
		t.Fatalf("re-acquire failed: %v", err)
	}

	clock.Advance(20 * time.Second) // 40s after first acquire, 20s after refresh
	if err := mgr.Acquire("app.py", "W2"); !errors.Is(err, ErrAlreadyLocked) {
		t.Errorf("refreshed lock should still be live: error = %v", err)
	}
}

func TestRelease(t *testing.T) {
	t.Run("non-holder cannot release", func(t *testing.T) {
		mgr, _ := newTestManager(time.Minute)
		mgr.Acquire("app.py", "A")

		if err := mgr.Release("app.py", "B"); !errors.Is(err, ErrNotHolder) {
			t.Errorf("release by B: error = %v, want ErrNotHolder", err)
		}

		locked, holder := mgr.IsLocked("app.py")
		if !locked || holder != "A" {
			t.Errorf("lock should be untouched, got (%v, %q)", locked, holder)
		}
	})

	t.Run("holder releases then path is free", func(t *testing.T) {
		mgr, _ := newTestManager(time.Minute)
		mgr.Acquire("app.py", "A")

		if err := mgr.Release("app.py", "A"); err != nil {
			t.Fatalf("release failed: %v", err)
		}
		if locked, _ := mgr.IsLocked("app.py"); locked {
			t.Error("path should be unlocked after release")
		}
		if err := mgr.Acquire("app.py", "B"); err != nil {
			t.Errorf("acquire after release failed: %v", err)
		}
	})

	t.Run("releasing unheld path fails", func(t *testing.T) {
		mgr, _ := newTestManager(time.Minute)
		if err := mgr.Release("never-locked.py", "A"); !errors.Is(err, ErrNotHolder) {
			t.Errorf("error = %v, want ErrNotHolder", err)
		}
	})

	t.Run("releasing an expired lock fails", func(t *testing.T) {
		mgr, clock := newTestManager(30 * time.Second)
		mgr.Acquire("app.py", "A")
		clock.Advance(31 * time.Second)

		if err := mgr.Release("app.py", "A"); !errors.Is(err, ErrNotHolder) {
			t.Errorf("error = %v, want ErrNotHolder", err)
		}
	})
}

func TestIsLockedReclaimsExpired(t *testing.T) {
	mgr, clock := newTestManager(30 * time.Second)
	mgr.Acquire("app.py", "A")

	clock.Advance(31 * time.Second)
	if locked, holder := mgr.IsLocked("app.py"); locked || holder != "" {
		t.Errorf("IsLocked on expired lock = (%v, %q), want (false, \"\")", locked, holder)
	}

	if got := len(mgr.Snapshot()); got != 0 {
		t.Errorf("expired lock should be reclaimed, snapshot has %d entries", got)
	}
}

func TestSweep(t *testing.T) {
	mgr, clock := newTestManager(30 * time.Second)
	mgr.Acquire("old.py", "A")
	clock.Advance(20 * time.Second)
	mgr.Acquire("fresh.py", "B")
	clock.Advance(15 * time.Second) // old.py at 35s, fresh.py at 15s

	reclaimed := mgr.Sweep()
	if len(reclaimed) != 1 || reclaimed[0] != "old.py" {
		t.Fatalf("Sweep() = %v, want [old.py]", reclaimed)
	}

	snapshot := mgr.Snapshot()
	if len(snapshot) != 1 || snapshot[0].Path != "fresh.py" {
		t.Errorf("snapshot = %+v, want only fresh.py", snapshot)
	}
}

func TestReadThrough(t *testing.T) {
	root := t.TempDir()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	mgr := NewManager(Config{TTL: time.Minute, ArtifactRoot: root, Now: clock.Now})

	if err := mgr.WriteArtifact("src/app.py", []byte("print('hi')")); err != nil {
		t.Fatalf("WriteArtifact failed: %v", err)
	}

	// Reads succeed regardless of lock state: reviewer reads W1's locked file.
	mgr.Acquire("src/app.py", "W1")
	content, err := mgr.ReadThrough("src/app.py", "reviewer-1")
	if err != nil {
		t.Fatalf("ReadThrough failed: %v", err)
	}
	if string(content) != "print('hi')" {
		t.Errorf("content = %q", content)
	}

	t.Run("escaping paths rejected", func(t *testing.T) {
		if _, err := mgr.ReadThrough("../outside.txt", "r"); err == nil {
			t.Error("expected error for path escaping the artifact root")
		}
		if _, err := mgr.ReadThrough("/etc/passwd", "r"); err == nil {
			t.Error("expected error for absolute path")
		}
	})
}

func TestLockChangeFeed(t *testing.T) {
	feed := events.NewFeed()
	defer feed.Close()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	mgr := NewManager(Config{TTL: time.Minute, Feed: feed, Now: clock.Now})

	ch := feed.Subscribe(events.EntityLock, 16)

	mgr.Acquire("app.py", "W1")
	mgr.Release("app.py", "W1")

	first := <-ch
	if first.NewValue != "W1" || first.OldValue != "" {
		t.Errorf("acquire change = %v -> %v, want \"\" -> W1", first.OldValue, first.NewValue)
	}
	second := <-ch
	if second.NewValue != "" || second.OldValue != "W1" {
		t.Errorf("release change = %v -> %v, want W1 -> \"\"", second.OldValue, second.NewValue)
	}
}

func TestRefreshDoesNotPublish(t *testing.T) {
	feed := events.NewFeed()
	defer feed.Close()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	mgr := NewManager(Config{TTL: time.Minute, Feed: feed, Now: clock.Now})

	ch := feed.Subscribe(events.EntityLock, 16)

	mgr.Acquire("app.py", "W1")
	clock.Advance(10 * time.Second)
	if err := mgr.Acquire("app.py", "W1"); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	mgr.Release("app.py", "W1")

	// The holder only ever changed twice: nobody -> W1 -> nobody. The
	// refresh in between extends the TTL without touching the feed.
	first := <-ch
	if first.OldValue != "" || first.NewValue != "W1" {
		t.Errorf("first change = %v -> %v, want \"\" -> W1", first.OldValue, first.NewValue)
	}
	second := <-ch
	if second.OldValue != "W1" || second.NewValue != "" {
		t.Errorf("second change = %v -> %v, want W1 -> \"\"", second.OldValue, second.NewValue)
	}
	select {
	case change := <-ch:
		t.Fatalf("unexpected extra change %+v", change)
	default:
	}
}

func TestRestoreSkipsFeed(t *testing.T) {
	feed := events.NewFeed()
	defer feed.Close()
	mgr := NewManager(Config{TTL: time.Minute, Feed: feed})
	ch := feed.Subscribe(events.EntityLock, 4)

	mgr.Restore(Lock{Path: "app.py", Holder: "W1", AcquiredAt: time.Now()})

	select {
	case change := <-ch:
		t.Fatalf("Restore should not publish, got %+v", change)
	case <-time.After(50 * time.Millisecond):
	}

	if locked, holder := mgr.IsLocked("app.py"); !locked || holder != "W1" {
		t.Errorf("restored lock = (%v, %q), want (true, W1)", locked, holder)
	}
}
