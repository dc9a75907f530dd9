package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/falconhq/falcon/internal/graph"
	"github.com/falconhq/falcon/internal/locks"
	"github.com/falconhq/falcon/internal/memory"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGraphRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	g := graph.New()
	seed := []*graph.Task{
		{
			ID:        "api",
			Name:      "API design",
			Priority:  graph.PriorityHigh,
			Status:    graph.StatusCompleted,
			Owner:     "worker-1",
			CreatedAt: base,
			Messages: []graph.Message{
				{Sender: "worker-1", Timestamp: base.Add(time.Minute), Text: "submitted"},
				{Sender: "reviewer-1", Timestamp: base.Add(2 * time.Minute), Text: "approved"},
			},
		},
		{
			ID:          "impl",
			Name:        "Implementation",
			Description: "Build it",
			Priority:    graph.PriorityMedium,
			DependsOn:   []string{"api"},
			Status:      graph.StatusInProgress,
			Owner:       "worker-2",
			CreatedAt:   base.Add(time.Second),
		},
		{
			ID:        "docs",
			Name:      "Docs",
			Priority:  graph.PriorityLow,
			DependsOn: []string{"api", "impl"},
			CreatedAt: base.Add(2 * time.Second),
		},
	}
	for _, task := range seed {
		if err := g.AddTask(task); err != nil {
			t.Fatalf("AddTask(%s): %v", task.ID, err)
		}
	}

	if err := store.SaveGraph(ctx, g); err != nil {
		t.Fatalf("SaveGraph: %v", err)
	}
	loaded, err := store.LoadGraph(ctx)
	if err != nil {
		t.Fatalf("LoadGraph: %v", err)
	}

	for _, want := range seed {
		got, ok := loaded.Get(want.ID)
		if !ok {
			t.Fatalf("task %s missing after round trip", want.ID)
		}
		if got.Name != want.Name || got.Description != want.Description {
			t.Errorf("task %s: got (%q, %q), want (%q, %q)", want.ID, got.Name, got.Description, want.Name, want.Description)
		}
		if got.Priority != want.Priority {
			t.Errorf("task %s priority = %s, want %s", want.ID, got.Priority, want.Priority)
		}
		if got.Status != want.Status {
			t.Errorf("task %s status = %s, want %s", want.ID, got.Status, want.Status)
		}
		if got.Owner != want.Owner {
			t.Errorf("task %s owner = %q, want %q", want.ID, got.Owner, want.Owner)
		}
		if len(got.DependsOn) != len(want.DependsOn) {
			t.Errorf("task %s deps = %v, want %v", want.ID, got.DependsOn, want.DependsOn)
		}
		if !got.CreatedAt.Equal(want.CreatedAt) {
			t.Errorf("task %s created_at = %v, want %v", want.ID, got.CreatedAt, want.CreatedAt)
		}
		if len(got.Messages) != len(want.Messages) {
			t.Fatalf("task %s has %d messages, want %d", want.ID, len(got.Messages), len(want.Messages))
		}
		for i, msg := range want.Messages {
			if got.Messages[i].Sender != msg.Sender || got.Messages[i].Text != msg.Text {
				t.Errorf("task %s message %d = %+v, want %+v", want.ID, i, got.Messages[i], msg)
			}
			if !got.Messages[i].Timestamp.Equal(msg.Timestamp) {
				t.Errorf("task %s message %d timestamp = %v, want %v", want.ID, i, got.Messages[i].Timestamp, msg.Timestamp)
			}
		}
	}

	// The rebuilt graph must behave like the original, not just look like it.
	if _, err := loaded.Validate(); err != nil {
		t.Fatalf("Validate after load: %v", err)
	}
	runnable := loaded.Runnable()
	if len(runnable) != 0 {
		t.Errorf("runnable after load = %v, want none (impl in progress, docs waiting)", runnable)
	}
}

func TestSaveGraphReplacesPreviousSnapshot(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	g := graph.New()
	if err := g.AddTask(&graph.Task{ID: "t1", Name: "One"}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if err := store.SaveGraph(ctx, g); err != nil {
		t.Fatalf("first SaveGraph: %v", err)
	}

	if _, err := g.Transition("t1", graph.StatusInProgress, "worker-1", ""); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if err := store.SaveGraph(ctx, g); err != nil {
		t.Fatalf("second SaveGraph: %v", err)
	}

	loaded, err := store.LoadGraph(ctx)
	if err != nil {
		t.Fatalf("LoadGraph: %v", err)
	}
	task, _ := loaded.Get("t1")
	if task.Status != graph.StatusInProgress {
		t.Errorf("status = %s, want %s", task.Status, graph.StatusInProgress)
	}
	if len(loaded.Tasks()) != 1 {
		t.Errorf("task count = %d, want 1", len(loaded.Tasks()))
	}
}

func TestSaveGraphSnapshotOnSecondConnection(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	g := graph.New()
	if err := g.AddTask(&graph.Task{ID: "api", Name: "API"}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if err := g.AddTask(&graph.Task{
		ID:        "impl",
		Name:      "Implementation",
		DependsOn: []string{"api"},
		Messages:  []graph.Message{{Sender: "worker-1", Timestamp: time.Now(), Text: "started"}},
	}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if err := store.SaveGraph(ctx, g); err != nil {
		t.Fatalf("first SaveGraph: %v", err)
	}

	// Check out one pooled connection so the second save is forced onto a
	// different connection than the one that served the first. The
	// snapshot must still fully replace child rows there.
	conn, err := store.db.Conn(ctx)
	if err != nil {
		t.Fatalf("pin connection: %v", err)
	}

	if err := store.SaveGraph(ctx, g); err != nil {
		t.Fatalf("second SaveGraph: %v", err)
	}
	conn.Close()

	loaded, err := store.LoadGraph(ctx)
	if err != nil {
		t.Fatalf("LoadGraph: %v", err)
	}
	task, ok := loaded.Get("impl")
	if !ok {
		t.Fatal("impl missing after re-save")
	}
	if len(task.DependsOn) != 1 {
		t.Errorf("deps = %v, want exactly [api]", task.DependsOn)
	}
	if len(task.Messages) != 1 {
		t.Errorf("messages = %d, want exactly 1 (stale rows survived the re-save)", len(task.Messages))
	}
}

func TestLocksRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	mgr := locks.NewManager(locks.Config{TTL: time.Hour})
	if err := mgr.Acquire("db/schema.sql", "worker-1"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := mgr.Acquire("api/routes.go", "worker-2"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if err := store.SaveLocks(ctx, mgr.Snapshot()); err != nil {
		t.Fatalf("SaveLocks: %v", err)
	}
	loaded, err := store.LoadLocks(ctx)
	if err != nil {
		t.Fatalf("LoadLocks: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d locks, want 2", len(loaded))
	}

	restored := locks.NewManager(locks.Config{TTL: time.Hour})
	for _, lock := range loaded {
		restored.Restore(lock)
	}
	if locked, holder := restored.IsLocked("db/schema.sql"); !locked || holder != "worker-1" {
		t.Errorf("db/schema.sql holder = %q (locked=%v), want worker-1", holder, locked)
	}
	if err := restored.Acquire("api/routes.go", "worker-3"); err == nil {
		t.Error("restored lock did not block a new holder")
	}
}

func TestStaleLockIsDeadAfterRestore(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	// A lock saved long before its TTL elapsed must not block new holders
	// once restored.
	stale := locks.Lock{
		Path:       "db/schema.sql",
		Holder:     "worker-1",
		AcquiredAt: time.Now().Add(-2 * time.Hour),
	}
	if err := store.SaveLocks(ctx, []locks.Lock{stale}); err != nil {
		t.Fatalf("SaveLocks: %v", err)
	}
	loaded, err := store.LoadLocks(ctx)
	if err != nil {
		t.Fatalf("LoadLocks: %v", err)
	}

	mgr := locks.NewManager(locks.Config{TTL: time.Hour})
	for _, lock := range loaded {
		mgr.Restore(lock)
	}
	if locked, _ := mgr.IsLocked("db/schema.sql"); locked {
		t.Error("expired lock still held after restore")
	}
	if err := mgr.Acquire("db/schema.sql", "worker-2"); err != nil {
		t.Errorf("Acquire over expired restored lock: %v", err)
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	mem := memory.NewStore(nil)
	mem.Put("worker-1", "approach", "use streaming", false)
	mem.Put("worker-1", "api-style", "rest", true)
	mem.PutCategory("worker-2", "auth-decision", "jwt", "decision", true)

	if err := store.SaveMemory(ctx, mem); err != nil {
		t.Fatalf("SaveMemory: %v", err)
	}
	loaded := memory.NewStore(nil)
	if err := store.LoadMemory(ctx, loaded); err != nil {
		t.Fatalf("LoadMemory: %v", err)
	}

	if value, err := loaded.Get("worker-1", "approach"); err != nil || value != "use streaming" {
		t.Errorf("private entry = %v (%v), want use streaming", value, err)
	}
	if value, err := loaded.GetShared("api-style"); err != nil || value != "rest" {
		t.Errorf("shared entry = %v (%v), want rest", value, err)
	}
	if _, err := loaded.GetShared("approach"); err == nil {
		t.Error("private entry leaked into shared namespace after round trip")
	}

	decisions := loaded.ContextByCategory("worker-2", "decision")
	if decisions["auth-decision"] != "jwt" {
		t.Errorf("decisions = %v, want auth-decision=jwt", decisions)
	}
}
