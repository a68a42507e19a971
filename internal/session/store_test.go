package session

import (
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "ccgrid.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleRecord(id string) Record {
	budget := 2.5
	return Record{
		Session: Session{
			ID:             id,
			Name:           "docs",
			Cwd:            "/tmp/project",
			TaskDesc:       "Write the docs",
			MaxBudgetUSD:   &budget,
			PermissionMode: PermissionDefault,
			Status:         StatusRunning,
			RunID:          "R1",
			CostUSD:        0.42,
			CreatedAt:      time.Now().UTC().Truncate(time.Second),
		},
		Teammates: []Teammate{
			{AgentID: "a1", SessionID: id, AgentType: "general-purpose", Status: TeammateWorking},
			{AgentID: "a2", SessionID: id, Name: "Researcher", Status: TeammateIdle},
		},
		Tasks: []Task{
			{ID: "t1", Subject: "Outline", Status: TaskCompleted, Blocks: []string{"t2"}, BlockedBy: []string{}},
			{ID: "t2", Subject: "Draft", Status: TaskPending, Blocks: []string{}, BlockedBy: []string{"t1"}},
		},
		LeadOutput: "hello",
	}
}

func TestStoreSaveAndLoadRecord(t *testing.T) {
	store := newTestStore(t)

	if err := store.SaveRecord(sampleRecord("s1")); err != nil {
		t.Fatalf("SaveRecord failed: %v", err)
	}

	loaded, err := store.LoadRecord("s1")
	if err != nil {
		t.Fatalf("LoadRecord failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("LoadRecord returned nil")
	}
	if loaded.Session.RunID != "R1" {
		t.Errorf("RunID = %q, want %q", loaded.Session.RunID, "R1")
	}
	if loaded.Session.MaxBudgetUSD == nil || *loaded.Session.MaxBudgetUSD != 2.5 {
		t.Errorf("MaxBudgetUSD = %v, want 2.5", loaded.Session.MaxBudgetUSD)
	}
	if len(loaded.Teammates) != 2 || loaded.Teammates[1].Name != "Researcher" {
		t.Errorf("Teammates = %+v, want a1 then Researcher", loaded.Teammates)
	}
	if len(loaded.Tasks) != 2 || loaded.Tasks[0].ID != "t1" {
		t.Errorf("Tasks = %+v, want t1 then t2", loaded.Tasks)
	}
	if loaded.LeadOutput != "hello" {
		t.Errorf("LeadOutput = %q, want %q", loaded.LeadOutput, "hello")
	}
}

func TestStoreSaveReplacesTasksWholesale(t *testing.T) {
	store := newTestStore(t)

	rec := sampleRecord("s1")
	if err := store.SaveRecord(rec); err != nil {
		t.Fatalf("SaveRecord failed: %v", err)
	}

	rec.Tasks = []Task{{ID: "t9", Subject: "Only", Status: TaskPending}}
	if err := store.SaveRecord(rec); err != nil {
		t.Fatalf("SaveRecord failed: %v", err)
	}

	loaded, err := store.LoadRecord("s1")
	if err != nil {
		t.Fatalf("LoadRecord failed: %v", err)
	}
	if len(loaded.Tasks) != 1 || loaded.Tasks[0].ID != "t9" {
		t.Errorf("Tasks = %+v, want only t9", loaded.Tasks)
	}
}

func TestStoreLoadMissingRecord(t *testing.T) {
	store := newTestStore(t)

	rec, err := store.LoadRecord("nope")
	if err != nil {
		t.Fatalf("LoadRecord failed: %v", err)
	}
	if rec != nil {
		t.Errorf("LoadRecord = %+v, want nil", rec)
	}
}

func TestStoreDeleteAndList(t *testing.T) {
	store := newTestStore(t)

	for _, id := range []string{"s1", "s2"} {
		if err := store.SaveRecord(sampleRecord(id)); err != nil {
			t.Fatalf("SaveRecord(%s) failed: %v", id, err)
		}
	}
	if err := store.DeleteRecord("s1"); err != nil {
		t.Fatalf("DeleteRecord failed: %v", err)
	}

	summaries, err := store.ListSessions(10)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("len(summaries) = %d, want 1", len(summaries))
	}
	if summaries[0].ID != "s2" || summaries[0].Teammates != 2 || summaries[0].Tasks != 2 {
		t.Errorf("summary = %+v, want s2 with 2 teammates and 2 tasks", summaries[0])
	}

	all, err := store.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(all) != 1 || all[0].Session.ID != "s2" {
		t.Errorf("LoadAll = %+v, want only s2", all)
	}
}

type recordingWriter struct {
	mu    sync.Mutex
	saved []Record
}

func (w *recordingWriter) SaveRecord(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.saved = append(w.saved, rec)
	return nil
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.saved)
}

func TestPersisterDebounceCoalesces(t *testing.T) {
	writer := &recordingWriter{}
	snapshot := func(id string) (Record, bool) { return Record{Session: Session{ID: id}}, true }
	p := NewPersister(writer, snapshot, 20*time.Millisecond, nil)

	for i := 0; i < 5; i++ {
		p.PersistDebounced("s1")
	}
	time.Sleep(100 * time.Millisecond)

	if got := writer.count(); got != 1 {
		t.Errorf("writes = %d, want 1", got)
	}
}

func TestPersisterImmediateSupersedesPending(t *testing.T) {
	writer := &recordingWriter{}
	snapshot := func(id string) (Record, bool) { return Record{Session: Session{ID: id}}, true }
	p := NewPersister(writer, snapshot, 50*time.Millisecond, nil)

	p.PersistDebounced("s1")
	p.Persist("s1")
	time.Sleep(120 * time.Millisecond)

	if got := writer.count(); got != 1 {
		t.Errorf("writes = %d, want 1", got)
	}
}

func TestPersisterSkipsMissingSession(t *testing.T) {
	writer := &recordingWriter{}
	snapshot := func(string) (Record, bool) { return Record{}, false }
	p := NewPersister(writer, snapshot, time.Millisecond, nil)

	p.Persist("gone")

	if got := writer.count(); got != 0 {
		t.Errorf("writes = %d, want 0", got)
	}
}

// slowWriter blocks the first save until released and keeps the last
// record saved.
type slowWriter struct {
	mu      sync.Mutex
	last    Record
	first   bool
	entered chan struct{}
	release chan struct{}
}

func (w *slowWriter) SaveRecord(rec Record) error {
	w.mu.Lock()
	first := !w.first
	w.first = true
	w.mu.Unlock()
	if first {
		close(w.entered)
		<-w.release
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.last = rec
	return nil
}

func TestPersisterSlowDebouncedWriteDoesNotOverwriteNewer(t *testing.T) {
	writer := &slowWriter{entered: make(chan struct{}), release: make(chan struct{})}
	var (
		mu     sync.Mutex
		status = StatusRunning
	)
	snapshot := func(id string) (Record, bool) {
		mu.Lock()
		defer mu.Unlock()
		return Record{Session: Session{ID: id, Status: status}}, true
	}
	p := NewPersister(writer, snapshot, time.Millisecond, nil)

	p.PersistDebounced("s1")
	select {
	case <-writer.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("debounced write never started")
	}

	mu.Lock()
	status = StatusCompleted
	mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.Persist("s1")
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	close(writer.release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Persist did not return")
	}
	writer.mu.Lock()
	defer writer.mu.Unlock()
	if writer.last.Session.Status != StatusCompleted {
		t.Errorf("durable status = %q after final Persist, want completed", writer.last.Session.Status)
	}
}
