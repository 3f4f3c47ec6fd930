package orchestrator

import (
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/hiveworks/swarmd/internal/events"
	"github.com/hiveworks/swarmd/internal/graph"
	"github.com/hiveworks/swarmd/internal/logging"
	"github.com/hiveworks/swarmd/internal/store"
	"github.com/hiveworks/swarmd/pkg/models"
)

// fakeStore is an in-memory Store with programmable failures.
type fakeStore struct {
	mu        sync.Mutex
	items     map[string]*models.WorkItem
	createErr error
	getCalls  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: make(map[string]*models.WorkItem)}
}

func (f *fakeStore) CreateWorkItem(item *models.WorkItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.items[item.ID] = item
	return nil
}

func (f *fakeStore) GetWorkItem(id string) (*models.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	item, ok := f.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return item, nil
}

func (f *fakeStore) GetStatus(id string) (models.TaskStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return "", store.ErrNotFound
	}
	return item.Status, nil
}

func (f *fakeStore) UpdateStatus(id string, status models.TaskStatus, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return store.ErrNotFound
	}
	item.Status = status
	item.ErrorMessage = errMsg
	return nil
}

func (f *fakeStore) ListOpen() ([]*models.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var open []*models.WorkItem
	for _, item := range f.items {
		if !item.Status.Terminal() {
			open = append(open, item)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].ID < open[j].ID })
	return open, nil
}

func (f *fakeStore) StatusMap() (map[string]models.TaskStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]models.TaskStatus, len(f.items))
	for id, item := range f.items {
		out[id] = item.Status
	}
	return out, nil
}

func newOrchestrator(t *testing.T, fs *fakeStore) *Orchestrator {
	t.Helper()
	o := New(fs, events.NewBus(), "swarmd", logging.Nop())
	t.Cleanup(o.Close)
	return o
}

func TestEnqueueValidation(t *testing.T) {
	o := newOrchestrator(t, newFakeStore())

	cases := []struct {
		name string
		req  EnqueueRequest
	}{
		{"missing title", EnqueueRequest{Role: models.RoleCoder}},
		{"unknown role", EnqueueRequest{Title: "t", Role: models.Role("wizard")}},
		{"empty dependency", EnqueueRequest{Title: "t", Role: models.RoleCoder, DependsOn: []string{""}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := o.Enqueue(tc.req); !errors.Is(err, ErrInvalidTask) {
				t.Errorf("expected ErrInvalidTask, got %v", err)
			}
		})
	}
}

func TestEnqueuePersistsWithDefaults(t *testing.T) {
	fs := newFakeStore()
	o := newOrchestrator(t, fs)

	id, err := o.Enqueue(EnqueueRequest{Title: "build it", Role: models.RoleCoder})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if id != "swarmd-task-1" {
		t.Errorf("generated id = %q", id)
	}

	item := fs.items[id]
	if item == nil {
		t.Fatal("work item not persisted")
	}
	if item.Status != models.TaskStatusPending {
		t.Errorf("status = %s, want pending", item.Status)
	}
	if item.Priority != models.DefaultPriority ||
		item.MaxRetries != models.DefaultMaxRetries ||
		item.Timeout != models.DefaultTimeout {
		t.Errorf("defaults not applied: %+v", item)
	}
}

func TestEnqueueRejectsDuplicateID(t *testing.T) {
	o := newOrchestrator(t, newFakeStore())

	if _, err := o.Enqueue(EnqueueRequest{ID: "t1", Title: "a", Role: models.RoleCoder}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := o.Enqueue(EnqueueRequest{ID: "t1", Title: "b", Role: models.RoleCoder}); !errors.Is(err, ErrInvalidTask) {
		t.Errorf("expected ErrInvalidTask for duplicate, got %v", err)
	}
}

func TestEnqueuePersistenceFailureLeavesGraphUntouched(t *testing.T) {
	fs := newFakeStore()
	fs.createErr = errors.New("disk full")
	o := newOrchestrator(t, fs)

	if _, err := o.Enqueue(EnqueueRequest{Title: "doomed", Role: models.RoleCoder}); err == nil {
		t.Fatal("expected persistence error")
	}
	if _, ok := o.GetNextReady(); ok {
		t.Error("graph gained a task despite persistence failure")
	}
}

func TestGetNextReadyHonorsDependencies(t *testing.T) {
	o := newOrchestrator(t, newFakeStore())

	if _, err := o.Enqueue(EnqueueRequest{ID: "a", Title: "first", Role: models.RoleCoder, Complexity: 2}); err != nil {
		t.Fatalf("enqueue a: %v", err)
	}
	if _, err := o.Enqueue(EnqueueRequest{ID: "b", Title: "second", Role: models.RoleCoder, Complexity: 1, DependsOn: []string{"a"}}); err != nil {
		t.Fatalf("enqueue b: %v", err)
	}

	next, ok := o.GetNextReady()
	if !ok || next.ID != "a" {
		t.Fatalf("next = %v, %v; want a", next, ok)
	}

	if ready := o.TaskCompleted("a"); ready != 1 {
		t.Errorf("ready count after completing a = %d, want 1", ready)
	}

	next, ok = o.GetNextReady()
	if !ok || next.ID != "b" {
		t.Errorf("next after completion = %v, %v; want b", next, ok)
	}
}

func TestTaskFailedKeepsDependentsBlocked(t *testing.T) {
	o := newOrchestrator(t, newFakeStore())

	if _, err := o.Enqueue(EnqueueRequest{ID: "a", Title: "first", Role: models.RoleCoder}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := o.Enqueue(EnqueueRequest{ID: "b", Title: "second", Role: models.RoleCoder, DependsOn: []string{"a"}}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	o.TaskFailed("a", "boom")
	next, ok := o.GetNextReady()
	if ok {
		t.Errorf("dependent of failed task reported ready: %v", next)
	}
}

func TestGetResult(t *testing.T) {
	fs := newFakeStore()
	o := newOrchestrator(t, fs)

	fs.items["done"] = &models.WorkItem{
		ID: "done", Status: models.TaskStatusCompleted,
		Result: map[string]any{"output": "hi"},
	}
	fs.items["running"] = &models.WorkItem{
		ID: "running", Status: models.TaskStatusActive,
	}

	result, err := o.GetResult("done")
	if err != nil || result["output"] != "hi" {
		t.Errorf("result = %v, %v", result, err)
	}

	// Second read comes from cache.
	before := fs.getCalls
	if _, err := o.GetResult("done"); err != nil {
		t.Errorf("cached read: %v", err)
	}
	if fs.getCalls != before {
		t.Error("cached result still hit the store")
	}

	if _, err := o.GetResult("running"); !errors.Is(err, ErrNotCompleted) {
		t.Errorf("expected ErrNotCompleted, got %v", err)
	}
	if _, err := o.GetResult("ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetTaskGraphProjection(t *testing.T) {
	fs := newFakeStore()
	o := newOrchestrator(t, fs)

	if _, err := o.Enqueue(EnqueueRequest{ID: "a", Title: "one", Role: models.RoleCoder}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	fs.items["a"].Status = models.TaskStatusActive

	projection, err := o.GetTaskGraph()
	if err != nil {
		t.Fatalf("graph projection: %v", err)
	}
	if projection["a"] != models.TaskStatusActive {
		t.Errorf("projection = %v", projection)
	}
}

func TestRestoreRebuildsGraph(t *testing.T) {
	fs := newFakeStore()
	o := newOrchestrator(t, fs)

	items := []*models.WorkItem{
		{ID: "a", Title: "one", Role: models.RoleCoder, Status: models.TaskStatusActive},
		{ID: "b", Title: "two", Role: models.RoleCoder, Status: models.TaskStatusPending, DependsOn: []string{"a"}},
		{ID: "c", Title: "three", Role: models.RoleCoder, Status: models.TaskStatusBlocked},
	}
	if err := o.Restore(items); err != nil {
		t.Fatalf("restore: %v", err)
	}

	// The interrupted active item is schedulable again; its worker is
	// gone. The blocked one stays blocked.
	next, ok := o.GetNextReady()
	if !ok || next.ID != "a" {
		t.Errorf("next = %v, %v; want a", next, ok)
	}
	o.TaskCompleted("a")
	next, ok = o.GetNextReady()
	if !ok || next.ID != "b" {
		t.Errorf("next after completing a = %v, %v; want b", next, ok)
	}
}

func TestRestoreTerminalDependencies(t *testing.T) {
	fs := newFakeStore()
	o := newOrchestrator(t, fs)

	items := []*models.WorkItem{
		{ID: "a", Title: "finished earlier", Role: models.RoleCoder, Status: models.TaskStatusCompleted},
		{ID: "b", Title: "waiting on a", Role: models.RoleCoder, Status: models.TaskStatusPending, DependsOn: []string{"a"}},
		{ID: "x", Title: "broke earlier", Role: models.RoleCoder, Status: models.TaskStatusFailed},
		{ID: "y", Title: "waiting on x", Role: models.RoleCoder, Status: models.TaskStatusPending, DependsOn: []string{"x"}},
	}
	if err := o.Restore(items); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if err := o.ValidateGraph(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	// b is ready because its dependency completed before the restart;
	// y stays unready behind the failed x.
	next, ok := o.GetNextReady()
	if !ok || next.ID != "b" {
		t.Fatalf("next = %v, %v; want b", next, ok)
	}
	o.TaskCompleted("b")
	if next, ok := o.GetNextReady(); ok {
		t.Errorf("dependent of failed task reported ready: %v", next)
	}
}

func TestRestorePreservesDepth(t *testing.T) {
	fs := newFakeStore()
	o := newOrchestrator(t, fs)

	leaf := &models.WorkItem{
		ID: "root-sub-1", Title: "small piece", Role: models.RoleCoder,
		Status: models.TaskStatusPending, Depth: 2, ParentID: "root",
		Complexity: 3.0,
	}
	if err := o.Restore([]*models.WorkItem{leaf}); err != nil {
		t.Fatalf("restore: %v", err)
	}

	// A restored leaf keeps its depth, so it stays atomic and is
	// executed rather than decomposed again.
	if err := o.WithGraph(func(g *graph.TaskGraph) {
		task := g.Get("root-sub-1")
		if task.Depth != 2 || task.ParentID != "root" {
			t.Errorf("restored task = depth %d, parent %q", task.Depth, task.ParentID)
		}
		if !task.Atomic() {
			t.Error("restored leaf lost its depth and is no longer atomic")
		}
	}); err != nil {
		t.Fatalf("with graph: %v", err)
	}

	next, ok := o.GetNextReady()
	if !ok || next.Depth != 2 || next.ParentID != "root" {
		t.Errorf("next = %+v, %v", next, ok)
	}
}

func TestCloseStopsLoop(t *testing.T) {
	o := New(newFakeStore(), events.NewBus(), "swarmd", logging.Nop())
	o.Close()
	o.Close()

	done := make(chan error, 1)
	go func() {
		_, err := o.Enqueue(EnqueueRequest{Title: "late", Role: models.RoleCoder})
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Error("enqueue blocked after close")
	}
}
