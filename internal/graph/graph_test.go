package graph

import (
	"errors"
	"testing"

	"github.com/hiveworks/swarmd/pkg/models"
)

func pending(id string, depth int, complexity float64, deps ...string) *models.Task {
	return &models.Task{
		ID:                  id,
		Description:         "task " + id,
		Kind:                models.TaskKindImplementation,
		Depth:               depth,
		EstimatedComplexity: complexity,
		DependsOn:           deps,
		Status:              models.TaskStatusPending,
	}
}

func TestAddTaskRejectsDuplicates(t *testing.T) {
	g := New()
	if err := g.AddTask(pending("a", 0, 1.0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := g.AddTask(pending("a", 0, 1.0)); err == nil {
		t.Fatal("expected error for duplicate ID")
	}
}

func TestReadyTasksNoDependencies(t *testing.T) {
	g := New()
	_ = g.AddTask(pending("a", 0, 2.0))
	_ = g.AddTask(pending("b", 1, 3.0, "a"))

	ready := g.ReadyTasks()
	if len(ready) != 1 || ready[0].ID != "a" {
		t.Fatalf("expected only task a ready, got %v", ready)
	}
}

func TestReadyTasksUnblockOnCompletion(t *testing.T) {
	g := New()
	_ = g.AddTask(pending("a", 0, 2.0))
	_ = g.AddTask(pending("b", 1, 3.0, "a"))
	_ = g.AddTask(pending("c", 1, 3.0, "a", "b"))

	g.MarkCompleted("a")

	ready := g.ReadyTasks()
	if len(ready) != 1 || ready[0].ID != "b" {
		t.Fatalf("expected only task b ready after a completes, got %d tasks", len(ready))
	}

	g.MarkCompleted("b")
	ready = g.ReadyTasks()
	if len(ready) != 1 || ready[0].ID != "c" {
		t.Fatalf("expected task c ready after both deps complete")
	}
}

func TestSelectNextPrefersShallowerTasks(t *testing.T) {
	g := New()
	// Depth wins over complexity: (0, 3.0) beats (1, 1.0).
	_ = g.AddTask(pending("deep-cheap", 1, 1.0))
	_ = g.AddTask(pending("shallow-costly", 0, 3.0))

	next, ok := g.SelectNext()
	if !ok {
		t.Fatal("expected a ready task")
	}
	if next.ID != "shallow-costly" {
		t.Errorf("expected shallow-costly selected, got %s", next.ID)
	}
}

func TestSelectNextPrefersLowerComplexityAtEqualDepth(t *testing.T) {
	g := New()
	_ = g.AddTask(pending("hard", 1, 7.5))
	_ = g.AddTask(pending("easy", 1, 2.5))

	next, ok := g.SelectNext()
	if !ok || next.ID != "easy" {
		t.Errorf("expected easy selected, got %v", next)
	}
}

func TestSelectNextEmptyGraph(t *testing.T) {
	g := New()
	if _, ok := g.SelectNext(); ok {
		t.Error("expected no ready task in empty graph")
	}
}

func TestMarkCompletedNonExistentIsNoOp(t *testing.T) {
	g := New()
	g.MarkCompleted("ghost")
	if len(g.CompletedIDs()) != 0 {
		t.Error("completed list should stay empty for unknown IDs")
	}
}

func TestTerminalStatesAreMonotonic(t *testing.T) {
	g := New()
	_ = g.AddTask(pending("a", 0, 2.0))

	g.MarkCompleted("a")
	g.MarkFailed("a", "late failure")
	g.MarkActive("a")

	task := g.Get("a")
	if task.Status != models.TaskStatusCompleted {
		t.Errorf("terminal status changed to %s", task.Status)
	}
	if len(g.CompletedIDs()) != 1 || len(g.FailedIDs()) != 0 {
		t.Error("completed and failed lists must stay disjoint with one entry")
	}

	// Appending must happen exactly once.
	g.MarkCompleted("a")
	if len(g.CompletedIDs()) != 1 {
		t.Errorf("completed list grew on repeat mark: %v", g.CompletedIDs())
	}
}

func TestUnblockReturnsBlockedTaskToPending(t *testing.T) {
	g := New()
	_ = g.AddTask(pending("a", 0, 6.0))

	g.MarkBlocked("a", "decomposition failed")
	if g.Get("a").Status != models.TaskStatusBlocked {
		t.Fatal("expected blocked")
	}

	g.Unblock("a")
	if g.Get("a").Status != models.TaskStatusPending {
		t.Error("expected blocked task returned to pending")
	}

	// Unblock never applies to other states.
	g.MarkCompleted("a")
	g.Unblock("a")
	if g.Get("a").Status != models.TaskStatusCompleted {
		t.Error("unblock must not touch terminal tasks")
	}
}

func TestValidateDanglingDependency(t *testing.T) {
	g := New()
	_ = g.AddTask(pending("a", 1, 2.0, "missing"))

	if err := g.Validate(); err == nil {
		t.Fatal("expected error for dangling dependency")
	}
}

func TestValidateCycle(t *testing.T) {
	g := New()
	_ = g.AddTask(pending("a", 1, 2.0, "b"))
	_ = g.AddTask(pending("b", 1, 2.0, "a"))

	err := g.Validate()
	if !errors.Is(err, ErrCycleDetected) {
		t.Errorf("expected ErrCycleDetected, got %v", err)
	}
}

func TestValidateAcceptsLinearChain(t *testing.T) {
	g := New()
	_ = g.AddTask(pending("a", 0, 2.0))
	_ = g.AddTask(pending("b", 1, 2.0, "a"))
	_ = g.AddTask(pending("c", 2, 2.0, "b"))

	if err := g.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAtomicGate(t *testing.T) {
	cases := []struct {
		name       string
		depth      int
		complexity float64
		want       bool
	}{
		{"root is never atomic", 0, 1.0, false},
		{"shallow and simple", 1, 4.9, true},
		{"at ceiling", 1, 5.0, false},
		{"deep and simple", 3, 2.0, true},
		{"deep and complex", 3, 9.0, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			task := pending("t", tc.depth, tc.complexity)
			if got := task.Atomic(); got != tc.want {
				t.Errorf("Atomic() = %v, want %v (depth=%d complexity=%.1f)",
					got, tc.want, tc.depth, tc.complexity)
			}
		})
	}
}

func TestDependentsAdjacency(t *testing.T) {
	g := New()
	_ = g.AddTask(pending("a", 0, 1.0))
	_ = g.AddTask(pending("b", 1, 1.0, "a"))
	_ = g.AddTask(pending("c", 1, 1.0, "a"))

	deps := g.Dependents("a")
	if len(deps) != 2 {
		t.Errorf("expected 2 dependents of a, got %d", len(deps))
	}
}
