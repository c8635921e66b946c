package supervisor

import (
	"context"
	"errors"
	"testing"
)

func noopRun(ctx context.Context) error { return nil }

func entryWithDeps(t *testing.T, id string, deps ...string) *taskEntry {
	t.Helper()
	return newTaskEntry(NewFuncTask(id, noopRun, WithDependencies(deps...)))
}

func TestValidateGraphOrder(t *testing.T) {
	t.Parallel()
	entries := []*taskEntry{
		entryWithDeps(t, "api", "db", "cache"),
		entryWithDeps(t, "db"),
		entryWithDeps(t, "cache", "db"),
	}

	order, err := validateGraph(entries)
	if err != nil {
		t.Fatalf("validateGraph error: %v", err)
	}
	if len(order) != 3 {
		t.Fatalf("order has %d entries, want 3", len(order))
	}
	pos := map[string]int{}
	for i, id := range order {
		pos[id] = i
	}
	if pos["db"] > pos["cache"] || pos["cache"] > pos["api"] || pos["db"] > pos["api"] {
		t.Fatalf("order violates dependencies: %v", order)
	}
}

func TestValidateGraphUnknownDependency(t *testing.T) {
	t.Parallel()
	entries := []*taskEntry{entryWithDeps(t, "api", "ghost")}

	_, err := validateGraph(entries)
	var verr *DependencyValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want DependencyValidationError", err)
	}
	if verr.TaskID != "api" || verr.DependencyID != "ghost" {
		t.Fatalf("unexpected edge: %s -> %s", verr.TaskID, verr.DependencyID)
	}
	if kind, ok := KindOf(err); !ok || kind != KindConfiguration {
		t.Fatalf("KindOf = %v, %v", kind, ok)
	}
}

func TestValidateGraphSelfLoop(t *testing.T) {
	t.Parallel()
	entries := []*taskEntry{entryWithDeps(t, "loop", "loop")}

	_, err := validateGraph(entries)
	var cerr *CircularDependencyError
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %v, want CircularDependencyError", err)
	}
	if cerr.TaskID != "loop" || cerr.DependencyID != "loop" {
		t.Fatalf("unexpected edge: %s -> %s", cerr.TaskID, cerr.DependencyID)
	}
}

func TestValidateGraphCycle(t *testing.T) {
	t.Parallel()
	entries := []*taskEntry{
		entryWithDeps(t, "a", "b"),
		entryWithDeps(t, "b", "c"),
		entryWithDeps(t, "c", "a"),
	}

	_, err := validateGraph(entries)
	var cerr *CircularDependencyError
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %v, want CircularDependencyError", err)
	}
}

func TestRegisterDuplicateID(t *testing.T) {
	t.Parallel()
	r := NewRuntime()
	if err := r.Register(NewFuncTask("one", noopRun)); err != nil {
		t.Fatalf("first Register error: %v", err)
	}
	err := r.Register(NewFuncTask("one", noopRun))
	var derr *DuplicateTaskIDError
	if !errors.As(err, &derr) {
		t.Fatalf("error = %v, want DuplicateTaskIDError", err)
	}
}

func TestRegisterRejectsEmptyID(t *testing.T) {
	t.Parallel()
	r := NewRuntime()
	err := r.Register(NewFuncTask("   ", noopRun))
	var ierr *InvalidConfigurationError
	if !errors.As(err, &ierr) {
		t.Fatalf("error = %v, want InvalidConfigurationError", err)
	}
}

func TestStartAllRejectsBrokenGraph(t *testing.T) {
	t.Parallel()
	r := NewRuntime()
	if err := r.RegisterFunc("api", noopRun, WithDependencies("missing")); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	err := r.StartAll(context.Background())
	var verr *DependencyValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("StartAll error = %v, want DependencyValidationError", err)
	}
	// Nothing spawned: Shutdown on a never-started runtime is a no-op.
	if err := r.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}
}

func TestAddPrerequisiteDuplicateName(t *testing.T) {
	t.Parallel()
	r := NewRuntime()
	if err := r.AddPrerequisite("migrate", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("AddPrerequisite error: %v", err)
	}
	if err := r.AddPrerequisite("migrate", func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected error for duplicate prerequisite name")
	}
}
