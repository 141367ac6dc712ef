package registry_test

import (
	"testing"

	"github.com/Strob0t/taskforge/internal/registry"
)

type fakeTask struct {
	initialized map[string]any
	runErr      error
}

func (t *fakeTask) Initialize(params map[string]any) error {
	t.initialized = params
	return nil
}

func (t *fakeTask) Run() error { return t.runErr }

func TestRegisterAndNewTask(t *testing.T) {
	reg := registry.New()
	reg.Register("test.task", func() registry.Task { return &fakeTask{} }, registry.Capabilities{Abortable: true})

	task, err := reg.NewTask("test.task")
	if err != nil {
		t.Fatal(err)
	}
	if err := task.Initialize(map[string]any{"k": "v"}); err != nil {
		t.Fatal(err)
	}
	if err := task.Run(); err != nil {
		t.Fatalf("expected nil run error, got %v", err)
	}
}

func TestNewTaskUnknownType(t *testing.T) {
	reg := registry.New()
	_, err := reg.NewTask("nonexistent")
	if err == nil {
		t.Fatal("expected error for unregistered task type")
	}
	if _, ok := err.(registry.ErrUnknownTaskType); !ok {
		t.Fatalf("expected ErrUnknownTaskType, got %T: %v", err, err)
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	reg := registry.New()
	reg.Register("dup", func() registry.Task { return &fakeTask{} }, registry.Capabilities{})

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	reg.Register("dup", func() registry.Task { return &fakeTask{} }, registry.Capabilities{})
}

func TestCapabilitiesDefaultsToZeroValue(t *testing.T) {
	reg := registry.New()
	caps := reg.Capabilities("unregistered")
	if caps.Abortable || caps.Retryable {
		t.Fatalf("expected zero-value capabilities, got %+v", caps)
	}
}

func TestCapabilitiesRegistered(t *testing.T) {
	reg := registry.New()
	reg.Register("abortable.task", func() registry.Task { return &fakeTask{} },
		registry.Capabilities{Abortable: true, Retryable: false})

	caps := reg.Capabilities("abortable.task")
	if !caps.Abortable {
		t.Fatal("expected abortable true")
	}
	if caps.Retryable {
		t.Fatal("expected retryable false")
	}
}

func TestAvailable(t *testing.T) {
	reg := registry.New()
	reg.Register("a.task", func() registry.Task { return &fakeTask{} }, registry.Capabilities{})
	reg.Register("b.task", func() registry.Task { return &fakeTask{} }, registry.Capabilities{})

	names := reg.Available()
	if len(names) != 2 {
		t.Fatalf("expected 2 registered types, got %d", len(names))
	}

	seen := map[string]bool{}
	for _, n := range names {
		seen[n] = true
	}
	if !seen["a.task"] || !seen["b.task"] {
		t.Fatalf("missing expected task types in %v", names)
	}
}
