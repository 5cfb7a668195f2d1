package supervisor

import (
	"errors"
	"testing"
	"time"

	"github.com/deploybot-dev/deploybot/internal/engine"
)

func registryInstance(id, name string) Instance {
	return Instance{
		ID:             id,
		DeploymentName: name,
		Status:         StatusStarting,
		StartedAt:      time.Now().UTC(),
	}
}

func TestRegistryInsertEnforcesNameUniqueness(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Insert(registryInstance("i1", "alpha")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := reg.Insert(registryInstance("i2", "alpha"))
	if !errors.Is(err, ErrNameActive) {
		t.Fatalf("expected ErrNameActive, got %v", err)
	}
}

func TestRegistryNameFreedByTerminalTransition(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Insert(registryInstance("i1", "alpha")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := reg.Transition("i1", StatusFailed, nil); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := reg.Insert(registryInstance("i2", "alpha")); err != nil {
		t.Fatalf("name should be free after terminal transition: %v", err)
	}

	// The terminal record remains addressable by id.
	inst, err := reg.Lookup("i1")
	if err != nil {
		t.Fatalf("lookup terminal record: %v", err)
	}
	if inst.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", inst.Status)
	}
}

func TestRegistryTransitionsAreMonotonic(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Insert(registryInstance("i1", "alpha")); err != nil {
		t.Fatalf("insert: %v", err)
	}

	unit := engine.UnitHandle{ID: "u1", Name: "alpha"}
	steps := []Status{StatusRunning, StatusStopping, StatusStopped}
	for _, status := range steps {
		if _, err := reg.Transition("i1", status, &unit); err != nil {
			t.Fatalf("transition to %s: %v", status, err)
		}
	}

	if _, err := reg.Transition("i1", StatusRunning, nil); err == nil {
		t.Fatal("backward transition must fail")
	}
	if _, err := reg.Transition("i1", StatusFailed, nil); err == nil {
		t.Fatal("transitions out of a terminal state must fail")
	}
}

func TestRegistryTransitionRejectsRepeatedStatus(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Insert(registryInstance("i1", "alpha")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := reg.Transition("i1", StatusRunning, nil); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if _, err := reg.Transition("i1", StatusRunning, nil); err == nil {
		t.Fatal("repeated transition must fail so concurrent stoppers serialize")
	}
}

func TestRegistryLookupByNameFallsBackToTerminalRecord(t *testing.T) {
	reg := NewRegistry()

	first := registryInstance("i1", "alpha")
	first.StartedAt = time.Now().UTC().Add(-time.Minute)
	if err := reg.Insert(first); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := reg.Transition("i1", StatusFailed, nil); err != nil {
		t.Fatalf("transition: %v", err)
	}

	inst, err := reg.Lookup("alpha")
	if err != nil {
		t.Fatalf("lookup by name after terminal transition: %v", err)
	}
	if inst.ID != "i1" || inst.Status != StatusFailed {
		t.Fatalf("unexpected instance %+v", inst)
	}

	// When the name was reused, the most recent holder wins.
	second := registryInstance("i2", "alpha")
	if err := reg.Insert(second); err != nil {
		t.Fatalf("reinsert: %v", err)
	}
	if _, err := reg.Transition("i2", StatusFailed, nil); err != nil {
		t.Fatalf("transition: %v", err)
	}

	inst, err = reg.Lookup("alpha")
	if err != nil {
		t.Fatalf("lookup by name: %v", err)
	}
	if inst.ID != "i2" {
		t.Fatalf("expected most recent terminal instance, got %s", inst.ID)
	}
}

func TestRegistryLookupByName(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Insert(registryInstance("i1", "alpha")); err != nil {
		t.Fatalf("insert: %v", err)
	}

	inst, err := reg.Lookup("alpha")
	if err != nil {
		t.Fatalf("lookup by name: %v", err)
	}
	if inst.ID != "i1" {
		t.Fatalf("unexpected instance %s", inst.ID)
	}

	if _, err := reg.Lookup("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
