package supervisor

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/deploybot-dev/deploybot/internal/engine"
)

// Status is the lifecycle state of an instance. Transitions are monotonic:
// starting → running → stopping → stopped, with failed reachable from
// starting, running and stopping. No backward transitions.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
	StatusFailed   Status = "failed"
)

var statusRank = map[Status]int{
	StatusStarting: 0,
	StatusRunning:  1,
	StatusStopping: 2,
	StatusStopped:  3,
	StatusFailed:   3,
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusFailed
}

// Instance is a running (or previously running) deployment tracked by the
// registry.
type Instance struct {
	ID             string
	DeploymentName string
	ImageID        string
	Unit           engine.UnitHandle
	Status         Status
	Owner          string
	StartedAt      time.Time
}

// Registry errors.
var (
	ErrNameActive = errors.New("deployment name already has an active instance")
	ErrNotFound   = errors.New("no such instance")
)

// Registry is the authoritative record of deployed instances. It keeps every
// instance by identifier and a secondary index from deployment name to the
// single non-terminal instance holding that name. All mutation happens inside
// its lock; callers never hold it across isolation-layer calls.
type Registry struct {
	mu        sync.Mutex
	instances map[string]*Instance
	active    map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		instances: make(map[string]*Instance),
		active:    make(map[string]string),
	}
}

// Insert atomically checks that the deployment name is free among active
// instances and records the new instance. This is the critical section that
// prevents two concurrent deploys of the same name from both succeeding.
func (r *Registry) Insert(inst Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.active[inst.DeploymentName]; ok {
		return fmt.Errorf("%w: %s (instance %s)", ErrNameActive, inst.DeploymentName, existing)
	}
	if _, ok := r.instances[inst.ID]; ok {
		return fmt.Errorf("instance id %s already registered", inst.ID)
	}

	stored := inst
	r.instances[inst.ID] = &stored
	r.active[inst.DeploymentName] = inst.ID
	return nil
}

// Lookup resolves an instance by identifier, then by the active
// deployment-name index, then by the most recent terminal instance holding
// that name. The terminal fallback keeps repeated stop-by-name idempotent
// after the name has been released. Returns a copy.
func (r *Registry) Lookup(ref string) (Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if inst, ok := r.instances[ref]; ok {
		return *inst, nil
	}
	if id, ok := r.active[ref]; ok {
		if inst, ok := r.instances[id]; ok {
			return *inst, nil
		}
	}

	var latest *Instance
	for _, inst := range r.instances {
		if inst.DeploymentName != ref {
			continue
		}
		if latest == nil || inst.StartedAt.After(latest.StartedAt) {
			latest = inst
		}
	}
	if latest == nil {
		return Instance{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return *latest, nil
}

// Transition moves the instance to the requested status, enforcing monotonic
// ordering, and updates the unit handle when one is provided. Terminal
// transitions drop the instance from the active name index while retaining
// its record.
func (r *Registry) Transition(id string, status Status, unit *engine.UnitHandle) (Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[id]
	if !ok {
		return Instance{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if statusRank[status] <= statusRank[inst.Status] || inst.Status.Terminal() {
		return Instance{}, fmt.Errorf("invalid transition %s → %s for instance %s", inst.Status, status, id)
	}

	inst.Status = status
	if unit != nil {
		inst.Unit = *unit
	}
	if status.Terminal() {
		if r.active[inst.DeploymentName] == id {
			delete(r.active, inst.DeploymentName)
		}
	}
	return *inst, nil
}

// ActiveSnapshot returns copies of all non-terminal instances ordered by
// start timestamp.
func (r *Registry) ActiveSnapshot() []Instance {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make([]Instance, 0, len(r.active))
	for _, id := range r.active {
		if inst, ok := r.instances[id]; ok {
			snapshot = append(snapshot, *inst)
		}
	}
	sort.Slice(snapshot, func(i, j int) bool {
		if snapshot[i].StartedAt.Equal(snapshot[j].StartedAt) {
			return snapshot[i].ID < snapshot[j].ID
		}
		return snapshot[i].StartedAt.Before(snapshot[j].StartedAt)
	})
	return snapshot
}

// NameActive reports whether the deployment name currently maps to a
// non-terminal instance.
func (r *Registry) NameActive(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[name]
	return ok
}
