// Package supervisor owns the authoritative registry of deployed instances
// and drives their lifecycle against the isolation layer.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/deploybot-dev/deploybot/internal/builder"
	"github.com/deploybot-dev/deploybot/internal/engine"
)

// ErrNotAuthorized is returned when the requester is neither the owner of the
// instance nor an administrator.
var ErrNotAuthorized = errors.New("requester is not authorized for this instance")

// Authorizer answers the delegated admin check used by stop and logs.
type Authorizer interface {
	IsAdmin(identity string) bool
}

// Default lifecycle bounds.
const (
	DefaultStartTimeout = 1 * time.Minute
	DefaultStopTimeout  = 1 * time.Minute
	DefaultStopGrace    = 10 * time.Second
)

// InstanceView is the read-only listing entry returned by List.
type InstanceView struct {
	ID             string
	DeploymentName string
	Owner          string
	Status         Status
	Uptime         time.Duration
}

// Supervisor starts, tracks, lists and stops running instances. The registry
// lock covers only check-and-insert and status transitions, never the
// isolation-layer calls themselves.
type Supervisor struct {
	Logger   *slog.Logger
	Engine   engine.Engine
	Registry *Registry
	Auth     Authorizer
	Records  RecordStore

	StartTimeout time.Duration
	StopTimeout  time.Duration
	StopGrace    time.Duration

	RunOptions engine.RunOptions
}

// New assembles a supervisor with an empty registry.
func New(eng engine.Engine, auth Authorizer, records RecordStore, logger *slog.Logger) *Supervisor {
	if records == nil {
		records = NopRecordStore{}
	}
	return &Supervisor{
		Logger:   logger,
		Engine:   eng,
		Registry: NewRegistry(),
		Auth:     auth,
		Records:  records,
	}
}

// Start launches a new instance from the image under the deployment name.
// The name-uniqueness check-and-insert is atomic against the registry, so two
// concurrent starts for the same name cannot both succeed.
func (s *Supervisor) Start(ctx context.Context, image builder.Image, deploymentName, owner string) (string, error) {
	inst := Instance{
		ID:             uuid.New().String(),
		DeploymentName: deploymentName,
		ImageID:        image.ID,
		Status:         StatusStarting,
		Owner:          owner,
		StartedAt:      time.Now().UTC(),
	}
	if err := s.Registry.Insert(inst); err != nil {
		return "", err
	}

	logger := s.logger().With("instance", inst.ID, "deployment", deploymentName)
	logger.Info("starting instance", "image", image.ID)

	runCtx, cancel := context.WithTimeout(ctx, s.startTimeout())
	defer cancel()

	unitName := fmt.Sprintf("deploy_%s_%s", deploymentName, inst.ID[:8])
	unit, err := s.Engine.Run(runCtx, image.ID, unitName, s.RunOptions)
	if err != nil {
		s.finalize(inst.ID, StatusFailed, nil)
		logger.Error("instance launch failed", "error", err)
		return "", err
	}

	updated, terr := s.Registry.Transition(inst.ID, StatusRunning, &unit)
	if terr != nil {
		// Lost a race with an out-of-band terminal transition; the unit
		// must not be left running unaccounted.
		s.terminateQuietly(unit)
		return "", terr
	}
	s.persist(updated)

	logger.Info("instance running", "unit", unit.ID)
	return inst.ID, nil
}

// List returns a snapshot of all starting or running instances ordered by
// start timestamp. Pure read.
func (s *Supervisor) List() []InstanceView {
	now := time.Now().UTC()
	active := s.Registry.ActiveSnapshot()

	views := make([]InstanceView, 0, len(active))
	for _, inst := range active {
		views = append(views, InstanceView{
			ID:             inst.ID,
			DeploymentName: inst.DeploymentName,
			Owner:          inst.Owner,
			Status:         inst.Status,
			Uptime:         now.Sub(inst.StartedAt),
		})
	}
	return views
}

// Stop terminates the instance identified by id or deployment name.
// Stopping an instance that already reached a terminal state is a successful
// no-op: no isolation-layer call is made.
func (s *Supervisor) Stop(ctx context.Context, ref, requester string) error {
	inst, err := s.Registry.Lookup(ref)
	if err != nil {
		return err
	}
	if err := s.authorize(inst, requester); err != nil {
		return err
	}
	if inst.Status.Terminal() {
		return nil
	}

	// The stopping transition is the serialization point: a concurrent
	// stop of the same instance loses the transition and reads a
	// terminal (or already stopping) state instead.
	updated, err := s.Registry.Transition(inst.ID, StatusStopping, nil)
	if err != nil {
		if current, lookupErr := s.Registry.Lookup(inst.ID); lookupErr == nil && (current.Status == StatusStopping || current.Status.Terminal()) {
			return nil
		}
		return err
	}
	inst = updated

	logger := s.logger().With("instance", inst.ID, "deployment", inst.DeploymentName)
	logger.Info("stopping instance", "requester", requester)

	stopCtx, cancel := context.WithTimeout(ctx, s.stopTimeout())
	defer cancel()

	if err := s.Engine.Terminate(stopCtx, inst.Unit, s.stopGrace()); err != nil {
		s.finalize(inst.ID, StatusFailed, nil)
		logger.Error("instance termination failed", "error", err)
		return err
	}

	s.finalize(inst.ID, StatusStopped, nil)
	logger.Info("instance stopped")
	return nil
}

// Logs fetches the trailing log output of an active instance, gated by the
// same owner-or-admin check as Stop.
func (s *Supervisor) Logs(ctx context.Context, ref, requester string, tail int) (string, error) {
	inst, err := s.Registry.Lookup(ref)
	if err != nil {
		return "", err
	}
	if err := s.authorize(inst, requester); err != nil {
		return "", err
	}
	return s.Engine.Logs(ctx, inst.Unit, tail)
}

// Reconcile cross-checks active instances against the isolation layer's
// actual running units. Instances whose backing unit disappeared out-of-band
// are marked failed and dropped from the active index. Returns the number of
// instances reconciled away.
func (s *Supervisor) Reconcile(ctx context.Context) (int, error) {
	units, err := s.Engine.ListRunning(ctx)
	if err != nil {
		return 0, fmt.Errorf("reconcile: %w", err)
	}

	alive := make(map[string]bool, len(units))
	for _, unit := range units {
		alive[unit.ID] = true
		alive[unit.Name] = true
	}

	reconciled := 0
	for _, inst := range s.Registry.ActiveSnapshot() {
		if inst.Status == StatusStarting {
			// A concurrent Start may not have launched its unit yet.
			continue
		}
		if alive[inst.Unit.ID] || alive[inst.Unit.Name] {
			continue
		}
		s.finalize(inst.ID, StatusFailed, nil)
		s.logger().Warn("instance unit vanished, marked failed",
			"instance", inst.ID,
			"deployment", inst.DeploymentName,
		)
		reconciled++
	}
	return reconciled, nil
}

// Restore rebuilds the registry from persisted records and reconciles it
// against the isolation layer. Terminal records are skipped.
func (s *Supervisor) Restore(ctx context.Context) error {
	records, err := s.Records.LoadAll()
	if err != nil {
		return fmt.Errorf("load instance records: %w", err)
	}
	for _, inst := range records {
		if inst.Status.Terminal() {
			continue
		}
		if err := s.Registry.Insert(inst); err != nil {
			s.logger().Warn("skipping conflicting instance record", "instance", inst.ID, "error", err)
		}
	}
	_, err = s.Reconcile(ctx)
	return err
}

func (s *Supervisor) authorize(inst Instance, requester string) error {
	if requester == inst.Owner {
		return nil
	}
	if s.Auth != nil && s.Auth.IsAdmin(requester) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotAuthorized, requester)
}

// finalize records a terminal transition and persists the resulting record.
// Every terminal transition is recorded before the name is released.
func (s *Supervisor) finalize(id string, status Status, unit *engine.UnitHandle) {
	inst, err := s.Registry.Transition(id, status, unit)
	if err != nil {
		s.logger().Warn("terminal transition skipped", "instance", id, "status", status, "error", err)
		return
	}
	s.persist(inst)
}

func (s *Supervisor) persist(inst Instance) {
	if err := s.Records.Save(inst); err != nil {
		s.logger().Warn("persisting instance record failed", "instance", inst.ID, "error", err)
	}
}

func (s *Supervisor) terminateQuietly(unit engine.UnitHandle) {
	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout())
	defer cancel()
	if err := s.Engine.Terminate(ctx, unit, s.stopGrace()); err != nil {
		s.logger().Warn("cleanup termination failed", "unit", unit.ID, "error", err)
	}
}

func (s *Supervisor) startTimeout() time.Duration {
	if s.StartTimeout > 0 {
		return s.StartTimeout
	}
	return DefaultStartTimeout
}

func (s *Supervisor) stopTimeout() time.Duration {
	if s.StopTimeout > 0 {
		return s.StopTimeout
	}
	return DefaultStopTimeout
}

func (s *Supervisor) stopGrace() time.Duration {
	if s.StopGrace > 0 {
		return s.StopGrace
	}
	return DefaultStopGrace
}

func (s *Supervisor) logger() *slog.Logger {
	if s != nil && s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
