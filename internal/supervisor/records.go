package supervisor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// RecordStore persists instance records so the registry can be rebuilt after
// a process restart. Persistence is best-effort bookkeeping; the isolation
// layer remains the ground truth and records are reconciled against it.
type RecordStore interface {
	Save(inst Instance) error
	LoadAll() ([]Instance, error)
}

var _ RecordStore = (*LocalInstanceRepository)(nil)

// LocalInstanceRepository persists instance records as JSON files under
// BaseDir, one file per instance identifier.
type LocalInstanceRepository struct {
	BaseDir string
}

// Save writes the instance record to disk using its ID as the filename.
func (rep *LocalInstanceRepository) Save(inst Instance) error {
	if rep.BaseDir == "" {
		return errors.New("base directory is not configured")
	}
	if inst.ID == "" {
		return errors.New("instance id is required")
	}

	if err := os.MkdirAll(rep.BaseDir, 0o755); err != nil {
		return err
	}

	payload, err := json.MarshalIndent(inst, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(rep.BaseDir, inst.ID+".json")
	return os.WriteFile(path, payload, 0o644)
}

// LoadAll reads every instance record under BaseDir. A missing directory
// yields an empty slice.
func (rep *LocalInstanceRepository) LoadAll() ([]Instance, error) {
	entries, err := os.ReadDir(rep.BaseDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var instances []Instance
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(rep.BaseDir, entry.Name()))
		if err != nil {
			return nil, err
		}
		var inst Instance
		if err := json.Unmarshal(data, &inst); err != nil {
			return nil, fmt.Errorf("decode instance record %s: %w", entry.Name(), err)
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// NopRecordStore discards records; used when persistence is disabled.
type NopRecordStore struct{}

func (NopRecordStore) Save(Instance) error { return nil }

func (NopRecordStore) LoadAll() ([]Instance, error) { return nil, nil }
