// Package config loads the orchestrator configuration from a YAML file and
// supplies the static admin allow-list used for authorization.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// StorageDir is the default root for orchestrator state.
const StorageDir = "/var/lib/deploybot"

// Config holds every tunable of the orchestrator. Zero values fall back to
// the defaults below.
type Config struct {
	BaseDir   string `yaml:"base_dir"`
	RecordDir string `yaml:"record_dir"`

	EntryPoint   string `yaml:"entry_point"`
	BaseImage    string `yaml:"base_image"`
	TagPrefix    string `yaml:"tag_prefix"`
	EngineBinary string `yaml:"engine_binary"`

	BuildTimeoutSeconds int `yaml:"build_timeout_seconds"`
	StartTimeoutSeconds int `yaml:"start_timeout_seconds"`
	StopTimeoutSeconds  int `yaml:"stop_timeout_seconds"`
	StopGraceSeconds    int `yaml:"stop_grace_seconds"`

	MemoryLimit   string   `yaml:"memory_limit"`
	CPULimit      string   `yaml:"cpu_limit"`
	RestartPolicy string   `yaml:"restart_policy"`
	ExtraRunArgs  []string `yaml:"extra_run_args"`

	Admins         []string `yaml:"admins"`
	KeepWorkspaces bool     `yaml:"keep_workspaces"`
}

// Default returns the configuration used when no file is provided.
func Default() Config {
	return Config{
		BaseDir:             StorageDir + "/workspaces",
		RecordDir:           StorageDir + "/instances",
		EntryPoint:          "main.py",
		BaseImage:           "python:3.11-slim",
		TagPrefix:           "deploybot",
		EngineBinary:        "docker",
		BuildTimeoutSeconds: 300,
		StartTimeoutSeconds: 60,
		StopTimeoutSeconds:  60,
		StopGraceSeconds:    10,
		MemoryLimit:         "256m",
		CPULimit:            "0.5",
		RestartPolicy:       "always",
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// BuildTimeout bounds a single image build.
func (c Config) BuildTimeout() time.Duration {
	return seconds(c.BuildTimeoutSeconds, 300)
}

// StartTimeout bounds a single instance launch.
func (c Config) StartTimeout() time.Duration {
	return seconds(c.StartTimeoutSeconds, 60)
}

// StopTimeout bounds a single instance termination.
func (c Config) StopTimeout() time.Duration {
	return seconds(c.StopTimeoutSeconds, 60)
}

// StopGrace is how long a unit gets to exit before forced termination.
func (c Config) StopGrace() time.Duration {
	return seconds(c.StopGraceSeconds, 10)
}

func seconds(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}

// StaticAuthorizer answers admin checks from a fixed identity set.
type StaticAuthorizer struct {
	admins map[string]bool
}

// NewStaticAuthorizer builds an authorizer from the configured admin list.
func NewStaticAuthorizer(admins []string) *StaticAuthorizer {
	set := make(map[string]bool, len(admins))
	for _, admin := range admins {
		set[admin] = true
	}
	return &StaticAuthorizer{admins: set}
}

// IsAdmin reports whether the identity is in the allow-list.
func (a *StaticAuthorizer) IsAdmin(identity string) bool {
	return a != nil && a.admins[identity]
}
