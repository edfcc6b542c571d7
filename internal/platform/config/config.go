// Package config loads the engine's operational tuning defaults from a
// checked-in YAML file, the way withObsrvr-obsrvr-bronze-copier loads its
// pipeline configuration with gopkg.in/yaml.v3. Secrets and connection
// strings stay in environment variables (see cmd/api/main.go); this file
// only holds fan-out knobs that are safe to commit.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EngineDefaults mirrors the "Configuration recognized by the engine"
// table in spec.md §6.
type EngineDefaults struct {
	ParallelismMinThreshold int64  `yaml:"parallelismMinThreshold"`
	ParallelismThreadCount  int    `yaml:"parallelismThreadCount"`
	DefaultTargetLevel      int    `yaml:"defaultTargetLevel"`
	DefaultQuadType         string `yaml:"defaultQuadType"`
}

// DefaultEngineDefaults matches the defaults named in spec.md §6 when no
// config file is present.
func DefaultEngineDefaults() EngineDefaults {
	return EngineDefaults{
		ParallelismMinThreshold: 200_000,
		ParallelismThreadCount:  8,
		DefaultTargetLevel:      11,
		DefaultQuadType:         "HERE_QUAD",
	}
}

// Load reads engine defaults from path, falling back to
// DefaultEngineDefaults when the file does not exist.
func Load(path string) (EngineDefaults, error) {
	defaults := DefaultEngineDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaults, nil
		}
		return defaults, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &defaults); err != nil {
		return defaults, fmt.Errorf("parse config %s: %w", path, err)
	}
	return defaults, nil
}
