package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile is a deployment-specific tuning overlay for cache capacities,
// backpressure thresholds, and checkpoint cadence. It never carries
// ordering/containment policy, which stay explicit CLI/env choices.
type Profile struct {
	Name string `yaml:"name"`

	QueueHigh uint64 `yaml:"queue_high,omitempty"`
	QueueLow  uint64 `yaml:"queue_low,omitempty"`
	QueueMax  uint64 `yaml:"queue_max,omitempty"`

	ManifestCacheCapacity int `yaml:"manifest_cache_capacity,omitempty"`
	ManifestCacheTTLSecs  int `yaml:"manifest_cache_ttl_secs,omitempty"`

	CheckpointInterval uint64 `yaml:"checkpoint_interval,omitempty"`
}

// LoadProfile loads profile_<name>.yaml from profilesDir. A missing or
// unreadable file is returned as an error, as is a file that does not
// parse.
func LoadProfile(profilesDir, name string) (*Profile, error) {
	name = strings.ToLower(name)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", name))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: load profile %q: %w", name, err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("config: parse profile %q: %w", name, err)
	}
	if p.Name == "" {
		p.Name = name
	}
	return &p, nil
}

// Apply overlays non-zero profile fields onto cfg. Each field the
// profile sets to a non-zero value overwrites cfg's value, including a
// value Load read from the environment; zero-valued profile fields leave
// cfg unchanged.
func (p *Profile) Apply(cfg *Config) {
	if p == nil {
		return
	}
	if p.QueueHigh != 0 {
		cfg.QueueHigh = p.QueueHigh
	}
	if p.QueueLow != 0 {
		cfg.QueueLow = p.QueueLow
	}
	if p.QueueMax != 0 {
		cfg.QueueMax = p.QueueMax
	}
	if p.ManifestCacheCapacity != 0 {
		cfg.ManifestCacheCapacity = p.ManifestCacheCapacity
	}
	if p.ManifestCacheTTLSecs != 0 {
		cfg.ManifestCacheTTLSecs = p.ManifestCacheTTLSecs
	}
	if p.CheckpointInterval != 0 {
		cfg.CheckpointInterval = p.CheckpointInterval
	}
}
