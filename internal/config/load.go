package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadMetricConfig reads and unmarshals a metric declaration file, applies
// engine defaults, and validates it. Selector matching (exact name / glob
// / tag:<name>) is the CLI wrapper's responsibility, not this function's.
func LoadMetricConfig(path string) (MetricConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return MetricConfig{}, err
	}
	if len(raw) == 0 {
		return MetricConfig{}, fmt.Errorf("%s: empty metric config", path)
	}

	var m MetricConfig
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return MetricConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	m = m.WithDefaults()
	if err := m.Validate(); err != nil {
		return MetricConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// LoadProfiles reads and unmarshals a profile declaration file and
// validates it.
func LoadProfiles(path string) (ProfilesConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ProfilesConfig{}, err
	}
	if len(raw) == 0 {
		return ProfilesConfig{}, fmt.Errorf("%s: empty profiles config", path)
	}

	var p ProfilesConfig
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return ProfilesConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	for name, prof := range p.Profiles {
		prof.Name = name
		p.Profiles[name] = prof
	}
	for name, ch := range p.AlertChannels {
		ch.Name = name
		p.AlertChannels[name] = ch
	}
	if err := p.Validate(); err != nil {
		return ProfilesConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}
