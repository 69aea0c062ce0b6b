// Package frontend is the dashboard/device/alert state-reduction contract
// a visualizer links against (spec §5, §4.6): a pure reducer over the
// subscriber engine's telemetry/liveness streams plus a persisted settings
// record. It owns no transport of its own — it consumes
// engine/subscriber's channels and engine/telemetry's wire types.
package frontend

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/99souls/zensight/engine/config"
	"github.com/99souls/zensight/engine/zerr"
)

// Settings is the persisted record spec §6 describes: "connection mode,
// endpoints, stale threshold, theme, and alert rules". The spec's wire
// format for this file is JSON5; SPEC_FULL carries YAML instead, the same
// way engine/internal/runtime/runtime.go persists derived runtime state,
// since a hand-rolled JSON5 writer has no purpose for a file this module
// only ever reads and writes itself.
type Settings struct {
	ConnectionMode    string      `yaml:"connection_mode"`
	Endpoints         []string    `yaml:"endpoints"`
	StaleThresholdMs  int64       `yaml:"stale_threshold_ms"`
	Theme             string      `yaml:"theme"`
	AlertRules        []AlertRule `yaml:"alert_rules"`
}

func (s *Settings) applyDefaults() {
	if s.ConnectionMode == "" {
		s.ConnectionMode = "client"
	}
	if s.StaleThresholdMs == 0 {
		s.StaleThresholdMs = 10_000
	}
	if s.Theme == "" {
		s.Theme = "dark"
	}
	// Rules hand-authored directly into the YAML file, or persisted by a
	// version of this file predating AlertRule.ID, arrive with no ID; assign
	// one so every rule is trackable from here on.
	for i := range s.AlertRules {
		if s.AlertRules[i].ID == "" {
			s.AlertRules[i].ID = uuid.NewString()
		}
	}
}

// Validate checks the alert rules carry a recognized severity; everything
// else in Settings is free-form operator input.
func (s *Settings) Validate() error {
	for i, r := range s.AlertRules {
		if err := config.ValidSeverity(r.Severity); err != nil {
			return zerr.Configf("settings: alert_rules[%d]: %v", i, err)
		}
		if !r.Operator.valid() {
			return zerr.Configf("settings: alert_rules[%d]: invalid operator %q", i, r.Operator)
		}
	}
	return nil
}

// DefaultSettingsPath returns the OS-appropriate config directory path
// spec §6 names ("an OS-appropriate config directory path").
func DefaultSettingsPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", zerr.Configf("settings: resolve config dir: %v", err)
	}
	return filepath.Join(dir, "zensight", "settings.yaml"), nil
}

// LoadSettings reads and validates Settings from path. A missing file is
// not an error: it yields defaulted, empty Settings, the same
// first-run behavior engine/internal/runtime.RuntimeConfigManager uses for
// its own config file.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s := &Settings{}
		s.applyDefaults()
		return s, nil
	}
	if err != nil {
		return nil, zerr.Configf("settings: read %s: %v", path, err)
	}
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, zerr.Configf("settings: parse %s: %v", path, err)
	}
	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Save writes s to path as YAML, creating its parent directory if needed.
func (s *Settings) Save(path string) error {
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return zerr.Otherf("", "settings: marshal: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return zerr.Configf("settings: create dir for %s: %v", path, err)
	}
	return os.WriteFile(path, data, 0o644)
}
