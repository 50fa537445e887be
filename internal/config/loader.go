package config

import (
	"errors"
	"fmt"
	"os"

	"cascade/pkg/logging"

	"gopkg.in/yaml.v3"
)

// DefaultSettingsFile is the settings file looked up in the working directory
// when no --config flag is given.
const DefaultSettingsFile = "cascade.yaml"

// LoadSettings loads configuration from the given YAML file, layered over the
// defaults. A missing file is not an error; the defaults are returned.
func LoadSettings(path string) (Settings, error) {
	settings := GetDefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Debug("ConfigLoader", "No settings file at %s, using defaults", path)
			return settings, nil
		}
		return Settings{}, fmt.Errorf("error reading settings from %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &settings); err != nil {
		return Settings{}, fmt.Errorf("error loading settings from %s: %w", path, err)
	}

	if err := settings.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid settings in %s: %w", path, err)
	}

	logging.Info("ConfigLoader", "Loaded settings from %s", path)
	return settings, nil
}

// Validate rejects settings values the engine cannot honor.
func (s Settings) Validate() error {
	if s.StopTimeoutMs < 0 {
		return fmt.Errorf("stopTimeoutMs must not be negative, got %d", s.StopTimeoutMs)
	}
	if s.QueueSize <= 0 {
		return fmt.Errorf("queueSize must be positive, got %d", s.QueueSize)
	}
	return nil
}
