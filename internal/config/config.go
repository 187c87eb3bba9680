// Copyright 2025 Stagecraft Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"stagecraft/internal/artifacts"
)

// EnvConfigDir overrides the config directory, mainly for test isolation.
const EnvConfigDir = "STAGECRAFT_CONFIG_DIR"

// EnvTokenSecret supplies the confirmation token HMAC secret. The
// secret never lives in the settings file.
const EnvTokenSecret = "STAGECRAFT_TOKEN_SECRET"

// getConfigDir returns the config directory path.
// Uses STAGECRAFT_CONFIG_DIR env var if set, otherwise defaults to
// ~/.stagecraft. Computed dynamically to support test isolation.
func getConfigDir() string {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".stagecraft")
}

// ConfigDir returns the configuration directory path.
func ConfigDir() string {
	return getConfigDir()
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(getConfigDir(), "settings.yaml")
}

// LedgerPath returns the ledger database path.
func LedgerPath() string {
	return filepath.Join(getConfigDir(), "ledger.db")
}

// OverlayDir returns the overlay key-value store directory.
func OverlayDir() string {
	return filepath.Join(getConfigDir(), "overlay")
}

// LockPath returns the commit lock file path.
func LockPath() string {
	return filepath.Join(getConfigDir(), "commit.lock")
}

// EnsureConfigDir creates the config directory if it doesn't exist.
func EnsureConfigDir() error {
	return os.MkdirAll(getConfigDir(), 0700)
}

// InitConfigDir initializes the config directory with default files.
func InitConfigDir() error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	settingsPath := SettingsPath()
	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		if err := os.WriteFile(settingsPath, artifacts.DefaultSettings, 0600); err != nil {
			return fmt.Errorf("failed to create default settings: %w", err)
		}
	}
	return nil
}

// RemoteSettings configure the remote repository client.
type RemoteSettings struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

// OverlaySettings configure the staged-edit store.
type OverlaySettings struct {
	Backend  string   `yaml:"backend"` // "badger" or "memory"
	Excludes []string `yaml:"excludes"`
}

// ServerSettings configure the HTTP surface.
type ServerSettings struct {
	Listen         string `yaml:"listen"`
	PreviewBaseURL string `yaml:"preview_base_url"`
	AssetsDir      string `yaml:"assets_dir"` // empty = embedded fallback pages
}

// Settings is the settings.yaml schema.
type Settings struct {
	LogLevel string          `yaml:"log_level"` // trace, debug, info, warn, off
	Remote   RemoteSettings  `yaml:"remote"`
	Overlay  OverlaySettings `yaml:"overlay"`
	Server   ServerSettings  `yaml:"server"`
}

// ApplyDefaults fills zero-value fields with their defaults.
func (s *Settings) ApplyDefaults() {
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	if s.Overlay.Backend == "" {
		s.Overlay.Backend = "badger"
	}
	if s.Overlay.Excludes == nil {
		s.Overlay.Excludes = []string{".git/", "node_modules/", ".DS_Store", "*.log"}
	}
	if s.Server.Listen == "" {
		s.Server.Listen = "127.0.0.1:8787"
	}
	if s.Server.PreviewBaseURL == "" {
		s.Server.PreviewBaseURL = "http://" + s.Server.Listen
	}
}

// TokenSecret returns the HMAC secret from the environment.
func TokenSecret() []byte {
	return []byte(os.Getenv(EnvTokenSecret))
}

// loadDefaultSettings parses defaults from the embedded artifact.
func loadDefaultSettings() Settings {
	var settings Settings
	if err := yaml.Unmarshal(artifacts.DefaultSettings, &settings); err != nil {
		panic("failed to parse embedded default settings: " + err.Error())
	}
	settings.ApplyDefaults()
	return settings
}

// Load reads settings from the config dir. Falls back to embedded
// defaults when no settings file exists.
func Load() (*Settings, error) {
	data, err := os.ReadFile(SettingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			settings := loadDefaultSettings()
			return &settings, nil
		}
		return nil, err
	}

	var settings Settings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, err
	}
	settings.ApplyDefaults()
	return &settings, nil
}

// Save writes settings to the config dir.
func Save(settings *Settings) error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	header := []byte("# Stagecraft settings\n\n")
	return os.WriteFile(SettingsPath(), append(header, data...), 0600)
}

// LogLevelEnabled reports whether the configured level enables logging
// at all.
func (s *Settings) LogLevelEnabled() bool {
	level := strings.ToLower(s.LogLevel)
	return level != "" && level != "off" && level != "none"
}
