/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// AppConfig is the user-editable configuration persisted to a YAML file in the
// user scope. Environment variables are treated as read-only overrides at
// runtime. The hub token never lands on disk; it lives in the OS keychain.

// IdentityConfig is the bootstrap triple resolved at startup. The core never
// calls a network or device API to obtain it.
type IdentityConfig struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Contact string `yaml:"contact"`
}

// StorageConfig controls the snapshot slot and the auto-persist scheduler.
type StorageConfig struct {
	SnapshotPath       string `yaml:"snapshot_path"`
	AutosaveIntervalMs int    `yaml:"autosave_interval_ms"`
}

// HubConfig points at the optional snapshot hub used for remote backups.
type HubConfig struct {
	BaseURL     string `yaml:"base_url"`
	TimeoutMs   int    `yaml:"timeout_ms"`
	TLSInsecure bool   `yaml:"tls_insecure"`
	// Token is not stored on disk; it lives in the OS keychain.
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

type AppConfig struct {
	ConfigVersion int            `yaml:"config_version"`
	Identity      IdentityConfig `yaml:"identity"`
	Storage       StorageConfig  `yaml:"storage"`
	Hub           HubConfig      `yaml:"hub"`
	Logging       LoggingConfig  `yaml:"logging"`
}

// Defaults returns the application defaults.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: 1,
		Identity:      IdentityConfig{ID: "default-user-001", Name: "Default User", Contact: "default@localhost"},
		Storage:       StorageConfig{SnapshotPath: "", AutosaveIntervalMs: 30000},
		Hub:           HubConfig{BaseURL: "http://localhost:8080", TimeoutMs: 15000, TLSInsecure: false},
		Logging:       LoggingConfig{Level: "info", Format: "console", Source: false, File: ""},
	}
}

// Env var names used as overrides.
const (
	EnvIdentityID      = "GST_IDENTITY_ID"
	EnvIdentityName    = "GST_IDENTITY_NAME"
	EnvIdentityContact = "GST_IDENTITY_CONTACT"
	EnvSnapshotPath    = "GST_SNAPSHOT_PATH"
	EnvAutosaveMs      = "GST_AUTOSAVE_INTERVAL_MS"
	EnvHubURL          = "GST_HUB_URL"
	EnvHubTimeoutMs    = "GST_HUB_TIMEOUT_MS"
	EnvHubTLSInsec     = "GST_TLS_INSECURE"
	// EnvLogLevel Logging envs
	EnvLogLevel  = "GST_LOG_LEVEL"
	EnvLogFormat = "GST_LOG_FORMAT"
	EnvLogSource = "GST_LOG_SOURCE"
	EnvLogFile   = "GST_LOG_FILE"
)

// Service/keys for OS keyring.
const (
	keyringService = "GenStudio"
	keyringToken   = "hub_token"
)

// ConfigPath returns the per-user config file path.
func ConfigPath() (string, error) {
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" { // fallback
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "GenStudio")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "GenStudio")
	default: // linux and others
		base = filepath.Join(os.Getenv("HOME"), ".config", "genstudio")
	}
	if base == "" {
		return "", errors.New("cannot resolve config directory")
	}
	return filepath.Join(base, "config.yaml"), nil
}

// DefaultSnapshotPath returns the per-user location of the snapshot slot,
// used when the config does not pin one.
func DefaultSnapshotPath() (string, error) {
	p, err := ConfigPath()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(p), "studio.snapshot"), nil
}

// Load reads the user config file (if present), applies defaults, and merges
// environment overrides. The hub token is loaded from keyring and returned
// separately; it is never kept inside the struct.
func Load() (AppConfig, string, error) {
	cfg := Defaults()
	path, err := ConfigPath()
	if err != nil {
		return cfg, "", err
	}
	if data, err := os.ReadFile(path); err == nil {
		var fileCfg AppConfig
		if err := yaml.Unmarshal(data, &fileCfg); err == nil {
			mergeInto(&cfg, &fileCfg)
		}
	}
	applyEnvOverrides(&cfg)
	tok, _ := tokenStore.Get(keyringService, keyringToken)
	return cfg, tok, nil
}

// Save writes the user config YAML and persists the token into the OS keyring
// (if non-empty).
func Save(cfg AppConfig, token string) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	if token != "" {
		if err := tokenStore.Set(keyringService, keyringToken, token); err != nil {
			return err
		}
	}
	return nil
}

func mergeInto(dst *AppConfig, src *AppConfig) {
	if src.ConfigVersion != 0 {
		dst.ConfigVersion = src.ConfigVersion
	}
	if strings.TrimSpace(src.Identity.ID) != "" {
		dst.Identity.ID = strings.TrimSpace(src.Identity.ID)
	}
	if strings.TrimSpace(src.Identity.Name) != "" {
		dst.Identity.Name = strings.TrimSpace(src.Identity.Name)
	}
	if strings.TrimSpace(src.Identity.Contact) != "" {
		dst.Identity.Contact = strings.TrimSpace(src.Identity.Contact)
	}
	if strings.TrimSpace(src.Storage.SnapshotPath) != "" {
		dst.Storage.SnapshotPath = strings.TrimSpace(src.Storage.SnapshotPath)
	}
	if src.Storage.AutosaveIntervalMs != 0 {
		dst.Storage.AutosaveIntervalMs = src.Storage.AutosaveIntervalMs
	}
	if src.Hub.BaseURL != "" {
		dst.Hub.BaseURL = src.Hub.BaseURL
	}
	if src.Hub.TimeoutMs != 0 {
		dst.Hub.TimeoutMs = src.Hub.TimeoutMs
	}
	dst.Hub.TLSInsecure = src.Hub.TLSInsecure
	// logging
	if strings.TrimSpace(src.Logging.Level) != "" {
		dst.Logging.Level = strings.ToLower(strings.TrimSpace(src.Logging.Level))
	}
	if strings.TrimSpace(src.Logging.Format) != "" {
		dst.Logging.Format = strings.ToLower(strings.TrimSpace(src.Logging.Format))
	}
	dst.Logging.Source = src.Logging.Source
	if strings.TrimSpace(src.Logging.File) != "" {
		dst.Logging.File = strings.TrimSpace(src.Logging.File)
	}
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := strings.TrimSpace(os.Getenv(EnvIdentityID)); v != "" {
		cfg.Identity.ID = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvIdentityName)); v != "" {
		cfg.Identity.Name = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvIdentityContact)); v != "" {
		cfg.Identity.Contact = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvSnapshotPath)); v != "" {
		cfg.Storage.SnapshotPath = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAutosaveMs)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Storage.AutosaveIntervalMs = n
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvHubURL)); v != "" {
		cfg.Hub.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvHubTimeoutMs)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Hub.TimeoutMs = n
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvHubTLSInsec)); v != "" {
		lv := strings.ToLower(v)
		cfg.Hub.TLSInsecure = lv == "1" || lv == "true" || lv == "on" || lv == "yes"
	}
	// logging overrides
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogSource)); v != "" {
		lv := strings.ToLower(v)
		cfg.Logging.Source = lv == "1" || lv == "true" || lv == "on" || lv == "yes"
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFile)); v != "" {
		cfg.Logging.File = v
	}
}
