package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	configVersion   = 1
	defaultMediaDir = "media"

	EnvRemoteURL = "HISTKEEP_REMOTE_URL"
	EnvToken     = "HISTKEEP_TOKEN"
)

// Duration is a time.Duration stored as a string such as "500ms".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// ProjectConfig is stored in .histkeep/config.json.
type ProjectConfig struct {
	Version       int      `json:"version"`
	RemoteURL     string   `json:"remote_url,omitempty"`
	Token         string   `json:"token,omitempty"`
	PageLimit     int      `json:"page_limit,omitempty"`
	MaxAttempts   int      `json:"max_attempts,omitempty"`
	BaseDelay     Duration `json:"base_delay,omitempty"`
	MaxDelay      Duration `json:"max_delay,omitempty"`
	FetchTimeout  Duration `json:"fetch_timeout,omitempty"`
	MaxConcurrent int      `json:"max_concurrent,omitempty"`
	MediaDir      string   `json:"media_dir,omitempty"`
	LogLevel      string   `json:"log_level,omitempty"`
}

// DefaultProjectConfig returns the config written by init.
func DefaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version:      configVersion,
		PageLimit:    100,
		MaxAttempts:  5,
		BaseDelay:    Duration(500 * time.Millisecond),
		MaxDelay:     Duration(30 * time.Second),
		FetchTimeout: Duration(20 * time.Second),
		MediaDir:     defaultMediaDir,
	}
}

// ReadProjectConfig loads the project config, fills unset fields with
// defaults and applies environment overrides. A missing file yields the
// defaults.
func ReadProjectConfig(project Project) (ProjectConfig, error) {
	config := DefaultProjectConfig()
	data, err := os.ReadFile(project.ConfigPath())
	if err != nil && !os.IsNotExist(err) {
		return ProjectConfig{}, err
	}
	if err == nil {
		var stored ProjectConfig
		if err := json.Unmarshal(data, &stored); err != nil {
			return ProjectConfig{}, fmt.Errorf("parse %s: %w", project.ConfigPath(), err)
		}
		config = mergeConfig(config, stored)
	}
	if value := strings.TrimSpace(os.Getenv(EnvRemoteURL)); value != "" {
		config.RemoteURL = value
	}
	if value := strings.TrimSpace(os.Getenv(EnvToken)); value != "" {
		config.Token = value
	}
	return config, nil
}

func mergeConfig(base, stored ProjectConfig) ProjectConfig {
	if stored.Version != 0 {
		base.Version = stored.Version
	}
	if stored.RemoteURL != "" {
		base.RemoteURL = stored.RemoteURL
	}
	if stored.Token != "" {
		base.Token = stored.Token
	}
	if stored.PageLimit > 0 {
		base.PageLimit = stored.PageLimit
	}
	if stored.MaxAttempts > 0 {
		base.MaxAttempts = stored.MaxAttempts
	}
	if stored.BaseDelay > 0 {
		base.BaseDelay = stored.BaseDelay
	}
	if stored.MaxDelay > 0 {
		base.MaxDelay = stored.MaxDelay
	}
	if stored.FetchTimeout > 0 {
		base.FetchTimeout = stored.FetchTimeout
	}
	if stored.MaxConcurrent > 0 {
		base.MaxConcurrent = stored.MaxConcurrent
	}
	if stored.MediaDir != "" {
		base.MediaDir = stored.MediaDir
	}
	if stored.LogLevel != "" {
		base.LogLevel = stored.LogLevel
	}
	return base
}

// WriteProjectConfig replaces the project config file atomically.
func WriteProjectConfig(project Project, config ProjectConfig) error {
	if config.Version == 0 {
		config.Version = configVersion
	}
	return writeJSONAtomic(project.ConfigPath(), config)
}

// UpdateProjectConfig applies fn to the stored config and writes it back.
// Environment overrides are not persisted.
func UpdateProjectConfig(project Project, fn func(*ProjectConfig)) (ProjectConfig, error) {
	config := DefaultProjectConfig()
	data, err := os.ReadFile(project.ConfigPath())
	if err != nil && !os.IsNotExist(err) {
		return ProjectConfig{}, err
	}
	if err == nil {
		if err := json.Unmarshal(data, &config); err != nil {
			return ProjectConfig{}, fmt.Errorf("parse %s: %w", project.ConfigPath(), err)
		}
	}
	fn(&config)
	if err := WriteProjectConfig(project, config); err != nil {
		return ProjectConfig{}, err
	}
	return config, nil
}

// MediaPath resolves the media cache directory of project.
func (c ProjectConfig) MediaPath(project Project) string {
	dir := c.MediaDir
	if dir == "" {
		dir = defaultMediaDir
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(project.Dir, dir)
}

func writeJSONAtomic(path string, value any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
