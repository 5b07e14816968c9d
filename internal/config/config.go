// Package config loads and defaults the daemon's single YAML config file,
// adapted from the teacher's internal/config to this domain's settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/robertcprice/agent-monitor/internal/privacy"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Adapters  AdaptersConfig  `yaml:"adapters"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Sockets   SocketsConfig   `yaml:"sockets"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Privacy   PrivacyConfig   `yaml:"privacy"`
}

// ServerConfig controls the HTTP endpoint (C6), per §6.
type ServerConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`
	SSEKeepAlive      time.Duration `yaml:"sse_keep_alive"`
	WebhookTimeout    time.Duration `yaml:"webhook_timeout"`
}

// AdaptersConfig enables/tunes each of the three Adapters (C3) and the
// shared discovery-poller interval.
type AdaptersConfig struct {
	Claude       ClaudeAdapterConfig `yaml:"claude"`
	Editor       EditorAdapterConfig `yaml:"editor"`
	Pair         PairAdapterConfig   `yaml:"pair"`
	ScanInterval time.Duration       `yaml:"scan_interval"`
}

type ClaudeAdapterConfig struct {
	Enabled         bool `yaml:"enabled"`
	HealthThreshold int  `yaml:"health_threshold"`
}

type EditorAdapterConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BinaryName string `yaml:"binary_name"`
}

type PairAdapterConfig struct {
	Enabled  bool   `yaml:"enabled"`
	ToolName string `yaml:"tool_name"`
}

// AnalyticsConfig tunes the Manager's global RateLimiter (C4).
type AnalyticsConfig struct {
	MaxCallsPerHour int `yaml:"max_calls_per_hour"`
}

// SocketsConfig carries the IPC (C5) and Bridge (C7) socket paths.
type SocketsConfig struct {
	IPCPath    string `yaml:"ipc_path"`
	BridgePath string `yaml:"bridge_path"`
}

// SnapshotConfig tunes the Status Snapshotter (C8).
type SnapshotConfig struct {
	Path     string        `yaml:"path"`
	Interval time.Duration `yaml:"interval"`
}

// PrivacyConfig controls what session metadata is exposed to connected
// clients, mirrored onto privacy.Filter by NewPrivacyFilter.
type PrivacyConfig struct {
	MaskWorkingDirs bool     `yaml:"mask_working_dirs"`
	MaskSessionIDs  bool     `yaml:"mask_session_ids"`
	MaskPIDs        bool     `yaml:"mask_pids"`
	AllowedPaths    []string `yaml:"allowed_paths"`
	BlockedPaths    []string `yaml:"blocked_paths"`
}

// NewPrivacyFilter converts the config into a privacy.Filter.
func (p *PrivacyConfig) NewPrivacyFilter() *privacy.Filter {
	return &privacy.Filter{
		MaskWorkingDirs: p.MaskWorkingDirs,
		MaskSessionIDs:  p.MaskSessionIDs,
		MaskPIDs:        p.MaskPIDs,
		AllowedPaths:    p.AllowedPaths,
		BlockedPaths:    p.BlockedPaths,
	}
}

func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if cfg.Snapshot.Path == "" {
		cfg.Snapshot.Path = filepath.Join(defaultStateDir(), "agent-monitor", "status.json")
	}

	return cfg, nil
}

// LoadOrDefault loads config from the given path, or returns the default
// config if the path does not exist, per §4's "missing file is not an
// error" rule.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return defaultConfig(), nil
	}
	return Load(path)
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "127.0.0.1",
			Port:              9797,
			BroadcastInterval: 5 * time.Second,
			SSEKeepAlive:      30 * time.Second,
			WebhookTimeout:    10 * time.Second,
		},
		Adapters: AdaptersConfig{
			Claude:       ClaudeAdapterConfig{Enabled: true, HealthThreshold: 3},
			Editor:       EditorAdapterConfig{Enabled: true, BinaryName: "Cursor"},
			Pair:         PairAdapterConfig{Enabled: true, ToolName: "aider"},
			ScanInterval: 45 * time.Second,
		},
		Analytics: AnalyticsConfig{
			MaxCallsPerHour: 1000,
		},
		Sockets: SocketsConfig{
			IPCPath:    "/tmp/agent-monitor.sock",
			BridgePath: "/tmp/terminit.sock",
		},
		Snapshot: SnapshotConfig{
			Path:     filepath.Join(defaultStateDir(), "agent-monitor", "status.json"),
			Interval: 15 * time.Second,
		},
	}
}

func defaultStateDir() string {
	if value := os.Getenv("XDG_STATE_HOME"); value != "" {
		return value
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".local", "state")
}

// Diff compares two configs and returns human-readable descriptions of
// what changed, for the SIGHUP-triggered live-reload path in
// cmd/agent-monitord. Only sections safe to reload at runtime are
// compared; adapter enablement and socket paths require a restart and are
// intentionally not diffed here.
func Diff(old, new *Config) []string {
	var changes []string

	if old.Analytics.MaxCallsPerHour != new.Analytics.MaxCallsPerHour {
		changes = append(changes, fmt.Sprintf("analytics.max_calls_per_hour: %d → %d", old.Analytics.MaxCallsPerHour, new.Analytics.MaxCallsPerHour))
	}

	if old.Privacy.MaskWorkingDirs != new.Privacy.MaskWorkingDirs {
		changes = append(changes, fmt.Sprintf("privacy.mask_working_dirs: %v → %v", old.Privacy.MaskWorkingDirs, new.Privacy.MaskWorkingDirs))
	}
	if old.Privacy.MaskSessionIDs != new.Privacy.MaskSessionIDs {
		changes = append(changes, fmt.Sprintf("privacy.mask_session_ids: %v → %v", old.Privacy.MaskSessionIDs, new.Privacy.MaskSessionIDs))
	}
	if old.Privacy.MaskPIDs != new.Privacy.MaskPIDs {
		changes = append(changes, fmt.Sprintf("privacy.mask_pids: %v → %v", old.Privacy.MaskPIDs, new.Privacy.MaskPIDs))
	}
	if !slices.Equal(old.Privacy.AllowedPaths, new.Privacy.AllowedPaths) {
		changes = append(changes, fmt.Sprintf("privacy.allowed_paths: %v → %v", old.Privacy.AllowedPaths, new.Privacy.AllowedPaths))
	}
	if !slices.Equal(old.Privacy.BlockedPaths, new.Privacy.BlockedPaths) {
		changes = append(changes, fmt.Sprintf("privacy.blocked_paths: %v → %v", old.Privacy.BlockedPaths, new.Privacy.BlockedPaths))
	}

	if old.Server.BroadcastInterval != new.Server.BroadcastInterval {
		changes = append(changes, fmt.Sprintf("server.broadcast_interval: %s → %s", old.Server.BroadcastInterval, new.Server.BroadcastInterval))
	}
	if old.Snapshot.Interval != new.Snapshot.Interval {
		changes = append(changes, fmt.Sprintf("snapshot.interval: %s → %s", old.Snapshot.Interval, new.Snapshot.Interval))
	}
	if old.Adapters.ScanInterval != new.Adapters.ScanInterval {
		changes = append(changes, fmt.Sprintf("adapters.scan_interval: %s → %s", old.Adapters.ScanInterval, new.Adapters.ScanInterval))
	}

	return changes
}

func defaultConfigDir() string {
	if value := os.Getenv("XDG_CONFIG_HOME"); value != "" {
		return value
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".config")
}

// DefaultConfigPath returns the default XDG-compliant config file path.
func DefaultConfigPath() string {
	return filepath.Join(defaultConfigDir(), "agent-monitor", "config.yaml")
}
