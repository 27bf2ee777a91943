// Package config provides TOML configuration file loading for roomsync.
// The configuration file lives at ~/.roomsync/config.toml by default, but can be
// overridden with the --config flag. CLI flags always take precedence over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the configuration file structure.
// Field names use Go camelCase internally but map to snake_case in TOML files
// via struct tags.
type Config struct {
	// ServerURL is the WebSocket endpoint of the room server.
	// Default: ws://127.0.0.1:7070/ws
	ServerURL string `toml:"server_url"`

	// StateDB is the path to the SQLite database holding the credential
	// record and the room visit history.
	// Default: ~/.roomsync/roomsync.db
	StateDB string `toml:"state_db"`

	// LogLevel controls logging verbosity: debug, info, warn, error.
	// Default: info
	LogLevel string `toml:"log_level"`

	// MirrorDir is where `roomsync open` mirrors the active file for editing.
	// Default: ./room-<code>
	MirrorDir string `toml:"mirror_dir"`

	// Timing knobs, all in milliseconds. Zero means "use the default".
	ConnectTimeoutMs   int `toml:"connect_timeout_ms"`
	ReconnectAttempts  int `toml:"reconnect_attempts"`
	ReconnectDelayMs   int `toml:"reconnect_delay_ms"`
	JoinDelayMs        int `toml:"join_delay_ms"`
	SettleDelayMs      int `toml:"settle_delay_ms"`
	DebounceMs         int `toml:"debounce_ms"`
	EchoGuardMs        int `toml:"echo_guard_ms"`
	ResizeDebounceMs   int `toml:"resize_debounce_ms"`
	AuthRedirectMs     int `toml:"auth_redirect_ms"`
	JoinFailRedirectMs int `toml:"join_fail_redirect_ms"`

	// ListenAddr is the host:port for `roomsync serve`.
	// Default: 127.0.0.1:7070
	ListenAddr string `toml:"listen_addr"`

	// RoomsDir is where the reference server materialises room files.
	// Default: a fresh directory under os.TempDir()
	RoomsDir string `toml:"rooms_dir"`

	// ShellCmd is the command the reference server runs in each terminal.
	// If empty, defaults to $SHELL or /bin/sh.
	ShellCmd string `toml:"shell_cmd"`

	// MdnsEnabled advertises the reference server on the local network.
	// Default: false
	MdnsEnabled bool `toml:"mdns_enabled"`
}

// DefaultConfigDir returns ~/.roomsync.
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".roomsync"), nil
}

// DefaultConfigPath returns the default config file location: ~/.roomsync/config.toml.
// Returns an error only if the user's home directory cannot be determined.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DefaultStatePath returns the default state database location: ~/.roomsync/roomsync.db.
func DefaultStatePath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "roomsync.db"), nil
}

// WriteDefault creates a config file pointing at the given server.
//
// Behavior:
//   - If the file already exists, returns without error (does not overwrite).
//   - Creates the parent directory if it doesn't exist.
func WriteDefault(path string, serverURL string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := fmt.Sprintf(`# roomsync configuration

# Room server WebSocket endpoint
server_url = %q

# debug, info, warn, error
log_level = "info"
`, serverURL)

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Load reads a TOML config file from the given path and returns a Config.
//
// Behavior:
//   - If path is empty, attempts to load from the default location (~/.roomsync/config.toml).
//     Returns an empty Config without error if the default file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed.
//
// Load does not apply defaults; call ApplyDefaults after merging CLI flags.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			return cfg, nil
		}
		path = defaultPath
	} else {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// ApplyDefaults fills every zero-valued field with its default.
func (c *Config) ApplyDefaults() {
	if c.ServerURL == "" {
		c.ServerURL = DefaultServerURL
	}
	if c.StateDB == "" {
		if p, err := DefaultStatePath(); err == nil {
			c.StateDB = p
		} else {
			c.StateDB = "roomsync.db"
		}
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	defaultInt(&c.ConnectTimeoutMs, DefaultConnectTimeoutMs)
	defaultInt(&c.ReconnectAttempts, DefaultReconnectAttempts)
	defaultInt(&c.ReconnectDelayMs, DefaultReconnectDelayMs)
	defaultInt(&c.JoinDelayMs, DefaultJoinDelayMs)
	defaultInt(&c.SettleDelayMs, DefaultSettleDelayMs)
	defaultInt(&c.DebounceMs, DefaultDebounceMs)
	defaultInt(&c.EchoGuardMs, DefaultEchoGuardMs)
	defaultInt(&c.ResizeDebounceMs, DefaultResizeDebounceMs)
	defaultInt(&c.AuthRedirectMs, DefaultAuthRedirectMs)
	defaultInt(&c.JoinFailRedirectMs, DefaultJoinFailRedirectMs)
}

func defaultInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

// Millis converts a millisecond config value to a time.Duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
