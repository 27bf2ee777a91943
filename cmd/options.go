// Package main provides the roomsync CLI.
// This file holds the flags every client command shares and the helpers
// that turn them into a loaded config, a state store and transport options.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/codetogether/roomsync/internal/config"
	"github.com/codetogether/roomsync/internal/room"
	"github.com/codetogether/roomsync/internal/storage"
	"github.com/codetogether/roomsync/internal/transport"
)

// commonFlags are accepted by every command that talks to a server or the
// state database. Flags win over the config file.
type commonFlags struct {
	configPath string
	serverURL  string
	stateDB    string
	logLevel   string
}

func addCommonFlags(fs *flag.FlagSet) *commonFlags {
	f := &commonFlags{}
	fs.StringVar(&f.configPath, "config", "", "Path to config file (default: ~/.roomsync/config.toml)")
	fs.StringVar(&f.serverURL, "server", "", "Room server WebSocket URL (default: "+config.DefaultServerURL+")")
	fs.StringVar(&f.stateDB, "state", "", "Path to the state database (default: ~/.roomsync/roomsync.db)")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error (default: info)")
	return f
}

// load reads the config file, applies flag overrides and defaults, and
// configures logging to stderr.
func (f *commonFlags) load(stderr io.Writer) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.serverURL != "" {
		cfg.ServerURL = f.serverURL
	}
	if f.stateDB != "" {
		cfg.StateDB = f.stateDB
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	cfg.ApplyDefaults()

	if err := configureLogging(cfg.LogLevel, stderr); err != nil {
		return nil, err
	}
	return cfg, nil
}

func configureLogging(level string, w io.Writer) error {
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q", level)
	}
	log.SetOutput(w)
	log.SetLevel(lvl)
	return nil
}

// openStore opens the state database, creating its directory.
func openStore(cfg *config.Config) (*storage.SQLiteStore, error) {
	if cfg.StateDB != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.StateDB), 0o700); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}
	return storage.NewSQLiteStore(cfg.StateDB)
}

// transportOptions builds the connection options for serverURL.
func transportOptions(cfg *config.Config, serverURL string) transport.Options {
	if serverURL == "" {
		serverURL = cfg.ServerURL
	}
	return transport.Options{
		URL:              serverURL,
		HandshakeTimeout: config.Millis(cfg.ConnectTimeoutMs),
		MaxAttempts:      cfg.ReconnectAttempts,
		RetryDelay:       config.Millis(cfg.ReconnectDelayMs),
	}
}

// credentialServer picks the server for a stored credential: an explicit
// --server wins, then the server the credential was issued by.
func credentialServer(f *commonFlags, cfg *config.Config, cred *storage.Credential) string {
	if f.serverURL != "" || cred == nil || cred.ServerURL == "" {
		return cfg.ServerURL
	}
	return cred.ServerURL
}

func timingsFromConfig(cfg *config.Config) room.Timings {
	return room.Timings{
		JoinDelay:        config.Millis(cfg.JoinDelayMs),
		SettleDelay:      config.Millis(cfg.SettleDelayMs),
		Debounce:         config.Millis(cfg.DebounceMs),
		EchoGuard:        config.Millis(cfg.EchoGuardMs),
		ResizeDebounce:   config.Millis(cfg.ResizeDebounceMs),
		AuthRedirect:     config.Millis(cfg.AuthRedirectMs),
		JoinFailRedirect: config.Millis(cfg.JoinFailRedirectMs),
	}
}
