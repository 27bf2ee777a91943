package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/codetogether/roomsync/internal/config"
)

func runInit(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file (default: ~/.roomsync/config.toml)")
	serverURL := fs.String("server", config.DefaultServerURL, "Room server WebSocket URL")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: roomsync init [options]\n\nWrite a config file pointing at a room server. An existing file is left alone.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if ok, code := parseFlags(fs, args); !ok {
		return code
	}

	path := *configPath
	if path == "" {
		var err error
		if path, err = config.DefaultConfigPath(); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(stdout, "Config already exists: %s\n", path)
		return 0
	}
	if err := config.WriteDefault(path, *serverURL); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Wrote %s\n", path)
	return 0
}
