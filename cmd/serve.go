package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/codetogether/roomsync/internal/config"
	"github.com/codetogether/roomsync/internal/devserver"
	"github.com/codetogether/roomsync/internal/mdns"
)

// serveContext ends when the server should stop. Replaced in tests.
var serveContext = func() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runServe(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Path to config file (default: ~/.roomsync/config.toml)")
	addr := fs.String("addr", "", "Listen address (default: "+config.DefaultListenAddr+")")
	roomsDir := fs.String("rooms-dir", "", "Directory for room working copies (default: temporary)")
	shell := fs.String("shell", "", "Command run in each member's terminal (default: $SHELL)")
	useMdns := fs.Bool("mdns", false, "Advertise the server on the local network")
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn, error (default: info)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Usage: roomsync serve [options]

Run a room server. Each room keeps its files in a working directory and
gives every member a terminal rooted there.

Options:
`)
		fs.PrintDefaults()
	}
	if ok, code := parseFlags(fs, args); !ok {
		return code
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *roomsDir != "" {
		cfg.RoomsDir = *roomsDir
	}
	if *shell != "" {
		cfg.ShellCmd = *shell
	}
	if *useMdns {
		cfg.MdnsEnabled = true
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	cfg.ApplyDefaults()
	if err := configureLogging(cfg.LogLevel, stderr); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	srv, err := devserver.New(devserver.Config{
		Addr:     cfg.ListenAddr,
		RoomsDir: cfg.RoomsDir,
		Shell:    cfg.ShellCmd,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := srv.Start(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer srv.Stop()

	fmt.Fprintln(stdout, "Room server running. Clients connect with --server and one of:")
	for _, u := range serverURLs(srv.Addr()) {
		fmt.Fprintf(stdout, "  %s\n", u)
	}
	fmt.Fprintf(stdout, "Rooms directory: %s\n", srv.RoomsDir())

	if cfg.MdnsEnabled {
		_, portStr, _ := net.SplitHostPort(srv.Addr())
		port, _ := strconv.Atoi(portStr)
		adv := mdns.NewAdvertiser(mdns.Config{Port: port})
		if err := adv.Start(); err != nil {
			fmt.Fprintf(stderr, "Warning: mDNS advertisement failed: %v\n", err)
		} else {
			defer adv.Stop()
			fmt.Fprintln(stdout, "Advertising on the local network (mDNS).")
		}
	}

	ctx, cancel := serveContext()
	defer cancel()
	<-ctx.Done()

	fmt.Fprintln(stdout, "Shutting down.")
	return 0
}
