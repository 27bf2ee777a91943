package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/codetogether/roomsync/internal/mdns"
)

// discoverServers browses the network. Replaced in tests.
var discoverServers = mdns.Discover

func runDiscover(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("discover", flag.ContinueOnError)
	fs.SetOutput(stderr)
	timeout := fs.Duration("timeout", 3*time.Second, "How long to listen for announcements")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: roomsync discover [options]\n\nFind room servers advertised on the local network.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if ok, code := parseFlags(fs, args); !ok {
		return code
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	servers, err := discoverServers(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if len(servers) == 0 {
		fmt.Fprintln(stdout, "No room servers found.")
		return 0
	}
	for _, s := range servers {
		fmt.Fprintf(stdout, "%-24s %s", s.Name, s.URL())
		if s.Version != "" && s.Version != mdns.ProtocolVersion {
			fmt.Fprintf(stdout, "  (protocol %s)", s.Version)
		}
		fmt.Fprintln(stdout)
	}
	return 0
}
