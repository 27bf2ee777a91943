package main

import (
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags.
// Example: go build -ldflags="-X main.Version=v0.1.0" ./cmd
var Version = "dev"

const usage = `roomsync - collaborative coding rooms from the terminal

Usage:
  roomsync <command> [options]

Commands:
  init              Write a config file pointing at a server
  create            Create a room and store its credential
  join <code>       Check a room's password and store the credential
  open [code]       Enter the room: shared buffer, file tree and terminal
  files             List the files of the stored room
  status            Show the stored credential and recent visits
  logout            Forget the stored credential
  serve             Run a room server
  discover          Find room servers on the local network
  version           Print the version
Run 'roomsync <command> --help' for more information on a command.
`

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprint(stdout, usage)
		return 0
	}

	switch args[1] {
	case "init":
		return runInit(args[2:], stdout, stderr)
	case "create":
		return runCreate(args[2:], stdout, stderr)
	case "join":
		return runJoin(args[2:], stdout, stderr)
	case "open":
		return runOpen(args[2:], stdout, stderr)
	case "files":
		return runFiles(args[2:], stdout, stderr)
	case "status":
		return runStatus(args[2:], stdout, stderr)
	case "logout":
		return runLogout(args[2:], stdout, stderr)
	case "serve":
		return runServe(args[2:], stdout, stderr)
	case "discover":
		return runDiscover(args[2:], stdout, stderr)
	case "--help", "-h", "help":
		fmt.Fprint(stdout, usage)
		return 0
	case "--version", "-v", "version":
		fmt.Fprintf(stdout, "roomsync %s\n", Version)
		return 0
	default:
		fmt.Fprintf(stdout, "Unknown command: %s\n", args[1])
		fmt.Fprint(stdout, usage)
		return 1
	}
}
