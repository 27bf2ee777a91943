package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/codetogether/roomsync/internal/console"
	"github.com/codetogether/roomsync/internal/mirror"
	"github.com/codetogether/roomsync/internal/room"
	"github.com/codetogether/roomsync/internal/transport"
)

func runOpen(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("open", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := addCommonFlags(fs)
	mirrorDir := fs.String("mirror-dir", "", "Directory holding the active file's buffer (default: ./room-<code>)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Usage: roomsync open [options] [code]

Enter the room. The active file is mirrored to a buffer file any editor can
open; saves are sent to the room. The terminal is your shell in the room's
working directory. Press Ctrl-] for the command prompt ("help" lists commands).

Options:
`)
		fs.PrintDefaults()
	}
	if ok, code := parseFlags(fs, args); !ok {
		return code
	}

	cfg, err := common.load(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	store, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to open state database: %v\n", err)
		return 1
	}
	defer store.Close()

	cred, err := store.LoadCredential()
	if err != nil {
		printError(stderr, err)
		return 1
	}
	code := room.NormalizeRoomCode(fs.Arg(0))
	if code == "" && cred != nil {
		code = cred.RoomCode
	}
	if code == "" {
		fmt.Fprintln(stderr, "Error: no room given and none stored. Run 'roomsync join <code>' first.")
		return 1
	}

	dir := *mirrorDir
	if dir == "" {
		dir = cfg.MirrorDir
	}
	if dir == "" {
		dir = "room-" + code
	}

	var session atomic.Pointer[room.Session]
	editor, err := mirror.Open(dir, func(text string) {
		if s := session.Load(); s != nil {
			s.LocalEdit(text)
		}
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer editor.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var con *console.Console
	con = console.New(console.Config{
		In:  os.Stdin,
		Out: stdout,
		OnInput: func(data string) {
			session.Load().TerminalInput(data)
		},
		OnResize: func(cols, rows int) {
			session.Load().TerminalResize(cols, rows)
		},
		OnCommand: func(line string) {
			if execCommand(session.Load(), line, newlineWriter{con}) {
				cancel()
			}
		},
	})

	s := room.NewSession(room.Config{
		RoomCode:  code,
		Store:     store,
		Visits:    store,
		Transport: transport.New(transportOptions(cfg, credentialServer(common, cfg, cred))),
		UI:        con,
		Editor:    editor,
		Terminal:  con,
		Timings:   timingsFromConfig(cfg),
	})
	session.Store(s)
	defer s.Close()

	if err := s.Open(ctx); err != nil {
		printError(stderr, err)
		<-s.Done()
		return 1
	}

	fmt.Fprintf(stdout, "Room %s. Buffer file: %s\r\nPress Ctrl-] for commands.\r\n", code, editor.Path())

	consoleDone := make(chan error, 1)
	go func() { consoleDone <- con.Run(ctx) }()

	select {
	case <-s.Done():
	case <-ctx.Done():
	case err := <-consoleDone:
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
	}
	cancel()
	s.Close()
	return 0
}

// newlineWriter writes through the console, turning "\n" into "\r\n" for
// raw mode.
type newlineWriter struct{ c *console.Console }

func (w newlineWriter) Write(p []byte) (int, error) {
	out := make([]byte, 0, len(p)+8)
	for _, b := range p {
		if b == '\n' {
			out = append(out, '\r')
		}
		out = append(out, b)
	}
	w.c.Write(string(out))
	return len(p), nil
}
