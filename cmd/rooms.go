package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/codetogether/roomsync/internal/console"
	apperrors "github.com/codetogether/roomsync/internal/errors"
	"github.com/codetogether/roomsync/internal/protocol"
	"github.com/codetogether/roomsync/internal/room"
)

// promptPassword asks for a password on the terminal without echo.
// Replaced in tests.
var promptPassword = func(stderr io.Writer) (string, error) {
	if !console.IsTerminal(os.Stdin) {
		return "", errors.New("--password is required when stdin is not a terminal")
	}
	fmt.Fprint(stderr, "Room password: ")
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(stderr)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}

// defaultUsername is the login name, used when --username is omitted.
func defaultUsername() string {
	for _, key := range []string{"USER", "USERNAME", "LOGNAME"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

func parseFlags(fs *flag.FlagSet, args []string) (ok bool, code int) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return false, 0
		}
		return false, 1
	}
	return true, 0
}

// printError writes err with its code when it carries one.
func printError(w io.Writer, err error) {
	if code, msg := apperrors.ToCodeAndMessage(err); code != apperrors.CodeUnknown && code != apperrors.CodeInternal {
		fmt.Fprintf(w, "Error: %s (%s)\n", msg, code)
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}

func runCreate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := addCommonFlags(fs)
	username := fs.String("username", defaultUsername(), "Name shown to other members")
	password := fs.String("password", "", "Room password (prompted if omitted)")
	qr := fs.Bool("qr", false, "Print the invite as a QR code")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: roomsync create [options]\n\nCreate a room on the server and store its credential.\n\nOptions:\n")
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
	if *password == "" {
		if *password, err = promptPassword(stderr); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}

	store, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to open state database: %v\n", err)
		return 1
	}
	defer store.Close()

	opts := transportOptions(cfg, "")
	code, err := room.CreateRoom(context.Background(), opts, store, *username, *password)
	if err != nil {
		printError(stderr, err)
		return 1
	}

	if *qr {
		DisplayInviteQR(stdout, opts.URL, code)
	} else {
		DisplayInvite(stdout, opts.URL, code)
	}
	fmt.Fprintf(stdout, "Run 'roomsync open' to enter the room.\n")
	return 0
}

func runJoin(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("join", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := addCommonFlags(fs)
	username := fs.String("username", defaultUsername(), "Name shown to other members")
	password := fs.String("password", "", "Room password (prompted if omitted)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: roomsync join [options] <code>\n\nCheck a room's password and store the credential.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if ok, code := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 1
	}

	cfg, err := common.load(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if *password == "" {
		if *password, err = promptPassword(stderr); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}

	store, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to open state database: %v\n", err)
		return 1
	}
	defer store.Close()

	code := room.NormalizeRoomCode(fs.Arg(0))
	if err := room.EnterRoom(context.Background(), transportOptions(cfg, ""), store, code, *username, *password); err != nil {
		printError(stderr, err)
		return 1
	}
	fmt.Fprintf(stdout, "Joined room %s as %s.\n", code, strings.TrimSpace(*username))
	fmt.Fprintf(stdout, "Run 'roomsync open' to enter the room.\n")
	return 0
}

func runFiles(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("files", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := addCommonFlags(fs)
	all := fs.Bool("all", false, "Show the contents of collapsed folders too")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: roomsync files [options]\n\nList the files of the room in the stored credential.\n\nOptions:\n")
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
	opts := transportOptions(cfg, credentialServer(common, cfg, cred))
	files, active, err := room.FetchFiles(context.Background(), opts, store)
	if err != nil {
		printError(stderr, err)
		return 1
	}

	fmt.Fprintf(stdout, "Room %s (%d files)\n", cred.RoomCode, room.FileCount(files))
	printTree(stdout, room.BuildTree(files), active, "  ", *all)
	return 0
}

// printTree writes the tree indented by depth. Collapsed folders hide
// their children unless all is set.
func printTree(w io.Writer, nodes []*room.TreeNode, active, indent string, all bool) {
	for _, n := range nodes {
		if n.Kind == protocol.KindFolder {
			marker := "+"
			if n.Expanded {
				marker = "-"
			}
			fmt.Fprintf(w, "%s%s %s/\n", indent, marker, n.Name)
			if n.Expanded || all {
				printTree(w, n.Children, active, indent+"  ", all)
			}
			continue
		}
		mark := " "
		if n.Path == active {
			mark = "*"
		}
		fmt.Fprintf(w, "%s%s %s  %s\n", indent, mark, n.Name, humanize.Bytes(uint64(n.Size)))
	}
}

func runStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := addCommonFlags(fs)
	limit := fs.Int("n", 10, "Number of recent visits to show")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: roomsync status [options]\n\nShow the stored credential and recent room visits.\n\nOptions:\n")
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
	if cred == nil {
		fmt.Fprintln(stdout, "Not in a room. Run 'roomsync create' or 'roomsync join <code>'.")
	} else {
		fmt.Fprintf(stdout, "Room:     %s\n", cred.RoomCode)
		fmt.Fprintf(stdout, "User:     %s\n", cred.Username)
		fmt.Fprintf(stdout, "Server:   %s\n", credentialServer(common, cfg, cred))
		fmt.Fprintf(stdout, "Since:    %s\n", humanize.Time(cred.CreatedAt))
	}

	visits, err := store.ListVisits(*limit)
	if err != nil {
		printError(stderr, err)
		return 1
	}
	if len(visits) == 0 {
		return 0
	}
	fmt.Fprintln(stdout, "\nRecent visits:")
	for _, v := range visits {
		fmt.Fprintf(stdout, "  %-8s %-12s %-9s joined %s, last seen %s\n",
			v.RoomCode, v.Username, v.Status, humanize.Time(v.JoinedAt), humanize.Time(v.LastSeen))
	}
	return 0
}

func runLogout(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("logout", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := addCommonFlags(fs)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: roomsync logout [options]\n\nForget the stored room credential.\n\nOptions:\n")
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

	if err := store.ClearCredential(); err != nil {
		printError(stderr, err)
		return 1
	}
	fmt.Fprintln(stdout, "Logged out.")
	return 0
}
