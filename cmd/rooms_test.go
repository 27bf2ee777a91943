package main

import (
	"bytes"
	"errors"
	"io"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/codetogether/roomsync/internal/auth"
	"github.com/codetogether/roomsync/internal/devserver"
	"github.com/codetogether/roomsync/internal/protocol"
	"github.com/codetogether/roomsync/internal/room"
)

func init() {
	auth.PasswordCost = bcrypt.MinCost
}

// newRoomServer starts a room server and points HOME at a scratch
// directory so no real config is read.
func newRoomServer(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	srv, err := devserver.New(devserver.Config{RoomsDir: t.TempDir(), Shell: "/bin/sh", PollInterval: -1})
	if err != nil {
		t.Fatal(err)
	}
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	t.Cleanup(func() { srv.Stop() })
	return "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws"
}

var joinLine = regexp.MustCompile(`roomsync join --server \S+ ([A-Z0-9]{6})`)

func TestRoomCommands(t *testing.T) {
	server := newRoomServer(t)
	aliceDB := filepath.Join(t.TempDir(), "alice.db")
	bobDB := filepath.Join(t.TempDir(), "bob.db")
	common := func(db string) []string {
		return []string{"--server", server, "--state", db, "--log-level", "error"}
	}

	code, out, errOut := runWithArgs(append([]string{"roomsync", "create", "--username", "alice", "--password", "s3cret"}, common(aliceDB)...))
	if code != 0 {
		t.Fatalf("create: code %d, stderr %q", code, errOut)
	}
	m := joinLine.FindStringSubmatch(out)
	if m == nil {
		t.Fatalf("no room code in %q", out)
	}
	roomCode := m[1]

	code, out, _ = runWithArgs(append([]string{"roomsync", "status"}, common(aliceDB)...))
	if code != 0 || !strings.Contains(out, "Room:     "+roomCode) || !strings.Contains(out, "User:     alice") {
		t.Errorf("status: code %d, output %q", code, out)
	}

	code, out, errOut = runWithArgs(append([]string{"roomsync", "files"}, common(aliceDB)...))
	if code != 0 {
		t.Fatalf("files: code %d, stderr %q", code, errOut)
	}
	if !strings.Contains(out, "* main.js") || !strings.Contains(out, "(1 files)") {
		t.Errorf("files output %q", out)
	}

	code, _, errOut = runWithArgs(append([]string{"roomsync", "join", "--username", "bob", "--password", "wrong", roomCode}, common(bobDB)...))
	if code != 1 || !strings.Contains(errOut, "join.fatal") {
		t.Errorf("join with wrong password: code %d, stderr %q", code, errOut)
	}
	code, out, errOut = runWithArgs(append([]string{"roomsync", "join", "--username", "bob", "--password", "s3cret", strings.ToLower(roomCode)}, common(bobDB)...))
	if code != 0 || !strings.Contains(out, "Joined room "+roomCode+" as bob") {
		t.Errorf("join: code %d, output %q, stderr %q", code, out, errOut)
	}

	code, out, _ = runWithArgs(append([]string{"roomsync", "logout"}, common(aliceDB)...))
	if code != 0 || !strings.Contains(out, "Logged out") {
		t.Errorf("logout: code %d, output %q", code, out)
	}
	code, out, _ = runWithArgs(append([]string{"roomsync", "status"}, common(aliceDB)...))
	if code != 0 || !strings.Contains(out, "Not in a room") {
		t.Errorf("status after logout: code %d, output %q", code, out)
	}

	code, _, errOut = runWithArgs(append([]string{"roomsync", "files"}, common(aliceDB)...))
	if code != 1 || !strings.Contains(errOut, "auth.missing") {
		t.Errorf("files after logout: code %d, stderr %q", code, errOut)
	}
}

func TestCreateWithQR(t *testing.T) {
	server := newRoomServer(t)
	db := filepath.Join(t.TempDir(), "state.db")

	code, out, errOut := runWithArgs([]string{"roomsync", "create", "--qr", "--username", "alice", "--password", "pw",
		"--server", server, "--state", db, "--log-level", "error"})
	if code != 0 {
		t.Fatalf("create --qr: code %d, stderr %q", code, errOut)
	}
	if !strings.Contains(out, "SCAN TO JOIN") || !strings.Contains(out, "Plain-text fallback") {
		t.Errorf("output %q", out)
	}
}

func TestCreatePromptsForPassword(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	orig := promptPassword
	t.Cleanup(func() { promptPassword = orig })

	prompted := false
	promptPassword = func(io.Writer) (string, error) {
		prompted = true
		return "", errors.New("no terminal")
	}

	code, _, errOut := runWithArgs([]string{"roomsync", "create", "--username", "alice", "--state", ":memory:", "--log-level", "error"})
	if !prompted {
		t.Error("password was not prompted for")
	}
	if code != 1 || !strings.Contains(errOut, "no terminal") {
		t.Errorf("code %d, stderr %q", code, errOut)
	}
}

func TestPrintTree(t *testing.T) {
	files := protocol.FileMap{
		"src":        {Type: protocol.KindFolder, IsExpanded: true},
		"src/a.js":   {Type: protocol.KindFile, Content: "hello"},
		"lib":        {Type: protocol.KindFolder},
		"lib/hidden": {Type: protocol.KindFile},
		"main.js":    {Type: protocol.KindFile},
	}

	var buf bytes.Buffer
	printTree(&buf, room.BuildTree(files), "src/a.js", "", false)
	out := buf.String()
	for _, want := range []string{"- src/\n", "  * a.js  5 B\n", "+ lib/\n", "  main.js  0 B\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("tree missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("collapsed folder contents shown:\n%s", out)
	}

	buf.Reset()
	printTree(&buf, room.BuildTree(files), "", "", true)
	if !strings.Contains(buf.String(), "hidden") {
		t.Errorf("--all did not expand lib:\n%s", buf.String())
	}
}

func TestOpenWithoutRoom(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	code, _, errOut := runWithArgs([]string{"roomsync", "open", "--state", ":memory:", "--log-level", "error"})
	if code != 1 || !strings.Contains(errOut, "no room given") {
		t.Errorf("code %d, stderr %q", code, errOut)
	}
}
