package main

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/codetogether/roomsync/internal/protocol"
	"github.com/codetogether/roomsync/internal/room"
)

// roomSession is the part of *room.Session the command prompt drives.
type roomSession interface {
	CreateFile(name, parent string) error
	CreateFolder(name, parent string) error
	DeleteItem(itemPath string, kind protocol.NodeKind) error
	RenameItem(oldPath, newName string) error
	MoveItem(source, target string, kind protocol.NodeKind) error
	ToggleFolder(folderPath string) error
	SwitchFile(name string) error
	Refresh() error
	Snapshot() (room.State, error)
	Logout() error
}

const commandHelp = `Commands:
  new <path>              create a file
  mkdir <path>            create a folder
  rm <path>               delete a file or folder
  mv <path> <folder>      move into folder ("/" for the top level)
  rename <path> <name>    rename in place
  toggle <folder>         expand or collapse a folder
  switch <file>           edit another file
  files                   show the file tree
  users                   show who is in the room
  refresh                 reload the file tree
  logout                  forget the credential and leave
  quit                    leave the room
`

// splitPath splits a room path into its parent folder and final name.
func splitPath(p string) (parent, name string) {
	p = strings.Trim(p, "/")
	parent, name = path.Split(p)
	return strings.TrimSuffix(parent, "/"), name
}

// execCommand runs one prompt line against s, writing feedback to out. It
// reports whether the user asked to leave.
func execCommand(s roomSession, line string, out io.Writer) (quit bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := fields[0], fields[1:]

	need := func(n int, usage string) bool {
		if len(args) != n {
			fmt.Fprintf(out, "usage: %s\n", usage)
			return false
		}
		return true
	}
	report := func(err error) {
		if err != nil {
			fmt.Fprintf(out, "! %s\n", err)
		}
	}
	kindOf := func(p string) (protocol.NodeKind, bool) {
		st, err := s.Snapshot()
		if err != nil {
			report(err)
			return "", false
		}
		e, ok := st.Files[p]
		if !ok {
			fmt.Fprintf(out, "! no such file or folder: %s\n", p)
			return "", false
		}
		return e.Type, true
	}

	switch cmd {
	case "new", "touch":
		if need(1, "new <path>") {
			parent, name := splitPath(args[0])
			report(s.CreateFile(name, parent))
		}
	case "mkdir":
		if need(1, "mkdir <path>") {
			parent, name := splitPath(args[0])
			report(s.CreateFolder(name, parent))
		}
	case "rm", "delete":
		if need(1, "rm <path>") {
			p := strings.Trim(args[0], "/")
			if kind, ok := kindOf(p); ok {
				report(s.DeleteItem(p, kind))
			}
		}
	case "mv", "move":
		if need(2, "mv <path> <folder>") {
			p := strings.Trim(args[0], "/")
			if kind, ok := kindOf(p); ok {
				report(s.MoveItem(p, strings.Trim(args[1], "/"), kind))
			}
		}
	case "rename":
		if need(2, "rename <path> <name>") {
			report(s.RenameItem(strings.Trim(args[0], "/"), args[1]))
		}
	case "toggle":
		if need(1, "toggle <folder>") {
			report(s.ToggleFolder(strings.Trim(args[0], "/")))
		}
	case "switch", "edit":
		if need(1, "switch <file>") {
			report(s.SwitchFile(strings.Trim(args[0], "/")))
		}
	case "refresh":
		report(s.Refresh())
	case "files", "ls":
		st, err := s.Snapshot()
		if err != nil {
			report(err)
			break
		}
		printTree(out, room.BuildTree(st.Files), st.ActiveFile, "", false)
	case "users", "who":
		st, err := s.Snapshot()
		if err != nil {
			report(err)
			break
		}
		fmt.Fprintf(out, "%s (you)\n", st.Username)
		for _, u := range st.Membership.UserList() {
			fmt.Fprintf(out, "%s\n", u.Username)
		}
	case "logout":
		report(s.Logout())
		return true
	case "quit", "exit", "q":
		return true
	case "help", "?":
		fmt.Fprint(out, commandHelp)
	default:
		fmt.Fprintf(out, "unknown command %q, try help\n", cmd)
	}
	return false
}
