// Package room is the client-side synchronization core of a room visit.
//
// The components in this package (gate, join, file tree, code sync,
// terminal) are plain state machines. They are not safe for concurrent use:
// a Session owns one of each and drives them from a single event loop,
// passing the loop-owned *State into every handler.
package room

import (
	"sort"

	"github.com/codetogether/roomsync/internal/protocol"
	"github.com/codetogether/roomsync/internal/transport"
)

// Sender is the part of the transport the components write through.
type Sender interface {
	Send(msg protocol.Message) error
	RequestFunc(msg protocol.Message, fn transport.ResponseFunc) error
}

// UI is how a session talks to the person in the room.
//
// All methods are called from the session loop and must not block.
type UI interface {
	// Status replaces the status line.
	Status(msg string)

	// Alert reports an error the user should see.
	Alert(err error)

	// Confirm asks a yes/no question. answer may be called later, from any
	// goroutine; the session routes it back into its loop.
	Confirm(prompt string, answer func(ok bool))

	// Redirect leaves the room view.
	Redirect(reason string)
}

// User is one connected room member.
type User struct {
	ID       string
	Username string
}

// Membership is the room membership of this client.
type Membership struct {
	Joined   bool
	RoomCode string
	Users    map[string]User // keyed by User.ID
}

// AddUser records a member. Repeated notices for the same ID are idempotent.
func (m *Membership) AddUser(u User) {
	if m.Users == nil {
		m.Users = make(map[string]User)
	}
	m.Users[u.ID] = u
}

// RemoveUser forgets a member.
func (m *Membership) RemoveUser(id string) {
	delete(m.Users, id)
}

// UserList returns the members ordered by username, then ID.
func (m Membership) UserList() []User {
	out := make([]User, 0, len(m.Users))
	for _, u := range m.Users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Username != out[j].Username {
			return out[i].Username < out[j].Username
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// State is everything a room visit knows. It is owned by the session loop.
type State struct {
	RoomCode string
	Username string

	// Connection mirrors the transport's last reported state.
	Connection transport.State

	Membership Membership

	// Files is the server's file map. It only changes in response to
	// server frames.
	Files protocol.FileMap

	// ActiveFile is the path bound to the editor, or "". When set it names
	// a file entry in Files.
	ActiveFile string

	// WorkingDirectory is the room's display path on the server.
	WorkingDirectory string

	// EchoGuard is raised while a remote update is being applied to the
	// editor; buffer changes seen meanwhile are not local edits.
	EchoGuard bool
}

// Connected reports whether the transport is currently connected.
func (st *State) Connected() bool {
	return st.Connection.Kind == transport.Connected
}

// Joined reports whether the room join has succeeded.
func (st *State) Joined() bool {
	return st.Membership.Joined
}

// clone returns a deep copy for use outside the loop.
func (st *State) clone() State {
	out := *st
	if st.Files != nil {
		out.Files = st.Files.Clone()
	}
	if st.Membership.Users != nil {
		out.Membership.Users = make(map[string]User, len(st.Membership.Users))
		for k, v := range st.Membership.Users {
			out.Membership.Users[k] = v
		}
	}
	return out
}

// IsFile reports whether path names a file entry.
func IsFile(files protocol.FileMap, path string) bool {
	e, ok := files[path]
	return ok && e.Type == protocol.KindFile
}

// FileCount returns the number of file entries.
func FileCount(files protocol.FileMap) int {
	n := 0
	for _, e := range files {
		if e.Type == protocol.KindFile {
			n++
		}
	}
	return n
}

// FirstFile returns the lexicographically first file path, or "".
func FirstFile(files protocol.FileMap) string {
	first := ""
	for p, e := range files {
		if e.Type != protocol.KindFile {
			continue
		}
		if first == "" || p < first {
			first = p
		}
	}
	return first
}
