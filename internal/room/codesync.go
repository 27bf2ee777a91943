package room

import (
	"github.com/charmbracelet/log"

	"github.com/codetogether/roomsync/internal/protocol"
)

// Editor is the text-editing widget bound to the active file.
//
// SetText replaces the buffer. The widget reports every buffer change,
// including ones caused by SetText, through Session.LocalEdit.
type Editor interface {
	Text() string
	SetText(text string)
}

// pendingEdit is the latest unsent local text of one file.
type pendingEdit struct {
	file string
	text string
}

// CodeSync propagates local edits of the active file and applies remote
// ones without echoing them back.
//
// Local edits are debounced: only the last text of a burst is sent. Remote
// edits raise the echo guard for a short window; buffer changes seen while
// it is up are treated as the remote edit arriving in the widget, not as
// typing.
type CodeSync struct {
	sender  Sender
	sched   Scheduler
	timings Timings
	editor  Editor
	connID  func() string
	logger  *log.Logger

	pending  *pendingEdit
	debounce Timer

	guardGen   uint64
	guardTimer Timer
}

// NewCodeSync creates a CodeSync. connID returns this client's connection
// identifier as assigned by the server.
func NewCodeSync(sender Sender, sched Scheduler, timings Timings, editor Editor, connID func() string) *CodeSync {
	return &CodeSync{
		sender:  sender,
		sched:   sched,
		timings: timings.withDefaults(),
		editor:  editor,
		connID:  connID,
		logger:  log.WithPrefix("codesync"),
	}
}

// Pending returns the unsent local text and its file, if any.
func (c *CodeSync) Pending() (file, text string, ok bool) {
	if c.pending == nil {
		return "", "", false
	}
	return c.pending.file, c.pending.text, true
}

// LocalChange handles a buffer change notification from the editor.
func (c *CodeSync) LocalChange(st *State, text string) {
	if st.EchoGuard {
		c.logger.Debug("ignoring buffer change during echo window")
		return
	}
	if st.ActiveFile == "" || !st.Joined() {
		return
	}

	// Keep the cached content current so switching back restores it.
	if e, ok := st.Files[st.ActiveFile]; ok {
		e.Content = text
		st.Files[st.ActiveFile] = e
	}

	c.pending = &pendingEdit{file: st.ActiveFile, text: text}
	c.debounce = stopTimer(c.debounce)
	c.debounce = c.sched.AfterFunc(c.timings.Debounce, func() {
		c.debounce = nil
		c.flush(st)
	})
}

// flush sends the pending edit if the session can.
func (c *CodeSync) flush(st *State) {
	p := c.pending
	c.pending = nil
	if p == nil {
		return
	}

	switch {
	case !st.Connected():
		c.logger.Debug("dropping edit while disconnected", "file", p.file)
		return
	case !st.Joined():
		c.logger.Debug("dropping edit before join", "file", p.file)
		return
	case st.EchoGuard:
		c.logger.Debug("dropping edit during echo window", "file", p.file)
		return
	}

	err := c.sender.Send(protocol.New(protocol.TypeCodeChange, protocol.CodeChangePayload{
		RoomCode: st.Membership.RoomCode,
		Code:     p.text,
		FileName: p.file,
	}))
	if err != nil {
		c.logger.Warn("failed to send code change", "file", p.file, "err", err)
	}
}

// ApplyRemote applies an edit received from the server. fromUser is the
// originating connection ("" for server-side changes). It reports whether the
// editor buffer was overwritten.
func (c *CodeSync) ApplyRemote(st *State, fileName, code, fromUser string) bool {
	if fromUser != "" && fromUser == c.connID() {
		c.logger.Debug("ignoring own edit", "file", fileName)
		return false
	}

	if e, ok := st.Files[fileName]; ok && e.Type == protocol.KindFile {
		e.Content = code
		st.Files[fileName] = e
	}

	if fileName != st.ActiveFile {
		return false
	}
	c.setBuffer(st, code)
	return true
}

// SwitchFile makes name the active file and tells peers. Any unsent edit of
// the previous file is discarded.
func (c *CodeSync) SwitchFile(st *State, name string) bool {
	if !IsFile(st.Files, name) {
		return false
	}
	c.Activate(st, name)

	if st.Joined() && st.Connected() {
		err := c.sender.Send(protocol.New(protocol.TypeSwitchFile, protocol.SwitchFilePayload{
			RoomCode: st.Membership.RoomCode,
			FileName: name,
		}))
		if err != nil {
			c.logger.Warn("failed to send switch-file", "file", name, "err", err)
		}
	}
	return true
}

// Activate binds name (or nothing, if name is "") to the editor without
// notifying peers.
func (c *CodeSync) Activate(st *State, name string) {
	c.debounce = stopTimer(c.debounce)
	c.pending = nil

	st.ActiveFile = name
	content := ""
	if name != "" {
		content = st.Files[name].Content
	}
	c.setBuffer(st, content)
}

// setBuffer overwrites the editor under the echo guard. The guard is
// generation counted: a later overwrite extends it, and only the newest
// clear timer lowers it.
func (c *CodeSync) setBuffer(st *State, text string) {
	st.EchoGuard = true
	c.guardGen++
	gen := c.guardGen

	c.editor.SetText(text)

	c.guardTimer = stopTimer(c.guardTimer)
	c.guardTimer = c.sched.AfterFunc(c.timings.EchoGuard, func() {
		if gen != c.guardGen {
			return
		}
		c.guardTimer = nil
		st.EchoGuard = false
	})
}

// Reset cancels timers and drops any unsent edit.
func (c *CodeSync) Reset(st *State) {
	c.debounce = stopTimer(c.debounce)
	c.guardTimer = stopTimer(c.guardTimer)
	c.pending = nil
	c.guardGen++
	st.EchoGuard = false
}
