package room

import (
	"github.com/charmbracelet/log"

	"github.com/codetogether/roomsync/internal/protocol"
)

// TerminalWidget is the terminal emulator the room's shell is shown in.
type TerminalWidget interface {
	// Write appends raw output.
	Write(data string)
	// Reset clears the screen.
	Reset()
}

// TerminalChannel forwards terminal input and size for this user's shell
// and applies terminal frames to the widget.
type TerminalChannel struct {
	sender  Sender
	sched   Scheduler
	timings Timings
	widget  TerminalWidget
	logger  *log.Logger

	detached bool

	// Latest requested size, and the size last sent to the server.
	cols, rows         int
	sentCols, sentRows int
	resizeTimer        Timer
}

// NewTerminalChannel creates a TerminalChannel.
func NewTerminalChannel(sender Sender, sched Scheduler, timings Timings, widget TerminalWidget) *TerminalChannel {
	return &TerminalChannel{
		sender:  sender,
		sched:   sched,
		timings: timings.withDefaults(),
		widget:  widget,
		logger:  log.WithPrefix("terminal"),
	}
}

// Init asks the server to start (or reattach) this user's shell, then
// reports the known terminal size.
func (t *TerminalChannel) Init(st *State) {
	if t.detached || !st.Joined() {
		return
	}
	err := t.sender.Send(protocol.New(protocol.TypeTerminalInit, protocol.RoomRequest{RoomCode: st.Membership.RoomCode}))
	if err != nil {
		t.logger.Warn("failed to send terminal-init", "err", err)
		return
	}

	// A fresh shell has its own size; report ours again.
	t.sentCols, t.sentRows = 0, 0
	if t.cols > 0 && t.rows > 0 {
		t.sendResize(st)
	}
}

// Input forwards keystrokes immediately.
func (t *TerminalChannel) Input(st *State, data string) {
	if t.detached || data == "" || !st.Joined() {
		return
	}
	err := t.sender.Send(protocol.New(protocol.TypeTerminalInput, protocol.TerminalInputPayload{
		RoomCode: st.Membership.RoomCode,
		Input:    data,
	}))
	if err != nil {
		t.logger.Debug("dropping terminal input", "err", err)
	}
}

// Resize records a new terminal size and sends it once resizes settle.
// Non-positive sizes are ignored.
func (t *TerminalChannel) Resize(st *State, cols, rows int) {
	if t.detached || cols <= 0 || rows <= 0 {
		return
	}
	t.cols, t.rows = cols, rows

	t.resizeTimer = stopTimer(t.resizeTimer)
	t.resizeTimer = t.sched.AfterFunc(t.timings.ResizeDebounce, func() {
		t.resizeTimer = nil
		t.sendResize(st)
	})
}

func (t *TerminalChannel) sendResize(st *State) {
	if t.detached || !st.Joined() || !st.Connected() {
		return
	}
	if t.cols == t.sentCols && t.rows == t.sentRows {
		return
	}
	err := t.sender.Send(protocol.New(protocol.TypeTerminalResize, protocol.TerminalResizePayload{
		RoomCode: st.Membership.RoomCode,
		Cols:     t.cols,
		Rows:     t.rows,
	}))
	if err != nil {
		t.logger.Warn("failed to send terminal-resize", "err", err)
		return
	}
	t.sentCols, t.sentRows = t.cols, t.rows
}

// Apply handles a terminal frame. It reports whether msg was one.
func (t *TerminalChannel) Apply(st *State, msg protocol.Message) bool {
	switch msg.Type {
	case protocol.TypeTerminalOutput:
		if !t.detached {
			t.widget.Write(msg.Payload.(protocol.TerminalOutputPayload).Data)
		}
	case protocol.TypeTerminalClear:
		if !t.detached {
			t.widget.Reset()
		}
	case protocol.TypeTerminalInfo:
		p := msg.Payload.(protocol.TerminalInfoPayload)
		t.logger.Info("terminal info", "message", p.Message, "shell", p.Shell, "cwd", p.Cwd)
	default:
		return false
	}
	return true
}

// Reset cancels a pending resize and forgets what was sent, so the size is
// reported again after the next Init.
func (t *TerminalChannel) Reset() {
	t.resizeTimer = stopTimer(t.resizeTimer)
	t.sentCols, t.sentRows = 0, 0
}

// Detach stops applying frames and forwarding input. The transport is not
// touched.
func (t *TerminalChannel) Detach() {
	t.Reset()
	t.detached = true
}
