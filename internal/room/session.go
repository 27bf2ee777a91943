package room

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	apperrors "github.com/codetogether/roomsync/internal/errors"
	"github.com/codetogether/roomsync/internal/protocol"
	"github.com/codetogether/roomsync/internal/storage"
	"github.com/codetogether/roomsync/internal/transport"
)

// inboxSize bounds the events queued for the session loop.
const inboxSize = 256

// Transport is the connection a Session drives. *transport.Conn implements
// it.
type Transport interface {
	Sender
	URL() string
	Start()
	State() transport.State
	ID() string
	OnStateChange(fn func(transport.State))
	OnFrame(fn func(protocol.Message))
	DetachHandlers()
	Disconnect()
}

// VisitRecorder keeps the room visit history.
type VisitRecorder interface {
	SaveVisit(v *storage.RoomVisit) error
	UpdateVisitStatus(id string, status storage.VisitStatus) error
}

// Config holds everything a Session needs.
type Config struct {
	RoomCode  string
	Store     CredentialStore
	Visits    VisitRecorder // optional
	Transport Transport
	UI        UI
	Editor    Editor
	Terminal  TerminalWidget
	Timings   Timings
	Scheduler Scheduler // defaults to WallClock
}

// Session is one visit to one room. It owns the transport and the sync
// components and runs them on a single event loop goroutine.
//
// The exported methods may be called from any goroutine except the loop
// itself: UI callbacks must not call back into the Session synchronously.
type Session struct {
	cfg    Config
	sched  Scheduler // wraps cfg.Scheduler so callbacks run on the loop
	logger *log.Logger

	inbox     chan func()
	done      chan struct{}
	closing   atomic.Bool
	opened    atomic.Bool
	closeOnce sync.Once

	// Loop-owned below.
	st            State
	cred          *storage.Credential
	joiner        *Joiner
	code          *CodeSync
	tree          *FileTree
	term          *TerminalChannel
	redirectTimer Timer
	visitID       string
	outcome       storage.VisitStatus
	ended         bool
}

// NewSession creates a Session and starts its loop. Call Open to enter the
// room and Close to leave it.
func NewSession(cfg Config) *Session {
	if cfg.Scheduler == nil {
		cfg.Scheduler = WallClock
	}
	cfg.Timings = cfg.Timings.withDefaults()

	s := &Session{
		cfg:    cfg,
		logger: log.WithPrefix("room"),
		inbox:  make(chan func(), inboxSize),
		done:   make(chan struct{}),
	}
	s.sched = loopScheduler{s}
	sender := loopSender{s}

	s.joiner = NewJoiner(sender, s.sched, cfg.Timings)
	s.code = NewCodeSync(sender, s.sched, cfg.Timings, cfg.Editor, cfg.Transport.ID)
	s.tree = NewFileTree(sender, s.code, cfg.UI, s.confirm, cfg.Timings)
	s.term = NewTerminalChannel(sender, s.sched, cfg.Timings, cfg.Terminal)

	s.joiner.OnJoined = s.onJoined
	s.joiner.OnSettled = s.onSettled
	s.joiner.OnRejected = s.onRejected

	go s.run()
	return s
}

// loopSender routes response callbacks onto the loop.
type loopSender struct{ s *Session }

func (l loopSender) Send(msg protocol.Message) error {
	return l.s.cfg.Transport.Send(msg)
}

func (l loopSender) RequestFunc(msg protocol.Message, fn transport.ResponseFunc) error {
	return l.s.cfg.Transport.RequestFunc(msg, func(resp protocol.Message, err error) {
		l.s.post(func() { fn(resp, err) })
	})
}

// loopScheduler runs timer callbacks on the loop.
type loopScheduler struct{ s *Session }

func (l loopScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.inner = l.s.cfg.Scheduler.AfterFunc(d, func() {
		l.s.post(func() {
			if t.state.CompareAndSwap(timerPending, timerRan) {
				fn()
			}
		})
	})
	return t
}

const (
	timerPending int32 = iota
	timerStopped
	timerRan
)

// loopTimer is a timer whose callback has to pass through the inbox. Stop
// also cancels a callback that already fired but is still queued behind
// other events.
type loopTimer struct {
	inner Timer
	state atomic.Int32
}

func (t *loopTimer) Stop() bool {
	t.inner.Stop()
	return t.state.CompareAndSwap(timerPending, timerStopped)
}

func (s *Session) run() {
	for {
		select {
		case fn := <-s.inbox:
			fn()
			if s.ended {
				close(s.done)
				return
			}
		case <-s.done:
			return
		}
	}
}

// post queues fn for the loop. It reports false if the session is closing.
func (s *Session) post(fn func()) bool {
	if s.closing.Load() {
		return false
	}
	select {
	case s.inbox <- fn:
		return true
	case <-s.done:
		return false
	}
}

// call runs fn on the loop and waits for its result.
func (s *Session) call(fn func(st *State) error) error {
	errc := make(chan error, 1)
	if !s.post(func() { errc <- fn(&s.st) }) {
		return apperrors.ConnectionClosed()
	}
	select {
	case err := <-errc:
		return err
	case <-s.done:
		select {
		case err := <-errc:
			return err
		default:
			return apperrors.ConnectionClosed()
		}
	}
}

// confirm asks the UI and delivers the answer on the loop.
func (s *Session) confirm(prompt string, answer func(ok bool)) {
	s.cfg.UI.Confirm(prompt, func(ok bool) {
		s.post(func() { answer(ok) })
	})
}

// Open checks the stored credential and, if it admits the user to the room,
// starts connecting. Joining follows once the transport is up.
//
// On a credential failure Open returns the auth error, the UI is alerted,
// and the session redirects after the auth redirect delay without ever
// touching the network. The session is closed when ctx ends.
func (s *Session) Open(ctx context.Context) error {
	if !s.opened.CompareAndSwap(false, true) {
		return apperrors.Internal("session already opened", nil)
	}

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	cred, err := CheckAuthentication(s.cfg.Store, s.cfg.RoomCode)
	if err != nil {
		s.logger.Warn("credential check failed", "room", s.cfg.RoomCode, "err", err)
		s.post(func() {
			s.cfg.UI.Alert(err)
			s.redirectAfter(s.cfg.Timings.AuthRedirect, apperrors.GetMessage(err), "")
		})
		return err
	}

	s.post(func() { s.start(cred) })
	return nil
}

func (s *Session) start(cred *storage.Credential) {
	s.cred = cred
	s.st.RoomCode = cred.RoomCode
	s.st.Username = cred.Username

	tr := s.cfg.Transport
	tr.OnStateChange(func(ts transport.State) {
		s.post(func() { s.onTransportState(ts) })
	})
	tr.OnFrame(func(msg protocol.Message) {
		s.post(func() { s.onFrame(msg) })
	})

	s.cfg.UI.Status("Connecting to " + tr.URL())
	tr.Start()
}

func (s *Session) onTransportState(ts transport.State) {
	s.st.Connection = ts

	switch ts.Kind {
	case transport.Connecting:
		s.cfg.UI.Status("Connecting...")

	case transport.Connected:
		s.cfg.UI.Status("Connected")
		s.joiner.ScheduleJoin(&s.st, s.cred)

	case transport.Reconnecting:
		s.leaveMembership()
		s.cfg.UI.Status(fmt.Sprintf("Connection lost, reconnecting (attempt %d)...", ts.Attempt))

	case transport.Failed:
		s.leaveMembership()
		s.outcome = storage.VisitFailed
		s.recordOutcome()
		s.cfg.UI.Alert(ts.Err)
		s.cfg.UI.Status("Connection failed")

	case transport.Disconnected:
		s.leaveMembership()
		s.cfg.UI.Status("Disconnected")
	}
}

// leaveMembership discards everything that only exists while joined. A
// later reconnect rejoins from scratch.
func (s *Session) leaveMembership() {
	s.joiner.Reset(&s.st)
	s.code.Reset(&s.st)
	s.term.Reset()
	s.tree.Clear(&s.st)
	s.st.WorkingDirectory = ""
}

func (s *Session) onFrame(msg protocol.Message) {
	if !s.st.Joined() {
		s.logger.Debug("ignoring frame before join", "type", msg.Type)
		return
	}

	switch msg.Type {
	case protocol.TypeCodeUpdate:
		p := msg.Payload.(protocol.CodeUpdatePayload)
		s.code.ApplyRemote(&s.st, p.FileName, p.Code, p.FromUser)

	case protocol.TypeUserJoined:
		p := msg.Payload.(protocol.UserPayload)
		s.st.Membership.AddUser(User{ID: p.UserID, Username: p.Username})
		s.cfg.UI.Status(p.Username + " joined")

	case protocol.TypeUserLeft:
		p := msg.Payload.(protocol.UserPayload)
		s.st.Membership.RemoveUser(p.UserID)
		s.cfg.UI.Status(p.Username + " left")

	default:
		if s.term.Apply(&s.st, msg) || s.tree.Apply(&s.st, msg) {
			return
		}
		s.logger.Debug("unhandled frame", "type", msg.Type)
	}
}

func (s *Session) onJoined(st *State, resp protocol.JoinRoomResponse) {
	s.tree.Seed(st, resp.Files, resp.ActiveFile)
	s.cfg.UI.Status(fmt.Sprintf("Joined room %s as %s", st.RoomCode, st.Username))
	s.recordJoin()
}

// onSettled refreshes what the join response seeded and starts the shell.
func (s *Session) onSettled(st *State) {
	if err := s.tree.Refresh(st); err != nil {
		s.logger.Debug("refresh after join failed", "err", err)
	}

	req := protocol.NewRequest(protocol.TypeGetWorkingDirectory, protocol.RoomRequest{RoomCode: st.Membership.RoomCode})
	err := loopSender{s}.RequestFunc(req, func(resp protocol.Message, err error) {
		if err != nil {
			return
		}
		if p, ok := resp.Payload.(protocol.WorkingDirectoryResponse); ok && st.Joined() {
			st.WorkingDirectory = p.WorkingDirectory
		}
	})
	if err != nil {
		s.logger.Debug("get-working-directory failed", "err", err)
	}

	s.term.Init(st)
}

func (s *Session) onRejected(st *State, err error) {
	s.cfg.UI.Alert(err)
	if !apperrors.IsCode(err, apperrors.CodeJoinFatal) {
		s.cfg.UI.Status("Join failed: " + apperrors.GetMessage(err))
		return
	}

	if cerr := s.cfg.Store.ClearCredential(); cerr != nil {
		s.logger.Error("failed to clear credential", "err", cerr)
	}
	s.outcome = storage.VisitRejected
	s.redirectAfter(s.cfg.Timings.JoinFailRedirect, apperrors.GetMessage(err), storage.VisitRejected)
}

// redirectAfter leaves the room view after d.
func (s *Session) redirectAfter(d time.Duration, reason string, status storage.VisitStatus) {
	s.redirectTimer = stopTimer(s.redirectTimer)
	s.redirectTimer = s.sched.AfterFunc(d, func() {
		s.redirectTimer = nil
		s.cfg.UI.Redirect(reason)
		s.teardown(status)
	})
}

// teardown cancels timers, detaches handlers, and closes the transport, in
// that order. It runs on the loop and ends it.
func (s *Session) teardown(status storage.VisitStatus) {
	if s.ended {
		return
	}
	s.closing.Store(true)

	s.redirectTimer = stopTimer(s.redirectTimer)
	s.joiner.Reset(&s.st)
	s.code.Reset(&s.st)
	s.term.Detach()

	s.cfg.Transport.DetachHandlers()
	s.cfg.Transport.Disconnect()

	if s.outcome == "" {
		s.outcome = status
	}
	s.recordOutcome()

	s.logger.Debug("session closed", "room", s.st.RoomCode)
	s.ended = true
}

func (s *Session) recordJoin() {
	if s.cfg.Visits == nil {
		return
	}
	if s.visitID != "" {
		if err := s.cfg.Visits.UpdateVisitStatus(s.visitID, storage.VisitJoined); err != nil {
			s.logger.Warn("failed to update visit", "err", err)
		}
		return
	}

	now := time.Now()
	visit := &storage.RoomVisit{
		ID:        uuid.NewString(),
		RoomCode:  s.st.RoomCode,
		Username:  s.st.Username,
		ServerURL: s.cfg.Transport.URL(),
		JoinedAt:  now,
		LastSeen:  now,
		Status:    storage.VisitJoined,
	}
	if err := s.cfg.Visits.SaveVisit(visit); err != nil {
		s.logger.Warn("failed to record visit", "err", err)
		return
	}
	s.visitID = visit.ID
}

// recordOutcome stores how the visit ended. Visits that never joined are
// recorded only if they were refused by the server or failed to connect.
func (s *Session) recordOutcome() {
	if s.cfg.Visits == nil || s.outcome == "" {
		return
	}
	if s.visitID != "" {
		if err := s.cfg.Visits.UpdateVisitStatus(s.visitID, s.outcome); err != nil {
			s.logger.Warn("failed to update visit", "err", err)
		}
		return
	}
	if s.cred == nil || s.outcome == storage.VisitLeft {
		return
	}

	now := time.Now()
	visit := &storage.RoomVisit{
		ID:        uuid.NewString(),
		RoomCode:  s.cred.RoomCode,
		Username:  s.cred.Username,
		ServerURL: s.cfg.Transport.URL(),
		JoinedAt:  now,
		LastSeen:  now,
		Status:    s.outcome,
	}
	if err := s.cfg.Visits.SaveVisit(visit); err != nil {
		s.logger.Warn("failed to record visit", "err", err)
		return
	}
	s.visitID = visit.ID
}

// Close leaves the room and waits for the session loop to finish. Safe to
// call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.post(func() { s.teardown(storage.VisitLeft) })
	})
	<-s.done
}

// Done is closed when the session has ended (closed, redirected or logged
// out).
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Logout clears the stored credential and leaves the room.
func (s *Session) Logout() error {
	err := s.call(func(st *State) error {
		err := s.cfg.Store.ClearCredential()
		s.cfg.UI.Redirect("logged out")
		s.teardown(storage.VisitLeft)
		return err
	})
	return err
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() (State, error) {
	var out State
	err := s.call(func(st *State) error {
		out = st.clone()
		return nil
	})
	return out, err
}

// LocalEdit reports a change of the editor buffer.
func (s *Session) LocalEdit(text string) {
	s.post(func() { s.code.LocalChange(&s.st, text) })
}

// SwitchFile makes name the active file.
func (s *Session) SwitchFile(name string) error {
	return s.call(func(st *State) error {
		if !st.Joined() {
			return apperrors.NotJoined()
		}
		if !s.code.SwitchFile(st, name) {
			return apperrors.TreeOperationFailed(fmt.Sprintf("%q is not a file", name))
		}
		return nil
	})
}

// CreateFile requests a new file in parent ("" for the root).
func (s *Session) CreateFile(name, parent string) error {
	return s.call(func(st *State) error { return s.tree.CreateFile(st, name, parent) })
}

// CreateFolder requests a new folder in parent ("" for the root).
func (s *Session) CreateFolder(name, parent string) error {
	return s.call(func(st *State) error { return s.tree.CreateFolder(st, name, parent) })
}

// DeleteItem requests deletion after the user confirms.
func (s *Session) DeleteItem(itemPath string, kind protocol.NodeKind) error {
	return s.call(func(st *State) error { return s.tree.DeleteItem(st, itemPath, kind) })
}

// RenameItem requests giving oldPath the new final segment newName.
func (s *Session) RenameItem(oldPath, newName string) error {
	return s.call(func(st *State) error { return s.tree.RenameItem(st, oldPath, newName) })
}

// MoveItem requests moving source into the folder target ("" for the root).
func (s *Session) MoveItem(source, target string, kind protocol.NodeKind) error {
	return s.call(func(st *State) error { return s.tree.MoveItem(st, source, target, kind) })
}

// ToggleFolder requests expanding or collapsing a folder.
func (s *Session) ToggleFolder(folderPath string) error {
	return s.call(func(st *State) error { return s.tree.ToggleFolder(st, folderPath) })
}

// Refresh requests the full file map.
func (s *Session) Refresh() error {
	return s.call(func(st *State) error { return s.tree.Refresh(st) })
}

// TerminalInput forwards keystrokes to this user's shell.
func (s *Session) TerminalInput(data string) {
	s.post(func() { s.term.Input(&s.st, data) })
}

// TerminalResize reports the terminal widget's size.
func (s *Session) TerminalResize(cols, rows int) {
	s.post(func() { s.term.Resize(&s.st, cols, rows) })
}
