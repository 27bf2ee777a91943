package room

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/codetogether/roomsync/internal/errors"
	"github.com/codetogether/roomsync/internal/protocol"
	"github.com/codetogether/roomsync/internal/storage"
	"github.com/codetogether/roomsync/internal/transport"
)

type sessionFixture struct {
	clock  *manualClock
	tr     *fakeTransport
	ui     *fakeUI
	editor *fakeEditor
	widget *fakeWidget
	store  *fakeStore
	visits *fakeVisits
	s      *Session
}

func newSessionFixture(t *testing.T, roomCode string, cred *storage.Credential) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		clock:  &manualClock{},
		tr:     newFakeTransport(),
		ui:     &fakeUI{},
		editor: &fakeEditor{},
		widget: &fakeWidget{},
		store:  &fakeStore{cred: cred},
		visits: &fakeVisits{},
	}
	f.s = NewSession(Config{
		RoomCode:  roomCode,
		Store:     f.store,
		Visits:    f.visits,
		Transport: f.tr,
		UI:        f.ui,
		Editor:    f.editor,
		Terminal:  f.widget,
		Scheduler: f.clock,
	})
	t.Cleanup(f.s.Close)
	return f
}

// sync waits until the session loop has handled everything queued so far.
func (f *sessionFixture) sync(t *testing.T) State {
	t.Helper()
	st, err := f.s.Snapshot()
	if err != nil && !apperrors.IsCode(err, apperrors.CodeConnectionClosed) {
		t.Fatalf("Snapshot() error = %v", err)
	}
	return st
}

// setState reports a transport state change and waits for the loop to
// handle it, so timers it arms exist before the clock moves.
func (f *sessionFixture) setState(t *testing.T, st transport.State) State {
	t.Helper()
	f.tr.setState(st)
	return f.sync(t)
}

// advance moves the clock and lets the loop handle the fired timers.
func (f *sessionFixture) advance(t *testing.T, d time.Duration) State {
	t.Helper()
	f.clock.Advance(d)
	return f.sync(t)
}

func (f *sessionFixture) waitDone(t *testing.T) {
	t.Helper()
	select {
	case <-f.s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}
}

// join opens the session and completes a successful join with files.
func (f *sessionFixture) join(t *testing.T, files protocol.FileMap, active string) State {
	t.Helper()
	if err := f.s.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	f.sync(t)
	f.setState(t, transport.State{Kind: transport.Connected})
	f.advance(t, DefaultTimings().JoinDelay)

	if !f.tr.reply(protocol.TypeJoinRoom, protocol.JoinRoomResponse{
		Success:    true,
		Files:      files,
		ActiveFile: active,
	}) {
		t.Fatal("no join-room request outstanding")
	}
	st := f.sync(t)
	if !st.Joined() {
		t.Fatal("not joined after a successful response")
	}
	f.advance(t, DefaultTimings().EchoGuard)
	return st
}

func TestSession_GateRejectsWithoutNetwork(t *testing.T) {
	tests := []struct {
		name     string
		cred     *storage.Credential
		roomCode string
		wantCode string
	}{
		{"no credential", nil, "AB12CD", apperrors.CodeAuthMissing},
		{"other room", validCredential("AB12CD"), "ZZ99ZZ", apperrors.CodeAuthMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSessionFixture(t, tt.roomCode, tt.cred)

			err := f.s.Open(context.Background())
			if !apperrors.IsCode(err, tt.wantCode) {
				t.Fatalf("Open() error = %v, want %s", err, tt.wantCode)
			}
			f.sync(t)
			if f.ui.redirectCount() != 0 {
				t.Fatal("redirected before the delay")
			}

			f.clock.Advance(DefaultTimings().AuthRedirect)
			f.waitDone(t)

			if started, _, _ := f.tr.counts(); started != 0 {
				t.Errorf("transport started %d times, want 0", started)
			}
			if f.ui.redirectCount() != 1 {
				t.Errorf("redirects = %d, want 1", f.ui.redirectCount())
			}
			if codes := f.ui.alertCodes(); len(codes) != 1 || codes[0] != tt.wantCode {
				t.Errorf("alerts = %v", codes)
			}
		})
	}
}

func TestSession_GatePasses(t *testing.T) {
	f := newSessionFixture(t, "AB12CD", validCredential("AB12CD"))

	if err := f.s.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	f.sync(t)
	if started, _, _ := f.tr.counts(); started != 1 {
		t.Errorf("transport started %d times, want 1", started)
	}
}

func TestSession_JoinSeedsFilesAndSettles(t *testing.T) {
	f := newSessionFixture(t, "AB12CD", validCredential("AB12CD"))

	st := f.join(t, protocol.FileMap{"a.js": file("x")}, "a.js")

	if st.ActiveFile != "a.js" || st.Files["a.js"].Content != "x" {
		t.Errorf("state = active %q files %+v", st.ActiveFile, st.Files)
	}
	if f.editor.Text() != "x" {
		t.Errorf("editor = %q, want x", f.editor.Text())
	}

	f.advance(t, DefaultTimings().SettleDelay)
	for _, typ := range []protocol.Type{protocol.TypeGetFiles, protocol.TypeGetWorkingDirectory, protocol.TypeTerminalInit} {
		if got := len(f.tr.sentOfType(typ)); got != 1 {
			t.Errorf("%s sent %d times, want 1", typ, got)
		}
	}

	f.tr.reply(protocol.TypeGetWorkingDirectory, protocol.WorkingDirectoryResponse{WorkingDirectory: "/rooms/AB12CD"})
	if st := f.sync(t); st.WorkingDirectory != "/rooms/AB12CD" {
		t.Errorf("WorkingDirectory = %q", st.WorkingDirectory)
	}

	f.visits.mu.Lock()
	defer f.visits.mu.Unlock()
	if len(f.visits.saved) != 1 || f.visits.saved[0].Status != storage.VisitJoined {
		t.Errorf("visits = %+v", f.visits.saved)
	}
}

func TestSession_FatalJoinClearsCredentialAndRedirects(t *testing.T) {
	f := newSessionFixture(t, "AB12CD", validCredential("AB12CD"))

	if err := f.s.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	f.sync(t)
	f.setState(t, transport.State{Kind: transport.Connected})
	f.advance(t, DefaultTimings().JoinDelay)
	if !f.tr.reply(protocol.TypeJoinRoom, protocol.JoinRoomResponse{Error: "Invalid password"}) {
		t.Fatal("no join-room request outstanding")
	}
	f.sync(t)

	if f.store.current() != nil {
		t.Error("credential not cleared")
	}
	if codes := f.ui.alertCodes(); len(codes) != 1 || codes[0] != apperrors.CodeJoinFatal {
		t.Errorf("alerts = %v", codes)
	}
	if f.ui.redirectCount() != 0 {
		t.Fatal("redirected before the delay")
	}

	f.clock.Advance(DefaultTimings().JoinFailRedirect)
	f.waitDone(t)

	if f.ui.redirectCount() != 1 {
		t.Errorf("redirects = %d, want 1", f.ui.redirectCount())
	}
	if _, detached, disconnected := f.tr.counts(); detached != 1 || disconnected != 1 {
		t.Errorf("detached=%d disconnected=%d, want 1/1", detached, disconnected)
	}

	f.visits.mu.Lock()
	defer f.visits.mu.Unlock()
	if len(f.visits.saved) != 1 || f.visits.saved[0].Status != storage.VisitRejected {
		t.Errorf("visits = %+v", f.visits.saved)
	}
}

func TestSession_RecoverableJoinRejectionStays(t *testing.T) {
	f := newSessionFixture(t, "AB12CD", validCredential("AB12CD"))

	if err := f.s.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	f.sync(t)
	f.setState(t, transport.State{Kind: transport.Connected})
	f.advance(t, DefaultTimings().JoinDelay)
	if !f.tr.reply(protocol.TypeJoinRoom, protocol.JoinRoomResponse{Error: "Room is full"}) {
		t.Fatal("no join-room request outstanding")
	}
	f.advance(t, time.Minute)

	if f.store.current() == nil {
		t.Error("credential cleared on a recoverable rejection")
	}
	if f.ui.redirectCount() != 0 {
		t.Error("redirected on a recoverable rejection")
	}
}

func TestSession_OwnEchoNeverApplied(t *testing.T) {
	f := newSessionFixture(t, "AB12CD", validCredential("AB12CD"))
	f.join(t, protocol.FileMap{"a.js": file("x")}, "a.js")

	f.tr.deliver(protocol.NewCodeUpdateMessage("a.js", "mine", "conn-self"))
	if st := f.sync(t); st.Files["a.js"].Content != "x" || f.editor.Text() != "x" {
		t.Errorf("own update applied: cache %q editor %q", st.Files["a.js"].Content, f.editor.Text())
	}

	f.tr.deliver(protocol.NewCodeUpdateMessage("a.js", "theirs", "conn-other"))
	if st := f.sync(t); st.Files["a.js"].Content != "theirs" || f.editor.Text() != "theirs" {
		t.Errorf("peer update not applied: cache %q editor %q", st.Files["a.js"].Content, f.editor.Text())
	}

	// The widget reports the overwrite; nothing goes back out.
	f.s.LocalEdit("theirs")
	f.advance(t, DefaultTimings().Debounce)
	if got := len(f.tr.sentOfType(protocol.TypeCodeChange)); got != 0 {
		t.Errorf("echo sent %d code-change, want 0", got)
	}
}

func TestSession_LocalEditsDebounced(t *testing.T) {
	f := newSessionFixture(t, "AB12CD", validCredential("AB12CD"))
	f.join(t, protocol.FileMap{"a.js": file("x")}, "a.js")

	for i := 0; i < 10; i++ {
		f.s.LocalEdit("x" + string(rune('a'+i)))
		f.advance(t, 5*time.Millisecond)
	}
	f.advance(t, DefaultTimings().Debounce)

	sent := f.tr.sentOfType(protocol.TypeCodeChange)
	if len(sent) != 1 {
		t.Fatalf("code-change sent %d times, want 1", len(sent))
	}
	if p := sent[0].Payload.(protocol.CodeChangePayload); p.Code != "xj" || p.FileName != "a.js" {
		t.Errorf("payload = %+v", p)
	}
}

func TestSession_EditQueuedBeforeFiredTimerRestartsDebounce(t *testing.T) {
	f := newSessionFixture(t, "AB12CD", validCredential("AB12CD"))
	f.join(t, protocol.FileMap{"a.js": file("x")}, "a.js")
	debounce := DefaultTimings().Debounce

	f.s.LocalEdit("e1")
	f.sync(t)

	// The timer fires while the next edit is already waiting in the inbox.
	release := make(chan struct{})
	f.s.post(func() { <-release })
	f.s.LocalEdit("e2")
	f.clock.Advance(debounce)
	close(release)
	f.sync(t)

	if got := len(f.tr.sentOfType(protocol.TypeCodeChange)); got != 0 {
		t.Fatalf("code-change sent %d times by a cancelled timer, want 0", got)
	}

	f.advance(t, 100*time.Millisecond)
	f.s.LocalEdit("e3")
	f.sync(t)
	f.advance(t, debounce-100*time.Millisecond)
	if got := len(f.tr.sentOfType(protocol.TypeCodeChange)); got != 0 {
		t.Fatalf("code-change sent %d times before the quiet window ended", got)
	}

	f.advance(t, 100*time.Millisecond)
	sent := f.tr.sentOfType(protocol.TypeCodeChange)
	if len(sent) != 1 {
		t.Fatalf("code-change sent %d times, want 1", len(sent))
	}
	if p := sent[0].Payload.(protocol.CodeChangePayload); p.Code != "e3" {
		t.Errorf("sent %q, want e3", p.Code)
	}
}

func TestLoopTimer_StopCancelsQueuedCallback(t *testing.T) {
	f := newSessionFixture(t, "AB12CD", validCredential("AB12CD"))

	ran := false
	release := make(chan struct{})
	f.s.post(func() { <-release })
	timer := f.s.sched.AfterFunc(time.Second, func() { ran = true })
	f.clock.Advance(time.Second)
	if !timer.Stop() {
		t.Error("Stop() = false for a callback still queued")
	}
	close(release)
	f.sync(t)

	if ran {
		t.Error("stopped callback ran")
	}
	if timer.Stop() {
		t.Error("second Stop() = true")
	}
}

func TestSession_FramesIgnoredBeforeJoin(t *testing.T) {
	f := newSessionFixture(t, "AB12CD", validCredential("AB12CD"))

	if err := f.s.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	f.sync(t)
	f.setState(t, transport.State{Kind: transport.Connected})
	f.tr.deliver(protocol.NewFilesUpdateMessage(protocol.FileMap{"a.js": file("x")}))
	f.tr.deliver(protocol.NewTerminalOutputMessage("early"))

	st := f.sync(t)
	if len(st.Files) != 0 {
		t.Errorf("files applied before join: %+v", st.Files)
	}
	if f.widget.output() != "" {
		t.Errorf("terminal written before join: %q", f.widget.output())
	}
}

func TestSession_ReconnectRejoins(t *testing.T) {
	f := newSessionFixture(t, "AB12CD", validCredential("AB12CD"))
	f.join(t, protocol.FileMap{"a.js": file("x")}, "a.js")

	f.setState(t, transport.State{Kind: transport.Reconnecting, Attempt: 1})
	st := f.sync(t)
	if st.Joined() || st.Files != nil || st.ActiveFile != "" {
		t.Errorf("membership kept across a drop: %+v", st)
	}

	f.setState(t, transport.State{Kind: transport.Connected})
	f.advance(t, DefaultTimings().JoinDelay)
	if got := len(f.tr.sentOfType(protocol.TypeJoinRoom)); got != 2 {
		t.Errorf("join-room sent %d times, want 2", got)
	}
}

func TestSession_TransportFailure(t *testing.T) {
	f := newSessionFixture(t, "AB12CD", validCredential("AB12CD"))
	f.join(t, protocol.FileMap{"a.js": file("x")}, "a.js")

	f.setState(t, transport.State{Kind: transport.Failed, Attempt: 5, Err: apperrors.ConnectionFailed(5, nil)})
	st := f.sync(t)

	if st.Joined() {
		t.Error("still joined after failure")
	}
	codes := f.ui.alertCodes()
	if len(codes) == 0 || codes[len(codes)-1] != apperrors.CodeConnectionFailed {
		t.Errorf("alerts = %v", codes)
	}

	f.visits.mu.Lock()
	defer f.visits.mu.Unlock()
	for id, status := range f.visits.statuses {
		if status != storage.VisitFailed {
			t.Errorf("visit %s status = %s, want failed", id, status)
		}
	}
}

func TestSession_TreeOperations(t *testing.T) {
	f := newSessionFixture(t, "AB12CD", validCredential("AB12CD"))
	f.join(t, protocol.FileMap{
		"src":      folder(true),
		"src/a.js": file("x"),
	}, "src/a.js")

	if err := f.s.DeleteItem("src/a.js", protocol.KindFile); !apperrors.IsCode(err, apperrors.CodeGuardLastFile) {
		t.Errorf("DeleteItem(sole file) error = %v", err)
	}
	if err := f.s.MoveItem("src", "src", protocol.KindFolder); !apperrors.IsCode(err, apperrors.CodeGuardMoveIntoSelf) {
		t.Errorf("MoveItem(src, src) error = %v", err)
	}
	if err := f.s.CreateFile("b.js", "src"); err != nil {
		t.Errorf("CreateFile() error = %v", err)
	}

	f.tr.deliver(protocol.New(protocol.TypeItemRenamed, protocol.ItemRenamedPayload{
		OldPath: "src/a.js",
		NewPath: "src/b.js",
		Type:    protocol.KindFile,
	}))
	if st := f.sync(t); st.ActiveFile != "src/b.js" {
		t.Errorf("ActiveFile = %q, want src/b.js", st.ActiveFile)
	}

	if err := f.s.SwitchFile("missing.js"); !apperrors.IsCode(err, apperrors.CodeTreeOperationFailed) {
		t.Errorf("SwitchFile(missing) error = %v", err)
	}
}

func TestSession_DeleteAfterConfirm(t *testing.T) {
	f := newSessionFixture(t, "AB12CD", validCredential("AB12CD"))
	yes := true
	f.ui.autoYes = &yes
	f.join(t, protocol.FileMap{"a.js": file("a"), "b.js": file("b")}, "a.js")

	if err := f.s.DeleteItem("b.js", protocol.KindFile); err != nil {
		t.Fatalf("DeleteItem() error = %v", err)
	}
	f.sync(t)
	if got := len(f.tr.sentOfType(protocol.TypeDeleteItem)); got != 1 {
		t.Errorf("delete-item sent %d times, want 1", got)
	}
}

func TestSession_Membership(t *testing.T) {
	f := newSessionFixture(t, "AB12CD", validCredential("AB12CD"))
	f.join(t, protocol.FileMap{"a.js": file("a")}, "a.js")

	f.tr.deliver(protocol.NewUserMessage(protocol.TypeUserJoined, "u2", "bob"))
	f.tr.deliver(protocol.NewUserMessage(protocol.TypeUserJoined, "u3", "carol"))
	f.tr.deliver(protocol.NewUserMessage(protocol.TypeUserLeft, "u2", "bob"))

	// Callable on a snapshot without binding it first.
	users := f.sync(t).Membership.UserList()
	if len(users) != 1 || users[0].Username != "carol" {
		t.Errorf("users = %+v", users)
	}
}

func TestSession_Terminal(t *testing.T) {
	f := newSessionFixture(t, "AB12CD", validCredential("AB12CD"))
	f.join(t, protocol.FileMap{"a.js": file("a")}, "a.js")

	f.s.TerminalInput("pwd\r")
	f.tr.deliver(protocol.NewTerminalOutputMessage("/rooms/AB12CD\r\n"))
	f.sync(t)

	if got := len(f.tr.sentOfType(protocol.TypeTerminalInput)); got != 1 {
		t.Errorf("terminal-input sent %d times, want 1", got)
	}
	if f.widget.output() != "/rooms/AB12CD\r\n" {
		t.Errorf("widget = %q", f.widget.output())
	}
}

func TestSession_Logout(t *testing.T) {
	f := newSessionFixture(t, "AB12CD", validCredential("AB12CD"))
	f.join(t, protocol.FileMap{"a.js": file("a")}, "a.js")

	if err := f.s.Logout(); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	f.waitDone(t)

	if f.store.current() != nil {
		t.Error("credential kept after logout")
	}
	if f.ui.redirectCount() != 1 {
		t.Errorf("redirects = %d, want 1", f.ui.redirectCount())
	}
	if err := f.s.CreateFile("x.js", ""); !apperrors.IsCode(err, apperrors.CodeConnectionClosed) {
		t.Errorf("operation after logout: %v", err)
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	f := newSessionFixture(t, "AB12CD", validCredential("AB12CD"))
	f.join(t, protocol.FileMap{"a.js": file("a")}, "a.js")

	f.s.Close()
	f.s.Close()

	if _, detached, disconnected := f.tr.counts(); detached != 1 || disconnected != 1 {
		t.Errorf("detached=%d disconnected=%d, want 1/1", detached, disconnected)
	}
}

func TestSession_ContextCancelCloses(t *testing.T) {
	f := newSessionFixture(t, "AB12CD", validCredential("AB12CD"))

	ctx, cancel := context.WithCancel(context.Background())
	if err := f.s.Open(ctx); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	cancel()
	f.waitDone(t)
}
