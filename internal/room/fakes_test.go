package room

import (
	"sort"
	"sync"
	"time"

	apperrors "github.com/codetogether/roomsync/internal/errors"
	"github.com/codetogether/roomsync/internal/protocol"
	"github.com/codetogether/roomsync/internal/storage"
	"github.com/codetogether/roomsync/internal/transport"
)

// manualClock is a Scheduler driven by Advance.
type manualClock struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	at      time.Duration
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (c *manualClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &manualTimer{clock: c, at: c.now + d, seq: c.seq, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward by d, firing due timers in order. Timers
// scheduled by a firing callback fire too if they fall within d.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	end := c.now + d
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var due []*manualTimer
		for _, t := range c.timers {
			if !t.stopped && !t.fired && t.at <= end {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			c.now = end
			c.mu.Unlock()
			return
		}
		sort.Slice(due, func(i, j int) bool {
			if due[i].at != due[j].at {
				return due[i].at < due[j].at
			}
			return due[i].seq < due[j].seq
		})
		next := due[0]
		next.fired = true
		c.now = next.at
		c.mu.Unlock()

		next.fn()
	}
}

// Pending returns the number of armed timers.
func (c *manualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type sentRequest struct {
	msg protocol.Message
	fn  transport.ResponseFunc
}

// fakeSender records what components send.
type fakeSender struct {
	sent     []protocol.Message
	requests []sentRequest
	err      error
}

func (f *fakeSender) Send(msg protocol.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) RequestFunc(msg protocol.Message, fn transport.ResponseFunc) error {
	if err := f.Send(msg); err != nil {
		return err
	}
	f.requests = append(f.requests, sentRequest{msg: msg, fn: fn})
	return nil
}

func (f *fakeSender) ofType(t protocol.Type) []protocol.Message {
	var out []protocol.Message
	for _, m := range f.sent {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// reply answers the most recent request of type t.
func (f *fakeSender) reply(t protocol.Type, payload any) bool {
	for i := len(f.requests) - 1; i >= 0; i-- {
		r := f.requests[i]
		if r.msg.Type == t {
			f.requests = append(f.requests[:i], f.requests[i+1:]...)
			r.fn(protocol.NewReply(r.msg, payload), nil)
			return true
		}
	}
	return false
}

// fakeUI records what a session shows the user.
type fakeUI struct {
	mu        sync.Mutex
	statuses  []string
	alerts    []error
	prompts   []string
	answers   []func(bool)
	redirects []string
	autoYes   *bool
}

func (u *fakeUI) Status(msg string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.statuses = append(u.statuses, msg)
}

func (u *fakeUI) Alert(err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.alerts = append(u.alerts, err)
}

func (u *fakeUI) Confirm(prompt string, answer func(ok bool)) {
	u.mu.Lock()
	u.prompts = append(u.prompts, prompt)
	auto := u.autoYes
	if auto == nil {
		u.answers = append(u.answers, answer)
	}
	u.mu.Unlock()
	if auto != nil {
		answer(*auto)
	}
}

func (u *fakeUI) Redirect(reason string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.redirects = append(u.redirects, reason)
}

func (u *fakeUI) alertCodes() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	var out []string
	for _, err := range u.alerts {
		out = append(out, apperrors.GetCode(err))
	}
	return out
}

func (u *fakeUI) redirectCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.redirects)
}

// fakeEditor is a buffer that reports nothing on its own.
type fakeEditor struct {
	mu   sync.Mutex
	text string
	sets int
}

func (e *fakeEditor) Text() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.text
}

func (e *fakeEditor) SetText(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.text = text
	e.sets++
}

type fakeWidget struct {
	mu     sync.Mutex
	out    string
	resets int
}

func (w *fakeWidget) Write(data string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.out += data
}

func (w *fakeWidget) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.out = ""
	w.resets++
}

func (w *fakeWidget) output() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out
}

// fakeStore holds one credential in memory.
type fakeStore struct {
	mu      sync.Mutex
	cred    *storage.Credential
	loadErr error
	cleared int
}

func (s *fakeStore) LoadCredential() (*storage.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.cred == nil {
		return nil, nil
	}
	c := *s.cred
	return &c, nil
}

func (s *fakeStore) SaveCredential(c *storage.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.cred = &cp
	return nil
}

func (s *fakeStore) ClearCredential() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = nil
	s.cleared++
	return nil
}

func (s *fakeStore) current() *storage.Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred
}

func validCredential(code string) *storage.Credential {
	return &storage.Credential{
		RoomCode:      code,
		Username:      "alice",
		Password:      "secret",
		Authenticated: true,
	}
}

// fakeTransport stands in for *transport.Conn. Tests drive its state and
// frames; the session's handlers run on the calling goroutine and post into
// the session loop.
type fakeTransport struct {
	mu           sync.Mutex
	id           string
	state        transport.State
	started      int
	disconnected int
	detached     int
	stateFn      func(transport.State)
	frameFn      func(protocol.Message)
	sent         []protocol.Message
	pending      map[string]sentRequest
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		id:      "conn-self",
		pending: make(map[string]sentRequest),
	}
}

func (f *fakeTransport) URL() string { return "ws://test/ws" }

func (f *fakeTransport) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
}

func (f *fakeTransport) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) ID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.id
}

func (f *fakeTransport) OnStateChange(fn func(transport.State)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateFn = fn
}

func (f *fakeTransport) OnFrame(fn func(protocol.Message)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frameFn = fn
}

func (f *fakeTransport) DetachHandlers() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detached++
	f.stateFn = nil
	f.frameFn = nil
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected++
	f.state = transport.State{Kind: transport.Disconnected}
}

func (f *fakeTransport) Send(msg protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state.Kind != transport.Connected {
		return apperrors.NotConnected()
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) RequestFunc(msg protocol.Message, fn transport.ResponseFunc) error {
	if err := f.Send(msg); err != nil {
		return err
	}
	f.mu.Lock()
	f.pending[msg.ID] = sentRequest{msg: msg, fn: fn}
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) setState(s transport.State) {
	f.mu.Lock()
	f.state = s
	fn := f.stateFn
	f.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (f *fakeTransport) deliver(msg protocol.Message) {
	f.mu.Lock()
	fn := f.frameFn
	f.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

// reply answers the outstanding request of type t. It reports false if
// there is none.
func (f *fakeTransport) reply(t protocol.Type, payload any) bool {
	f.mu.Lock()
	var req sentRequest
	found := false
	for id, r := range f.pending {
		if r.msg.Type == t {
			req, found = r, true
			delete(f.pending, id)
			break
		}
	}
	f.mu.Unlock()
	if !found {
		return false
	}
	req.fn(protocol.NewReply(req.msg, payload), nil)
	return true
}

func (f *fakeTransport) sentOfType(t protocol.Type) []protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.Message
	for _, m := range f.sent {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeTransport) counts() (started, detached, disconnected int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started, f.detached, f.disconnected
}

// fakeVisits records visit history calls.
type fakeVisits struct {
	mu       sync.Mutex
	saved    []storage.RoomVisit
	statuses map[string]storage.VisitStatus
}

func (v *fakeVisits) SaveVisit(rv *storage.RoomVisit) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.saved = append(v.saved, *rv)
	if v.statuses == nil {
		v.statuses = make(map[string]storage.VisitStatus)
	}
	v.statuses[rv.ID] = rv.Status
	return nil
}

func (v *fakeVisits) UpdateVisitStatus(id string, status storage.VisitStatus) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.statuses == nil {
		v.statuses = make(map[string]storage.VisitStatus)
	}
	v.statuses[id] = status
	return nil
}

// joinedState returns a state that is connected and joined to room with the
// given files.
func joinedState(room string, files protocol.FileMap) *State {
	return &State{
		RoomCode:   room,
		Username:   "alice",
		Connection: transport.State{Kind: transport.Connected},
		Membership: Membership{Joined: true, RoomCode: room},
		Files:      files,
	}
}

func file(content string) protocol.FileEntry {
	return protocol.FileEntry{Type: protocol.KindFile, Content: content}
}

func folder(expanded bool) protocol.FileEntry {
	return protocol.FileEntry{Type: protocol.KindFolder, IsExpanded: expanded}
}
