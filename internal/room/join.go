package room

import (
	"strings"

	"github.com/charmbracelet/log"

	apperrors "github.com/codetogether/roomsync/internal/errors"
	"github.com/codetogether/roomsync/internal/protocol"
	"github.com/codetogether/roomsync/internal/storage"
)

// IsFatalJoinError reports whether a join rejection means the credential
// itself is bad (wrong password or no such room).
func IsFatalJoinError(reason string) bool {
	r := strings.ToLower(reason)
	return strings.Contains(r, "password") || strings.Contains(r, "not found")
}

// Joiner performs the join handshake for one room visit.
type Joiner struct {
	sender  Sender
	sched   Scheduler
	timings Timings
	logger  *log.Logger

	inFlight    bool
	seq         int // identifies the join request in flight
	joinTimer   Timer
	settleTimer Timer

	// OnJoined runs after a successful join has been applied to the state.
	OnJoined func(st *State, resp protocol.JoinRoomResponse)

	// OnSettled runs once the settle delay after a join has elapsed.
	OnSettled func(st *State)

	// OnRejected runs when the server refuses the join. err is join.fatal
	// or join.rejected.
	OnRejected func(st *State, err error)
}

// NewJoiner creates a Joiner.
func NewJoiner(sender Sender, sched Scheduler, timings Timings) *Joiner {
	return &Joiner{
		sender:  sender,
		sched:   sched,
		timings: timings.withDefaults(),
		logger:  log.WithPrefix("join"),
	}
}

// InFlight reports whether a join request awaits its response.
func (j *Joiner) InFlight() bool {
	return j.inFlight
}

// ScheduleJoin arms the join delay. When it fires, Join runs against the
// state as it is then. A second call restarts the delay.
func (j *Joiner) ScheduleJoin(st *State, cred *storage.Credential) {
	j.joinTimer = stopTimer(j.joinTimer)
	j.joinTimer = j.sched.AfterFunc(j.timings.JoinDelay, func() {
		j.joinTimer = nil
		if err := j.Join(st, cred); err != nil {
			j.logger.Debug("scheduled join skipped", "err", err)
		}
	})
}

// Join sends join-room. It is a no-op returning join.not_ready unless the
// transport is connected, the room is not joined, no join is in flight, and
// cred is present.
func (j *Joiner) Join(st *State, cred *storage.Credential) error {
	switch {
	case cred == nil:
		return apperrors.JoinNotReady("no credential")
	case !st.Connected():
		return apperrors.JoinNotReady("not connected")
	case st.Joined():
		return apperrors.JoinNotReady("already joined")
	case j.inFlight:
		return apperrors.JoinNotReady("join already in progress")
	}

	req := protocol.NewJoinRoomRequest(cred.RoomCode, cred.Username, cred.Password)
	j.inFlight = true
	j.seq++
	seq := j.seq
	j.logger.Info("joining room", "room", cred.RoomCode, "user", cred.Username)

	err := j.sender.RequestFunc(req, func(resp protocol.Message, err error) {
		if seq != j.seq || !j.inFlight {
			// Reset while the request was outstanding; the answer is stale.
			return
		}
		j.handleResponse(st, cred, resp, err)
	})
	if err != nil {
		j.inFlight = false
		return err
	}
	return nil
}

func (j *Joiner) handleResponse(st *State, cred *storage.Credential, resp protocol.Message, err error) {
	j.inFlight = false

	if err != nil {
		j.logger.Warn("join interrupted", "err", err)
		return
	}

	p, ok := resp.Payload.(protocol.JoinRoomResponse)
	if !ok {
		j.logger.Warn("unexpected join response payload", "type", resp.Type)
		return
	}

	if !p.Success {
		reason := p.Error
		if reason == "" {
			reason = "join failed"
		}
		var jerr error
		if IsFatalJoinError(reason) {
			jerr = apperrors.JoinFatal(reason)
		} else {
			jerr = apperrors.JoinRejected(reason)
		}
		j.logger.Warn("join rejected", "room", cred.RoomCode, "reason", reason)
		if j.OnRejected != nil {
			j.OnRejected(st, jerr)
		}
		return
	}

	st.Membership = Membership{Joined: true, RoomCode: cred.RoomCode}
	j.logger.Info("joined room", "room", cred.RoomCode, "files", len(p.Files))
	if j.OnJoined != nil {
		j.OnJoined(st, p)
	}

	j.settleTimer = stopTimer(j.settleTimer)
	j.settleTimer = j.sched.AfterFunc(j.timings.SettleDelay, func() {
		j.settleTimer = nil
		if !st.Joined() {
			return
		}
		if j.OnSettled != nil {
			j.OnSettled(st)
		}
	})
}

// Reset forgets any join in progress and cancels its timers. Membership is
// cleared.
func (j *Joiner) Reset(st *State) {
	j.joinTimer = stopTimer(j.joinTimer)
	j.settleTimer = stopTimer(j.settleTimer)
	j.inFlight = false
	j.seq++
	st.Membership = Membership{}
}
