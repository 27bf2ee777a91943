package devserver

import (
	"errors"
	"strings"

	"github.com/codetogether/roomsync/internal/protocol"
	"github.com/codetogether/roomsync/internal/pty"
)

// handleTerminalInit starts the member's shell, or reattaches to the one
// still running: the terminal is cleared and the recent output replayed.
func (s *Server) handleTerminalInit(c *Client, p protocol.RoomRequest) {
	r := c.memberRoom(p.RoomCode)
	if r == nil {
		return
	}
	_, username := c.membership()
	key := pty.Key(r.Code, username)

	if sess := s.shells.Get(key); sess != nil && sess.IsRunning() {
		s.reattach(c, r, sess)
		return
	}

	sess, err := s.shells.Create(key, pty.SessionConfig{
		Dir: r.Dir,
		Env: []string{"ROOMSYNC_ROOM=" + r.Code, "ROOMSYNC_USER=" + username},
		OnOutput: func(data string) {
			r.sendToUser(username, protocol.NewTerminalOutputMessage(data))
		},
	})
	if errors.Is(err, pty.ErrSessionExists) {
		// Another connection of the same user is starting it; share it.
		if sess := s.shells.Get(key); sess != nil {
			s.reattach(c, r, sess)
			return
		}
	}
	if err != nil {
		s.terminalUnavailable(c, r, err)
		return
	}

	fields := strings.Fields(s.cfg.Shell)
	if err := sess.Start(fields[0], fields[1:]...); err != nil {
		s.shells.Remove(key, sess)
		s.terminalUnavailable(c, r, err)
		return
	}
	s.logger.Info("terminal started", "room", r.Code, "user", username, "shell", s.cfg.Shell)

	c.sendMessage(protocol.NewTerminalClearMessage())
	c.sendMessage(protocol.New(protocol.TypeTerminalInfo, protocol.TerminalInfoPayload{
		Message: "started",
		Shell:   s.cfg.Shell,
		Cwd:     r.Dir,
	}))

	go func() {
		<-sess.Done()
		s.shells.Remove(key, sess)
		r.sendToUser(username, protocol.New(protocol.TypeTerminalInfo, protocol.TerminalInfoPayload{
			Message: "shell exited",
		}))
	}()
}

func (s *Server) reattach(c *Client, r *Room, sess *pty.Session) {
	c.sendMessage(protocol.NewTerminalClearMessage())
	if replay := sess.Replay(); replay != "" {
		c.sendMessage(protocol.NewTerminalOutputMessage(replay))
	}
	c.sendMessage(protocol.New(protocol.TypeTerminalInfo, protocol.TerminalInfoPayload{
		Message: "reattached",
		Shell:   s.cfg.Shell,
		Cwd:     r.Dir,
	}))
}

func (s *Server) terminalUnavailable(c *Client, r *Room, err error) {
	s.logger.Warn("terminal unavailable", "room", r.Code, "err", err)
	c.sendMessage(protocol.New(protocol.TypeTerminalInfo, protocol.TerminalInfoPayload{
		Message: "terminal unavailable: " + err.Error(),
	}))
}

// handleTerminalInput writes keystrokes to the member's shell.
func (s *Server) handleTerminalInput(c *Client, p protocol.TerminalInputPayload) {
	r := c.memberRoom(p.RoomCode)
	if r == nil {
		return
	}
	if !c.inputLimiter.Allow() {
		s.logger.Debug("terminal input rate limited", "id", c.id)
		return
	}
	_, username := c.membership()
	sess := s.shells.Get(pty.Key(r.Code, username))
	if sess == nil {
		return
	}
	if _, err := sess.Write([]byte(p.Input)); err != nil {
		s.logger.Debug("terminal write failed", "room", r.Code, "err", err)
	}
}

// handleTerminalResize resizes the member's PTY.
func (s *Server) handleTerminalResize(c *Client, p protocol.TerminalResizePayload) {
	r := c.memberRoom(p.RoomCode)
	if r == nil {
		return
	}
	if p.Cols <= 0 || p.Rows <= 0 {
		return
	}
	_, username := c.membership()
	sess := s.shells.Get(pty.Key(r.Code, username))
	if sess == nil || !sess.IsRunning() {
		return
	}
	if err := sess.Resize(p.Cols, p.Rows); err != nil {
		s.logger.Debug("terminal resize failed", "room", r.Code, "err", err)
	}
}

// closeShell stops a member's shell once they have been gone for the
// grace period.
func (s *Server) closeShell(r *Room, username string) {
	if err := s.shells.Close(pty.Key(r.Code, username)); err == nil {
		s.logger.Info("terminal closed", "room", r.Code, "user", username)
	}
}
