package pty

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/creack/pty"
)

// Session is one room member's shell.
//
// The shell runs attached to the slave side of a PTY; the session reads the
// master side for output and writes keystrokes to it. Output is forwarded
// in chunks as it arrives, so prompts and line editing show up without
// waiting for a newline, and the recent part is kept for replay when the
// member's terminal reattaches.
type Session struct {
	// ID identifies the session in a Manager, e.g. "AB12CD/conn-id".
	ID string

	// Dir is the working directory the shell starts in.
	Dir string

	Command   string
	Args      []string
	CreatedAt time.Time

	env        []string
	cols, rows int

	cmd        *exec.Cmd
	ptmx       *os.File
	scrollback *Scrollback

	done       chan struct{}
	outputDone chan struct{}
	err        error

	mu      sync.Mutex
	running bool

	// OnOutput receives each chunk of output, already UTF-8 sanitized.
	OnOutput func(data string)
}

// SessionConfig holds configuration for a shell session.
type SessionConfig struct {
	ID              string
	Dir             string   // Working directory (empty: the server's cwd)
	Env             []string // Extra environment, appended to the server's
	ScrollbackBytes int      // Replay buffer size (0: DefaultScrollbackBytes)
	Cols, Rows      int      // Initial size (0: the PTY default)
	OnOutput        func(data string)
}

// NewSession allocates a session. Call Start to run the shell.
func NewSession(cfg SessionConfig) *Session {
	return &Session{
		ID:         cfg.ID,
		Dir:        cfg.Dir,
		env:        cfg.Env,
		cols:       cfg.Cols,
		rows:       cfg.Rows,
		scrollback: NewScrollback(cfg.ScrollbackBytes),
		done:       make(chan struct{}),
		outputDone: make(chan struct{}),
		OnOutput:   cfg.OnOutput,
	}
}

// Start runs command in a new PTY.
func (s *Session) Start(command string, args ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || s.cmd != nil {
		return fmt.Errorf("session already started")
	}

	s.Command = command
	s.Args = args
	s.CreatedAt = time.Now()

	s.cmd = exec.Command(command, args...)
	s.cmd.Dir = s.Dir
	s.cmd.Env = append(append(os.Environ(), "TERM=xterm-256color"), s.env...)

	var (
		ptmx *os.File
		err  error
	)
	if s.cols > 0 && s.rows > 0 {
		ptmx, err = pty.StartWithSize(s.cmd, &pty.Winsize{Cols: uint16(s.cols), Rows: uint16(s.rows)})
	} else {
		ptmx, err = pty.Start(s.cmd)
	}
	if err != nil {
		s.cmd = nil
		return fmt.Errorf("failed to start PTY: %w", err)
	}

	s.ptmx = ptmx
	s.running = true

	go s.captureOutput()
	go s.waitForExit()

	return nil
}

// captureOutput forwards PTY output until the shell exits.
func (s *Session) captureOutput() {
	defer close(s.outputDone)

	s.mu.Lock()
	ptmx := s.ptmx
	s.mu.Unlock()

	if ptmx == nil {
		return
	}

	buf := make([]byte, 4096)
	// carry holds an incomplete UTF-8 sequence split across reads.
	var carry []byte

	for {
		n, err := ptmx.Read(buf)

		if n > 0 {
			data := append(carry, buf[:n]...)
			carry = nil
			if cut := incompleteSuffix(data); cut > 0 && err == nil {
				carry = append([]byte(nil), data[len(data)-cut:]...)
				data = data[:len(data)-cut]
			}

			chunk := sanitizeUTF8(string(data))
			if chunk != "" {
				s.scrollback.Write(chunk)
				if s.OnOutput != nil {
					s.OnOutput(chunk)
				}
			}
		}

		if err != nil {
			// io.EOF (or EIO on Linux) means the shell exited.
			if err != io.EOF && !isClosedPTY(err) {
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
			}
			return
		}
	}
}

// incompleteSuffix returns how many trailing bytes of b start a UTF-8
// sequence that is not complete yet.
func incompleteSuffix(b []byte) int {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(b); i++ {
		c := b[len(b)-i]
		if !utf8.RuneStart(c) {
			continue
		}
		if !utf8.FullRune(b[len(b)-i:]) {
			return i
		}
		return 0
	}
	return 0
}

// isClosedPTY reports the read error a PTY master returns once the slave
// side is gone (EIO on Linux) or Stop closed it.
func isClosedPTY(err error) bool {
	return errors.Is(err, syscall.EIO) || errors.Is(err, os.ErrClosed)
}

// waitForExit reaps the shell and releases the PTY.
func (s *Session) waitForExit() {
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Wait()
	}

	<-s.outputDone

	s.mu.Lock()
	s.running = false
	if s.ptmx != nil {
		s.ptmx.Close()
		s.ptmx = nil
	}
	s.mu.Unlock()

	close(s.done)
}

// sanitizeUTF8 replaces invalid bytes with U+FFFD; output travels as JSON.
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	result := make([]rune, 0, len(s))
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		result = append(result, r)
		s = s[size:]
	}
	return string(result)
}

// Write sends keystrokes to the shell.
func (s *Session) Write(p []byte) (int, error) {
	s.mu.Lock()
	ptmx := s.ptmx
	s.mu.Unlock()

	if ptmx == nil {
		return 0, fmt.Errorf("session not started")
	}
	return ptmx.Write(p)
}

// Resize changes the PTY size; the shell's foreground process gets SIGWINCH.
func (s *Session) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("invalid dimensions: cols=%d, rows=%d", cols, rows)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.ptmx == nil {
		return fmt.Errorf("session not running")
	}

	if err := pty.Setsize(s.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
		return fmt.Errorf("resize failed: %w", err)
	}
	s.cols, s.rows = cols, rows
	return nil
}

// Size returns the last size set on the PTY (0, 0 if never set).
func (s *Session) Size() (cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

// Replay returns the recent output for a reattaching terminal.
func (s *Session) Replay() string {
	return s.scrollback.String()
}

// Done is closed when the shell has exited and the PTY is released.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// IsRunning reports whether the shell is still running.
func (s *Session) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Error returns the read error that ended output capture, if any.
func (s *Session) Error() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop kills the shell. Safe to call more than once.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	if s.ptmx != nil {
		s.ptmx.Close()
		s.ptmx = nil
	}
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	return nil
}
