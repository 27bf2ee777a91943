// Package console is the terminal side of a room visit: it shows the
// room's shell output, forwards keystrokes to it, and reports size
// changes.
//
// Pressing Ctrl-] switches to a one-line command prompt; the line is handed
// to Config.OnCommand. Yes/no questions asked through Confirm take the next
// key pressed.
package console

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-isatty"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// CommandKey opens the command prompt.
const CommandKey = 0x1d // Ctrl-]

const (
	clearScreen = "\x1b[2J\x1b[H"
	keyEnter    = '\r'
	keyNewline  = '\n'
	keyEscape   = 0x1b
	keyBack     = 0x7f
	keyBackCtrl = 0x08
	keyCtrlC    = 0x03
)

// Config wires a Console to a room session.
type Config struct {
	In  *os.File
	Out io.Writer

	OnInput   func(data string)
	OnResize  func(cols, rows int)
	OnCommand func(line string)

	// Size reports the terminal size. Defaults to term.GetSize on Out when
	// Out is a terminal, otherwise on In.
	Size func() (cols, rows int, err error)
}

// Console implements the terminal widget and the user prompts of a room
// session.
type Console struct {
	cfg    Config
	logger *log.Logger

	mu      sync.Mutex
	command *strings.Builder // non-nil while the prompt is open
	confirm func(bool)       // pending yes/no answer
}

// New creates a console. Run starts it.
func New(cfg Config) *Console {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Size == nil {
		fd := int(cfg.In.Fd())
		if f, ok := cfg.Out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			fd = int(f.Fd())
		}
		cfg.Size = func() (int, int, error) { return term.GetSize(fd) }
	}
	return &Console{cfg: cfg, logger: log.WithPrefix("console")}
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Run puts the input terminal in raw mode, then forwards input and resizes
// until ctx is done or input ends.
func (c *Console) Run(ctx context.Context) error {
	fd := int(c.cfg.In.Fd())
	if IsTerminal(c.cfg.In) {
		oldState, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("raw mode: %w", err)
		}
		defer term.Restore(fd, oldState)
	}

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, unix.SIGWINCH)
	defer signal.Stop(winch)

	c.reportSize()

	input := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := c.cfg.In.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				select {
				case input <- data:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-winch:
			// The session debounces resizes.
			c.reportSize()
		case data := <-input:
			c.handleInput(data)
		case err := <-readErr:
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// Write shows shell output.
func (c *Console) Write(data string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	io.WriteString(c.cfg.Out, data)
}

// Reset clears the screen.
func (c *Console) Reset() {
	c.Write(clearScreen)
}

// Status shows a status line.
func (c *Console) Status(msg string) {
	c.notice("* " + msg)
}

// Alert shows an error.
func (c *Console) Alert(err error) {
	c.notice("! " + err.Error())
}

// Redirect reports that the room view is being left.
func (c *Console) Redirect(reason string) {
	c.notice("leaving room: " + reason)
}

// Confirm asks a yes/no question answered by the next key pressed. A
// question still pending is answered no.
func (c *Console) Confirm(prompt string, answer func(ok bool)) {
	c.mu.Lock()
	previous := c.confirm
	c.confirm = answer
	c.mu.Unlock()

	if previous != nil {
		previous(false)
	}
	c.notice("? " + prompt + " [y/N]")
}

// notice writes msg on a line of its own. In raw mode "\n" does not
// return the carriage.
func (c *Console) notice(msg string) {
	c.Write("\r\n" + msg + "\r\n")
}

func (c *Console) handleInput(data []byte) {
	for len(data) > 0 {
		c.mu.Lock()
		answer := c.confirm
		c.confirm = nil
		prompting := c.command != nil
		c.mu.Unlock()

		switch {
		case answer != nil:
			answer(data[0] == 'y' || data[0] == 'Y')
			data = data[1:]
		case prompting:
			data = c.commandInput(data)
		default:
			i := bytes.IndexByte(data, CommandKey)
			if i < 0 {
				c.forward(data)
				return
			}
			c.forward(data[:i])
			c.openPrompt()
			data = data[i+1:]
		}
	}
}

func (c *Console) forward(data []byte) {
	if len(data) > 0 && c.cfg.OnInput != nil {
		c.cfg.OnInput(string(data))
	}
}

func (c *Console) openPrompt() {
	c.mu.Lock()
	c.command = &strings.Builder{}
	c.mu.Unlock()
	c.Write("\r\nroomsync> ")
}

// commandInput edits the prompt line and returns the bytes left over once
// the line is submitted or cancelled.
func (c *Console) commandInput(data []byte) []byte {
	for i, b := range data {
		switch b {
		case keyEnter, keyNewline:
			c.mu.Lock()
			line := strings.TrimSpace(c.command.String())
			c.command = nil
			c.mu.Unlock()
			c.Write("\r\n")
			if line != "" && c.cfg.OnCommand != nil {
				c.cfg.OnCommand(line)
			}
			return data[i+1:]
		case keyEscape, keyCtrlC:
			c.mu.Lock()
			c.command = nil
			c.mu.Unlock()
			c.Write("\r\n")
			return data[i+1:]
		case keyBack, keyBackCtrl:
			c.mu.Lock()
			s := c.command.String()
			if s != "" {
				c.command.Reset()
				c.command.WriteString(s[:len(s)-1])
				io.WriteString(c.cfg.Out, "\b \b")
			}
			c.mu.Unlock()
		default:
			if b < 0x20 {
				continue
			}
			c.mu.Lock()
			c.command.WriteByte(b)
			c.cfg.Out.Write([]byte{b})
			c.mu.Unlock()
		}
	}
	return nil
}

func (c *Console) reportSize() {
	cols, rows, err := c.cfg.Size()
	if err != nil {
		c.logger.Debug("terminal size unavailable", "err", err)
		return
	}
	if c.cfg.OnResize != nil {
		c.cfg.OnResize(cols, rows)
	}
}
