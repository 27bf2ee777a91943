package pty

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not exit in time")
	}
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// collector gathers OnOutput chunks.
type collector struct {
	mu  sync.Mutex
	out strings.Builder
}

func (c *collector) add(data string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out.WriteString(data)
}

func (c *collector) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.String()
}

func TestSession_ForwardsOutputAndKeepsReplay(t *testing.T) {
	var got collector
	s := NewSession(SessionConfig{OnOutput: got.add})
	if err := s.Start("/bin/sh", "-c", "printf 'one\\ntwo\\n'"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitDone(t, s)

	if out := normalizeNewlines(got.String()); out != "one\ntwo\n" {
		t.Errorf("output = %q", out)
	}
	if replay := normalizeNewlines(s.Replay()); replay != "one\ntwo\n" {
		t.Errorf("replay = %q", replay)
	}
	if err := s.Error(); err != nil {
		t.Errorf("Error() after normal exit = %v", err)
	}
}

func TestSession_StartsInDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("here"), 0o644); err != nil {
		t.Fatal(err)
	}

	var got collector
	s := NewSession(SessionConfig{Dir: dir, OnOutput: got.add})
	if err := s.Start("/bin/sh", "-c", "cat marker.txt"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitDone(t, s)

	if !strings.Contains(got.String(), "here") {
		t.Errorf("output = %q, want the marker file contents", got.String())
	}
}

func TestSession_PassesEnv(t *testing.T) {
	var got collector
	s := NewSession(SessionConfig{Env: []string{"ROOM_CODE=AB12CD"}, OnOutput: got.add})
	if err := s.Start("/bin/sh", "-c", "echo $ROOM_CODE $TERM"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitDone(t, s)

	if !strings.Contains(got.String(), "AB12CD xterm-256color") {
		t.Errorf("output = %q", got.String())
	}
}

func TestSession_WriteReachesShell(t *testing.T) {
	var got collector
	s := NewSession(SessionConfig{OnOutput: got.add})
	if err := s.Start("/bin/sh", "-c", "read line; echo got:$line"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := s.Write([]byte("hello\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	waitDone(t, s)

	if !strings.Contains(got.String(), "got:hello") {
		t.Errorf("output = %q", got.String())
	}
}

func TestSession_Resize(t *testing.T) {
	s := NewSession(SessionConfig{Cols: 80, Rows: 24})
	if err := s.Start("/bin/sh", "-c", "sleep 5"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() {
		s.Stop()
		waitDone(t, s)
	}()

	if cols, rows := s.Size(); cols != 80 || rows != 24 {
		t.Errorf("initial size = %dx%d", cols, rows)
	}
	if err := s.Resize(120, 40); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	if cols, rows := s.Size(); cols != 120 || rows != 40 {
		t.Errorf("size = %dx%d, want 120x40", cols, rows)
	}
	if err := s.Resize(0, 10); err == nil {
		t.Error("expected error for zero cols")
	}
}

func TestSession_RejectsSecondStart(t *testing.T) {
	s := NewSession(SessionConfig{})
	if err := s.Start("/bin/sh", "-c", "sleep 1"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := s.Start("/bin/sh", "-c", "echo nope"); err == nil {
		t.Fatal("expected error on second Start, got nil")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	waitDone(t, s)
}

func TestSession_StopIdempotent(t *testing.T) {
	s := NewSession(SessionConfig{})
	if err := s.Start("/bin/sh", "-c", "sleep 5"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	waitDone(t, s)
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop = %v", err)
	}
	if s.IsRunning() {
		t.Error("still running after stop")
	}
}

func TestSession_WriteWithoutStart(t *testing.T) {
	s := NewSession(SessionConfig{})
	if _, err := s.Write([]byte("hi")); err == nil {
		t.Fatal("expected error when writing before start")
	}
}

func TestSession_StartInvalidCommand(t *testing.T) {
	s := NewSession(SessionConfig{})
	if err := s.Start("/not/a/command"); err == nil {
		t.Fatal("expected error for invalid command")
	}
}

func TestSession_SanitizesNonUTF8(t *testing.T) {
	var got collector
	s := NewSession(SessionConfig{OnOutput: got.add})
	if err := s.Start("/bin/sh", "-c", "printf '\\377\\n'"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitDone(t, s)

	if !strings.Contains(got.String(), "�") {
		t.Errorf("output = %q, want replacement character", got.String())
	}
}

func TestIncompleteSuffix(t *testing.T) {
	euro := []byte("€") // 3 bytes
	tests := []struct {
		name string
		in   []byte
		want int
	}{
		{"ascii", []byte("abc"), 0},
		{"complete rune", append([]byte("a"), euro...), 0},
		{"one byte of three", append([]byte("a"), euro[0]), 1},
		{"two bytes of three", append([]byte("a"), euro[:2]...), 2},
		{"empty", nil, 0},
	}
	for _, tt := range tests {
		if got := incompleteSuffix(tt.in); got != tt.want {
			t.Errorf("%s: incompleteSuffix = %d, want %d", tt.name, got, tt.want)
		}
	}
}
