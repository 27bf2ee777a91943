// Package pty runs the shells behind room terminals.
// A PTY lets the shell behave as if it were attached to a real terminal, so
// prompts, colors and line editing reach the room member unchanged.
package pty

import (
	"strings"
	"sync"
	"unicode/utf8"
)

// DefaultScrollbackBytes is how much recent output a shell keeps for replay.
const DefaultScrollbackBytes = 64 * 1024

// Scrollback is a thread-safe, byte-bounded buffer of recent terminal output.
//
// Output is kept as the raw chunks read from the PTY so that a replay
// reproduces control sequences exactly. When the total exceeds the limit the
// oldest chunks are dropped:
//
//	limit 8: Write("abcd") -> [abcd]
//	         Write("efg")  -> [abcd efg]
//	         Write("hi")   -> [efg hi]   (abcd dropped)
type Scrollback struct {
	mu     sync.RWMutex
	chunks []string
	size   int
	limit  int
}

// NewScrollback creates a buffer holding at most limit bytes.
// If limit is <= 0, DefaultScrollbackBytes is used.
func NewScrollback(limit int) *Scrollback {
	if limit <= 0 {
		limit = DefaultScrollbackBytes
	}
	return &Scrollback{limit: limit}
}

// Write appends a chunk of output.
func (b *Scrollback) Write(chunk string) {
	if chunk == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(chunk) >= b.limit {
		// A single chunk larger than the whole buffer: keep its tail.
		chunk = trimToRuneStart(chunk[len(chunk)-b.limit:])
		b.chunks = b.chunks[:0]
		b.size = 0
	}

	b.chunks = append(b.chunks, chunk)
	b.size += len(chunk)

	drop := 0
	for b.size > b.limit && drop < len(b.chunks)-1 {
		b.size -= len(b.chunks[drop])
		drop++
	}
	if drop > 0 {
		b.chunks = append(b.chunks[:0], b.chunks[drop:]...)
	}
}

// trimToRuneStart drops leading UTF-8 continuation bytes left by a cut.
func trimToRuneStart(s string) string {
	for len(s) > 0 && !utf8.RuneStart(s[0]) {
		s = s[1:]
	}
	return s
}

// String returns the buffered output, oldest first.
func (b *Scrollback) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return strings.Join(b.chunks, "")
}

// Len returns the number of buffered bytes.
func (b *Scrollback) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Limit returns the configured byte limit.
func (b *Scrollback) Limit() int {
	return b.limit
}

// Clear drops all buffered output.
func (b *Scrollback) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = nil
	b.size = 0
}
