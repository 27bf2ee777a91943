// Package mirror keeps a room's active buffer in a file so any local
// editor can work on it.
//
// The file is watched with fsnotify. Saves whose content differs from the
// buffer are reported as edits; SetText rewrites the file.
package mirror

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// DefaultFileName is the buffer file created inside the mirror directory.
const DefaultFileName = "BUFFER"

// Editor is a text buffer backed by a file on disk.
type Editor struct {
	path     string
	onChange func(text string)
	logger   *log.Logger

	mu   sync.Mutex
	text string

	watcher   *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
}

// Open creates dir if needed, truncates the buffer file inside it, and
// starts watching. onChange is called from the watcher goroutine with the
// new content of every save made outside SetText.
func Open(dir string, onChange func(text string)) (*Editor, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create mirror directory: %w", err)
	}
	abs, err := filepath.Abs(filepath.Join(dir, DefaultFileName))
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(abs, nil, 0o644); err != nil {
		return nil, fmt.Errorf("create buffer file: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors that save by rename replace the file.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	e := &Editor{
		path:     abs,
		onChange: onChange,
		logger:   log.WithPrefix("mirror"),
		watcher:  watcher,
		done:     make(chan struct{}),
	}
	go e.watch()
	return e, nil
}

// Path returns the buffer file.
func (e *Editor) Path() string {
	return e.path
}

// Text returns the buffer.
func (e *Editor) Text() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.text
}

// SetText replaces the buffer and rewrites the file.
func (e *Editor) SetText(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.text = text
	if err := os.WriteFile(e.path, []byte(text), 0o644); err != nil {
		e.logger.Warn("write buffer failed", "path", e.path, "err", err)
	}
}

// Close stops watching. The buffer file is left in place.
func (e *Editor) Close() error {
	var err error
	e.closeOnce.Do(func() {
		err = e.watcher.Close()
		<-e.done
	})
	return err
}

func (e *Editor) watch() {
	defer close(e.done)
	for {
		select {
		case event, ok := <-e.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != e.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				e.reload()
			}
		case err, ok := <-e.watcher.Errors:
			if !ok {
				return
			}
			e.logger.Warn("watcher error", "err", err)
		}
	}
}

// reload reads the file and reports it if it differs from the buffer.
// The read happens under the lock so a half-written SetText is never seen.
func (e *Editor) reload() {
	e.mu.Lock()
	data, err := os.ReadFile(e.path)
	if err != nil {
		e.mu.Unlock()
		if !errors.Is(err, os.ErrNotExist) {
			e.logger.Debug("read buffer failed", "err", err)
		}
		return
	}
	text := string(data)
	if text == e.text || !utf8.Valid(data) {
		e.mu.Unlock()
		return
	}
	e.text = text
	e.mu.Unlock()

	if e.onChange != nil {
		e.onChange(text)
	}
}
