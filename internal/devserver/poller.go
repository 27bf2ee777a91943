package devserver

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Change kinds reported by the Poller.
const (
	ChangeCreated  = "created"
	ChangeModified = "modified"
	ChangeDeleted  = "deleted"
)

// DirEvent is one change observed in a room's working directory.
type DirEvent struct {
	Path   string // slash-separated, relative to the directory
	IsDir  bool
	Change string
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	Root     string
	Interval time.Duration
	OnEvents func([]DirEvent)
	OnError  func(error)
}

// snapshotEntry holds metadata for a single filesystem entry.
type snapshotEntry struct {
	isDir   bool
	size    int64
	modTime time.Time
}

// Poller detects changes made to a room's working directory outside the
// room protocol (from a member's shell, say) by periodic scanning.
type Poller struct {
	config   PollerConfig
	snapshot map[string]snapshotEntry
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.Mutex
	running  bool
	lastErr  string
}

// NewPoller creates a poller (not started).
func NewPoller(config PollerConfig) *Poller {
	if config.Interval <= 0 {
		config.Interval = DefaultPollInterval
	}
	return &Poller{config: config}
}

// Start takes the baseline snapshot and begins polling in the background.
// Changes already present at Start are not reported.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	baseline, errPaths := p.scan()
	p.mu.Lock()
	p.snapshot = baseline
	p.mu.Unlock()
	p.reportScanErrors(errPaths)

	go p.loop(stopCh, doneCh)
}

// Stop ends the poll loop and waits for it to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stopCh)
	<-doneCh
}

func (p *Poller) loop(stopCh <-chan struct{}, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			p.Poll()
		}
	}
}

// Poll runs one scan and reports the changes since the previous one.
func (p *Poller) Poll() {
	newSnap, errPaths := p.scan()
	p.reportScanErrors(errPaths)

	p.mu.Lock()
	oldSnap := p.snapshot
	p.snapshot = newSnap
	p.mu.Unlock()

	events := diffSnapshots(oldSnap, newSnap, errPaths)
	if len(events) > 0 && p.config.OnEvents != nil {
		p.config.OnEvents(events)
	}
}

// scan walks the directory. It skips .git and special files. Paths that
// failed to scan are returned so deletions under them are not inferred.
func (p *Poller) scan() (map[string]snapshotEntry, map[string]bool) {
	snap := make(map[string]snapshotEntry)
	errPaths := make(map[string]bool)
	root := p.config.Root

	_ = filepath.Walk(root, func(absPath string, info os.FileInfo, err error) error {
		relPath, relErr := filepath.Rel(root, absPath)
		if relErr != nil {
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		if err != nil {
			// Vanished mid-scan: a real delete, not a scan failure.
			if os.IsNotExist(err) && relPath != "." {
				return nil
			}
			errPaths[relPath] = true
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if relPath == "." {
			return nil
		}

		if info.Name() == ".git" {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		mode := info.Mode()
		if mode&(os.ModeSymlink|os.ModeSocket|os.ModeNamedPipe|os.ModeDevice|os.ModeCharDevice) != 0 {
			return nil
		}

		snap[relPath] = snapshotEntry{
			isDir:   info.IsDir(),
			size:    info.Size(),
			modTime: info.ModTime(),
		}
		return nil
	})

	return snap, errPaths
}

// reportScanErrors passes scan failures to OnError, once per distinct set
// of failing paths.
func (p *Poller) reportScanErrors(errPaths map[string]bool) {
	if len(errPaths) == 0 {
		p.mu.Lock()
		p.lastErr = ""
		p.mu.Unlock()
		return
	}

	paths := make([]string, 0, len(errPaths))
	for path := range errPaths {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	signature := strings.Join(paths, "\x1f")

	p.mu.Lock()
	if signature == p.lastErr {
		p.mu.Unlock()
		return
	}
	p.lastErr = signature
	p.mu.Unlock()

	if p.config.OnError != nil {
		p.config.OnError(fmt.Errorf("scan failed on %d path(s): %s", len(paths), strings.Join(paths, ", ")))
	}
}

// isUnderErrPath reports whether path is at or below a path that failed
// to scan.
func isUnderErrPath(path string, errPaths map[string]bool) bool {
	for ep := range errPaths {
		if ep == "." || path == ep || strings.HasPrefix(path, ep+"/") {
			return true
		}
	}
	return false
}

// diffSnapshots computes events between two snapshots: deletions first,
// then creations, then modifications, each sorted by path. Sorted
// creations put parents before children.
func diffSnapshots(old, new map[string]snapshotEntry, errPaths map[string]bool) []DirEvent {
	var deleted, created, modified []string

	for path := range old {
		if _, exists := new[path]; !exists && !isUnderErrPath(path, errPaths) {
			deleted = append(deleted, path)
		}
	}
	for path, n := range new {
		o, exists := old[path]
		switch {
		case !exists:
			created = append(created, path)
		case o.isDir != n.isDir:
			deleted = append(deleted, path)
			created = append(created, path)
		case !n.isDir && (o.size != n.size || !o.modTime.Equal(n.modTime)):
			modified = append(modified, path)
		}
	}
	sort.Strings(deleted)
	sort.Strings(created)
	sort.Strings(modified)

	events := make([]DirEvent, 0, len(deleted)+len(created)+len(modified))
	for _, path := range deleted {
		events = append(events, DirEvent{Path: path, IsDir: old[path].isDir, Change: ChangeDeleted})
	}
	for _, path := range created {
		events = append(events, DirEvent{Path: path, IsDir: new[path].isDir, Change: ChangeCreated})
	}
	for _, path := range modified {
		events = append(events, DirEvent{Path: path, Change: ChangeModified})
	}
	return events
}
