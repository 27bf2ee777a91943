package devserver

import (
	"os"
	"strings"
	"unicode/utf8"

	"github.com/codetogether/roomsync/internal/protocol"
)

// maxSyncBytes caps the size of files picked up from the working directory.
const maxSyncBytes = 1 << 20

// dirChanges is what applyDirEvents changed in the file map.
type dirChanges struct {
	synced  []protocol.FileContentPayload // files whose content changed
	changed bool                          // the map itself changed
}

// applyDirEvents folds working directory changes into the file map. Changes
// the room itself wrote (content already equal, paths already present) are
// no-ops, so only edits made outside the protocol surface here.
func (r *Room) applyDirEvents(events []DirEvent) dirChanges {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out dirChanges
	for _, ev := range events {
		if !validPath(ev.Path) {
			continue
		}
		switch ev.Change {
		case ChangeDeleted:
			if _, ok := r.files[ev.Path]; !ok {
				continue
			}
			for p := range r.files {
				if under(p, ev.Path) {
					delete(r.files, p)
				}
			}
			out.changed = true

		case ChangeCreated, ChangeModified:
			if ev.IsDir {
				if e, ok := r.files[ev.Path]; ok && e.Type == protocol.KindFolder {
					continue
				}
				r.ensureParents(ev.Path)
				r.files[ev.Path] = protocol.FileEntry{Type: protocol.KindFolder}
				out.changed = true
				continue
			}

			content, ok := r.readSyncable(ev.Path)
			if !ok {
				continue
			}
			e, exists := r.files[ev.Path]
			if exists && e.Type == protocol.KindFile && e.Content == content {
				continue
			}
			if !exists || e.Type != protocol.KindFile {
				r.ensureParents(ev.Path)
			}
			r.files[ev.Path] = protocol.FileEntry{Type: protocol.KindFile, Content: content}
			out.synced = append(out.synced, protocol.FileContentPayload{FileName: ev.Path, Content: content})
			out.changed = true
		}
	}

	if r.activeFile != "" {
		if e, ok := r.files[r.activeFile]; !ok || e.Type != protocol.KindFile {
			r.activeFile = r.firstFile()
		}
	}
	return out
}

// ensureParents adds any missing ancestor folders of p. Must be called with
// r.mu held.
func (r *Room) ensureParents(p string) {
	segs := strings.Split(p, "/")
	for i := 1; i < len(segs); i++ {
		dir := strings.Join(segs[:i], "/")
		if e, ok := r.files[dir]; !ok || e.Type != protocol.KindFolder {
			r.files[dir] = protocol.FileEntry{Type: protocol.KindFolder}
		}
	}
}

// readSyncable reads a working directory file if it is small UTF-8 text.
func (r *Room) readSyncable(p string) (string, bool) {
	info, err := os.Stat(r.diskPath(p))
	if err != nil || !info.Mode().IsRegular() || info.Size() > maxSyncBytes {
		return "", false
	}
	data, err := os.ReadFile(r.diskPath(p))
	if err != nil || !utf8.Valid(data) {
		return "", false
	}
	return string(data), true
}
