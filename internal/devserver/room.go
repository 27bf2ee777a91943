package devserver

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/codetogether/roomsync/internal/protocol"
)

// DefaultFileName is the file every new room starts with.
const DefaultFileName = "main.js"

// Tree errors. Their text is sent to clients as file-error messages.
var (
	ErrInvalidName    = errors.New("invalid name")
	ErrItemExists     = errors.New("an item with that name already exists")
	ErrItemNotFound   = errors.New("item not found")
	ErrParentNotFound = errors.New("parent folder not found")
	ErrNotAFile       = errors.New("not a file")
	ErrNotAFolder     = errors.New("not a folder")
	ErrLastFile       = errors.New("cannot delete the last file in the room")
	ErrMoveIntoSelf   = errors.New("cannot move a folder into itself")
)

// Room is one collaborative room: a password, a file tree mirrored into a
// working directory, and the connections that joined it.
//
// Every key of files has all of its ancestors present as folders.
type Room struct {
	Code      string
	Dir       string
	CreatedBy string
	CreatedAt time.Time

	passwordHash string

	mu         sync.Mutex
	files      protocol.FileMap
	activeFile string
	members    map[*Client]struct{}
	idle       map[string]*time.Timer // username -> pending shell close
	poller     *Poller
}

func newRoom(code, dir, createdBy, passwordHash string) *Room {
	return &Room{
		Code:         code,
		Dir:          dir,
		CreatedBy:    createdBy,
		CreatedAt:    time.Now(),
		passwordHash: passwordHash,
		files:        make(protocol.FileMap),
		members:      make(map[*Client]struct{}),
		idle:         make(map[string]*time.Timer),
	}
}

// Files returns a copy of the file map.
func (r *Room) Files() protocol.FileMap {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.files.Clone()
}

// ActiveFile returns the file most recently switched to.
func (r *Room) ActiveFile() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeFile
}

// MemberCount returns how many connections are in the room.
func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// validPath reports whether p is a clean, relative, slash-separated path
// that stays inside the room.
func validPath(p string) bool {
	if p == "" || p == "." || strings.HasPrefix(p, "/") || path.Clean(p) != p {
		return false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." || seg == ".git" {
			return false
		}
	}
	return true
}

// validName reports whether name can be a single path segment.
func validName(name string) bool {
	return name != "" && name != "." && name != ".." && name != ".git" &&
		!strings.ContainsAny(name, `/\`)
}

func parentOf(p string) string {
	dir := path.Dir(p)
	if dir == "." {
		return ""
	}
	return dir
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

func under(p, root string) bool {
	return p == root || strings.HasPrefix(p, root+"/")
}

func (r *Room) diskPath(p string) string {
	return filepath.Join(r.Dir, filepath.FromSlash(p))
}

// requireFolder checks that parent is the root or an existing folder.
// Must be called with r.mu held.
func (r *Room) requireFolder(parent string) error {
	if parent == "" {
		return nil
	}
	e, ok := r.files[parent]
	if !ok {
		return fmt.Errorf("%w: %s", ErrParentNotFound, parent)
	}
	if e.Type != protocol.KindFolder {
		return fmt.Errorf("%w: %s", ErrNotAFolder, parent)
	}
	return nil
}

func (r *Room) fileCount() int {
	n := 0
	for _, e := range r.files {
		if e.Type == protocol.KindFile {
			n++
		}
	}
	return n
}

// seed materialises the initial tree. Called before the room is shared.
func (r *Room) seed(files protocol.FileMap) error {
	if err := checkTree(files); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		e := files[p]
		if e.Type == protocol.KindFolder {
			if err := os.MkdirAll(r.diskPath(p), 0o755); err != nil {
				return err
			}
		} else {
			if err := os.MkdirAll(filepath.Dir(r.diskPath(p)), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(r.diskPath(p), []byte(e.Content), 0o644); err != nil {
				return err
			}
			if r.activeFile == "" {
				r.activeFile = p
			}
		}
		r.files[p] = e
	}
	return nil
}

// CreateFile adds an empty file named name inside parent.
func (r *Room) CreateFile(parent, name string) (string, error) {
	if !validName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireFolder(parent); err != nil {
		return "", err
	}
	p := joinPath(parent, name)
	if _, exists := r.files[p]; exists {
		return "", fmt.Errorf("%w: %s", ErrItemExists, p)
	}
	if err := os.WriteFile(r.diskPath(p), nil, 0o644); err != nil {
		return "", fmt.Errorf("create %s: %w", p, err)
	}
	r.files[p] = protocol.FileEntry{Type: protocol.KindFile}
	return p, nil
}

// CreateFolder adds an empty, collapsed folder named name inside parent.
func (r *Room) CreateFolder(parent, name string) (string, error) {
	if !validName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireFolder(parent); err != nil {
		return "", err
	}
	p := joinPath(parent, name)
	if _, exists := r.files[p]; exists {
		return "", fmt.Errorf("%w: %s", ErrItemExists, p)
	}
	if err := os.Mkdir(r.diskPath(p), 0o755); err != nil {
		return "", fmt.Errorf("create folder %s: %w", p, err)
	}
	r.files[p] = protocol.FileEntry{Type: protocol.KindFolder}
	return p, nil
}

// DeleteItem removes an item and, for folders, everything under it. A
// deletion that would leave the room without files is refused.
func (r *Room) DeleteItem(itemPath string) (protocol.NodeKind, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.files[itemPath]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrItemNotFound, itemPath)
	}

	removedFiles := 0
	for p, entry := range r.files {
		if under(p, itemPath) && entry.Type == protocol.KindFile {
			removedFiles++
		}
	}
	if removedFiles > 0 && removedFiles == r.fileCount() {
		return "", ErrLastFile
	}

	if err := os.RemoveAll(r.diskPath(itemPath)); err != nil {
		return "", fmt.Errorf("delete %s: %w", itemPath, err)
	}
	for p := range r.files {
		if under(p, itemPath) {
			delete(r.files, p)
		}
	}
	if r.activeFile != "" && under(r.activeFile, itemPath) {
		r.activeFile = r.firstFile()
	}
	return e.Type, nil
}

// MoveItem re-keys oldPath and its descendants to newPath. Rename is a
// move within the same parent.
func (r *Room) MoveItem(oldPath, newPath string) (protocol.NodeKind, error) {
	if !validPath(newPath) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, newPath)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.files[oldPath]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrItemNotFound, oldPath)
	}
	if oldPath == newPath {
		return e.Type, nil
	}
	if e.Type == protocol.KindFolder && under(newPath, oldPath) {
		return "", ErrMoveIntoSelf
	}
	if _, exists := r.files[newPath]; exists {
		return "", fmt.Errorf("%w: %s", ErrItemExists, newPath)
	}
	if err := r.requireFolder(parentOf(newPath)); err != nil {
		return "", err
	}

	if err := os.Rename(r.diskPath(oldPath), r.diskPath(newPath)); err != nil {
		return "", fmt.Errorf("move %s: %w", oldPath, err)
	}

	moved := make(protocol.FileMap)
	for p, entry := range r.files {
		if under(p, oldPath) {
			moved[newPath+strings.TrimPrefix(p, oldPath)] = entry
			delete(r.files, p)
		}
	}
	for p, entry := range moved {
		r.files[p] = entry
	}
	if r.activeFile != "" && under(r.activeFile, oldPath) {
		r.activeFile = newPath + strings.TrimPrefix(r.activeFile, oldPath)
	}
	return e.Type, nil
}

// ToggleFolder flips a folder's expanded state and returns the new state.
func (r *Room) ToggleFolder(folderPath string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.files[folderPath]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrItemNotFound, folderPath)
	}
	if e.Type != protocol.KindFolder {
		return false, fmt.Errorf("%w: %s", ErrNotAFolder, folderPath)
	}
	e.IsExpanded = !e.IsExpanded
	r.files[folderPath] = e
	return e.IsExpanded, nil
}

// SetContent replaces a file's content.
func (r *Room) SetContent(fileName, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.files[fileName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrItemNotFound, fileName)
	}
	if e.Type != protocol.KindFile {
		return fmt.Errorf("%w: %s", ErrNotAFile, fileName)
	}
	if e.Content == content {
		return nil
	}
	if err := os.WriteFile(r.diskPath(fileName), []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", fileName, err)
	}
	e.Content = content
	r.files[fileName] = e
	return nil
}

// SwitchFile records the file most recently switched to. It reports
// whether fileName is a file.
func (r *Room) SwitchFile(fileName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.files[fileName]
	if !ok || e.Type != protocol.KindFile {
		return false
	}
	r.activeFile = fileName
	return true
}

// firstFile returns the lexicographically first file. Must be called with
// r.mu held.
func (r *Room) firstFile() string {
	first := ""
	for p, e := range r.files {
		if e.Type == protocol.KindFile && (first == "" || p < first) {
			first = p
		}
	}
	return first
}

// checkTree reports the first key whose parent is not a folder.
func checkTree(files protocol.FileMap) error {
	for p := range files {
		parent := parentOf(p)
		if parent == "" {
			continue
		}
		if e, ok := files[parent]; !ok || e.Type != protocol.KindFolder {
			return fmt.Errorf("%s: %w", p, ErrParentNotFound)
		}
	}
	return nil
}
