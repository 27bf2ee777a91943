package room

import (
	"fmt"
	"path"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	apperrors "github.com/codetogether/roomsync/internal/errors"
	"github.com/codetogether/roomsync/internal/protocol"
)

// FileTree mirrors the room's file map.
//
// Mutations are requests: the map only changes when the server's broadcasts
// (or a get-files response) arrive. Guard failures are returned without
// sending anything.
type FileTree struct {
	sender  Sender
	code    *CodeSync
	ui      UI
	confirm func(prompt string, answer func(ok bool))
	refresh *rate.Limiter
	logger  *log.Logger
}

// NewFileTree creates a FileTree. confirm asks the user a yes/no question and
// delivers the answer on the session loop.
func NewFileTree(sender Sender, code *CodeSync, ui UI, confirm func(string, func(bool)), timings Timings) *FileTree {
	timings = timings.withDefaults()
	return &FileTree{
		sender:  sender,
		code:    code,
		ui:      ui,
		confirm: confirm,
		refresh: rate.NewLimiter(rate.Every(timings.RefreshInterval), 1),
		logger:  log.WithPrefix("filetree"),
	}
}

// childPath joins a parent folder and a name; an empty parent is the root.
func childPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

func (t *FileTree) send(msg protocol.Message) error {
	if err := t.sender.Send(msg); err != nil {
		t.logger.Warn("request not sent", "type", msg.Type, "err", err)
		return err
	}
	return nil
}

// CreateFile requests a file named name in parent. An empty name is a no-op.
func (t *FileTree) CreateFile(st *State, name, parent string) error {
	if !st.Joined() {
		return apperrors.NotJoined()
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	t.logger.Debug("create file", "path", childPath(parent, name))
	return t.send(protocol.New(protocol.TypeCreateFile, protocol.CreateFilePayload{
		RoomCode:     st.Membership.RoomCode,
		FileName:     name,
		ParentFolder: parent,
	}))
}

// CreateFolder requests a folder named name in parent. An empty name is a
// no-op.
func (t *FileTree) CreateFolder(st *State, name, parent string) error {
	if !st.Joined() {
		return apperrors.NotJoined()
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	t.logger.Debug("create folder", "path", childPath(parent, name))
	return t.send(protocol.New(protocol.TypeCreateFolder, protocol.CreateFolderPayload{
		RoomCode:     st.Membership.RoomCode,
		FolderName:   name,
		ParentFolder: parent,
	}))
}

// DeleteItem asks the user to confirm, then requests deletion. The last file
// of a room is never deleted.
func (t *FileTree) DeleteItem(st *State, itemPath string, kind protocol.NodeKind) error {
	if !st.Joined() {
		return apperrors.NotJoined()
	}
	if kind == protocol.KindFile && FileCount(st.Files) <= 1 {
		return apperrors.LastFile()
	}

	prompt := fmt.Sprintf("Delete %s %q?", kind, itemPath)
	if kind == protocol.KindFolder {
		prompt = fmt.Sprintf("Delete folder %q and everything in it?", itemPath)
	}

	t.confirm(prompt, func(ok bool) {
		if !ok {
			t.ui.Status(apperrors.GetMessage(apperrors.Cancelled("delete")))
			return
		}
		if !st.Joined() {
			return
		}
		t.send(protocol.New(protocol.TypeDeleteItem, protocol.DeleteItemPayload{
			RoomCode: st.Membership.RoomCode,
			ItemPath: itemPath,
		}))
	})
	return nil
}

// RenameItem requests replacing the last segment of oldPath with newName.
// An empty or unchanged name is a no-op.
func (t *FileTree) RenameItem(st *State, oldPath, newName string) error {
	if !st.Joined() {
		return apperrors.NotJoined()
	}
	newName = strings.TrimSpace(newName)
	if newName == "" || newName == path.Base(oldPath) {
		return nil
	}

	parent := path.Dir(oldPath)
	if parent == "." {
		parent = ""
	}
	return t.send(protocol.New(protocol.TypeRenameItem, protocol.RenameItemPayload{
		RoomCode: st.Membership.RoomCode,
		OldPath:  oldPath,
		NewPath:  childPath(parent, newName),
	}))
}

// CheckMove reports whether moving source into target is allowed: a folder
// may not move into itself or its own subtree.
func CheckMove(source, target string, kind protocol.NodeKind) error {
	if kind == protocol.KindFolder && (target == source || strings.HasPrefix(target, source+"/")) {
		return apperrors.MoveIntoSelf(source, target)
	}
	return nil
}

// MoveItem requests moving source into the folder target ("" for the root).
// Moving an item onto its current parent is a no-op.
func (t *FileTree) MoveItem(st *State, source, target string, kind protocol.NodeKind) error {
	if !st.Joined() {
		return apperrors.NotJoined()
	}
	if err := CheckMove(source, target, kind); err != nil {
		return err
	}

	dest := childPath(target, path.Base(source))
	if dest == source {
		return nil
	}
	return t.send(protocol.New(protocol.TypeMoveItem, protocol.MoveItemPayload{
		RoomCode:   st.Membership.RoomCode,
		SourcePath: source,
		TargetPath: dest,
		ItemType:   kind,
	}))
}

// ToggleFolder requests flipping a folder's expanded state. The server
// decides and broadcasts the result.
func (t *FileTree) ToggleFolder(st *State, folderPath string) error {
	if !st.Joined() {
		return apperrors.NotJoined()
	}
	return t.send(protocol.New(protocol.TypeToggleFolder, protocol.ToggleFolderPayload{
		RoomCode:   st.Membership.RoomCode,
		FolderPath: folderPath,
	}))
}

// Refresh requests the full file map.
func (t *FileTree) Refresh(st *State) error {
	if !st.Joined() {
		return apperrors.NotJoined()
	}
	req := protocol.NewRequest(protocol.TypeGetFiles, protocol.RoomRequest{RoomCode: st.Membership.RoomCode})
	return t.sender.RequestFunc(req, func(resp protocol.Message, err error) {
		if err != nil {
			t.logger.Debug("get-files interrupted", "err", err)
			return
		}
		p, ok := resp.Payload.(protocol.FilesResponse)
		if !ok {
			return
		}
		if p.Error != "" {
			t.ui.Alert(apperrors.TreeOperationFailed(p.Error))
			return
		}
		if p.Files != nil && st.Joined() {
			t.Replace(st, p.Files)
		}
	})
}

// Seed installs the file map and active file from a join response.
func (t *FileTree) Seed(st *State, files protocol.FileMap, activeFile string) {
	st.Files = files.Clone()
	if !IsFile(st.Files, activeFile) {
		activeFile = FirstFile(st.Files)
	}
	t.code.Activate(st, activeFile)
}

// Replace installs a full file map from the server.
//
// If the active file is gone, the first file becomes active. An unsent local
// edit of the active file is kept in the new map so switching away and back
// does not lose it.
func (t *FileTree) Replace(st *State, files protocol.FileMap) {
	next := files.Clone()

	if file, text, ok := t.code.Pending(); ok && file == st.ActiveFile && IsFile(next, file) {
		e := next[file]
		e.Content = text
		next[file] = e
	}
	st.Files = next

	if st.ActiveFile == "" || !IsFile(st.Files, st.ActiveFile) {
		t.code.Activate(st, FirstFile(st.Files))
	}
}

// Clear forgets the file map.
func (t *FileTree) Clear(st *State) {
	st.Files = nil
	st.ActiveFile = ""
}

// Apply handles a file tree broadcast. It reports whether msg was one.
func (t *FileTree) Apply(st *State, msg protocol.Message) bool {
	switch p := msg.Payload.(type) {
	case protocol.FileMap:
		t.Replace(st, p)

	case protocol.ActiveFileChangedPayload:
		if IsFile(st.Files, p.FileName) && p.FileName != st.ActiveFile {
			t.code.Activate(st, p.FileName)
		}

	case protocol.FileContentPayload:
		// file-content-update and file-synced: a change made outside the
		// editor, applied through the same echo-suppressed path.
		t.code.ApplyRemote(st, p.FileName, p.Content, "")

	case protocol.FileCreatedPayload:
		t.ui.Status("Created " + p.FileName)
		if t.refresh.Allow() {
			t.Refresh(st)
		}

	case protocol.FolderCreatedPayload:
		t.ui.Status("Created folder " + p.FolderPath)

	case protocol.ItemDeletedPayload:
		t.ui.Status("Deleted " + p.ItemPath)
		t.removePath(st, p.ItemPath)

	case protocol.ItemRenamedPayload:
		t.ui.Status(fmt.Sprintf("Renamed %s to %s", p.OldPath, p.NewPath))
		t.movePath(st, p.OldPath, p.NewPath)

	case protocol.ItemMovedPayload:
		t.ui.Status(fmt.Sprintf("Moved %s to %s", p.SourcePath, p.TargetPath))
		t.movePath(st, p.SourcePath, p.TargetPath)

	case protocol.FolderToggledPayload:
		if e, ok := st.Files[p.FolderPath]; ok && e.Type == protocol.KindFolder {
			e.IsExpanded = p.IsExpanded
			st.Files[p.FolderPath] = e
		}

	case protocol.FileErrorPayload:
		t.ui.Alert(apperrors.TreeOperationFailed(p.Message))

	default:
		return false
	}
	return true
}

// under reports whether p is root or inside folder root.
func under(p, root string) bool {
	return p == root || strings.HasPrefix(p, root+"/")
}

// removePath drops an item and its descendants. If the active file went
// with it, the first remaining file becomes active.
func (t *FileTree) removePath(st *State, itemPath string) {
	for p := range st.Files {
		if under(p, itemPath) {
			delete(st.Files, p)
		}
	}
	if st.ActiveFile != "" && !IsFile(st.Files, st.ActiveFile) {
		t.code.Activate(st, FirstFile(st.Files))
	}
}

// movePath re-keys an item and its descendants from oldPath to newPath. The
// active file follows.
func (t *FileTree) movePath(st *State, oldPath, newPath string) {
	if oldPath == newPath || oldPath == "" {
		return
	}

	moved := make(protocol.FileMap)
	for p, e := range st.Files {
		if under(p, oldPath) {
			moved[newPath+strings.TrimPrefix(p, oldPath)] = e
			delete(st.Files, p)
		}
	}
	for p, e := range moved {
		st.Files[p] = e
	}

	if st.ActiveFile != "" && under(st.ActiveFile, oldPath) {
		st.ActiveFile = newPath + strings.TrimPrefix(st.ActiveFile, oldPath)
		if file, _, ok := t.code.Pending(); ok && under(file, oldPath) {
			// The debounced edit targets the old name; retarget it.
			t.code.pending.file = st.ActiveFile
		}
	}
}
