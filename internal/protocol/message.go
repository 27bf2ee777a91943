// Package protocol defines the room event catalog exchanged over the WebSocket
// between a roomsync client and a room server.
//
// Every frame is a JSON envelope (Message) carrying a Type from the closed set
// below and a type-specific payload. Requests that expect an answer carry an
// ID; the answer repeats the request's Type and sets ReplyTo to that ID.
package protocol

// Type identifies the kind of event being sent over the WebSocket.
// Each type has a specific payload structure defined below.
type Type string

// Client → server events.
const (
	// TypeCreateRoom asks the server to create a room (request/response).
	// Payload: CreateRoomRequest, response: CreateRoomResponse
	TypeCreateRoom Type = "create-room"

	// TypeJoinRoom is the join handshake (request/response).
	// Payload: JoinRoomRequest, response: JoinRoomResponse
	TypeJoinRoom Type = "join-room"

	// TypeGetFiles requests a full file map refresh (request/response).
	// Payload: RoomRequest, response: FilesResponse
	TypeGetFiles Type = "get-files"

	// TypeGetWorkingDirectory requests the room's display path (request/response).
	// Payload: RoomRequest, response: WorkingDirectoryResponse
	TypeGetWorkingDirectory Type = "get-working-directory"

	// TypeTerminalInit starts (or reattaches to) this user's terminal.
	// Payload: RoomRequest
	TypeTerminalInit Type = "terminal-init"

	// TypeTerminalInput carries raw keystrokes.
	// Payload: TerminalInputPayload
	TypeTerminalInput Type = "terminal-input"

	// TypeTerminalResize carries the terminal's new size.
	// Payload: TerminalResizePayload
	TypeTerminalResize Type = "terminal-resize"

	// TypeCodeChange carries the debounced buffer content of the active file.
	// Payload: CodeChangePayload
	TypeCodeChange Type = "code-change"

	// TypeCreateFile requests a new file.
	// Payload: CreateFilePayload
	TypeCreateFile Type = "create-file"

	// TypeCreateFolder requests a new folder.
	// Payload: CreateFolderPayload
	TypeCreateFolder Type = "create-folder"

	// TypeDeleteItem requests deletion of a file or folder.
	// Payload: DeleteItemPayload
	TypeDeleteItem Type = "delete-item"

	// TypeRenameItem requests replacing an item's path.
	// Payload: RenameItemPayload
	TypeRenameItem Type = "rename-item"

	// TypeMoveItem requests moving an item to a new full path.
	// Payload: MoveItemPayload
	TypeMoveItem Type = "move-item"

	// TypeToggleFolder requests flipping a folder's expanded state.
	// Payload: ToggleFolderPayload
	TypeToggleFolder Type = "toggle-folder"

	// TypeSwitchFile tells peers which file this user is viewing.
	// Payload: SwitchFilePayload
	TypeSwitchFile Type = "switch-file"
)

// Server → client events.
const (
	// TypeConnected is the first frame after the upgrade; it assigns the
	// connection identifier used as fromUser in code updates.
	// Payload: ConnectedPayload
	TypeConnected Type = "connected"

	// TypeCodeUpdate carries a remote edit.
	// Payload: CodeUpdatePayload
	TypeCodeUpdate Type = "code-update"

	// TypeFilesUpdate carries the canonical file map.
	// Payload: FileMap
	TypeFilesUpdate Type = "files-update"

	// TypeFileContentUpdate reports an out-of-band content change.
	// Payload: FileContentPayload
	TypeFileContentUpdate Type = "file-content-update"

	// TypeFileSynced reports a file changed from the terminal side.
	// Payload: FileContentPayload
	TypeFileSynced Type = "file-synced"

	// TypeActiveFileChanged reports a peer switched file.
	// Payload: ActiveFileChangedPayload
	TypeActiveFileChanged Type = "active-file-changed"

	// Transient tree notices. The authoritative state follows in files-update.
	TypeFileCreated   Type = "file-created"   // Payload: FileCreatedPayload
	TypeFolderCreated Type = "folder-created" // Payload: FolderCreatedPayload
	TypeItemDeleted   Type = "item-deleted"   // Payload: ItemDeletedPayload
	TypeItemRenamed   Type = "item-renamed"   // Payload: ItemRenamedPayload
	TypeItemMoved     Type = "item-moved"     // Payload: ItemMovedPayload
	TypeFolderToggled Type = "folder-toggled" // Payload: FolderToggledPayload

	// TypeFileError is a non-fatal tree operation error.
	// Payload: FileErrorPayload
	TypeFileError Type = "file-error"

	// Terminal frames.
	TypeTerminalOutput Type = "terminal-output" // Payload: TerminalOutputPayload
	TypeTerminalClear  Type = "terminal-clear"  // Payload: none
	TypeTerminalInfo   Type = "terminal-info"   // Payload: TerminalInfoPayload

	// Membership changes.
	TypeUserJoined Type = "user-joined" // Payload: UserPayload
	TypeUserLeft   Type = "user-left"   // Payload: UserPayload
)

// Message is the envelope for all WebSocket frames.
type Message struct {
	// Type identifies what kind of event this is.
	Type Type `json:"type"`

	// ID is set on requests that expect a correlated response.
	ID string `json:"id,omitempty"`

	// ReplyTo is set on responses to the ID of the request they answer.
	ReplyTo string `json:"replyTo,omitempty"`

	// Payload contains the type-specific data. Decode fills it with the
	// value type named in the catalog (CodeUpdatePayload, FileMap, ...).
	Payload any `json:"payload,omitempty"`
}

// IsResponse reports whether the message answers an earlier request.
func (m Message) IsResponse() bool {
	return m.ReplyTo != ""
}

// NodeKind distinguishes files from folders in the file map.
type NodeKind string

const (
	KindFile   NodeKind = "file"
	KindFolder NodeKind = "folder"
)

// FileEntry is the wire form of one file map entry.
type FileEntry struct {
	Type       NodeKind `json:"type"`
	Content    string   `json:"content,omitempty"`
	IsExpanded bool     `json:"isExpanded,omitempty"`
}

// FileMap is the room's file tree keyed by slash-separated path.
type FileMap map[string]FileEntry

// Clone returns an independent copy of the map.
func (m FileMap) Clone() FileMap {
	out := make(FileMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ConnectedPayload assigns the connection identifier.
type ConnectedPayload struct {
	ID string `json:"id"`
}

// CreateRoomRequest asks the server to create a new room.
type CreateRoomRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// CreateRoomResponse answers create-room.
type CreateRoomResponse struct {
	Success  bool   `json:"success"`
	RoomCode string `json:"roomCode,omitempty"`
	Error    string `json:"error,omitempty"`
}

// JoinRoomRequest is the join handshake request.
type JoinRoomRequest struct {
	Username string `json:"username"`
	RoomCode string `json:"roomCode"`
	Password string `json:"password"`
}

// JoinRoomResponse answers join-room.
type JoinRoomResponse struct {
	Success    bool    `json:"success"`
	Files      FileMap `json:"files,omitempty"`
	ActiveFile string  `json:"activeFile,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// RoomRequest is the payload of room-scoped requests with no other fields.
type RoomRequest struct {
	RoomCode string `json:"roomCode"`
}

// FilesResponse answers get-files.
type FilesResponse struct {
	Files FileMap `json:"files,omitempty"`
	Error string  `json:"error,omitempty"`
}

// WorkingDirectoryResponse answers get-working-directory.
type WorkingDirectoryResponse struct {
	WorkingDirectory string `json:"workingDirectory,omitempty"`
	Error            string `json:"error,omitempty"`
}

// TerminalInputPayload carries raw keystrokes for this user's terminal.
type TerminalInputPayload struct {
	RoomCode string `json:"roomCode"`
	Input    string `json:"input"`
}

// TerminalResizePayload carries terminal dimensions.
type TerminalResizePayload struct {
	RoomCode string `json:"roomCode"`
	Cols     int    `json:"cols"`
	Rows     int    `json:"rows"`
}

// CodeChangePayload carries the latest buffer content of a file.
type CodeChangePayload struct {
	RoomCode string `json:"roomCode"`
	Code     string `json:"code"`
	FileName string `json:"fileName"`
}

// CreateFilePayload requests a file named FileName inside ParentFolder.
type CreateFilePayload struct {
	RoomCode     string `json:"roomCode"`
	FileName     string `json:"fileName"`
	ParentFolder string `json:"parentFolder"`
}

// CreateFolderPayload requests a folder named FolderName inside ParentFolder.
type CreateFolderPayload struct {
	RoomCode     string `json:"roomCode"`
	FolderName   string `json:"folderName"`
	ParentFolder string `json:"parentFolder"`
}

// DeleteItemPayload requests deletion of ItemPath.
type DeleteItemPayload struct {
	RoomCode string `json:"roomCode"`
	ItemPath string `json:"itemPath"`
}

// RenameItemPayload requests OldPath become NewPath.
type RenameItemPayload struct {
	RoomCode string `json:"roomCode"`
	OldPath  string `json:"oldPath"`
	NewPath  string `json:"newPath"`
}

// MoveItemPayload requests SourcePath move to the full path TargetPath.
type MoveItemPayload struct {
	RoomCode   string   `json:"roomCode"`
	SourcePath string   `json:"sourcePath"`
	TargetPath string   `json:"targetPath"`
	ItemType   NodeKind `json:"itemType"`
}

// ToggleFolderPayload requests flipping FolderPath's expanded state.
type ToggleFolderPayload struct {
	RoomCode   string `json:"roomCode"`
	FolderPath string `json:"folderPath"`
}

// SwitchFilePayload announces the file this user is viewing.
type SwitchFilePayload struct {
	RoomCode string `json:"roomCode"`
	FileName string `json:"fileName"`
}

// CodeUpdatePayload carries a remote edit and the connection that made it.
type CodeUpdatePayload struct {
	Code     string `json:"code"`
	FileName string `json:"fileName"`
	FromUser string `json:"fromUser"`
}

// FileContentPayload carries a file's new content.
type FileContentPayload struct {
	FileName string `json:"fileName"`
	Content  string `json:"content"`
}

// ActiveFileChangedPayload names the file a peer switched to.
type ActiveFileChangedPayload struct {
	FileName string `json:"fileName"`
}

// FileCreatedPayload notes a created file.
type FileCreatedPayload struct {
	FileName string `json:"fileName"`
}

// FolderCreatedPayload notes a created folder.
type FolderCreatedPayload struct {
	FolderPath string `json:"folderPath"`
}

// ItemDeletedPayload notes a deleted item.
type ItemDeletedPayload struct {
	ItemPath string   `json:"itemPath"`
	Type     NodeKind `json:"type"`
}

// ItemRenamedPayload confirms a rename.
type ItemRenamedPayload struct {
	OldPath string   `json:"oldPath"`
	NewPath string   `json:"newPath"`
	Type    NodeKind `json:"type"`
}

// ItemMovedPayload confirms a move.
type ItemMovedPayload struct {
	SourcePath string   `json:"sourcePath"`
	TargetPath string   `json:"targetPath"`
	ItemType   NodeKind `json:"itemType"`
}

// FolderToggledPayload confirms a folder's new expanded state.
type FolderToggledPayload struct {
	FolderPath string `json:"folderPath"`
	IsExpanded bool   `json:"isExpanded"`
}

// FileErrorPayload carries a human-readable tree error.
type FileErrorPayload struct {
	Message string `json:"message"`
}

// TerminalOutputPayload carries raw terminal output.
type TerminalOutputPayload struct {
	Data string `json:"data"`
}

// TerminalInfoPayload carries informational terminal metadata.
type TerminalInfoPayload struct {
	Message string `json:"message,omitempty"`
	Shell   string `json:"shell,omitempty"`
	Cwd     string `json:"cwd,omitempty"`
}

// UserPayload identifies a room member.
type UserPayload struct {
	Username string `json:"username"`
	UserID   string `json:"userId"`
}
