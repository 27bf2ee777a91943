package devserver

import (
	"errors"
	"strings"

	"github.com/codetogether/roomsync/internal/auth"
	"github.com/codetogether/roomsync/internal/protocol"
)

// Join rejection texts. Clients treat "password" and "not found" as
// fatal to their stored credential.
const (
	errRoomNotFound    = "Room not found"
	errInvalidPassword = "Invalid password"
)

// handle dispatches one decoded client frame.
func (s *Server) handle(c *Client, msg protocol.Message) {
	switch p := msg.Payload.(type) {
	case protocol.CreateRoomRequest:
		s.handleCreateRoom(c, msg, p)
	case protocol.JoinRoomRequest:
		s.handleJoinRoom(c, msg, p)

	case protocol.RoomRequest:
		switch msg.Type {
		case protocol.TypeGetFiles:
			s.handleGetFiles(c, msg, p)
		case protocol.TypeGetWorkingDirectory:
			s.handleGetWorkingDirectory(c, msg, p)
		case protocol.TypeTerminalInit:
			s.handleTerminalInit(c, p)
		}

	case protocol.TerminalInputPayload:
		s.handleTerminalInput(c, p)
	case protocol.TerminalResizePayload:
		s.handleTerminalResize(c, p)
	case protocol.CodeChangePayload:
		s.handleCodeChange(c, p)
	case protocol.CreateFilePayload:
		s.handleCreateFile(c, p)
	case protocol.CreateFolderPayload:
		s.handleCreateFolder(c, p)
	case protocol.DeleteItemPayload:
		s.handleDeleteItem(c, p)
	case protocol.RenameItemPayload:
		s.handleRenameItem(c, p)
	case protocol.MoveItemPayload:
		s.handleMoveItem(c, p)
	case protocol.ToggleFolderPayload:
		s.handleToggleFolder(c, p)
	case protocol.SwitchFilePayload:
		s.handleSwitchFile(c, p)

	default:
		s.logger.Debug("unhandled frame", "type", msg.Type, "id", c.id)
	}
}

// memberRoom returns c's room if c joined the room named code.
func (c *Client) memberRoom(code string) *Room {
	r, _ := c.membership()
	if r == nil || r.Code != strings.ToUpper(code) {
		return nil
	}
	return r
}

// requireRoom returns c's room for a one-way event, reporting a file-error
// to c if it is not a member.
func (s *Server) requireRoom(c *Client, code string) *Room {
	r := c.memberRoom(code)
	if r == nil {
		c.sendMessage(protocol.NewFileErrorMessage("not a member of room " + code))
	}
	return r
}

// treeError reports a failed tree operation to the member who asked for it.
func (s *Server) treeError(c *Client, r *Room, op string, err error) {
	s.logger.Debug("tree operation failed", "room", r.Code, "op", op, "err", err)
	c.sendMessage(protocol.NewFileErrorMessage(op + " failed: " + err.Error()))
}

func (s *Server) handleCreateRoom(c *Client, req protocol.Message, p protocol.CreateRoomRequest) {
	username := strings.TrimSpace(p.Username)
	if username == "" || p.Password == "" {
		c.reply(req, protocol.CreateRoomResponse{Error: "Username and password are required"})
		return
	}
	r, err := s.CreateRoom(username, p.Password)
	if err != nil {
		s.logger.Error("create room failed", "err", err)
		c.reply(req, protocol.CreateRoomResponse{Error: "Could not create room"})
		return
	}
	c.reply(req, protocol.CreateRoomResponse{Success: true, RoomCode: r.Code})
}

func (s *Server) handleJoinRoom(c *Client, req protocol.Message, p protocol.JoinRoomRequest) {
	code := strings.ToUpper(strings.TrimSpace(p.RoomCode))
	username := strings.TrimSpace(p.Username)
	if code == "" || username == "" {
		c.reply(req, protocol.JoinRoomResponse{Error: "Room code and username are required"})
		return
	}

	limitKey := c.remoteHost + "|" + code
	if err := s.attempts.Allow(limitKey); err != nil {
		c.reply(req, protocol.JoinRoomResponse{Error: err.Error()})
		return
	}

	r := s.Room(code)
	if r == nil {
		c.reply(req, protocol.JoinRoomResponse{Error: errRoomNotFound})
		return
	}
	if !auth.CheckPassword(r.passwordHash, p.Password) {
		s.logger.Info("join rejected", "room", code, "user", username, "reason", "password")
		c.reply(req, protocol.JoinRoomResponse{Error: errInvalidPassword})
		return
	}
	s.attempts.Reset(limitKey)

	current, _ := c.membership()
	if current != nil && current != r {
		s.leaveRoom(c)
	}

	c.setMembership(r, username)
	files, active, fresh := r.join(c, username)
	c.reply(req, protocol.JoinRoomResponse{Success: true, Files: files, ActiveFile: active})

	if fresh {
		s.logger.Info("user joined", "room", code, "user", username, "id", c.id)
		r.broadcast(protocol.NewUserMessage(protocol.TypeUserJoined, c.id, username), c)
	}
}

// leaveRoom takes c out of its room, telling the others, and schedules its
// shell to close if no other connection of the same user remains.
func (s *Server) leaveRoom(c *Client) {
	r, username := c.membership()
	if r == nil {
		return
	}
	c.setMembership(nil, "")

	if !r.leave(c, username, s.cfg.ShellGrace, func() {
		s.closeShell(r, username)
	}) {
		return
	}
	s.logger.Info("user left", "room", r.Code, "user", username, "id", c.id)
	r.broadcast(protocol.NewUserMessage(protocol.TypeUserLeft, c.id, username), c)
}

func (s *Server) handleGetFiles(c *Client, req protocol.Message, p protocol.RoomRequest) {
	r := c.memberRoom(p.RoomCode)
	if r == nil {
		c.reply(req, protocol.FilesResponse{Error: "not a member of room " + p.RoomCode})
		return
	}
	c.reply(req, protocol.FilesResponse{Files: r.Files()})
}

func (s *Server) handleGetWorkingDirectory(c *Client, req protocol.Message, p protocol.RoomRequest) {
	r := c.memberRoom(p.RoomCode)
	if r == nil {
		c.reply(req, protocol.WorkingDirectoryResponse{Error: "not a member of room " + p.RoomCode})
		return
	}
	c.reply(req, protocol.WorkingDirectoryResponse{WorkingDirectory: r.Dir})
}

func (s *Server) handleCodeChange(c *Client, p protocol.CodeChangePayload) {
	r := s.requireRoom(c, p.RoomCode)
	if r == nil {
		return
	}
	if err := r.SetContent(p.FileName, p.Code); err != nil {
		s.treeError(c, r, "save", err)
		return
	}
	r.broadcast(protocol.NewCodeUpdateMessage(p.FileName, p.Code, c.id), c)
}

func (s *Server) handleCreateFile(c *Client, p protocol.CreateFilePayload) {
	r := s.requireRoom(c, p.RoomCode)
	if r == nil {
		return
	}
	created, err := r.CreateFile(p.ParentFolder, strings.TrimSpace(p.FileName))
	if err != nil {
		s.treeError(c, r, "create file", err)
		return
	}
	r.broadcastTree(protocol.New(protocol.TypeFileCreated, protocol.FileCreatedPayload{FileName: created}))
}

func (s *Server) handleCreateFolder(c *Client, p protocol.CreateFolderPayload) {
	r := s.requireRoom(c, p.RoomCode)
	if r == nil {
		return
	}
	created, err := r.CreateFolder(p.ParentFolder, strings.TrimSpace(p.FolderName))
	if err != nil {
		s.treeError(c, r, "create folder", err)
		return
	}
	r.broadcastTree(protocol.New(protocol.TypeFolderCreated, protocol.FolderCreatedPayload{FolderPath: created}))
}

func (s *Server) handleDeleteItem(c *Client, p protocol.DeleteItemPayload) {
	r := s.requireRoom(c, p.RoomCode)
	if r == nil {
		return
	}
	kind, err := r.DeleteItem(p.ItemPath)
	if err != nil {
		s.treeError(c, r, "delete", err)
		return
	}
	r.broadcastTree(protocol.New(protocol.TypeItemDeleted, protocol.ItemDeletedPayload{ItemPath: p.ItemPath, Type: kind}))
}

func (s *Server) handleRenameItem(c *Client, p protocol.RenameItemPayload) {
	r := s.requireRoom(c, p.RoomCode)
	if r == nil {
		return
	}
	if parentOf(p.OldPath) != parentOf(p.NewPath) {
		s.treeError(c, r, "rename", ErrInvalidName)
		return
	}
	kind, err := r.MoveItem(p.OldPath, p.NewPath)
	if err != nil {
		s.treeError(c, r, "rename", err)
		return
	}
	r.broadcastTree(protocol.New(protocol.TypeItemRenamed, protocol.ItemRenamedPayload{
		OldPath: p.OldPath,
		NewPath: p.NewPath,
		Type:    kind,
	}))
}

func (s *Server) handleMoveItem(c *Client, p protocol.MoveItemPayload) {
	r := s.requireRoom(c, p.RoomCode)
	if r == nil {
		return
	}
	kind, err := r.MoveItem(p.SourcePath, p.TargetPath)
	if err != nil {
		s.treeError(c, r, "move", err)
		return
	}
	r.broadcastTree(protocol.New(protocol.TypeItemMoved, protocol.ItemMovedPayload{
		SourcePath: p.SourcePath,
		TargetPath: p.TargetPath,
		ItemType:   kind,
	}))
}

func (s *Server) handleToggleFolder(c *Client, p protocol.ToggleFolderPayload) {
	r := s.requireRoom(c, p.RoomCode)
	if r == nil {
		return
	}
	expanded, err := r.ToggleFolder(p.FolderPath)
	if err != nil {
		s.treeError(c, r, "toggle", err)
		return
	}
	r.broadcast(protocol.New(protocol.TypeFolderToggled, protocol.FolderToggledPayload{
		FolderPath: p.FolderPath,
		IsExpanded: expanded,
	}), nil)
}

func (s *Server) handleSwitchFile(c *Client, p protocol.SwitchFilePayload) {
	r := s.requireRoom(c, p.RoomCode)
	if r == nil {
		return
	}
	if !r.SwitchFile(p.FileName) {
		s.treeError(c, r, "switch", errors.New(p.FileName+" is not a file"))
		return
	}
	r.broadcast(protocol.New(protocol.TypeActiveFileChanged, protocol.ActiveFileChangedPayload{FileName: p.FileName}), c)
}
