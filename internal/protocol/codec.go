package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	apperrors "github.com/codetogether/roomsync/internal/errors"
)

// Direction says which side of the socket a frame was produced by.
type Direction int

const (
	// FromClient frames are produced by a room member.
	FromClient Direction = iota
	// FromServer frames are produced by the room server.
	FromServer
)

func (d Direction) String() string {
	if d == FromClient {
		return "client"
	}
	return "server"
}

// decoder turns a raw payload into the typed value for one message type.
type decoder func(raw json.RawMessage) (any, error)

type entry struct {
	dir      Direction
	payload  decoder // nil when the type carries no payload
	response decoder // set for request/response types
}

// decodeAs returns a decoder for payloads of type T. A missing payload is
// malformed; an explicit null or {} yields the zero value.
func decodeAs[T any]() decoder {
	return func(raw json.RawMessage) (any, error) {
		var v T
		if len(raw) == 0 {
			return nil, fmt.Errorf("missing payload")
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// catalog is the closed set of frame types. Anything not listed here is
// rejected by Decode.
var catalog = map[Type]entry{
	TypeCreateRoom:          {FromClient, decodeAs[CreateRoomRequest](), decodeAs[CreateRoomResponse]()},
	TypeJoinRoom:            {FromClient, decodeAs[JoinRoomRequest](), decodeAs[JoinRoomResponse]()},
	TypeGetFiles:            {FromClient, decodeAs[RoomRequest](), decodeAs[FilesResponse]()},
	TypeGetWorkingDirectory: {FromClient, decodeAs[RoomRequest](), decodeAs[WorkingDirectoryResponse]()},
	TypeTerminalInit:        {FromClient, decodeAs[RoomRequest](), nil},
	TypeTerminalInput:       {FromClient, decodeAs[TerminalInputPayload](), nil},
	TypeTerminalResize:      {FromClient, decodeAs[TerminalResizePayload](), nil},
	TypeCodeChange:          {FromClient, decodeAs[CodeChangePayload](), nil},
	TypeCreateFile:          {FromClient, decodeAs[CreateFilePayload](), nil},
	TypeCreateFolder:        {FromClient, decodeAs[CreateFolderPayload](), nil},
	TypeDeleteItem:          {FromClient, decodeAs[DeleteItemPayload](), nil},
	TypeRenameItem:          {FromClient, decodeAs[RenameItemPayload](), nil},
	TypeMoveItem:            {FromClient, decodeAs[MoveItemPayload](), nil},
	TypeToggleFolder:        {FromClient, decodeAs[ToggleFolderPayload](), nil},
	TypeSwitchFile:          {FromClient, decodeAs[SwitchFilePayload](), nil},

	TypeConnected:         {FromServer, decodeAs[ConnectedPayload](), nil},
	TypeCodeUpdate:        {FromServer, decodeAs[CodeUpdatePayload](), nil},
	TypeFilesUpdate:       {FromServer, decodeAs[FileMap](), nil},
	TypeFileContentUpdate: {FromServer, decodeAs[FileContentPayload](), nil},
	TypeFileSynced:        {FromServer, decodeAs[FileContentPayload](), nil},
	TypeActiveFileChanged: {FromServer, decodeAs[ActiveFileChangedPayload](), nil},
	TypeFileCreated:       {FromServer, decodeAs[FileCreatedPayload](), nil},
	TypeFolderCreated:     {FromServer, decodeAs[FolderCreatedPayload](), nil},
	TypeItemDeleted:       {FromServer, decodeAs[ItemDeletedPayload](), nil},
	TypeItemRenamed:       {FromServer, decodeAs[ItemRenamedPayload](), nil},
	TypeItemMoved:         {FromServer, decodeAs[ItemMovedPayload](), nil},
	TypeFolderToggled:     {FromServer, decodeAs[FolderToggledPayload](), nil},
	TypeFileError:         {FromServer, decodeAs[FileErrorPayload](), nil},
	TypeTerminalOutput:    {FromServer, decodeAs[TerminalOutputPayload](), nil},
	TypeTerminalClear:     {FromServer, nil, nil},
	TypeTerminalInfo:      {FromServer, decodeAs[TerminalInfoPayload](), nil},
	TypeUserJoined:        {FromServer, decodeAs[UserPayload](), nil},
	TypeUserLeft:          {FromServer, decodeAs[UserPayload](), nil},
}

// IsRequest reports whether t expects a correlated response.
func IsRequest(t Type) bool {
	e, ok := catalog[t]
	return ok && e.response != nil
}

// Known reports whether t is part of the catalog.
func Known(t Type) bool {
	_, ok := catalog[t]
	return ok
}

// wire is the on-the-wire envelope before the payload is typed.
type wire struct {
	Type    Type            `json:"type"`
	ID      string          `json:"id,omitempty"`
	ReplyTo string          `json:"replyTo,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode parses one text frame produced by the given side.
//
// The result's Payload holds the catalog's value type for the frame. Unknown
// types, frames arriving from the wrong side, and payloads that do not decode
// are returned as protocol errors and must not be dispatched.
func Decode(data []byte, from Direction) (Message, error) {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, apperrors.Malformed("envelope", err)
	}
	if w.Type == "" {
		return Message{}, apperrors.Malformed("envelope", fmt.Errorf("missing type"))
	}

	e, ok := catalog[w.Type]
	if !ok {
		return Message{}, apperrors.UnknownType(string(w.Type))
	}

	msg := Message{Type: w.Type, ID: w.ID, ReplyTo: w.ReplyTo}

	dec := e.payload
	if w.ReplyTo != "" {
		// Responses travel server → client and only exist for request types.
		if from != FromServer || e.response == nil {
			return Message{}, apperrors.Malformed(string(w.Type), fmt.Errorf("unexpected response from %s", from))
		}
		dec = e.response
	} else if e.dir != from {
		return Message{}, apperrors.UnknownType(string(w.Type))
	}

	if dec == nil {
		return msg, nil
	}
	payload, err := dec(w.Payload)
	if err != nil {
		return Message{}, apperrors.Malformed(string(w.Type), err)
	}
	msg.Payload = payload
	return msg, nil
}

// Encode serializes the message as a JSON text frame.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// New creates a one-way message.
func New(t Type, payload any) Message {
	return Message{Type: t, Payload: payload}
}

// NewRequest creates a message with a fresh correlation ID.
func NewRequest(t Type, payload any) Message {
	return Message{Type: t, ID: uuid.NewString(), Payload: payload}
}

// NewReply creates the response to req.
func NewReply(req Message, payload any) Message {
	return Message{Type: req.Type, ReplyTo: req.ID, Payload: payload}
}

// NewConnectedMessage assigns a connection identifier.
func NewConnectedMessage(connID string) Message {
	return New(TypeConnected, ConnectedPayload{ID: connID})
}

// NewJoinRoomRequest creates the join handshake request.
func NewJoinRoomRequest(roomCode, username, password string) Message {
	return NewRequest(TypeJoinRoom, JoinRoomRequest{
		Username: username,
		RoomCode: roomCode,
		Password: password,
	})
}

// NewCreateRoomRequest asks for a new room.
func NewCreateRoomRequest(username, password string) Message {
	return NewRequest(TypeCreateRoom, CreateRoomRequest{Username: username, Password: password})
}

// NewCodeUpdateMessage relays an edit made by fromUser.
func NewCodeUpdateMessage(fileName, code, fromUser string) Message {
	return New(TypeCodeUpdate, CodeUpdatePayload{Code: code, FileName: fileName, FromUser: fromUser})
}

// NewFilesUpdateMessage carries a snapshot of the room's file map.
func NewFilesUpdateMessage(files FileMap) Message {
	return New(TypeFilesUpdate, files.Clone())
}

// NewFileErrorMessage reports a tree operation failure.
func NewFileErrorMessage(message string) Message {
	return New(TypeFileError, FileErrorPayload{Message: message})
}

// NewTerminalOutputMessage carries terminal output.
func NewTerminalOutputMessage(data string) Message {
	return New(TypeTerminalOutput, TerminalOutputPayload{Data: data})
}

// NewTerminalClearMessage resets the member's terminal widget.
func NewTerminalClearMessage() Message {
	return New(TypeTerminalClear, nil)
}

// NewUserMessage creates a user-joined or user-left notice.
func NewUserMessage(t Type, userID, username string) Message {
	return New(t, UserPayload{Username: username, UserID: userID})
}
