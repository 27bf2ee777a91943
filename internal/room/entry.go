package room

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	apperrors "github.com/codetogether/roomsync/internal/errors"
	"github.com/codetogether/roomsync/internal/protocol"
	"github.com/codetogether/roomsync/internal/storage"
	"github.com/codetogether/roomsync/internal/transport"
)

// CredentialSaver stores the credential issued at room entry.
type CredentialSaver interface {
	SaveCredential(c *storage.Credential) error
}

// NormalizeRoomCode trims and upper-cases a room code as typed by a user.
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CreateRoom asks the server for a new room and stores the resulting
// credential. It returns the room code.
func CreateRoom(ctx context.Context, opts transport.Options, store CredentialSaver, username, password string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return "", apperrors.AuthMissing("username and password are required")
	}

	conn, err := dialOnce(ctx, opts)
	if err != nil {
		return "", err
	}
	defer conn.Disconnect()

	resp, err := conn.Request(ctx, protocol.NewCreateRoomRequest(username, password))
	if err != nil {
		return "", err
	}
	p, ok := resp.Payload.(protocol.CreateRoomResponse)
	if !ok {
		return "", apperrors.Malformed(string(resp.Type), nil)
	}
	if !p.Success {
		reason := p.Error
		if reason == "" {
			reason = "room creation failed"
		}
		return "", apperrors.JoinRejected(reason)
	}

	code := NormalizeRoomCode(p.RoomCode)
	err = store.SaveCredential(&storage.Credential{
		RoomCode:      code,
		Username:      username,
		Password:      password,
		Authenticated: true,
		ServerURL:     opts.URL,
		CreatedAt:     time.Now(),
	})
	if err != nil {
		return "", err
	}

	log.WithPrefix("room").Info("room created", "room", code, "user", username)
	return code, nil
}

// EnterRoom verifies the room code and password against the server, then
// stores the credential a Session will be admitted with. The verification
// connection is closed before EnterRoom returns.
func EnterRoom(ctx context.Context, opts transport.Options, store CredentialSaver, roomCode, username, password string) error {
	roomCode = NormalizeRoomCode(roomCode)
	username = strings.TrimSpace(username)
	if roomCode == "" || username == "" || password == "" {
		return apperrors.AuthMissing("room code, username and password are required")
	}

	if _, err := joinOnce(ctx, opts, roomCode, username, password); err != nil {
		return err
	}

	return store.SaveCredential(&storage.Credential{
		RoomCode:      roomCode,
		Username:      username,
		Password:      password,
		Authenticated: true,
		ServerURL:     opts.URL,
		CreatedAt:     time.Now(),
	})
}

// FetchFiles joins the room named by the stored credential just long enough
// to read its file map and active file. No shell is started.
func FetchFiles(ctx context.Context, opts transport.Options, store CredentialStore) (protocol.FileMap, string, error) {
	cred, err := store.LoadCredential()
	if err != nil {
		return nil, "", apperrors.Wrap(apperrors.CodeAuthMissing, "cannot read credential", err)
	}
	if cred == nil || !cred.Authenticated {
		return nil, "", apperrors.AuthMissing("not authenticated, join the room first")
	}

	resp, err := joinOnce(ctx, opts, cred.RoomCode, cred.Username, cred.Password)
	if err != nil {
		return nil, "", err
	}
	return resp.Files, resp.ActiveFile, nil
}

// joinOnce performs a single join-room on a fresh connection.
func joinOnce(ctx context.Context, opts transport.Options, roomCode, username, password string) (protocol.JoinRoomResponse, error) {
	conn, err := dialOnce(ctx, opts)
	if err != nil {
		return protocol.JoinRoomResponse{}, err
	}
	defer conn.Disconnect()

	resp, err := conn.Request(ctx, protocol.NewJoinRoomRequest(roomCode, username, password))
	if err != nil {
		return protocol.JoinRoomResponse{}, err
	}
	p, ok := resp.Payload.(protocol.JoinRoomResponse)
	if !ok {
		return protocol.JoinRoomResponse{}, apperrors.Malformed(string(resp.Type), nil)
	}
	if !p.Success {
		reason := p.Error
		if reason == "" {
			reason = "join failed"
		}
		if IsFatalJoinError(reason) {
			return p, apperrors.JoinFatal(reason)
		}
		return p, apperrors.JoinRejected(reason)
	}
	return p, nil
}

// dialOnce connects, giving up once one handshake timeout has passed even if
// retries remain.
func dialOnce(ctx context.Context, opts transport.Options) (*transport.Conn, error) {
	conn := transport.New(opts)
	ctx, cancel := context.WithTimeout(ctx, conn.HandshakeTimeout())
	defer cancel()
	if err := conn.Connect(ctx); err != nil {
		conn.Disconnect()
		if ctx.Err() != nil {
			return nil, apperrors.DialFailed(opts.URL, err)
		}
		return nil, err
	}
	return conn, nil
}
