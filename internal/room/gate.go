package room

import (
	"fmt"

	apperrors "github.com/codetogether/roomsync/internal/errors"
	"github.com/codetogether/roomsync/internal/storage"
)

// CredentialStore is where the room credential lives between room entry and
// the room visit.
type CredentialStore interface {
	LoadCredential() (*storage.Credential, error)
	ClearCredential() error
}

// CheckAuthentication verifies that the stored credential admits the user to
// roomCode. It never touches the network.
//
// Failures are auth.missing (no usable credential) or auth.mismatch
// (credential for a different room, or no room requested).
func CheckAuthentication(store CredentialStore, roomCode string) (*storage.Credential, error) {
	if roomCode == "" {
		return nil, apperrors.AuthMismatch("invalid room code")
	}

	cred, err := store.LoadCredential()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeAuthMissing, "cannot read credential", err)
	}
	if cred == nil {
		return nil, apperrors.AuthMissing("not authenticated, join the room first")
	}
	if cred.RoomCode == "" || cred.Username == "" || cred.Password == "" || !cred.Authenticated {
		return nil, apperrors.AuthMissing("incomplete credential, join the room again")
	}
	if cred.RoomCode != roomCode {
		return nil, apperrors.AuthMismatch(fmt.Sprintf("credential is for room %s, not %s", cred.RoomCode, roomCode))
	}
	return cred, nil
}
