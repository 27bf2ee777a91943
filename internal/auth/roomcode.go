// Package auth issues room codes and guards room passwords for the
// reference room server.
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// RoomCodeLength is the number of characters in a room code.
const RoomCodeLength = 6

// roomCodeAlphabet is upper-case alphanumeric; clients upper-case what
// users type, so codes compare exactly.
const roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// maxCodeAttempts bounds how many collisions NewRoomCode tolerates.
const maxCodeAttempts = 16

// ErrNoFreeCode is returned when NewRoomCode keeps hitting taken codes.
var ErrNoFreeCode = errors.New("could not find a free room code")

// GenerateRoomCode returns a random room code using crypto/rand.
func GenerateRoomCode() (string, error) {
	code := make([]byte, RoomCodeLength)
	max := big.NewInt(int64(len(roomCodeAlphabet)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		code[i] = roomCodeAlphabet[n.Int64()]
	}
	return string(code), nil
}

// NewRoomCode generates codes until taken reports one as free.
func NewRoomCode(taken func(code string) bool) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := GenerateRoomCode()
		if err != nil {
			return "", err
		}
		if taken == nil || !taken(code) {
			return code, nil
		}
	}
	return "", ErrNoFreeCode
}

// ValidRoomCode reports whether code has the shape GenerateRoomCode produces.
func ValidRoomCode(code string) bool {
	if len(code) != RoomCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(roomCodeAlphabet, rune(code[i])) {
			return false
		}
	}
	return true
}
