// Package errors provides standardized error codes for roomsync.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that produced the error (auth, connection, join,
//     tree, guard, protocol, storage)
//   - error: The specific error type within that domain
//
// The domains mirror the failure taxonomy of a room session. Auth failures and
// fatal join errors end the room view; connection errors are recovered inside
// the transport; tree errors and client guard rejections are only reported.
package errors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
const (
	// Auth domain - local credential record checks (SessionGate)
	CodeAuthMissing  = "auth.missing"  // No credential record, or a required field is empty
	CodeAuthMismatch = "auth.mismatch" // Credential belongs to a different room

	// Connection domain - transport lifecycle
	CodeConnectionDialFailed = "connection.dial_failed" // A single connection attempt failed
	CodeConnectionLost       = "connection.lost"        // Socket dropped while a request was pending
	CodeConnectionFailed     = "connection.failed"      // Reconnect budget exhausted
	CodeConnectionClosed     = "connection.closed"      // Operation on a connection that was closed
	CodeConnectionNotReady   = "connection.not_ready"   // Send attempted while not connected

	// Join domain - room join handshake
	CodeJoinRejected = "join.rejected"  // Server refused the join (recoverable by the user)
	CodeJoinFatal    = "join.fatal"     // Bad password or unknown room: credential is cleared
	CodeJoinNotReady = "join.not_ready" // Join preconditions not met (no-op)

	// Tree domain - server-side file tree failures
	CodeTreeOperationFailed = "tree.operation_failed" // Server rejected a tree mutation

	// Guard domain - client-side refusals, never sent to the server
	CodeGuardLastFile     = "guard.last_file"      // Deleting the last remaining file
	CodeGuardMoveIntoSelf = "guard.move_into_self" // Moving a folder into its own subtree
	CodeGuardCancelled    = "guard.cancelled"      // User declined the confirmation prompt
	CodeGuardNotJoined    = "guard.not_joined"     // Operation requires room membership

	// Protocol domain - frame decoding
	CodeProtocolUnknownType = "protocol.unknown_type" // Frame type not in the event catalog
	CodeProtocolMalformed   = "protocol.malformed"    // Frame or payload failed to decode

	// Storage domain - local state database
	CodeStorageOpenFailed  = "storage.open_failed"  // Database open failed
	CodeStorageQueryFailed = "storage.query_failed" // Database query failed
	CodeStorageSaveFailed  = "storage.save_failed"  // Failed to save data

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"  // Unknown error
	CodeInternal = "error.internal" // Internal error
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for the status line.
type CodedError struct {
	Code    string // Stable error code (e.g., "auth.mismatch")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// Falls back to CodeUnknown for errors that carry no code.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	return CodeUnknown
}

// GetMessage extracts a human-readable message from an error.
// If the error is a CodedError, returns its message.
// Otherwise, returns the error's Error() string.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}

	return err.Error()
}

// ToCodeAndMessage extracts both code and message from an error.
func ToCodeAndMessage(err error) (code, message string) {
	if err == nil {
		return "", ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, coded.Message
	}

	return CodeUnknown, err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// Domain returns the domain part of an error's code ("auth", "guard", ...).
func Domain(err error) string {
	code := GetCode(err)
	for i := 0; i < len(code); i++ {
		if code[i] == '.' {
			return code[:i]
		}
	}
	return code
}

// Common error constructors for frequently used error types.

// AuthMissing creates an "auth.missing" error.
func AuthMissing(reason string) *CodedError {
	return New(CodeAuthMissing, reason)
}

// AuthMismatch creates an "auth.mismatch" error.
func AuthMismatch(reason string) *CodedError {
	return New(CodeAuthMismatch, reason)
}

// DialFailed creates a "connection.dial_failed" error for one attempt.
func DialFailed(url string, cause error) *CodedError {
	return Wrap(CodeConnectionDialFailed, fmt.Sprintf("failed to connect to %s", url), cause)
}

// ConnectionLost creates a "connection.lost" error.
func ConnectionLost(cause error) *CodedError {
	return Wrap(CodeConnectionLost, "connection lost", cause)
}

// ConnectionFailed creates a "connection.failed" error after the retry budget is spent.
func ConnectionFailed(attempts int, cause error) *CodedError {
	return Wrap(CodeConnectionFailed, fmt.Sprintf("gave up after %d reconnection attempts", attempts), cause)
}

// ConnectionClosed creates a "connection.closed" error.
func ConnectionClosed() *CodedError {
	return New(CodeConnectionClosed, "connection closed")
}

// NotConnected creates a "connection.not_ready" error.
func NotConnected() *CodedError {
	return New(CodeConnectionNotReady, "not connected to server")
}

// JoinRejected creates a "join.rejected" error carrying the server's reason.
func JoinRejected(reason string) *CodedError {
	return New(CodeJoinRejected, reason)
}

// JoinFatal creates a "join.fatal" error carrying the server's reason.
func JoinFatal(reason string) *CodedError {
	return New(CodeJoinFatal, reason)
}

// JoinNotReady creates a "join.not_ready" error.
func JoinNotReady(reason string) *CodedError {
	return New(CodeJoinNotReady, reason)
}

// TreeOperationFailed creates a "tree.operation_failed" error.
func TreeOperationFailed(message string) *CodedError {
	return New(CodeTreeOperationFailed, message)
}

// LastFile creates a "guard.last_file" error.
func LastFile() *CodedError {
	return New(CodeGuardLastFile, "cannot delete the last file")
}

// MoveIntoSelf creates a "guard.move_into_self" error.
func MoveIntoSelf(source, target string) *CodedError {
	return New(CodeGuardMoveIntoSelf, fmt.Sprintf("cannot move folder %q into itself (%q)", source, target))
}

// Cancelled creates a "guard.cancelled" error.
func Cancelled(action string) *CodedError {
	return New(CodeGuardCancelled, action+" cancelled")
}

// NotJoined creates a "guard.not_joined" error.
func NotJoined() *CodedError {
	return New(CodeGuardNotJoined, "not joined to a room")
}

// UnknownType creates a "protocol.unknown_type" error.
func UnknownType(messageType string) *CodedError {
	return New(CodeProtocolUnknownType, fmt.Sprintf("unknown message type %q", messageType))
}

// Malformed creates a "protocol.malformed" error.
func Malformed(messageType string, cause error) *CodedError {
	return Wrap(CodeProtocolMalformed, fmt.Sprintf("malformed %s frame", messageType), cause)
}

// Internal creates an "error.internal" error.
func Internal(message string, cause error) *CodedError {
	return Wrap(CodeInternal, message, cause)
}
