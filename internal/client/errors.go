package client

import (
	"fmt"

	"draftsync/internal/protocol"

	"github.com/gorilla/websocket"
)

// AuthError is a fatal authentication failure: missing or rejected token,
// or access denied. The standard reconnect path will fail identically until
// the user re-authenticates, so callers should surface it prominently.
type AuthError struct {
	Code   int // close code when the server rejected us, 0 before any attempt
	Reason string
}

func (e *AuthError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("auth: %s (close code %d)", e.Reason, e.Code)
	}
	return "auth: " + e.Reason
}

// ConnectionError is a transport-level failure or unexpected close. It is
// transient: the session recovers on its own via the fixed-delay reconnect.
type ConnectionError struct {
	Code   int
	Reason string
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connection: %s: %v", e.Reason, e.Err)
	}
	return "connection: " + e.Reason
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// isCleanClose reports whether a close code means an intentional shutdown
// (normal closure or going away) after which no reconnect is attempted.
func isCleanClose(code int) bool {
	return code == websocket.CloseNormalClosure || code == websocket.CloseGoingAway
}

// classifyClose maps a close code to a human-readable session error. The
// 4xxx codes are the server's application-level rejections.
func classifyClose(code int, err error) error {
	switch code {
	case protocol.CloseAuthFailed:
		return &AuthError{Code: code, Reason: "authentication failed"}
	case protocol.CloseInvalidToken:
		return &AuthError{Code: code, Reason: "invalid token"}
	case protocol.CloseAccessDenied:
		return &AuthError{Code: code, Reason: "access denied"}
	case protocol.CloseDocumentNotFound:
		return &ConnectionError{Code: code, Reason: "document not found", Err: err}
	default:
		return &ConnectionError{Code: code, Reason: "connection closed unexpectedly", Err: err}
	}
}
