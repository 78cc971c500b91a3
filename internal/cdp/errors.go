// File: internal/cdp/errors.go
package cdp

import (
	"errors"
	"fmt"
)

// Sentinel errors for the transport layer. Callers should test with errors.Is;
// the concrete errors returned wrap these with method and endpoint context.
var (
	// ErrConnection indicates the debugging endpoint was unreachable or the
	// websocket handshake failed.
	ErrConnection = errors.New("cdp: connection failed")
	// ErrNotConnected is returned by Send on a connection that is not attached.
	ErrNotConnected = errors.New("cdp: not connected")
	// ErrConnectionLost resolves pending commands when the socket drops
	// unexpectedly. The transport does not reconnect.
	ErrConnectionLost = errors.New("cdp: connection lost")
	// ErrCommandTimeout resolves a command that received no result in time.
	// The transport never retries; retry policy belongs to the caller.
	ErrCommandTimeout = errors.New("cdp: command timed out")
	// ErrCancelled resolves pending commands when the connection is closed
	// deliberately.
	ErrCancelled = errors.New("cdp: cancelled")
)

// CommandError is a protocol-level rejection of a command by the browser.
type CommandError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *CommandError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("cdp: command error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("cdp: command error %d: %s", e.Code, e.Message)
}
