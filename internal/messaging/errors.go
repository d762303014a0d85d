package messaging

import (
	"errors"
	"fmt"

	"go.lsp.dev/jsonrpc2"
)

var (
	ErrNotConnected      = errors.New("messaging: not connected to editor")
	ErrTransportLost     = errors.New("messaging: transport lost before response")
	ErrSessionDisposed   = errors.New("messaging: session disposed")
	ErrHandshakeRejected = errors.New("messaging: editor rejected handshake")
	ErrInvalidConfig     = errors.New("messaging: invalid config")
)

// PeerError is an error response returned by the editor for one request.
type PeerError struct {
	Method string
	Err    *jsonrpc2.Error
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("messaging: editor rejected %s: code=%d message=%q", e.Method, e.Err.Code, e.Err.Message)
}

func (e *PeerError) Unwrap() error {
	return e.Err
}

// Code returns the JSON-RPC error code sent by the editor.
func (e *PeerError) Code() jsonrpc2.Code {
	return e.Err.Code
}
