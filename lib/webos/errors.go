package webos

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected        = errors.New("not connected")
	ErrNoSocketPath        = errors.New("no socket path returned by tv")
	ErrKeyboardUnavailable = errors.New("keyboard socket unavailable")
	ErrRequestRejected     = errors.New("request rejected by tv")
)

// ConnectError is a transport failure while opening one of the TV sockets.
type ConnectError struct {
	Phase string // control, pointer or keyboard
	URL   string
	Err   error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s socket %s: %v", e.Phase, e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// PairingError is a protocol violation during the register handshake.
type PairingError struct {
	State PairingState
	Err   error
}

func (e *PairingError) Error() string {
	return fmt.Sprintf("pairing failed in state %s: %v", e.State, e.Err)
}

func (e *PairingError) Unwrap() error { return e.Err }

// ProtocolError reports a response that did not have the expected shape.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// SendError is an I/O failure on an established socket.
type SendError struct {
	Socket string
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s socket: %v", e.Socket, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// HandshakeError is a websocket upgrade the TV answered with a non-101 HTTP
// status. The endpoint is reachable, so another port will not help.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("%v (status %d)", e.Err, e.StatusCode)
}

func (e *HandshakeError) Unwrap() error { return e.Err }
