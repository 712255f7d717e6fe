package tcp

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPort   = errors.New("port must be between 1 and 65535")
	ErrMissingHost   = errors.New("explicit mode requires a host")
	ErrWildcardDial  = errors.New("wildcard address cannot be used to connect")
	ErrShortEcho     = errors.New("peer closed before the full message was echoed")
	ErrTimeout       = errors.New("i/o timeout")
	ErrServerStopped = errors.New("server stopped")
)

// ResolutionError means a host/port pair could not be turned into a usable address.
type ResolutionError struct {
	Host string
	Port int
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %q port %d: %v", e.Host, e.Port, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// BindError means the listening socket could not be created.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// ConnectionError means the client could not reach the server.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransmissionError is a failed send or receive in the middle of a session.
// Sent counts the bytes that made it out before the failure.
type TransmissionError struct {
	Op   string // "send" or "receive"
	Sent int
	Err  error
}

func (e *TransmissionError) Error() string {
	if e.Op == "send" {
		return fmt.Sprintf("send failed after %d bytes: %v", e.Sent, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *TransmissionError) Unwrap() error { return e.Err }
