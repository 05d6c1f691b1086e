package internal

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout              = errors.New("timed out waiting for reply")
	ErrConnectionOverloaded = errors.New("connection overloaded")
	ErrConnectionReset      = errors.New("connection reset")
	ErrServerShunned        = errors.New("server shunned after repeated failures")
	ErrEngineClosed         = errors.New("engine is shut down")
)

// ConnectError reports a failed connection attempt. It feeds the failure
// manager and is surfaced per request.
type ConnectError struct {
	Addr  string
	Cause error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Addr, e.Cause)
}

func (e *ConnectError) Unwrap() error { return e.Cause }

// ServerError reports an ERROR, CLIENT_ERROR or SERVER_ERROR reply token.
type ServerError struct {
	Kind    string
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return "server replied " + e.Kind
	}
	return "server replied " + e.Kind + ": " + e.Message
}

// ProtocolError reports a reply line the parser could not classify.
type ProtocolError struct {
	Line string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("unparseable reply %q", e.Line)
}
