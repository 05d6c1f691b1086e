package client

import (
	"errors"

	"github.com/shardpipe/shardpipe/internal"
)

var (
	// ErrNoServers is returned when no servers are configured.
	ErrNoServers = errors.New("shardpipe: no servers configured")

	// ErrMalformedKey is returned when a key is longer than 250 bytes or
	// contains whitespace or control characters.
	ErrMalformedKey = errors.New("shardpipe: key is too long or contains invalid characters")

	// ErrCacheMiss is returned when a key is absent: a single-key get on a
	// missing key, or incr/decr against an item that is not there. A cas
	// against a missing item reports NotFound instead.
	ErrCacheMiss = errors.New("shardpipe: cache miss")

	// ErrServerTooOld is returned for cas/gets/append/prepend against a
	// server older than 1.2.4.
	ErrServerTooOld = errors.New("shardpipe: server does not support this command")

	// ErrClientClosed is returned for operations after Close.
	ErrClientClosed = errors.New("shardpipe: client is closed")

	// ErrTimeout is returned for slots whose reply did not arrive before
	// the batch deadline. The connection is kept; the reply may just be late.
	ErrTimeout = internal.ErrTimeout

	// ErrConnectionOverloaded is returned when a connection already has the
	// maximum number of outstanding pipelined requests.
	ErrConnectionOverloaded = internal.ErrConnectionOverloaded

	// ErrServerShunned is returned while the failure manager refuses to
	// reconnect to a server that failed repeatedly.
	ErrServerShunned = internal.ErrServerShunned
)

// ServerError reports an ERROR, CLIENT_ERROR or SERVER_ERROR reply.
type ServerError = internal.ServerError

// ProtocolError reports a reply the client could not make sense of. When the
// connection's reply parser raises it for a line it cannot classify, the
// connection is broken. When it is raised for a well-formed reply token that
// does not fit the command (a non-numeric incr/decr result, a flush reply
// other than OK, an unknown mutation verdict), the connection stays open.
type ProtocolError = internal.ProtocolError

// TransformError reports a per-key failure: a value that could not be
// encoded or decoded, or (Stage "route") a malformed key in a multi-key get.
// It affects only the key it is reported for, never the connection.
type TransformError struct {
	Key   string
	Stage string
	Cause error
}

func (e *TransformError) Error() string {
	return "shardpipe: " + e.Stage + " failed for key " + e.Key + ": " + e.Cause.Error()
}

func (e *TransformError) Unwrap() error { return e.Cause }
