package hyperion

import "errors"

// Domain errors for the Hyperion bridge package.
var (
	// ErrNotConnected is returned when an operation requires a connection
	// but the client is not connected to the Hyperion server.
	ErrNotConnected = errors.New("hyperion: not connected")

	// ErrAlreadyConnected is returned by Connect when the client already
	// holds an open connection.
	ErrAlreadyConnected = errors.New("hyperion: already connected")

	// ErrConnectInProgress is returned by Connect when another Connect call
	// on the same client has not finished yet.
	ErrConnectInProgress = errors.New("hyperion: connect already in progress")

	// ErrConnectionFailed is returned when the connection to the server fails.
	ErrConnectionFailed = errors.New("hyperion: connection failed")

	// ErrTransport is returned when the socket fails during an exchange.
	// The connection is torn down before the error is returned.
	ErrTransport = errors.New("hyperion: transport error")

	// ErrConnectionClosed is returned when the peer or Disconnect closes
	// the connection while a command is waiting for its reply.
	ErrConnectionClosed = errors.New("hyperion: connection closed")

	// ErrTimeout is returned when the caller's context ends before the
	// reply arrives.
	ErrTimeout = errors.New("hyperion: operation timed out")

	// ErrDecodeFailed marks a Response whose frame was not valid JSON.
	ErrDecodeFailed = errors.New("hyperion: decoding failed")

	// ErrInvalidCommand is returned when a command cannot be encoded.
	ErrInvalidCommand = errors.New("hyperion: invalid command")

	// ErrFrameTooLarge is returned when the receive buffer grows past the
	// configured frame limit without a newline.
	ErrFrameTooLarge = errors.New("hyperion: frame exceeds maximum size")
)
