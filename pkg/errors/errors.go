// Package errors holds the error kinds shared by the leapmq packages.
// Callers match them with the standard library errors.Is / errors.As.
package errors

import (
	stderrors "errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when a write is attempted outside the Connected state.
	ErrNotConnected = stderrors.New("not connected")

	// ErrAlreadyConnected is returned by Connect when a connection is active or in progress.
	ErrAlreadyConnected = stderrors.New("already connected")

	// ErrDuplicateTag is returned when registering a tag that already has a pending entry.
	ErrDuplicateTag = stderrors.New("duplicate client tag")

	// ErrMalformedMessage marks an inbound line that could not be parsed.
	ErrMalformedMessage = stderrors.New("malformed message")

	// ErrConnectionClosed is delivered to outstanding requests when the connection goes away.
	ErrConnectionClosed = stderrors.New("connection closed")

	// ErrClosedByClient is the disconnect cause when Close was called locally.
	ErrClosedByClient = stderrors.New("closed by client")

	// ErrPeerClosed is the disconnect cause when the server ended the stream.
	ErrPeerClosed = stderrors.New("closed by peer")

	// ErrTimeout is returned when a request gave up before its response arrived.
	ErrTimeout = stderrors.New("request timed out")

	// ErrUnregistered is delivered to a pending completion whose tag was removed.
	ErrUnregistered = stderrors.New("tag unregistered")

	// ErrInvalidCredentials indicates unusable certificate or key material.
	ErrInvalidCredentials = stderrors.New("invalid credentials")

	// ErrShutdown is returned by a client after Shutdown.
	ErrShutdown = stderrors.New("client shut down")
)

// MalformedError describes one inbound line that failed to parse.
type MalformedError struct {
	Line []byte
	Err  error
}

func (e *MalformedError) Error() string {
	const max = 120
	line := e.Line
	if len(line) > max {
		line = line[:max]
	}
	return fmt.Sprintf("malformed message %q: %v", line, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// Is reports true for ErrMalformedMessage.
func (e *MalformedError) Is(target error) bool { return target == ErrMalformedMessage }

// ConnectionClosedError fails every outstanding one-shot request on disconnect.
// Reason is the disconnect cause (ErrClosedByClient, a socket error, ...).
type ConnectionClosedError struct {
	Reason error
}

func (e *ConnectionClosedError) Error() string {
	if e.Reason == nil {
		return ErrConnectionClosed.Error()
	}
	return fmt.Sprintf("%s: %v", ErrConnectionClosed, e.Reason)
}

func (e *ConnectionClosedError) Unwrap() error { return e.Reason }

// Is reports true for ErrConnectionClosed.
func (e *ConnectionClosedError) Is(target error) bool { return target == ErrConnectionClosed }

// Closed wraps reason in a ConnectionClosedError.
func Closed(reason error) error {
	return &ConnectionClosedError{Reason: reason}
}

// Timeout wraps a context error so it matches both ErrTimeout and cause.
func Timeout(tag string, cause error) error {
	return fmt.Errorf("%w (tag %s): %w", ErrTimeout, tag, cause)
}
