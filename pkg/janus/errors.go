package janus

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common misuse.
var (
	// ErrNotInitialized is returned when an operation needs a live session.
	ErrNotInitialized = errors.New("janus: client not initialized")

	// ErrAlreadyInitialized is returned when Initialize is called twice.
	ErrAlreadyInitialized = errors.New("janus: client already initialized")

	// ErrUnknownFeed is returned when a publisher feed cannot be resolved.
	ErrUnknownFeed = errors.New("janus: unknown publisher feed")
)

// TransportError reports a failed HTTP exchange with the gateway.
// It is never auto-retried; callers decide policy.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("janus: transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports a gateway response with janus:"error" or a
// missing expected field. Fatal only to the in-flight operation.
type ProtocolError struct {
	Op     string
	Code   int
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("janus: protocol error during %s: %d %s", e.Op, e.Code, e.Reason)
	}
	return fmt.Sprintf("janus: protocol error during %s: %s", e.Op, e.Reason)
}

// TimeoutError reports an event waiter that exceeded its deadline.
// The caller must clean up the in-flight operation.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("janus: timed out after %v waiting for %s", e.Timeout, e.Op)
}

// MediaError reports an ICE/PeerConnection failure. It is surfaced through
// the client error callback; the orchestrator decides whether it is fatal.
type MediaError struct {
	Op    string
	State string
}

func (e *MediaError) Error() string {
	return fmt.Sprintf("janus: media failure during %s: connection state %s", e.Op, e.State)
}
