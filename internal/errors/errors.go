// Package errors defines application-specific error types and sentinel errors.
package errors

import (
	"errors"
	"fmt"

	"github.com/vmtel/vmeventbuf/pkg/event"
)

// Sentinel errors for common conditions.
var (
	ErrNoBuffer      = errors.New("no buffer available")
	ErrPoolClosed    = errors.New("buffer pool is closed")
	ErrBufferTooBig  = errors.New("allocation exceeds buffer capacity")
	ErrAuthFailed    = errors.New("control channel authentication failed")
	ErrFrameTooLarge = errors.New("control frame exceeds maximum size")
	ErrBadFrame      = errors.New("malformed control frame")
	ErrChannelClosed = errors.New("control channel is closed")
	ErrQueueClosed   = errors.New("event queue is closed")
	ErrPaused        = errors.New("pipeline is paused")
	ErrDisabled      = errors.New("pipeline is disabled")
)

// CommandError represents a control command that could not be executed.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command error: command=%s: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// CallbackError represents a delivery callback failure for a single event.
type CallbackError struct {
	Kind event.Kind
	Err  error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("callback error: kind=%s: %v", e.Kind, e.Err)
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}

// DecodeError represents a malformed record encountered while draining a
// flushed buffer.
type DecodeError struct {
	Kind   event.Kind
	Offset uint32
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error: kind=%s offset=%d: %s",
		e.Kind, e.Offset, e.Reason)
}

// Retryable defines an interface for errors that can indicate if they are retryable.
type Retryable interface {
	error
	IsRetryable() bool
}

// IsRetryable checks if an error is retryable.
// It first checks if the error implements the Retryable interface,
// then falls back to sentinel errors.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var retryable Retryable
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	// A missing buffer is transient: committing or flushing frees capacity.
	return errors.Is(err, ErrNoBuffer)
}

// IsRetryable determines if a CallbackError is retryable.
func (e *CallbackError) IsRetryable() bool {
	return IsRetryable(e.Err)
}
