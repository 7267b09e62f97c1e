package command

import (
	"errors"
	"fmt"
)

// Static errors for err113 compliance.
var (
	ErrCorrelationTimeout = errors.New("timed out waiting for command result")
	ErrNoCommandResult    = errors.New("result stream ended without a command result")
	ErrCommandFailed      = errors.New("command failed")
	ErrUnknownStage       = errors.New("unknown command stage")
	ErrNoResultHub        = errors.New("no result hub configured")
	ErrStreamClosed       = errors.New("result stream closed")
	ErrSubscriberOverflow = errors.New("result subscriber fell behind")
)

// CommandError describes a command the backend reported as failed.
type CommandError struct {
	CommandID string
	RequestID string
	Stage     Stage
	ErrorCode string
	ErrorMsg  string
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s failed at %s: %s: %s", e.CommandID, e.Stage, e.ErrorCode, e.ErrorMsg)
}

// Is matches ErrCommandFailed.
func (e *CommandError) Is(target error) bool {
	return target == ErrCommandFailed
}

// IsCorrelationTimeout checks if the wait for a result timed out.
func IsCorrelationTimeout(err error) bool {
	return errors.Is(err, ErrCorrelationTimeout)
}
