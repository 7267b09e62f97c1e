package command

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Command headers understood by the backend.
const (
	HeaderWaitStage   = "Command-Wait-Stage"
	HeaderWaitTimeout = "Command-Wait-Timeout"
	HeaderRequestID   = "Command-Request-Id"
	HeaderAggregateID = "Command-Aggregate-Id"
	HeaderTenantID    = "Command-Tenant-Id"
)

// Stage is a processing milestone of a command. Stages are totally ordered.
type Stage string

// Known stages in processing order.
const (
	StageSent      Stage = "SENT"
	StageProcessed Stage = "PROCESSED"
	StageSnapshot  Stage = "SNAPSHOT"
)

var stageOrdinals = map[Stage]int{
	StageSent:      0,
	StageProcessed: 1,
	StageSnapshot:  2,
}

// ParseStage parses a stage name, case-insensitively.
func ParseStage(s string) (Stage, error) {
	stage := Stage(strings.ToUpper(strings.TrimSpace(s)))
	if !stage.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStage, s)
	}

	return stage, nil
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	_, ok := stageOrdinals[s]

	return ok
}

// Ordinal returns the position of s in processing order, -1 when unknown.
func (s Stage) Ordinal() int {
	if ordinal, ok := stageOrdinals[s]; ok {
		return ordinal
	}

	return -1
}

// Reached reports whether s is at or past target. Unknown stages never reach anything.
func (s Stage) Reached(target Stage) bool {
	return s.Valid() && target.Valid() && s.Ordinal() >= target.Ordinal()
}

// ErrorCodeSucceeded is the error code of a successful result.
const ErrorCodeSucceeded = "Ok"

// Result is a command result signal. The acceptance answer of a dispatched
// command has the same shape.
type Result struct {
	ID               string         `json:"id,omitempty"               yaml:"id,omitempty"`
	CommandID        string         `json:"commandId"                  yaml:"command_id"`
	RequestID        string         `json:"requestId"                  yaml:"request_id"`
	AggregateID      string         `json:"aggregateId,omitempty"      yaml:"aggregate_id,omitempty"`
	AggregateVersion *int           `json:"aggregateVersion,omitempty" yaml:"aggregate_version,omitempty"`
	TenantID         string         `json:"tenantId,omitempty"         yaml:"tenant_id,omitempty"`
	Stage            Stage          `json:"stage"                      yaml:"stage"`
	ErrorCode        string         `json:"errorCode,omitempty"        yaml:"error_code,omitempty"`
	ErrorMsg         string         `json:"errorMsg,omitempty"         yaml:"error_msg,omitempty"`
	Result           map[string]any `json:"result,omitempty"           yaml:"result,omitempty"`
	SignalTime       int64          `json:"signalTime,omitempty"       yaml:"signal_time,omitempty"`
}

// Failed reports whether the result carries an error.
func (r *Result) Failed() bool {
	return r.ErrorCode != "" && r.ErrorCode != ErrorCodeSucceeded
}

// Succeeded reports whether the result carries no error.
func (r *Result) Succeeded() bool {
	return !r.Failed()
}

// Err returns a *CommandError for failed results and nil otherwise.
func (r *Result) Err() error {
	if !r.Failed() {
		return nil
	}

	return &CommandError{
		CommandID: r.CommandID,
		RequestID: r.RequestID,
		Stage:     r.Stage,
		ErrorCode: r.ErrorCode,
		ErrorMsg:  r.ErrorMsg,
	}
}

// Satisfies reports whether the result completes a wait for requestID at stage.
func (r *Result) Satisfies(requestID string, stage Stage) bool {
	return r.RequestID == requestID && (r.Failed() || r.Stage.Reached(stage))
}

// Time returns the signal time.
func (r *Result) Time() time.Time {
	if r.SignalTime == 0 {
		return time.Time{}
	}

	return time.UnixMilli(r.SignalTime)
}

// Envelope identifies an accepted command and the stage it is awaited at.
type Envelope struct {
	CommandID   string
	AggregateID string
	RequestID   string
	WaitStage   Stage
}

// Envelope returns the envelope of an accepted command.
func (r *Result) Envelope(stage Stage) Envelope {
	return Envelope{
		CommandID:   r.CommandID,
		AggregateID: r.AggregateID,
		RequestID:   r.RequestID,
		WaitStage:   stage,
	}
}

// Command is a write to dispatch.
type Command struct {
	// Method defaults to POST.
	Method      string
	Path        string
	PathParams  map[string]string
	AggregateID string
	TenantID    string
	// RequestID correlates results; a UUID is generated when empty.
	RequestID string
	Headers   http.Header
	Body      any
	// WaitTimeout bounds the wait for the result. Zero uses the client default.
	WaitTimeout time.Duration
}
