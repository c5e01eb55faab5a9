// Package planner resolves the installation topology for managed hosts and
// synthesizes the OS-correct command sequences that install or uninstall the
// monitoring agent. Plan generation is pure: it never executes commands and
// never mutates inventory records.
package planner

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a host's plan could not be generated. Batch
// callers use the kind to decide whether to abort a batch or skip one host.
type FailureKind string

const (
	// FailureValidation indicates a generated parameter failed validation,
	// for example a malformed callback URL. The plan is discarded whole.
	FailureValidation FailureKind = "validation"

	// FailureTopology indicates no viable install path exists, for example
	// a relayed agent with no reachable proxy.
	FailureTopology FailureKind = "topology"

	// FailureMissingRecord indicates a required inventory record (host,
	// access point or identity) was absent. Supplying it is the caller's
	// responsibility; the planner never substitutes defaults.
	FailureMissingRecord FailureKind = "missing_record"
)

// PlanError is a classified plan-generation failure scoped to one host.
type PlanError struct {
	// Kind is the failure classification.
	Kind FailureKind

	// Message is the human-readable failure description.
	Message string

	// HostID is the host whose plan failed, when known.
	HostID int64

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *PlanError) Error() string {
	if e.HostID != 0 {
		return fmt.Sprintf("[%s] host %d: %s%s", e.Kind, e.HostID, e.Message, e.unwrapSuffix())
	}
	return fmt.Sprintf("[%s] %s%s", e.Kind, e.Message, e.unwrapSuffix())
}

func (e *PlanError) unwrapSuffix() string {
	if e.Err != nil {
		return ": " + e.Err.Error()
	}
	return ""
}

// Unwrap returns the underlying error for error chain inspection.
func (e *PlanError) Unwrap() error {
	return e.Err
}

// Is matches plan errors by kind.
func (e *PlanError) Is(target error) bool {
	t, ok := target.(*PlanError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithHost attaches the failing host's ID.
func (e *PlanError) WithHost(hostID int64) *PlanError {
	e.HostID = hostID
	return e
}

// NewValidationError creates a validation failure.
func NewValidationError(message string, err error) *PlanError {
	return &PlanError{Kind: FailureValidation, Message: message, Err: err}
}

// NewTopologyError creates a topology failure.
func NewTopologyError(message string, err error) *PlanError {
	return &PlanError{Kind: FailureTopology, Message: message, Err: err}
}

// NewMissingRecordError creates a missing-record failure.
func NewMissingRecordError(message string, err error) *PlanError {
	return &PlanError{Kind: FailureMissingRecord, Message: message, Err: err}
}

// KindOf returns the failure kind of err, or an empty kind for non-plan errors.
func KindOf(err error) FailureKind {
	var e *PlanError
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool { return KindOf(err) == FailureValidation }

// IsTopology reports whether err is a topology failure.
func IsTopology(err error) bool { return KindOf(err) == FailureTopology }

// IsMissingRecord reports whether err is a missing-record failure.
func IsMissingRecord(err error) bool { return KindOf(err) == FailureMissingRecord }
