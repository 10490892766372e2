// Package apperrors provides the stage-tagged error taxonomy surfaced by workload launches.
package apperrors

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation      = errors.New("validation error")
	ErrSpecBuild       = errors.New("spec build error")
	ErrSubmit          = errors.New("submit error")
	ErrInitTimeout     = errors.New("init timeout")
	ErrInitCrash       = errors.New("init crash")
	ErrConfigTransfer  = errors.New("config transfer error")
	ErrStartTimeout    = errors.New("start timeout")
	ErrDeletionTimeout = errors.New("deletion timeout")
	ErrPlatform        = errors.New("platform error")
)

// Stage names the launch step an error was raised in.
type Stage string

const (
	StageValidate Stage = "validate"
	StageBuild    Stage = "build"
	StageSubmit   Stage = "submit"
	StageInit     Stage = "await_initialized"
	StageTransfer Stage = "transfer"
	StageReady    Stage = "await_ready"
	StageExists   Stage = "exists"
	StageDelete   Stage = "delete"
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Stage    Stage  // Launch stage that failed
	Unit     string // Pod, container or selector the stage acted on
	Op       string // Platform operation that failed (e.g., "kube.createPod")
	Field    string // For validation errors (e.g., "workloadId")
	Message  string // Human-readable message
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Cause}
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Stage:    StageValidate,
		Message:  message,
		Field:    field,
	}
}

// SpecBuild reports a caller configuration mistake found while building a pod spec.
func SpecBuild(unit, field string, cause error) error {
	return &Error{
		Sentinel: ErrSpecBuild,
		Stage:    StageBuild,
		Unit:     unit,
		Field:    field,
		Message:  fmt.Sprintf("invalid %s for %s: %v", field, unit, cause),
		Cause:    cause,
	}
}

// Submit reports a rejected pod or container creation.
func Submit(unit, op string, cause error) error {
	return &Error{
		Sentinel: ErrSubmit,
		Stage:    StageSubmit,
		Unit:     unit,
		Op:       op,
		Message:  fmt.Sprintf("failed to create %s: %v", unit, cause),
		Cause:    cause,
	}
}

// InitTimeout reports an init container that never started running.
func InitTimeout(unit string, timeout time.Duration) error {
	return &Error{
		Sentinel: ErrInitTimeout,
		Stage:    StageInit,
		Unit:     unit,
		Message:  fmt.Sprintf("init container of %s did not start within %s", unit, timeout),
		Cause:    context.DeadlineExceeded,
	}
}

// InitCrash reports an init container that left the waiting state without running.
func InitCrash(unit, observed string) error {
	return &Error{
		Sentinel: ErrInitCrash,
		Stage:    StageInit,
		Unit:     unit,
		Message:  fmt.Sprintf("init container of %s is not running: %s", unit, observed),
	}
}

// ConfigTransfer reports a failed copy of a config file into a pod.
func ConfigTransfer(unit, file string, exitCode int, cause error) error {
	msg := fmt.Sprintf("failed to copy %s into %s (exit code %d)", file, unit, exitCode)
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return &Error{
		Sentinel: ErrConfigTransfer,
		Stage:    StageTransfer,
		Unit:     unit,
		Field:    file,
		Message:  msg,
		Cause:    cause,
	}
}

// StartTimeout reports main containers that never became ready or terminal.
func StartTimeout(unit string, timeout time.Duration) error {
	return &Error{
		Sentinel: ErrStartTimeout,
		Stage:    StageReady,
		Unit:     unit,
		Message:  fmt.Sprintf("%s did not become ready or terminal within %s", unit, timeout),
		Cause:    context.DeadlineExceeded,
	}
}

// DeletionTimeout reports targeted units still present after the deletion deadline.
func DeletionTimeout(unit string, remaining int, timeout time.Duration) error {
	return &Error{
		Sentinel: ErrDeletionTimeout,
		Stage:    StageDelete,
		Unit:     unit,
		Message:  fmt.Sprintf("%d unit(s) matching %s still present after %s", remaining, unit, timeout),
		Cause:    context.DeadlineExceeded,
	}
}

// Platform wraps an unclassified backend failure in a stage.
func Platform(stage Stage, unit, op string, cause error) error {
	return &Error{
		Sentinel: ErrPlatform,
		Stage:    stage,
		Unit:     unit,
		Op:       op,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Cause:    cause,
	}
}

// StageOf returns the stage carried by err, or "" if err is not an *Error.
func StageOf(err error) Stage {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Stage
	}
	return ""
}
