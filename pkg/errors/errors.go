// Package errors provides structured error types used across the application.
// We prefer these over raw fmt.Errorf strings to enable reliable checks with
// errors.Is / errors.As and to carry minimal context about the failure.
package errors

import (
	"errors"
	"fmt"
)

// ValidationError indicates invalid input provided by a caller/user.
// Maps to HTTP 400 at the API boundary.
type ValidationError struct {
	Op  string // where it happened (package.Function)
	Msg string // human friendly message (no PII)
	Err error  // underlying cause (optional)
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("validation: %s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("validation: %s: %s", e.Op, e.Msg)
}

func (e *ValidationError) Unwrap() error     { return e.Err }
func (e *ValidationError) Operation() string { return e.Op }
func (e *ValidationError) Message() string   { return e.Msg }

func NewValidation(op, msg string, err error) error {
	return &ValidationError{Op: op, Msg: msg, Err: err}
}

// NotFoundError indicates a referenced entity does not exist.
// Maps to HTTP 404 at the API boundary.
type NotFoundError struct {
	Op  string
	Msg string
	Err error
}

func (e *NotFoundError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("not found: %s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("not found: %s: %s", e.Op, e.Msg)
}

func (e *NotFoundError) Unwrap() error     { return e.Err }
func (e *NotFoundError) Operation() string { return e.Op }
func (e *NotFoundError) Message() string   { return e.Msg }

func NewNotFound(op, msg string, err error) error {
	return &NotFoundError{Op: op, Msg: msg, Err: err}
}

// DBError represents database access/operation failures.
type DBError struct {
	Op  string
	Msg string
	Err error
}

func (e *DBError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("db: %s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("db: %s: %s", e.Op, e.Msg)
}

func (e *DBError) Unwrap() error     { return e.Err }
func (e *DBError) Operation() string { return e.Op }
func (e *DBError) Message() string   { return e.Msg }

func NewDB(op, msg string, err error) error { return &DBError{Op: op, Msg: msg, Err: err} }

// QueueError represents failures talking to the job queue backend.
type QueueError struct {
	Op    string
	Queue string
	Msg   string
	Err   error
}

func (e *QueueError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("queue %s: %s: %s: %v", e.Queue, e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("queue %s: %s: %s", e.Queue, e.Op, e.Msg)
}

func (e *QueueError) Unwrap() error     { return e.Err }
func (e *QueueError) Operation() string { return e.Op }
func (e *QueueError) Message() string   { return e.Msg }

func NewQueue(op, queue, msg string, err error) error {
	return &QueueError{Op: op, Queue: queue, Msg: msg, Err: err}
}

// JobExhaustedError is returned when a job has burned through its retry
// budget and was parked in the failed set. Operator-visible only; never
// surfaced to end users.
type JobExhaustedError struct {
	Queue    string
	JobID    string
	Attempts int
	Err      error
}

func (e *JobExhaustedError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("job exhausted: %s/%s after %d attempts: %v", e.Queue, e.JobID, e.Attempts, e.Err)
	}
	return fmt.Sprintf("job exhausted: %s/%s after %d attempts", e.Queue, e.JobID, e.Attempts)
}

func (e *JobExhaustedError) Unwrap() error { return e.Err }

func NewJobExhausted(queue, jobID string, attempts int, err error) error {
	return &JobExhaustedError{Queue: queue, JobID: jobID, Attempts: attempts, Err: err}
}

// ExternalAPIError represents failures in external services (HTTP APIs, SDKs).
// The classification capability absorbs these into the rating fallback; they
// never cross that component's boundary.
type ExternalAPIError struct {
	Op     string
	Msg    string
	Err    error
	System string // optional system name e.g. "openai" / "redis"
}

func (e *ExternalAPIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	sys := e.System
	if sys == "" {
		sys = "external"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", sys, e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", sys, e.Op, e.Msg)
}

func (e *ExternalAPIError) Unwrap() error     { return e.Err }
func (e *ExternalAPIError) Operation() string { return e.Op }
func (e *ExternalAPIError) Message() string   { return e.Msg }

func NewExternal(op, system, msg string, err error) error {
	return &ExternalAPIError{Op: op, System: system, Msg: msg, Err: err}
}

// IsKind helpers: allow callers to check error kind without type assertions.
// Example: if errors.Is(err, errors.ErrValidation) { ... }
var (
	ErrValidation   = &ValidationError{}
	ErrNotFound     = &NotFoundError{}
	ErrDB           = &DBError{}
	ErrQueue        = &QueueError{}
	ErrExternal     = &ExternalAPIError{}
	ErrJobExhausted = &JobExhaustedError{}
)

// Is enables errors.Is(err, ErrValidation) via errors.As semantics.
// We delegate to errors.As with the zero-value pointer of each type.
func Is(err, target error) bool {
	if err == nil || target == nil {
		return errors.Is(err, target)
	}
	switch target.(type) {
	case *ValidationError:
		var v *ValidationError
		return errors.As(err, &v)
	case *NotFoundError:
		var n *NotFoundError
		return errors.As(err, &n)
	case *DBError:
		var d *DBError
		return errors.As(err, &d)
	case *QueueError:
		var q *QueueError
		return errors.As(err, &q)
	case *ExternalAPIError:
		var ex *ExternalAPIError
		return errors.As(err, &ex)
	case *JobExhaustedError:
		var j *JobExhaustedError
		return errors.As(err, &j)
	default:
		return errors.Is(err, target)
	}
}
