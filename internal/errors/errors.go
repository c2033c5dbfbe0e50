// Package errors is a drop-in replacement for the standard errors package
// that adds the error kinds produced by the alert core.
//
// Only ValidationError is expected to reach callers of the core. Evaluation
// and classification failures are absorbed where they happen and handed to
// Report so they still reach logs and telemetry.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"sync/atomic"
)

// New returns an error that formats as the given text.
func New(text string) error {
	return stderrors.New(text)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Join returns an error that wraps the given errors.
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

// Unwrap returns the result of calling the Unwrap method on err.
func Unwrap(err error) error {
	return stderrors.Unwrap(err)
}

// ValidationError describes a malformed rule or condition tree.
type ValidationError struct {
	Field  string
	Issues []string
}

// NewValidationError creates a ValidationError for field with the given issues.
func NewValidationError(field string, issues ...string) *ValidationError {
	return &ValidationError{Field: field, Issues: issues}
}

// Add appends a formatted issue.
func (e *ValidationError) Add(format string, args ...any) {
	e.Issues = append(e.Issues, fmt.Sprintf(format, args...))
}

// HasIssues reports whether at least one issue was recorded.
func (e *ValidationError) HasIssues() bool {
	return e != nil && len(e.Issues) > 0
}

func (e *ValidationError) Error() string {
	prefix := "validation failed"
	if e.Field != "" {
		prefix = fmt.Sprintf("validation failed for %s", e.Field)
	}
	if len(e.Issues) == 0 {
		return prefix
	}
	return prefix + ": " + strings.Join(e.Issues, "; ")
}

// EvaluationError wraps a failure raised while dispatching a rule.
type EvaluationError struct {
	RuleID   string
	RuleType string
	Snapshot map[string]any
	Err      error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation of rule %s (%s) failed: %v", e.RuleID, e.RuleType, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// ClassificationError wraps a failure raised while checking an alert for duplicates.
type ClassificationError struct {
	AlertID  string
	Strategy string
	Err      error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("duplicate classification of alert %s (strategy %s) failed: %v", e.AlertID, e.Strategy, e.Err)
}

func (e *ClassificationError) Unwrap() error {
	return e.Err
}

// PanicError carries a value recovered from a panic.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("recovered panic: %v", e.Value)
}

// FromPanic converts a recovered value into an error. Errors are wrapped so
// errors.Is keeps working on the original value.
func FromPanic(v any) error {
	if err, ok := v.(error); ok {
		return fmt.Errorf("recovered panic: %w", err)
	}
	return &PanicError{Value: v}
}

// Reporter receives absorbed errors, typically to forward them to telemetry.
type Reporter func(err error)

var reporter atomic.Pointer[Reporter]

// SetReporter installs r as the process-wide reporter. Passing nil disables reporting.
func SetReporter(r Reporter) {
	if r == nil {
		reporter.Store(nil)
		return
	}
	reporter.Store(&r)
}

// Report forwards err to the installed reporter, if any.
func Report(err error) {
	if err == nil {
		return
	}
	if r := reporter.Load(); r != nil {
		(*r)(err)
	}
}
