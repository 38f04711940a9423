package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Kind names a failure category. Kinds are stable and surfaced verbatim to API
// callers.
type Kind string

const (
	KindUnknownStepType     Kind = "UnknownStepType"
	KindInvalidStepConfig   Kind = "InvalidStepConfig"
	KindInvalidOperator     Kind = "InvalidOperator"
	KindInvalidCondition    Kind = "InvalidCondition"
	KindInvalidPipeline     Kind = "InvalidPipeline"
	KindEmptyPipeline       Kind = "EmptyPipeline"
	KindDuplicateStepType   Kind = "DuplicateStepType"
	KindPipelineFrozen      Kind = "PipelineFrozen"
	KindAlreadyBuilt        Kind = "AlreadyBuilt"
	KindNotFound            Kind = "NotFound"
	KindNotExecutable       Kind = "NotExecutable"
	KindExecutionInProgress Kind = "ExecutionInProgress"
	KindCanceled            Kind = "Canceled"
	KindConditionNotMet     Kind = "ConditionNotMet"
	KindUnresolvedField     Kind = "UnresolvedField"
	KindTypeMismatch        Kind = "TypeMismatch"
	KindSubmissionError     Kind = "SubmissionError"
	KindSubmissionTimeout   Kind = "SubmissionTimeout"
)

// Class groups kinds by who can act on them.
type Class string

const (
	ClassValidation Class = "validation"
	ClassState      Class = "state"
	ClassExecution  Class = "execution"
)

func (k Kind) Class() Class {
	switch k {
	case KindUnknownStepType, KindInvalidStepConfig, KindInvalidOperator, KindInvalidCondition,
		KindInvalidPipeline, KindEmptyPipeline, KindDuplicateStepType:
		return ClassValidation
	case KindPipelineFrozen, KindAlreadyBuilt, KindNotFound, KindNotExecutable,
		KindExecutionInProgress, KindCanceled:
		return ClassState
	default:
		return ClassExecution
	}
}

// Sentinels for errors.Is; matching is by Kind only.
var (
	ErrUnknownStepType     = &Error{Kind: KindUnknownStepType, Index: -1}
	ErrInvalidStepConfig   = &Error{Kind: KindInvalidStepConfig, Index: -1}
	ErrInvalidOperator     = &Error{Kind: KindInvalidOperator, Index: -1}
	ErrInvalidCondition    = &Error{Kind: KindInvalidCondition, Index: -1}
	ErrInvalidPipeline     = &Error{Kind: KindInvalidPipeline, Index: -1}
	ErrEmptyPipeline       = &Error{Kind: KindEmptyPipeline, Index: -1}
	ErrDuplicateStepType   = &Error{Kind: KindDuplicateStepType, Index: -1}
	ErrPipelineFrozen      = &Error{Kind: KindPipelineFrozen, Index: -1}
	ErrAlreadyBuilt        = &Error{Kind: KindAlreadyBuilt, Index: -1}
	ErrNotFound            = &Error{Kind: KindNotFound, Index: -1}
	ErrNotExecutable       = &Error{Kind: KindNotExecutable, Index: -1}
	ErrExecutionInProgress = &Error{Kind: KindExecutionInProgress, Index: -1}
	ErrCanceled            = &Error{Kind: KindCanceled, Index: -1}
	ErrConditionNotMet     = &Error{Kind: KindConditionNotMet, Index: -1}
	ErrUnresolvedField     = &Error{Kind: KindUnresolvedField, Index: -1}
	ErrTypeMismatch        = &Error{Kind: KindTypeMismatch, Index: -1}
	ErrSubmissionError     = &Error{Kind: KindSubmissionError, Index: -1}
	ErrSubmissionTimeout   = &Error{Kind: KindSubmissionTimeout, Index: -1}
)

// Error carries enough structure to localise a failure without logs.
// Index is the entry position, or -1 when not applicable.
type Error struct {
	Kind    Kind
	Index   int
	Field   string
	State   Status
	Message string
	Err     error
}

// Errorf builds an *Error of the given kind with no index.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Index: -1, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Index >= 0 {
		fmt.Fprintf(&b, " at entry %d", e.Index)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " (field %q)", e.Field)
	}
	if e.State != "" {
		fmt.Fprintf(&b, " [state %s]", e.State)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithIndex returns a copy of e positioned at entry i.
func (e *Error) WithIndex(i int) *Error {
	out := *e
	out.Index = i
	return &out
}

// KindOf extracts the Kind of err, or "" when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// AsError unwraps err to *Error.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
