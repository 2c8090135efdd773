// Package errors provides error handling utilities for seqlims.
// It offers consistent error wrapping, classification and logging so that
// storage, security and workflow failures can be translated into API
// responses without string matching.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Op represents an operation name for error context.
type Op string

// Error represents an application error with context.
type Error struct {
	Op   Op     // Operation that failed
	Kind Kind   // Category of error
	Err  error  // Underlying error
	Msg  string // Additional context message
}

// Kind represents the category of error.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindDatabase
	KindSearch
	KindIO
	KindValidation
	KindConfig
	KindNetwork
	KindParse
	KindNotFound
	KindExists
	KindInvalidProperty
	KindStorage
	KindForbidden
	KindUnauthorized
	KindCredentialsExpired
	KindWorkflow
	KindWorkflowChecksum
	KindExecutionManager
	KindIllegalState
)

// String returns the string representation of the error kind.
func (k Kind) String() string {
	switch k {
	case KindDatabase:
		return "database"
	case KindSearch:
		return "search"
	case KindIO:
		return "io"
	case KindValidation:
		return "validation"
	case KindConfig:
		return "config"
	case KindNetwork:
		return "network"
	case KindParse:
		return "parse"
	case KindNotFound:
		return "not found"
	case KindExists:
		return "already exists"
	case KindInvalidProperty:
		return "invalid property"
	case KindStorage:
		return "storage"
	case KindForbidden:
		return "forbidden"
	case KindUnauthorized:
		return "unauthorized"
	case KindCredentialsExpired:
		return "credentials expired"
	case KindWorkflow:
		return "workflow"
	case KindWorkflowChecksum:
		return "workflow checksum invalid"
	case KindExecutionManager:
		return "execution manager"
	case KindIllegalState:
		return "illegal state"
	default:
		return "unknown"
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(string(e.Op))
		b.WriteString(": ")
	}
	if e.Msg != "" {
		b.WriteString(e.Msg)
		if e.Err != nil {
			b.WriteString(": ")
		}
	}
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	}
	if e.Msg == "" && e.Err == nil && e.Kind != KindUnknown {
		b.WriteString(e.Kind.String())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// E creates a new Error with the given arguments.
// Arguments can be: Op, Kind, error, string (message).
func E(args ...interface{}) *Error {
	e := &Error{}
	for _, arg := range args {
		switch a := arg.(type) {
		case Op:
			e.Op = a
		case Kind:
			e.Kind = a
		case error:
			e.Err = a
		case string:
			e.Msg = a
		}
	}
	return e
}

// Wrap wraps an error with an operation name for context.
func Wrap(op Op, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// WrapMsg wraps an error with an operation name and message.
func WrapMsg(op Op, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Msg: msg, Err: err}
}

// NotFound reports a missing entity.
func NotFound(op Op, entity string, id interface{}) error {
	return &Error{Op: op, Kind: KindNotFound, Msg: fmt.Sprintf("%s [%v] not found", entity, id)}
}

// Forbidden reports an authorization failure.
func Forbidden(op Op, msg string) error {
	return &Error{Op: op, Kind: KindForbidden, Msg: msg}
}

// SkipCounter tracks how many times operations have been skipped.
// Use this to provide visibility into silent error patterns.
type SkipCounter struct {
	Op         string
	Count      int
	LastErr    error
	LastDetail string
}

// NewSkipCounter creates a new skip counter for the given operation.
func NewSkipCounter(op string) *SkipCounter {
	return &SkipCounter{Op: op}
}

// Skip records a skipped operation due to an error.
func (s *SkipCounter) Skip(err error, detail string) {
	s.Count++
	s.LastErr = err
	s.LastDetail = detail
}

// Report logs a summary if any operations were skipped.
func (s *SkipCounter) Report() {
	if s.Count > 0 {
		zap.L().Warn("operations skipped",
			zap.String("op", s.Op),
			zap.Int("count", s.Count),
			zap.NamedError("last_error", s.LastErr),
			zap.String("detail", s.LastDetail))
	}
}

// IgnoreError explicitly ignores an error with a reason.
//
// Example:
//
//	errors.IgnoreError(file.Close(), "cleanup during error recovery")
func IgnoreError(err error, reason string) {
	if err != nil {
		zap.L().Debug("ignoring error", zap.String("reason", reason), zap.Error(err))
	}
}

// IsKind reports whether any error in err's chain is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return GetKind(err) == kind
}

// GetKind returns the first non-unknown kind found in err's chain, or KindUnknown.
func GetKind(err error) Kind {
	for err != nil {
		var e *Error
		if !stderrors.As(err, &e) {
			return KindUnknown
		}
		if e.Kind != KindUnknown {
			return e.Kind
		}
		err = e.Err
	}
	return KindUnknown
}

// Is mirrors the standard library so callers need a single import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As mirrors the standard library so callers need a single import.
func As(err error, target interface{}) bool { return stderrors.As(err, target) }

// New mirrors the standard library so callers need a single import.
func New(text string) error { return stderrors.New(text) }
