// Package utils provides small, shared helpers (error wrapping, buffer
// pooling, and overflow-checked arithmetic) used across the store engine.
package utils

import "fmt"

// ErrorCode classifies a PFFError per the public error surface the engine
// exposes (NotPff, UnsupportedVariant, Io, BadBlock, CorruptTree, Aborted,
// InvalidArgument).
type ErrorCode int

const (
	// CodeUnspecified is used for errors that do not map onto the public
	// error surface (internal plumbing, test fixtures).
	CodeUnspecified ErrorCode = iota
	CodeNotPff
	CodeUnsupportedVariant
	CodeIO
	CodeBadBlock
	CodeCorruptTree
	CodeAborted
	CodeInvalidArgument
)

func (c ErrorCode) String() string {
	switch c {
	case CodeNotPff:
		return "NotPff"
	case CodeUnsupportedVariant:
		return "UnsupportedVariant"
	case CodeIO:
		return "Io"
	case CodeBadBlock:
		return "BadBlock"
	case CodeCorruptTree:
		return "CorruptTree"
	case CodeAborted:
		return "Aborted"
	case CodeInvalidArgument:
		return "InvalidArgument"
	default:
		return "Unspecified"
	}
}

// PFFError is a structured, contextual error carrying a public ErrorCode.
type PFFError struct {
	Context string
	Cause   error
	Code    ErrorCode
}

// Error implements the error interface.
func (e *PFFError) Error() string {
	return fmt.Sprintf("%s: %v", e.Context, e.Cause)
}

// Unwrap provides compatibility with errors.Unwrap().
func (e *PFFError) Unwrap() error {
	return e.Cause
}

// WrapError creates a contextual error with an unspecified code. Returns nil
// if cause is nil, so call sites can do `return WrapError(ctx, err)`
// unconditionally.
func WrapError(context string, cause error) error {
	return WrapCode(context, cause, CodeUnspecified)
}

// WrapCode creates a contextual error tagged with a public ErrorCode.
func WrapCode(context string, cause error, code ErrorCode) error {
	if cause == nil {
		return nil
	}
	return &PFFError{
		Context: context,
		Cause:   cause,
		Code:    code,
	}
}
