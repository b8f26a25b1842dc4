package pff

import (
	"errors"

	"github.com/libyal/go-pff/internal/utils"
)

// ErrorCode classifies every error the public API can return.
type ErrorCode = utils.ErrorCode

// The public error codes, re-exported from internal/utils so callers never
// need to import an internal package to switch on a Code.
const (
	CodeNotPff             = utils.CodeNotPff
	CodeUnsupportedVariant = utils.CodeUnsupportedVariant
	CodeIO                 = utils.CodeIO
	CodeBadBlock           = utils.CodeBadBlock
	CodeCorruptTree        = utils.CodeCorruptTree
	CodeAborted            = utils.CodeAborted
	CodeInvalidArgument    = utils.CodeInvalidArgument
)

// Code extracts the ErrorCode carried by err, if any. It reports false for
// errors that did not originate inside go-pff (e.g. a caller-supplied
// Source's own I/O errors that were never wrapped).
func Code(err error) (ErrorCode, bool) {
	var pe *utils.PFFError
	if errors.As(err, &pe) {
		return pe.Code, true
	}
	return utils.CodeUnspecified, false
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	got, ok := Code(err)
	return ok && got == code
}
