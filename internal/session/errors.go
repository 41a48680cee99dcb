package session

import (
	"errors"
	"fmt"

	"github.com/agentic-research/arbor/internal/pathx"
)

// Code classifies a failed operation. The numeric values are stable.
type Code int

const (
	NoError Code = iota
	ENoMem
	EInternal
	EPathX
	ENoMatch
	EMMatch
	ESyntax
	ENoLens
	EMXfm
	ENoSpan
	EMvDesc
	ECmdRun
	EBadArg
	ELabel
)

var codeMessages = [...]string{
	NoError:   "No error",
	ENoMem:    "Cannot allocate memory",
	EInternal: "Internal error",
	EPathX:    "Invalid path expression",
	ENoMatch:  "No match for path expression",
	EMMatch:   "Too many matches for path expression",
	ESyntax:   "Syntax error in file",
	ENoLens:   "Lens not found",
	EMXfm:     "Multiple transforms",
	ENoSpan:   "Node has no span info",
	EMvDesc:   "Cannot move node into its descendant",
	ECmdRun:   "Failed to execute command",
	EBadArg:   "Invalid argument in function call",
	ELabel:    "Invalid label",
}

func (c Code) String() string {
	if c >= 0 && int(c) < len(codeMessages) {
		return codeMessages[c]
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Error is the session's error record. Every failed operation returns
// one and stores a copy as the session's last error.
type Error struct {
	Code    Code
	Message string
	Minor   string
	Details string
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code.String()
	}
	if e.Minor != "" {
		msg += ": " + e.Minor
	}
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return msg
}

// Is matches any *Error with the same code, so errors.Is(err, ErrMMatch)
// works on errors returned by session operations.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrInternal = &Error{Code: EInternal}
	ErrPathX    = &Error{Code: EPathX}
	ErrNoMatch  = &Error{Code: ENoMatch}
	ErrMMatch   = &Error{Code: EMMatch}
	ErrSyntax   = &Error{Code: ESyntax}
	ErrNoLens   = &Error{Code: ENoLens}
	ErrMXfm     = &Error{Code: EMXfm}
	ErrNoSpan   = &Error{Code: ENoSpan}
	ErrMvDesc   = &Error{Code: EMvDesc}
	ErrCmdRun   = &Error{Code: ECmdRun}
	ErrBadArg   = &Error{Code: EBadArg}
	ErrLabel    = &Error{Code: ELabel}
)

// CodeOf returns the code carried by err, NoError for nil and EInternal
// for errors that did not come from a session.
func CodeOf(err error) Code {
	if err == nil {
		return NoError
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return EInternal
}

// fromPathx converts an expression error. Creation ambiguity is a
// multiple-match failure; everything else is a bad expression.
func fromPathx(err error) *Error {
	var pe *pathx.Error
	if !errors.As(err, &pe) {
		return &Error{Code: EInternal, Message: EInternal.String(), Details: err.Error()}
	}
	code := EPathX
	if pe.Kind == pathx.ErrMultiple {
		code = EMMatch
	}
	details := pe.Msg
	if caret := pe.Caret(); caret != "" {
		details = caret + ": " + pe.Msg
	}
	return &Error{Code: code, Message: code.String(), Minor: pe.Kind.String(), Details: details}
}
