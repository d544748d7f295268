// Package apperrors provides layered application errors. An Error carries an
// HTTP status code and may wrap other errors while remaining compatible with
// errors.Is and errors.As. Errors are built once as package variables and
// derived per call site with New, Msg or Err.
package apperrors

import (
	"errors"
	"strings"
)

// Error is the interface implemented by all application errors. Methods that
// modify an error return a derived Error so call sites can chain them.
type Error interface {
	error
	Unwrap() error

	New(msg string) Error                  // fresh error using current as template
	Msg(msg string) Error                  // new message, wraps the original
	MsgErr(msg string, err ...error) Error // new message, wraps extra errors
	Err(err ...error) Error                // attaches errors, keeps the message
	SetExpandError(bool) Error             // controls ErrorAll expansion
	SetStatusCode(int) Error               // sets the HTTP status code
	StatusCode() int
	ErrorAll() string // message including wrapped errors
	UnwrapAll() []error
}

type appError struct {
	msg        string
	base       error
	wrapped    []error
	statusCode int
	expand     bool
}

// New creates a root-level error with the given message.
func New(msg string) Error {
	return &appError{msg: msg}
}

func (e *appError) Error() string {
	return e.msg
}

func (e *appError) ErrorAll() string {
	if !e.expand || len(e.wrapped) == 0 {
		return e.msg
	}
	var b strings.Builder
	b.WriteString(e.msg)
	for _, err := range e.wrapped {
		b.WriteString("; ")
		b.WriteString(err.Error())
	}
	return b.String()
}

func (e *appError) Unwrap() error {
	return e.base
}

func (e *appError) UnwrapAll() []error {
	return e.wrapped
}

func (e *appError) New(msg string) Error {
	return &appError{
		msg:        msg,
		base:       e,
		statusCode: e.statusCode,
	}
}

func (e *appError) Msg(msg string) Error {
	return &appError{
		msg:        msg,
		base:       e,
		wrapped:    append([]error{e}, e.wrapped...),
		statusCode: e.statusCode,
	}
}

func (e *appError) MsgErr(msg string, errs ...error) Error {
	return &appError{
		msg:        msg,
		base:       e,
		wrapped:    append([]error{e}, errs...),
		statusCode: e.statusCode,
	}
}

func (e *appError) Err(errs ...error) Error {
	return &appError{
		msg:        e.msg,
		base:       e,
		wrapped:    append([]error{e}, errs...),
		statusCode: e.statusCode,
		expand:     true,
	}
}

func (e *appError) SetExpandError(flag bool) Error {
	cp := *e
	cp.expand = flag
	return &cp
}

func (e *appError) SetStatusCode(code int) Error {
	cp := *e
	cp.statusCode = code
	return &cp
}

func (e *appError) StatusCode() int {
	return e.statusCode
}

// Is reports whether target matches the base error or any wrapped error.
func (e *appError) Is(target error) bool {
	if target == nil {
		return false
	}
	if errors.Is(e.base, target) {
		return true
	}
	for _, err := range e.wrapped {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
