package engine

import (
	"errors"
	"fmt"
)

// Domain names the subsystem that owns an error code.
type Domain string

const (
	DomainIntake Domain = "intake"
	DomainPDF    Domain = "pdf"
	DomainImage  Domain = "image"
	DomainVideo  Domain = "video"
)

// Code is a machine-readable failure kind. Each engine package declares its
// own closed set of codes.
type Code string

// Error is the single failure type raised by engines and the intake store.
// Callers branch on Code and map it to user-facing text themselves.
type Error struct {
	Domain   Domain
	Code     Code
	FileName string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Domain, e.Code)
	if e.FileName != "" {
		msg += fmt.Sprintf(" (%s)", e.FileName)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same domain and code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Domain == e.Domain && t.Code == e.Code
}

func NewError(domain Domain, code Code, err error) *Error {
	return &Error{Domain: domain, Code: code, Err: err}
}

// WithFile returns a copy of e naming the offending file.
func (e *Error) WithFile(name string) *Error {
	out := *e
	out.FileName = name
	return &out
}

// CodeOf extracts the code from err, or "" if err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// AsError returns the *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
