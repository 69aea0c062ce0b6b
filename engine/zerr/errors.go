// Package zerr defines the typed error taxonomy shared by every bridge and
// exporter (spec §7): Config, Transport, Decode, Timeout, Auth, Parse,
// Overflow, Cancelled, Other. Every error carries a Retryable flag and an
// optional Device so callers can drive liveness/health without type
// switches on ad-hoc sentinel errors.
package zerr

import "fmt"

// Type enumerates the error taxonomy.
type Type string

const (
	Config    Type = "config"
	Transport Type = "transport"
	Decode    Type = "decode"
	Timeout   Type = "timeout"
	Auth      Type = "auth"
	Parse     Type = "parse"
	Overflow  Type = "overflow"
	Cancelled Type = "cancelled"
	Other     Type = "other"
)

// Error is the concrete error type produced throughout the engine.
type Error struct {
	Kind      Type
	Retryable bool
	Device    string
	Err       error
}

func (e *Error) Error() string {
	if e.Device != "" {
		return fmt.Sprintf("%s[%s]: %v", e.Kind, e.Device, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a taxonomy error wrapping err.
func New(kind Type, retryable bool, device string, err error) *Error {
	return &Error{Kind: kind, Retryable: retryable, Device: device, Err: err}
}

func Timeoutf(device string, format string, args ...any) *Error {
	return New(Timeout, true, device, fmt.Errorf(format, args...))
}

func Authf(device string, format string, args ...any) *Error {
	return New(Auth, false, device, fmt.Errorf(format, args...))
}

func Parsef(device string, format string, args ...any) *Error {
	return New(Parse, false, device, fmt.Errorf(format, args...))
}

func Configf(format string, args ...any) *Error {
	return New(Config, false, "", fmt.Errorf(format, args...))
}

func Transportf(retryable bool, format string, args ...any) *Error {
	return New(Transport, retryable, "", fmt.Errorf(format, args...))
}

func Overflowf(format string, args ...any) *Error {
	return New(Overflow, false, "", fmt.Errorf(format, args...))
}

func Otherf(device string, format string, args ...any) *Error {
	return New(Other, false, device, fmt.Errorf(format, args...))
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Type) bool {
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
	} else {
		return false
	}
	return e.Kind == kind
}
