package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownHostAlias  = errors.New("unknown host alias")
	ErrAuthRequired      = errors.New("owner self requires credentials")
	ErrAuth              = errors.New("authentication rejected")
	ErrNetwork           = errors.New("network error")
	ErrProtocol          = errors.New("protocol error")
	ErrInvalidDateFormat = errors.New("invalid date format")
	ErrUnknownTheme      = errors.New("unknown theme")
	ErrIO                = errors.New("output error")
)

// HostError attributes a fetch failure to the host it came from.
// Kind is one of ErrAuthRequired, ErrAuth, ErrNetwork or ErrProtocol.
type HostError struct {
	Host string
	Kind error
	Err  error
}

func (e *HostError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Host, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Host, e.Kind, e.Err)
}

func (e *HostError) Unwrap() error { return e.Err }

// Is matches the error's Kind so callers can test errors.Is(err, ErrAuth).
func (e *HostError) Is(target error) bool { return target == e.Kind }

// NewHostError builds a HostError, formatting the cause like fmt.Errorf.
func NewHostError(host string, kind error, format string, args ...any) *HostError {
	return &HostError{Host: host, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// FetchError is returned when too few hosts succeeded for the run to count.
type FetchError struct {
	Failures []*HostError
}

func (e *FetchError) Error() string {
	causes := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		causes = append(causes, f.Error())
	}
	return fmt.Sprintf("%d host(s) failed: %s", len(e.Failures), strings.Join(causes, "; "))
}

// Unwrap exposes each host failure to errors.Is and errors.As.
func (e *FetchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f)
	}
	return errs
}

// DateError reports a value that is not a YYYY-MM-DD date.
type DateError struct {
	Value string
	Err   error
}

func (e *DateError) Error() string {
	return fmt.Sprintf("%v: %q is not YYYY-MM-DD", ErrInvalidDateFormat, e.Value)
}

func (e *DateError) Unwrap() []error { return []error{ErrInvalidDateFormat, e.Err} }

// OutputError reports a failure to write an artifact.
type OutputError struct {
	Path string
	Err  error
}

func (e *OutputError) Error() string {
	return fmt.Sprintf("%v: writing %s: %v", ErrIO, e.Path, e.Err)
}

func (e *OutputError) Unwrap() []error { return []error{ErrIO, e.Err} }
