package types

import "errors"

// Error kinds. Wrap one of these with fmt.Errorf("...: %w", ErrX) and
// classify with errors.Is.
var (
	// ErrPrecondition: input unusable before any remote call is made.
	ErrPrecondition = errors.New("precondition failed")
	// ErrUpstream: a remote service failed, timed out, or reported failure.
	ErrUpstream = errors.New("upstream service error")
	// ErrMalformedOutput: a remote service answered but the content
	// does not match the expected schema.
	ErrMalformedOutput = errors.New("malformed model output")
	ErrNotFound        = errors.New("not found")
	ErrDuplicate       = errors.New("duplicate")
)

// Kind returns a short label for the error kind, used in metrics and UI.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrPrecondition):
		return "precondition"
	case errors.Is(err, ErrUpstream):
		return "upstream"
	case errors.Is(err, ErrMalformedOutput):
		return "malformed_output"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	default:
		return "internal"
	}
}
