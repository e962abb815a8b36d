package upstream

import (
	"errors"
	"fmt"
)

// ErrUpstreamUnavailable is matched (via errors.Is) by every failure that
// happens before the upstream started streaming: transport errors and
// non-success statuses.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// UnavailableError describes an upstream that rejected the request or could
// not be reached. StatusCode is 0 for transport failures.
type UnavailableError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UnavailableError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d", ErrUpstreamUnavailable, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", ErrUpstreamUnavailable, e.Err)
	default:
		return ErrUpstreamUnavailable.Error()
	}
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrUpstreamUnavailable
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}
