package eventstream

import "errors"

// ErrNilRelayEvent indicates a nil relay event payload was provided to a publisher.
var ErrNilRelayEvent = errors.New("nil relay event")
