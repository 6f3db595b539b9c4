package eventprocessor

import "errors"

// ErrInvalidEvent means an event arrived without a source field.
var ErrInvalidEvent = errors.New("eventprocessor: event missing source field")

// ErrUnknownSource means no processor is registered for an event's source
// (neither the source:detail_type key nor the bare source key matched).
var ErrUnknownSource = errors.New("eventprocessor: unknown event source")
