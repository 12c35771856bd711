package mqtt

import "errors"

var (
	// ErrInvalidTopic is returned for inbound topics outside the set hierarchy.
	ErrInvalidTopic = errors.New("mqtt bridge: invalid topic")

	// ErrUnknownThing is returned when a set topic names no served Thing.
	ErrUnknownThing = errors.New("mqtt bridge: unknown thing")

	// ErrInvalidPayload is returned when a set payload is not JSON.
	ErrInvalidPayload = errors.New("mqtt bridge: invalid payload")
)
