package thing

import "errors"

// Domain errors for the thing runtime.
// Callers check these with errors.Is; most are wrapped with the offending name.
var (
	// ErrNotFound is returned when a thing, property or action id does not exist.
	ErrNotFound = errors.New("thing: not found")

	// ErrReadOnly is returned when writing a property whose metadata marks it readOnly.
	ErrReadOnly = errors.New("thing: property is read-only")

	// ErrSchemaViolation is returned when a value does not conform to its schema.
	ErrSchemaViolation = errors.New("thing: value does not conform to schema")

	// ErrForwarderRejected is returned when a property's forwarder refuses a value.
	ErrForwarderRejected = errors.New("thing: value rejected by forwarder")

	// ErrUnknownAction is returned when an action name is not registered.
	ErrUnknownAction = errors.New("thing: unknown action")

	// ErrUnknownEvent is returned when an event name is not registered.
	ErrUnknownEvent = errors.New("thing: unknown event")

	// ErrDuplicateName is returned when registering a name twice during setup.
	ErrDuplicateName = errors.New("thing: name already registered")

	// ErrInvalidSchema is returned when a schema fragment cannot be compiled.
	ErrInvalidSchema = errors.New("thing: invalid schema")

	// ErrSubscriberClosed is returned by Send on a closed subscriber.
	ErrSubscriberClosed = errors.New("thing: subscriber closed")

	// ErrSubscriberFull is returned by Send when the subscriber queue is full.
	ErrSubscriberFull = errors.New("thing: subscriber queue full")
)
