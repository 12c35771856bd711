package history

import "errors"

var (
	// ErrInvalidKind is returned when a kind is not one of the notification
	// message types.
	ErrInvalidKind = errors.New("history: invalid kind")

	// ErrInvalidMessage is returned when a notification does not carry
	// exactly one named entry.
	ErrInvalidMessage = errors.New("history: invalid notification")
)
