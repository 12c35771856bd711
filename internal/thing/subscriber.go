package thing

import (
	"sync"
	"sync/atomic"
)

// Outbound message types.
const (
	MessagePropertyStatus = "propertyStatus"
	MessageActionStatus   = "actionStatus"
	MessageEvent          = "event"
)

// Message is one notification fanned out to a Thing's subscribers.
//
// The same Message value is delivered to every subscriber; receivers must
// treat Data as read-only.
type Message struct {
	ThingID     string         `json:"-"`
	MessageType string         `json:"messageType"`
	Data        map[string]any `json:"data"`
}

// Subscriber receives notifications from a Thing.
//
// Send is called while the Thing is exclusively locked. It must never block
// and must not call back into the Thing. Returning any error removes the
// subscriber from the Thing; it is never retried.
type Subscriber interface {
	ID() string
	Send(msg Message) error
}

// ChanSubscriber is a Subscriber backed by a buffered channel. A full
// buffer fails the send, which drops the subscriber.
//
// Thread Safety: Send and Close may be called concurrently.
type ChanSubscriber struct {
	id      string
	mu      sync.Mutex
	ch      chan Message
	closed  bool
	lossy   bool
	dropped atomic.Int64
}

// NewChanSubscriber creates a subscriber with the given queue size.
func NewChanSubscriber(id string, buffer int) *ChanSubscriber {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChanSubscriber{id: id, ch: make(chan Message, buffer)}
}

// NewSinkSubscriber creates a subscriber for background consumers such as
// persistence or bridges. When its buffer is full the message is discarded
// and counted, but the subscriber stays attached.
func NewSinkSubscriber(id string, buffer int) *ChanSubscriber {
	s := NewChanSubscriber(id, buffer)
	s.lossy = true
	return s
}

// ID returns the subscriber id.
func (s *ChanSubscriber) ID() string {
	return s.id
}

// Send enqueues msg without blocking.
func (s *ChanSubscriber) Send(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSubscriberClosed
	}
	select {
	case s.ch <- msg:
		return nil
	default:
		if s.lossy {
			s.dropped.Add(1)
			return nil
		}
		return ErrSubscriberFull
	}
}

// Dropped returns how many messages a sink subscriber discarded.
func (s *ChanSubscriber) Dropped() int64 {
	return s.dropped.Load()
}

// Messages returns the receive side of the queue. It is closed by Close.
func (s *ChanSubscriber) Messages() <-chan Message {
	return s.ch
}

// Close closes the queue. Subsequent sends fail with ErrSubscriberClosed.
func (s *ChanSubscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
