package telemetry

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-webthing/internal/thing"
)

// SubscriberID identifies the telemetry sink on every Thing it observes.
const SubscriberID = "telemetry"

const defaultBuffer = 1024

// Writer receives samples. It is satisfied by *influxdb.Client.
type Writer interface {
	WriteProperty(thingID, property string, value any, ts time.Time)
	WriteEvent(thingID, event string, data any, ts time.Time)
	Flush()
}

// Logger defines the logging interface used by the sink.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(_ string, _ ...any) {}
func (noopLogger) Info(_ string, _ ...any)  {}
func (noopLogger) Warn(_ string, _ ...any)  {}
func (noopLogger) Error(_ string, _ ...any) {}

// Sink forwards property changes and events to a time-series Writer.
// Action status changes are not recorded.
type Sink struct {
	writer Writer
	things []*thing.Thing
	buffer int
	logger Logger
	now    func() time.Time
}

// NewSink creates a telemetry sink. A buffer of zero uses the default.
func NewSink(writer Writer, things []*thing.Thing, buffer int) *Sink {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Sink{
		writer: writer,
		things: things,
		buffer: buffer,
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the sink.
func (s *Sink) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Run samples current property values once, then forwards notifications
// until ctx is cancelled. Pending points are flushed on return.
func (s *Sink) Run(ctx context.Context) error {
	sub := thing.NewSinkSubscriber(SubscriberID, s.buffer)
	for _, t := range s.things {
		t.Subscribe(sub)
	}
	defer func() {
		for _, t := range s.things {
			t.Unsubscribe(SubscriberID)
		}
		sub.Close()
		s.writer.Flush()
		if n := sub.Dropped(); n > 0 {
			s.logger.Warn("telemetry sink dropped notifications", "count", n)
		}
	}()

	now := s.now()
	for _, t := range s.things {
		for name, value := range t.Properties() {
			s.writer.WriteProperty(t.ID(), name, value, now)
		}
	}

	s.logger.Info("telemetry sink started", "things", len(s.things))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("telemetry sink stopped")
			return nil
		case msg := <-sub.Messages():
			s.Record(msg)
		}
	}
}

// Record converts one notification into samples.
func (s *Sink) Record(msg thing.Message) {
	switch msg.MessageType {
	case thing.MessagePropertyStatus:
		now := s.now()
		for name, value := range msg.Data {
			s.writer.WriteProperty(msg.ThingID, name, value, now)
		}
	case thing.MessageEvent:
		for name, raw := range msg.Data {
			inner, _ := raw.(map[string]any)
			ts := s.now()
			if stamp, ok := inner["timestamp"].(string); ok {
				if parsed, err := time.Parse(thing.TimestampFormat, stamp); err == nil {
					ts = parsed
				}
			}
			s.writer.WriteEvent(msg.ThingID, name, inner["data"], ts)
		}
	}
}
