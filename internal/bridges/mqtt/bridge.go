package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqttinfra "github.com/nerrad567/gray-logic-webthing/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-webthing/internal/thing"
)

// SubscriberID identifies the mirror on every Thing it observes.
const SubscriberID = "mqtt-mirror"

const (
	defaultBuffer = 1024
	writeTimeout  = 5 * time.Second
)

// Client is the subset of the MQTT client the mirror needs. It is
// satisfied by *mqttinfra.Client and by fakes in tests.
type Client interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqttinfra.MessageHandler) error
	Unsubscribe(topic string) error
}

// Logger defines the logging interface used by the mirror.
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

// Options configures a Bridge.
type Options struct {
	Client Client
	Topics mqttinfra.Topics
	QoS    byte
	Things []*thing.Thing

	// Buffer is the notification queue size. Overflow is discarded.
	Buffer int
	Logger Logger
}

// Bridge mirrors Thing notifications onto MQTT and applies property
// writes that arrive on {prefix}/{thing}/set/{property}.
//
// Property values are published retained so late subscribers see the
// current state. Action and event notifications are not retained.
type Bridge struct {
	client Client
	topics mqttinfra.Topics
	qos    byte
	things map[string]*thing.Thing
	buffer int
	logger Logger

	publishErrors sync.Map // topic -> struct{}, to log each failing topic once
}

// New creates a mirror. Things are addressed by their id, made topic-safe.
func New(opts Options) (*Bridge, error) {
	if opts.Client == nil {
		return nil, errors.New("mqtt bridge: client is required")
	}
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	things := make(map[string]*thing.Thing, len(opts.Things))
	for _, t := range opts.Things {
		key := mqttinfra.Segment(t.ID())
		if _, dup := things[key]; dup {
			return nil, fmt.Errorf("mqtt bridge: things collide on topic segment %q", key)
		}
		things[key] = t
	}

	return &Bridge{
		client: opts.Client,
		topics: opts.Topics,
		qos:    opts.QoS,
		things: things,
		buffer: opts.Buffer,
		logger: opts.Logger,
	}, nil
}

// Run publishes current property values, subscribes to set topics and
// mirrors notifications until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.client.Subscribe(b.topics.AllSets(), b.qos, b.handleSet); err != nil {
		return fmt.Errorf("subscribing to set topics: %w", err)
	}

	sink := thing.NewSinkSubscriber(SubscriberID, b.buffer)
	for _, t := range b.things {
		t.Subscribe(sink)
	}
	defer func() {
		for _, t := range b.things {
			t.Unsubscribe(SubscriberID)
		}
		sink.Close()
		if err := b.client.Unsubscribe(b.topics.AllSets()); err != nil {
			b.logger.Debug("unsubscribing set topics", "error", err)
		}
		if n := sink.Dropped(); n > 0 {
			b.logger.Warn("mqtt mirror dropped notifications", "count", n)
		}
	}()

	b.publishSnapshot()
	b.logger.Info("mqtt mirror started", "things", len(b.things), "prefix", b.topics.Prefix())

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("mqtt mirror stopped")
			return nil
		case msg := <-sink.Messages():
			b.Mirror(msg)
		}
	}
}

// Mirror publishes a single notification.
func (b *Bridge) Mirror(msg thing.Message) {
	kind, ok := mqttinfra.KindFor(msg.MessageType)
	if !ok {
		return
	}
	retained := kind == mqttinfra.KindProperty

	for name, value := range msg.Data {
		payload, err := json.Marshal(value)
		if err != nil {
			b.logger.Warn("encoding mqtt payload failed", "thing", msg.ThingID, "name", name, "error", err)
			continue
		}
		b.publish(b.topics.Notification(msg.ThingID, kind, name), payload, retained)
	}
}

func (b *Bridge) publishSnapshot() {
	for _, t := range b.things {
		for _, name := range t.PropertyNames() {
			value, err := t.PropertyValue(name)
			if err != nil {
				continue
			}
			payload, err := json.Marshal(value)
			if err != nil {
				continue
			}
			b.publish(b.topics.Notification(t.ID(), mqttinfra.KindProperty, name), payload, true)
		}
	}
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	if err := b.client.Publish(topic, payload, b.qos, retained); err != nil {
		if _, seen := b.publishErrors.LoadOrStore(topic, struct{}{}); !seen {
			b.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
		}
		return
	}
	b.publishErrors.Delete(topic)
}

// handleSet applies an inbound property write. The payload is the JSON
// value to write.
func (b *Bridge) handleSet(topic string, payload []byte) error {
	key, property, ok := b.topics.ParseSet(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}
	t, ok := b.things[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownThing, key)
	}

	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if _, err := t.SetProperty(ctx, property, value); err != nil {
		return fmt.Errorf("setting %s.%s: %w", t.ID(), property, err)
	}
	b.logger.Debug("property set via mqtt", "thing", t.ID(), "property", property)
	return nil
}
