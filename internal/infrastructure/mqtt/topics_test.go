package mqtt

import (
	"errors"
	"strings"
	"testing"

	"github.com/nerrad567/gray-logic-webthing/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-webthing/internal/thing"
)

func TestTopics(t *testing.T) {
	topics := NewTopics("home/things/")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"status", topics.Status(), "home/things/status"},
		{"property", topics.Notification("urn:dev:lamp", KindProperty, "on"), "home/things/urn:dev:lamp/property/on"},
		{"sanitised", topics.Notification("a/b+c#", KindEvent, "x/y"), "home/things/a_b_c_/event/x_y"},
		{"set", topics.Set("lamp", "brightness"), "home/things/lamp/set/brightness"},
		{"all sets", topics.AllSets(), "home/things/+/set/+"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestNewTopics_DefaultPrefix(t *testing.T) {
	if got := NewTopics("").Prefix(); got != DefaultTopicPrefix {
		t.Errorf("Prefix() = %q, want %q", got, DefaultTopicPrefix)
	}
}

func TestParseSet(t *testing.T) {
	topics := NewTopics("webthing")

	thingKey, prop, ok := topics.ParseSet("webthing/lamp/set/on")
	if !ok || thingKey != "lamp" || prop != "on" {
		t.Errorf("ParseSet() = %q, %q, %v", thingKey, prop, ok)
	}

	for _, bad := range []string{
		"other/lamp/set/on",
		"webthing/lamp/property/on",
		"webthing/lamp/set",
		"webthing//set/on",
		"webthing/lamp/set/on/extra",
	} {
		if _, _, ok := topics.ParseSet(bad); ok {
			t.Errorf("ParseSet(%q) ok = true, want false", bad)
		}
	}
}

func TestKindFor(t *testing.T) {
	cases := map[string]string{
		thing.MessagePropertyStatus: KindProperty,
		thing.MessageActionStatus:   KindAction,
		thing.MessageEvent:          KindEvent,
	}
	for messageType, want := range cases {
		if got, ok := KindFor(messageType); !ok || got != want {
			t.Errorf("KindFor(%q) = %q, %v", messageType, got, ok)
		}
	}
	if _, ok := KindFor("error"); ok {
		t.Error("KindFor(error) ok = true")
	}
}

func TestBrokerURL(t *testing.T) {
	cfg := config.MQTTConfig{Broker: config.MQTTBrokerConfig{Host: "broker", Port: 8883}}
	if got := brokerURL(cfg); got != "tcp://broker:8883" {
		t.Errorf("brokerURL() = %q", got)
	}
	cfg.Broker.TLS = true
	if got := brokerURL(cfg); got != "ssl://broker:8883" {
		t.Errorf("brokerURL() TLS = %q", got)
	}
}

func TestBuildStatusPayload(t *testing.T) {
	payload := string(buildStatusPayload("webthing-1", "offline", "graceful_shutdown"))
	for _, want := range []string{`"status":"offline"`, `"client_id":"webthing-1"`, `"reason":"graceful_shutdown"`} {
		if !strings.Contains(payload, want) {
			t.Errorf("payload %s missing %s", payload, want)
		}
	}
	if strings.Contains(string(buildStatusPayload("c", "online", "")), "reason") {
		t.Error("online payload should omit reason")
	}
}

func TestValidatePublish(t *testing.T) {
	if err := validatePublish("", nil, 0); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := validatePublish("t", nil, 3); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("qos 3 error = %v", err)
	}
	if err := validatePublish("t", make([]byte, maxPayloadSize+1), 1); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("oversize error = %v", err)
	}
	if err := validatePublish("t", []byte("{}"), 2); err != nil {
		t.Errorf("valid publish error = %v", err)
	}
}

func TestDisconnectedClient(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription), topics: NewTopics("")}

	if c.IsConnected() {
		t.Error("IsConnected() = true for unconnected client")
	}
	if err := c.Publish("t", []byte("1"), 0, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	if err := c.Subscribe("t", 0, func(string, []byte) error { return nil }); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if err := c.Subscribe("t", 0, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil) error = %v, want ErrSubscribeFailed", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

type recordingLogger struct {
	errors, warns int
}

func (l *recordingLogger) Error(_ string, _ ...any) { l.errors++ }
func (l *recordingLogger) Warn(_ string, _ ...any)  { l.warns++ }

func TestDispatch_RecoversAndLogs(t *testing.T) {
	logger := &recordingLogger{}
	c := &Client{}
	c.SetLogger(logger)

	c.dispatch(func(string, []byte) error { panic("boom") }, "t", nil)
	c.dispatch(func(string, []byte) error { return errors.New("bad") }, "t", nil)
	c.dispatch(func(string, []byte) error { return nil }, "t", nil)

	if logger.errors != 1 || logger.warns != 1 {
		t.Errorf("errors=%d warns=%d, want 1/1", logger.errors, logger.warns)
	}
}
