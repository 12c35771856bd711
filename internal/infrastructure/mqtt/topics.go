package mqtt

import (
	"strings"

	"github.com/nerrad567/gray-logic-webthing/internal/thing"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "webthing"

// Topic kinds, one per notification type plus inbound writes.
const (
	KindProperty = "property"
	KindAction   = "action"
	KindEvent    = "event"
	KindSet      = "set"
)

// Topics builds the mirror's topic hierarchy:
//
//	{prefix}/status
//	{prefix}/{thing}/property/{name}
//	{prefix}/{thing}/action/{name}
//	{prefix}/{thing}/event/{name}
//	{prefix}/{thing}/set/{property}
type Topics struct {
	prefix string
}

// NewTopics creates a topic builder. An empty prefix uses DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the root of the hierarchy.
func (t Topics) Prefix() string {
	return t.prefix
}

// Status is the retained online/offline topic for this server.
func (t Topics) Status() string {
	return t.prefix + "/status"
}

// Notification returns the topic for one notification of a Thing.
func (t Topics) Notification(thingKey, kind, name string) string {
	return t.prefix + "/" + Segment(thingKey) + "/" + kind + "/" + Segment(name)
}

// Set returns the inbound write topic for a property.
func (t Topics) Set(thingKey, property string) string {
	return t.Notification(thingKey, KindSet, property)
}

// AllSets matches every inbound write topic.
func (t Topics) AllSets() string {
	return t.prefix + "/+/" + KindSet + "/+"
}

// ParseSet splits an inbound write topic into thing key and property.
func (t Topics) ParseSet(topic string) (thingKey, property string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.prefix+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != KindSet || parts[0] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[0], parts[2], true
}

// KindFor maps a notification message type to its topic kind.
func KindFor(messageType string) (string, bool) {
	switch messageType {
	case thing.MessagePropertyStatus:
		return KindProperty, true
	case thing.MessageActionStatus:
		return KindAction, true
	case thing.MessageEvent:
		return KindEvent, true
	}
	return "", false
}

// Segment makes s safe for use as a single topic level by replacing the
// separator and wildcard characters.
func Segment(s string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}
