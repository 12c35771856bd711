// Package mqtt mirrors Thing notifications onto an MQTT broker.
//
// Topic layout (prefix from mqtt.topic_prefix):
//
//	{prefix}/{thing}/property/{name}   retained, JSON value
//	{prefix}/{thing}/action/{name}     action status object
//	{prefix}/{thing}/event/{name}      {"timestamp": ..., "data": ...}
//	{prefix}/{thing}/set/{property}    inbound: JSON value to write
//
// {thing} is the Thing id with '/', '+' and '#' replaced by '_'.
//
// Inbound writes go through Thing.SetProperty, so read-only properties,
// schema validation and forwarders apply exactly as for HTTP writes. The
// resulting propertyStatus is mirrored back like any other change.
package mqtt
