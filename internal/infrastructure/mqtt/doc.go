// Package mqtt provides the broker connection used by the MQTT mirror.
//
// It wraps github.com/eclipse/paho.mqtt.golang with:
//   - Connection management with auto-reconnect and subscription restore
//   - A retained {prefix}/status topic with a last-will offline message
//   - Topic builders for the mirror hierarchy
//   - Panic recovery around message handlers
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := client.Topics().Notification("urn:dev:lamp", mqtt.KindProperty, "on")
//	err = client.PublishRetained(topic, []byte("true"))
//
// Tests that need a live broker are behind the integration build tag.
package mqtt
