// Package thing implements the Web Thing runtime: Things with properties,
// actions and events, and the notification fanout to live subscribers.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                            Thing                             │
//	│                                                              │
//	│  ┌────────────┐   ┌────────────────┐   ┌──────────────────┐  │
//	│  │ Properties │   │ Action records │   │   Event logs     │  │
//	│  │ schema +   │   │ pending →      │   │ bounded FIFO     │  │
//	│  │ forwarder  │   │ running → done │   │ per event name   │  │
//	│  └─────┬──────┘   └───────┬────────┘   └────────┬─────────┘  │
//	│        └──────────────────┼─────────────────────┘            │
//	│                           ▼                                  │
//	│                  notify (exclusive lock)                     │
//	│                           │                                  │
//	└───────────────────────────┼──────────────────────────────────┘
//	                            ▼
//	        Subscribers (WebSocket clients, history, MQTT, InfluxDB)
//
// # Locking
//
// Each Thing owns one sync.RWMutex. There is no global lock, so separate
// Things never contend. Schema validation, forwarder calls and action
// bodies all run without the lock; only the final state change and its
// notification are done under the exclusive lock.
//
// # Action lifecycle
//
//	created → pending → running → completed
//	                            ↘ error
//
// An action the executor refuses still passes through running before
// error, so subscribers never see a skipped state.
//
// Cancelling an action removes it from the Thing whatever its state. No
// "cancelled" status is ever published.
//
// # Events
//
// Events must be declared with AddAvailableEvent before they are emitted;
// EmitEvent rejects undeclared names with ErrUnknownEvent.
//
// # Usage
//
//	lamp := thing.New("urn:dev:ops:my-lamp-1234", "My Lamp", []string{"OnOffSwitch", "Light"}, "A web connected lamp")
//	on, _ := thing.NewProperty("on", true, map[string]any{"type": "boolean"}, nil)
//	_ = lamp.AddProperty(on)
//	applied, err := lamp.SetProperty(ctx, "on", false)
package thing
