package thing

import "time"

// DefaultEventCapacity is the per-name log size used when none is given.
const DefaultEventCapacity = 10

// EventRecord is an immutable event notification.
type EventRecord struct {
	Name      string
	Data      any
	Timestamp time.Time

	seq uint64
}

// Description returns the wire form {name: {data, timestamp}}.
func (e EventRecord) Description() map[string]any {
	inner := map[string]any{"timestamp": formatTime(e.Timestamp)}
	if e.Data != nil {
		inner["data"] = e.Data
	}
	return map[string]any{e.Name: inner}
}

// eventType is a declared event with its bounded log.
type eventType struct {
	name     string
	metadata map[string]any
	log      eventLog
}

func (et *eventType) description(hrefPrefix string) map[string]any {
	desc := cloneMetadata(et.metadata)
	desc["links"] = []Link{{Rel: "event", Href: hrefPrefix + "/events/" + et.name}}
	return desc
}

// eventLog is a fixed-capacity FIFO. The oldest record is evicted first.
type eventLog struct {
	capacity int
	records  []EventRecord
}

func newEventLog(capacity int) eventLog {
	if capacity <= 0 {
		capacity = DefaultEventCapacity
	}
	return eventLog{capacity: capacity, records: make([]EventRecord, 0, capacity)}
}

// append adds rec, evicting the oldest record when full. It reports
// whether an eviction happened.
func (l *eventLog) append(rec EventRecord) bool {
	evicted := false
	if len(l.records) == l.capacity {
		copy(l.records, l.records[1:])
		l.records = l.records[:len(l.records)-1]
		evicted = true
	}
	l.records = append(l.records, rec)
	return evicted
}

func (l *eventLog) snapshot() []EventRecord {
	out := make([]EventRecord, len(l.records))
	copy(out, l.records)
	return out
}
