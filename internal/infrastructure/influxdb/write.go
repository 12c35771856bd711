package influxdb

import (
	"encoding/json"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementProperty = "webthing_property"
	MeasurementEvent    = "webthing_event"
)

// PropertyPoint builds a webthing_property point tagged with thing and
// property. Numbers are written as the float field "value"; booleans as
// "value" 0/1 plus the boolean field "state". Other values produce no
// point.
func PropertyPoint(thingID, property string, value any, ts time.Time) (*write.Point, bool) {
	fields := make(map[string]any, 2)
	if b, ok := value.(bool); ok {
		fields["state"] = b
		fields["value"] = boolToFloat(b)
	} else if f, ok := toFloat(value); ok {
		fields["value"] = f
	} else {
		return nil, false
	}

	return write.NewPoint(
		MeasurementProperty,
		map[string]string{"thing": thingID, "property": property},
		fields,
		ts,
	), true
}

// EventPoint builds a webthing_event point tagged with thing and event.
// Every event counts 1; numeric or boolean data is also stored as "value".
func EventPoint(thingID, event string, data any, ts time.Time) *write.Point {
	fields := map[string]any{"count": int64(1)}
	if b, ok := data.(bool); ok {
		fields["value"] = boolToFloat(b)
	} else if f, ok := toFloat(data); ok {
		fields["value"] = f
	}

	return write.NewPoint(
		MeasurementEvent,
		map[string]string{"thing": thingID, "event": event},
		fields,
		ts,
	)
}

// WriteProperty queues a property sample.
func (c *Client) WriteProperty(thingID, property string, value any, ts time.Time) {
	if point, ok := PropertyPoint(thingID, property, value, ts); ok {
		c.Write(point)
	}
}

// WriteEvent queues an event occurrence.
func (c *Client) WriteEvent(thingID, event string, data any, ts time.Time) {
	c.Write(EventPoint(thingID, event, data, ts))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
