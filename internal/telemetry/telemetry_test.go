package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-webthing/internal/thing"
)

type sample struct {
	thing, name string
	value       any
	ts          time.Time
}

type fakeWriter struct {
	mu         sync.Mutex
	properties []sample
	events     []sample
	flushes    int
}

func (f *fakeWriter) WriteProperty(thingID, property string, value any, ts time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.properties = append(f.properties, sample{thingID, property, value, ts})
}

func (f *fakeWriter) WriteEvent(thingID, event string, data any, ts time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, sample{thingID, event, data, ts})
}

func (f *fakeWriter) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
}

func (f *fakeWriter) counts() (props, events int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.properties), len(f.events)
}

func TestRecord_Event(t *testing.T) {
	w := &fakeWriter{}
	s := NewSink(w, nil, 0)

	s.Record(thing.Message{
		ThingID:     "lamp",
		MessageType: thing.MessageEvent,
		Data: map[string]any{"overheated": map[string]any{
			"timestamp": "2026-03-01T10:00:00+00:00",
			"data":      102,
		}},
	})
	s.Record(thing.Message{ThingID: "lamp", MessageType: thing.MessageActionStatus, Data: map[string]any{"fade": map[string]any{}}})

	require.Len(t, w.events, 1)
	assert.Equal(t, "overheated", w.events[0].name)
	assert.Equal(t, 102, w.events[0].value)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), w.events[0].ts)
	assert.Empty(t, w.properties)
}

func TestSink_Run(t *testing.T) {
	w := &fakeWriter{}
	lamp := thing.New("urn:dev:lamp", "Lamp", nil, "")
	brightness, err := thing.NewProperty("brightness", 10, map[string]any{"type": "integer"}, nil)
	require.NoError(t, err)
	require.NoError(t, lamp.AddProperty(brightness))
	require.NoError(t, lamp.AddAvailableEvent("overheated", nil, 0))

	s := NewSink(w, []*thing.Thing{lamp}, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		props, _ := w.counts()
		return props == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, err = lamp.SetProperty(context.Background(), "brightness", 55)
	require.NoError(t, err)
	require.NoError(t, lamp.EmitEvent("overheated", 101.0))

	require.Eventually(t, func() bool {
		props, events := w.counts()
		return props == 2 && events == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 0, lamp.SubscriberCount())
	assert.Equal(t, 1, w.flushes)
	assert.Equal(t, 10, w.properties[0].value, "initial sample")
	assert.Equal(t, 55, w.properties[1].value)
}
