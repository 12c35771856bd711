package thing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── Helpers ────────────────────────────────────────────────────────

func newLamp(t *testing.T) *Thing {
	t.Helper()

	lamp := New("urn:dev:ops:test-lamp", "Test Lamp", []string{"OnOffSwitch", "Light"}, "lamp under test")

	on, err := NewProperty("on", true, map[string]any{
		"@type": "OnOffProperty",
		"title": "On/Off",
		"type":  "boolean",
	}, nil)
	require.NoError(t, err)
	require.NoError(t, lamp.AddProperty(on))

	brightness, err := NewProperty("brightness", 50, map[string]any{
		"@type":   "BrightnessProperty",
		"type":    "integer",
		"minimum": 0,
		"maximum": 100,
		"unit":    "percent",
	}, nil)
	require.NoError(t, err)
	require.NoError(t, lamp.AddProperty(brightness))

	require.NoError(t, lamp.AddAvailableAction("fade", map[string]any{
		"title": "Fade",
		"input": map[string]any{
			"type":     "object",
			"required": []any{"level"},
			"properties": map[string]any{
				"level": map[string]any{"type": "integer", "minimum": 0, "maximum": 100},
			},
		},
	}, func(_ *Thing) Behavior {
		return BehaviorFunc(func(_ context.Context, input any) (any, error) {
			return input, nil
		})
	}))

	require.NoError(t, lamp.AddAvailableEvent("overheated", map[string]any{"type": "number", "unit": "degree celsius"}, 2))
	return lamp
}

func nextMessage(t *testing.T, sub *ChanSubscriber) Message {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		require.True(t, ok, "subscriber channel closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
		return Message{}
	}
}

func actionStatusOf(t *testing.T, msg Message, name string) (string, Status) {
	t.Helper()
	require.Equal(t, MessageActionStatus, msg.MessageType)
	body, ok := msg.Data[name].(map[string]any)
	require.True(t, ok, "missing action body for %q", name)
	href, _ := body["href"].(string)
	status, _ := body["status"].(string)
	return href, Status(status)
}

// gatedBehavior blocks in Perform until released or cancelled.
type gatedBehavior struct {
	release   chan struct{}
	cancelled chan struct{}
	once      sync.Once
	fail      bool
}

func newGatedBehavior() *gatedBehavior {
	return &gatedBehavior{release: make(chan struct{}), cancelled: make(chan struct{})}
}

func (g *gatedBehavior) Perform(ctx context.Context, _ any) (any, error) {
	select {
	case <-g.release:
		if g.fail {
			return nil, errors.New("motor stalled")
		}
		return "done", nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *gatedBehavior) Cancel() {
	g.once.Do(func() { close(g.cancelled) })
}

// ─── Properties ─────────────────────────────────────────────────────

func TestSetProperty_ValidValue(t *testing.T) {
	lamp := newLamp(t)

	applied, err := lamp.SetProperty(context.Background(), "on", false)
	require.NoError(t, err)
	assert.Equal(t, false, applied)

	got, err := lamp.PropertyValue("on")
	require.NoError(t, err)
	assert.Equal(t, false, got)
}

func TestSetProperty_SchemaViolationLeavesValue(t *testing.T) {
	lamp := newLamp(t)
	_, err := lamp.SetProperty(context.Background(), "on", false)
	require.NoError(t, err)

	tests := []struct {
		name  string
		prop  string
		value any
	}{
		{"string for boolean", "on", "nope"},
		{"null for boolean", "on", nil},
		{"above maximum", "brightness", 150},
		{"below minimum", "brightness", -1},
		{"fraction for integer", "brightness", 12.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before, err := lamp.PropertyValue(tt.prop)
			require.NoError(t, err)

			_, err = lamp.SetProperty(context.Background(), tt.prop, tt.value)
			require.ErrorIs(t, err, ErrSchemaViolation)

			after, err := lamp.PropertyValue(tt.prop)
			require.NoError(t, err)
			assert.Equal(t, before, after)
		})
	}
}

func TestSetProperty_UnknownProperty(t *testing.T) {
	lamp := newLamp(t)

	_, err := lamp.SetProperty(context.Background(), "colour", "red")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = lamp.PropertyValue("colour")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSetProperty_ReadOnly(t *testing.T) {
	sensor := New("urn:dev:ops:test-sensor", "Sensor", []string{"MultiLevelSensor"}, "")
	level, err := NewProperty("level", 0.0, map[string]any{"type": "number", "readOnly": true}, nil)
	require.NoError(t, err)
	require.NoError(t, sensor.AddProperty(level))

	_, err = sensor.SetProperty(context.Background(), "level", 42.0)
	require.ErrorIs(t, err, ErrReadOnly)

	// Device-side updates bypass the read-only flag.
	require.NoError(t, sensor.UpdateProperty("level", 42.0))
	got, err := sensor.PropertyValue("level")
	require.NoError(t, err)
	assert.Equal(t, 42.0, got)

	require.ErrorIs(t, sensor.UpdateProperty("level", "wet"), ErrSchemaViolation)
}

func TestSetProperty_ForwarderTransformsValue(t *testing.T) {
	lamp := New("urn:dev:ops:clamp", "Clamp", nil, "")
	clamp := ForwarderFunc(func(_ context.Context, v any) (any, error) {
		n, _ := v.(int)
		if n > 80 {
			return 80, nil
		}
		return n, nil
	})
	p, err := NewProperty("brightness", 10, map[string]any{"type": "integer", "minimum": 0, "maximum": 100}, clamp)
	require.NoError(t, err)
	require.NoError(t, lamp.AddProperty(p))

	applied, err := lamp.SetProperty(context.Background(), "brightness", 95)
	require.NoError(t, err)
	assert.Equal(t, 80, applied)

	got, err := lamp.PropertyValue("brightness")
	require.NoError(t, err)
	assert.Equal(t, 80, got)
}

func TestSetProperty_ForwarderRejects(t *testing.T) {
	lamp := New("urn:dev:ops:reject", "Reject", nil, "")
	offline := ForwarderFunc(func(_ context.Context, _ any) (any, error) {
		return nil, errors.New("device offline")
	})
	p, err := NewProperty("on", true, map[string]any{"type": "boolean"}, offline)
	require.NoError(t, err)
	require.NoError(t, lamp.AddProperty(p))

	sub := NewChanSubscriber("s1", 4)
	lamp.Subscribe(sub)

	_, err = lamp.SetProperty(context.Background(), "on", false)
	require.ErrorIs(t, err, ErrForwarderRejected)

	got, err := lamp.PropertyValue("on")
	require.NoError(t, err)
	assert.Equal(t, true, got)
	assert.Empty(t, sub.Messages(), "rejected write must not notify")
}

func TestSetProperty_ForwarderNonConformingResult(t *testing.T) {
	lamp := New("urn:dev:ops:bad", "Bad", nil, "")
	broken := ForwarderFunc(func(_ context.Context, _ any) (any, error) {
		return "yes", nil
	})
	p, err := NewProperty("on", true, map[string]any{"type": "boolean"}, broken)
	require.NoError(t, err)
	require.NoError(t, lamp.AddProperty(p))

	_, err = lamp.SetProperty(context.Background(), "on", false)
	require.ErrorIs(t, err, ErrForwarderRejected)
}

func TestSetProperty_ReadOnlyForwarder(t *testing.T) {
	lamp := New("urn:dev:ops:ro", "RO", nil, "")
	p, err := NewProperty("on", true, map[string]any{"type": "boolean"}, ReadOnlyForwarder{})
	require.NoError(t, err)
	require.NoError(t, lamp.AddProperty(p))

	_, err = lamp.SetProperty(context.Background(), "on", false)
	require.ErrorIs(t, err, ErrForwarderRejected)
}

func TestSetProperty_NotifiesSubscribers(t *testing.T) {
	lamp := newLamp(t)
	sub := NewChanSubscriber("s1", 4)
	lamp.Subscribe(sub)

	_, err := lamp.SetProperty(context.Background(), "brightness", 75)
	require.NoError(t, err)

	msg := nextMessage(t, sub)
	assert.Equal(t, MessagePropertyStatus, msg.MessageType)
	assert.Equal(t, "urn:dev:ops:test-lamp", msg.ThingID)
	assert.Equal(t, map[string]any{"brightness": 75}, msg.Data)
}

func TestNewProperty_InvalidInitialValue(t *testing.T) {
	_, err := NewProperty("on", "yes", map[string]any{"type": "boolean"}, nil)
	require.ErrorIs(t, err, ErrSchemaViolation)

	_, err = NewProperty("", true, nil, nil)
	require.Error(t, err)
}

func TestProperties_ReturnsCopies(t *testing.T) {
	th := New("urn:dev:ops:copy", "Copy", nil, "")
	p, err := NewProperty("config", map[string]any{"mode": "eco"}, map[string]any{"type": "object"}, nil)
	require.NoError(t, err)
	require.NoError(t, th.AddProperty(p))

	values := th.Properties()
	cfg, ok := values["config"].(map[string]any)
	require.True(t, ok)
	cfg["mode"] = "boost"

	got, err := th.PropertyValue("config")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"mode": "eco"}, got)
}

func TestAddProperty_Duplicate(t *testing.T) {
	lamp := newLamp(t)
	p, err := NewProperty("on", false, map[string]any{"type": "boolean"}, nil)
	require.NoError(t, err)
	require.ErrorIs(t, lamp.AddProperty(p), ErrDuplicateName)
}

// ─── Actions ────────────────────────────────────────────────────────

func TestRequestAction_InvalidInput(t *testing.T) {
	lamp := newLamp(t)

	tests := []struct {
		name  string
		input any
	}{
		{"level above maximum", map[string]any{"level": 150}},
		{"level missing", map[string]any{}},
		{"level wrong type", map[string]any{"level": "high"}},
		{"input absent", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := lamp.RequestAction("fade", tt.input)
			require.ErrorIs(t, err, ErrSchemaViolation)
		})
	}

	records, err := lamp.Actions("")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRequestAction_Unknown(t *testing.T) {
	lamp := newLamp(t)

	_, err := lamp.RequestAction("explode", nil)
	require.ErrorIs(t, err, ErrUnknownAction)
}

func TestRequestAction_StatusSequence(t *testing.T) {
	lamp := newLamp(t)
	sub := NewChanSubscriber("s1", 16)
	lamp.Subscribe(sub)

	rec, err := lamp.RequestAction("fade", map[string]any{"level": 50})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, "/actions/fade/"+rec.ID, rec.Href)
	assert.Nil(t, rec.TimeCompleted)

	var seen []Status
	for range 3 {
		href, status := actionStatusOf(t, nextMessage(t, sub), "fade")
		assert.Equal(t, rec.Href, href)
		seen = append(seen, status)
	}
	assert.Equal(t, []Status{StatusPending, StatusRunning, StatusCompleted}, seen)

	final, err := lamp.Action("fade", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)
	require.NotNil(t, final.TimeCompleted)
	assert.Equal(t, map[string]any{"level": 50}, final.Output)
}

func TestRequestAction_BehaviorFailure(t *testing.T) {
	th := New("urn:dev:ops:fail", "Fail", nil, "")
	gate := newGatedBehavior()
	gate.fail = true
	require.NoError(t, th.AddAvailableAction("spin", nil, func(_ *Thing) Behavior { return gate }))

	sub := NewChanSubscriber("s1", 16)
	th.Subscribe(sub)

	rec, err := th.RequestAction("spin", nil)
	require.NoError(t, err)

	_, status := actionStatusOf(t, nextMessage(t, sub), "spin")
	assert.Equal(t, StatusPending, status)
	_, status = actionStatusOf(t, nextMessage(t, sub), "spin")
	assert.Equal(t, StatusRunning, status)

	close(gate.release)

	msg := nextMessage(t, sub)
	_, status = actionStatusOf(t, msg, "spin")
	assert.Equal(t, StatusError, status)

	body, _ := msg.Data["spin"].(map[string]any)
	assert.NotContains(t, body, "output")
	assert.Contains(t, body, "timeCompleted")
	for _, v := range body {
		assert.NotEqual(t, "motor stalled", v, "failure reason must stay off the wire")
	}

	final, err := th.Action("spin", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, final.Status)
}

func TestRequestAction_BehaviorPanic(t *testing.T) {
	th := New("urn:dev:ops:panic", "Panic", nil, "")
	require.NoError(t, th.AddAvailableAction("boom", nil, func(_ *Thing) Behavior {
		return BehaviorFunc(func(_ context.Context, _ any) (any, error) {
			panic("wiring fault")
		})
	}))
	sub := NewChanSubscriber("s1", 16)
	th.Subscribe(sub)

	_, err := th.RequestAction("boom", nil)
	require.NoError(t, err)

	var last Status
	for range 3 {
		_, last = actionStatusOf(t, nextMessage(t, sub), "boom")
	}
	assert.Equal(t, StatusError, last)
}

type rejectingExecutor struct{}

func (rejectingExecutor) Submit(_ func(context.Context) error) error {
	return errors.New("queue full")
}

func TestRequestAction_ExecutorRejects(t *testing.T) {
	lamp := newLamp(t)
	lamp.SetExecutor(rejectingExecutor{})
	sub := NewChanSubscriber("s1", 16)
	lamp.Subscribe(sub)

	rec, err := lamp.RequestAction("fade", map[string]any{"level": 10})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rec.Status)

	for _, want := range []Status{StatusPending, StatusRunning, StatusError} {
		_, status := actionStatusOf(t, nextMessage(t, sub), "fade")
		assert.Equal(t, want, status)
	}

	got, err := lamp.Action("fade", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)
	assert.NotNil(t, got.TimeCompleted)
}

// boundedExecutor runs the first n tasks on goroutines and refuses the rest.
type boundedExecutor struct {
	mu sync.Mutex
	n  int
}

func (e *boundedExecutor) Submit(task func(context.Context) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.n == 0 {
		return errors.New("queue full")
	}
	e.n--
	go func() { _ = task(context.Background()) }()
	return nil
}

func TestRequestAction_SaturatedExecutorNeverSkipsRunning(t *testing.T) {
	th := New("urn:dev:ops:busy", "Busy", nil, "")
	gate := newGatedBehavior()
	require.NoError(t, th.AddAvailableAction("slow", nil, func(_ *Thing) Behavior { return gate }))
	th.SetExecutor(&boundedExecutor{n: 1})

	sub := NewChanSubscriber("s1", 32)
	th.Subscribe(sub)

	for range 3 {
		_, err := th.RequestAction("slow", nil)
		require.NoError(t, err)
	}

	// one accepted task reaches running; two rejected ones go pending, running, error
	seen := map[string][]Status{}
	for range 2 + 2*3 {
		href, status := actionStatusOf(t, nextMessage(t, sub), "slow")
		seen[href] = append(seen[href], status)
	}
	close(gate.release)

	legal := []Status{StatusPending, StatusRunning, StatusError}
	require.Len(t, seen, 3)
	for href, statuses := range seen {
		if len(statuses) == 2 {
			assert.Equal(t, []Status{StatusPending, StatusRunning}, statuses, href)
			continue
		}
		assert.Equal(t, legal, statuses, href)
	}
}

func TestRequestAction_ObserverSeesTransitions(t *testing.T) {
	lamp := newLamp(t)

	var mu sync.Mutex
	var seen []Status
	lamp.SetActionObserver(func(thingID, action string, status Status) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "urn:dev:ops:test-lamp", thingID)
		assert.Equal(t, "fade", action)
		seen = append(seen, status)
	})

	_, err := lamp.RequestAction("fade", map[string]any{"level": 1})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []Status{StatusPending, StatusRunning, StatusCompleted}, seen)
}

func TestCancelAction(t *testing.T) {
	th := New("urn:dev:ops:cancel", "Cancel", nil, "")
	gate := newGatedBehavior()
	require.NoError(t, th.AddAvailableAction("spin", nil, func(_ *Thing) Behavior { return gate }))

	sub := NewChanSubscriber("s1", 16)
	th.Subscribe(sub)

	rec, err := th.RequestAction("spin", nil)
	require.NoError(t, err)

	_, status := actionStatusOf(t, nextMessage(t, sub), "spin")
	require.Equal(t, StatusPending, status)
	_, status = actionStatusOf(t, nextMessage(t, sub), "spin")
	require.Equal(t, StatusRunning, status)

	require.NoError(t, th.CancelAction("spin", rec.ID))

	select {
	case <-gate.cancelled:
	case <-time.After(time.Second):
		t.Fatal("cancel hook not invoked")
	}

	_, err = th.Action("spin", rec.ID)
	require.ErrorIs(t, err, ErrNotFound)

	records, err := th.Actions("spin")
	require.NoError(t, err)
	assert.Empty(t, records)

	require.ErrorIs(t, th.CancelAction("spin", rec.ID), ErrNotFound)

	// The interrupted behavior must not publish a terminal status.
	select {
	case msg := <-sub.Messages():
		t.Fatalf("unexpected notification after cancel: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

// recordingLogger keeps the level and message of every entry.
type recordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *recordingLogger) add(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, level+" "+msg)
}

func (l *recordingLogger) Debug(msg string, _ ...any) { l.add("DEBUG", msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.add("INFO", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.add("WARN", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.add("ERROR", msg) }

func (l *recordingLogger) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string{}, l.entries...)
}

func TestCancelAction_NotLoggedAsFailure(t *testing.T) {
	th := New("urn:dev:ops:quiet", "Quiet", nil, "")
	logger := &recordingLogger{}
	th.SetLogger(logger)

	returned := make(chan struct{})
	require.NoError(t, th.AddAvailableAction("wait", nil, func(_ *Thing) Behavior {
		return BehaviorFunc(func(ctx context.Context, _ any) (any, error) {
			defer close(returned)
			<-ctx.Done()
			return nil, ctx.Err()
		})
	}))

	sub := NewChanSubscriber("s1", 16)
	th.Subscribe(sub)

	rec, err := th.RequestAction("wait", nil)
	require.NoError(t, err)
	_, _ = actionStatusOf(t, nextMessage(t, sub), "wait")
	_, status := actionStatusOf(t, nextMessage(t, sub), "wait")
	require.Equal(t, StatusRunning, status)

	require.NoError(t, th.CancelAction("wait", rec.ID))
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("behavior did not return after cancel")
	}

	require.Eventually(t, func() bool {
		return slices.Contains(logger.snapshot(), "DEBUG action stopped after cancel")
	}, time.Second, 5*time.Millisecond)
	assert.NotContains(t, logger.snapshot(), "WARN action failed")
}

func TestCancelAction_BeforeRunning(t *testing.T) {
	th := New("urn:dev:ops:queued", "Queued", nil, "")
	gate := newGatedBehavior()
	require.NoError(t, th.AddAvailableAction("spin", nil, func(_ *Thing) Behavior { return gate }))

	var queued func(context.Context) error
	th.SetExecutor(executorFunc(func(task func(context.Context) error) error {
		queued = task
		return nil
	}))

	rec, err := th.RequestAction("spin", nil)
	require.NoError(t, err)
	require.NoError(t, th.CancelAction("spin", rec.ID))

	// The task eventually runs but finds its record gone.
	require.NotNil(t, queued)
	require.NoError(t, queued(context.Background()))

	_, err = th.Action("spin", rec.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

type executorFunc func(task func(context.Context) error) error

func (f executorFunc) Submit(task func(context.Context) error) error { return f(task) }

func TestCancelAction_Completed(t *testing.T) {
	lamp := newLamp(t)

	rec, err := lamp.RequestAction("fade", map[string]any{"level": 5})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := lamp.Action("fade", rec.ID)
		return err == nil && got.Status == StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, lamp.CancelAction("fade", rec.ID))
	require.ErrorIs(t, lamp.CancelAction("fade", rec.ID), ErrNotFound)
}

func TestActions_GroupedByName(t *testing.T) {
	th := New("urn:dev:ops:group", "Group", nil, "")
	noop := func(_ *Thing) Behavior {
		return BehaviorFunc(func(_ context.Context, _ any) (any, error) { return nil, nil })
	}
	require.NoError(t, th.AddAvailableAction("b", nil, noop))
	require.NoError(t, th.AddAvailableAction("a", nil, noop))

	r1, err := th.RequestAction("a", nil)
	require.NoError(t, err)
	r2, err := th.RequestAction("b", nil)
	require.NoError(t, err)
	r3, err := th.RequestAction("a", nil)
	require.NoError(t, err)

	all, err := th.Actions("")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{r2.ID, r1.ID, r3.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	_, err = th.Actions("c")
	require.ErrorIs(t, err, ErrUnknownAction)
	_, err = th.Action("c", r1.ID)
	require.ErrorIs(t, err, ErrUnknownAction)
}

func TestActionRecord_Description(t *testing.T) {
	requested := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	completed := requested.Add(5 * time.Second)
	rec := ActionRecord{
		ID:            "abc",
		Name:          "fade",
		Href:          "/things/0/actions/fade/abc",
		Input:         map[string]any{"level": 50},
		Status:        StatusCompleted,
		TimeRequested: requested,
		TimeCompleted: &completed,
	}

	assert.Equal(t, map[string]any{
		"fade": map[string]any{
			"href":          "/things/0/actions/fade/abc",
			"timeRequested": "2026-03-01T12:30:00+00:00",
			"timeCompleted": "2026-03-01T12:30:05+00:00",
			"status":        "completed",
			"input":         map[string]any{"level": 50},
		},
	}, rec.Description())
}

func TestStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusCreated, StatusPending, true},
		{StatusPending, StatusRunning, true},
		{StatusPending, StatusError, false},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusError, true},
		{StatusCreated, StatusRunning, false},
		{StatusPending, StatusCompleted, false},
		{StatusRunning, StatusPending, false},
		{StatusCompleted, StatusError, false},
		{StatusError, StatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_to_%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.canAdvance(tt.to))
		})
	}
}

// ─── Events ─────────────────────────────────────────────────────────

func TestEmitEvent_CapacityEvictsOldest(t *testing.T) {
	lamp := newLamp(t)

	for _, v := range []float64{101, 102, 103} {
		require.NoError(t, lamp.EmitEvent("overheated", v))
	}

	records, err := lamp.Events("overheated")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 102.0, records[0].Data)
	assert.Equal(t, 103.0, records[1].Data)
}

func TestEmitEvent_AlwaysNotifies(t *testing.T) {
	lamp := newLamp(t)
	sub := NewChanSubscriber("s1", 8)
	lamp.Subscribe(sub)

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	lamp.now = func() time.Time { return fixed }

	for i := range 3 {
		require.NoError(t, lamp.EmitEvent("overheated", float64(100+i)))
	}

	for i := range 3 {
		msg := nextMessage(t, sub)
		assert.Equal(t, MessageEvent, msg.MessageType)
		assert.Equal(t, map[string]any{
			"overheated": map[string]any{"data": float64(100 + i), "timestamp": "2026-01-02T03:04:05+00:00"},
		}, msg.Data)
	}
}

func TestEmitEvent_Undeclared(t *testing.T) {
	lamp := newLamp(t)

	require.ErrorIs(t, lamp.EmitEvent("melted", nil), ErrUnknownEvent)
	_, err := lamp.Events("melted")
	require.ErrorIs(t, err, ErrUnknownEvent)
}

func TestEvents_AllInEmissionOrder(t *testing.T) {
	th := New("urn:dev:ops:events", "Events", nil, "")
	require.NoError(t, th.AddAvailableEvent("a", nil, 5))
	require.NoError(t, th.AddAvailableEvent("b", nil, 5))

	require.NoError(t, th.EmitEvent("b", 1))
	require.NoError(t, th.EmitEvent("a", 2))
	require.NoError(t, th.EmitEvent("b", 3))

	all, err := th.Events("")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []any{1, 2, 3}, []any{all[0].Data, all[1].Data, all[2].Data})
}

func TestEventLog_DefaultCapacity(t *testing.T) {
	l := newEventLog(0)
	for i := range DefaultEventCapacity + 5 {
		l.append(EventRecord{Name: "e", Data: i})
	}
	snap := l.snapshot()
	require.Len(t, snap, DefaultEventCapacity)
	assert.Equal(t, 5, snap[0].Data)
}

// ─── Subscribers ────────────────────────────────────────────────────

func TestNotify_DropsClosedSubscriber(t *testing.T) {
	lamp := newLamp(t)

	dead := NewChanSubscriber("dead", 4)
	live := NewChanSubscriber("live", 4)
	lamp.Subscribe(dead)
	lamp.Subscribe(live)
	dead.Close()

	_, err := lamp.SetProperty(context.Background(), "on", false)
	require.NoError(t, err)

	assert.Equal(t, 1, lamp.SubscriberCount())
	assert.Equal(t, MessagePropertyStatus, nextMessage(t, live).MessageType)
}

func TestNotify_DropsFullSubscriber(t *testing.T) {
	lamp := newLamp(t)

	slow := NewChanSubscriber("slow", 1)
	lamp.Subscribe(slow)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 5 {
			_, err := lamp.SetProperty(context.Background(), "brightness", i)
			assert.NoError(t, err)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("mutations blocked on a slow subscriber")
	}
	assert.Equal(t, 0, lamp.SubscriberCount())
}

func TestNotify_SinkSubscriberStaysAttached(t *testing.T) {
	lamp := newLamp(t)

	sink := NewSinkSubscriber("sink", 1)
	lamp.Subscribe(sink)

	for i := range 3 {
		_, err := lamp.SetProperty(context.Background(), "brightness", i)
		require.NoError(t, err)
	}

	assert.Equal(t, 1, lamp.SubscriberCount())
	assert.Equal(t, int64(2), sink.Dropped())
	assert.Equal(t, map[string]any{"brightness": 0}, nextMessage(t, sink).Data)
}

func TestNotify_SingleOrderPerThing(t *testing.T) {
	lamp := newLamp(t)
	sub := NewChanSubscriber("s1", 64)
	lamp.Subscribe(sub)

	_, err := lamp.SetProperty(context.Background(), "on", false)
	require.NoError(t, err)
	require.NoError(t, lamp.EmitEvent("overheated", 90.0))
	_, err = lamp.SetProperty(context.Background(), "brightness", 10)
	require.NoError(t, err)

	assert.Equal(t, MessagePropertyStatus, nextMessage(t, sub).MessageType)
	assert.Equal(t, MessageEvent, nextMessage(t, sub).MessageType)
	assert.Equal(t, map[string]any{"brightness": 10}, nextMessage(t, sub).Data)
}

func TestSubscribeEvent_Filters(t *testing.T) {
	th := New("urn:dev:ops:filter", "Filter", nil, "")
	require.NoError(t, th.AddAvailableEvent("a", nil, 5))
	require.NoError(t, th.AddAvailableEvent("b", nil, 5))

	all := NewChanSubscriber("all", 8)
	onlyB := NewChanSubscriber("only-b", 8)
	th.Subscribe(all)
	th.Subscribe(onlyB)

	require.NoError(t, th.SubscribeEvent("only-b", "b"))
	require.ErrorIs(t, th.SubscribeEvent("only-b", "zzz"), ErrUnknownEvent)
	require.ErrorIs(t, th.SubscribeEvent("ghost", "a"), ErrNotFound)

	require.NoError(t, th.EmitEvent("a", 1))
	require.NoError(t, th.EmitEvent("b", 2))

	assert.Contains(t, nextMessage(t, all).Data, "a")
	assert.Contains(t, nextMessage(t, all).Data, "b")
	assert.Contains(t, nextMessage(t, onlyB).Data, "b")
	assert.Empty(t, onlyB.Messages())
}

func TestUnsubscribe(t *testing.T) {
	lamp := newLamp(t)
	sub := NewChanSubscriber("s1", 4)
	lamp.Subscribe(sub)

	assert.True(t, lamp.Unsubscribe("s1"))
	assert.False(t, lamp.Unsubscribe("s1"))

	_, err := lamp.SetProperty(context.Background(), "on", false)
	require.NoError(t, err)
	assert.Empty(t, sub.Messages())
}

func TestChanSubscriber_SendAfterClose(t *testing.T) {
	sub := NewChanSubscriber("s1", 1)
	require.NoError(t, sub.Send(Message{MessageType: MessageEvent}))
	require.ErrorIs(t, sub.Send(Message{MessageType: MessageEvent}), ErrSubscriberFull)

	sub.Close()
	sub.Close()
	require.ErrorIs(t, sub.Send(Message{}), ErrSubscriberClosed)
}

// ─── Concurrency ────────────────────────────────────────────────────

func TestConcurrentReadersAndWriters(t *testing.T) {
	lamp := newLamp(t)
	sub := NewChanSubscriber("s1", 4096)
	lamp.Subscribe(sub)

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := range 50 {
				_, err := lamp.SetProperty(context.Background(), "brightness", (w*50+i)%101)
				assert.NoError(t, err)
			}
		}()
		go func() {
			defer wg.Done()
			for range 50 {
				_ = lamp.Properties()
				_ = lamp.Description()
			}
		}()
	}
	wg.Wait()

	got, err := lamp.PropertyValue("brightness")
	require.NoError(t, err)
	assert.IsType(t, 0, got)
}

// ─── Description ────────────────────────────────────────────────────

func TestDescription_OrderAndLinks(t *testing.T) {
	lamp := newLamp(t)
	lamp.SetHrefPrefix("/things/0")
	lamp.SetUIHref("https://example.com/lamp")

	raw, err := json.Marshal(lamp.Description())
	require.NoError(t, err)

	var td map[string]any
	require.NoError(t, json.Unmarshal(raw, &td))

	assert.Equal(t, "urn:dev:ops:test-lamp", td["id"])
	assert.Equal(t, "Test Lamp", td["title"])
	assert.Equal(t, WebThingContext, td["@context"])
	assert.Equal(t, []any{"OnOffSwitch", "Light"}, td["@type"])
	assert.Equal(t, "lamp under test", td["description"])

	props, _ := td["properties"].(map[string]any)
	on, _ := props["on"].(map[string]any)
	assert.Equal(t, "boolean", on["type"])
	assert.Equal(t, []any{map[string]any{"rel": "property", "href": "/things/0/properties/on"}}, on["links"])

	actions, _ := td["actions"].(map[string]any)
	fade, _ := actions["fade"].(map[string]any)
	assert.Equal(t, []any{map[string]any{"rel": "action", "href": "/things/0/actions/fade"}}, fade["links"])

	events, _ := td["events"].(map[string]any)
	assert.Contains(t, events, "overheated")

	links, _ := td["links"].([]any)
	require.Len(t, links, 4)
	assert.Equal(t, map[string]any{"rel": "alternate", "mediaType": "text/html", "href": "https://example.com/lamp"}, links[3])

	// Properties keep declaration order on the wire.
	propsDesc, _ := lamp.Description().Get("properties")
	assert.Equal(t, []string{"on", "brightness"}, propsDesc.(*Description).Keys())
	assert.Less(t, bytes.Index(raw, []byte(`"on"`)), bytes.Index(raw, []byte(`"brightness"`)))
}

func TestDescription_CustomContext(t *testing.T) {
	lamp := newLamp(t)
	lamp.SetContext("https://www.w3.org/2019/wot/td/v1")

	ctxValue, ok := lamp.Description().Get("@context")
	require.True(t, ok)
	assert.Equal(t, "https://www.w3.org/2019/wot/td/v1", ctxValue)
}

func TestDescription_SetKeepsPosition(t *testing.T) {
	d := NewDescription()
	d.Set("b", 1)
	d.Set("a", 2)
	d.Set("b", 3)

	raw, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `{"b":3,"a":2}`, string(raw))
	assert.Equal(t, []string{"b", "a"}, d.Keys())

	nested := NewDescription()
	nested.Set("z", true)
	nested.Set("y", "v")
	d.Set("c", nested)

	raw, err = json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `{"b":3,"a":2,"c":{"z":true,"y":"v"}}`, string(raw))

	empty, err := json.Marshal(NewDescription())
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(empty))
}
