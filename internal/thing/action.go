package thing

import (
	"context"
	"time"
)

// Status is the lifecycle state of an action record.
type Status string

// Action lifecycle states. Completed and Error are terminal.
const (
	StatusCreated   Status = "created"
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// transitions lists the legal edges of the action state machine. No edge
// skips Running, so observers always see a prefix of
// pending, running, completed|error.
var transitions = map[Status][]Status{
	StatusCreated: {StatusPending},
	StatusPending: {StatusRunning},
	StatusRunning: {StatusCompleted, StatusError},
}

func (s Status) canAdvance(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Behavior is the body of one action type.
//
// Perform runs on the shared executor with no Thing lock held and may take
// as long as it needs; it should return promptly once ctx is cancelled.
// Cancel is invoked while the owning Thing is exclusively locked, so it
// must not call back into the Thing.
type Behavior interface {
	Perform(ctx context.Context, input any) (output any, err error)
	Cancel()
}

// BehaviorFunc adapts a function to Behavior. Cancellation is delivered
// through ctx only.
type BehaviorFunc func(ctx context.Context, input any) (any, error)

// Perform calls f(ctx, input).
func (f BehaviorFunc) Perform(ctx context.Context, input any) (any, error) {
	return f(ctx, input)
}

// Cancel is a no-op; the context passed to Perform is cancelled instead.
func (BehaviorFunc) Cancel() {}

// BehaviorFactory builds a fresh Behavior for each invocation. The Thing
// is passed so behaviors can update properties or emit events while
// performing.
type BehaviorFactory func(t *Thing) Behavior

// actionType is a registered, invokable action.
type actionType struct {
	name     string
	metadata map[string]any
	input    Schema
	factory  BehaviorFactory
}

func (at *actionType) description(hrefPrefix string) map[string]any {
	desc := cloneMetadata(at.metadata)
	desc["links"] = []Link{{Rel: "action", Href: hrefPrefix + "/actions/" + at.name}}
	return desc
}

// action is one live invocation. Guarded by the owning Thing's lock.
type action struct {
	id            string
	name          string
	href          string
	input         any
	output        any
	status        Status
	timeRequested time.Time
	timeCompleted time.Time
	behavior      Behavior

	ctx    context.Context //nolint:containedctx // per-invocation cancellation scope
	cancel context.CancelFunc

	// removed is set once the record has been cancelled; the running task
	// then stops making transitions.
	removed bool
}

func (a *action) record() ActionRecord {
	rec := ActionRecord{
		ID:            a.id,
		Name:          a.name,
		Href:          a.href,
		Input:         cloneValue(a.input),
		Output:        cloneValue(a.output),
		Status:        a.status,
		TimeRequested: a.timeRequested,
	}
	if !a.timeCompleted.IsZero() {
		completed := a.timeCompleted
		rec.TimeCompleted = &completed
	}
	return rec
}

// ActionRecord is a point-in-time copy of an action invocation.
type ActionRecord struct {
	ID            string
	Name          string
	Href          string
	Input         any
	Output        any
	Status        Status
	TimeRequested time.Time
	TimeCompleted *time.Time
}

// Description returns the wire form {name: {href, timeRequested, status, ...}}.
func (r ActionRecord) Description() map[string]any {
	return map[string]any{r.Name: r.body()}
}

func (r ActionRecord) body() map[string]any {
	inner := map[string]any{
		"href":          r.Href,
		"timeRequested": formatTime(r.TimeRequested),
		"status":        string(r.Status),
	}
	if r.Input != nil {
		inner["input"] = r.Input
	}
	if r.Output != nil {
		inner["output"] = r.Output
	}
	if r.TimeCompleted != nil {
		inner["timeCompleted"] = formatTime(*r.TimeCompleted)
	}
	return inner
}
