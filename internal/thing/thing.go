package thing

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Executor runs action bodies off the request path.
type Executor interface {
	Submit(task func(ctx context.Context) error) error
}

// goExecutor runs each task on its own goroutine. Used when no shared
// executor has been configured.
type goExecutor struct{}

func (goExecutor) Submit(task func(ctx context.Context) error) error {
	go task(context.Background()) //nolint:errcheck // failures are recorded on the action
	return nil
}

// ActionObserver is told about every action status transition.
type ActionObserver func(thingID, action string, status Status)

// Thing is a modeled device exposing properties, actions and events.
//
// Every Thing has its own reader/writer lock. Reads (property values,
// action and event listings, descriptions) share the lock; property writes,
// action registration and status changes, event appends and subscriber
// changes take it exclusively. Every notification is fanned out inside the
// same exclusive section as the mutation that produced it, which gives
// each subscriber a single total order of messages per Thing.
//
// Thread Safety: all exported methods are safe for concurrent use.
type Thing struct {
	mu sync.RWMutex

	id          string
	title       string
	description string
	context     string
	types       []string
	hrefPrefix  string
	uiHref      string

	properties    map[string]*Property
	propertyOrder []string

	actionTypes map[string]*actionType
	actionOrder []string
	actions     map[string][]*action

	eventTypes map[string]*eventType
	eventOrder []string
	eventSeq   uint64

	subscribers  map[string]Subscriber
	eventFilters map[string]map[string]struct{}

	executor Executor
	observer ActionObserver
	logger   Logger
	now      func() time.Time
}

// New creates a Thing. id should be a URI (e.g. "urn:dev:ops:my-lamp-1234").
func New(id, title string, types []string, description string) *Thing {
	return &Thing{
		id:           id,
		title:        title,
		description:  description,
		context:      WebThingContext,
		types:        append([]string{}, types...),
		properties:   make(map[string]*Property),
		actionTypes:  make(map[string]*actionType),
		actions:      make(map[string][]*action),
		eventTypes:   make(map[string]*eventType),
		subscribers:  make(map[string]Subscriber),
		eventFilters: make(map[string]map[string]struct{}),
		executor:     goExecutor{},
		logger:       noopLogger{},
		now:          time.Now,
	}
}

// ─── Setup ──────────────────────────────────────────────────────────

// SetLogger sets the logger for this Thing.
func (t *Thing) SetLogger(logger Logger) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	t.logger = logger
}

// SetExecutor sets the executor that runs action behaviors.
func (t *Thing) SetExecutor(executor Executor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if executor == nil {
		executor = goExecutor{}
	}
	t.executor = executor
}

// SetActionObserver registers a callback for action status transitions.
// The callback runs under the Thing's exclusive lock.
func (t *Thing) SetActionObserver(observer ActionObserver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observer = observer
}

// SetContext overrides the @context of the Thing Description.
func (t *Thing) SetContext(uri string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.context = uri
}

// SetHrefPrefix sets the path prefix all sub-resource links are built on.
func (t *Thing) SetHrefPrefix(prefix string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hrefPrefix = prefix
}

// SetUIHref sets an optional link to a human-facing UI.
func (t *Thing) SetUIHref(href string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.uiHref = href
}

// AddProperty registers a property. Names must be unique.
func (t *Thing) AddProperty(p *Property) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.properties[p.name]; exists {
		return fmt.Errorf("%w: property %q", ErrDuplicateName, p.name)
	}
	t.properties[p.name] = p
	t.propertyOrder = append(t.propertyOrder, p.name)
	return nil
}

// AddAvailableAction registers an invokable action.
//
// metadata is the WoT action description; its "input" member, if present,
// is the JSON Schema every invocation's input must satisfy.
func (t *Thing) AddAvailableAction(name string, metadata map[string]any, factory BehaviorFactory) error {
	if factory == nil {
		return fmt.Errorf("thing: action %q has no behavior", name)
	}

	inputSchema, _ := metadata["input"].(map[string]any)
	schema, err := CompileSchema(inputSchema)
	if err != nil {
		return fmt.Errorf("action %q input: %w", name, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.actionTypes[name]; exists {
		return fmt.Errorf("%w: action %q", ErrDuplicateName, name)
	}
	t.actionTypes[name] = &actionType{
		name:     name,
		metadata: cloneMetadata(metadata),
		input:    schema,
		factory:  factory,
	}
	t.actionOrder = append(t.actionOrder, name)
	return nil
}

// AddAvailableEvent declares an event and sizes its log. A capacity of
// zero or less uses DefaultEventCapacity.
func (t *Thing) AddAvailableEvent(name string, metadata map[string]any, capacity int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.eventTypes[name]; exists {
		return fmt.Errorf("%w: event %q", ErrDuplicateName, name)
	}
	t.eventTypes[name] = &eventType{
		name:     name,
		metadata: cloneMetadata(metadata),
		log:      newEventLog(capacity),
	}
	t.eventOrder = append(t.eventOrder, name)
	return nil
}

// ─── Accessors ──────────────────────────────────────────────────────

// ID returns the Thing id.
func (t *Thing) ID() string {
	return t.id
}

// Title returns the Thing title.
func (t *Thing) Title() string {
	return t.title
}

// HrefPrefix returns the path prefix of the Thing's resources.
func (t *Thing) HrefPrefix() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.hrefPrefix
}

// ─── Properties ─────────────────────────────────────────────────────

// HasProperty reports whether name is a registered property.
func (t *Thing) HasProperty(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.properties[name]
	return ok
}

// PropertyNames returns property names in declaration order.
func (t *Thing) PropertyNames() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string{}, t.propertyOrder...)
}

// PropertyValue returns the current value of one property.
func (t *Thing) PropertyValue(name string) (any, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.properties[name]
	if !ok {
		return nil, fmt.Errorf("%w: property %q", ErrNotFound, name)
	}
	return cloneValue(p.value), nil
}

// Properties returns a copy of all property values.
func (t *Thing) Properties() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]any, len(t.properties))
	for name, p := range t.properties {
		out[name] = cloneValue(p.value)
	}
	return out
}

// SetProperty runs the validated write path and returns the stored value.
//
// Read-only check, schema validation and the forwarder call all happen
// before the exclusive lock is taken. The value is then stored and a
// propertyStatus notification fanned out in one critical section.
func (t *Thing) SetProperty(ctx context.Context, name string, value any) (any, error) {
	t.mu.RLock()
	p, ok := t.properties[name]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: property %q", ErrNotFound, name)
	}

	applied, err := p.prepare(ctx, value)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.storeLocked(p, applied)
	return cloneValue(applied), nil
}

// UpdateProperty records a value reported by the device itself.
//
// The value is schema-checked but bypasses the read-only flag and the
// forwarder, so sensors can publish read-only readings.
func (t *Thing) UpdateProperty(name string, value any) error {
	t.mu.RLock()
	p, ok := t.properties[name]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: property %q", ErrNotFound, name)
	}

	if err := p.schema.Validate(value); err != nil {
		return fmt.Errorf("property %q: %w", name, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.storeLocked(p, cloneValue(value))
	return nil
}

func (t *Thing) storeLocked(p *Property, value any) {
	p.value = value
	t.notifyLocked(Message{
		ThingID:     t.id,
		MessageType: MessagePropertyStatus,
		Data:        map[string]any{p.name: cloneValue(value)},
	})
}

// ─── Actions ────────────────────────────────────────────────────────

// HasAction reports whether name is a registered action.
func (t *Thing) HasAction(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.actionTypes[name]
	return ok
}

// RequestAction validates input, registers a pending action and hands it to
// the executor. The returned record reflects the pending state; completion
// is reported through actionStatus notifications.
func (t *Thing) RequestAction(name string, input any) (ActionRecord, error) {
	t.mu.RLock()
	at, ok := t.actionTypes[name]
	t.mu.RUnlock()
	if !ok {
		return ActionRecord{}, fmt.Errorf("%w: %s", ErrUnknownAction, name)
	}

	if err := at.input.Validate(input); err != nil {
		return ActionRecord{}, fmt.Errorf("action %q input: %w", name, err)
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	a := &action{
		id:            id,
		name:          name,
		input:         cloneValue(input),
		status:        StatusCreated,
		timeRequested: t.now().UTC(),
		behavior:      at.factory(t),
		ctx:           ctx,
		cancel:        cancel,
	}

	t.mu.Lock()
	a.href = t.hrefPrefix + "/actions/" + name + "/" + id
	t.actions[name] = append(t.actions[name], a)
	t.advanceLocked(a, StatusPending, nil)
	rec := a.record()
	executor := t.executor
	t.mu.Unlock()

	if err := executor.Submit(func(ctx context.Context) error {
		return t.runAction(ctx, a)
	}); err != nil {
		t.logger.Error("action not scheduled",
			"thing_id", t.id,
			"action", name,
			"action_id", id,
			"error", err,
		)
		t.fail(a)
	}

	return rec, nil
}

// fail moves a pending action to error through running, publishing both
// steps.
func (t *Thing) fail(a *action) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.advanceLocked(a, StatusRunning, nil) {
		t.advanceLocked(a, StatusError, nil)
	}
}

// runAction is the executor task for one invocation.
func (t *Thing) runAction(ctx context.Context, a *action) (err error) {
	stop := context.AfterFunc(ctx, a.cancel)
	defer stop()

	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("action behavior panicked",
				"thing_id", t.id,
				"action", a.name,
				"action_id", a.id,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			t.transition(a, StatusError, nil)
			err = fmt.Errorf("action %q panicked: %v", a.name, r)
		}
	}()

	if !t.transition(a, StatusRunning, nil) {
		return nil
	}

	output, err := a.behavior.Perform(a.ctx, cloneValue(a.input))
	if err != nil {
		if t.cancelled(a) {
			t.logger.Debug("action stopped after cancel",
				"thing_id", t.id,
				"action", a.name,
				"action_id", a.id,
				"error", err,
			)
			return nil
		}
		t.logger.Warn("action failed",
			"thing_id", t.id,
			"action", a.name,
			"action_id", a.id,
			"error", err,
		)
		t.transition(a, StatusError, nil)
		return err
	}

	t.transition(a, StatusCompleted, output)
	return nil
}

// cancelled reports whether CancelAction removed a.
func (t *Thing) cancelled(a *action) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return a.removed
}

// transition applies a status change under the exclusive lock. It returns
// false if the record was cancelled or the edge is not legal.
func (t *Thing) transition(a *action, to Status, output any) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.advanceLocked(a, to, output)
}

func (t *Thing) advanceLocked(a *action, to Status, output any) bool {
	if a.removed || !a.status.canAdvance(to) {
		return false
	}

	a.status = to
	if to == StatusCompleted {
		a.output = cloneValue(output)
	}
	if to.Terminal() {
		a.timeCompleted = t.now().UTC()
		a.cancel()
	}

	if t.observer != nil {
		t.observer(t.id, a.name, to)
	}
	t.notifyLocked(Message{
		ThingID:     t.id,
		MessageType: MessageActionStatus,
		Data:        a.record().Description(),
	})
	return true
}

// Action returns one action record.
func (t *Thing) Action(name, id string) (ActionRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if _, ok := t.actionTypes[name]; !ok {
		return ActionRecord{}, fmt.Errorf("%w: %s", ErrUnknownAction, name)
	}
	for _, a := range t.actions[name] {
		if a.id == id {
			return a.record(), nil
		}
	}
	return ActionRecord{}, fmt.Errorf("%w: action %s/%s", ErrNotFound, name, id)
}

// Actions returns action records. An empty name returns every record,
// grouped by action name in declaration order, each group in request order.
func (t *Thing) Actions(name string) ([]ActionRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := t.actionOrder
	if name != "" {
		if _, ok := t.actionTypes[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAction, name)
		}
		names = []string{name}
	}

	var out []ActionRecord
	for _, n := range names {
		for _, a := range t.actions[n] {
			out = append(out, a.record())
		}
	}
	return out, nil
}

// CancelAction invokes the behavior's cancel hook and removes the record.
//
// The record disappears whether or not the behavior actually stops; the
// removal itself is not broadcast.
func (t *Thing) CancelAction(name, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	list := t.actions[name]
	idx := slices.IndexFunc(list, func(a *action) bool { return a.id == id })
	if idx < 0 {
		return fmt.Errorf("%w: action %s/%s", ErrNotFound, name, id)
	}

	a := list[idx]
	a.behavior.Cancel()
	a.cancel()
	a.removed = true
	t.actions[name] = slices.Delete(list, idx, idx+1)

	t.logger.Debug("action cancelled",
		"thing_id", t.id,
		"action", name,
		"action_id", id,
		"status", a.status,
	)
	return nil
}

// ─── Events ─────────────────────────────────────────────────────────

// HasEvent reports whether name is a declared event.
func (t *Thing) HasEvent(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.eventTypes[name]
	return ok
}

// EmitEvent appends an event to its log and notifies subscribers.
// Undeclared names are rejected with ErrUnknownEvent.
func (t *Thing) EmitEvent(name string, data any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	et, ok := t.eventTypes[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, name)
	}

	t.eventSeq++
	rec := EventRecord{
		Name:      name,
		Data:      cloneValue(data),
		Timestamp: t.now().UTC(),
		seq:       t.eventSeq,
	}
	if et.log.append(rec) {
		t.logger.Debug("event log full, evicted oldest", "thing_id", t.id, "event", name)
	}

	msg := Message{
		ThingID:     t.id,
		MessageType: MessageEvent,
		Data:        rec.Description(),
	}
	t.fanoutLocked(msg, func(subID string) bool {
		filter, filtered := t.eventFilters[subID]
		if !filtered {
			return true
		}
		_, wanted := filter[name]
		return wanted
	})
	return nil
}

// Events returns retained event records. An empty name returns every
// record across all names in emission order.
func (t *Thing) Events(name string) ([]EventRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if name != "" {
		et, ok := t.eventTypes[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, name)
		}
		return et.log.snapshot(), nil
	}

	var out []EventRecord
	for _, et := range t.eventTypes {
		out = append(out, et.log.records...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out, nil
}

// ─── Subscribers ────────────────────────────────────────────────────

// Subscribe registers sub for notifications. A subscriber with the same
// id replaces the previous registration.
func (t *Thing) Subscribe(sub Subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribers[sub.ID()] = sub
}

// Unsubscribe removes a subscriber. It reports whether it was registered.
func (t *Thing) Unsubscribe(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.subscribers[id]
	delete(t.subscribers, id)
	delete(t.eventFilters, id)
	return ok
}

// SubscribeEvent restricts subscriber id to the named events. A subscriber
// with no event subscriptions receives every event.
func (t *Thing) SubscribeEvent(id, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.eventTypes[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, name)
	}
	if _, ok := t.subscribers[id]; !ok {
		return fmt.Errorf("%w: subscriber %s", ErrNotFound, id)
	}

	filter, ok := t.eventFilters[id]
	if !ok {
		filter = make(map[string]struct{})
		t.eventFilters[id] = filter
	}
	filter[name] = struct{}{}
	return nil
}

// SubscriberCount returns the number of registered subscribers.
func (t *Thing) SubscriberCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subscribers)
}

func (t *Thing) notifyLocked(msg Message) {
	t.fanoutLocked(msg, nil)
}

// fanoutLocked offers msg to every subscriber accepted by include. A failed
// send drops the subscriber on the spot.
func (t *Thing) fanoutLocked(msg Message, include func(subID string) bool) {
	for id, sub := range t.subscribers {
		if include != nil && !include(id) {
			continue
		}
		if err := sub.Send(msg); err != nil {
			delete(t.subscribers, id)
			delete(t.eventFilters, id)
			level := t.logger.Debug
			if !errors.Is(err, ErrSubscriberClosed) {
				level = t.logger.Warn
			}
			level("subscriber dropped",
				"thing_id", t.id,
				"subscriber_id", id,
				"message_type", msg.MessageType,
				"error", err,
			)
		}
	}
}
