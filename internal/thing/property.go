package thing

import (
	"context"
	"errors"
	"fmt"
)

// Forwarder pushes a proposed property value to the device side.
//
// It receives a schema-valid value and returns the value the device actually
// accepted (which may differ, e.g. after clamping), or an error to reject
// the write. Forward is always called without any Thing lock held.
type Forwarder interface {
	Forward(ctx context.Context, value any) (any, error)
}

// ForwarderFunc adapts a function to the Forwarder interface.
type ForwarderFunc func(ctx context.Context, value any) (any, error)

// Forward calls f(ctx, value).
func (f ForwarderFunc) Forward(ctx context.Context, value any) (any, error) {
	return f(ctx, value)
}

// ReadOnlyForwarder rejects every write. Useful for properties that are
// writable by schema but owned by an external process.
type ReadOnlyForwarder struct{}

// Forward always returns ErrForwarderRejected.
func (ReadOnlyForwarder) Forward(_ context.Context, _ any) (any, error) {
	return nil, fmt.Errorf("%w: property is driven by the device", ErrForwarderRejected)
}

// Property is a named, schema-typed value owned by a Thing.
//
// All fields are guarded by the owning Thing's lock once the property has
// been added to a Thing.
type Property struct {
	name      string
	metadata  map[string]any
	schema    Schema
	readOnly  bool
	forwarder Forwarder
	value     any
}

// NewProperty creates a property with an initial value.
//
// metadata is the WoT property description (type, minimum, maximum, enum,
// unit, readOnly, title, ...). It doubles as the JSON Schema for values.
// The initial value must conform to it unless it is nil.
func NewProperty(name string, initial any, metadata map[string]any, forwarder Forwarder) (*Property, error) {
	if name == "" {
		return nil, errors.New("thing: property name is required")
	}

	schema, err := CompileSchema(metadata)
	if err != nil {
		return nil, fmt.Errorf("property %q: %w", name, err)
	}

	if initial != nil {
		if err := schema.Validate(initial); err != nil {
			return nil, fmt.Errorf("property %q initial value: %w", name, err)
		}
	}

	readOnly, _ := metadata["readOnly"].(bool)

	return &Property{
		name:      name,
		metadata:  cloneMetadata(metadata),
		schema:    schema,
		readOnly:  readOnly,
		forwarder: forwarder,
		value:     cloneValue(initial),
	}, nil
}

// Name returns the property name.
func (p *Property) Name() string {
	return p.name
}

// ReadOnly reports whether the metadata marks this property read-only.
func (p *Property) ReadOnly() bool {
	return p.readOnly
}

// prepare runs the lock-free part of the write path: read-only check,
// schema validation and the forwarder call. It returns the value to store.
func (p *Property) prepare(ctx context.Context, proposed any) (any, error) {
	if p.readOnly {
		return nil, fmt.Errorf("%w: %s", ErrReadOnly, p.name)
	}

	if err := p.schema.Validate(proposed); err != nil {
		return nil, fmt.Errorf("property %q: %w", p.name, err)
	}

	if p.forwarder == nil {
		return cloneValue(proposed), nil
	}

	accepted, err := p.forwarder.Forward(ctx, cloneValue(proposed))
	if err != nil {
		if errors.Is(err, ErrForwarderRejected) {
			return nil, fmt.Errorf("property %q: %w", p.name, err)
		}
		return nil, fmt.Errorf("property %q: %w: %w", p.name, ErrForwarderRejected, err)
	}

	// The stored value must still honour the schema.
	if err := p.schema.Validate(accepted); err != nil {
		return nil, fmt.Errorf("property %q: %w: forwarder returned non-conforming value: %w",
			p.name, ErrForwarderRejected, err)
	}
	return cloneValue(accepted), nil
}

// description returns the WoT property description with its link.
func (p *Property) description(hrefPrefix string) map[string]any {
	desc := cloneMetadata(p.metadata)
	desc["links"] = []Link{{Rel: "property", Href: hrefPrefix + "/properties/" + p.name}}
	return desc
}
