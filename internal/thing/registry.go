package thing

import (
	"errors"
	"fmt"
	"strconv"
)

// Registry holds the Things served by one server.
//
// It is built once at startup and never mutated afterwards, so it needs no
// locking. In single mode the only Thing is served at the root path; in
// multiple mode Things are served under /things/{index}.
type Registry struct {
	name   string
	single bool
	things []*Thing
	byID   map[string]*Thing
}

// NewSingleRegistry serves one Thing at the root path.
func NewSingleRegistry(t *Thing) (*Registry, error) {
	if t == nil {
		return nil, errors.New("thing: registry requires a thing")
	}
	t.SetHrefPrefix("")
	return &Registry{
		name:   t.Title(),
		single: true,
		things: []*Thing{t},
		byID:   map[string]*Thing{t.ID(): t},
	}, nil
}

// NewMultipleRegistry serves several Things under /things/{index}.
// name identifies the collection in logs and the things listing.
func NewMultipleRegistry(name string, things ...*Thing) (*Registry, error) {
	if len(things) == 0 {
		return nil, errors.New("thing: registry requires at least one thing")
	}

	r := &Registry{
		name:   name,
		things: make([]*Thing, 0, len(things)),
		byID:   make(map[string]*Thing, len(things)),
	}
	for i, t := range things {
		if _, dup := r.byID[t.ID()]; dup {
			return nil, fmt.Errorf("%w: thing %q", ErrDuplicateName, t.ID())
		}
		t.SetHrefPrefix("/things/" + strconv.Itoa(i))
		r.things = append(r.things, t)
		r.byID[t.ID()] = t
	}
	return r, nil
}

// Name returns the registry name.
func (r *Registry) Name() string {
	return r.name
}

// Single reports whether the registry serves one Thing at the root.
func (r *Registry) Single() bool {
	return r.single
}

// Things returns all Things in registration order.
func (r *Registry) Things() []*Thing {
	return append([]*Thing{}, r.things...)
}

// Get resolves a path segment to a Thing. The segment is either the
// Thing's index or its id.
func (r *Registry) Get(key string) (*Thing, error) {
	if r.single && key == "" {
		return r.things[0], nil
	}
	if idx, err := strconv.Atoi(key); err == nil {
		if idx >= 0 && idx < len(r.things) {
			return r.things[idx], nil
		}
		return nil, fmt.Errorf("%w: thing %s", ErrNotFound, key)
	}
	if t, ok := r.byID[key]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: thing %s", ErrNotFound, key)
}
