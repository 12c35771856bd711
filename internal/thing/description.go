package thing

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// WebThingContext is the default @context of a Thing Description.
const WebThingContext = "https://webthings.io/schemas"

// Link is a WoT link object.
type Link struct {
	Rel       string `json:"rel"`
	Href      string `json:"href"`
	MediaType string `json:"mediaType,omitempty"`
}

// Description is a JSON object that serialises its keys in insertion order.
// Thing Descriptions use it so properties, actions and events appear in the
// order they were declared.
type Description struct {
	m *orderedmap.OrderedMap[string, any]
}

// NewDescription returns an empty ordered object.
func NewDescription() *Description {
	return &Description{m: orderedmap.New[string, any]()}
}

// Set stores value under key, keeping the original position of existing keys.
func (d *Description) Set(key string, value any) {
	d.m.Set(key, value)
}

// Get returns the value stored under key.
func (d *Description) Get(key string) (any, bool) {
	return d.m.Get(key)
}

// Keys returns the keys in insertion order.
func (d *Description) Keys() []string {
	out := make([]string, 0, d.m.Len())
	for pair := d.m.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

// AddLink appends link to the "links" array, creating it if needed.
func (d *Description) AddLink(link Link) {
	links, _ := d.m.Value("links").([]Link)
	d.Set("links", append(links, link))
}

// MarshalJSON implements json.Marshaler.
func (d *Description) MarshalJSON() ([]byte, error) {
	return d.m.MarshalJSON()
}

// Description builds the Thing Description. The server adds transport
// specific fields (base, security, websocket link) on top.
func (t *Thing) Description() *Description {
	t.mu.RLock()
	defer t.mu.RUnlock()

	desc := NewDescription()
	desc.Set("id", t.id)
	desc.Set("title", t.title)
	desc.Set("@context", t.context)
	desc.Set("@type", append([]string{}, t.types...))
	if t.description != "" {
		desc.Set("description", t.description)
	}

	props := NewDescription()
	for _, name := range t.propertyOrder {
		props.Set(name, t.properties[name].description(t.hrefPrefix))
	}
	desc.Set("properties", props)

	actions := NewDescription()
	for _, name := range t.actionOrder {
		actions.Set(name, t.actionTypes[name].description(t.hrefPrefix))
	}
	desc.Set("actions", actions)

	events := NewDescription()
	for _, name := range t.eventOrder {
		events.Set(name, t.eventTypes[name].description(t.hrefPrefix))
	}
	desc.Set("events", events)

	desc.Set("links", []Link{
		{Rel: "properties", Href: t.hrefPrefix + "/properties"},
		{Rel: "actions", Href: t.hrefPrefix + "/actions"},
		{Rel: "events", Href: t.hrefPrefix + "/events"},
	})
	if t.uiHref != "" {
		desc.AddLink(Link{Rel: "alternate", MediaType: "text/html", Href: t.uiHref})
	}

	return desc
}
