package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-webthing/internal/thing"
)

// Security scheme names advertised in Thing Descriptions.
const (
	securityNoSec  = "nosec_sc"
	securityBearer = "bearer_sc"
)

// thingFrom returns the Thing resolved by thingMiddleware.
func thingFrom(r *http.Request) *thing.Thing {
	t, _ := r.Context().Value(ctxKeyThing).(*thing.Thing)
	return t
}

// describe builds the Thing Description as served to this request, adding
// the base URL, security definitions and the WebSocket endpoint.
func (s *Server) describe(r *http.Request, t *thing.Thing) *thing.Description {
	scheme, wsScheme := "http", "ws"
	if r.TLS != nil {
		scheme, wsScheme = "https", "wss"
	}

	href := t.HrefPrefix()
	if href == "" {
		href = "/"
	}

	desc := t.Description()
	desc.Set("href", href)
	desc.Set("base", fmt.Sprintf("%s://%s%s", scheme, r.Host, href))
	if s.cfg.Security.JWT.Enabled {
		desc.Set("securityDefinitions", map[string]any{
			securityBearer: map[string]any{
				"scheme": "bearer",
				"alg":    "HS256",
				"in":     "header",
			},
		})
		desc.Set("security", securityBearer)
	} else {
		desc.Set("securityDefinitions", map[string]any{
			securityNoSec: map[string]any{"scheme": "nosec"},
		})
		desc.Set("security", securityNoSec)
	}
	desc.AddLink(thing.Link{
		Rel:  "alternate",
		Href: fmt.Sprintf("%s://%s%s", wsScheme, r.Host, href),
	})
	return desc
}

// handleListThings returns the descriptions of every Thing.
func (s *Server) handleListThings(w http.ResponseWriter, r *http.Request) {
	things := s.registry.Things()
	out := make([]*thing.Description, 0, len(things))
	for _, t := range things {
		out = append(out, s.describe(r, t))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleThing returns the Thing Description, or upgrades to a WebSocket
// when the request asks for one.
func (s *Server) handleThing(w http.ResponseWriter, r *http.Request) {
	t := thingFrom(r)
	if websocket.IsWebSocketUpgrade(r) {
		s.handleWebSocket(w, r, t)
		return
	}
	writeJSON(w, http.StatusOK, s.describe(r, t))
}

// ─── Properties ─────────────────────────────────────────────────────

func (s *Server) handleGetProperties(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, thingFrom(r).Properties())
}

func (s *Server) handleGetProperty(w http.ResponseWriter, r *http.Request) {
	name := urlParam(r, "property")
	value, err := thingFrom(r).PropertyValue(name)
	if err != nil {
		s.writeThingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{name: value})
}

// handleSetProperty applies {name: value}. The response carries the value
// actually stored, which a forwarder may have adjusted.
func (s *Server) handleSetProperty(w http.ResponseWriter, r *http.Request) {
	t := thingFrom(r)
	name := urlParam(r, "property")

	var body map[string]any
	if err := decodeBody(r, &body); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	value, ok := body[name]
	if !ok {
		writeBadRequest(w, fmt.Sprintf("body must contain %q", name))
		return
	}

	applied, err := t.SetProperty(r.Context(), name, value)
	if err != nil {
		s.writeThingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{name: applied})
}

// ─── Actions ────────────────────────────────────────────────────────

// handleListActions lists action records, optionally for one name.
func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	records, err := thingFrom(r).Actions(urlParam(r, "action"))
	if err != nil {
		s.writeThingError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Description())
	}
	writeJSON(w, http.StatusOK, out)
}

// actionRequest is the inner object of {name: {"input": ...}}.
type actionRequest struct {
	Input any `json:"input"`
}

// handleRequestAction accepts {name: {"input": ...}} with exactly one key.
// On /actions/{action} the key must match the path.
func (s *Server) handleRequestAction(w http.ResponseWriter, r *http.Request) {
	t := thingFrom(r)

	var body map[string]json.RawMessage
	if err := decodeBody(r, &body); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if len(body) != 1 {
		writeBadRequest(w, "body must contain exactly one action")
		return
	}

	var name string
	var raw json.RawMessage
	for k, v := range body {
		name, raw = k, v
	}
	if pathName := urlParam(r, "action"); pathName != "" && pathName != name {
		writeBadRequest(w, fmt.Sprintf("action %q does not match path", name))
		return
	}

	var req actionRequest
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &req); err != nil {
			writeBadRequest(w, "action body must be an object")
			return
		}
	}

	rec, err := t.RequestAction(name, req.Input)
	if err != nil {
		s.writeThingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec.Description())
}

func (s *Server) handleGetAction(w http.ResponseWriter, r *http.Request) {
	rec, err := thingFrom(r).Action(urlParam(r, "action"), urlParam(r, "actionID"))
	if err != nil {
		s.writeThingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec.Description())
}

// handleUpdateAction acknowledges an update to an existing action.
// Running actions cannot be modified.
func (s *Server) handleUpdateAction(w http.ResponseWriter, r *http.Request) {
	if _, err := thingFrom(r).Action(urlParam(r, "action"), urlParam(r, "actionID")); err != nil {
		s.writeThingError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleCancelAction(w http.ResponseWriter, r *http.Request) {
	if err := thingFrom(r).CancelAction(urlParam(r, "action"), urlParam(r, "actionID")); err != nil {
		s.writeThingError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Events ─────────────────────────────────────────────────────────

// handleListEvents lists retained events, optionally for one name.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	records, err := thingFrom(r).Events(urlParam(r, "event"))
	if err != nil {
		s.writeThingError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Description())
	}
	writeJSON(w, http.StatusOK, out)
}

// decodeBody decodes a JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		}
		return errors.New("invalid JSON body")
	}
	return nil
}
