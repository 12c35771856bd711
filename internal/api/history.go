package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-webthing/internal/history"
)

// handleHistory lists recorded notifications for the Thing, newest first.
//
// Query parameters:
//   - kind: propertyStatus, actionStatus or event
//   - name: property, action or event name
//   - limit: 1 to 200 (default 50)
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "history is not enabled")
		return
	}

	q := history.Query{
		ThingID: thingFrom(r).ID(),
		Kind:    r.URL.Query().Get("kind"),
		Name:    r.URL.Query().Get("name"),
	}
	if q.Kind != "" && !history.ValidKind(q.Kind) {
		writeBadRequest(w, "kind must be propertyStatus, actionStatus or event")
		return
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > history.MaxLimit {
			writeBadRequest(w, "limit must be between 1 and "+strconv.Itoa(history.MaxLimit))
			return
		}
		q.Limit = limit
	}

	entries, err := s.history.List(r.Context(), q)
	if err != nil {
		s.writeThingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}
