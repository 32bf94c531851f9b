package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/sideband-filter/internal/audit"
)

// handleListAudit returns audit entries, newest first.
//
// Query parameters:
//   - action: lifecycle event kind (attached, detached, channel_created, ...)
//   - handle: instance handle
//   - since: RFC 3339 lower bound on created_at
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeUnavailable(w, "audit trail not enabled")
		return
	}

	q := r.URL.Query()
	query := audit.Query{
		Action: q.Get("action"),
		Handle: q.Get("handle"),
	}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		query.Since = t
	}
	for name, dst := range map[string]*int{"limit": &query.Limit, "offset": &query.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, name+" must be an integer")
			return
		}
		*dst = n
	}

	page, err := s.audit.List(r.Context(), query)
	if err != nil {
		s.logger.Error("failed to list audit entries", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, page)
}
