package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-pioneer/internal/bridges/pioneer"
)

// maxHistoryLimit caps ?limit= on the history endpoint.
const maxHistoryLimit = 200

// commandRequest is the body of POST /receivers/{id}/commands.
type commandRequest struct {
	ID         string         `json:"id,omitempty"`
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// historyEntry is one row of GET /receivers/{id}/history.
type historyEntry struct {
	RecordedAt time.Time      `json:"recorded_at"`
	State      map[string]any `json:"state"`
}

func (s *Server) handleListReceivers(w http.ResponseWriter, _ *http.Request) {
	receivers := s.service.Receivers()
	writeJSON(w, http.StatusOK, map[string]any{
		"receivers": receivers,
		"count":     len(receivers),
	})
}

func (s *Server) handleGetReceiver(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.Receiver(chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleGetSources(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sources, err := s.service.Sources(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if sources == nil {
		sources = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"sources":   sources,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.Refresh(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleCommand runs a command synchronously and returns the ack.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeBadRequest(w, "command is required")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	cmd := pioneer.CommandMessage{
		ID:         req.ID,
		Timestamp:  time.Now().UTC(),
		DeviceID:   chi.URLParam(r, "id"),
		Command:    req.Command,
		Parameters: req.Parameters,
		Source:     "api",
	}
	if claims := claimsFromContext(r.Context()); claims != nil {
		cmd.UserID = claims.Subject
	}

	ack := s.service.Execute(r.Context(), cmd)
	if ack.Error != nil {
		s.logger.Warn("command failed",
			"device_id", cmd.DeviceID,
			"command", cmd.Command,
			"code", ack.Error.Code,
			"request_id", requestID(r),
		)
	}
	writeJSON(w, ackHTTPStatus(ack), ack)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			writeBadRequest(w, "limit must be between 1 and 200")
			return
		}
		limit = n
	}

	id := chi.URLParam(r, "id")
	entries, err := s.service.History(r.Context(), id, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	out := make([]historyEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntry{RecordedAt: e.RecordedAt.UTC(), State: e.State.Map()})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"history":   out,
		"count":     len(out),
	})
}
