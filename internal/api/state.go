package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/nuetzliches/sbinspect/internal/activity"
	"github.com/nuetzliches/sbinspect/internal/uistate"
)

func (s *Server) handleGetUIState(w http.ResponseWriter, r *http.Request) {
	st, err := s.State.Get(r.Context())
	if err != nil {
		s.writeStateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handlePutUIState(w http.ResponseWriter, r *http.Request) {
	var st uistate.UIState
	if !decodeJSONBodyStrict(w, r, &st) {
		return
	}
	stored, err := s.State.Put(r.Context(), st)
	if err != nil {
		s.writeStateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	entity := strings.TrimSpace(r.URL.Query().Get("entity"))
	if entity == "" {
		entity, _ = s.currentEntity()
	}
	if entity == "" {
		writeError(w, http.StatusBadRequest, errInvalidQuery, "entity is required when not connected")
		return
	}
	snap, ok, err := s.State.Snapshot(r.Context(), entity)
	if err != nil {
		s.writeStateError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, errNotFound, "No snapshot for entity")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleListActivity(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errInvalidQuery, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	events, err := s.State.ListActivity(r.Context(), limit)
	if err != nil {
		s.writeStateError(w, err)
		return
	}
	if events == nil {
		events = []activity.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) writeStateError(w http.ResponseWriter, err error) {
	if errors.Is(err, uistate.ErrInvalidState) {
		writeError(w, http.StatusBadRequest, errInvalidBody, err.Error())
		return
	}
	s.logger().Error("ui_state_failed", slog.Any("err", err))
	writeError(w, http.StatusServiceUnavailable, errStateFailed, "ui state is temporarily unavailable")
}
