package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nuetzliches/sbinspect/internal/inspector"
	"github.com/nuetzliches/sbinspect/internal/uistate"
)

const defaultPeekMessages = 100

func (s *Server) handlePeek(w http.ResponseWriter, r *http.Request) {
	max := defaultPeekMessages
	if raw := strings.TrimSpace(r.URL.Query().Get("maxMessages")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, errInvalidQuery, "maxMessages must be an integer")
			return
		}
		max = n
	}

	res, opErr := s.Inspector.Peek(r.Context(), max)
	if opErr != nil {
		writeOpError(w, opErr)
		return
	}
	if res.Items == nil {
		res.Items = []inspector.PeekedMessageInfo{}
	}
	s.saveSnapshot(r.Context(), res.Items)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) saveSnapshot(ctx context.Context, items []inspector.PeekedMessageInfo) {
	if s.State == nil {
		return
	}
	entity, ok := s.currentEntity()
	if !ok {
		return
	}
	msgs := make([]uistate.SnapshotMessage, 0, len(items))
	for _, it := range items {
		msgs = append(msgs, uistate.SnapshotMessage{
			MessageID:      it.MessageID,
			EnqueuedTime:   it.EnqueuedTime,
			SequenceNumber: it.SequenceNumber,
			SessionID:      it.SessionID,
		})
	}
	if err := s.State.SaveSnapshot(context.WithoutCancel(ctx), entity, msgs); err != nil {
		s.logger().Warn("snapshot_save_failed", slog.String("entity", entity), slog.Any("err", err))
	}
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "messageId")
	msg, found, opErr := s.Inspector.PeekByID(r.Context(), id)
	if opErr != nil {
		writeOpError(w, opErr)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, errNotFound, "Message not found")
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request) {
	msg, found, opErr := s.Inspector.Receive(r.Context())
	if opErr != nil {
		writeOpError(w, opErr)
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, messageResponse{Message: "No messages available"})
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req inspector.SendMessageRequest
	if !decodeJSONBodyStrict(w, r, &req) {
		return
	}
	if _, opErr := s.Inspector.Send(r.Context(), req); opErr != nil {
		writeOpError(w, opErr)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Message sent successfully"})
}

func (s *Server) handleBulkSend(w http.ResponseWriter, r *http.Request) {
	var reqs []inspector.SendMessageRequest
	if !decodeJSONBodyStrict(w, r, &reqs) {
		return
	}
	writeJSON(w, http.StatusOK, s.Inspector.BulkSend(r.Context(), reqs))
}
