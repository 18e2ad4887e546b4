package api

import (
	"net/http"

	"github.com/nuetzliches/sbinspect/internal/config"
	"github.com/nuetzliches/sbinspect/internal/inspector"
)

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req inspector.ConnectionRequest
	if !decodeJSONBodyStrict(w, r, &req) {
		return
	}
	info, opErr := s.Inspector.Connect(r.Context(), req)
	if opErr != nil {
		writeOpError(w, opErr)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	info, ok := s.Inspector.Current()
	if !ok {
		writeError(w, http.StatusNotFound, inspector.CodeNotConnected, "No active connection")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if opErr := s.Inspector.Disconnect(r.Context()); opErr != nil {
		writeOpError(w, opErr)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Disconnected successfully"})
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	entities, opErr := s.Inspector.ListEntities(r.Context())
	if opErr != nil {
		writeOpError(w, opErr)
		return
	}
	writeJSON(w, http.StatusOK, entities)
}

func (s *Server) handleDefaults(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Config.Defaults())
}

func (s *Server) handleScenarios(w http.ResponseWriter, r *http.Request) {
	scenarios := s.Config.Scenarios()
	if scenarios == nil {
		scenarios = []config.Scenario{}
	}
	writeJSON(w, http.StatusOK, scenarios)
}
