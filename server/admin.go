// File: server/admin.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Read-only admin HTTP endpoint.

package server

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"
)

func (s *Server) routes() http.Handler {
	r := httprouter.New()
	r.GET("/healthz", s.handleHealth)
	r.GET("/debug/state", s.handleDebugState)
	r.GET("/debug/state/:probe", s.handleProbe)
	r.GET("/rooms", s.handleRooms)
	r.GET("/sessions", s.handleSessions)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": s.Info(),
	})
}

func (s *Server) handleDebugState(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.probes.DumpState())
}

func (s *Server) handleProbe(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	v, ok := s.probes.Probe(ps.ByName("probe"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown probe"})
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleRooms(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.svc.Rooms().Snapshot())
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.sessions.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
