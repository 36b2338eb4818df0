package api

import (
	"encoding/json"
	"net/http"
	"time"
)

type HealthResponse struct {
	Status string `json:"status"`
}
type ReadyResponse struct {
	Ready     bool       `json:"ready"`
	Degraded  bool       `json:"degraded"`
	Pastes    int        `json:"pastes"`
	Dirty     bool       `json:"dirty"`
	LastFlush *time.Time `json:"last_flush,omitempty"`
	FlushErr  string     `json:"flush_error,omitempty"`
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
}

// Ready always answers 200 while the process can serve from memory; a failing
// flush only marks the response degraded.
func (s *Server) Ready(w http.ResponseWriter, r *http.Request) {
	st := s.store.Stats()
	resp := ReadyResponse{
		Ready:  true,
		Pastes: st.Pastes,
		Dirty:  st.Flush.Dirty,
	}
	if !st.Flush.LastFlush.IsZero() {
		lf := st.Flush.LastFlush
		resp.LastFlush = &lf
	}
	if st.Flush.LastErr != nil {
		resp.Degraded = true
		resp.FlushErr = st.Flush.LastErr.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}
