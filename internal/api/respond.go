package api

import (
	"encoding/json"
	"net/http"
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Success  bool   `json:"success"`
	Error    string `json:"error"`
	Position int    `json:"position,omitempty"`
	Details  string `json:"details,omitempty"`
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}

// respondServerError writes a 500. The underlying error is only exposed
// in development.
func (s *Server) respondServerError(w http.ResponseWriter, msg string, err error) {
	resp := errorResponse{Error: msg}
	if s.deps.Development && err != nil {
		resp.Details = err.Error()
	}
	respondJSON(w, http.StatusInternalServerError, resp)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	return json.NewDecoder(r.Body).Decode(v)
}
