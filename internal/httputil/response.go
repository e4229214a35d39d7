package httputil

import (
	"encoding/json"
	"net/http"
)

// Envelope is the body of every read-path response: results on success,
// errors otherwise.
type Envelope struct {
	Results interface{} `json:"results"`
	Errors  []string    `json:"errors,omitempty"`
}

// WriteJSON writes v as a JSON body with status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteResults writes a successful envelope.
func WriteResults(w http.ResponseWriter, results interface{}) {
	WriteJSON(w, http.StatusOK, Envelope{Results: results})
}

// WriteErrors writes an error envelope. The results field is omitted.
func WriteErrors(w http.ResponseWriter, status int, messages ...string) {
	WriteJSON(w, status, struct {
		Errors []string `json:"errors"`
	}{Errors: messages})
}
