package api

import (
	"encoding/json"
	"net/http"
)

// problemMediaType is the RFC 7807 content type for error responses.
const problemMediaType = "application/problem+json"

// problemDetail is an RFC 7807 error body.
type problemDetail struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Status int    `json:"status"`
}

// problem writes an RFC 7807 error response.
func problem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", problemMediaType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problemDetail{
		Type:   "about:blank",
		Title:  title,
		Detail: detail,
		Status: status,
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}
