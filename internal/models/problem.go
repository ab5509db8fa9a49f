package models

import (
	"encoding/json"
	"net/http"
)

// RequestIDHeader: заголовок корреляции запросов служебного API.
const RequestIDHeader = "X-Request-Id"

// APIError: тело ответа об ошибке служебного API, application/problem+json.
// Title всегда текст HTTP-статуса, подробности только в Detail.
type APIError struct {
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Path      string `json:"path"`
	RequestID string `json:"request_id,omitempty"`
}

// NewAPIError собирает ошибку для запроса r. Id запроса берётся из
// заголовка ответа, который к этому моменту выставил RequestID.
func NewAPIError(w http.ResponseWriter, r *http.Request, status int, detail string) APIError {
	return APIError{
		Title:     http.StatusText(status),
		Status:    status,
		Detail:    detail,
		Path:      r.URL.Path,
		RequestID: w.Header().Get(RequestIDHeader),
	}
}

func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	p := NewAPIError(w, r, status, detail)
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(p)
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
