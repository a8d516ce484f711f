package http

import (
	"encoding/json"
	"net/http"
	"time"
)

// JSONResponse is the envelope of every JSON answer of the control API.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      interface{}   `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError is the machine-readable error of a failed request.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp  time.Time `json:"timestamp"`
	Version    string    `json:"version,omitempty"`
	TotalCount int       `json:"total_count,omitempty"`
}

const apiVersion = "v1"

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	writeJSONWithMeta(w, r, status, data, nil)
}

func writeJSONWithMeta(w http.ResponseWriter, r *http.Request, status int, data interface{}, meta *ResponseMeta) {
	if meta == nil {
		meta = &ResponseMeta{}
	}
	writeEnvelope(w, status, JSONResponse{
		Success:   status >= 200 && status < 300,
		Data:      data,
		Meta:      meta,
		RequestID: getRequestID(r.Context()),
	})
}

// writeJSONError answers with an error envelope. The request ID is already
// in the X-Request-ID header.
func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeEnvelope(w, status, JSONResponse{
		Error: &APIError{Code: code, Message: message},
		Meta:  &ResponseMeta{},
	})
}

func writeEnvelope(w http.ResponseWriter, status int, resp JSONResponse) {
	resp.Meta.Timestamp = time.Now().UTC()
	resp.Meta.Version = apiVersion

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
