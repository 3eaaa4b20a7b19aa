package druid

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// NetworkError means no response was received at all: connection refused,
// DNS failure, or the per-call timeout expiring. It always names the target
// URL.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("cannot reach druid at %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// APIError means a response was received but indicates failure. StatusCode
// is zero for synthesized errors that do not correspond to a single HTTP
// exchange (e.g. the status fallback probe failing too).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("druid api error: %s", e.Message)
	}
	return fmt.Sprintf("druid api error (HTTP %d): %s", e.StatusCode, e.Message)
}

// newAPIError classifies a non-2xx response. The message is taken from the
// body's "error" field, else its "message" field, else the HTTP status text.
func newAPIError(statusCode int, body []byte) *APIError {
	msg := extractErrorMessage(body)
	if msg == "" {
		msg = http.StatusText(statusCode)
	}
	return &APIError{StatusCode: statusCode, Message: msg}
}

func extractErrorMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Error != "" {
		return payload.Error
	}
	return payload.Message
}
