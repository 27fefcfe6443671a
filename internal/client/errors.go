package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"syscall"
)

// User-facing messages for failures where no response was received.
const (
	msgTimeout     = "Request timeout. Please check your internet connection and try again."
	msgNetwork     = "Network error. Please check your internet connection."
	msgUnreachable = "Unable to connect to the server. Please try again later."
)

// retryableStatus lists the HTTP statuses worth another attempt.
var retryableStatus = map[int]bool{
	408: true,
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// statusMessages are the fallbacks used when the response body carries no message.
var statusMessages = map[int]string{
	400: "Invalid request. Please check your input and try again.",
	401: "Authentication required. Please log in and try again.",
	403: "Access denied. You don't have permission to perform this action.",
	404: "The requested resource was not found.",
	408: "Request timeout. Please try again.",
	429: "Too many requests. Please wait a moment and try again.",
	500: "Server error. Please try again later.",
	502: "Bad gateway. The server is temporarily unavailable.",
	503: "Service unavailable. Please try again later.",
	504: "Gateway timeout. Please try again later.",
}

// NetworkError is returned when a request never produced a response.
// It is always retryable.
type NetworkError struct {
	Message string
	Timeout bool
	Err     error
}

func (e *NetworkError) Error() string { return e.Message }

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError is returned for any non-2xx response.
type HTTPError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *HTTPError) Error() string { return e.Message }

// Retryable reports whether the status is in the retryable set.
func (e *HTTPError) Retryable() bool {
	return retryableStatus[e.StatusCode]
}

// IsRetryable classifies err: network failures and retryable statuses are
// retryable, everything else is terminal.
func IsRetryable(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Retryable()
	}
	return false
}

// StatusCode returns the HTTP status carried by err, or 0 when no response
// was received.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// newNetworkError maps a transport failure to its connectivity message.
func newNetworkError(err error) *NetworkError {
	timeout := errors.Is(err, context.DeadlineExceeded)
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		timeout = true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		timeout = true
	}

	switch {
	case timeout:
		return &NetworkError{Message: msgTimeout, Timeout: true, Err: err}
	case errors.Is(err, syscall.ECONNREFUSED):
		return &NetworkError{Message: msgUnreachable, Err: err}
	default:
		return &NetworkError{Message: msgNetwork, Err: err}
	}
}

// newHTTPError derives the message for a non-2xx response. Priority:
// detail (string or {message}), error (string or {message}), message,
// then a static message keyed by status.
func newHTTPError(status int, body []byte) *HTTPError {
	return &HTTPError{
		StatusCode: status,
		Message:    errorMessage(status, body),
		Body:       body,
	}
}

func errorMessage(status int, body []byte) string {
	var payload map[string]any
	if len(body) > 0 && json.Unmarshal(body, &payload) == nil {
		if msg, ok := messageField(payload["detail"]); ok {
			return msg
		}
		if msg, ok := messageField(payload["error"]); ok {
			return msg
		}
		if msg, ok := payload["message"].(string); ok && msg != "" {
			return msg
		}
	}

	if msg, ok := statusMessages[status]; ok {
		return msg
	}
	return fmt.Sprintf("Request failed with status code %d", status)
}

// messageField accepts either a plain string or an object with a message key.
func messageField(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, val != ""
	case map[string]any:
		msg, ok := val["message"].(string)
		return msg, ok && msg != ""
	default:
		return "", false
	}
}
