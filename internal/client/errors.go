package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

const (
	ClientFallbackMessage = "An unexpected error occurred"
	RelayFallbackMessage  = "Internal server error"

	transportMessage = "Unable to reach the backend, please check your connection and try again"
	protocolMessage  = "Received a malformed response from the backend"
	cancelledMessage = "The request was cancelled"
	timeoutMessage   = "The request timed out"
)

// ValidationError is raised before any network call when the request cannot be
// built from the given parameters.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// TransportError wraps failures to exchange a request with the backend at all.
// Its cause is kept for logging but is never shown to the user.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("request to %s failed: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// BackendError is a non-2xx response. Message is already normalized.
type BackendError struct {
	StatusCode int
	Message    string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Message)
}

// ProtocolError is a 2xx response whose body is not the expected result shape.
type ProtocolError struct {
	Endpoint string
	Err      error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("malformed response from %s: %v", e.Endpoint, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ResponseFailure is the raw shape of a non-2xx response before normalization.
type ResponseFailure struct {
	StatusCode int
	StatusText string
	Body       []byte
}

// Message returns the backend's detail when the body is a JSON object carrying
// one, otherwise a message derived from the status text.
func (f *ResponseFailure) Message() string {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(f.Body, &body); err == nil {
		if raw, ok := body["detail"]; ok {
			if detail := detailMessage(raw); detail != "" {
				return detail
			}
		}
	}
	return "Backend error: " + f.statusText()
}

func (f *ResponseFailure) statusText() string {
	if f.StatusText != "" {
		return f.StatusText
	}
	if text := http.StatusText(f.StatusCode); text != "" {
		return text
	}
	return fmt.Sprintf("status %d", f.StatusCode)
}

type validationIssue struct {
	Msg string `json:"msg"`
}

// detailMessage renders a detail value. Besides plain strings, backends built on
// FastAPI answer request validation failures with a list of {loc, msg, type}.
func detailMessage(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}

	var issues []validationIssue
	if err := json.Unmarshal(raw, &issues); err == nil {
		msgs := make([]string, 0, len(issues))
		for _, issue := range issues {
			if issue.Msg != "" {
				msgs = append(msgs, issue.Msg)
			}
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return ""
	}
	return compact.String()
}

// NormalizeError turns any failure value into a single display string. It never
// panics; values it does not recognize produce fallback.
func NormalizeError(failure any, fallback string) (msg string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("recovered while normalizing error", "panic", r)
			msg = fallback
		}
	}()

	switch f := failure.(type) {
	case nil:
		return fallback
	case *ResponseFailure:
		if f == nil {
			return fallback
		}
		return f.Message()
	case string:
		if f == "" {
			return fallback
		}
		return f
	case error:
		return errorMessage(f, fallback)
	default:
		return fallback
	}
}

func errorMessage(err error, fallback string) string {
	var validationErr *ValidationError
	var backendErr *BackendError
	var protocolErr *ProtocolError
	var transportErr *TransportError

	switch {
	case errors.As(err, &validationErr):
		if validationErr == nil || validationErr.Message == "" {
			return fallback
		}
		return validationErr.Message
	case errors.As(err, &backendErr):
		if backendErr == nil || backendErr.Message == "" {
			return fallback
		}
		return backendErr.Message
	case errors.As(err, &protocolErr):
		return protocolMessage
	case errors.Is(err, context.Canceled):
		return cancelledMessage
	case errors.Is(err, context.DeadlineExceeded):
		return timeoutMessage
	case errors.As(err, &transportErr):
		return transportMessage
	}

	if msg := err.Error(); msg != "" {
		return msg
	}
	return fallback
}
