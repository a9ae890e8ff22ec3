package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"

	"noro/internal/client"
	"noro/pkg/api"
)

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

func CodedErrorf(code int, format string, args ...any) error {
	return &codedError{err: fmt.Errorf(format, args...), code: code}
}

// relayedResponse is a backend response passed back to the caller unchanged.
type relayedResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// RelayHandler writes the relayed response, or the error as a {detail} body.
// Errors without a code are reported as a generic internal server error so
// that no internals reach the caller.
func RelayHandler(handler func(r *http.Request) (*relayedResponse, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := handler(r)
		if err != nil {
			var cerr *codedError
			if errors.As(err, &cerr) {
				if cerr.code == http.StatusInternalServerError {
					slog.Error("internal server error received in endpoint", "error", err)
				}
				WriteDetail(w, cerr.code, err.Error())
			} else {
				slog.Error("recieved non coded error from endpoint", "error", err)
				WriteDetail(w, http.StatusInternalServerError, client.RelayFallbackMessage)
			}
			return
		}

		if res.ContentType != "" {
			w.Header().Set("Content-Type", res.ContentType)
		}
		w.WriteHeader(res.StatusCode)
		if _, err := w.Write(res.Body); err != nil {
			slog.Error("error writing relayed response", "error", err)
		}
	}
}

func WriteDetail(w http.ResponseWriter, code int, detail string) {
	WriteJsonResponse(w, code, api.ErrorResponse{Detail: detail})
}

func WriteJsonResponse(w http.ResponseWriter, code int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		slog.Error("error serializing response body", "error", err)
		http.Error(w, fmt.Sprintf("error serializing response body: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(body); err != nil {
		slog.Error("error writing response body", "error", err)
	}
}

func requireMediaType(r *http.Request, expected string) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != expected {
		return CodedErrorf(http.StatusUnsupportedMediaType, "expected a %s request body", expected)
	}
	return nil
}
