package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"noro/internal/client"
	"noro/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/go-resty/resty/v2"
)

const backendErrorMessage = "Backend error"

// Relay forwards task requests to the backend and passes successful answers
// back verbatim. Error answers are reduced to a {detail} body. It holds no state
// between requests and never retries or caches.
type Relay struct {
	backend *resty.Client
}

func NewRelay(backendUrl string) *Relay {
	return &Relay{
		backend: resty.New().SetBaseURL(backendUrl).SetRetryCount(0),
	}
}

func (s *Relay) AddRoutes(r chi.Router) {
	r.Get("/health", RelayHandler(s.Health))
	r.Get("/health/backend", RelayHandler(s.BackendHealth))

	generate := RelayHandler(s.Generate)
	r.Post("/generate", generate)
	r.Post("/generate/", generate)

	train := RelayHandler(s.Train)
	r.Post("/train", train)
	r.Post("/train/", train)
}

func (s *Relay) Health(r *http.Request) (*relayedResponse, error) {
	return jsonResponse(http.StatusOK, api.HealthResponse{Status: "ok"})
}

func (s *Relay) BackendHealth(r *http.Request) (*relayedResponse, error) {
	res, err := s.backend.R().SetContext(r.Context()).Get(client.HealthPath)
	if err != nil {
		slog.Error("backend health check failed", "error", err)
		return nil, CodedErrorf(http.StatusBadGateway, "backend is unreachable")
	}
	if !res.IsSuccess() {
		failure := &client.ResponseFailure{StatusCode: res.StatusCode(), Body: res.Body()}
		return nil, CodedErrorf(http.StatusBadGateway, "%s", client.NormalizeError(failure, client.RelayFallbackMessage))
	}
	return jsonResponse(http.StatusOK, api.HealthResponse{Status: "ok"})
}

func (s *Relay) Generate(r *http.Request) (*relayedResponse, error) {
	if err := requireMediaType(r, "application/json"); err != nil {
		return nil, err
	}
	return s.forward(r, client.GeneratePath)
}

func (s *Relay) Train(r *http.Request) (*relayedResponse, error) {
	if err := requireMediaType(r, "multipart/form-data"); err != nil {
		return nil, err
	}
	return s.forward(r, client.TrainPath)
}

// forward streams the caller's body to the backend with its original
// Content-Type, so multipart boundaries survive untouched.
func (s *Relay) forward(r *http.Request, endpoint string) (*relayedResponse, error) {
	slog.Info("calling backend", "endpoint", endpoint)

	req := s.backend.R().
		SetContext(r.Context()).
		SetHeader("Content-Type", r.Header.Get("Content-Type")).
		SetBody(r.Body)
	if accept := r.Header.Get("Accept"); accept != "" {
		req.SetHeader("Accept", accept)
	}

	res, err := req.Post(endpoint)
	if err != nil {
		return nil, fmt.Errorf("error calling backend %s: %w", endpoint, err)
	}

	body := res.Body()
	contentType := res.Header().Get("Content-Type")

	if !res.IsSuccess() {
		slog.Error("backend returned error", "endpoint", endpoint, "status_code", res.StatusCode())
		detail := backendErrorMessage
		if !missingDetail(body) {
			failure := &client.ResponseFailure{StatusCode: res.StatusCode(), StatusText: reasonPhrase(res), Body: body}
			detail = client.NormalizeError(failure, client.RelayFallbackMessage)
		}
		return jsonResponse(res.StatusCode(), api.ErrorResponse{Detail: detail})
	}

	if !json.Valid(body) {
		slog.Error("backend returned malformed success body", "endpoint", endpoint, "status_code", res.StatusCode())
		return nil, CodedErrorf(http.StatusInternalServerError, "%s", client.RelayFallbackMessage)
	}

	return &relayedResponse{StatusCode: res.StatusCode(), ContentType: contentType, Body: body}, nil
}

// missingDetail reports whether an error body is JSON without a detail field.
// Only the detail of such bodies is passed on, never the rest of the object.
func missingDetail(body []byte) bool {
	if !json.Valid(body) {
		return false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return true
	}
	raw, ok := fields["detail"]
	return !ok || string(bytes.TrimSpace(raw)) == "null"
}

func reasonPhrase(res *resty.Response) string {
	if _, text, ok := strings.Cut(res.Status(), " "); ok && text != "" {
		return text
	}
	return http.StatusText(res.StatusCode())
}

func jsonResponse(code int, data any) (*relayedResponse, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &relayedResponse{StatusCode: code, ContentType: "application/json", Body: body}, nil
}
