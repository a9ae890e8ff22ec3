package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"

	"noro/pkg/api"

	"github.com/go-resty/resty/v2"
)

const (
	GeneratePath = "/generate/"
	TrainPath    = "/train/"
	HealthPath   = "/"
)

// Client performs task requests against the backend (or a relay in front of
// it). Every call is a single attempt; nothing is retried.
type Client struct {
	http *resty.Client
}

func NewClient(baseUrl string) *Client {
	return &Client{
		http: resty.New().SetBaseURL(baseUrl).SetRetryCount(0),
	}
}

func (c *Client) BaseUrl() string {
	return c.http.BaseURL
}

func (c *Client) Generate(ctx context.Context, req api.GenerateRequest) (api.GenerateResponse, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetBody(req).
		Post(GeneratePath)

	return decodeResult(GeneratePath, res, err, checkGenerateResponse)
}

// Train uploads the dataset as a multipart form. The multipart writer picks the
// boundary and sets the Content-Type itself.
func (c *Client) Train(ctx context.Context, form *TrainingForm) (api.TrainingResponse, error) {
	if form == nil || form.File == nil || form.File.Content == nil {
		return api.TrainingResponse{}, &ValidationError{Field: api.FileField, Message: "Please select a training dataset file"}
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetFormDataFromValues(form.Fields).
		SetFileReader(api.FileField, form.File.Name, form.File.Content).
		Post(TrainPath)

	return decodeResult(TrainPath, res, err, checkTrainingResponse)
}

// Health checks that the backend answers its root endpoint.
func (c *Client) Health(ctx context.Context) error {
	res, err := c.http.R().SetContext(ctx).Get(HealthPath)
	if err != nil {
		return &TransportError{Endpoint: HealthPath, Err: err}
	}
	if !res.IsSuccess() {
		return newBackendError(res)
	}
	return nil
}

func statusText(res *resty.Response) string {
	// res.Status() is "502 Bad Gateway"; only the reason phrase is wanted.
	status := res.Status()
	if _, text, ok := strings.Cut(status, " "); ok && text != "" {
		return text
	}
	return http.StatusText(res.StatusCode())
}

func newBackendError(res *resty.Response) *BackendError {
	failure := &ResponseFailure{
		StatusCode: res.StatusCode(),
		StatusText: statusText(res),
		Body:       res.Body(),
	}
	return &BackendError{
		StatusCode: res.StatusCode(),
		Message:    NormalizeError(failure, ClientFallbackMessage),
	}
}

func decodeResult[T any](endpoint string, res *resty.Response, err error, check func(fields map[string]json.RawMessage, result *T) error) (T, error) {
	var result T

	if err != nil {
		slog.Error("request to backend failed", "endpoint", endpoint, "error", err)
		return result, &TransportError{Endpoint: endpoint, Err: err}
	}

	if !res.IsSuccess() {
		slog.Error("backend returned error", "endpoint", endpoint, "status_code", res.StatusCode(), "body", res.String())
		return result, newBackendError(res)
	}

	body := bytes.TrimSpace(res.Body())
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		if err == nil {
			err = errors.New("response body is not a json object")
		}
		slog.Error("error parsing response from backend", "endpoint", endpoint, "error", err)
		return result, &ProtocolError{Endpoint: endpoint, Err: err}
	}

	if err := json.Unmarshal(body, &result); err != nil {
		slog.Error("error parsing response from backend", "endpoint", endpoint, "error", err)
		return result, &ProtocolError{Endpoint: endpoint, Err: err}
	}

	if err := check(fields, &result); err != nil {
		slog.Error("unexpected response shape from backend", "endpoint", endpoint, "error", err)
		return result, &ProtocolError{Endpoint: endpoint, Err: err}
	}

	return result, nil
}

func requireFields(fields map[string]json.RawMessage, names ...string) error {
	for _, name := range names {
		if _, ok := fields[name]; !ok {
			return fmt.Errorf("missing field %q", name)
		}
	}
	return nil
}

func checkGenerateResponse(fields map[string]json.RawMessage, _ *api.GenerateResponse) error {
	return requireFields(fields, "generated_text")
}

func checkTrainingResponse(fields map[string]json.RawMessage, res *api.TrainingResponse) error {
	if err := requireFields(fields, "message", "test_perplexity", "test_accuracy", "model_path"); err != nil {
		return err
	}
	if math.IsNaN(res.TestPerplexity) || res.TestPerplexity < 0 {
		return fmt.Errorf("test_perplexity %v is negative", res.TestPerplexity)
	}
	if math.IsNaN(res.TestAccuracy) || res.TestAccuracy < 0 || res.TestAccuracy > 1 {
		return fmt.Errorf("test_accuracy %v is outside [0, 1]", res.TestAccuracy)
	}
	return nil
}
