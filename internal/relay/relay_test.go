package relay_test

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"noro/internal/relay"
	"noro/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Path        string
	ContentType string
	Body        []byte
}

func newBackend(t *testing.T, status int, contentType, body string) (*httptest.Server, chan capturedRequest, *atomic.Int32) {
	captured := make(chan capturedRequest, 10)
	calls := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		data, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		captured <- capturedRequest{Path: r.URL.Path, ContentType: r.Header.Get("Content-Type"), Body: data}

		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, captured, calls
}

func newRouter(backendUrl string) chi.Router {
	router := chi.NewRouter()
	relay.NewRelay(backendUrl).AddRoutes(router)
	return router
}

func multipartBody(t *testing.T) (*bytes.Buffer, string) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "corpus.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte("text\nhello\n"))
	require.NoError(t, err)
	require.NoError(t, writer.WriteField("epochs", "3"))
	require.NoError(t, writer.Close())
	return &buf, writer.FormDataContentType()
}

func TestRelayGenerate(t *testing.T) {
	backend, captured, calls := newBackend(t, http.StatusOK, "application/json", `{"generated_text":"world"}`)
	router := newRouter(backend.URL)

	body := `{"text":"hello","length":100,"seq_len":50}`
	req := httptest.NewRequest(http.MethodPost, "/generate/", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code, "recieved response: "+rec.Body.String())
	assert.JSONEq(t, `{"generated_text":"world"}`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	forwarded := <-captured
	assert.Equal(t, "/generate/", forwarded.Path)
	assert.Equal(t, "application/json", forwarded.ContentType)
	assert.Equal(t, body, string(forwarded.Body))
	assert.EqualValues(t, 1, calls.Load())
}

func TestRelayTrain(t *testing.T) {
	result := `{"message":"Training completed","test_perplexity":3.2,"test_accuracy":0.61,"model_path":"m.pt","public_url":"https://example.com/m.pt"}`
	backend, captured, _ := newBackend(t, http.StatusOK, "application/json", result)
	router := newRouter(backend.URL)

	body, contentType := multipartBody(t)
	sent := append([]byte(nil), body.Bytes()...)

	req := httptest.NewRequest(http.MethodPost, "/train/", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code, "recieved response: "+rec.Body.String())
	var response api.TrainingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "https://example.com/m.pt", response.PublicUrl)

	forwarded := <-captured
	assert.Equal(t, "/train/", forwarded.Path)
	assert.Equal(t, contentType, forwarded.ContentType)
	assert.Equal(t, sent, forwarded.Body)
}

func TestRelayErrors(t *testing.T) {
	t.Run("JsonErrorDetailRelayed", func(t *testing.T) {
		backend, _, _ := newBackend(t, http.StatusUnprocessableEntity, "application/json", `{"detail":"dataset too small","trace":"x"}`)
		router := newRouter(backend.URL)

		body, contentType := multipartBody(t)
		req := httptest.NewRequest(http.MethodPost, "/train/", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"detail":"dataset too small"}`, rec.Body.String())
	})

	t.Run("JsonErrorWithoutDetail", func(t *testing.T) {
		backend, _, _ := newBackend(t, http.StatusBadRequest, "application/json", `{"error":"nope","trace":"x"}`)
		router := newRouter(backend.URL)

		req := httptest.NewRequest(http.MethodPost, "/generate/", bytes.NewReader([]byte(`{"text":"hi"}`)))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"detail":"Backend error"}`, rec.Body.String())
		assert.NotContains(t, rec.Body.String(), "trace")
	})

	t.Run("JsonErrorNullDetail", func(t *testing.T) {
		backend, _, _ := newBackend(t, http.StatusInternalServerError, "application/json", `{"detail":null}`)
		router := newRouter(backend.URL)

		req := httptest.NewRequest(http.MethodPost, "/generate/", bytes.NewReader([]byte(`{"text":"hi"}`)))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.JSONEq(t, `{"detail":"Backend error"}`, rec.Body.String())
	})

	t.Run("ValidationDetailList", func(t *testing.T) {
		backend, _, _ := newBackend(t, http.StatusUnprocessableEntity, "application/json",
			`{"detail":[{"loc":["body","text"],"msg":"field required","type":"value_error.missing"}]}`)
		router := newRouter(backend.URL)

		req := httptest.NewRequest(http.MethodPost, "/generate/", bytes.NewReader([]byte(`{"text":"hi"}`)))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.JSONEq(t, `{"detail":"field required"}`, rec.Body.String())
	})

	t.Run("PlainTextErrorNormalized", func(t *testing.T) {
		backend, _, calls := newBackend(t, http.StatusBadGateway, "text/html", "<html>oops</html>")
		router := newRouter(backend.URL)

		req := httptest.NewRequest(http.MethodPost, "/generate/", bytes.NewReader([]byte(`{"text":"hi"}`)))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		var response api.ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
		assert.Equal(t, "Backend error: Bad Gateway", response.Detail)
		assert.EqualValues(t, 1, calls.Load(), "relay must not retry")
	})

	t.Run("MalformedSuccessBody", func(t *testing.T) {
		backend, _, _ := newBackend(t, http.StatusOK, "text/plain", "not json")
		router := newRouter(backend.URL)

		req := httptest.NewRequest(http.MethodPost, "/generate/", bytes.NewReader([]byte(`{"text":"hi"}`)))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.JSONEq(t, `{"detail":"Internal server error"}`, rec.Body.String())
	})

	t.Run("BackendUnreachable", func(t *testing.T) {
		backend := httptest.NewServer(http.NotFoundHandler())
		url := backend.URL
		backend.Close()
		router := newRouter(url)

		req := httptest.NewRequest(http.MethodPost, "/generate/", bytes.NewReader([]byte(`{"text":"hi"}`)))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.JSONEq(t, `{"detail":"Internal server error"}`, rec.Body.String())
	})

	t.Run("WrongBodyShape", func(t *testing.T) {
		backend, _, calls := newBackend(t, http.StatusOK, "application/json", `{}`)
		router := newRouter(backend.URL)

		req := httptest.NewRequest(http.MethodPost, "/train/", bytes.NewReader([]byte(`{"epochs":3}`)))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
		assert.EqualValues(t, 0, calls.Load())
	})
}

func TestRelayHealth(t *testing.T) {
	backend, _, _ := newBackend(t, http.StatusOK, "application/json", `{"status":"ok"}`)
	router := newRouter(backend.URL)

	for _, path := range []string{"/health", "/health/backend"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	}

	down, _, _ := newBackend(t, http.StatusServiceUnavailable, "", "")
	router = newRouter(down.URL)

	req := httptest.NewRequest(http.MethodGet, "/health/backend", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"detail":"Backend error: Service Unavailable"}`, rec.Body.String())
}
