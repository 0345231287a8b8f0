package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/pbinitiative/zenexec/internal/appcontext"
	"github.com/pbinitiative/zenexec/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripEmptyQueryParams(t *testing.T) {
	// given
	var query string
	handler := StripEmptyQueryParams()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
	}))
	req := httptest.NewRequest(http.MethodGet, "/jobs?type=&state=%20&name=worker&name=", nil)

	// when
	handler.ServeHTTP(httptest.NewRecorder(), req)

	// then
	assert.Equal(t, "name=worker", query)
}

func TestOpentelemetryPropagatesRequestId(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		expected string
	}{
		{"given id is kept", "order-1", "order-1"},
		{"missing id is generated", "", ""},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			// given
			var fromCtx string
			r := chi.NewRouter()
			r.Use(Opentelemetry(config.Config{Tracing: config.Tracing{Name: "test"}}))
			r.Post("/v1/messages", func(w http.ResponseWriter, r *http.Request) {
				fromCtx, _ = appcontext.GetRequestId(r.Context())
				w.WriteHeader(http.StatusAccepted)
			})
			req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
			if test.header != "" {
				req.Header.Set(RequestIdHeader, test.header)
			}
			rec := httptest.NewRecorder()

			// when
			r.ServeHTTP(rec, req)

			// then
			require.Equal(t, http.StatusAccepted, rec.Code)
			require.NotEmpty(t, fromCtx)
			assert.Equal(t, fromCtx, rec.Header().Get(RequestIdHeader))
			if test.expected != "" {
				assert.Equal(t, test.expected, fromCtx)
			}
		})
	}
}

func TestCorsAnswersPreflight(t *testing.T) {
	// given
	handler := Cors(config.HttpServer{CorsOrigins: []string{"https://modeler.example.com"}})(http.NotFoundHandler())
	req := httptest.NewRequest(http.MethodOptions, "/v1/process-instances", nil)
	req.Header.Set("Origin", "https://modeler.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()

	// when
	handler.ServeHTTP(rec, req)

	// then
	assert.Equal(t, "https://modeler.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}
