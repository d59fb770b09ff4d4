package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bissquit/outbox-dispatcher/internal/pkg/ctxlog"
	"github.com/bissquit/outbox-dispatcher/internal/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errGone = errors.New("gone")

func TestHandleError(t *testing.T) {
	mappings := []ErrorMapping{
		{Error: errGone, Status: http.StatusNotFound},
	}

	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{name: "mapped", err: errGone, status: http.StatusNotFound, message: "gone"},
		{name: "wrapped", err: errors.Join(errors.New("lookup"), errGone), status: http.StatusNotFound},
		{name: "unmapped", err: errors.New("boom"), status: http.StatusInternalServerError, message: "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			HandleError(context.Background(), rec, tt.err, mappings)
			assert.Equal(t, tt.status, rec.Code)

			if tt.message == "" {
				return
			}
			var body struct {
				Error struct {
					Message string `json:"message"`
				} `json:"error"`
			}
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.message, body.Error.Message)
		})
	}
}

func TestRequestLoggerMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLoggerMiddleware(logger))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		Text(w, http.StatusOK, "OK")
	})
	r.Post("/control/pause", func(w http.ResponseWriter, r *http.Request) {
		ctxlog.FromContext(r.Context()).Info("paused")
		Success(w, http.StatusOK, map[string]bool{"paused": true})
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Empty(t, buf.String(), "successful probes are logged at debug")

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/control/pause", nil))
	out := buf.String()
	assert.Contains(t, out, `"msg":"paused"`)
	assert.Contains(t, out, `"msg":"http request"`)
	assert.Contains(t, out, `"request_id"`)
	assert.Contains(t, out, `"path":"/control/pause"`)
}

func TestMetricsMiddleware_RecordsRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware)
	r.Post("/control/{action}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/control/pause", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	count := testutil.CollectAndCount(metrics.HTTPRequestDuration)
	assert.GreaterOrEqual(t, count, 1)
}
