package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ThaoDoan2/ElasticClient/internal/auth/apikey"
	"github.com/ThaoDoan2/ElasticClient/internal/auth/ratelimit"
	"github.com/ThaoDoan2/ElasticClient/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

type validatorFunc func(ctx context.Context, key string) (*apikey.KeyInfo, error)

func (f validatorFunc) Validate(ctx context.Context, key string) (*apikey.KeyInfo, error) {
	return f(ctx, key)
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestRequestIDGeneratedAndPropagated(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", seen)
}

func TestAuth(t *testing.T) {
	h := Auth(apikey.NewStatic("changeme-123456", 10), "X-API-KEY")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "shared-secret", GetKeyInfo(r.Context()).Name)
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		path   string
		key    string
		status int
	}{
		{"valid", "/logEvent", "changeme-123456", http.StatusOK},
		{"missing", "/logEvent", "", http.StatusUnauthorized},
		{"wrong", "/logEvent", "nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.key != "" {
				req.Header.Set("X-API-KEY", tt.key)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusUnauthorized {
				assert.Equal(t, MsgInvalidKey, errorBody(t, rec))
			}
		})
	}
}

func TestAuthSkipsHealthAndMapsErrors(t *testing.T) {
	expired := Auth(validatorFunc(func(context.Context, string) (*apikey.KeyInfo, error) {
		return nil, apikey.ErrExpiredKey
	}), "X-API-KEY")(okHandler)

	rec := httptest.NewRecorder()
	expired.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/logEvent", nil)
	req.Header.Set("X-API-KEY", "old")
	rec = httptest.NewRecorder()
	expired.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, MsgExpiredKey, errorBody(t, rec))

	broken := Auth(validatorFunc(func(context.Context, string) (*apikey.KeyInfo, error) {
		return nil, errors.New("db down")
	}), "X-API-KEY")(okHandler)
	rec = httptest.NewRecorder()
	broken.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRateLimit(t *testing.T) {
	limiter := ratelimit.New(time.Minute)
	t.Cleanup(limiter.Close)
	h := Chain(okHandler,
		Auth(apikey.NewStatic("k", 2), "X-API-KEY"),
		RateLimit(limiter),
	)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/logEvent", nil)
		req.Header.Set("X-API-KEY", "k")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
}

func TestCORS(t *testing.T) {
	h := CORS(DefaultCORSConfig([]string{"https://dash.example"}, "X-API-KEY"))(okHandler)

	req := httptest.NewRequest(http.MethodOptions, "/api/iap", nil)
	req.Header.Set("Origin", "https://dash.example")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dash.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-API-KEY")

	req = httptest.NewRequest(http.MethodGet, "/api/iap", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestTimeout(t *testing.T) {
	slow := Timeout(10 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	slow.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/iap", nil))
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, "request timeout", errorBody(t, rec))
}

func TestTimeoutIgnoresLateWrites(t *testing.T) {
	finished := make(chan struct{})
	h := Timeout(10 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(finished)
		<-r.Context().Done()
		for i := 0; i < 100; i++ {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, err := w.Write([]byte(`{"error":"late"}`))
		assert.ErrorIs(t, err, http.ErrHandlerTimeout)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/iap", nil))
	<-finished

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, "request timeout", errorBody(t, rec))
}

func TestTimeoutPassesFastResponses(t *testing.T) {
	h := Timeout(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Chart", "purchases")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("ok"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/iap", nil))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "purchases", rec.Header().Get("X-Chart"))
	assert.Equal(t, "ok", rec.Body.String())

	h = Timeout(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("implicit"))
	}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/iap", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "implicit", rec.Body.String())
}

func TestMetricsNormalizesDocumentRoute(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	h := Metrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/logEvent/iap/iap_123", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("DELETE", "/logEvent/{eventType}/{id}", "404")))
	assert.Equal(t, "/logEvent", normalizePath("/logEvent"))
}
