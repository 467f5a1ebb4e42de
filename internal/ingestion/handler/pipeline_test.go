package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThaoDoan2/ElasticClient/internal/auth/apikey"
	"github.com/ThaoDoan2/ElasticClient/internal/auth/ratelimit"
	"github.com/ThaoDoan2/ElasticClient/internal/ingestion/publisher"
	"github.com/ThaoDoan2/ElasticClient/internal/store"
	"github.com/ThaoDoan2/ElasticClient/internal/telemetry"
	"github.com/ThaoDoan2/ElasticClient/pkg/config"
	"github.com/ThaoDoan2/ElasticClient/pkg/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore stands in for Elasticsearch behind a direct-mode publisher.
type memStore struct {
	mu   sync.Mutex
	docs map[string]telemetry.Record
}

func (m *memStore) IndexRecord(_ context.Context, id string, rec telemetry.Record) (*store.IndexResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[id] = rec
	return &store.IndexResult{ID: id, Result: "created"}, nil
}

func (m *memStore) BulkIndex(_ context.Context, docs []store.BulkDoc) ([]error, error) {
	return make([]error, len(docs)), nil
}

func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) Delete(_ context.Context, _ string, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
	return nil
}

// newPipeline wires the handler the way cmd/ingestion does, minus the
// network listener.
func newPipeline(t *testing.T, perMinute int) (http.Handler, *memStore) {
	t.Helper()
	st := &memStore{docs: map[string]telemetry.Record{}}
	cfg := config.IngestionConfig{Mode: config.ModeDirect, MaxBodyBytes: 1 << 16, MaxBatchSize: 10}
	pub, err := publisher.NewFromConfig(cfg, st, nil, nil)
	require.NoError(t, err)

	limiter := ratelimit.New(time.Minute)
	t.Cleanup(limiter.Close)

	mux := http.NewServeMux()
	New(pub, st, cfg, nil).Register(mux)
	chain := middleware.Chain(mux,
		middleware.RequestID,
		middleware.Auth(apikey.NewStatic("changeme-123456", perMinute), "X-API-KEY"),
		middleware.RateLimit(limiter),
	)
	return chain, st
}

func send(srv http.Handler, method, path, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set("X-API-KEY", key)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestPipelineStoresAuthenticatedEvents(t *testing.T) {
	srv, st := newPipeline(t, 0)

	rec := send(srv, http.MethodPost, "/logEvent", "changeme-123456",
		`{"eventType":"level","userId":"u1","status":"win","gameLevel":4,"date":"2024-03-01T10:00:00.000Z"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "Logged LevelPlay event")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	require.Len(t, st.docs, 1)
	for id, doc := range st.docs {
		assert.True(t, strings.HasPrefix(id, telemetry.CollectionLevelPlay+"_"), id)
		assert.Equal(t, telemetry.KindLevelPlay, doc.Kind())
	}
}

func TestPipelineRejectsBeforeRouting(t *testing.T) {
	srv, st := newPipeline(t, 0)

	// auth runs before the method check, so a GET without a key is a 401
	assert.Equal(t, http.StatusUnauthorized, send(srv, http.MethodGet, "/logEvent", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, send(srv, http.MethodPost, "/logEvent", "wrong", `{}`).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, send(srv, http.MethodGet, "/logEvent", "changeme-123456", "").Code)
	assert.Empty(t, st.docs)
}

func TestPipelineRateLimitsPerKey(t *testing.T) {
	srv, _ := newPipeline(t, 2)
	body := `{"eventType":"rewarded","userId":"u1","placement":"shop"}`

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, send(srv, http.MethodPost, "/logEvent", "changeme-123456", body).Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
}
