package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/ThaoDoan2/ElasticClient/internal/ingestion"
	"github.com/ThaoDoan2/ElasticClient/internal/store"
	"github.com/ThaoDoan2/ElasticClient/internal/telemetry"
	apperrors "github.com/ThaoDoan2/ElasticClient/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type indexCall struct {
	collection, id string
	doc            string
}

type fakeIndexer struct {
	calls []indexCall
	err   error
}

func (f *fakeIndexer) Index(_ context.Context, collection, id string, doc any) (*store.IndexResult, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	f.calls = append(f.calls, indexCall{collection, id, string(raw)})
	if f.err != nil {
		return nil, f.err
	}
	return &store.IndexResult{ID: id, Index: collection, Result: "created"}, nil
}

func envelope(t *testing.T, rec telemetry.Record, id string) []byte {
	t.Helper()
	env, err := ingestion.NewEnvelope(id, rec, time.Now())
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return raw
}

func TestHandleMessageIndexesEnvelope(t *testing.T) {
	st := &fakeIndexer{}
	handle := HandleMessage(st, nil)

	rec := &telemetry.RewardedAd{UserID: "u1", Placement: "shop", Level: "12"}
	err := handle(context.Background(), []byte("rewarded_ads_1"), envelope(t, rec, "rewarded_ads_1"))
	require.NoError(t, err)

	require.Len(t, st.calls, 1)
	assert.Equal(t, "rewarded_ads", st.calls[0].collection)
	assert.Equal(t, "rewarded_ads_1", st.calls[0].id)
	assert.JSONEq(t, `{"userId":"u1","platform":"","country":"","gameVersion":"","level":"12","loggedDay":0,
		"placement":"shop","subPlacement":"","levelNumber":12}`, st.calls[0].doc)
}

func TestHandleMessageDropsMalformed(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"not json", `{{`},
		{"unknown kind", `{"kind":"session","id":"x","record":{}}`},
		{"missing id", `{"kind":"iap","record":{"userId":"u"}}`},
		{"missing record", `{"kind":"iap","id":"iap_1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &fakeIndexer{}
			err := HandleMessage(st, nil)(context.Background(), nil, []byte(tt.value))
			assert.NoError(t, err)
			assert.Empty(t, st.calls)
		})
	}
}

func TestHandleMessageStoreErrors(t *testing.T) {
	rec := &telemetry.LevelPlay{UserID: "u1", Status: "win"}

	st := &fakeIndexer{err: fmt.Errorf("index: %w", apperrors.ErrInvalidInput)}
	err := HandleMessage(st, nil)(context.Background(), nil, envelope(t, rec, "level_play_1"))
	assert.NoError(t, err, "rejected documents are dropped")

	st = &fakeIndexer{err: fmt.Errorf("index: %w", apperrors.ErrStoreUnavailable)}
	err = HandleMessage(st, nil)(context.Background(), nil, envelope(t, rec, "level_play_1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
}
