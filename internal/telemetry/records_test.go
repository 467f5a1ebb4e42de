package telemetry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, ok := ParseKind(string(k))
		assert.True(t, ok)
		assert.Equal(t, k, got)
	}
	_, ok := ParseKind("session")
	assert.False(t, ok)
}

func TestKindCollectionAndLabel(t *testing.T) {
	assert.Equal(t, "rewarded_ads", KindRewarded.Collection())
	assert.Equal(t, "iap", KindPurchase.Collection())
	assert.Equal(t, "level_play", KindLevelPlay.Collection())
	assert.Equal(t, "RewardedAds", KindRewarded.Label())
	assert.Equal(t, "IAP", KindPurchase.Label())
	assert.Equal(t, "LevelPlay", KindLevelPlay.Label())
	assert.Empty(t, Kind("x").Collection())
}

func TestNewDocumentID(t *testing.T) {
	id := KindPurchase.NewDocumentID()
	assert.Regexp(t, `^iap_[0-9a-f-]{36}$`, id)
	assert.NotEqual(t, id, KindPurchase.NewDocumentID())
}

func TestDecodeRewardedIgnoresUnknownFields(t *testing.T) {
	raw := []byte(`{"eventType":"rewarded","userId":"u1","level":"12","placement":"shop","date":"2024-03-05T10:00:00.000Z","extra":true}`)
	rec, err := Decode(KindRewarded, raw)
	require.NoError(t, err)

	ad, ok := rec.(*RewardedAd)
	require.True(t, ok)
	assert.Equal(t, "u1", ad.UserID)
	assert.Equal(t, time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC), ad.EventTime())
}

func TestDecodePurchaseRejectsUnknownFields(t *testing.T) {
	_, err := Decode(KindPurchase, []byte(`{"eventType":"iap","userId":"u1","productId":"gems","bogus":1}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
}

func TestDecodeUnknownKind(t *testing.T) {
	_, err := Decode(Kind("session"), []byte(`{}`))
	assert.EqualError(t, err, "unknown eventType: session")
}

func TestRewardedDocumentAddsLevelNumber(t *testing.T) {
	ad := &RewardedAd{UserID: "u1", Level: " 7 ", Placement: "revive"}
	out, err := json.Marshal(ad.Document())
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Equal(t, float64(7), doc["levelNumber"])
	assert.Equal(t, " 7 ", doc["level"])
	assert.NotContains(t, doc, "date")

	ad.Level = "boss"
	out, err = json.Marshal(ad.Document())
	require.NoError(t, err)
	assert.NotContains(t, string(out), "levelNumber")
}

func TestPurchaseDocumentForcesEventType(t *testing.T) {
	p := &Purchase{UserID: "u1", ProductID: "gems", EventType: "something"}
	out, err := json.Marshal(p.Document())
	require.NoError(t, err)
	assert.Contains(t, string(out), `"eventType":"iap"`)
}
