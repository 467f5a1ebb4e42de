package query

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toJSON(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return string(raw)
}

func TestPurchasesByDateBody(t *testing.T) {
	p := Params{
		From:      day("2024-03-01"),
		To:        day("2024-03-03"),
		Countries: []string{"US"},
		Platforms: []string{"android", "ios"},
		Products:  []string{"gems_100"},
	}
	want := `{
		"size": 0,
		"query": {"bool": {"filter": [
			{"range": {"date": {"gte": "2024-03-01", "lte": "2024-03-03", "format": "yyyy-MM-dd"}}},
			{"term": {"country.keyword": "US"}},
			{"terms": {"platform.keyword": ["android", "ios"]}},
			{"term": {"productId.keyword": "gems_100"}}
		]}},
		"aggs": {"by_date": {
			"date_histogram": {
				"field": "date",
				"calendar_interval": "day",
				"format": "yyyy-MM-dd",
				"min_doc_count": 0,
				"extended_bounds": {"min": "2024-03-01", "max": "2024-03-03"}
			},
			"aggs": {"by_product": {"terms": {"field": "productId.keyword", "size": 20}}}
		}}
	}`
	assert.JSONEq(t, want, toJSON(t, PurchasesByDate(p, 20)))
}

func TestFiltersOmitEmptyValues(t *testing.T) {
	p := Params{From: day("2024-03-01"), To: day("2024-03-01")}
	assert.Len(t, p.Filters(), 1)
	assert.Nil(t, Terms("country.keyword", nil))
	assert.Nil(t, p.LevelRange("gameLevel"))
}

func TestLevelStatusBody(t *testing.T) {
	lo, hi := 2, 8
	p := Params{From: day("2024-03-01"), To: day("2024-03-02"), MinLevel: &lo, MaxLevel: &hi}
	body := toJSON(t, LevelStatus(p, "win"))

	assert.Contains(t, body, `{"term":{"status.keyword":"win"}}`)
	assert.Contains(t, body, `{"range":{"gameLevel":{"gte":2,"lte":8}}}`)
	assert.Contains(t, body, `"order":{"_key":"asc"}`)
	assert.Contains(t, body, `"cardinality":{"field":"userId.keyword"}`)
}

func TestRewardedFilters(t *testing.T) {
	lo := 5
	p := Params{From: day("2024-03-01"), To: day("2024-03-02"), Placements: []string{"shop", "daily"}, MinLevel: &lo}
	body := toJSON(t, RewardedByLevel(p, 100))

	assert.Contains(t, body, `{"terms":{"placement.keyword":["shop","daily"]}}`)
	assert.Contains(t, body, `{"range":{"levelNumber":{"gte":5}}}`)
	assert.Contains(t, body, `"by_level":{"aggs":{"by_placement"`)
}

func TestOptionsBody(t *testing.T) {
	want := `{
		"size": 0,
		"query": {"match_all": {}},
		"aggs": {"values": {"terms": {"field": "country.keyword", "size": 100, "order": {"_key": "asc"}}}}
	}`
	assert.JSONEq(t, want, toJSON(t, Options("country", 100)))
}
