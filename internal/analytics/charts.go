// Package analytics answers the dashboard chart queries. Each chart is one
// size-0 aggregation search whose buckets are reshaped into the rows the
// dashboards plot.
package analytics

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ThaoDoan2/ElasticClient/internal/analytics/query"
	"github.com/ThaoDoan2/ElasticClient/internal/telemetry"
)

// Chart names, used in cache keys, metrics labels and span names.
const (
	ChartPurchasesByDate = "purchases-by-date"
	ChartRevenueByDate   = "revenue-by-date"
	ChartPlacementRatio  = "placement-ratio"
	ChartRewardedByDate  = "rewarded-by-date"
	ChartRewardedByLevel = "rewarded-by-level"
	ChartLevelStatus     = "level-status"
	ChartOptions         = "options"
)

// DayCounts is one day of purchase counts keyed by product.
type DayCounts struct {
	Date     string           `json:"date"`
	Products map[string]int64 `json:"products"`
}

// DayRevenue is one day of revenue keyed by product.
type DayRevenue struct {
	Date     string             `json:"date"`
	Products map[string]float64 `json:"products"`
}

// PlacementShare is the purchase volume of one placement. Ratio is its
// share of total revenue, or of the purchase count when nothing was paid.
type PlacementShare struct {
	Placement string  `json:"placement"`
	Count     int64   `json:"count"`
	Revenue   float64 `json:"revenue"`
	Ratio     float64 `json:"ratio"`
}

// DayPlacements is one day of rewarded-ad views keyed by placement.
type DayPlacements struct {
	Date       string           `json:"date"`
	Placements map[string]int64 `json:"placements"`
}

// LevelPlacements is the rewarded-ad views at one level keyed by placement.
type LevelPlacements struct {
	Level      int              `json:"level"`
	Placements map[string]int64 `json:"placements"`
}

// LevelStatusRow counts level-play events of one status at one level.
type LevelStatusRow struct {
	Level       int     `json:"level"`
	Count       int64   `json:"count"`
	Users       int64   `json:"users"`
	AvgDuration float64 `json:"avgDuration"`
}

// bucket is one aggregation bucket with its sub-aggregations kept raw.
type bucket struct {
	key      string
	docCount int64
	sub      map[string]json.RawMessage
}

func parseBuckets(raw json.RawMessage) ([]bucket, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var agg struct {
		Buckets []map[string]json.RawMessage `json:"buckets"`
	}
	if err := json.Unmarshal(raw, &agg); err != nil {
		return nil, fmt.Errorf("decoding buckets: %w", err)
	}
	out := make([]bucket, 0, len(agg.Buckets))
	for _, fields := range agg.Buckets {
		var b bucket
		if s, ok := fields["key_as_string"]; ok {
			if err := json.Unmarshal(s, &b.key); err != nil {
				return nil, fmt.Errorf("decoding bucket key: %w", err)
			}
		} else if k, ok := fields["key"]; ok {
			b.key = keyString(k)
		}
		if dc, ok := fields["doc_count"]; ok {
			if err := json.Unmarshal(dc, &b.docCount); err != nil {
				return nil, fmt.Errorf("decoding doc_count: %w", err)
			}
		}
		delete(fields, "key")
		delete(fields, "key_as_string")
		delete(fields, "doc_count")
		b.sub = fields
		out = append(out, b)
	}
	return out, nil
}

func keyString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func metricValue(raw json.RawMessage) float64 {
	var m struct {
		Value *float64 `json:"value"`
	}
	if err := json.Unmarshal(raw, &m); err != nil || m.Value == nil {
		return 0
	}
	return *m.Value
}

func termCounts(raw json.RawMessage) (map[string]int64, error) {
	buckets, err := parseBuckets(raw)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(buckets))
	for _, b := range buckets {
		out[b.key] = b.docCount
	}
	return out, nil
}

func roundTo(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

// days lists every day of p in order.
func days(p query.Params) []string {
	out := make([]string, 0, p.Days())
	for d := p.From; !d.After(p.To); d = d.Add(24 * time.Hour) {
		out = append(out, d.Format(telemetry.DateLayout))
	}
	return out
}

// byDay indexes date-histogram buckets by their formatted key.
func byDay(raw json.RawMessage) (map[string]bucket, error) {
	buckets, err := parseBuckets(raw)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bucket, len(buckets))
	for _, b := range buckets {
		out[b.key] = b
	}
	return out, nil
}

func reshapePurchasesByDate(p query.Params, aggs map[string]json.RawMessage) ([]DayCounts, error) {
	idx, err := byDay(aggs[query.AggByDate])
	if err != nil {
		return nil, err
	}
	out := make([]DayCounts, 0, p.Days())
	for _, d := range days(p) {
		row := DayCounts{Date: d, Products: map[string]int64{}}
		if b, ok := idx[d]; ok {
			if row.Products, err = termCounts(b.sub[query.AggByProduct]); err != nil {
				return nil, err
			}
		}
		out = append(out, row)
	}
	return out, nil
}

func reshapeRevenueByDate(p query.Params, aggs map[string]json.RawMessage) ([]DayRevenue, error) {
	idx, err := byDay(aggs[query.AggByDate])
	if err != nil {
		return nil, err
	}
	out := make([]DayRevenue, 0, p.Days())
	for _, d := range days(p) {
		row := DayRevenue{Date: d, Products: map[string]float64{}}
		if b, ok := idx[d]; ok {
			products, err := parseBuckets(b.sub[query.AggByProduct])
			if err != nil {
				return nil, err
			}
			for _, pb := range products {
				row.Products[pb.key] = roundTo(metricValue(pb.sub[query.AggRevenue]), 2)
			}
		}
		out = append(out, row)
	}
	return out, nil
}

func reshapePlacementRatio(aggs map[string]json.RawMessage) ([]PlacementShare, error) {
	buckets, err := parseBuckets(aggs[query.AggByPlacement])
	if err != nil {
		return nil, err
	}
	out := make([]PlacementShare, 0, len(buckets))
	var totalCount int64
	var totalRevenue float64
	for _, b := range buckets {
		rev := metricValue(b.sub[query.AggRevenue])
		out = append(out, PlacementShare{Placement: b.key, Count: b.docCount, Revenue: roundTo(rev, 2)})
		totalCount += b.docCount
		totalRevenue += rev
	}
	for i := range out {
		switch {
		case totalRevenue > 0:
			out[i].Ratio = roundTo(out[i].Revenue/totalRevenue, 4)
		case totalCount > 0:
			out[i].Ratio = roundTo(float64(out[i].Count)/float64(totalCount), 4)
		}
	}
	return out, nil
}

func reshapeRewardedByDate(p query.Params, aggs map[string]json.RawMessage) ([]DayPlacements, error) {
	idx, err := byDay(aggs[query.AggByDate])
	if err != nil {
		return nil, err
	}
	out := make([]DayPlacements, 0, p.Days())
	for _, d := range days(p) {
		row := DayPlacements{Date: d, Placements: map[string]int64{}}
		if b, ok := idx[d]; ok {
			if row.Placements, err = termCounts(b.sub[query.AggByPlacement]); err != nil {
				return nil, err
			}
		}
		out = append(out, row)
	}
	return out, nil
}

func reshapeRewardedByLevel(aggs map[string]json.RawMessage) ([]LevelPlacements, error) {
	buckets, err := parseBuckets(aggs[query.AggByLevel])
	if err != nil {
		return nil, err
	}
	out := make([]LevelPlacements, 0, len(buckets))
	for _, b := range buckets {
		level, err := levelKey(b.key)
		if err != nil {
			return nil, err
		}
		placements, err := termCounts(b.sub[query.AggByPlacement])
		if err != nil {
			return nil, err
		}
		out = append(out, LevelPlacements{Level: level, Placements: placements})
	}
	return out, nil
}

func reshapeLevelStatus(aggs map[string]json.RawMessage) ([]LevelStatusRow, error) {
	buckets, err := parseBuckets(aggs[query.AggByLevel])
	if err != nil {
		return nil, err
	}
	out := make([]LevelStatusRow, 0, len(buckets))
	for _, b := range buckets {
		level, err := levelKey(b.key)
		if err != nil {
			return nil, err
		}
		out = append(out, LevelStatusRow{
			Level:       level,
			Count:       b.docCount,
			Users:       int64(metricValue(b.sub[query.AggUsers])),
			AvgDuration: roundTo(metricValue(b.sub[query.AggAvgDuration]), 2),
		})
	}
	return out, nil
}

func reshapeOptions(aggs map[string]json.RawMessage) ([]string, error) {
	buckets, err := parseBuckets(aggs[query.AggValues])
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(buckets))
	for _, b := range buckets {
		if v := strings.TrimSpace(b.key); v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}

func levelKey(key string) (int, error) {
	v, err := strconv.ParseFloat(key, 64)
	if err != nil {
		return 0, fmt.Errorf("level bucket key %q: %w", key, err)
	}
	return int(v), nil
}
