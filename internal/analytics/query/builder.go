package query

import "github.com/ThaoDoan2/ElasticClient/internal/telemetry"

// Aggregation names shared by the builders and the result readers.
const (
	AggByDate      = "by_date"
	AggByProduct   = "by_product"
	AggByPlacement = "by_placement"
	AggByLevel     = "by_level"
	AggRevenue     = "revenue"
	AggUsers       = "users"
	AggAvgDuration = "avg_duration"
	AggValues      = "values"
)

const esDateFormat = "yyyy-MM-dd"

// levelBuckets caps per-level terms aggregations.
const levelBuckets = 500

// Body wraps filters and aggregations into a size-0 search body.
func Body(filters []any, aggs map[string]any) map[string]any {
	q := map[string]any{"match_all": map[string]any{}}
	if len(filters) > 0 {
		q = map[string]any{"bool": map[string]any{"filter": filters}}
	}
	return map[string]any{
		"size":  0,
		"query": q,
		"aggs":  aggs,
	}
}

// Filters returns the date range and the country, version and platform
// filters of p. Empty lists add nothing.
func (p Params) Filters() []any {
	filters := []any{p.DateRange()}
	for _, f := range []map[string]any{
		Terms("country.keyword", p.Countries),
		Terms("gameVersion.keyword", p.GameVersions),
		Terms("platform.keyword", p.Platforms),
	} {
		if f != nil {
			filters = append(filters, f)
		}
	}
	return filters
}

// DateRange covers From through the end of To. lte with a day format
// rounds up to the last millisecond of that day.
func (p Params) DateRange() map[string]any {
	return map[string]any{
		"range": map[string]any{
			"date": map[string]any{
				"gte":    p.From.Format(telemetry.DateLayout),
				"lte":    p.To.Format(telemetry.DateLayout),
				"format": esDateFormat,
			},
		},
	}
}

// DateHistogram buckets by calendar day over the whole range, including
// empty days.
func (p Params) DateHistogram(sub map[string]any) map[string]any {
	agg := map[string]any{
		"date_histogram": map[string]any{
			"field":             "date",
			"calendar_interval": "day",
			"format":            esDateFormat,
			"min_doc_count":     0,
			"extended_bounds": map[string]any{
				"min": p.From.Format(telemetry.DateLayout),
				"max": p.To.Format(telemetry.DateLayout),
			},
		},
	}
	if len(sub) > 0 {
		agg["aggs"] = sub
	}
	return agg
}

// Terms filters field on values: a term query for one value, terms for
// several and nil for none.
func Terms(field string, values []string) map[string]any {
	switch len(values) {
	case 0:
		return nil
	case 1:
		return map[string]any{"term": map[string]any{field: values[0]}}
	default:
		return map[string]any{"terms": map[string]any{field: values}}
	}
}

// LevelRange bounds field by MinLevel and MaxLevel, or returns nil when
// neither is set.
func (p Params) LevelRange(field string) map[string]any {
	if p.MinLevel == nil && p.MaxLevel == nil {
		return nil
	}
	bounds := map[string]any{}
	if p.MinLevel != nil {
		bounds["gte"] = *p.MinLevel
	}
	if p.MaxLevel != nil {
		bounds["lte"] = *p.MaxLevel
	}
	return map[string]any{"range": map[string]any{field: bounds}}
}

func termsAgg(field string, size int, sub map[string]any) map[string]any {
	agg := map[string]any{"terms": map[string]any{"field": field, "size": size}}
	if len(sub) > 0 {
		agg["aggs"] = sub
	}
	return agg
}

func keyOrderedTerms(field string, size int, sub map[string]any) map[string]any {
	agg := termsAgg(field, size, sub)
	agg["terms"].(map[string]any)["order"] = map[string]any{"_key": "asc"}
	return agg
}

func appendNonNil(filters []any, extra ...map[string]any) []any {
	for _, f := range extra {
		if f != nil {
			filters = append(filters, f)
		}
	}
	return filters
}

// PurchasesByDate counts purchases per product per day.
func PurchasesByDate(p Params, productBuckets int) map[string]any {
	filters := appendNonNil(p.Filters(), Terms("productId.keyword", p.Products))
	return Body(filters, map[string]any{
		AggByDate: p.DateHistogram(map[string]any{
			AggByProduct: termsAgg("productId.keyword", productBuckets, nil),
		}),
	})
}

// RevenueByDate sums price per product per day.
func RevenueByDate(p Params, productBuckets int) map[string]any {
	filters := appendNonNil(p.Filters(), Terms("productId.keyword", p.Products))
	return Body(filters, map[string]any{
		AggByDate: p.DateHistogram(map[string]any{
			AggByProduct: termsAgg("productId.keyword", productBuckets, map[string]any{
				AggRevenue: map[string]any{"sum": map[string]any{"field": "price"}},
			}),
		}),
	})
}

// PlacementRatio counts purchases and sums revenue per placement.
func PlacementRatio(p Params, buckets int) map[string]any {
	filters := appendNonNil(p.Filters(), Terms("productId.keyword", p.Products))
	return Body(filters, map[string]any{
		AggByPlacement: termsAgg("placement.keyword", buckets, map[string]any{
			AggRevenue: map[string]any{"sum": map[string]any{"field": "price"}},
		}),
	})
}

func (p Params) rewardedFilters() []any {
	return appendNonNil(p.Filters(),
		Terms("placement.keyword", p.Placements),
		p.LevelRange("levelNumber"),
	)
}

// RewardedByDate counts rewarded-ad views per placement per day.
func RewardedByDate(p Params, buckets int) map[string]any {
	return Body(p.rewardedFilters(), map[string]any{
		AggByDate: p.DateHistogram(map[string]any{
			AggByPlacement: termsAgg("placement.keyword", buckets, nil),
		}),
	})
}

// RewardedByLevel counts rewarded-ad views per placement per numeric level.
func RewardedByLevel(p Params, buckets int) map[string]any {
	return Body(p.rewardedFilters(), map[string]any{
		AggByLevel: keyOrderedTerms("levelNumber", levelBuckets, map[string]any{
			AggByPlacement: termsAgg("placement.keyword", buckets, nil),
		}),
	})
}

// LevelStatus counts level-play events with the given status per game
// level, with distinct users and mean duration.
func LevelStatus(p Params, status string) map[string]any {
	filters := appendNonNil(p.Filters(),
		Terms("status.keyword", []string{status}),
		p.LevelRange("gameLevel"),
	)
	return Body(filters, map[string]any{
		AggByLevel: keyOrderedTerms("gameLevel", levelBuckets, map[string]any{
			AggUsers:       map[string]any{"cardinality": map[string]any{"field": "userId.keyword"}},
			AggAvgDuration: map[string]any{"avg": map[string]any{"field": "duration"}},
		}),
	})
}

// Options lists the distinct values of a keyword field in ascending order.
func Options(field string, size int) map[string]any {
	return Body(nil, map[string]any{
		AggValues: keyOrderedTerms(field+".keyword", size, nil),
	})
}
