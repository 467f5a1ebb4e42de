package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThaoDoan2/ElasticClient/internal/analytics/cache"
	"github.com/ThaoDoan2/ElasticClient/internal/analytics/query"
	"github.com/ThaoDoan2/ElasticClient/internal/store"
	"github.com/ThaoDoan2/ElasticClient/internal/telemetry"
	"github.com/ThaoDoan2/ElasticClient/pkg/config"
	"github.com/ThaoDoan2/ElasticClient/pkg/logger"
	"github.com/ThaoDoan2/ElasticClient/pkg/metrics"
	"github.com/ThaoDoan2/ElasticClient/pkg/resilience"
	"github.com/ThaoDoan2/ElasticClient/pkg/tracing"
)

// Level-play statuses charted by the gameplay endpoints.
const (
	StatusStart = "start"
	StatusWin   = "win"
	StatusLose  = "lose"
)

// Searcher runs a query DSL body against one collection.
type Searcher interface {
	Search(ctx context.Context, collection string, body any) (*store.SearchResponse, error)
}

type Service struct {
	store   Searcher
	cache   *cache.ChartCache
	cfg     config.AnalyticsConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewService creates the chart service. c may be nil, in which case every
// query goes to the store.
func NewService(st Searcher, c *cache.ChartCache, cfg config.AnalyticsConfig, m *metrics.Metrics) *Service {
	return &Service{
		store:   st,
		cache:   c,
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "analytics-service"),
	}
}

// Cache returns the chart cache, or nil when caching is off.
func (s *Service) Cache() *cache.ChartCache { return s.cache }

// PurchasesByDate counts purchases per product for every day of p.
func (s *Service) PurchasesByDate(ctx context.Context, p query.Params) ([]DayCounts, error) {
	return run(ctx, s, ChartPurchasesByDate, p.Key(), func(ctx context.Context) ([]DayCounts, error) {
		aggs, err := s.aggregate(ctx, telemetry.CollectionPurchases, query.PurchasesByDate(p, s.cfg.ProductBuckets))
		if err != nil {
			return nil, err
		}
		return reshapePurchasesByDate(p, aggs)
	})
}

// RevenueByDate sums purchase prices per product for every day of p.
func (s *Service) RevenueByDate(ctx context.Context, p query.Params) ([]DayRevenue, error) {
	return run(ctx, s, ChartRevenueByDate, p.Key(), func(ctx context.Context) ([]DayRevenue, error) {
		aggs, err := s.aggregate(ctx, telemetry.CollectionPurchases, query.RevenueByDate(p, s.cfg.ProductBuckets))
		if err != nil {
			return nil, err
		}
		return reshapeRevenueByDate(p, aggs)
	})
}

func (s *Service) PlacementRatio(ctx context.Context, p query.Params) ([]PlacementShare, error) {
	return run(ctx, s, ChartPlacementRatio, p.Key(), func(ctx context.Context) ([]PlacementShare, error) {
		aggs, err := s.aggregate(ctx, telemetry.CollectionPurchases, query.PlacementRatio(p, s.cfg.OptionBuckets))
		if err != nil {
			return nil, err
		}
		return reshapePlacementRatio(aggs)
	})
}

func (s *Service) RewardedByDate(ctx context.Context, p query.Params) ([]DayPlacements, error) {
	return run(ctx, s, ChartRewardedByDate, p.Key(), func(ctx context.Context) ([]DayPlacements, error) {
		aggs, err := s.aggregate(ctx, telemetry.CollectionRewardedAds, query.RewardedByDate(p, s.cfg.OptionBuckets))
		if err != nil {
			return nil, err
		}
		return reshapeRewardedByDate(p, aggs)
	})
}

func (s *Service) RewardedByLevel(ctx context.Context, p query.Params) ([]LevelPlacements, error) {
	return run(ctx, s, ChartRewardedByLevel, p.Key(), func(ctx context.Context) ([]LevelPlacements, error) {
		aggs, err := s.aggregate(ctx, telemetry.CollectionRewardedAds, query.RewardedByLevel(p, s.cfg.OptionBuckets))
		if err != nil {
			return nil, err
		}
		return reshapeRewardedByLevel(aggs)
	})
}

// LevelStatus counts level-play events with status per game level.
func (s *Service) LevelStatus(ctx context.Context, p query.Params, status string) ([]LevelStatusRow, error) {
	return run(ctx, s, ChartLevelStatus, status+"|"+p.Key(), func(ctx context.Context) ([]LevelStatusRow, error) {
		aggs, err := s.aggregate(ctx, telemetry.CollectionLevelPlay, query.LevelStatus(p, status))
		if err != nil {
			return nil, err
		}
		return reshapeLevelStatus(aggs)
	})
}

// Options lists the distinct values of field in collection.
func (s *Service) Options(ctx context.Context, collection, field string) ([]string, error) {
	return run(ctx, s, ChartOptions, collection+"|"+field, func(ctx context.Context) ([]string, error) {
		aggs, err := s.aggregate(ctx, collection, query.Options(field, s.cfg.OptionBuckets))
		if err != nil {
			return nil, err
		}
		return reshapeOptions(aggs)
	})
}

func (s *Service) aggregate(ctx context.Context, collection string, body map[string]any) (map[string]json.RawMessage, error) {
	ctx, span := tracing.Start(ctx, "store.search")
	defer span.End()
	span.SetAttr("collection", collection)

	resp, err := s.store.Search(ctx, collection, body)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	span.SetAttr("took_ms", resp.Took)
	return resp.Aggregations, nil
}

// run executes compute under the query timeout, through the cache when one
// is configured, and records the chart metrics and trace.
func run[T any](ctx context.Context, s *Service, chart, params string, compute func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	ctx, span := tracing.Start(ctx, "chart."+chart)
	start := time.Now()
	defer func() {
		span.End()
		span.Log(logger.FromContext(ctx))
	}()

	timed := func(ctx context.Context) (T, error) {
		var out T
		err := resilience.WithTimeout(ctx, s.cfg.QueryTimeout, chart, func(ctx context.Context) error {
			v, err := compute(ctx)
			if err != nil {
				return err
			}
			out = v
			return nil
		})
		if err != nil {
			return zero, err
		}
		return out, nil
	}

	if s.cache == nil {
		out, err := timed(ctx)
		s.metrics.ObserveChart(chart, "bypass", time.Since(start))
		span.SetError(err)
		if err != nil {
			return zero, fmt.Errorf("chart %s: %w", chart, err)
		}
		return out, nil
	}

	data, hit, err := s.cache.GetOrCompute(ctx, cache.Key(chart, params), func(ctx context.Context) ([]byte, error) {
		out, err := timed(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(out)
	})
	status := "miss"
	if hit {
		status = "hit"
	}
	s.metrics.ObserveChart(chart, status, time.Since(start))
	span.SetAttr("cache", status)
	if err != nil {
		span.SetError(err)
		return zero, fmt.Errorf("chart %s: %w", chart, err)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, fmt.Errorf("chart %s: decoding cached result: %w", chart, err)
	}
	return out, nil
}
