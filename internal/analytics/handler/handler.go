// Package handler exposes the chart queries over HTTP for the dashboards.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/ThaoDoan2/ElasticClient/internal/analytics"
	"github.com/ThaoDoan2/ElasticClient/internal/analytics/cache"
	"github.com/ThaoDoan2/ElasticClient/internal/analytics/query"
	"github.com/ThaoDoan2/ElasticClient/internal/telemetry"
	"github.com/ThaoDoan2/ElasticClient/pkg/config"
	apperrors "github.com/ThaoDoan2/ElasticClient/pkg/errors"
	"github.com/ThaoDoan2/ElasticClient/pkg/logger"
)

const maxParamsBody = 64 << 10

type Handler struct {
	svc    *analytics.Service
	limits query.Limits
	now    func() time.Time
	logger *slog.Logger
}

func New(svc *analytics.Service, cfg config.AnalyticsConfig) *Handler {
	return &Handler{
		svc:    svc,
		limits: query.Limits{DefaultRangeDays: cfg.DefaultRangeDays, MaxRangeDays: cfg.MaxRangeDays},
		now:    time.Now,
		logger: slog.Default().With("component", "analytics-handler"),
	}
}

// optionRoute maps an option-list path to the field it lists.
type optionRoute struct {
	path, collection, field string
}

var optionRoutes = []optionRoute{
	{"/api/iap/platforms", telemetry.CollectionPurchases, "platform"},
	{"/api/iap/countries", telemetry.CollectionPurchases, "country"},
	{"/api/iap/game-versions", telemetry.CollectionPurchases, "gameVersion"},
	{"/api/iap/versions", telemetry.CollectionPurchases, "gameVersion"},
	{"/api/iap/products", telemetry.CollectionPurchases, "productId"},
	{"/api/rewarded-ads/countries", telemetry.CollectionRewardedAds, "country"},
	{"/api/rewarded-ads/platforms", telemetry.CollectionRewardedAds, "platform"},
	{"/api/rewarded-ads/game-versions", telemetry.CollectionRewardedAds, "gameVersion"},
	{"/api/rewarded-ads/placements", telemetry.CollectionRewardedAds, "placement"},
	{"/api/gameplay/countries", telemetry.CollectionLevelPlay, "country"},
	{"/api/gameplay/platforms", telemetry.CollectionLevelPlay, "platform"},
	{"/api/gameplay/game-versions", telemetry.CollectionLevelPlay, "gameVersion"},
}

// Register mounts every chart, option-list and cache route.
func (h *Handler) Register(mux *http.ServeMux) {
	for _, path := range []string{"/api/iap", "/api/analytics/inapp-by-date", "/api/iap/chart/compact"} {
		mux.HandleFunc("GET "+path, h.PurchasesByDate)
	}
	mux.HandleFunc("GET /api/iap/revenue-by-date", h.RevenueByDate)
	mux.HandleFunc("GET /api/iap/ratio/placement", h.PlacementRatio)

	mux.HandleFunc("GET /api/rewarded-ads/amount-by-date-placement", h.RewardedByDate)
	mux.HandleFunc("GET /api/rewarded-ads/amount-by-level-placement", h.RewardedByLevel)
	mux.HandleFunc("GET /api/rewarded-ads/amount-by-level", h.RewardedByLevel)

	for _, status := range []string{analytics.StatusStart, analytics.StatusWin, analytics.StatusLose} {
		handle := h.LevelStatus(status)
		mux.HandleFunc("GET /api/gameplay/user-"+status, handle)
		mux.HandleFunc("POST /api/gameplay/user-"+status, handle)
	}

	for _, rt := range optionRoutes {
		mux.HandleFunc("GET "+rt.path, h.Options(rt.collection, rt.field))
	}

	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.InvalidateCache)
}

func (h *Handler) PurchasesByDate(w http.ResponseWriter, r *http.Request) {
	p, ok := h.params(w, r)
	if !ok {
		return
	}
	rows, err := h.svc.PurchasesByDate(r.Context(), p)
	h.respond(w, r, rows, err)
}

func (h *Handler) RevenueByDate(w http.ResponseWriter, r *http.Request) {
	p, ok := h.params(w, r)
	if !ok {
		return
	}
	rows, err := h.svc.RevenueByDate(r.Context(), p)
	h.respond(w, r, rows, err)
}

func (h *Handler) PlacementRatio(w http.ResponseWriter, r *http.Request) {
	p, ok := h.params(w, r)
	if !ok {
		return
	}
	rows, err := h.svc.PlacementRatio(r.Context(), p)
	h.respond(w, r, rows, err)
}

func (h *Handler) RewardedByDate(w http.ResponseWriter, r *http.Request) {
	p, ok := h.params(w, r)
	if !ok {
		return
	}
	rows, err := h.svc.RewardedByDate(r.Context(), p)
	h.respond(w, r, rows, err)
}

func (h *Handler) RewardedByLevel(w http.ResponseWriter, r *http.Request) {
	p, ok := h.params(w, r)
	if !ok {
		return
	}
	rows, err := h.svc.RewardedByLevel(r.Context(), p)
	h.respond(w, r, rows, err)
}

// LevelStatus serves the gameplay chart for one status. Filters come from
// the query string and, for POST, a JSON body.
func (h *Handler) LevelStatus(status string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := h.params(w, r)
		if !ok {
			return
		}
		rows, err := h.svc.LevelStatus(r.Context(), p, status)
		h.respond(w, r, rows, err)
	}
}

func (h *Handler) Options(collection, field string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		values, err := h.svc.Options(r.Context(), collection, field)
		h.respond(w, r, values, err)
	}
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	c := h.svc.Cache()
	if c == nil {
		h.writeJSON(w, http.StatusOK, cache.Stats{Enabled: false})
		return
	}
	h.writeJSON(w, http.StatusOK, c.Stats(r.Context()))
}

func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	c := h.svc.Cache()
	if c == nil {
		h.writeJSON(w, http.StatusOK, map[string]any{"enabled": false, "deleted": 0})
		return
	}
	deleted, err := c.Invalidate(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("cache invalidate failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"enabled": true, "deleted": deleted})
}

func (h *Handler) params(w http.ResponseWriter, r *http.Request) (query.Params, bool) {
	values := r.URL.Query()
	if r.Method == http.MethodPost {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxParamsBody))
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Error reading request body")
			return query.Params{}, false
		}
		fromBody, err := query.ValuesFromJSON(body)
		if err != nil {
			h.fail(w, r, err)
			return query.Params{}, false
		}
		mergeValues(values, fromBody)
	}
	p, err := query.Parse(values, h.limits, h.now())
	if err != nil {
		h.fail(w, r, err)
		return query.Params{}, false
	}
	return p, true
}

// mergeValues copies src into dst. Body values win over the query string.
func mergeValues(dst, src url.Values) {
	for k, v := range src {
		dst[k] = v
	}
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, data any, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, data)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		h.writeError(w, status, appErr.Message)
	case status >= http.StatusInternalServerError:
		logger.FromContext(r.Context()).Error("chart query failed",
			"path", r.URL.Path,
			"error", err,
			"status_code", status,
		)
		h.writeError(w, status, "Error: "+err.Error())
	default:
		h.writeError(w, status, err.Error())
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
