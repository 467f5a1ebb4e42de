package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ThaoDoan2/ElasticClient/internal/telemetry"
	apperrors "github.com/ThaoDoan2/ElasticClient/pkg/errors"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

var dateField = map[string]any{
	"type":   "date",
	"format": "strict_date_optional_time||epoch_millis",
}

// keywordText maps a string as text with a .keyword sub-field, the same
// shape dynamic mapping produces, so the chart filters on <field>.keyword
// work on both created and auto-created indices.
var keywordText = map[string]any{
	"type": "text",
	"fields": map[string]any{
		"keyword": map[string]any{"type": "keyword", "ignore_above": 256},
	},
}

// Mappings returns the explicit index mappings per collection. Fields not
// listed here fall back to dynamic mapping.
func Mappings() map[string]map[string]any {
	common := func(extra map[string]any) map[string]any {
		props := map[string]any{
			"userId":             keywordText,
			"platform":           keywordText,
			"country":            keywordText,
			"gameVersion":        keywordText,
			"loggedDay":          map[string]any{"type": "integer"},
			"date":               dateField,
			"accountCreatedDate": dateField,
		}
		for k, v := range extra {
			props[k] = v
		}
		return map[string]any{"mappings": map[string]any{"properties": props}}
	}
	return map[string]map[string]any{
		telemetry.CollectionRewardedAds: common(map[string]any{
			"level":        keywordText,
			"levelNumber":  map[string]any{"type": "integer"},
			"placement":    keywordText,
			"subPlacement": keywordText,
		}),
		telemetry.CollectionPurchases: common(map[string]any{
			"productId":    keywordText,
			"placement":    keywordText,
			"subPlacement": keywordText,
			"level":        map[string]any{"type": "integer"},
			"price":        map[string]any{"type": "float"},
			"currencyCode": keywordText,
		}),
		telemetry.CollectionLevelPlay: common(map[string]any{
			"gameLevel":  map[string]any{"type": "integer"},
			"duration":   map[string]any{"type": "integer"},
			"status":     keywordText,
			"difficulty": keywordText,
			"gameMode":   keywordText,
		}),
	}
}

// EnsureCollections creates any missing collection with its mapping.
// Existing indices are left untouched.
func (c *Client) EnsureCollections(ctx context.Context) error {
	for _, kind := range telemetry.Kinds {
		name := kind.Collection()
		exists, err := c.collectionExists(ctx, name)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		body, err := json.Marshal(Mappings()[name])
		if err != nil {
			return fmt.Errorf("encoding mapping for %s: %w", name, err)
		}
		err = c.do(ctx, "create_index", name, func(ctx context.Context) (*esapi.Response, error) {
			return c.es.Indices.Create(name,
				c.es.Indices.Create.WithContext(ctx),
				c.es.Indices.Create.WithBody(bytes.NewReader(body)),
			)
		}, nil)
		if err != nil && !isAlreadyExists(err) {
			return err
		}
		c.logger.Info("collection created", "collection", name)
	}
	return nil
}

func (c *Client) collectionExists(ctx context.Context, name string) (bool, error) {
	err := c.do(ctx, "exists", name, func(ctx context.Context) (*esapi.Response, error) {
		return c.es.Indices.Exists([]string{name}, c.es.Indices.Exists.WithContext(ctx))
	}, nil)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, apperrors.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// isAlreadyExists tolerates a concurrent creator winning the race.
func isAlreadyExists(err error) bool {
	return errors.Is(err, apperrors.ErrInvalidInput) && strings.Contains(err.Error(), "resource_already_exists_exception")
}
