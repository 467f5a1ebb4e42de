package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	apperrors "github.com/ThaoDoan2/ElasticClient/pkg/errors"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// SearchResponse is the part of a search result the chart queries read.
type SearchResponse struct {
	Took     int  `json:"took"`
	TimedOut bool `json:"timed_out"`
	Hits     struct {
		Total struct {
			Value    int64  `json:"value"`
			Relation string `json:"relation"`
		} `json:"total"`
		Hits []struct {
			ID     string          `json:"_id"`
			Index  string          `json:"_index"`
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]json.RawMessage `json:"aggregations"`
}

// Search runs a query DSL body against collection. A missing index yields
// an empty response rather than an error.
func (c *Client) Search(ctx context.Context, collection string, body any) (*SearchResponse, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding query: %v", apperrors.ErrInvalidInput, err)
	}
	var resp SearchResponse
	err = c.do(ctx, "search", collection, func(ctx context.Context) (*esapi.Response, error) {
		return c.es.Search(
			c.es.Search.WithContext(ctx),
			c.es.Search.WithIndex(collection),
			c.es.Search.WithBody(bytes.NewReader(raw)),
			c.es.Search.WithIgnoreUnavailable(true),
			c.es.Search.WithAllowNoIndices(true),
		)
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}
