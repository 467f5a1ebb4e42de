package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThaoDoan2/ElasticClient/internal/telemetry"
	apperrors "github.com/ThaoDoan2/ElasticClient/pkg/errors"
	"github.com/ThaoDoan2/ElasticClient/pkg/resilience"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// IndexResult is the backend's acknowledgement of a write.
type IndexResult struct {
	ID      string `json:"_id"`
	Index   string `json:"_index"`
	Result  string `json:"result"`
	Version int64  `json:"_version"`
}

// Index writes doc under id into collection, retrying transient failures.
func (c *Client) Index(ctx context.Context, collection, id string, doc any) (*IndexResult, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding document: %v", apperrors.ErrInvalidInput, err)
	}
	var result IndexResult
	err = resilience.Retry(ctx, "index "+collection, c.retry, func() error {
		return c.do(ctx, "index", collection, func(ctx context.Context) (*esapi.Response, error) {
			return c.es.Index(collection, bytes.NewReader(body),
				c.es.Index.WithContext(ctx),
				c.es.Index.WithDocumentID(id),
			)
		}, &result)
	})
	if err != nil {
		return nil, err
	}
	c.logger.Debug("document indexed", "collection", collection, "id", id, "result", result.Result)
	return &result, nil
}

// IndexRecord writes a telemetry record into the collection for its kind.
func (c *Client) IndexRecord(ctx context.Context, id string, rec telemetry.Record) (*IndexResult, error) {
	return c.Index(ctx, rec.Kind().Collection(), id, rec.Document())
}

func (c *Client) IndexRewardedAd(ctx context.Context, id string, ad *telemetry.RewardedAd) (*IndexResult, error) {
	return c.IndexRecord(ctx, id, ad)
}

func (c *Client) IndexPurchase(ctx context.Context, id string, p *telemetry.Purchase) (*IndexResult, error) {
	return c.IndexRecord(ctx, id, p)
}

func (c *Client) IndexLevelPlay(ctx context.Context, id string, l *telemetry.LevelPlay) (*IndexResult, error) {
	return c.IndexRecord(ctx, id, l)
}

// Delete removes a document. A missing document yields ErrNotFound.
func (c *Client) Delete(ctx context.Context, collection, id string) error {
	err := c.do(ctx, "delete", collection, func(ctx context.Context) (*esapi.Response, error) {
		return c.es.Delete(collection, id, c.es.Delete.WithContext(ctx))
	}, nil)
	if err != nil {
		return err
	}
	c.logger.Info("document deleted", "collection", collection, "id", id)
	return nil
}

// BulkDoc is one document of a bulk write.
type BulkDoc struct {
	Collection string
	ID         string
	Doc        any
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// BulkIndex writes docs in one request. The returned slice holds the
// per-document error, nil for documents that were stored. The error return
// is set only when the request as a whole failed.
func (c *Client) BulkIndex(ctx context.Context, docs []BulkDoc) ([]error, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, d := range docs {
		meta := map[string]any{"index": map[string]string{"_index": d.Collection, "_id": d.ID}}
		if err := enc.Encode(meta); err != nil {
			return nil, fmt.Errorf("encoding bulk metadata: %w", err)
		}
		if err := enc.Encode(d.Doc); err != nil {
			return nil, fmt.Errorf("%w: encoding document %s: %v", apperrors.ErrInvalidInput, d.ID, err)
		}
	}
	body := buf.Bytes()

	var resp bulkResponse
	err := resilience.Retry(ctx, "bulk", c.retry, func() error {
		return c.do(ctx, "bulk", collectionLabel(docs), func(ctx context.Context) (*esapi.Response, error) {
			return c.es.Bulk(bytes.NewReader(body), c.es.Bulk.WithContext(ctx))
		}, &resp)
	})
	if err != nil {
		return nil, err
	}

	errs := make([]error, len(docs))
	for i, item := range resp.Items {
		if i >= len(docs) {
			break
		}
		for _, r := range item {
			if r.Error == nil && r.Status < 300 {
				continue
			}
			sentinel := apperrors.ErrInvalidInput
			if r.Status == 429 || r.Status >= 500 {
				sentinel = apperrors.ErrStoreUnavailable
			}
			reason := ""
			if r.Error != nil {
				reason = r.Error.Type + ": " + r.Error.Reason
			}
			errs[i] = fmt.Errorf("%w: [%d] %s", sentinel, r.Status, reason)
		}
	}
	return errs, nil
}

func collectionLabel(docs []BulkDoc) string {
	first := docs[0].Collection
	for _, d := range docs[1:] {
		if d.Collection != first {
			return "mixed"
		}
	}
	return first
}
