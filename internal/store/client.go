// Package store adapts the telemetry collections onto Elasticsearch. Every
// call runs through a circuit breaker, index calls retry with backoff, and
// backend responses are mapped onto the shared sentinel errors.
package store

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ThaoDoan2/ElasticClient/pkg/config"
	apperrors "github.com/ThaoDoan2/ElasticClient/pkg/errors"
	"github.com/ThaoDoan2/ElasticClient/pkg/metrics"
	"github.com/ThaoDoan2/ElasticClient/pkg/resilience"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// Client is the Elasticsearch-backed store.
type Client struct {
	es      *elasticsearch.Client
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Open connects to the configured cluster and pings it once.
func Open(ctx context.Context, cfg config.ElasticsearchConfig, m *metrics.Metrics) (*Client, error) {
	c, err := New(cfg, m)
	if err != nil {
		return nil, err
	}
	if err := c.Ping(ctx); err != nil {
		return nil, err
	}
	c.logger.Info("connected to elasticsearch", "addresses", cfg.Addresses)
	return c, nil
}

// New builds a Client without contacting the cluster.
func New(cfg config.ElasticsearchConfig, m *metrics.Metrics) (*Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed dev clusters
	}
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    cfg.Addresses,
		Username:     cfg.Username,
		Password:     cfg.Password,
		APIKey:       cfg.APIKey,
		Transport:    transport,
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}

	c := &Client{
		es:      es,
		timeout: cfg.RequestTimeout,
		metrics: m,
		logger:  slog.Default().With("component", "store"),
		retry: resilience.RetryConfig{
			MaxAttempts:  max(cfg.MaxRetries, 1),
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Retryable:    isRetryable,
		},
	}
	c.breaker = resilience.NewCircuitBreaker("elasticsearch", resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     15 * time.Second,
		IsFailure:        func(err error) bool { return errors.Is(err, apperrors.ErrStoreUnavailable) },
		OnStateChange: func(name string, _, to resilience.State) {
			m.SetBreakerState(name, int(to))
		},
	})
	m.SetBreakerState("elasticsearch", int(resilience.StateClosed))
	return c, nil
}

// Ping checks that the cluster answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "ping", "", func(ctx context.Context) (*esapi.Response, error) {
		return c.es.Ping(c.es.Ping.WithContext(ctx))
	}, nil)
}

// BreakerState reports the circuit breaker state.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.GetState()
}

// do runs one backend request through the breaker with a per-call timeout,
// maps the response status to a sentinel error and, when out is non-nil,
// decodes a successful body into it.
func (c *Client) do(ctx context.Context, op, collection string, call func(ctx context.Context) (*esapi.Response, error), out any) error {
	start := time.Now()
	err := c.breaker.Execute(func() error {
		callCtx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		res, err := call(callCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("%s %s: %w: %w", op, collection, apperrors.ErrStoreUnavailable, apperrors.ErrTimeout)
			}
			return fmt.Errorf("%s %s: %w: %v", op, collection, apperrors.ErrStoreUnavailable, err)
		}
		defer res.Body.Close()
		if res.IsError() {
			return responseError(op, collection, res)
		}
		if out == nil {
			_, _ = io.Copy(io.Discard, res.Body)
			return nil
		}
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return fmt.Errorf("%s %s: decoding response: %w", op, collection, err)
		}
		return nil
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		err = fmt.Errorf("%w: %w", apperrors.ErrStoreUnavailable, err)
	}
	c.metrics.ObserveStore(op, collection, statusLabel(err), time.Since(start))
	return err
}

// errorBody is the error envelope Elasticsearch returns.
type errorBody struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
	Result string `json:"result"`
}

func responseError(op, collection string, res *esapi.Response) error {
	var body errorBody
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	reason := http.StatusText(res.StatusCode)
	if json.Unmarshal(raw, &body) == nil {
		switch {
		case body.Error.Reason != "":
			reason = body.Error.Type + ": " + body.Error.Reason
		case body.Result != "":
			reason = body.Result
		}
	}

	var sentinel error
	switch {
	case res.StatusCode == http.StatusNotFound:
		sentinel = apperrors.ErrNotFound
	case res.StatusCode == http.StatusTooManyRequests, res.StatusCode >= 500:
		sentinel = apperrors.ErrStoreUnavailable
	default:
		sentinel = apperrors.ErrInvalidInput
	}
	return fmt.Errorf("%s %s: %w: [%d] %s", op, collection, sentinel, res.StatusCode, reason)
}

func isRetryable(err error) bool {
	return errors.Is(err, apperrors.ErrStoreUnavailable) && !errors.Is(err, resilience.ErrCircuitOpen)
}

func statusLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, apperrors.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperrors.ErrInvalidInput):
		return "rejected"
	default:
		return "error"
	}
}
