// Command loadtest drives synthetic game telemetry against POST /logEvent
// and reports throughput, latency percentiles and status codes. With -count
// it sends a fixed number of events instead of running for -duration, which
// is how a fresh cluster is seeded for the dashboards.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThaoDoan2/ElasticClient/internal/telemetry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type Config struct {
	BaseURL      string
	APIKey       string
	APIKeyHeader string
	Concurrency  int
	Duration     time.Duration
	Count        int64
	RPS          float64
	Kind         string
	SpreadDays   int
	Seed         uint64
}

type Stats struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64
	latencies     []time.Duration
	latenciesMu   sync.Mutex
	statusCodes   map[int]*atomic.Int64
	kindCounts    map[telemetry.Kind]*atomic.Int64
	statusCodesMu sync.Mutex
}

func NewStats() *Stats {
	s := &Stats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]*atomic.Int64),
		kindCounts:  make(map[telemetry.Kind]*atomic.Int64),
	}
	for _, k := range telemetry.Kinds {
		s.kindCounts[k] = &atomic.Int64{}
	}
	return s
}

func (s *Stats) RecordRequest(kind telemetry.Kind, duration time.Duration, statusCode int, err error) {
	s.totalRequests.Add(1)
	s.kindCounts[kind].Add(1)

	if err != nil {
		s.errorCount.Add(1)
		return
	}

	if statusCode >= 200 && statusCode < 300 {
		s.successCount.Add(1)
	} else {
		s.errorCount.Add(1)
	}

	s.latenciesMu.Lock()
	s.latencies = append(s.latencies, duration)
	s.latenciesMu.Unlock()

	s.statusCodesMu.Lock()
	if _, ok := s.statusCodes[statusCode]; !ok {
		s.statusCodes[statusCode] = &atomic.Int64{}
	}
	s.statusCodes[statusCode].Add(1)
	s.statusCodesMu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the ingestion service")
	apiKey := flag.String("key", "changeme-123456", "API key")
	apiKeyHeader := flag.String("key-header", "X-API-KEY", "API key header name")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration when -count is 0")
	count := flag.Int64("count", 0, "send exactly this many events, then stop")
	rps := flag.Float64("rps", 0, "cap on requests per second, 0 for unlimited")
	kind := flag.String("kind", "", "only send this eventType (rewarded, iap, level)")
	spread := flag.Int("spread-days", 7, "spread event dates over this many past days")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "random seed")
	flag.Parse()

	if *kind != "" {
		if _, ok := telemetry.ParseKind(*kind); !ok {
			fmt.Fprintf(os.Stderr, "unknown -kind %q\n", *kind)
			os.Exit(2)
		}
	}

	cfg := Config{
		BaseURL:      *baseURL,
		APIKey:       *apiKey,
		APIKeyHeader: *apiKeyHeader,
		Concurrency:  max(*concurrency, 1),
		Duration:     *duration,
		Count:        *count,
		RPS:          *rps,
		Kind:         *kind,
		SpreadDays:   *spread,
		Seed:         *seed,
	}

	fmt.Println("=== Telemetry Load Test ===")
	fmt.Printf("Target:      %s/logEvent\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	if cfg.Count > 0 {
		fmt.Printf("Events:      %d\n", cfg.Count)
	} else {
		fmt.Printf("Duration:    %s\n", cfg.Duration)
	}
	if cfg.RPS > 0 {
		fmt.Printf("Rate cap:    %.0f req/s\n", cfg.RPS)
	}
	fmt.Println()

	start := time.Now()
	stats := runLoadTest(cfg)
	printReport(stats, time.Since(start))
}

func runLoadTest(cfg Config) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx := context.Background()
	var cancel context.CancelFunc
	if cfg.Count > 0 {
		ctx, cancel = context.WithCancel(ctx)
	} else {
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
	}
	defer cancel()

	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	limiter := rate.NewLimiter(limit, cfg.Concurrency)

	var issued atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	fmt.Print("Running")

	for w := 0; w < cfg.Concurrency; w++ {
		gen := newGenerator(cfg.Seed+uint64(w), cfg.SpreadDays)
		g.Go(func() error {
			for {
				if cfg.Count > 0 && issued.Add(1) > cfg.Count {
					return nil
				}
				if err := limiter.Wait(gctx); err != nil {
					return nil
				}
				kind := gen.kindFor(cfg.Kind)
				body, err := json.Marshal(gen.event(kind))
				if err != nil {
					return fmt.Errorf("encoding %s event: %w", kind, err)
				}

				start := time.Now()
				status, err := send(gctx, client, cfg, body)
				if gctx.Err() != nil && cfg.Count == 0 {
					return nil
				}
				stats.RecordRequest(kind, time.Since(start), status, err)
			}
		})
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-gctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "\nload test aborted: %v\n", err)
	}
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

func send(ctx context.Context, client *http.Client, cfg Config, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/logEvent", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(cfg.APIKeyHeader, cfg.APIKey)
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func printReport(stats *Stats, elapsed time.Duration) {
	total := stats.totalRequests.Load()
	success := stats.successCount.Load()
	errors := stats.errorCount.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Successful:      %d\n", success)
	fmt.Printf("Errors:          %d\n", errors)

	if total > 0 {
		errorRate := float64(errors) / float64(total) * 100
		fmt.Printf("Error Rate:      %.2f%%\n", errorRate)
		rps := float64(total) / elapsed.Seconds()
		fmt.Printf("Requests/sec:    %.2f\n", rps)
	}

	fmt.Println()
	fmt.Println("=== Events by Type ===")
	for _, k := range telemetry.Kinds {
		fmt.Printf("  %-9s %d\n", k, stats.kindCounts[k].Load())
	}

	stats.latenciesMu.Lock()
	latencies := make([]time.Duration, len(stats.latencies))
	copy(latencies, stats.latencies)
	stats.latenciesMu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool {
			return latencies[i] < latencies[j]
		})

		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))

		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", avg)
		fmt.Printf("P50:    %s\n", percentile(latencies, 50))
		fmt.Printf("P90:    %s\n", percentile(latencies, 90))
		fmt.Printf("P95:    %s\n", percentile(latencies, 95))
		fmt.Printf("P99:    %s\n", percentile(latencies, 99))
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])

		var sumSquared float64
		avgFloat := float64(avg)
		for _, l := range latencies {
			diff := float64(l) - avgFloat
			sumSquared += diff * diff
		}
		stddev := time.Duration(math.Sqrt(sumSquared / float64(len(latencies))))
		fmt.Printf("StdDev: %s\n", stddev)
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	stats.statusCodesMu.Lock()
	codes := make([]int, 0, len(stats.statusCodes))
	for code := range stats.statusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		count := stats.statusCodes[code].Load()
		fmt.Printf("  %d: %d\n", code, count)
	}
	stats.statusCodesMu.Unlock()

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the service running?")
		os.Exit(1)
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
