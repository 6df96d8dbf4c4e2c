// Copyright (C) 2024 right-sizer contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package telemetry queries a Prometheus-compatible backend for the five
// semantic measurements the fitness calculator needs, plus pod count.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"right-sizer/errors"
	"right-sizer/logger"
	"right-sizer/metrics"
	"right-sizer/retry"
)

// Gateway exposes the semantic queries the fitness calculator and
// optimizer driver need. Implementations degrade to 0 rather than
// propagating failures for the semantic methods; this fallback value is
// fixed and cannot be configured. Query itself (the raw primitive)
// returns a typed error.
type Gateway interface {
	CPUUsage(ctx context.Context, label string, minutes int) float64
	MemoryUsage(ctx context.Context, label string) float64
	RequestRate(ctx context.Context, label string, minutes int) float64
	LatencyQuantile(ctx context.Context, label string, minutes int, quantile float64) float64
	ErrorRate(ctx context.Context, label string, minutes int) float64
	PodCount(ctx context.Context, label string) float64
}

const cacheTTL = 5 * time.Second

type cacheEntry struct {
	value     float64
	expiresAt time.Time
}

// queryCache is a short-TTL map keyed by raw query string, avoiding
// duplicate round-trips within a single evaluation. Stale entries are
// discarded lazily on lookup.
type queryCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

func newQueryCache() *queryCache {
	return &queryCache{entries: make(map[string]cacheEntry)}
}

func (c *queryCache) get(query string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[query]
	if !ok {
		return 0, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, query)
		return 0, false
	}
	return entry.value, true
}

func (c *queryCache) put(query string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[query] = cacheEntry{value: value, expiresAt: time.Now().Add(cacheTTL)}
}

// PrometheusGateway implements Gateway against Prometheus's instant-query
// HTTP API.
type PrometheusGateway struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	retryer    *retry.Retryer
	breaker    *retry.CircuitBreaker
	cache      *queryCache
}

// NewPrometheusGateway builds a gateway with exponential-backoff retry and
// a circuit breaker guarding repeated backend failures.
func NewPrometheusGateway(baseURL string, timeout time.Duration, retryAttempts int, retryDelay time.Duration, gaMetrics *metrics.GAMetrics) *PrometheusGateway {
	retryCfg := retry.Config{
		MaxRetries:          retryAttempts,
		InitialDelay:        retryDelay,
		MaxDelay:            10 * time.Second,
		BackoffFactor:       2.0,
		RandomizationFactor: 0.1,
		Timeout:             timeout,
	}

	return &PrometheusGateway{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
		retryer:    retry.New(retryCfg, gaMetrics),
		breaker:    retry.NewCircuitBreaker("prometheus", retry.DefaultCircuitBreakerConfig(), gaMetrics),
		cache:      newQueryCache(),
	}
}

// Query executes a raw PromQL instant query and returns the scalar value
// of the first result, or a typed TelemetryError on failure.
func (g *PrometheusGateway) Query(ctx context.Context, query string) (float64, error) {
	if cached, ok := g.cache.get(query); ok {
		return cached, nil
	}

	var value float64
	op := func(ctx context.Context) error {
		return g.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
			v, err := g.doQuery(ctx, query)
			if err != nil {
				return err
			}
			value = v
			return nil
		})
	}

	if err := g.retryer.DoWithContext(ctx, "telemetry.query", op); err != nil {
		return 0, errors.TelemetryErrorf("query", err, "query %q failed", query)
	}

	g.cache.put(query, value)
	return value, nil
}

func (g *PrometheusGateway) doQuery(ctx context.Context, query string) (float64, error) {
	reqURL := fmt.Sprintf("%s/api/v1/query?query=%s", g.baseURL, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, err
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, retry.NewRetryableError(err, true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, retry.NewRetryableError(fmt.Errorf("prometheus returned status %d", resp.StatusCode), true)
	}

	var parsed struct {
		Status string `json:"status"`
		Data   struct {
			Result []struct {
				Value []interface{} `json:"value"`
			} `json:"result"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, retry.NewRetryableError(fmt.Errorf("decode prometheus response: %w", err), false)
	}

	if parsed.Status != "success" || len(parsed.Data.Result) == 0 {
		return 0, fmt.Errorf("query returned no results: %s", query)
	}

	raw := parsed.Data.Result[0].Value
	if len(raw) != 2 {
		return 0, fmt.Errorf("malformed value in query response: %s", query)
	}

	str, ok := raw[1].(string)
	if !ok {
		return 0, fmt.Errorf("non-string scalar in query response: %s", query)
	}

	v, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable scalar %q: %w", str, err)
	}
	return v, nil
}

// queryDefault runs Query and degrades to 0 on any failure, logging a
// warning — the semantic methods never propagate telemetry failures.
func (g *PrometheusGateway) queryDefault(ctx context.Context, query string) float64 {
	v, err := g.Query(ctx, query)
	if err != nil {
		logger.Warn("telemetry query degraded to default: %v", err)
		return 0
	}
	return v
}

// CPUUsage returns average CPU usage in cores over the lookback window.
func (g *PrometheusGateway) CPUUsage(ctx context.Context, label string, minutes int) float64 {
	query := fmt.Sprintf(`avg(rate(container_cpu_usage_seconds_total{pod=~"%s.*"}[%dm]))`, label, minutes)
	return g.queryDefault(ctx, query)
}

// MemoryUsage returns average memory usage in bytes.
func (g *PrometheusGateway) MemoryUsage(ctx context.Context, label string) float64 {
	query := fmt.Sprintf(`avg(container_memory_usage_bytes{pod=~"%s.*"})`, label)
	return g.queryDefault(ctx, query)
}

// RequestRate returns requests per second over the lookback window.
func (g *PrometheusGateway) RequestRate(ctx context.Context, label string, minutes int) float64 {
	query := fmt.Sprintf(`rate(app_requests_total{job="%s"}[%dm])`, label, minutes)
	return g.queryDefault(ctx, query)
}

// LatencyQuantile returns the given latency quantile in seconds.
func (g *PrometheusGateway) LatencyQuantile(ctx context.Context, label string, minutes int, quantile float64) float64 {
	query := fmt.Sprintf(`histogram_quantile(%v, rate(app_request_latency_seconds_bucket{job="%s"}[%dm]))`, quantile, label, minutes)
	return g.queryDefault(ctx, query)
}

// ErrorRate returns non-200 requests per second over the lookback window.
func (g *PrometheusGateway) ErrorRate(ctx context.Context, label string, minutes int) float64 {
	query := fmt.Sprintf(`rate(app_requests_total{job="%s", status_code!="200"}[%dm])`, label, minutes)
	return g.queryDefault(ctx, query)
}

// PodCount returns the number of pods currently reporting memory usage.
func (g *PrometheusGateway) PodCount(ctx context.Context, label string) float64 {
	query := fmt.Sprintf(`count(container_memory_usage_bytes{pod=~"%s.*"})`, label)
	return g.queryDefault(ctx, query)
}
