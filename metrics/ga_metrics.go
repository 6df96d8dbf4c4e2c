// Copyright (C) 2024 right-sizer contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package metrics exposes the optimizer's own operational metrics over
// Prometheus — generations run, evaluations run, cache hits and misses, rollout
// duration, retry attempts — distinct from the telemetry the optimizer
// itself queries about the target workload (see package telemetry).
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// GAMetrics holds all Prometheus metrics for the optimizer process.
type GAMetrics struct {
	// Run-level counters
	GenerationsCompleted prometheus.Counter
	EvaluationsTotal     *prometheus.CounterVec // result: "ok", "rollout_timeout", "error"
	RollbacksTotal       prometheus.Counter

	// Cache
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	// Durations
	EvaluationDuration *prometheus.HistogramVec // label: "phase" (apply, rollout, load, telemetry, fitness)
	RolloutDuration    prometheus.Histogram
	LoadTestDuration   prometheus.Histogram

	// Fitness
	FitnessScore        *prometheus.GaugeVec // label: "scope" (generation_best, generation_avg, run_best)
	PopulationDiversity prometheus.Gauge

	// Retry/circuit-breaker
	RetryAttemptsTotal *prometheus.CounterVec
	RetrySuccessTotal  *prometheus.CounterVec
}

var (
	gaMetricsInstance *GAMetrics
	gaMetricsOnce     sync.Once
)

// NewGAMetrics creates and registers all Prometheus metrics. Uses a
// singleton to prevent duplicate registration.
func NewGAMetrics() *GAMetrics {
	gaMetricsOnce.Do(func() {
		gaMetricsInstance = createGAMetrics()
	})
	return gaMetricsInstance
}

func createGAMetrics() *GAMetrics {
	m := &GAMetrics{
		GenerationsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ga_generations_completed_total",
			Help: "Total number of generations completed",
		}),
		EvaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ga_evaluations_total",
				Help: "Total number of individual evaluations, by outcome",
			},
			[]string{"result"},
		),
		RollbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ga_rollbacks_total",
			Help: "Total number of rollback operations triggered",
		}),
		CacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ga_cache_hits_total",
			Help: "Total number of evaluation cache hits",
		}),
		CacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ga_cache_misses_total",
			Help: "Total number of evaluation cache misses",
		}),
		EvaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ga_evaluation_phase_duration_seconds",
				Help:    "Time spent in each phase of individual evaluation",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"phase"},
		),
		RolloutDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ga_rollout_duration_seconds",
			Help:    "Time spent waiting for a deployment rollout to converge",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		LoadTestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ga_load_test_duration_seconds",
			Help:    "Wall-clock duration of a load test run",
			Buckets: prometheus.DefBuckets,
		}),
		FitnessScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ga_fitness_score",
				Help: "Fitness score observed, by scope",
			},
			[]string{"scope"},
		),
		PopulationDiversity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ga_population_diversity",
			Help: "Diversity scalar of the current population, in [0,1]",
		}),
		RetryAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ga_retry_attempts_total",
				Help: "Total number of retry attempts for operations",
			},
			[]string{"operation", "attempt_number"},
		),
		RetrySuccessTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ga_retry_success_total",
				Help: "Total number of successful retries",
			},
			[]string{"operation"},
		),
	}

	safeRegister(
		m.GenerationsCompleted,
		m.EvaluationsTotal,
		m.RollbacksTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.EvaluationDuration,
		m.RolloutDuration,
		m.LoadTestDuration,
		m.FitnessScore,
		m.PopulationDiversity,
		m.RetryAttemptsTotal,
		m.RetrySuccessTotal,
	)

	return m
}

// safeRegister registers Prometheus collectors, ignoring AlreadyRegisteredError.
func safeRegister(collectors ...prometheus.Collector) {
	for _, collector := range collectors {
		if err := prometheus.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				continue
			}
		}
	}
}

// RecordEvaluation records the outcome of one individual evaluation.
func (m *GAMetrics) RecordEvaluation(result string) {
	if m == nil {
		return
	}
	m.EvaluationsTotal.WithLabelValues(result).Inc()
}

// RecordGenerationCompleted increments the generation counter.
func (m *GAMetrics) RecordGenerationCompleted() {
	if m == nil {
		return
	}
	m.GenerationsCompleted.Inc()
}

// RecordRollback increments the rollback counter.
func (m *GAMetrics) RecordRollback() {
	if m == nil {
		return
	}
	m.RollbacksTotal.Inc()
}

// RecordCacheHit records an evaluation-cache hit.
func (m *GAMetrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

// RecordCacheMiss records an evaluation-cache miss.
func (m *GAMetrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.CacheMissesTotal.Inc()
}

// RecordEvaluationPhase records the duration of one phase of the evaluation
// pipeline (apply, rollout, load, telemetry, fitness).
func (m *GAMetrics) RecordEvaluationPhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.EvaluationDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// RecordRolloutDuration records how long waitForRollout took.
func (m *GAMetrics) RecordRolloutDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RolloutDuration.Observe(d.Seconds())
}

// RecordLoadTestDuration records how long a load test run took.
func (m *GAMetrics) RecordLoadTestDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.LoadTestDuration.Observe(d.Seconds())
}

// SetFitnessScore records an observed fitness score for the given scope.
func (m *GAMetrics) SetFitnessScore(scope string, score float64) {
	if m == nil {
		return
	}
	m.FitnessScore.WithLabelValues(scope).Set(score)
}

// SetPopulationDiversity records the current population's diversity scalar.
func (m *GAMetrics) SetPopulationDiversity(diversity float64) {
	if m == nil {
		return
	}
	m.PopulationDiversity.Set(diversity)
}

// RecordRetryAttempt records a retry attempt (consumed by package retry).
func (m *GAMetrics) RecordRetryAttempt(operation string, attemptNumber int) {
	if m == nil {
		return
	}
	m.RetryAttemptsTotal.WithLabelValues(operation, strconv.Itoa(attemptNumber)).Inc()
}

// RecordRetrySuccess records a successful retry (consumed by package retry).
func (m *GAMetrics) RecordRetrySuccess(operation string) {
	if m == nil {
		return
	}
	m.RetrySuccessTotal.WithLabelValues(operation).Inc()
}

// StartMetricsServer starts the Prometheus metrics HTTP server on the given
// port, serving /metrics. Blocks until the server exits or ctx is canceled.
func StartMetricsServer(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: ":" + strconv.Itoa(port), Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Timer is a helper for measuring operation durations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed duration since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration observes the elapsed duration in the given histogram.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}
