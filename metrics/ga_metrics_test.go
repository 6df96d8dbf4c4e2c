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

package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGAMetrics(t *testing.T) {
	gaMetricsOnce = sync.Once{}
	gaMetricsInstance = nil

	m := NewGAMetrics()
	require.NotNil(t, m, "Metrics should not be nil")

	assert.NotNil(t, m.GenerationsCompleted)
	assert.NotNil(t, m.EvaluationsTotal)
	assert.NotNil(t, m.FitnessScore)
	assert.NotNil(t, m.PopulationDiversity)
}

func TestNewGAMetrics_Singleton(t *testing.T) {
	gaMetricsOnce = sync.Once{}
	gaMetricsInstance = nil

	m1 := NewGAMetrics()
	require.NotNil(t, m1)

	m2 := NewGAMetrics()
	require.NotNil(t, m2)

	assert.Same(t, m1, m2, "Should return the same singleton instance")
}

func TestSafeRegister(t *testing.T) {
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_ga_safe_register_counter",
		Help: "Test counter for safe registration",
	})

	safeRegister(counter)

	assert.NotPanics(t, func() {
		safeRegister(counter)
	}, "Safe register should not panic on duplicate registration")

	prometheus.Unregister(counter)
}

func TestRecordEvaluation(t *testing.T) {
	gaMetricsOnce = sync.Once{}
	gaMetricsInstance = nil

	m := NewGAMetrics()
	require.NotNil(t, m)

	assert.NotPanics(t, func() {
		m.RecordEvaluation("ok")
		m.RecordGenerationCompleted()
		m.RecordRollback()
		m.RecordCacheHit()
		m.RecordCacheMiss()
	})
}

func TestRecordEvaluation_NilMetrics(t *testing.T) {
	var m *GAMetrics

	assert.NotPanics(t, func() {
		m.RecordEvaluation("ok")
		m.SetFitnessScore("run_best", 0.8)
		m.RecordRetryAttempt("op", 1)
	}, "recording on a nil *GAMetrics should be a no-op")
}

func TestTimer(t *testing.T) {
	timer := NewTimer()
	require.NotNil(t, timer)

	time.Sleep(20 * time.Millisecond)

	duration := timer.Duration()
	assert.GreaterOrEqual(t, duration, 20*time.Millisecond)
}

func TestStartMetricsServer_ShutsDownOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- StartMetricsServer(ctx, 19090)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("metrics server did not shut down after context cancel")
	}
}
