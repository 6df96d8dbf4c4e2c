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

package health_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"right-sizer/health"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChecker(t *testing.T) {
	checker := health.NewChecker()
	require.NotNil(t, checker)

	for _, name := range []string{health.ComponentCluster, health.ComponentTelemetry, health.ComponentLoadgen} {
		status, exists := checker.GetComponentStatus(name)
		assert.True(t, exists)
		assert.True(t, status.Healthy)
	}
}

func TestChecker_UpdateComponentStatus(t *testing.T) {
	checker := health.NewChecker()

	checker.UpdateComponentStatus(health.ComponentCluster, false, "rollout timed out")

	status, exists := checker.GetComponentStatus(health.ComponentCluster)
	assert.True(t, exists)
	assert.False(t, status.Healthy)
	assert.Equal(t, "rollout timed out", status.Message)
	assert.WithinDuration(t, time.Now(), status.LastChecked, time.Second)

	checker.UpdateComponentStatus("extra-probe", true, "custom check")
	status, exists = checker.GetComponentStatus("extra-probe")
	assert.True(t, exists)
	assert.True(t, status.Healthy)
}

func TestChecker_GetComponentStatus(t *testing.T) {
	checker := health.NewChecker()

	status, exists := checker.GetComponentStatus(health.ComponentTelemetry)
	assert.True(t, exists)
	assert.NotNil(t, status)

	status, exists = checker.GetComponentStatus("non-existent")
	assert.False(t, exists)
	assert.Nil(t, status)
}

func TestChecker_IsHealthy(t *testing.T) {
	checker := health.NewChecker()

	assert.True(t, checker.IsHealthy())

	checker.UpdateComponentStatus(health.ComponentCluster, false, "apply failed")
	assert.False(t, checker.IsHealthy())

	checker.UpdateComponentStatus(health.ComponentTelemetry, false, "query timeout")
	assert.False(t, checker.IsHealthy())
}

func TestChecker_LivenessCheck(t *testing.T) {
	checker := health.NewChecker()
	req := httptest.NewRequest("GET", "/healthz", nil)

	err := checker.LivenessCheck(req)
	assert.NoError(t, err)

	checker.UpdateComponentStatus(health.ComponentLoadgen, false, "worker pool crashed")
	err = checker.LivenessCheck(req)
	assert.NoError(t, err, "liveness never depends on outbound dependencies")
}

func TestChecker_ReadinessCheck(t *testing.T) {
	checker := health.NewChecker()
	req := httptest.NewRequest("GET", "/readyz", nil)

	err := checker.ReadinessCheck(req)
	assert.NoError(t, err)

	checker.UpdateComponentStatus(health.ComponentCluster, false, "rollout timed out")
	err = checker.ReadinessCheck(req)
	assert.Error(t, err)
}

func TestChecker_GetHealthReport(t *testing.T) {
	checker := health.NewChecker()

	report := checker.GetHealthReport()
	assert.NotNil(t, report)
	assert.Contains(t, report, "overall_healthy")
	assert.True(t, report["overall_healthy"].(bool))

	checker.UpdateComponentStatus(health.ComponentCluster, false, "apply failed")
	report = checker.GetHealthReport()
	assert.False(t, report["overall_healthy"].(bool))
}

func TestChecker_ConcurrentAccess(t *testing.T) {
	checker := health.NewChecker()

	const numGoroutines = 50
	const operationsPerGoroutine = 20

	var wg sync.WaitGroup
	wg.Add(numGoroutines * 2)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < operationsPerGoroutine; j++ {
				componentName := fmt.Sprintf("component-%d", id)
				healthy := j%2 == 0
				message := fmt.Sprintf("Message %d-%d", id, j)
				checker.UpdateComponentStatus(componentName, healthy, message)
			}
		}(i)
	}

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < operationsPerGoroutine; j++ {
				componentName := fmt.Sprintf("component-%d", id)
				checker.GetComponentStatus(componentName)
				checker.IsHealthy()
			}
		}(i)
	}

	wg.Wait()

	overall := checker.IsHealthy()
	assert.NotPanics(t, func() { _ = overall })
}

func TestChecker_ComponentStatusCopy(t *testing.T) {
	checker := health.NewChecker()

	checker.UpdateComponentStatus("test-component", true, "initial message")

	status1, exists := checker.GetComponentStatus("test-component")
	require.True(t, exists)

	checker.UpdateComponentStatus("test-component", false, "updated message")

	status2, exists := checker.GetComponentStatus("test-component")
	require.True(t, exists)

	assert.True(t, status1.Healthy)
	assert.Equal(t, "initial message", status1.Message)
	assert.False(t, status2.Healthy)
	assert.Equal(t, "updated message", status2.Message)
}

func TestChecker_SetCheckInterval(t *testing.T) {
	checker := health.NewChecker()

	assert.NotPanics(t, func() {
		checker.SetCheckInterval(5 * time.Minute)
	})
}

func TestChecker_StartServer_ShutsDownOnContextCancel(t *testing.T) {
	checker := health.NewChecker()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- checker.StartServer(ctx, 19091)
	}()

	time.Sleep(50 * time.Millisecond)

	resp, err := http.Get("http://127.0.0.1:19091/readyz")
	if err == nil {
		resp.Body.Close()
	}

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("health server did not shut down after context cancel")
	}
}
