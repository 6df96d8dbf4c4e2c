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

// Package health tracks liveness of the optimizer's three outbound
// dependencies for one evaluation — the cluster gateway, the telemetry
// gateway, and the load generator — and serves them over /healthz and
// /readyz for a supervising Job/Pod.
package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"right-sizer/logger"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
)

const (
	ComponentCluster   = "cluster"
	ComponentTelemetry = "telemetry"
	ComponentLoadgen   = "loadgen"
)

// ComponentStatus represents the health status of one component.
type ComponentStatus struct {
	Healthy     bool
	LastChecked time.Time
	Message     string
}

// Checker tracks the health of the optimizer's outbound dependencies.
type Checker struct {
	mu               sync.RWMutex
	components       map[string]*ComponentStatus
	checkInterval    time.Duration
	lastOverallCheck time.Time
}

// NewChecker creates a new health checker with all components marked
// healthy ("not yet exercised") until an outcome is reported for each
// dependency.
func NewChecker() *Checker {
	now := time.Now()
	return &Checker{
		components: map[string]*ComponentStatus{
			ComponentCluster:   {Healthy: true, LastChecked: now, Message: "not yet exercised"},
			ComponentTelemetry: {Healthy: true, LastChecked: now, Message: "not yet exercised"},
			ComponentLoadgen:   {Healthy: true, LastChecked: now, Message: "not yet exercised"},
		},
		checkInterval: 30 * time.Second,
	}
}

// UpdateComponentStatus records the outcome of the most recent call
// against one component.
func (h *Checker) UpdateComponentStatus(component string, healthy bool, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if status, exists := h.components[component]; exists {
		status.Healthy = healthy
		status.LastChecked = time.Now()
		status.Message = message
	} else {
		h.components[component] = &ComponentStatus{
			Healthy:     healthy,
			LastChecked: time.Now(),
			Message:     message,
		}
	}

	logger.Debug("Health status updated for %s: healthy=%v, message=%s", component, healthy, message)
}

// GetComponentStatus returns a copy of one component's status.
func (h *Checker) GetComponentStatus(component string) (*ComponentStatus, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status, exists := h.components[component]
	if !exists {
		return nil, false
	}
	statusCopy := *status
	return &statusCopy, true
}

// IsHealthy returns true if every component is healthy and was checked
// recently.
func (h *Checker) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for name, status := range h.components {
		if !status.Healthy {
			return false
		}
		if time.Since(status.LastChecked) > 5*time.Minute {
			logger.Warn("Component %s health check is stale (last checked: %v ago)",
				name, time.Since(status.LastChecked))
			return false
		}
	}
	return true
}

// GetHealthReport returns a detailed snapshot of every component's status.
func (h *Checker) GetHealthReport() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	report := make(map[string]interface{})
	report["overall_healthy"] = h.IsHealthy()
	report["last_check"] = h.lastOverallCheck

	components := make(map[string]interface{})
	for name, status := range h.components {
		components[name] = map[string]interface{}{
			"healthy":      status.Healthy,
			"last_checked": status.LastChecked,
			"message":      status.Message,
			"age":          time.Since(status.LastChecked).String(),
		}
	}
	report["components"] = components

	return report
}

// LivenessCheck implements healthz.Checker for the process liveness probe.
// The optimizer process itself is always live if this code is executing;
// liveness never depends on outbound dependencies, so restarts aren't
// triggered by a flaky cluster or telemetry backend.
func (h *Checker) LivenessCheck(_ *http.Request) error {
	return nil
}

// ReadinessCheck implements healthz.Checker for the process readiness
// probe: all three outbound dependencies must be healthy.
func (h *Checker) ReadinessCheck(_ *http.Request) error {
	h.mu.Lock()
	h.lastOverallCheck = time.Now()
	h.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()

	var unhealthy []string
	for name, status := range h.components {
		if !status.Healthy {
			unhealthy = append(unhealthy, name)
		}
	}

	if len(unhealthy) > 0 {
		return fmt.Errorf("unhealthy components: %v", unhealthy)
	}
	return nil
}

// SetCheckInterval sets the interval for a future periodic health-check loop.
func (h *Checker) SetCheckInterval(interval time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkInterval = interval
}

// StartServer serves /healthz and /readyz on the given port using
// controller-runtime's healthz.Handler, until ctx is canceled.
func (h *Checker) StartServer(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/healthz", &healthz.Handler{Checks: map[string]healthz.Checker{
		"liveness": h.LivenessCheck,
	}})
	mux.Handle("/readyz", &healthz.Handler{Checks: map[string]healthz.Checker{
		"readiness": h.ReadinessCheck,
	}})

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
