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

// Package individual defines the value types shared across the search —
// one candidate configuration, the metrics gathered about it, and the
// result of evaluating it — plus the per-generation summary statistics
// the optimizer reports.
package individual

import "time"

// Individual is one candidate (replicas, cpu_limit, memory_limit)
// configuration for the target deployment. Identity and equality are on
// this triple; ContainerName is metadata, not part of identity.
type Individual struct {
	Replicas      int     `json:"replicas"`
	CPULimit      float64 `json:"cpu_limit"`
	MemoryLimit   int     `json:"memory_limit"`
	ContainerName string  `json:"container_name,omitempty"`
}

// Equal reports whether two individuals have the same identity triple.
func (ind Individual) Equal(other Individual) bool {
	return ind.Replicas == other.Replicas &&
		ind.CPULimit == other.CPULimit &&
		ind.MemoryLimit == other.MemoryLimit
}

// Metrics holds the raw observations gathered for one evaluated
// individual: load-test results blended with telemetry readings.
type Metrics struct {
	Throughput      float64   `json:"throughput"`
	AvgLatency      float64   `json:"avg_latency"`
	P95Latency      float64   `json:"p95_latency"`
	P99Latency      float64   `json:"p99_latency"`
	SuccessRate     float64   `json:"success_rate"`
	TotalRequests   int       `json:"total_requests"`
	FailedRequests  int       `json:"failed_requests"`
	CPUUsage        float64   `json:"cpu_usage"`
	MemoryUsage     float64   `json:"memory_usage"`
	CPUUtilization  float64   `json:"cpu_utilization"`
	MemUtilization  float64   `json:"memory_utilization"`
	RequestRate     float64   `json:"request_rate"`
	ErrorRate       float64   `json:"error_rate"`
	EvaluatedAt     time.Time `json:"evaluated_at"`
}

// EvaluationResult is the complete outcome of evaluating one individual.
type EvaluationResult struct {
	Individual     Individual `json:"individual"`
	Fitness        float64    `json:"fitness"`
	Metrics        Metrics    `json:"metrics"`
	EvaluationTime float64    `json:"evaluation_time"`
	Error          string     `json:"error,omitempty"`
}

// GenerationStats summarizes one generation of the search.
type GenerationStats struct {
	Generation      int        `json:"generation"`
	PopulationSize  int        `json:"population_size"`
	AvgFitness      float64    `json:"avg_fitness"`
	MaxFitness      float64    `json:"max_fitness"`
	MinFitness      float64    `json:"min_fitness"`
	BestIndividual  Individual `json:"best_individual"`
	Diversity       float64    `json:"diversity"`
	Convergence     float64    `json:"convergence"`
}

// Convergence computes 1/(1+variance(fitness)) over a set of scores.
func Convergence(fitnessScores []float64) float64 {
	if len(fitnessScores) == 0 {
		return 0
	}
	var sum float64
	for _, f := range fitnessScores {
		sum += f
	}
	mean := sum / float64(len(fitnessScores))

	var variance float64
	for _, f := range fitnessScores {
		d := f - mean
		variance += d * d
	}
	variance /= float64(len(fitnessScores))

	return 1.0 / (1.0 + variance)
}
