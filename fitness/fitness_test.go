// Copyright (C) 2024 right-sizer contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package fitness

import (
	"math"
	"testing"

	"right-sizer/individual"
)

func almostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) < eps
}

func TestWeights_Normalize(t *testing.T) {
	w := Weights{Throughput: 3, Latency: 1, Efficiency: 1, Reliability: 1}
	w.Normalize()
	sum := w.Throughput + w.Latency + w.Efficiency + w.Reliability
	if !almostEqual(sum, 1.0, 1e-9) {
		t.Errorf("expected weights to sum to 1, got %v", sum)
	}
}

func TestWeights_Normalize_ZeroSumUnchanged(t *testing.T) {
	w := Weights{}
	w.Normalize()
	if w.Throughput != 0 {
		t.Error("expected zero-sum weights to remain zero")
	}
}

func TestThroughputScore(t *testing.T) {
	if s := throughputScore(0); s != 0 {
		t.Errorf("expected 0 throughput to score 0, got %v", s)
	}
	if s := throughputScore(100); !almostEqual(s, 0.5, 0.01) {
		t.Errorf("expected 100 req/s to score ~0.50, got %v", s)
	}
	if s := throughputScore(1000); !almostEqual(s, 0.909, 0.01) {
		t.Errorf("expected 1000 req/s to score ~0.91, got %v", s)
	}
}

func TestLatencyScore(t *testing.T) {
	if s := latencyScore(0, 0); s != 1.0 {
		t.Errorf("expected no-data latency to score 1.0, got %v", s)
	}
	if s := latencyScore(0.1, 0.2); s <= 0 || s >= 1 {
		t.Errorf("expected latency score in (0,1), got %v", s)
	}
}

func TestEfficiencyScore_WastedCapacity(t *testing.T) {
	m := individual.Metrics{CPUUtilization: 0.1, MemUtilization: 0.1}
	s := efficiencyScore(m)
	if s <= 0 || s >= 1 {
		t.Errorf("expected penalized low-utilization score in (0,1), got %v", s)
	}
}

func TestEfficiencyScore_Saturation(t *testing.T) {
	m := individual.Metrics{CPUUtilization: 0.95, MemUtilization: 0.95}
	s := efficiencyScore(m)
	if s <= 0 || s >= 1 {
		t.Errorf("expected penalized high-utilization score in (0,1), got %v", s)
	}
}

func TestEfficiencyScore_PeaksAtPoint6(t *testing.T) {
	m := individual.Metrics{CPUUtilization: 0.6, MemUtilization: 0.6}
	if s := efficiencyScore(m); !almostEqual(s, 1.0, 1e-9) {
		t.Errorf("expected 0.6 avg utilization to peak at 1.0, got %v", s)
	}
}

func TestEfficiencyScore_ThroughputBonus(t *testing.T) {
	base := individual.Metrics{CPUUtilization: 0.2, MemUtilization: 0.2, Throughput: 10}
	boosted := individual.Metrics{CPUUtilization: 0.2, MemUtilization: 0.2, Throughput: 100}

	if efficiencyScore(boosted) <= efficiencyScore(base) {
		t.Error("expected high throughput under light load to score higher via bonus")
	}
}

func TestReliabilityScore(t *testing.T) {
	perfect := individual.Metrics{SuccessRate: 1.0, ErrorRate: 0}
	if s := reliabilityScore(perfect); s != 1.0 {
		t.Errorf("expected perfect reliability to score 1.0, got %v", s)
	}

	degraded := individual.Metrics{SuccessRate: 1.0, ErrorRate: 20}
	if s := reliabilityScore(degraded); !almostEqual(s, 0.5, 1e-9) {
		t.Errorf("expected clamped error rate to halve score, got %v", s)
	}
}

func TestCalculator_Calculate_BoundedRange(t *testing.T) {
	c := New(DefaultWeights())
	ind := individual.Individual{Replicas: 3, CPULimit: 1.0, MemoryLimit: 512}
	m := individual.Metrics{
		Throughput: 200, AvgLatency: 0.05, P95Latency: 0.1,
		SuccessRate: 0.99, ErrorRate: 0.1,
		CPUUtilization: 0.5, MemUtilization: 0.5,
	}

	score := c.Calculate(ind, m)
	if score < 0 || score > 1.2 {
		t.Errorf("expected fitness in [0, 1.2], got %v", score)
	}
}

func TestCalculator_Calculate_ZeroMetricsIsLowFitness(t *testing.T) {
	c := New(DefaultWeights())
	ind := individual.Individual{Replicas: 1, CPULimit: 0.1, MemoryLimit: 128}
	score := c.Calculate(ind, individual.Metrics{})

	if score < 0 {
		t.Errorf("expected non-negative fitness for zero metrics, got %v", score)
	}
}
