// Copyright (C) 2024 right-sizer contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package optimizer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"right-sizer/events"
	"right-sizer/individual"
	"right-sizer/logger"
	"right-sizer/population"
)

// evaluatePopulation scores every individual in pop, sequentially or
// pipelined across d.cfg.MaxParallel workers. In the pipelined case, a
// single mutex still serializes the cluster-mutating phase
// (apply→rollout→load→telemetry→fitness) of each evaluation — only the
// cache lookup/store and audit record may overlap across workers; the cluster
// itself only ever has one configuration applied to it at a time.
func (d *Driver) evaluatePopulation(ctx context.Context, pop population.Population) []individual.EvaluationResult {
	n := len(pop.Individuals)
	results := make([]individual.EvaluationResult, n)

	if d.cfg.EvaluateInLine || n <= 1 {
		for i, ind := range pop.Individuals {
			logger.Info("evaluating individual %d/%d: %+v", i+1, n, ind)
			results[i] = d.evaluateIndividual(ctx, pop.Generation, ind)
		}
		return results
	}

	logger.Info("evaluating %d individuals pipelined (max %d workers)", n, d.cfg.MaxParallel)

	sem := make(chan struct{}, d.cfg.MaxParallel)
	var wg sync.WaitGroup
	wg.Add(n)
	for i, ind := range pop.Individuals {
		i, ind := i, ind
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = d.evaluateIndividual(ctx, pop.Generation, ind)
		}()
	}
	wg.Wait()

	return results
}

// evaluateIndividual evaluates one individual, memoizing the result.
// A rollout that fails to converge, or any cluster-mutating error,
// produces a zero-fitness result rather than propagating an error —
// one bad individual must not abort the generation.
func (d *Driver) evaluateIndividual(ctx context.Context, generation int, ind individual.Individual) individual.EvaluationResult {
	if cached, ok := d.cache.Get(ind); ok {
		return cached
	}

	start := time.Now()
	result := d.runEvaluationPipeline(ctx, generation, ind)
	result.EvaluationTime = time.Since(start).Seconds()

	d.cache.Put(ind, result)
	if d.audit != nil {
		d.audit.LogEvaluation(generation, result)
	}

	return result
}

func (d *Driver) runEvaluationPipeline(ctx context.Context, generation int, ind individual.Individual) individual.EvaluationResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.cluster.Apply(ctx, ind, true); err != nil {
		logger.Warn("apply failed for %+v: %v", ind, err)
		return individual.EvaluationResult{Individual: ind, Fitness: 0, Error: err.Error()}
	}

	if err := d.cluster.WaitForRollout(ctx, d.cfg.RolloutTimeout); err != nil {
		logger.Warn("rollout did not converge for %+v: %v", ind, err)
		d.publish(events.EventRolloutTimedOut, generation, events.SeverityWarning,
			fmt.Sprintf("rollout timed out for %+v: %v", ind, err))
		return individual.EvaluationResult{Individual: ind, Fitness: 0, Error: err.Error()}
	}

	loadURL := d.cfg.AppURL + "/sort?size=5000"
	loadResult := d.loadRunner.Run(ctx, loadURL, d.cfg.LoadDuration, d.cfg.LoadProfile)

	cpuUsage := d.telemetry.CPUUsage(ctx, d.cfg.AppLabel, 1)
	memUsage := d.telemetry.MemoryUsage(ctx, d.cfg.AppLabel)
	requestRate := d.telemetry.RequestRate(ctx, d.cfg.AppLabel, 1)
	p95 := d.telemetry.LatencyQuantile(ctx, d.cfg.AppLabel, 1, 0.95)
	p99 := d.telemetry.LatencyQuantile(ctx, d.cfg.AppLabel, 1, 0.99)
	errorRate := d.telemetry.ErrorRate(ctx, d.cfg.AppLabel, 1)

	if p95 <= 0 {
		p95 = loadResult.P95Latency
	}
	if p99 <= 0 {
		p99 = loadResult.P99Latency
	}

	metrics := individual.Metrics{
		Throughput:     loadResult.Throughput,
		AvgLatency:     loadResult.AvgLatency,
		P95Latency:     p95,
		P99Latency:     p99,
		SuccessRate:    loadResult.SuccessRate,
		TotalRequests:  loadResult.Total,
		FailedRequests: loadResult.Fail,
		CPUUsage:       cpuUsage,
		MemoryUsage:    memUsage,
		CPUUtilization: safeDivide(cpuUsage, ind.CPULimit),
		MemUtilization: safeDivide(memUsage/(1024*1024), float64(ind.MemoryLimit)),
		RequestRate:    requestRate,
		ErrorRate:      errorRate,
		EvaluatedAt:    time.Now(),
	}

	fitnessScore := d.fitnessCalc.Calculate(ind, metrics)

	return individual.EvaluationResult{
		Individual: ind,
		Fitness:    fitnessScore,
		Metrics:    metrics,
	}
}

// safeDivide returns 0 instead of +Inf/NaN when denom is zero or
// negative — mirrors the original's guard for a not-yet-converged
// deployment reporting zero limits.
func safeDivide(numerator, denom float64) float64 {
	if denom <= 0 {
		return 0
	}
	return numerator / denom
}
