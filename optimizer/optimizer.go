// Copyright (C) 2024 right-sizer contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package optimizer drives the genetic search end to end: it sequences
// generations, evaluates individuals against the live cluster, tracks
// history, and applies the best configuration found once the run ends.
package optimizer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"right-sizer/cluster"
	"right-sizer/config"
	"right-sizer/evalcache"
	"right-sizer/events"
	"right-sizer/fitness"
	"right-sizer/individual"
	"right-sizer/loadgen"
	"right-sizer/logger"
	"right-sizer/population"
	"right-sizer/telemetry"
)

// Config holds the driver's run parameters.
type Config struct {
	PopulationSize int
	Generations    int
	Bounds         config.GABounds

	AppURL   string
	AppLabel string

	LoadDuration time.Duration
	LoadProfile  loadgen.Profile

	RolloutTimeout time.Duration
	EvaluateInLine bool // true = sequential; false = pipelined with MaxParallel workers
	MaxParallel    int
}

// AuditSink receives per-generation and per-evaluation records.
// Satisfied by audit.Logger without optimizer importing audit directly
// for anything beyond this narrow interface.
type AuditSink interface {
	LogApplication(gen int, previous, applied individual.Individual, reason, status string, duration time.Duration, err error)
	LogEvaluation(gen int, result individual.EvaluationResult)
	LogGeneration(stats individual.GenerationStats)
}

// Driver runs the generational search loop.
type Driver struct {
	cfg Config

	cluster    *cluster.Gateway
	telemetry  telemetry.Gateway
	loadRunner *loadgen.Runner
	fitnessCalc *fitness.Calculator
	cache      *evalcache.Cache
	popManager *population.Manager
	bus        *events.EventBus
	audit      AuditSink

	mu sync.Mutex // serializes the cluster-mutating evaluation phase

	history []individual.GenerationStats
	results []individual.EvaluationResult
}

// New builds a Driver. audit may be nil to run without an audit trail.
func New(
	cfg Config,
	clusterGW *cluster.Gateway,
	telemetryGW telemetry.Gateway,
	loadRunner *loadgen.Runner,
	fitnessCalc *fitness.Calculator,
	cache *evalcache.Cache,
	popManager *population.Manager,
	bus *events.EventBus,
	audit AuditSink,
) *Driver {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 2
	}
	return &Driver{
		cfg:         cfg,
		cluster:     clusterGW,
		telemetry:   telemetryGW,
		loadRunner:  loadRunner,
		fitnessCalc: fitnessCalc,
		cache:       cache,
		popManager:  popManager,
		bus:         bus,
		audit:       audit,
	}
}

// History returns every completed generation's summary statistics.
func (d *Driver) History() []individual.GenerationStats { return d.history }

// Results returns every individual evaluation performed across the run.
func (d *Driver) Results() []individual.EvaluationResult { return d.results }

// Run executes the full generational search and applies the best
// individual found with save_for_rollback=false before returning it.
func (d *Driver) Run(ctx context.Context) (*individual.Individual, error) {
	logger.Info("starting genetic optimizer: population=%d generations=%d parallel=%v",
		d.cfg.PopulationSize, d.cfg.Generations, !d.cfg.EvaluateInLine)

	pop := d.popManager.InitialPopulation(d.cfg.PopulationSize)

	var best *individual.Individual
	bestFitness := -1.0

	for gen := 0; gen < d.cfg.Generations; gen++ {
		d.publish(events.EventGenerationStarted, pop.Generation, events.SeverityInfo,
			fmt.Sprintf("generation %d/%d starting", pop.Generation+1, d.cfg.Generations))

		results := d.evaluatePopulation(ctx, pop)
		d.results = append(d.results, results...)

		stats := generationStats(pop, results, d.cfg.Bounds)
		d.history = append(d.history, stats)
		if d.audit != nil {
			d.audit.LogGeneration(stats)
		}

		for i, r := range results {
			if r.Fitness > bestFitness {
				bestFitness = r.Fitness
				ind := pop.Individuals[i]
				best = &ind
			}
		}

		logger.Info("generation %d: avg=%.4f max=%.4f min=%.4f diversity=%.4f convergence=%.4f",
			stats.Generation, stats.AvgFitness, stats.MaxFitness, stats.MinFitness, stats.Diversity, stats.Convergence)

		d.publish(events.EventGenerationCompleted, pop.Generation, events.SeverityInfo,
			fmt.Sprintf("generation %d complete: best fitness %.4f", pop.Generation, stats.MaxFitness))

		if gen < d.cfg.Generations-1 {
			fitnessScores := make([]float64, len(results))
			for i, r := range results {
				fitnessScores[i] = r.Fitness
			}
			pop = d.popManager.Evolve(pop, fitnessScores)
		}
	}

	if best == nil {
		return nil, fmt.Errorf("optimizer: no individual evaluated")
	}

	logger.Info("applying best configuration: %+v (fitness=%.4f)", *best, bestFitness)
	if err := d.cluster.Apply(ctx, *best, false); err != nil {
		logger.Error("failed to apply best configuration: %v", err)
		return best, err
	}

	d.publish(events.EventSearchCompleted, d.cfg.Generations, events.SeverityInfo,
		fmt.Sprintf("search complete: best fitness %.4f", bestFitness))

	return best, nil
}

func (d *Driver) publish(eventType events.EventType, generation int, severity events.Severity, message string) {
	if d.bus == nil {
		return
	}
	d.bus.PublishAsync(events.NewEvent(eventType, generation, severity, message))
}

func generationStats(pop population.Population, results []individual.EvaluationResult, bounds config.GABounds) individual.GenerationStats {
	fitnessScores := make([]float64, len(results))
	var sum, max, min float64
	bestIdx := 0
	for i, r := range results {
		fitnessScores[i] = r.Fitness
		sum += r.Fitness
		if i == 0 || r.Fitness > max {
			max = r.Fitness
			bestIdx = i
		}
		if i == 0 || r.Fitness < min {
			min = r.Fitness
		}
	}

	avg := 0.0
	if len(results) > 0 {
		avg = sum / float64(len(results))
	}

	return individual.GenerationStats{
		Generation:     pop.Generation,
		PopulationSize: pop.Size(),
		AvgFitness:     avg,
		MaxFitness:     max,
		MinFitness:     min,
		BestIndividual: pop.Individuals[bestIdx],
		Diversity:      pop.Diversity(bounds),
		Convergence:    individual.Convergence(fitnessScores),
	}
}
