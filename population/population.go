// Copyright (C) 2024 right-sizer contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package population implements the genetic algorithm's generational
// machinery: random initialization, tournament selection, crossover,
// mutation, and elitism-preserving evolution — everything except
// fitness evaluation itself, which lives in fitness and is supplied by
// the caller as a parallel slice of scores.
package population

import (
	"math"
	"math/rand"
	"sort"

	"right-sizer/config"
	"right-sizer/individual"
	"right-sizer/validation"
)

// Population is one generation's set of candidate individuals.
type Population struct {
	Individuals []individual.Individual
	Generation  int
}

// Size returns the number of individuals.
func (p Population) Size() int { return len(p.Individuals) }

// Best returns the individual with the highest fitness score and its
// score. fitnessScores must be parallel to p.Individuals.
func (p Population) Best(fitnessScores []float64) (individual.Individual, float64) {
	bestIdx := 0
	for i, score := range fitnessScores {
		if score > fitnessScores[bestIdx] {
			bestIdx = i
		}
	}
	return p.Individuals[bestIdx], fitnessScores[bestIdx]
}

// Diversity measures spread of the population's genes as the mean of
// each gene's variance normalized to its configured bounds range,
// clamped to [0, 1].
func (p Population) Diversity(bounds config.GABounds) float64 {
	if len(p.Individuals) < 2 {
		return 0
	}

	replicas := make([]float64, len(p.Individuals))
	cpu := make([]float64, len(p.Individuals))
	mem := make([]float64, len(p.Individuals))
	for i, ind := range p.Individuals {
		replicas[i] = float64(ind.Replicas)
		cpu[i] = ind.CPULimit
		mem[i] = float64(ind.MemoryLimit)
	}

	replicasRange := float64(bounds.ReplicasMax - bounds.ReplicasMin)
	cpuRange := bounds.CPUMax - bounds.CPUMin
	memRange := float64(bounds.MemoryMax - bounds.MemoryMin)

	varReplicas := variance(replicas) / (replicasRange * replicasRange)
	varCPU := variance(cpu) / (cpuRange * cpuRange)
	varMem := variance(mem) / (memRange * memRange)

	diversity := (varReplicas + varCPU + varMem) / 3.0
	if diversity > 1.0 {
		return 1.0
	}
	return diversity
}

func variance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return sq / float64(len(values))
}

// Params configures the generational operators. Fields are used as
// given; no defaults are substituted for zero values.
type Params struct {
	MutationRate   float64
	CrossoverRate  float64
	ElitismCount   int
	TournamentSize int
}

// Manager runs the generational operators against a fixed search space
// and parameter set.
type Manager struct {
	bounds    config.GABounds
	validator *validation.BoundsValidator
	params    Params
	rng       *rand.Rand
}

// New builds a Manager bound to the given search space and operator
// parameters.
func New(bounds config.GABounds, params Params) *Manager {
	return &Manager{
		bounds:    bounds,
		validator: validation.NewBoundsValidator(bounds),
		params:    params,
		rng:       rand.New(rand.NewSource(1)),
	}
}

// RandomIndividual generates one individual uniformly within bounds,
// with cpu_limit rounded to 2 decimal places.
func (m *Manager) RandomIndividual() individual.Individual {
	ind := individual.Individual{
		Replicas:    m.bounds.ReplicasMin + m.rng.Intn(m.bounds.ReplicasMax-m.bounds.ReplicasMin+1),
		CPULimit:    roundTo2(m.bounds.CPUMin + m.rng.Float64()*(m.bounds.CPUMax-m.bounds.CPUMin)),
		MemoryLimit: m.bounds.MemoryMin + m.rng.Intn(m.bounds.MemoryMax-m.bounds.MemoryMin+1),
	}
	return ind
}

// InitialPopulation builds a generation-0 population of size random
// individuals.
func (m *Manager) InitialPopulation(size int) Population {
	individuals := make([]individual.Individual, size)
	for i := range individuals {
		individuals[i] = m.RandomIndividual()
	}
	return Population{Individuals: individuals, Generation: 0}
}

// Validate clamps ind's genes back into the configured bounds.
func (m *Manager) Validate(ind individual.Individual) individual.Individual {
	return m.validator.Clamp(ind)
}

// Mutate perturbs one randomly chosen gene of ind by a Gaussian (for
// cpu_limit) or uniform integer (for replicas/memory_limit) delta sized
// by strength * gene range, then re-clamps to bounds. With probability
// 1-MutationRate, ind passes through unchanged.
func (m *Manager) Mutate(ind individual.Individual, strength float64) individual.Individual {
	if m.rng.Float64() > m.params.MutationRate {
		return ind
	}

	mutated := ind
	switch m.rng.Intn(3) {
	case 0:
		rangeSize := m.bounds.ReplicasMax - m.bounds.ReplicasMin
		delta := randIntRange(m.rng, -int(float64(rangeSize)*strength), int(float64(rangeSize)*strength))
		mutated.Replicas += delta
	case 1:
		rangeSize := m.bounds.CPUMax - m.bounds.CPUMin
		delta := m.rng.NormFloat64() * rangeSize * strength
		mutated.CPULimit = roundTo2(mutated.CPULimit + delta)
	default:
		rangeSize := m.bounds.MemoryMax - m.bounds.MemoryMin
		delta := randIntRange(m.rng, -int(float64(rangeSize)*strength), int(float64(rangeSize)*strength))
		mutated.MemoryLimit += delta
	}

	return m.Validate(mutated)
}

// Crossover blends two parents into a child: replicas and memory_limit
// each pick a random parent's value or the rounded average (50/50), cpu
// is an alpha-blend with alpha in [0.3, 0.7]. With probability
// 1-CrossoverRate, a copy of a randomly chosen parent passes through
// with no blending.
func (m *Manager) Crossover(parent1, parent2 individual.Individual) individual.Individual {
	if m.rng.Float64() > m.params.CrossoverRate {
		if m.rng.Float64() < 0.5 {
			return parent1
		}
		return parent2
	}

	var child individual.Individual

	if m.rng.Float64() < 0.5 {
		if m.rng.Float64() < 0.5 {
			child.Replicas = parent1.Replicas
		} else {
			child.Replicas = parent2.Replicas
		}
	} else {
		child.Replicas = int(math.Round(float64(parent1.Replicas+parent2.Replicas) / 2))
	}

	alpha := 0.3 + m.rng.Float64()*0.4
	child.CPULimit = roundTo2(alpha*parent1.CPULimit + (1-alpha)*parent2.CPULimit)

	if m.rng.Float64() < 0.5 {
		if m.rng.Float64() < 0.5 {
			child.MemoryLimit = parent1.MemoryLimit
		} else {
			child.MemoryLimit = parent2.MemoryLimit
		}
	} else {
		child.MemoryLimit = int(math.Round(float64(parent1.MemoryLimit+parent2.MemoryLimit) / 2))
	}

	return m.Validate(child)
}

// TournamentSelect picks tournamentSize individuals at random and
// returns the one with the best fitness score. A tournamentSize larger
// than the population is capped to the population size.
func (m *Manager) TournamentSelect(pop Population, fitnessScores []float64, tournamentSize int) individual.Individual {
	if tournamentSize <= 0 {
		tournamentSize = m.params.TournamentSize
	}
	if tournamentSize > len(pop.Individuals) {
		tournamentSize = len(pop.Individuals)
	}

	indices := m.rng.Perm(len(pop.Individuals))[:tournamentSize]
	bestIdx := indices[0]
	for _, idx := range indices[1:] {
		if fitnessScores[idx] > fitnessScores[bestIdx] {
			bestIdx = idx
		}
	}
	return pop.Individuals[bestIdx]
}

// SelectParents runs two independent tournaments, retrying the second
// up to 10 times if it lands on a gene-identical individual to the
// first (a no-op once the population only holds one distinct genome).
func (m *Manager) SelectParents(pop Population, fitnessScores []float64) (individual.Individual, individual.Individual) {
	parent1 := m.TournamentSelect(pop, fitnessScores, m.params.TournamentSize)
	parent2 := m.TournamentSelect(pop, fitnessScores, m.params.TournamentSize)

	attempts := 0
	for parent1.Equal(parent2) && len(pop.Individuals) > 1 && attempts < 10 {
		parent2 = m.TournamentSelect(pop, fitnessScores, m.params.TournamentSize)
		attempts++
	}

	return parent1, parent2
}

// Evolve produces the next generation: the top elitismCount individuals
// pass through unchanged, and the remaining slots are filled by
// crossover+mutation children drawn from tournaments over the best half
// of the current population (the survivors).
func (m *Manager) Evolve(pop Population, fitnessScores []float64) Population {
	ranked := make([]int, len(pop.Individuals))
	for i := range ranked {
		ranked[i] = i
	}
	sort.Slice(ranked, func(i, j int) bool {
		return fitnessScores[ranked[i]] > fitnessScores[ranked[j]]
	})

	elite := make([]individual.Individual, 0, m.params.ElitismCount)
	for _, idx := range ranked[:min(m.params.ElitismCount, len(ranked))] {
		elite = append(elite, pop.Individuals[idx])
	}

	survivorCount := max(1, len(pop.Individuals)/2)
	survivorIdx := ranked[:min(survivorCount, len(ranked))]
	survivors := make([]individual.Individual, len(survivorIdx))
	survivorScores := make([]float64, len(survivorIdx))
	for i, idx := range survivorIdx {
		survivors[i] = pop.Individuals[idx]
		survivorScores[i] = fitnessScores[idx]
	}
	survivorPop := Population{Individuals: survivors}

	children := make([]individual.Individual, 0, len(pop.Individuals)-len(elite))
	for len(children) < len(pop.Individuals)-len(elite) {
		p1, p2 := m.SelectParents(survivorPop, survivorScores)
		child := m.Crossover(p1, p2)
		child = m.Mutate(child, 0.1)
		children = append(children, child)
	}

	return Population{
		Individuals: append(elite, children...),
		Generation:  pop.Generation + 1,
	}
}

func roundTo2(v float64) float64 {
	return math.Round(v*100) / 100
}

func randIntRange(rng *rand.Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rng.Intn(hi-lo+1)
}
