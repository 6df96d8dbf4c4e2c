// Copyright (C) 2024 right-sizer contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package evalcache memoizes evaluation results by individual identity,
// so an identical (replicas, cpu_limit, memory_limit) triple seen again
// within a generation or across generations skips a full cluster
// apply/rollout/load-test/telemetry cycle.
package evalcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"right-sizer/individual"
	"right-sizer/logger"
)

type entry struct {
	result    individual.EvaluationResult
	timestamp time.Time
}

// Cache is a TTL-only memoization table of Individual -> EvaluationResult.
// Expiry is lazy on Get (an expired hit is treated as a miss and deleted)
// and eager via CleanupExpired, which a caller can run on a timer.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
}

// New builds a cache with the given time-to-live for entries.
func New(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
	}
}

// key returns a stable content hash of the individual's identity triple.
// Keying on a canonical JSON encoding (fixed field order, as declared in
// the struct below) rather than a derived composite string keeps the
// cache decoupled from how Individual happens to stringify.
func key(ind individual.Individual) string {
	canonical := struct {
		Replicas    int     `json:"replicas"`
		CPULimit    float64 `json:"cpu_limit"`
		MemoryLimit int     `json:"memory_limit"`
	}{ind.Replicas, ind.CPULimit, ind.MemoryLimit}

	data, _ := json.Marshal(canonical)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Get returns the cached result for ind if present and unexpired.
func (c *Cache) Get(ind individual.Individual) (individual.EvaluationResult, bool) {
	k := key(ind)

	c.mu.RLock()
	e, ok := c.entries[k]
	c.mu.RUnlock()
	if !ok {
		return individual.EvaluationResult{}, false
	}

	if time.Since(e.timestamp) >= c.ttl {
		c.mu.Lock()
		delete(c.entries, k)
		c.mu.Unlock()
		return individual.EvaluationResult{}, false
	}

	logger.Debug("evalcache hit for individual %+v", ind)
	return e.result, true
}

// Put stores result under ind's identity key, timestamped now.
func (c *Cache) Put(ind individual.Individual, result individual.EvaluationResult) {
	k := key(ind)
	c.mu.Lock()
	c.entries[k] = entry{result: result, timestamp: time.Now()}
	c.mu.Unlock()
}

// CleanupExpired deletes every entry older than the TTL and returns how
// many were removed.
func (c *Cache) CleanupExpired() int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if now.Sub(e.timestamp) >= c.ttl {
			delete(c.entries, k)
			removed++
		}
	}

	if removed > 0 {
		logger.Debug("evalcache cleaned up %d expired entries", removed)
	}
	return removed
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

// Size returns the current entry count, including any not-yet-lazily-
// expired stale entries.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// StartCleanupLoop runs CleanupExpired once per TTL interval until stop
// is closed. The interval is this cache's own TTL rather than a shared
// constant.
func (c *Cache) StartCleanupLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(c.ttl)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.CleanupExpired()
			case <-stop:
				return
			}
		}
	}()
}
