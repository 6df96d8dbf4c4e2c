// Copyright (C) 2024 right-sizer contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package remediation watches for rollout timeouts and triggers a bounded
// number of automatic rollbacks to the last-known-good configuration.
package remediation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"right-sizer/events"
	"right-sizer/logger"
)

// RollbackFunc restores the cluster to the last-known-good configuration.
// It is supplied by the caller (the cluster gateway) so this package has no
// direct dependency on how a rollback is actually performed.
type RollbackFunc func(ctx context.Context, generation int) error

// Config configures the remediation engine.
type Config struct {
	Enabled            bool          `json:"enabled"`
	DryRun             bool          `json:"dryRun"`
	SafetyTimeout      time.Duration `json:"safetyTimeout"`
	MaxRollbacksPerRun int           `json:"maxRollbacksPerRun"`
}

// Engine subscribes to rollout-timeout events and triggers a rollback,
// bounded by a per-run budget and a safety lock against concurrent
// rollbacks.
type Engine struct {
	mu         sync.RWMutex
	eventBus   *events.EventBus
	config     Config
	rollbackFn RollbackFunc

	rollbackCount int
	safetyLock    SafetyLock

	eventCh chan *events.Event
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// SafetyLock prevents overlapping rollback executions.
type SafetyLock struct {
	mutex  sync.Mutex
	active bool
}

func (sl *SafetyLock) acquire() bool {
	sl.mutex.Lock()
	defer sl.mutex.Unlock()
	if sl.active {
		return false
	}
	sl.active = true
	return true
}

func (sl *SafetyLock) release() {
	sl.mutex.Lock()
	defer sl.mutex.Unlock()
	sl.active = false
}

// NewEngine creates a remediation engine bound to an event bus and a
// rollback implementation. Call Start to begin listening for timeouts.
func NewEngine(eventBus *events.EventBus, config Config, rollbackFn RollbackFunc) *Engine {
	if config.MaxRollbacksPerRun <= 0 {
		config.MaxRollbacksPerRun = 3
	}
	if config.SafetyTimeout <= 0 {
		config.SafetyTimeout = 30 * time.Second
	}

	return &Engine{
		eventBus:   eventBus,
		config:     config,
		rollbackFn: rollbackFn,
		eventCh:    make(chan *events.Event, 16),
		stopCh:     make(chan struct{}),
	}
}

// Start begins listening for rollout-timeout events and reacting to them.
// It returns immediately; the listener runs in a background goroutine until
// Stop is called or ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	if !e.config.Enabled {
		logger.Info("remediation engine disabled, not starting listener")
		return
	}

	filter := &events.EventFilter{EventTypes: []events.EventType{events.EventRolloutTimedOut}}
	e.eventBus.SubscribeChannel(filter, e.eventCh)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case ev := <-e.eventCh:
				if ev == nil {
					continue
				}
				if err := e.handleTimeout(ctx, ev); err != nil {
					logger.Error("remediation action failed: %v", err)
				}
			case <-ctx.Done():
				return
			case <-e.stopCh:
				return
			}
		}
	}()
}

// Stop halts the listener goroutine.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
}

func (e *Engine) handleTimeout(ctx context.Context, ev *events.Event) error {
	return e.TriggerRollback(ctx, ev.Generation)
}

// TriggerRollback executes a rollback for the given generation, subject to
// the per-run budget and the safety lock. It is safe to call directly (e.g.
// from tests or an explicit operator action) as well as from the event
// listener.
func (e *Engine) TriggerRollback(ctx context.Context, generation int) error {
	e.mu.Lock()
	if e.rollbackCount >= e.config.MaxRollbacksPerRun {
		e.mu.Unlock()
		err := fmt.Errorf("rollback budget exhausted: %d/%d used", e.rollbackCount, e.config.MaxRollbacksPerRun)
		e.publish(generation, events.EventEvaluationFailed, events.SeverityError, err.Error())
		return err
	}
	e.mu.Unlock()

	if !e.safetyLock.acquire() {
		return fmt.Errorf("rollback already in progress")
	}
	defer e.safetyLock.release()

	e.mu.Lock()
	e.rollbackCount++
	count := e.rollbackCount
	e.mu.Unlock()

	logger.Warn("rollout timed out at generation %d, triggering rollback (%d/%d)",
		generation, count, e.config.MaxRollbacksPerRun)

	if e.config.DryRun {
		logger.Info("[DRY RUN] would roll back generation %d", generation)
		e.publish(generation, events.EventRollbackTriggered, events.SeverityWarning, "dry-run rollback")
		return nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, e.config.SafetyTimeout)
	defer cancel()

	if err := e.rollbackFn(timeoutCtx, generation); err != nil {
		e.publish(generation, events.EventEvaluationFailed, events.SeverityError,
			fmt.Sprintf("rollback failed: %v", err))
		return fmt.Errorf("rollback failed: %w", err)
	}

	e.publish(generation, events.EventRollbackTriggered, events.SeverityInfo, "rollback completed")
	logger.Info("rollback completed for generation %d", generation)
	return nil
}

// RollbackCount returns the number of rollbacks executed so far this run.
func (e *Engine) RollbackCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rollbackCount
}

// Budget returns the configured maximum rollbacks per run.
func (e *Engine) Budget() int {
	return e.config.MaxRollbacksPerRun
}

func (e *Engine) publish(generation int, eventType events.EventType, severity events.Severity, message string) {
	if e.eventBus == nil {
		return
	}
	ev := events.NewEvent(eventType, generation, severity, message)
	e.eventBus.PublishAsync(ev)
}
