// Copyright (C) 2024 right-sizer contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package alerts records alerts and dispatches them to a log sink and,
// if configured, a Slack-compatible webhook. The binary raises one for
// every bus event above info severity (rollout timeouts, rollbacks,
// evaluation failures); no fitness or error-rate threshold raises one.
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Alert represents a notable condition surfaced during the search.
type Alert struct {
	ID          string     `json:"id"`
	Generation  int        `json:"generation"`
	Severity    string     `json:"severity"` // "critical", "warning", "info"
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	Timestamp   time.Time  `json:"timestamp"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty"`
	Source      string     `json:"source"` // "rollout", "fitness", "remediation"
	MetricValue float64    `json:"metricValue"`
	Threshold   float64    `json:"threshold"`
}

// Manager handles alert lifecycle: creation, storage, retrieval, dispatch.
type Manager struct {
	alerts      map[string]*Alert
	alertsMutex sync.RWMutex

	subscribers []AlertSubscriber
	subMutex    sync.RWMutex

	webhookURL string
	webhookMu  sync.RWMutex

	logger *zap.Logger
	maxAge time.Duration
}

// AlertSubscriber receives alert updates.
type AlertSubscriber interface {
	OnAlert(ctx context.Context, alert *Alert) error
}

// New creates an alert manager.
func New(logger *zap.Logger) *Manager {
	return &Manager{
		alerts: make(map[string]*Alert),
		logger: logger,
		maxAge: 24 * time.Hour,
	}
}

// Create generates and stores a new alert, notifying subscribers and the
// webhook sink asynchronously.
func (m *Manager) Create(ctx context.Context, generation int, severity, title, message, source string, metricValue, threshold float64) (*Alert, error) {
	m.alertsMutex.Lock()
	defer m.alertsMutex.Unlock()

	alert := &Alert{
		ID:          fmt.Sprintf("gen%d-%s-%d", generation, source, time.Now().UnixMilli()),
		Generation:  generation,
		Severity:    severity,
		Title:       title,
		Message:     message,
		Timestamp:   time.Now(),
		Source:      source,
		MetricValue: metricValue,
		Threshold:   threshold,
	}

	m.alerts[alert.ID] = alert

	m.logger.Info("Alert created",
		zap.String("id", alert.ID),
		zap.Int("generation", generation),
		zap.String("severity", severity),
		zap.String("title", title),
	)

	go m.notifySubscribers(ctx, alert)
	go m.dispatchWebhook(alert)

	return alert, nil
}

// Get retrieves a specific alert.
func (m *Manager) Get(alertID string) *Alert {
	m.alertsMutex.RLock()
	defer m.alertsMutex.RUnlock()
	return m.alerts[alertID]
}

// List retrieves all active, unresolved, unexpired alerts.
func (m *Manager) List() []*Alert {
	m.alertsMutex.RLock()
	defer m.alertsMutex.RUnlock()

	result := make([]*Alert, 0)
	now := time.Now()

	for _, alert := range m.alerts {
		if alert.ResolvedAt != nil {
			continue
		}
		if now.Sub(alert.Timestamp) > m.maxAge {
			continue
		}
		result = append(result, alert)
	}

	return result
}

// Resolve marks an alert as resolved.
func (m *Manager) Resolve(alertID string) error {
	m.alertsMutex.Lock()
	defer m.alertsMutex.Unlock()

	alert, exists := m.alerts[alertID]
	if !exists {
		return fmt.Errorf("alert not found: %s", alertID)
	}

	now := time.Now()
	alert.ResolvedAt = &now

	m.logger.Info("Alert resolved", zap.String("id", alertID))

	return nil
}

// RegisterSubscriber adds an alert subscriber.
func (m *Manager) RegisterSubscriber(sub AlertSubscriber) {
	m.subMutex.Lock()
	defer m.subMutex.Unlock()
	m.subscribers = append(m.subscribers, sub)
}

// SetWebhookURL configures the Slack-compatible webhook alerts are
// dispatched to. An empty URL disables webhook dispatch.
func (m *Manager) SetWebhookURL(webhookURL string) {
	m.webhookMu.Lock()
	defer m.webhookMu.Unlock()
	m.webhookURL = webhookURL
}

func (m *Manager) notifySubscribers(ctx context.Context, alert *Alert) {
	m.subMutex.RLock()
	subs := make([]AlertSubscriber, len(m.subscribers))
	copy(subs, m.subscribers)
	m.subMutex.RUnlock()

	for _, sub := range subs {
		if err := sub.OnAlert(ctx, alert); err != nil {
			m.logger.Error("Subscriber notification failed",
				zap.Error(err),
				zap.String("alert_id", alert.ID),
			)
		}
	}
}

// dispatchWebhook posts the alert to the configured Slack-compatible
// webhook, if one is set.
func (m *Manager) dispatchWebhook(alert *Alert) {
	m.webhookMu.RLock()
	webhookURL := m.webhookURL
	m.webhookMu.RUnlock()

	if webhookURL == "" {
		return
	}

	payload := map[string]string{
		"text": fmt.Sprintf("[%s] %s: %s", alert.Severity, alert.Title, alert.Message),
	}
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		m.logger.Error("Failed to marshal webhook payload", zap.Error(err))
		return
	}

	resp, err := http.Post(webhookURL, "application/json", bytes.NewBuffer(jsonPayload))
	if err != nil {
		m.logger.Warn("Webhook dispatch failed", zap.Error(err), zap.String("alert_id", alert.ID))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		m.logger.Warn("Webhook dispatch returned non-200 status",
			zap.Int("status", resp.StatusCode), zap.String("alert_id", alert.ID))
	}
}

// CleanupResolved removes old resolved or expired alerts.
func (m *Manager) CleanupResolved() {
	m.alertsMutex.Lock()
	defer m.alertsMutex.Unlock()

	now := time.Now()
	toDelete := make([]string, 0)

	for id, alert := range m.alerts {
		if alert.ResolvedAt != nil && now.Sub(*alert.ResolvedAt) > time.Hour {
			toDelete = append(toDelete, id)
		}
		if alert.ResolvedAt == nil && now.Sub(alert.Timestamp) > m.maxAge {
			toDelete = append(toDelete, id)
		}
	}

	for _, id := range toDelete {
		delete(m.alerts, id)
	}

	if len(toDelete) > 0 {
		m.logger.Debug("Cleaned up alerts", zap.Int("count", len(toDelete)))
	}
}
