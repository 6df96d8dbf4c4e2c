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

// Package audit records every individual the optimizer applies, evaluates,
// or rolls back to an append-only JSON-lines log, asynchronously so the
// search loop never blocks on disk I/O.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"right-sizer/config"
	"right-sizer/individual"
	"right-sizer/logger"
	"right-sizer/metrics"
)

// Event represents a single audit record.
type Event struct {
	Timestamp          time.Time             `json:"timestamp"`
	EventID            string                `json:"eventId"`
	EventType          string                `json:"eventType"`
	Generation         int                   `json:"generation,omitempty"`
	Individual         *individual.Individual `json:"individual,omitempty"`
	PreviousIndividual *individual.Individual `json:"previousIndividual,omitempty"`
	Fitness            float64               `json:"fitness,omitempty"`
	Reason             string                `json:"reason,omitempty"`
	Status             string                `json:"status"`
	Error              string                `json:"error,omitempty"`
	Duration           time.Duration         `json:"duration,omitempty"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
}

// Logger handles async audit logging of the search's decisions.
type Logger struct {
	config         *config.Config
	metrics        *metrics.GAMetrics
	logFile        *os.File
	logChannel     chan Event
	stopChannel    chan struct{}
	wg             sync.WaitGroup
	mutex          sync.RWMutex
	eventIDCounter uint64
}

// Config holds audit logger configuration.
type Config struct {
	LogPath       string
	MaxFileSize   int64
	MaxFiles      int
	BufferSize    int
	FlushInterval time.Duration
	EnableFileLog bool
	RetentionDays int
}

// DefaultConfig returns default audit configuration.
func DefaultConfig() Config {
	return Config{
		LogPath:       "/var/log/right-sizer/audit.log",
		MaxFileSize:   100 * 1024 * 1024,
		MaxFiles:      10,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
		EnableFileLog: true,
		RetentionDays: 30,
	}
}

// NewLogger creates a new audit logger and starts its background processor.
func NewLogger(cfg *config.Config, gaMetrics *metrics.GAMetrics, auditCfg Config) (*Logger, error) {
	al := &Logger{
		config:      cfg,
		metrics:     gaMetrics,
		logChannel:  make(chan Event, auditCfg.BufferSize),
		stopChannel: make(chan struct{}),
	}

	if auditCfg.EnableFileLog {
		logDir := filepath.Dir(auditCfg.LogPath)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create audit log directory: %v", err)
		}

		logFile, err := os.OpenFile(auditCfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log file: %v", err)
		}
		al.logFile = logFile
	}

	al.wg.Add(1)
	go al.processEvents(auditCfg)

	logger.Info("Audit logger initialized with file logging: %v", auditCfg.EnableFileLog)

	return al, nil
}

// Close closes the audit logger and flushes remaining events.
func (al *Logger) Close() error {
	select {
	case <-al.stopChannel:
		return nil
	default:
	}
	close(al.stopChannel)
	al.wg.Wait()

	if al.logFile != nil {
		return al.logFile.Close()
	}
	return nil
}

// LogApplication logs that an individual's configuration was applied to
// the target deployment.
func (al *Logger) LogApplication(gen int, previous, applied individual.Individual, reason, status string, duration time.Duration, err error) {
	event := Event{
		Timestamp:          time.Now(),
		EventID:             al.generateEventID(),
		EventType:           "ConfigurationApplied",
		Generation:          gen,
		Individual:          &applied,
		PreviousIndividual:  &previous,
		Reason:              reason,
		Status:              status,
		Duration:            duration,
	}
	if err != nil {
		event.Error = err.Error()
	}
	al.logEvent(event)
}

// LogEvaluation logs the outcome of evaluating one individual.
func (al *Logger) LogEvaluation(gen int, result individual.EvaluationResult) {
	event := Event{
		Timestamp:  time.Now(),
		EventID:    al.generateEventID(),
		EventType:  "IndividualEvaluated",
		Generation: gen,
		Individual: &result.Individual,
		Fitness:    result.Fitness,
		Status:     "success",
		Metadata: map[string]interface{}{
			"throughput":   result.Metrics.Throughput,
			"success_rate": result.Metrics.SuccessRate,
		},
	}
	if result.Error != "" {
		event.Status = "failure"
		event.Error = result.Error
	}
	al.logEvent(event)
}

// LogRollback logs that a rollout was rolled back to a previous individual.
func (al *Logger) LogRollback(gen int, rolledBackFrom, restoredTo individual.Individual, reason string) {
	al.logEvent(Event{
		Timestamp:          time.Now(),
		EventID:             al.generateEventID(),
		EventType:           "RollbackTriggered",
		Generation:          gen,
		Individual:          &rolledBackFrom,
		PreviousIndividual:  &restoredTo,
		Reason:              reason,
		Status:              "rolled_back",
	})
}

// LogGeneration logs the summary of one completed generation.
func (al *Logger) LogGeneration(stats individual.GenerationStats) {
	al.logEvent(Event{
		Timestamp:  time.Now(),
		EventID:    al.generateEventID(),
		EventType:  "GenerationCompleted",
		Generation: stats.Generation,
		Individual: &stats.BestIndividual,
		Fitness:    stats.MaxFitness,
		Status:     "completed",
		Metadata: map[string]interface{}{
			"population_size": stats.PopulationSize,
			"avg_fitness":     stats.AvgFitness,
			"diversity":       stats.Diversity,
			"convergence":     stats.Convergence,
		},
	})
}

// logEvent sends an event to the processing channel, dropping it if the
// buffer is full rather than blocking the search loop.
func (al *Logger) logEvent(event Event) {
	select {
	case al.logChannel <- event:
	default:
		logger.Warn("Audit log channel is full, dropping event %s", event.EventID)
	}
}

// processEvents processes audit events in the background.
func (al *Logger) processEvents(cfg Config) {
	defer al.wg.Done()

	ticker := time.NewTicker(cfg.FlushInterval)
	defer ticker.Stop()

	var pending int

	for {
		select {
		case event := <-al.logChannel:
			if cfg.EnableFileLog && al.logFile != nil {
				al.writeToFile(event)
			}
			pending++
			if pending >= cfg.BufferSize/2 {
				al.flush(cfg)
				pending = 0
			}

		case <-ticker.C:
			if pending > 0 {
				al.flush(cfg)
				pending = 0
			}

		case <-al.stopChannel:
			for drained := false; !drained; {
				select {
				case event := <-al.logChannel:
					if cfg.EnableFileLog && al.logFile != nil {
						al.writeToFile(event)
					}
					pending++
				default:
					drained = true
				}
			}
			if pending > 0 {
				al.flush(cfg)
			}
			return
		}
	}
}

// writeToFile writes one event as a JSON line to the audit log file.
func (al *Logger) writeToFile(event Event) {
	al.mutex.Lock()
	defer al.mutex.Unlock()

	eventJSON, err := json.Marshal(event)
	if err != nil {
		logger.Error("Failed to marshal audit event: %v", err)
		return
	}

	if _, err := al.logFile.WriteString(string(eventJSON) + "\n"); err != nil {
		logger.Error("Failed to write audit event to file: %v", err)
	}
}

// flush syncs the log file and rotates it if it has grown too large.
func (al *Logger) flush(cfg Config) {
	if al.logFile != nil {
		al.logFile.Sync()
	}
	if cfg.EnableFileLog {
		al.checkRotation(cfg)
	}
}

func (al *Logger) checkRotation(cfg Config) {
	if al.logFile == nil {
		return
	}

	stat, err := al.logFile.Stat()
	if err != nil {
		return
	}

	if stat.Size() >= cfg.MaxFileSize {
		al.rotate(cfg)
	}
}

func (al *Logger) rotate(cfg Config) {
	al.mutex.Lock()
	defer al.mutex.Unlock()

	if al.logFile != nil {
		al.logFile.Close()
	}

	timestamp := time.Now().Format("20060102-150405")
	oldPath := cfg.LogPath
	newPath := fmt.Sprintf("%s.%s", oldPath, timestamp)

	if err := os.Rename(oldPath, newPath); err != nil {
		logger.Warn("Failed to rotate audit log: %v", err)
	}

	logFile, err := os.OpenFile(oldPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		logger.Error("Failed to create new audit log file: %v", err)
		return
	}

	al.logFile = logFile
	logger.Info("Rotated audit log file to %s", newPath)

	al.cleanupOldLogs(cfg)
}

func (al *Logger) cleanupOldLogs(cfg Config) {
	logDir := filepath.Dir(cfg.LogPath)
	logBase := filepath.Base(cfg.LogPath)

	files, err := filepath.Glob(filepath.Join(logDir, logBase+".*"))
	if err != nil {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -cfg.RetentionDays)

	for _, file := range files {
		stat, err := os.Stat(file)
		if err != nil {
			continue
		}
		if stat.ModTime().Before(cutoff) {
			if err := os.Remove(file); err != nil {
				logger.Warn("Failed to remove old audit log %s: %v", file, err)
			} else {
				logger.Info("Removed old audit log %s", file)
			}
		}
	}
}

func (al *Logger) generateEventID() string {
	al.mutex.Lock()
	defer al.mutex.Unlock()

	al.eventIDCounter++
	return fmt.Sprintf("audit-%d-%d", time.Now().Unix(), al.eventIDCounter)
}
