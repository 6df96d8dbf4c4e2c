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

// Package config loads the optimizer's configuration from environment
// variables into one immutable-after-load Config struct.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// GABounds holds the search-space bounds for every Individual attribute
// (replicas, CPU limit and memory limit).
type GABounds struct {
	ReplicasMin int
	ReplicasMax int
	CPUMin      float64
	CPUMax      float64
	MemoryMin   int
	MemoryMax   int
}

// GAConfig holds genetic-algorithm hyperparameters.
type GAConfig struct {
	Population           int
	Generations          int
	MutationRate         float64
	CrossoverRate        float64
	ElitismCount         int
	TournamentSize       int
	StabilizationSeconds int
	Bounds               GABounds
	DryRun               bool
	LogLevel             string
}

// TargetAppConfig describes the workload under optimization.
type TargetAppConfig struct {
	URL             string
	Label           string
	DeploymentName  string
	Namespace       string
	ContainerName   string
	RolloutTimeout  time.Duration
}

// TelemetryConfig describes the Prometheus-compatible telemetry backend.
type TelemetryConfig struct {
	PrometheusURL string
	QueryTimeout  time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

// LoadConfig describes the synthetic load test run against the target app.
type LoadConfig struct {
	Duration    time.Duration
	Concurrency int
	Timeout     time.Duration
	RampUp      time.Duration
	Profile     string
}

// Config holds the full configuration for one optimizer run.
type Config struct {
	mu sync.RWMutex

	GA        GAConfig
	TargetApp TargetAppConfig
	Telemetry TelemetryConfig
	Load      LoadConfig

	// Ambient HTTP surfaces, independent of the core's outbound calls.
	MetricsPort int
	HealthPort  int

	// Domain ambient: audit trail, rollback budget, optional alert sink.
	AuditLogPath         string
	MaxRollbacksPerRun   int
	SlackWebhookURL      string

	ConfigSource string // "default" or "env"
}

var (
	Global     *Config
	globalLock sync.RWMutex
)

// GetDefaults returns a new Config populated with the search's default
// hyperparameters and target-app/telemetry/load settings.
func GetDefaults() *Config {
	return &Config{
		GA: GAConfig{
			Population:           6,
			Generations:          5,
			MutationRate:         0.2,
			CrossoverRate:        0.8,
			ElitismCount:         1,
			TournamentSize:       2,
			StabilizationSeconds: 10,
			Bounds: GABounds{
				ReplicasMin: 1,
				ReplicasMax: 6,
				CPUMin:      0.1,
				CPUMax:      2.0,
				MemoryMin:   128,
				MemoryMax:   1024,
			},
			DryRun:   false,
			LogLevel: "info",
		},
		TargetApp: TargetAppConfig{
			URL:            "http://target-app.default.svc.cluster.local",
			Label:          "app=target-app",
			DeploymentName: "target-app",
			Namespace:      "default",
			ContainerName:  "target-app",
			RolloutTimeout: 120 * time.Second,
		},
		Telemetry: TelemetryConfig{
			PrometheusURL: "http://prometheus:9090",
			QueryTimeout:  10 * time.Second,
			RetryAttempts: 3,
			RetryDelay:    1 * time.Second,
		},
		Load: LoadConfig{
			Duration:    30 * time.Second,
			Concurrency: 10,
			Timeout:     5 * time.Second,
			RampUp:      5 * time.Second,
			Profile:     "sustained",
		},

		MetricsPort: 9100,
		HealthPort:  9101,

		AuditLogPath:       "./ga-audit.log",
		MaxRollbacksPerRun: 3,
		SlackWebhookURL:    "",

		ConfigSource: "default",
	}
}

// Load builds the configuration from defaults overlaid with environment
// variables and caches it as the package-global instance.
func Load() *Config {
	globalLock.Lock()
	defer globalLock.Unlock()

	c := GetDefaults()
	c.loadFromEnv()
	Global = c
	return Global
}

// Get returns the global config instance, loading it if necessary.
func Get() *Config {
	globalLock.RLock()
	if Global == nil {
		globalLock.RUnlock()
		return Load()
	}
	defer globalLock.RUnlock()
	return Global
}

func (c *Config) loadFromEnv() {
	c.mu.Lock()
	defer c.mu.Unlock()

	// GA group
	envInt("GA_POPULATION", &c.GA.Population)
	envInt("GA_GENERATIONS", &c.GA.Generations)
	envFloat("GA_MUTATION_RATE", &c.GA.MutationRate)
	envFloat("GA_CROSSOVER_RATE", &c.GA.CrossoverRate)
	envInt("GA_ELITISM_COUNT", &c.GA.ElitismCount)
	envInt("GA_TOURNAMENT_SIZE", &c.GA.TournamentSize)
	envInt("GA_STABILIZATION_SECONDS", &c.GA.StabilizationSeconds)
	envInt("GA_REPLICAS_MIN", &c.GA.Bounds.ReplicasMin)
	envInt("GA_REPLICAS_MAX", &c.GA.Bounds.ReplicasMax)
	envFloat("GA_CPU_MIN", &c.GA.Bounds.CPUMin)
	envFloat("GA_CPU_MAX", &c.GA.Bounds.CPUMax)
	envInt("GA_MEMORY_MIN", &c.GA.Bounds.MemoryMin)
	envInt("GA_MEMORY_MAX", &c.GA.Bounds.MemoryMax)
	envBool("GA_DRY_RUN", &c.GA.DryRun)
	envString("GA_LOG_LEVEL", &c.GA.LogLevel)

	// Target app group
	envString("APP_URL", &c.TargetApp.URL)
	envString("APP_LABEL", &c.TargetApp.Label)
	envString("K8S_DEPLOYMENT_NAME", &c.TargetApp.DeploymentName)
	envString("K8S_NAMESPACE", &c.TargetApp.Namespace)
	envString("K8S_CONTAINER_NAME", &c.TargetApp.ContainerName)
	envDuration("K8S_ROLLOUT_TIMEOUT", &c.TargetApp.RolloutTimeout)

	// Telemetry group
	envString("PROMETHEUS_URL", &c.Telemetry.PrometheusURL)
	envDuration("PROM_QUERY_TIMEOUT", &c.Telemetry.QueryTimeout)
	envInt("PROM_RETRY_ATTEMPTS", &c.Telemetry.RetryAttempts)
	envDuration("PROM_RETRY_DELAY", &c.Telemetry.RetryDelay)

	// Load group
	envDuration("LOAD_TEST_DURATION", &c.Load.Duration)
	envInt("LOAD_TEST_CONCURRENCY", &c.Load.Concurrency)
	envDuration("LOAD_TEST_TIMEOUT", &c.Load.Timeout)
	envDuration("LOAD_TEST_RAMP_UP", &c.Load.RampUp)
	envString("LOAD_TEST_PROFILE", &c.Load.Profile)

	// Ambient surfaces
	envInt("METRICS_PORT", &c.MetricsPort)
	envInt("HEALTH_PORT", &c.HealthPort)

	// Domain ambient
	envString("GA_AUDIT_LOG_PATH", &c.AuditLogPath)
	envInt("GA_MAX_ROLLBACKS_PER_RUN", &c.MaxRollbacksPerRun)
	envString("GA_SLACK_WEBHOOK_URL", &c.SlackWebhookURL)

	if anyEnvSet(
		"GA_POPULATION", "GA_GENERATIONS", "GA_MUTATION_RATE", "GA_CROSSOVER_RATE",
		"APP_URL", "K8S_NAMESPACE", "PROMETHEUS_URL", "LOAD_TEST_DURATION",
	) {
		c.ConfigSource = "env"
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = parsed
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*dst = parsed
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			*dst = parsed
		} else if secs, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(secs) * time.Second
		}
	}
}

func anyEnvSet(keys ...string) bool {
	for _, k := range keys {
		if os.Getenv(k) != "" {
			return true
		}
	}
	return false
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs []string

	if c.GA.Population <= 0 {
		errs = append(errs, "GA_POPULATION must be positive")
	}
	if c.GA.Generations <= 0 {
		errs = append(errs, "GA_GENERATIONS must be positive")
	}
	if c.GA.MutationRate < 0 || c.GA.MutationRate > 1 {
		errs = append(errs, "GA_MUTATION_RATE must be in [0,1]")
	}
	if c.GA.CrossoverRate < 0 || c.GA.CrossoverRate > 1 {
		errs = append(errs, "GA_CROSSOVER_RATE must be in [0,1]")
	}
	if c.GA.ElitismCount < 0 || c.GA.ElitismCount >= c.GA.Population {
		errs = append(errs, "GA_ELITISM_COUNT must be in [0, population)")
	}
	if c.GA.TournamentSize <= 0 || c.GA.TournamentSize > c.GA.Population {
		errs = append(errs, "GA_TOURNAMENT_SIZE must be in (0, population]")
	}
	if c.GA.Bounds.ReplicasMin < 1 || c.GA.Bounds.ReplicasMin > c.GA.Bounds.ReplicasMax || c.GA.Bounds.ReplicasMax > 100 {
		errs = append(errs, "replicas bounds must satisfy 1 <= min <= max <= 100")
	}
	if c.GA.Bounds.CPUMin < 0.01 || c.GA.Bounds.CPUMin > c.GA.Bounds.CPUMax || c.GA.Bounds.CPUMax > 100 {
		errs = append(errs, "cpu bounds must satisfy 0.01 <= min <= max <= 100")
	}
	if c.GA.Bounds.MemoryMin < 64 || c.GA.Bounds.MemoryMin > c.GA.Bounds.MemoryMax || c.GA.Bounds.MemoryMax > 100000 {
		errs = append(errs, "memory bounds must satisfy 64 <= min <= max <= 100000")
	}

	if c.TargetApp.URL == "" {
		errs = append(errs, "APP_URL must not be empty")
	}
	if c.TargetApp.DeploymentName == "" {
		errs = append(errs, "K8S_DEPLOYMENT_NAME must not be empty")
	}
	if c.TargetApp.RolloutTimeout <= 0 {
		errs = append(errs, "K8S_ROLLOUT_TIMEOUT must be positive")
	}

	if c.Telemetry.PrometheusURL == "" {
		errs = append(errs, "PROMETHEUS_URL must not be empty")
	}
	if c.Telemetry.RetryAttempts <= 0 {
		errs = append(errs, "PROM_RETRY_ATTEMPTS must be positive")
	}

	if c.Load.Duration <= 0 {
		errs = append(errs, "LOAD_TEST_DURATION must be positive")
	}
	if c.Load.Concurrency <= 0 {
		errs = append(errs, "LOAD_TEST_CONCURRENCY must be positive")
	}

	if c.MetricsPort <= 0 || c.MetricsPort > 65535 {
		errs = append(errs, "METRICS_PORT must be between 1 and 65535")
	}
	if c.HealthPort <= 0 || c.HealthPort > 65535 {
		errs = append(errs, "HEALTH_PORT must be between 1 and 65535")
	}
	if c.MaxRollbacksPerRun < 0 {
		errs = append(errs, "GA_MAX_ROLLBACKS_PER_RUN must not be negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.GA.LogLevel] {
		errs = append(errs, fmt.Sprintf("invalid GA_LOG_LEVEL: %s (must be debug, info, warn, or error)", c.GA.LogLevel))
	}

	validProfiles := map[string]bool{"sustained": true, "burst": true, "ramp_up": true, "spiky": true, "wave": true}
	if !validProfiles[c.Load.Profile] {
		errs = append(errs, fmt.Sprintf("invalid LOAD_TEST_PROFILE: %s", c.Load.Profile))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Clone returns a deep copy of the configuration, safe for independent mutation.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := *c
	clone.mu = sync.RWMutex{}
	return &clone
}
