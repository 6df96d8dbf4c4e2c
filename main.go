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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"k8s.io/client-go/kubernetes"
	ctrl "sigs.k8s.io/controller-runtime"

	"right-sizer/alerts"
	"right-sizer/audit"
	"right-sizer/cluster"
	"right-sizer/config"
	"right-sizer/evalcache"
	"right-sizer/events"
	"right-sizer/fitness"
	"right-sizer/health"
	"right-sizer/individual"
	"right-sizer/loadgen"
	"right-sizer/logger"
	"right-sizer/metrics"
	"right-sizer/optimizer"
	"right-sizer/population"
	"right-sizer/remediation"
	"right-sizer/telemetry"
	"right-sizer/validation"
)

const version = "2.0.0"

// runResult is the JSON document written to stdout once a search
// completes: the full history a CI job or operator needs to judge the
// outcome without re-reading the audit log.
type runResult struct {
	Timestamp      time.Time                     `json:"timestamp"`
	Version        string                        `json:"version"`
	ConfigSource   string                        `json:"config_source"`
	BestIndividual *individual.Individual        `json:"best_individual"`
	Generations    []individual.GenerationStats  `json:"generations"`
	Evaluations    []individual.EvaluationResult `json:"evaluations"`
	RollbackCount  int                           `json:"rollback_count"`
	Error          string                        `json:"error,omitempty"`
}

func main() {
	fmt.Printf("right-sizer genetic optimizer v%s starting\n", version)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.GA.LogLevel)
	logger.Info("configuration loaded from %s: population=%d generations=%d target=%s/%s",
		cfg.ConfigSource, cfg.GA.Population, cfg.GA.Generations, cfg.TargetApp.Namespace, cfg.TargetApp.DeploymentName)

	zapLog, err := zap.NewProduction()
	if err != nil {
		zapLog, _ = zap.NewDevelopment()
	}
	defer zapLog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	restConfig := ctrl.GetConfigOrDie()
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		logger.Error("failed to build kubernetes client: %v", err)
		os.Exit(1)
	}

	boundsValidator := validation.NewBoundsValidator(cfg.GA.Bounds)
	clusterGW := cluster.New(clientset, boundsValidator, cfg.TargetApp.Namespace,
		cfg.TargetApp.DeploymentName, cfg.TargetApp.ContainerName, cfg.GA.DryRun)

	gaMetrics := metrics.NewGAMetrics()
	telemetryGW := telemetry.NewPrometheusGateway(cfg.Telemetry.PrometheusURL, cfg.Telemetry.QueryTimeout,
		cfg.Telemetry.RetryAttempts, cfg.Telemetry.RetryDelay, gaMetrics)
	loadRunner := loadgen.NewRunner(cfg.Load.Timeout)
	loadProfile := loadgen.ProfileByName(cfg.Load.Profile, cfg.Load.Concurrency, cfg.Load.Concurrency*4, cfg.Load.RampUp)
	fitnessCalc := fitness.New(fitness.DefaultWeights())
	cache := evalcache.New(10 * time.Minute)
	popManager := population.New(cfg.GA.Bounds, population.Params{
		MutationRate:   cfg.GA.MutationRate,
		CrossoverRate:  cfg.GA.CrossoverRate,
		ElitismCount:   cfg.GA.ElitismCount,
		TournamentSize: cfg.GA.TournamentSize,
	})

	bus := events.NewEventBus(256)
	defer bus.Stop()

	auditCfg := audit.DefaultConfig()
	auditCfg.LogPath = cfg.AuditLogPath
	auditLogger, err := audit.NewLogger(cfg, gaMetrics, auditCfg)
	if err != nil {
		logger.Error("failed to start audit logger: %v", err)
		os.Exit(1)
	}
	defer auditLogger.Close()

	alertManager := alerts.New(zapLog)
	alertManager.SetWebhookURL(cfg.SlackWebhookURL)
	bus.Subscribe("alerts", func(ev *events.Event) {
		if ev.Severity == events.SeverityInfo {
			return
		}
		if _, err := alertManager.Create(ctx, ev.Generation, string(ev.Severity), string(ev.Type), ev.Message, "search", 0, 0); err != nil {
			logger.Warn("failed to record alert for event %s: %v", ev.Type, err)
		}
	})

	remediationEngine := remediation.NewEngine(bus, remediation.Config{
		Enabled:            true,
		DryRun:             cfg.GA.DryRun,
		SafetyTimeout:      cfg.TargetApp.RolloutTimeout,
		MaxRollbacksPerRun: cfg.MaxRollbacksPerRun,
	}, clusterGW.Rollback)
	remediationEngine.Start(ctx)
	defer remediationEngine.Stop()

	healthChecker := health.NewChecker()
	go func() {
		if err := healthChecker.StartServer(ctx, cfg.HealthPort); err != nil {
			logger.Error("health server exited: %v", err)
		}
	}()
	go func() {
		if err := metrics.StartMetricsServer(ctx, cfg.MetricsPort); err != nil {
			logger.Error("metrics server exited: %v", err)
		}
	}()

	driver := optimizer.New(optimizer.Config{
		PopulationSize: cfg.GA.Population,
		Generations:    cfg.GA.Generations,
		Bounds:         cfg.GA.Bounds,
		AppURL:         cfg.TargetApp.URL,
		AppLabel:       cfg.TargetApp.Label,
		LoadDuration:   cfg.Load.Duration,
		LoadProfile:    loadProfile,
		RolloutTimeout: cfg.TargetApp.RolloutTimeout,
		EvaluateInLine: true,
		MaxParallel:    2,
	}, clusterGW, telemetryGW, loadRunner, fitnessCalc, cache, popManager, bus, auditLogger)

	best, runErr := driver.Run(ctx)

	result := runResult{
		Timestamp:      time.Now().UTC(),
		Version:        version,
		ConfigSource:   cfg.ConfigSource,
		BestIndividual: best,
		Generations:    driver.History(),
		Evaluations:    driver.Results(),
		RollbackCount:  remediationEngine.RollbackCount(),
	}
	if runErr != nil {
		result.Error = runErr.Error()
	}

	encoded, jsonErr := json.MarshalIndent(result, "", "  ")
	if jsonErr != nil {
		logger.Error("failed to encode run result: %v", jsonErr)
	} else {
		fmt.Println(string(encoded))
	}

	if runErr != nil {
		logger.Error("optimizer run failed: %v", runErr)
		os.Exit(1)
	}

	logger.Success("optimizer run complete: best=%+v", *best)
}
