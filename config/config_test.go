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

package config

import (
	"os"
	"sync"
	"testing"
	"time"
)

func TestGetDefaults(t *testing.T) {
	cfg := GetDefaults()

	if cfg.GA.Population != 6 {
		t.Errorf("Expected GA.Population to be 6, got %d", cfg.GA.Population)
	}
	if cfg.GA.Generations != 5 {
		t.Errorf("Expected GA.Generations to be 5, got %d", cfg.GA.Generations)
	}
	if cfg.GA.MutationRate != 0.2 {
		t.Errorf("Expected GA.MutationRate to be 0.2, got %f", cfg.GA.MutationRate)
	}
	if cfg.GA.CrossoverRate != 0.8 {
		t.Errorf("Expected GA.CrossoverRate to be 0.8, got %f", cfg.GA.CrossoverRate)
	}
	if cfg.GA.ElitismCount != 1 {
		t.Errorf("Expected GA.ElitismCount to be 1, got %d", cfg.GA.ElitismCount)
	}
	if cfg.GA.TournamentSize != 2 {
		t.Errorf("Expected GA.TournamentSize to be 2, got %d", cfg.GA.TournamentSize)
	}
	if cfg.GA.Bounds.ReplicasMin != 1 || cfg.GA.Bounds.ReplicasMax != 6 {
		t.Errorf("Expected replicas bounds (1,6), got (%d,%d)", cfg.GA.Bounds.ReplicasMin, cfg.GA.Bounds.ReplicasMax)
	}
	if cfg.GA.Bounds.CPUMin != 0.1 || cfg.GA.Bounds.CPUMax != 2.0 {
		t.Errorf("Expected cpu bounds (0.1,2.0), got (%f,%f)", cfg.GA.Bounds.CPUMin, cfg.GA.Bounds.CPUMax)
	}
	if cfg.GA.Bounds.MemoryMin != 128 || cfg.GA.Bounds.MemoryMax != 1024 {
		t.Errorf("Expected memory bounds (128,1024), got (%d,%d)", cfg.GA.Bounds.MemoryMin, cfg.GA.Bounds.MemoryMax)
	}
	if cfg.GA.LogLevel != "info" {
		t.Errorf("Expected GA.LogLevel to be 'info', got %s", cfg.GA.LogLevel)
	}
	if cfg.TargetApp.RolloutTimeout != 120*time.Second {
		t.Errorf("Expected RolloutTimeout to be 120s, got %v", cfg.TargetApp.RolloutTimeout)
	}
	if cfg.Telemetry.RetryAttempts != 3 {
		t.Errorf("Expected Telemetry.RetryAttempts to be 3, got %d", cfg.Telemetry.RetryAttempts)
	}
	if cfg.MetricsPort != 9100 {
		t.Errorf("Expected MetricsPort to be 9100, got %d", cfg.MetricsPort)
	}
	if cfg.HealthPort != 9101 {
		t.Errorf("Expected HealthPort to be 9101, got %d", cfg.HealthPort)
	}
	if cfg.MaxRollbacksPerRun != 3 {
		t.Errorf("Expected MaxRollbacksPerRun to be 3, got %d", cfg.MaxRollbacksPerRun)
	}
	if cfg.ConfigSource != "default" {
		t.Errorf("Expected ConfigSource to be 'default', got %s", cfg.ConfigSource)
	}
}

func TestLoad(t *testing.T) {
	Global = nil

	cfg := Load()
	if cfg == nil {
		t.Fatal("Load() returned nil")
	}

	cfg2 := Load()
	if cfg == cfg2 {
		t.Error("Load() should rebuild, not cache, across calls")
	}
}

func TestLoad_FromEnv(t *testing.T) {
	os.Setenv("GA_POPULATION", "10")
	os.Setenv("GA_MUTATION_RATE", "0.5")
	os.Setenv("APP_URL", "http://custom-app")
	defer func() {
		os.Unsetenv("GA_POPULATION")
		os.Unsetenv("GA_MUTATION_RATE")
		os.Unsetenv("APP_URL")
	}()

	cfg := Load()
	if cfg.GA.Population != 10 {
		t.Errorf("Expected GA.Population to be 10, got %d", cfg.GA.Population)
	}
	if cfg.GA.MutationRate != 0.5 {
		t.Errorf("Expected GA.MutationRate to be 0.5, got %f", cfg.GA.MutationRate)
	}
	if cfg.TargetApp.URL != "http://custom-app" {
		t.Errorf("Expected TargetApp.URL to be 'http://custom-app', got %s", cfg.TargetApp.URL)
	}
	if cfg.ConfigSource != "env" {
		t.Errorf("Expected ConfigSource to be 'env', got %s", cfg.ConfigSource)
	}
}

func TestGet(t *testing.T) {
	Global = nil

	cfg := Get()
	if cfg == nil {
		t.Fatal("Get() returned nil")
	}

	cfg2 := Get()
	if cfg != cfg2 {
		t.Error("Get() should return the same instance when called multiple times")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantError bool
	}{
		{
			name:      "valid default config",
			mutate:    func(c *Config) {},
			wantError: false,
		},
		{
			name: "negative mutation rate",
			mutate: func(c *Config) {
				c.GA.MutationRate = -1
			},
			wantError: true,
		},
		{
			name: "invalid log level",
			mutate: func(c *Config) {
				c.GA.LogLevel = "verbose"
			},
			wantError: true,
		},
		{
			name: "elitism count exceeds population",
			mutate: func(c *Config) {
				c.GA.ElitismCount = c.GA.Population
			},
			wantError: true,
		},
		{
			name: "replicas min > max",
			mutate: func(c *Config) {
				c.GA.Bounds.ReplicasMin = 10
				c.GA.Bounds.ReplicasMax = 2
			},
			wantError: true,
		},
		{
			name: "invalid load profile",
			mutate: func(c *Config) {
				c.Load.Profile = "not-a-profile"
			},
			wantError: true,
		},
		{
			name: "empty app url",
			mutate: func(c *Config) {
				c.TargetApp.URL = ""
			},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantError {
				t.Errorf("Validate() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestClone(t *testing.T) {
	original := GetDefaults()
	original.GA.Population = 12
	original.TargetApp.URL = "http://original"

	clone := original.Clone()

	if clone.GA.Population != original.GA.Population {
		t.Error("GA.Population not cloned correctly")
	}
	if clone.TargetApp.URL != original.TargetApp.URL {
		t.Error("TargetApp.URL not cloned correctly")
	}

	clone.GA.Population = 99
	if original.GA.Population == 99 {
		t.Error("Clone modified original GA.Population")
	}
}

func TestThreadSafety(t *testing.T) {
	cfg := GetDefaults()

	var wg sync.WaitGroup
	operations := 100

	for i := 0; i < operations; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cfg.Validate()
			_ = cfg.Clone()
		}()
	}

	wg.Wait()
	t.Log("Thread safety test completed successfully")
}
