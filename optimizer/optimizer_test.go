// Copyright (C) 2024 right-sizer contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package optimizer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"right-sizer/cluster"
	"right-sizer/config"
	"right-sizer/evalcache"
	"right-sizer/fitness"
	"right-sizer/individual"
	"right-sizer/loadgen"
	"right-sizer/population"
	"right-sizer/validation"
)

type fakeTelemetry struct{}

func (fakeTelemetry) CPUUsage(context.Context, string, int) float64        { return 0.4 }
func (fakeTelemetry) MemoryUsage(context.Context, string) float64          { return 256 * 1024 * 1024 }
func (fakeTelemetry) RequestRate(context.Context, string, int) float64     { return 100 }
func (fakeTelemetry) LatencyQuantile(context.Context, string, int, float64) float64 { return 0.05 }
func (fakeTelemetry) ErrorRate(context.Context, string, int) float64       { return 0 }
func (fakeTelemetry) PodCount(context.Context, string) float64             { return 2 }

func testDeployment() *appsv1.Deployment {
	replicas := int32(2)
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "target-app", Namespace: "default"},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name: "target-app",
							Resources: corev1.ResourceRequirements{
								Limits: corev1.ResourceList{
									corev1.ResourceCPU:    resource.MustParse("500m"),
									corev1.ResourceMemory: resource.MustParse("256Mi"),
								},
							},
						},
					},
				},
			},
		},
		Status: appsv1.DeploymentStatus{
			UpdatedReplicas:   replicas,
			AvailableReplicas: replicas,
			ReadyReplicas:     replicas,
		},
	}
}

func newTestDriver(t *testing.T, appURL string) *Driver {
	t.Helper()
	bounds := config.GABounds{ReplicasMin: 1, ReplicasMax: 6, CPUMin: 0.1, CPUMax: 2.0, MemoryMin: 128, MemoryMax: 1024}
	clientset := fake.NewSimpleClientset(testDeployment())
	clusterGW := cluster.New(clientset, validation.NewBoundsValidator(bounds), "default", "target-app", "target-app", false)

	cfg := Config{
		PopulationSize: 3,
		Generations:    2,
		Bounds:         bounds,
		AppURL:         appURL,
		AppLabel:       "app=target-app",
		LoadDuration:   20 * time.Millisecond,
		LoadProfile:    loadgen.Sustained{Base: 1},
		RolloutTimeout: time.Second,
		EvaluateInLine: true,
	}

	return New(
		cfg,
		clusterGW,
		fakeTelemetry{},
		loadgen.NewRunner(time.Second),
		fitness.New(fitness.DefaultWeights()),
		evalcache.New(time.Minute),
		population.New(bounds, population.Params{MutationRate: 0.2, CrossoverRate: 0.8, ElitismCount: 1, TournamentSize: 2}),
		nil,
		nil,
	)
}

func TestDriver_Run_ReturnsBestIndividual(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	driver := newTestDriver(t, server.URL)
	best, err := driver.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if best == nil {
		t.Fatal("expected a best individual")
	}
	if len(driver.History()) != 2 {
		t.Errorf("expected 2 generations of history, got %d", len(driver.History()))
	}
	if len(driver.Results()) != 6 {
		t.Errorf("expected 3*2=6 evaluation results, got %d", len(driver.Results()))
	}
}

func TestDriver_Run_CachesRepeatedIndividuals(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	driver := newTestDriver(t, server.URL)
	ind := individual.Individual{Replicas: 2, CPULimit: 0.5, MemoryLimit: 256}

	first := driver.evaluateIndividual(context.Background(), 0, ind)
	second := driver.evaluateIndividual(context.Background(), 0, ind)

	if first.Fitness != second.Fitness {
		t.Errorf("expected cached evaluation to return identical fitness, got %v vs %v", first.Fitness, second.Fitness)
	}
	if driver.cache.Size() != 1 {
		t.Errorf("expected a single cache entry for the repeated individual, got %d", driver.cache.Size())
	}
}

func TestDriver_Run_RolloutTimeoutYieldsZeroFitness(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	driver := newTestDriver(t, server.URL)
	driver.cfg.RolloutTimeout = 0 // forces WaitForRollout to fail fast on the first tick

	result := driver.evaluateIndividual(context.Background(), 0, individual.Individual{Replicas: 3, CPULimit: 1, MemoryLimit: 512})
	if result.Fitness != 0 {
		t.Errorf("expected zero fitness on rollout failure, got %v", result.Fitness)
	}
	if result.Error == "" {
		t.Error("expected an error message recorded on rollout failure")
	}
}
