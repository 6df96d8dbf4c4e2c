// Copyright (C) 2024 right-sizer contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package cluster applies an Individual to the target Deployment, waits
// for the rollout to converge, and can roll back to the last snapshot.
package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"

	gaerrors "right-sizer/errors"
	"right-sizer/individual"
	"right-sizer/logger"
	"right-sizer/validation"
)

// Status reports a Deployment's replica convergence.
type Status struct {
	Desired     int32
	Updated     int32
	Available   int32
	Ready       int32
	Unavailable int32
}

// Converged reports whether the deployment has fully rolled out.
func (s Status) Converged() bool {
	return s.Desired > 0 && s.Desired == s.Updated && s.Desired == s.Available && s.Desired == s.Ready
}

// Gateway applies Individuals to one Deployment, waits for rollout, and
// supports rolling back to the last snapshot taken before a mutation.
type Gateway struct {
	clientset kubernetes.Interface
	validator *validation.BoundsValidator

	namespace      string
	deploymentName string
	containerName  string
	dryRun         bool

	mu       sync.Mutex
	snapshot *individual.Individual
}

// New creates a Cluster Gateway bound to one Deployment/container.
func New(clientset kubernetes.Interface, bounds *validation.BoundsValidator, namespace, deploymentName, containerName string, dryRun bool) *Gateway {
	return &Gateway{
		clientset:      clientset,
		validator:      bounds,
		namespace:      namespace,
		deploymentName: deploymentName,
		containerName:  containerName,
		dryRun:         dryRun,
	}
}

// Apply validates the individual, optionally snapshots the current state
// for rollback, scales replicas, then patches container resources. Scale
// is applied before resources: scaling down under a new, possibly lower,
// resource profile can trigger evictions, whereas scaling first lets the
// platform allocate new pods at the old resource profile during ramp-up
// and the subsequent resource patch re-rolls them.
func (g *Gateway) Apply(ctx context.Context, ind individual.Individual, saveForRollback bool) error {
	if err := g.validator.ValidateOrReject("cluster.apply", ind); err != nil {
		return err
	}

	if saveForRollback {
		g.snapshotCurrent(ctx)
	}

	if g.dryRun {
		logger.Info("[DRY RUN] would scale %s/%s to %d replicas, cpu=%.2f, memory=%dMi",
			g.namespace, g.deploymentName, ind.Replicas, ind.CPULimit, ind.MemoryLimit)
		return nil
	}

	if err := g.scale(ctx, ind.Replicas); err != nil {
		return gaerrors.PlatformErrorf("cluster.apply.scale", err, "scaling %s/%s to %d replicas", g.namespace, g.deploymentName, ind.Replicas)
	}

	if err := g.patchResources(ctx, ind); err != nil {
		return gaerrors.PlatformErrorf("cluster.apply.resources", err, "patching resources for %s/%s", g.namespace, g.deploymentName)
	}

	return nil
}

// scale patches the Deployment's replica count via a merge patch on
// spec.replicas.
func (g *Gateway) scale(ctx context.Context, replicas int) error {
	patch := fmt.Sprintf(`{"spec":{"replicas":%d}}`, replicas)
	_, err := g.clientset.AppsV1().Deployments(g.namespace).Patch(
		ctx, g.deploymentName, types.MergePatchType, []byte(patch), metav1.PatchOptions{},
	)
	return err
}

// patchResources strategic-merge-patches container[containerName]'s
// requests and limits. CPU is encoded as "{cores*1000}m", memory as
// "{MB}Mi"; requests and limits are set identically (Guaranteed QoS).
func (g *Gateway) patchResources(ctx context.Context, ind individual.Individual) error {
	cpu := fmt.Sprintf("%dm", int(ind.CPULimit*1000))
	memory := fmt.Sprintf("%dMi", ind.MemoryLimit)

	resources := map[string]interface{}{
		"requests": map[string]string{"cpu": cpu, "memory": memory},
		"limits":   map[string]string{"cpu": cpu, "memory": memory},
	}

	patch := map[string]interface{}{
		"spec": map[string]interface{}{
			"template": map[string]interface{}{
				"spec": map[string]interface{}{
					"containers": []map[string]interface{}{
						{"name": g.containerName, "resources": resources},
					},
				},
			},
		},
	}

	patchBytes, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshal resource patch: %w", err)
	}

	_, err = g.clientset.AppsV1().Deployments(g.namespace).Patch(
		ctx, g.deploymentName, types.StrategicMergePatchType, patchBytes, metav1.PatchOptions{},
	)
	return err
}

var cpuMilliRe = regexp.MustCompile(`^(\d+)m$`)
var memoryMiRe = regexp.MustCompile(`^(\d+)Mi?$`)

// snapshotCurrent reads the current Deployment and parses the target
// container's limits into an Individual, stored in memory. If parsing
// fails or the Deployment is absent, snapshotting is a no-op and a
// subsequent Rollback becomes a no-op too.
func (g *Gateway) snapshotCurrent(ctx context.Context) {
	dep, err := g.clientset.AppsV1().Deployments(g.namespace).Get(ctx, g.deploymentName, metav1.GetOptions{})
	if err != nil {
		if !errors.IsNotFound(err) {
			logger.Warn("snapshot: failed to read deployment %s/%s: %v", g.namespace, g.deploymentName, err)
		}
		g.mu.Lock()
		g.snapshot = nil
		g.mu.Unlock()
		return
	}

	snap, ok := parseSnapshot(dep, g.containerName)
	if !ok {
		logger.Warn("snapshot: could not parse container limits for %s/%s, rollback will be a no-op", g.namespace, g.deploymentName)
		g.mu.Lock()
		g.snapshot = nil
		g.mu.Unlock()
		return
	}

	g.mu.Lock()
	g.snapshot = &snap
	g.mu.Unlock()
}

func parseSnapshot(dep *appsv1.Deployment, containerName string) (individual.Individual, bool) {
	var container *corev1.Container
	for i := range dep.Spec.Template.Spec.Containers {
		if dep.Spec.Template.Spec.Containers[i].Name == containerName {
			container = &dep.Spec.Template.Spec.Containers[i]
			break
		}
	}
	if container == nil {
		return individual.Individual{}, false
	}

	cpuQty, hasCPU := container.Resources.Limits[corev1.ResourceCPU]
	memQty, hasMem := container.Resources.Limits[corev1.ResourceMemory]
	if !hasCPU || !hasMem {
		return individual.Individual{}, false
	}

	cpu, ok := parseCPU(cpuQty.String())
	if !ok {
		return individual.Individual{}, false
	}
	mem, ok := parseMemory(memQty.String())
	if !ok {
		return individual.Individual{}, false
	}

	replicas := int32(1)
	if dep.Spec.Replicas != nil {
		replicas = *dep.Spec.Replicas
	}

	return individual.Individual{
		Replicas:      int(replicas),
		CPULimit:      cpu,
		MemoryLimit:   mem,
		ContainerName: containerName,
	}, true
}

func parseCPU(s string) (float64, bool) {
	if m := cpuMilliRe.FindStringSubmatch(s); m != nil {
		milli, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, false
		}
		return float64(milli) / 1000.0, true
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, true
	}
	return 0, false
}

func parseMemory(s string) (int, bool) {
	if m := memoryMiRe.FindStringSubmatch(s); m != nil {
		v, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, false
		}
		return v, true
	}
	v, err := strconv.Atoi(strings.TrimSuffix(s, "M"))
	if err != nil {
		return 0, false
	}
	return v, true
}

// WaitForRollout polls the Deployment's status every 5s until it
// converges or timeout elapses. Unavailable replicas are logged but do
// not fail the wait.
func (g *Gateway) WaitForRollout(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		status, err := g.GetStatus(ctx)
		if err != nil {
			return gaerrors.PlatformErrorf("cluster.wait_for_rollout", err, "reading status for %s/%s", g.namespace, g.deploymentName)
		}

		if status.Unavailable > 0 {
			logger.Warn("rollout for %s/%s has %d unavailable replicas", g.namespace, g.deploymentName, status.Unavailable)
		}

		if status.Converged() {
			return nil
		}

		if time.Now().After(deadline) {
			return gaerrors.PlatformError("cluster.wait_for_rollout", fmt.Errorf("rollout timed out after %s", timeout))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// GetStatus returns the Deployment's desired/updated/available/ready
// replica counts.
func (g *Gateway) GetStatus(ctx context.Context) (Status, error) {
	dep, err := g.clientset.AppsV1().Deployments(g.namespace).Get(ctx, g.deploymentName, metav1.GetOptions{})
	if err != nil {
		return Status{}, err
	}

	desired := int32(1)
	if dep.Spec.Replicas != nil {
		desired = *dep.Spec.Replicas
	}

	return Status{
		Desired:     desired,
		Updated:     dep.Status.UpdatedReplicas,
		Available:   dep.Status.AvailableReplicas,
		Ready:       dep.Status.ReadyReplicas,
		Unavailable: dep.Status.UnavailableReplicas,
	}, nil
}

// Rollback re-applies the last snapshot, if any, with
// saveForRollback=false. If no snapshot was ever taken (or the last
// snapshot attempt failed to parse), Rollback is a no-op.
func (g *Gateway) Rollback(ctx context.Context, _ int) error {
	g.mu.Lock()
	snap := g.snapshot
	g.mu.Unlock()

	if snap == nil {
		logger.Warn("rollback requested for %s/%s but no snapshot is available, skipping", g.namespace, g.deploymentName)
		return nil
	}

	return g.Apply(ctx, *snap, false)
}
