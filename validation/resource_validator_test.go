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

package validation

import (
	"testing"

	"right-sizer/config"
	"right-sizer/individual"

	"github.com/stretchr/testify/assert"
)

func defaultBounds() config.GABounds {
	return config.GABounds{
		ReplicasMin: 1, ReplicasMax: 6,
		CPUMin: 0.1, CPUMax: 2.0,
		MemoryMin: 128, MemoryMax: 1024,
	}
}

func TestBoundsValidator_Validate_InBounds(t *testing.T) {
	bv := NewBoundsValidator(defaultBounds())

	result := bv.Validate(individual.Individual{Replicas: 3, CPULimit: 1.0, MemoryLimit: 512})
	assert.True(t, result.IsValid())
}

func TestBoundsValidator_Validate_BoundaryValuesAccepted(t *testing.T) {
	bv := NewBoundsValidator(defaultBounds())

	min := bv.Validate(individual.Individual{Replicas: 1, CPULimit: 0.1, MemoryLimit: 128})
	assert.True(t, min.IsValid(), "minimum bound values must be accepted")

	max := bv.Validate(individual.Individual{Replicas: 6, CPULimit: 2.0, MemoryLimit: 1024})
	assert.True(t, max.IsValid(), "maximum bound values must be accepted")
}

func TestBoundsValidator_Validate_OutOfBounds(t *testing.T) {
	bv := NewBoundsValidator(defaultBounds())

	result := bv.Validate(individual.Individual{Replicas: 7, CPULimit: 3.0, MemoryLimit: 2048})
	assert.False(t, result.IsValid())
	assert.Len(t, result.Errors, 3)
}

func TestBoundsValidator_Validate_ZeroReplicasWarns(t *testing.T) {
	bv := NewBoundsValidator(defaultBounds())

	result := bv.Validate(individual.Individual{Replicas: 0, CPULimit: 0.5, MemoryLimit: 256})
	assert.False(t, result.IsValid(), "replicas 0 is below the minimum bound")
	assert.True(t, result.HasWarnings())
}

func TestBoundsValidator_ValidateOrReject(t *testing.T) {
	bv := NewBoundsValidator(defaultBounds())

	err := bv.ValidateOrReject("mutate", individual.Individual{Replicas: 10, CPULimit: 1.0, MemoryLimit: 512})
	assert.Error(t, err)

	err = bv.ValidateOrReject("mutate", individual.Individual{Replicas: 3, CPULimit: 1.0, MemoryLimit: 512})
	assert.NoError(t, err)
}

func TestBoundsValidator_Clamp(t *testing.T) {
	bv := NewBoundsValidator(defaultBounds())

	clamped := bv.Clamp(individual.Individual{Replicas: 20, CPULimit: 5.5, MemoryLimit: 4096})
	assert.Equal(t, 6, clamped.Replicas)
	assert.Equal(t, 2.0, clamped.CPULimit)
	assert.Equal(t, 1024, clamped.MemoryLimit)

	clamped = bv.Clamp(individual.Individual{Replicas: -3, CPULimit: 0.01, MemoryLimit: 10})
	assert.Equal(t, 1, clamped.Replicas)
	assert.Equal(t, 0.1, clamped.CPULimit)
	assert.Equal(t, 128, clamped.MemoryLimit)
}

func TestBoundsValidator_Clamp_RoundsCPUToTwoDecimals(t *testing.T) {
	bv := NewBoundsValidator(defaultBounds())

	clamped := bv.Clamp(individual.Individual{Replicas: 2, CPULimit: 1.23456, MemoryLimit: 256})
	assert.Equal(t, 1.23, clamped.CPULimit)
}

func TestBoundsValidator_Clamp_PreservesContainerName(t *testing.T) {
	bv := NewBoundsValidator(defaultBounds())

	clamped := bv.Clamp(individual.Individual{Replicas: 2, CPULimit: 1.0, MemoryLimit: 256, ContainerName: "app"})
	assert.Equal(t, "app", clamped.ContainerName)
}
