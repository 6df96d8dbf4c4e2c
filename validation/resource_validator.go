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

// Package validation checks a candidate individual's replicas/cpu_limit/
// memory_limit against the configured search bounds. It is shared by the
// cluster gateway, which rejects an out-of-bounds individual before
// mutating live state, and the population manager, which clamps a
// newly generated or mutated individual back into bounds.
package validation

import (
	"fmt"
	"strings"

	"right-sizer/config"
	"right-sizer/errors"
	"right-sizer/individual"
)

// ValidationResult represents the result of a resource validation
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
	Info     []string
}

// IsValid returns true if the validation passed
func (vr *ValidationResult) IsValid() bool {
	return vr.Valid
}

// HasWarnings returns true if there are warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// AddError adds an error to the validation result
func (vr *ValidationResult) AddError(msg string) {
	vr.Errors = append(vr.Errors, msg)
	vr.Valid = false
}

// AddWarning adds a warning to the validation result
func (vr *ValidationResult) AddWarning(msg string) {
	vr.Warnings = append(vr.Warnings, msg)
}

// AddInfo adds an info message to the validation result
func (vr *ValidationResult) AddInfo(msg string) {
	vr.Info = append(vr.Info, msg)
}

// String returns a string representation of the validation result
func (vr *ValidationResult) String() string {
	var parts []string

	if len(vr.Errors) > 0 {
		parts = append(parts, fmt.Sprintf("Errors: %s", strings.Join(vr.Errors, "; ")))
	}
	if len(vr.Warnings) > 0 {
		parts = append(parts, fmt.Sprintf("Warnings: %s", strings.Join(vr.Warnings, "; ")))
	}
	if len(vr.Info) > 0 {
		parts = append(parts, fmt.Sprintf("Info: %s", strings.Join(vr.Info, "; ")))
	}

	if len(parts) == 0 {
		return "valid"
	}
	return strings.Join(parts, " | ")
}

func newResult() *ValidationResult {
	return &ValidationResult{Valid: true}
}

// BoundsValidator checks an individual's genes against config.GABounds.
type BoundsValidator struct {
	bounds config.GABounds
}

// NewBoundsValidator creates a validator bound to the given search space.
func NewBoundsValidator(bounds config.GABounds) *BoundsValidator {
	return &BoundsValidator{bounds: bounds}
}

// Validate reports every way ind's genes fall outside the configured
// bounds. Boundary values (exactly min or max) are accepted.
func (bv *BoundsValidator) Validate(ind individual.Individual) *ValidationResult {
	result := newResult()

	if ind.Replicas < bv.bounds.ReplicasMin || ind.Replicas > bv.bounds.ReplicasMax {
		result.AddError(fmt.Sprintf("replicas %d outside bounds [%d, %d]",
			ind.Replicas, bv.bounds.ReplicasMin, bv.bounds.ReplicasMax))
	}
	if ind.CPULimit < bv.bounds.CPUMin || ind.CPULimit > bv.bounds.CPUMax {
		result.AddError(fmt.Sprintf("cpu_limit %.2f outside bounds [%.2f, %.2f]",
			ind.CPULimit, bv.bounds.CPUMin, bv.bounds.CPUMax))
	}
	if ind.MemoryLimit < bv.bounds.MemoryMin || ind.MemoryLimit > bv.bounds.MemoryMax {
		result.AddError(fmt.Sprintf("memory_limit %d outside bounds [%d, %d]",
			ind.MemoryLimit, bv.bounds.MemoryMin, bv.bounds.MemoryMax))
	}

	if ind.Replicas <= 0 {
		result.AddWarning("replicas at or below zero will not serve traffic")
	}

	return result
}

// ValidateOrReject returns a categorized configuration error when ind
// falls outside bounds, and nil when ind is acceptable as-is.
func (bv *BoundsValidator) ValidateOrReject(op string, ind individual.Individual) error {
	result := bv.Validate(ind)
	if result.IsValid() {
		return nil
	}
	return errors.ConfigurationErrorf(op, "individual %+v rejected: %s", ind, result.String())
}

// Clamp pulls every gene of ind back into bounds. Replicas and
// memory_limit are integer-clamped; cpu_limit is clamped then rounded
// to 2 decimal places, matching the precision the search operates at.
func (bv *BoundsValidator) Clamp(ind individual.Individual) individual.Individual {
	clamped := ind

	clamped.Replicas = clampInt(ind.Replicas, bv.bounds.ReplicasMin, bv.bounds.ReplicasMax)
	clamped.MemoryLimit = clampInt(ind.MemoryLimit, bv.bounds.MemoryMin, bv.bounds.MemoryMax)

	cpu := ind.CPULimit
	if cpu < bv.bounds.CPUMin {
		cpu = bv.bounds.CPUMin
	}
	if cpu > bv.bounds.CPUMax {
		cpu = bv.bounds.CPUMax
	}
	clamped.CPULimit = roundTo2(cpu)

	return clamped
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func roundTo2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
