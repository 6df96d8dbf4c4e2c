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

package individual

import "testing"

func TestIndividual_Equal(t *testing.T) {
	a := Individual{Replicas: 2, CPULimit: 0.5, MemoryLimit: 256, ContainerName: "app"}
	b := Individual{Replicas: 2, CPULimit: 0.5, MemoryLimit: 256, ContainerName: "sidecar"}
	c := Individual{Replicas: 3, CPULimit: 0.5, MemoryLimit: 256}

	if !a.Equal(b) {
		t.Error("individuals with the same triple but different container name should be equal")
	}
	if a.Equal(c) {
		t.Error("individuals with different replicas should not be equal")
	}
}

func TestConvergence(t *testing.T) {
	if got := Convergence(nil); got != 0 {
		t.Errorf("Convergence(nil) = %v, want 0", got)
	}

	identical := []float64{0.5, 0.5, 0.5, 0.5}
	if got := Convergence(identical); got != 1.0 {
		t.Errorf("Convergence(identical scores) = %v, want 1.0 (zero variance)", got)
	}

	spread := []float64{0.0, 1.0}
	got := Convergence(spread)
	if got <= 0 || got >= 1.0 {
		t.Errorf("Convergence(spread scores) = %v, want in (0,1)", got)
	}
}
