package placement

import (
	"errors"
	"sort"
	"testing"

	"github.com/nimbusmesh/smo/internal/apierr"
)

func TestSolveInitialPlacement(t *testing.T) {
	in := Input{
		ClusterCapacity: []float64{4, 6},
		ClusterGPU:      []int{0, 0},
		CPULimit:        []float64{0.5, 1, 1},
		GPURequired:     []int{0, 0, 0},
		Replicas:        []int{1, 1, 1},
		Previous: [][]int{
			{1, 0},
			{1, 0},
			{1, 0},
		},
		Initial: true,
	}

	got, err := NewSolver().Solve(in)
	if err != nil {
		t.Fatalf("Solve returned error: %v", err)
	}

	want := [][]int{{1, 0}, {1, 0}, {1, 0}}
	if !equalMatrix(got, want) {
		t.Fatalf("Solve() = %v, want %v", got, want)
	}
}

func TestSolveRespectsInvariants(t *testing.T) {
	in := Input{
		ClusterCapacity: []float64{4, 6},
		ClusterGPU:      []int{0, 1},
		CPULimit:        []float64{0.5, 1, 2},
		GPURequired:     []int{0, 0, 1},
		Replicas:        []int{1, 2, 1},
		Previous: [][]int{
			{1, 0},
			{1, 0},
			{1, 0},
		},
		Initial: true,
	}

	got, err := NewSolver().Solve(in)
	if err != nil {
		t.Fatalf("Solve returned error: %v", err)
	}

	for i, row := range got {
		sum := 0
		for k, v := range row {
			sum += v
			if v == 1 && in.GPURequired[i] == 1 && in.ClusterGPU[k] == 0 {
				t.Errorf("service %d placed on non-GPU cluster %d but requires GPU", i, k)
			}
		}
		if sum != 1 {
			t.Errorf("service %d placed on %d clusters, want exactly 1", i, sum)
		}
	}

	if got[0][0] != 1 {
		t.Errorf("anchor pin violated: service 0 placed at %v, want cluster 0", got[0])
	}

	capUsed := make([]float64, len(in.ClusterCapacity))
	for i := 1; i < len(got); i++ {
		for k, v := range got[i] {
			if v == 1 {
				capUsed[k] += in.CPULimit[i] * float64(in.Replicas[i])
			}
		}
	}
	for k, used := range capUsed {
		if used > in.ClusterCapacity[k] {
			t.Errorf("cluster %d over capacity: used %v, capacity %v", k, used, in.ClusterCapacity[k])
		}
	}
}

func TestSolveForcesChangeOnReplace(t *testing.T) {
	in := Input{
		ClusterCapacity: []float64{4, 6},
		ClusterGPU:      []int{0, 0},
		CPULimit:        []float64{0.5, 1, 1},
		GPURequired:     []int{0, 0, 0},
		Replicas:        []int{1, 1, 1},
		Previous: [][]int{
			{1, 0},
			{1, 0},
			{1, 0},
		},
		Initial: false,
	}

	got, err := NewSolver().Solve(in)
	if err != nil {
		t.Fatalf("Solve returned error: %v", err)
	}

	changed := false
	for i := 1; i < len(got); i++ {
		if !equalRow(got[i], in.Previous[i]) {
			changed = true
		}
	}
	if !changed {
		t.Fatalf("Solve(initial=false) = %v, expected at least one service >= index 1 to move", got)
	}
}

func TestSolveInfeasible(t *testing.T) {
	in := Input{
		ClusterCapacity: []float64{0.1},
		ClusterGPU:      []int{0},
		CPULimit:        []float64{1, 1},
		GPURequired:     []int{0, 0},
		Replicas:        []int{10, 10},
		Previous: [][]int{
			{1},
			{1},
		},
		Initial: true,
	}

	_, err := NewSolver().Solve(in)
	if !errors.Is(err, apierr.ErrSolverInfeasible) {
		t.Fatalf("Solve() error = %v, want ErrSolverInfeasible", err)
	}
}

func TestConvertAndSwapPlacementAreInverse(t *testing.T) {
	p := [][]int{{1, 0}, {1, 0}}
	services := []ServiceRef{{ID: "service1"}, {ID: "service2"}}
	clusters := []string{"cluster1", "cluster2"}

	servicePlacement := ConvertPlacement(p, services, clusters)
	want := map[string]string{"service1": "cluster1", "service2": "cluster1"}
	if !equalStringMap(servicePlacement, want) {
		t.Fatalf("ConvertPlacement() = %v, want %v", servicePlacement, want)
	}

	clusterPlacement := SwapPlacement(servicePlacement)
	gotServices := append([]string(nil), clusterPlacement["cluster1"]...)
	sort.Strings(gotServices)
	wantServices := []string{"service1", "service2"}
	if !equalStringSlice(gotServices, wantServices) {
		t.Fatalf("SwapPlacement() cluster1 = %v, want %v", gotServices, wantServices)
	}
}

func equalMatrix(a, b [][]int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !equalRow(a[i], b[i]) {
			return false
		}
	}
	return true
}

func equalRow(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalStringMap(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func equalStringSlice(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
