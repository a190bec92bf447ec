package scaling

import (
	"errors"
	"testing"
)

func TestSolveRespectsInvariants(t *testing.T) {
	in := Input{
		RequestRate:      []float64{50, 20},
		PreviousReplicas: []int{2, 1},
		CPULimit:         []float64{0.5, 1},
		GPURequired:      []int{0, 0},
		Alpha:            []float64{30, 25},
		Beta:             []float64{5, 5},
		MaxReplicas:      []int{5, 4},
		ClusterCapacity:  6,
		ClusterGPU:       0,
	}

	got, err := NewSolver().Solve(in)
	if err != nil {
		t.Fatalf("Solve returned error: %v", err)
	}

	capUsed := 0.0
	for s, r := range got {
		if r < 1 || r > in.MaxReplicas[s] {
			t.Errorf("service %d replicas = %d, out of bounds [1, %d]", s, r, in.MaxReplicas[s])
		}
		if in.Alpha[s]*float64(r)+in.Beta[s] < in.RequestRate[s] {
			t.Errorf("service %d throughput floor violated: alpha*r+beta < request rate", s)
		}
		capUsed += in.CPULimit[s] * float64(r)
	}
	if capUsed > in.ClusterCapacity {
		t.Errorf("cluster over capacity: used %v, capacity %v", capUsed, in.ClusterCapacity)
	}
}

func TestSolveEscalatesWhenGPURequiredButUnavailable(t *testing.T) {
	in := Input{
		RequestRate:      []float64{10},
		PreviousReplicas: []int{1},
		CPULimit:         []float64{1},
		GPURequired:      []int{1},
		Alpha:            []float64{10},
		Beta:             []float64{0},
		MaxReplicas:      []int{4},
		ClusterCapacity:  10,
		ClusterGPU:       0,
	}

	_, err := NewSolver().Solve(in)
	if !errors.Is(err, Escalate) {
		t.Fatalf("Solve() error = %v, want Escalate", err)
	}
}

func TestSolveEscalatesWhenCapacityInsufficient(t *testing.T) {
	in := Input{
		RequestRate:      []float64{1000},
		PreviousReplicas: []int{1},
		CPULimit:         []float64{1},
		GPURequired:      []int{0},
		Alpha:            []float64{10},
		Beta:             []float64{0},
		MaxReplicas:      []int{2},
		ClusterCapacity:  1,
		ClusterGPU:       0,
	}

	_, err := NewSolver().Solve(in)
	if !errors.Is(err, Escalate) {
		t.Fatalf("Solve() error = %v, want Escalate", err)
	}
}
