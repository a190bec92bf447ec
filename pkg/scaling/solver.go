// Package scaling implements the per-cluster replica-count optimization
// that the scaling loop runs every decision interval.
package scaling

import (
	"fmt"
	"math"
	"time"

	"github.com/nimbusmesh/smo/internal/apierr"
)

// TimeLimit bounds how long Solve searches before reporting ESCALATE.
const TimeLimit = 5 * time.Second

// Weight coefficients for the two objective terms, fixed per the component
// design (§4.5): utilization cost and transformation (churn) cost are
// weighted equally.
const (
	WeightUtilization = 0.4
	WeightTransform   = 0.4
)

// Input holds the per-tick parameters for one cluster's managed services.
// All slices are indexed in the same managed-service order.
type Input struct {
	RequestRate      []float64 // λ[s], requests/sec
	PreviousReplicas []int     // r_prev[s]
	CPULimit         []float64 // ℓ[s], cores
	GPURequired      []int     // g[s], 1 if service s needs GPU
	Alpha            []float64 // α[s]
	Beta             []float64 // β[s]
	MaxReplicas      []int     // R_max[s]

	ClusterCapacity float64 // C, cores
	ClusterGPU      int     // G, 1 if cluster has GPU acceleration
}

func (in Input) numServices() int { return len(in.RequestRate) }

// Solver solves the integer replica-count problem by bounded enumeration:
// each service's replica count ranges over [1, R_max[s]], a small integer
// range by construction, so the search explores it directly instead of
// requiring a general MIP engine.
type Solver struct{}

// NewSolver creates a scaling Solver.
func NewSolver() *Solver {
	return &Solver{}
}

// Escalate is the sentinel the scaling loop checks for to trigger a
// re-placement instead of a scale action.
var Escalate = apierr.ErrSolverInfeasible

// Solve returns the chosen replica count for each managed service, or
// Escalate if no assignment satisfies the cluster's CPU bound, GPU
// admissibility, and per-service throughput floor within TimeLimit.
func (s *Solver) Solve(in Input) ([]int, error) {
	n := in.numServices()
	if n == 0 {
		return nil, fmt.Errorf("%w: empty managed service list", Escalate)
	}
	if err := validateLengths(in); err != nil {
		return nil, err
	}

	for s := 0; s < n; s++ {
		if in.GPURequired[s] == 1 && in.ClusterGPU == 0 {
			return nil, fmt.Errorf("%w: service %d requires GPU on a non-GPU cluster", Escalate, s)
		}
	}

	maxUtilCost := 0.0
	for s := 0; s < n; s++ {
		u := float64(in.MaxReplicas[s]) * in.CPULimit[s]
		if u > maxUtilCost {
			maxUtilCost = u
		}
	}
	if maxUtilCost == 0 {
		maxUtilCost = 1
	}

	b := &branch{
		in:          in,
		n:           n,
		maxUtilCost: maxUtilCost,
		deadline:    time.Now().Add(TimeLimit),
	}

	r := make([]int, n)
	for s := 0; s < n; s++ {
		// Lower-bound each service at the smallest replica count
		// satisfying its own throughput floor, pruning the search
		// space before recursing.
		r[s] = minFeasibleReplicas(in, s)
		if r[s] > in.MaxReplicas[s] {
			return nil, fmt.Errorf("%w: service %d cannot meet its throughput floor within max replicas", Escalate, s)
		}
	}

	if !b.search(r, 0) {
		return nil, Escalate
	}
	return b.best, nil
}

func validateLengths(in Input) error {
	n := in.numServices()
	if len(in.PreviousReplicas) != n || len(in.CPULimit) != n || len(in.GPURequired) != n ||
		len(in.Alpha) != n || len(in.Beta) != n || len(in.MaxReplicas) != n {
		return fmt.Errorf("%w: input slices of inconsistent length", Escalate)
	}
	return nil
}

// minFeasibleReplicas returns the smallest r >= 1 satisfying
// alpha[s]*r + beta[s] >= request_rate[s].
func minFeasibleReplicas(in Input, s int) int {
	if in.Alpha[s] <= 0 {
		if in.Beta[s] >= in.RequestRate[s] {
			return 1
		}
		return in.MaxReplicas[s] + 1 // unreachable regardless of r; signal infeasible
	}
	r := int(math.Ceil((in.RequestRate[s] - in.Beta[s]) / in.Alpha[s]))
	if r < 1 {
		r = 1
	}
	return r
}

type branch struct {
	in          Input
	n           int
	maxUtilCost float64
	deadline    time.Time

	bestCost float64
	bestSet  bool
	best     []int
}

// search enumerates replica counts for services [idx..n) from their
// precomputed feasible lower bound up to MaxReplicas, checking the cluster
// CPU bound once each complete assignment is built.
func (b *branch) search(r []int, idx int) bool {
	if time.Now().After(b.deadline) {
		return b.bestSet
	}

	if idx == b.n {
		used := 0.0
		for s := 0; s < b.n; s++ {
			used += b.in.CPULimit[s] * float64(r[s])
		}
		if used > b.in.ClusterCapacity {
			return false
		}
		cost := b.objective(r)
		if !b.bestSet || cost < b.bestCost {
			b.bestCost = cost
			b.bestSet = true
			b.best = append([]int(nil), r...)
		}
		return true
	}

	lo := minFeasibleReplicas(b.in, idx)
	hi := b.in.MaxReplicas[idx]
	found := false
	for v := lo; v <= hi; v++ {
		r[idx] = v
		if b.search(r, idx+1) {
			found = true
		}
	}
	return found
}

func (b *branch) objective(r []int) float64 {
	in := b.in
	utilCost := 0.0
	transCost := 0.0
	for s := 0; s < b.n; s++ {
		utilCost += float64(r[s]) * in.CPULimit[s]
		diff := r[s] - in.PreviousReplicas[s]
		if diff < 0 {
			diff = -diff
		}
		transCost += float64(diff) / float64(in.MaxReplicas[s])
	}
	return WeightUtilization*(utilCost/b.maxUtilCost) + WeightTransform*transCost
}
