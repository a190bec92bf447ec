// Package placement implements the mixed-integer assignment problem that
// maps application graph services onto federation member clusters.
package placement

import (
	"fmt"
	"time"

	"github.com/nimbusmesh/smo/internal/apierr"
)

// TimeLimit bounds how long Solve searches before giving up and reporting
// infeasibility, per the ≤5s solver budget.
const TimeLimit = 5 * time.Second

// Input holds the per-solve parameters for the placement MIP described in
// the component design: cluster capacities/accelerator flags, per-service
// CPU limits/GPU requirements/replica counts, the previous placement (used
// both as a warm start and for the re-optimization cost term), and whether
// this is an initial placement or a forced re-placement.
type Input struct {
	// ClusterCapacity[k] is cluster k's CPU capacity in cores.
	ClusterCapacity []float64
	// ClusterGPU[k] is 1 if cluster k has GPU acceleration available, else 0.
	ClusterGPU []int

	// CPULimit[i] is service i's CPU limit in cores.
	CPULimit []float64
	// GPURequired[i] is 1 if service i requires GPU acceleration, else 0.
	GPURequired []int
	// Replicas[i] is service i's current replica count.
	Replicas []int

	// Previous is the placement matrix to warm-start and penalize moves
	// against. For an initial placement it may be any matrix satisfying
	// exactly-one-per-row; the prototype's default seeds every service
	// onto cluster 0.
	Previous [][]int

	// Initial selects τ=0 (no forced change) vs τ=-1 (forced change) in
	// the change-semantics constraint.
	Initial bool

	// Dependency[i] is the co-location lower bound d[i] between service
	// i and i+1 (see constraint 5). The prototype hardcodes this to all
	// zeros; §9 Open Questions leaves its descriptor-derived source
	// undefined, so callers that don't have one should pass a zero
	// slice of length N-1.
	Dependency []int
}

// numServices and numClusters derive N and K from Input.
func (in Input) numServices() int { return len(in.CPULimit) }
func (in Input) numClusters() int { return len(in.ClusterCapacity) }

// Solver solves the placement assignment problem by branch-and-bound search
// over the binary assignment matrix. N·K is small by construction (the
// component design calls for it explicitly), so an exhaustive/pruned search
// reaches the optimum well within TimeLimit without needing a general MIP
// engine.
type Solver struct{}

// NewSolver creates a placement Solver.
func NewSolver() *Solver {
	return &Solver{}
}

// Solve assigns each service to exactly one cluster, minimizing deployment
// cost plus re-optimization cost, subject to the constraints in the
// component design (exactly-one, change semantics, CPU capacity, GPU
// admissibility, co-location, anchor pin). It returns apierr.ErrSolverInfeasible
// if no assignment satisfies every constraint within TimeLimit.
func (s *Solver) Solve(in Input) ([][]int, error) {
	n := in.numServices()
	k := in.numClusters()
	if n == 0 || k == 0 {
		return nil, fmt.Errorf("%w: empty service or cluster list", apierr.ErrSolverInfeasible)
	}
	if err := validateLengths(in); err != nil {
		return nil, err
	}

	dep := in.Dependency
	if dep == nil {
		dep = make([]int, n-1)
	}

	tau := 0
	if !in.Initial {
		tau = -1
	}

	b := &branch{
		in:       in,
		n:        n,
		k:        k,
		tau:      tau,
		dep:      dep,
		deadline: time.Now().Add(TimeLimit),
	}

	assign := make([]int, n)
	for i := range assign {
		assign[i] = -1
	}

	if !b.search(assign, 0) {
		return nil, apierr.ErrSolverInfeasible
	}

	return assignToMatrix(b.best, n, k), nil
}

func validateLengths(in Input) error {
	n := in.numServices()
	k := in.numClusters()
	if len(in.GPURequired) != n || len(in.Replicas) != n {
		return fmt.Errorf("%w: service attribute slices of inconsistent length", apierr.ErrSolverInfeasible)
	}
	if len(in.ClusterGPU) != k {
		return fmt.Errorf("%w: cluster attribute slices of inconsistent length", apierr.ErrSolverInfeasible)
	}
	if len(in.Previous) != n {
		return fmt.Errorf("%w: previous placement has wrong number of rows", apierr.ErrSolverInfeasible)
	}
	for _, row := range in.Previous {
		if len(row) != k {
			return fmt.Errorf("%w: previous placement has wrong number of columns", apierr.ErrSolverInfeasible)
		}
	}
	return nil
}

// branch carries the fixed problem data plus mutable search state through
// the recursive assignment search.
type branch struct {
	in  Input
	n   int
	k   int
	tau int
	dep []int

	deadline time.Time

	bestCost float64
	bestSet  bool
	best     []int
}

// search assigns clusters to services [idx..n) by trying every cluster for
// service idx, pruning branches that violate a constraint checkable with a
// partial assignment, and keeps the lowest-cost complete assignment found.
func (b *branch) search(assign []int, idx int) bool {
	if time.Now().After(b.deadline) {
		return b.bestSet
	}

	if idx == b.n {
		if !changeCountSatisfied(b.in, assign, b.tau) {
			return false
		}
		if !b.coLocationSatisfied(assign) {
			return false
		}
		cost := b.objective(assign)
		if !b.bestSet || cost < b.bestCost {
			b.bestCost = cost
			b.bestSet = true
			b.best = append([]int(nil), assign...)
		}
		return true
	}

	for c := 0; c < b.k; c++ {
		if idx == 0 && c != 0 {
			// Anchor pin: x[0][0] = 1.
			continue
		}
		assign[idx] = c
		if b.feasiblePartial(assign, idx) {
			b.search(assign, idx+1)
		}
	}
	assign[idx] = -1
	return b.bestSet
}

// feasiblePartial checks every constraint that can be evaluated against a
// partial assignment once service idx has been placed on its chosen
// cluster: per-cluster CPU capacity and GPU admissibility for idx's
// cluster, computed incrementally to keep this cheap.
func (b *branch) feasiblePartial(assign []int, idx int) bool {
	in := b.in
	c := assign[idx]

	if idx > 0 && in.GPURequired[idx] > 0 && in.ClusterGPU[c] == 0 {
		return false
	}

	if idx > 0 {
		used := 0.0
		for i := 1; i <= idx; i++ {
			if assign[i] == c {
				used += in.CPULimit[i] * float64(in.Replicas[i])
			}
		}
		if used > in.ClusterCapacity[c] {
			return false
		}
	}

	return true
}

// objective computes the full placement cost for a complete assignment:
// deployment cost (count of placements, trivially N since exactly one per
// service) plus re-optimization cost penalizing moves off Previous.
func (b *branch) objective(assign []int) float64 {
	in := b.in
	cost := 0.0
	for i, c := range assign {
		cost += 1 // deployment cost term, Σ x[i][k] over the chosen k
		for kk, y := range in.Previous[i] {
			x := 0
			if kk == c {
				x = 1
			}
			cost += float64(y) * float64(y-x)
		}
	}
	return cost
}

// changeCountSatisfied reports whether assign satisfies the change-semantics
// constraint against Previous with the given tau. search calls it on every
// complete assignment before costing it.
func changeCountSatisfied(in Input, assign []int, tau int) bool {
	sum := 0
	for i := 1; i < len(assign); i++ {
		for k, y := range in.Previous[i] {
			x := 0
			if k == assign[i] {
				x = 1
			}
			sum += y * (x - y)
		}
	}
	return sum <= tau
}

// coLocationSatisfied checks constraint 5: for every i in [1,N), the
// auxiliary z[i,k]=x[i][k]·x[i-1][k] linearization collapses, for a
// complete 0/1 assignment, to "assign[i]==assign[i-1]" contributing 1 to
// the sum; the constraint requires that sum ≥ d[i-1].
func (b *branch) coLocationSatisfied(assign []int) bool {
	for i := 1; i < len(assign); i++ {
		z := 0
		if assign[i] == assign[i-1] {
			z = 1
		}
		if z < b.dep[i-1] {
			return false
		}
	}
	return true
}

func assignToMatrix(assign []int, n, k int) [][]int {
	m := make([][]int, n)
	for i := range m {
		m[i] = make([]int, k)
		m[i][assign[i]] = 1
	}
	return m
}
