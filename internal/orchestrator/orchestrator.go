// Package orchestrator wires the placement solver, scaling solver, cluster
// client, metrics client, artifact driver, and graph store into the
// submit/remove/start/stop/replace lifecycle and the per-cluster scaling
// loops described in the component design (§4.7, §4.8).
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"github.com/nimbusmesh/smo/internal/apierr"
	"github.com/nimbusmesh/smo/internal/telemetry"
	"github.com/nimbusmesh/smo/pkg/artifact"
	"github.com/nimbusmesh/smo/pkg/clusterclient"
	"github.com/nimbusmesh/smo/pkg/descriptor"
	"github.com/nimbusmesh/smo/pkg/graph"
	"github.com/nimbusmesh/smo/pkg/metricsclient"
	"github.com/nimbusmesh/smo/pkg/placement"
	"github.com/nimbusmesh/smo/pkg/scaling"
)

// Config carries the operational knobs the orchestrator needs beyond its
// collaborators: scaling loop cadence and the frontend request-rate alias
// documented in spec §9 as a deployment-specific quirk, not a general rule.
type Config struct {
	DecisionInterval time.Duration
	FrontendService  string
	FrontendUpstream string
}

// Orchestrator is the control-plane core: it holds no ambient global state,
// only the process-wide maps the design notes call for — scaling loop
// handles and last-known placement, both keyed by graph name.
type Orchestrator struct {
	store    *graph.Store
	topology *Topology

	placementSolver *placement.Solver
	scalingSolver   *scaling.Solver
	driver          *artifact.Driver
	clusters        *clusterclient.Registry
	metrics         metricsclient.Client

	logger *slog.Logger
	cfg    Config

	mapMu      sync.Mutex
	graphLocks map[string]*sync.Mutex
	loops      map[string]map[string]*loopHandle
	placements map[string]placementState

	// replaceGroup collapses concurrent Replace triggers on the same
	// graph — an operator-initiated trigger racing a scaling loop's
	// escalation, say — into a single in-flight re-placement.
	replaceGroup singleflight.Group
}

// placementState is the warm-start record the design notes require: the
// most recent placement per graph, plus enough context (service and
// cluster ordering) to re-derive it on the next Replace.
type placementState struct {
	matrix   [][]int
	services []string
	clusters []string
}

// New creates an Orchestrator wiring together the collaborators named in
// the component design.
func New(
	store *graph.Store,
	topology *Topology,
	placementSolver *placement.Solver,
	scalingSolver *scaling.Solver,
	driver *artifact.Driver,
	clusters *clusterclient.Registry,
	metrics metricsclient.Client,
	logger *slog.Logger,
	cfg Config,
) *Orchestrator {
	return &Orchestrator{
		store:           store,
		topology:        topology,
		placementSolver: placementSolver,
		scalingSolver:   scalingSolver,
		driver:          driver,
		clusters:        clusters,
		metrics:         metrics,
		logger:          logger,
		cfg:             cfg,
		graphLocks:      make(map[string]*sync.Mutex),
		loops:           make(map[string]map[string]*loopHandle),
		placements:      make(map[string]placementState),
	}
}

// lockGraph serializes submit/replace/remove against the same graph name,
// per the ordering guarantee in spec §5.
func (o *Orchestrator) lockGraph(name string) func() {
	o.mapMu.Lock()
	l, ok := o.graphLocks[name]
	if !ok {
		l = &sync.Mutex{}
		o.graphLocks[name] = l
	}
	o.mapMu.Unlock()

	l.Lock()
	return l.Unlock
}

// submitBody is the shape of a POST /graph/project/{project} body that
// names an OCI artifact rather than embedding the descriptor directly.
type submitBody struct {
	Artifact string `json:"artifact" yaml:"artifact"`
}

// Submit implements spec §4.7 Submit: reject on name collision, solve
// initial placement, derive imports, inject overrides, install each
// service's artifact, persist, and launch scaling loops.
func (o *Orchestrator) Submit(ctx context.Context, project string, body []byte) (graph.Graph, error) {
	raw := body
	var sb submitBody
	if err := yaml.Unmarshal(body, &sb); err == nil && sb.Artifact != "" {
		pulled, err := o.driver.PullDescriptor(ctx, sb.Artifact)
		if err != nil {
			return graph.Graph{}, err
		}
		raw = pulled
	}

	desc, err := descriptor.Parse(raw)
	if err != nil {
		return graph.Graph{}, err
	}

	unlock := o.lockGraph(desc.HDAGraph.ID)
	defer unlock()

	if _, err := o.store.GetByName(ctx, desc.HDAGraph.ID); err == nil {
		return graph.Graph{}, fmt.Errorf("%w: graph %q", apierr.ErrConflict, desc.HDAGraph.ID)
	} else if !errors.Is(err, apierr.ErrNotFound) {
		return graph.Graph{}, err
	}

	in, serviceIDs, err := o.initialPlacementInput(desc)
	if err != nil {
		return graph.Graph{}, err
	}

	matrix, err := o.solvePlacement(desc.HDAGraph.ID, in)
	if err != nil {
		return graph.Graph{}, err
	}

	clusterNames := o.topology.ClusterNames()
	refs := make([]placement.ServiceRef, len(serviceIDs))
	for i, id := range serviceIDs {
		refs[i] = placement.ServiceRef{ID: id}
	}
	servicePlacement := placement.ConvertPlacement(matrix, refs, clusterNames)
	imports := descriptor.ImportClusters(desc.HDAGraph.Services, servicePlacement)

	g := graph.Graph{
		Name:       desc.HDAGraph.ID,
		Project:    project,
		Status:     graph.StatusRunning,
		Descriptor: toDescriptorMap(desc.HDAGraph),
	}

	// Installs are independent per service (each targets its own Helm
	// release), so they fan out concurrently; a per-service failure is
	// logged and recorded as NotDeployed rather than aborting the others,
	// matching the best-effort commit semantics in spec §1 Non-goals.
	services := make([]graph.Service, len(desc.HDAGraph.Services))
	var eg errgroup.Group
	for i, svc := range desc.HDAGraph.Services {
		i, svc := i, svc
		eg.Go(func() error {
			cluster := servicePlacement[svc.ID]
			values := descriptor.ApplyPlacementOverrides(copyValues(svc.Artifact.Values), svc.Artifact.OCIConfig.Implementer, cluster, imports[svc.ID])

			status := graph.ServiceDeployed
			if err := o.driver.Install(ctx, svc.ID, svc.Artifact.OCIImage, values); err != nil {
				o.logger.Error("installing service artifact", "graph", g.Name, "service", svc.ID, "error", err)
				telemetry.ArtifactOperationsTotal.WithLabelValues("install", "error").Inc()
				status = graph.ServiceNotDeployed
			} else {
				telemetry.ArtifactOperationsTotal.WithLabelValues("install", "ok").Inc()
			}

			services[i] = graph.Service{
				Name:                svc.ID,
				GraphName:           g.Name,
				Status:              status,
				ClusterAffinity:     cluster,
				ArtifactRef:         svc.Artifact.OCIImage,
				ArtifactType:        svc.Artifact.OCIConfig.Type,
				ArtifactImplementer: svc.Artifact.OCIConfig.Implementer,
				Resources:           serviceResources(o.topology, svc.ID),
				ValuesOverwrite:     values,
			}
			return nil
		})
	}
	_ = eg.Wait() // workers never return a non-nil error; failures are recorded per-service above
	g.Services = services

	if err := o.store.Insert(ctx, g); err != nil {
		return graph.Graph{}, err
	}

	o.setPlacement(g.Name, matrix, serviceIDs, clusterNames)
	o.launchScalingLoops(g.Name, servicePlacement)

	return g, nil
}

// Replace implements spec §4.7 Replace: stop scaling loops, sample current
// replicas, force a changed placement, upgrade affected services, and
// relaunch scaling loops. Concurrent Replace calls for the same graph name
// — an operator trigger racing a scaling loop's escalation — collapse into
// a single in-flight re-placement via singleflight.
func (o *Orchestrator) Replace(ctx context.Context, name string) error {
	_, err, _ := o.replaceGroup.Do(name, func() (interface{}, error) {
		return nil, o.replaceLocked(ctx, name)
	})
	return err
}

func (o *Orchestrator) replaceLocked(ctx context.Context, name string) error {
	unlock := o.lockGraph(name)
	defer unlock()

	g, err := o.store.GetByName(ctx, name)
	if err != nil {
		return err
	}

	o.stopScalingLoops(name)

	in, serviceIDs, err := o.replacePlacementInput(ctx, g)
	if err != nil {
		return err
	}

	matrix, err := o.solvePlacement(name, in)
	if err != nil {
		return err
	}

	clusterNames := o.topology.ClusterNames()
	refs := make([]placement.ServiceRef, len(serviceIDs))
	for i, id := range serviceIDs {
		refs[i] = placement.ServiceRef{ID: id}
	}
	servicePlacement := placement.ConvertPlacement(matrix, refs, clusterNames)
	imports := descriptor.ImportClusters(descriptorManifests(g), servicePlacement)

	for i, svc := range g.Services {
		newCluster := servicePlacement[svc.Name]
		if newCluster == svc.ClusterAffinity {
			continue
		}
		values := descriptor.ApplyPlacementOverrides(copyValues(svc.ValuesOverwrite), svc.ArtifactImplementer, newCluster, imports[svc.Name])
		if err := o.driver.Upgrade(ctx, svc.Name, svc.ArtifactRef, values); err != nil {
			o.logger.Error("upgrading service artifact", "graph", name, "service", svc.Name, "error", err)
			telemetry.ArtifactOperationsTotal.WithLabelValues("upgrade", "error").Inc()
			continue
		}
		telemetry.ArtifactOperationsTotal.WithLabelValues("upgrade", "ok").Inc()
		if err := o.store.UpdateServiceValues(ctx, name, svc.Name, values, newCluster); err != nil {
			return err
		}
		g.Services[i].ClusterAffinity = newCluster
		g.Services[i].ValuesOverwrite = values
	}

	o.setPlacement(name, matrix, serviceIDs, clusterNames)

	if g.Status == graph.StatusRunning {
		o.launchScalingLoops(name, servicePlacement)
	}
	return nil
}

// Start implements spec §4.7 Start: install every service's artifact and
// mark the graph Running. Conflicts if already Running.
func (o *Orchestrator) Start(ctx context.Context, name string) error {
	unlock := o.lockGraph(name)
	defer unlock()

	g, err := o.store.GetByName(ctx, name)
	if err != nil {
		return err
	}
	if g.Status == graph.StatusRunning {
		return fmt.Errorf("%w: graph %q already running", apierr.ErrConflict, name)
	}

	servicePlacement := make(map[string]string, len(g.Services))
	for _, svc := range g.Services {
		servicePlacement[svc.Name] = svc.ClusterAffinity
		if err := o.driver.Install(ctx, svc.Name, svc.ArtifactRef, svc.ValuesOverwrite); err != nil {
			o.logger.Error("installing service artifact", "graph", name, "service", svc.Name, "error", err)
			telemetry.ArtifactOperationsTotal.WithLabelValues("install", "error").Inc()
			continue
		}
		telemetry.ArtifactOperationsTotal.WithLabelValues("install", "ok").Inc()
		if err := o.store.SetServiceStatus(ctx, name, svc.Name, graph.ServiceDeployed); err != nil {
			return err
		}
	}
	if err := o.store.SetGraphStatus(ctx, name, graph.StatusRunning); err != nil {
		return err
	}

	o.launchScalingLoops(name, servicePlacement)
	return nil
}

// Stop implements spec §4.7 Stop: uninstall every service's artifact, stop
// scaling loops, and mark the graph Stopped. Conflicts if already Stopped.
func (o *Orchestrator) Stop(ctx context.Context, name string) error {
	unlock := o.lockGraph(name)
	defer unlock()

	g, err := o.store.GetByName(ctx, name)
	if err != nil {
		return err
	}
	if g.Status == graph.StatusStopped {
		return fmt.Errorf("%w: graph %q already stopped", apierr.ErrConflict, name)
	}

	o.stopScalingLoops(name)

	for _, svc := range g.Services {
		if err := o.driver.Uninstall(ctx, svc.Name); err != nil {
			o.logger.Error("uninstalling service artifact", "graph", name, "service", svc.Name, "error", err)
			telemetry.ArtifactOperationsTotal.WithLabelValues("uninstall", "error").Inc()
			continue
		}
		telemetry.ArtifactOperationsTotal.WithLabelValues("uninstall", "ok").Inc()
		if err := o.store.SetServiceStatus(ctx, name, svc.Name, graph.ServiceNotDeployed); err != nil {
			return err
		}
	}
	return o.store.SetGraphStatus(ctx, name, graph.StatusStopped)
}

// Remove implements spec §4.7 Remove: uninstall artifacts, stop scaling
// loops, and delete the graph (cascading to its services).
func (o *Orchestrator) Remove(ctx context.Context, name string) error {
	unlock := o.lockGraph(name)
	defer unlock()

	g, err := o.store.GetByName(ctx, name)
	if err != nil {
		return err
	}

	o.stopScalingLoops(name)

	for _, svc := range g.Services {
		if err := o.driver.Uninstall(ctx, svc.Name); err != nil {
			o.logger.Error("uninstalling service artifact", "graph", name, "service", svc.Name, "error", err)
			telemetry.ArtifactOperationsTotal.WithLabelValues("uninstall", "error").Inc()
			continue
		}
		telemetry.ArtifactOperationsTotal.WithLabelValues("uninstall", "ok").Inc()
	}

	if err := o.store.Delete(ctx, name); err != nil {
		return err
	}

	o.mapMu.Lock()
	delete(o.placements, name)
	delete(o.graphLocks, name)
	o.mapMu.Unlock()

	return nil
}

// initialPlacementInput builds the placement.Input for a freshly submitted
// graph: every service seeded onto cluster 0 (the prototype default),
// τ=0 (no forced change).
func (o *Orchestrator) initialPlacementInput(desc *descriptor.Descriptor) (placement.Input, []string, error) {
	n := len(desc.HDAGraph.Services)
	k := len(o.topology.Clusters)
	if k == 0 {
		return placement.Input{}, nil, fmt.Errorf("%w: no clusters configured in topology", apierr.ErrSolverInfeasible)
	}

	serviceIDs := make([]string, n)
	cpuLimit := make([]float64, n)
	gpuRequired := make([]int, n)
	replicas := make([]int, n)
	previous := make([][]int, n)

	for i, svc := range desc.HDAGraph.Services {
		spec, ok := o.topology.Services[svc.ID]
		if !ok {
			return placement.Input{}, nil, fmt.Errorf("%w: no topology entry for service %q", apierr.ErrDescriptorParse, svc.ID)
		}
		serviceIDs[i] = svc.ID
		cpuLimit[i] = spec.CPULimit
		gpuRequired[i] = boolToInt(spec.GPURequired)
		replicas[i] = spec.ReplicasInitial
		row := make([]int, k)
		row[0] = 1
		previous[i] = row
	}

	return placement.Input{
		ClusterCapacity: clusterCapacities(o.topology),
		ClusterGPU:      clusterGPUs(o.topology),
		CPULimit:        cpuLimit,
		GPURequired:     gpuRequired,
		Replicas:        replicas,
		Previous:        previous,
		Initial:         true,
		Dependency:      make([]int, max(n-1, 0)),
	}, serviceIDs, nil
}

// replacePlacementInput builds the placement.Input for a re-placement:
// the previous placement matrix comes from the stored service cluster
// affinities, and replica counts are sampled live from the clusters.
func (o *Orchestrator) replacePlacementInput(ctx context.Context, g graph.Graph) (placement.Input, []string, error) {
	clusterNames := o.topology.ClusterNames()
	n := len(g.Services)
	k := len(clusterNames)
	if k == 0 {
		return placement.Input{}, nil, fmt.Errorf("%w: no clusters configured in topology", apierr.ErrSolverInfeasible)
	}

	serviceIDs := make([]string, n)
	cpuLimit := make([]float64, n)
	gpuRequired := make([]int, n)
	replicas := make([]int, n)
	previous := make([][]int, n)

	for i, svc := range g.Services {
		spec, ok := o.topology.Services[svc.Name]
		if !ok {
			return placement.Input{}, nil, fmt.Errorf("%w: no topology entry for service %q", apierr.ErrDescriptorParse, svc.Name)
		}
		serviceIDs[i] = svc.Name
		cpuLimit[i] = spec.CPULimit
		gpuRequired[i] = boolToInt(spec.GPURequired)

		replicas[i] = o.sampleReplicas(ctx, svc)

		row := make([]int, k)
		idx := o.topology.ClusterIndex(svc.ClusterAffinity)
		if idx < 0 {
			idx = 0
		}
		row[idx] = 1
		previous[i] = row
	}

	return placement.Input{
		ClusterCapacity: clusterCapacities(o.topology),
		ClusterGPU:      clusterGPUs(o.topology),
		CPULimit:        cpuLimit,
		GPURequired:     gpuRequired,
		Replicas:        replicas,
		Previous:        previous,
		Initial:         false,
		Dependency:      make([]int, max(n-1, 0)),
	}, serviceIDs, nil
}

// sampleReplicas reads the service's current replica count from its
// cluster-of-record, falling back to its topology-configured initial
// count per the open question in spec §9 on re-placement's source of
// truth (any single member cluster, not the federation control plane).
func (o *Orchestrator) sampleReplicas(ctx context.Context, svc graph.Service) int {
	fallback := o.topology.Services[svc.Name].ReplicasInitial

	client, err := o.clusters.For(svc.ClusterAffinity)
	if err != nil {
		o.logger.Warn("sampling replicas: cluster client unavailable", "service", svc.Name, "cluster", svc.ClusterAffinity, "error", err)
		return fallback
	}

	r, err := client.GetReplicas(ctx, svc.Name)
	if err != nil {
		o.logger.Warn("sampling replicas", "service", svc.Name, "cluster", svc.ClusterAffinity, "error", err)
		return fallback
	}
	return r
}

// solvePlacement runs the placement solver, timing it and recording the
// outcome, matching the instrumentation the scaling loop already does
// around its own solver calls.
func (o *Orchestrator) solvePlacement(graphName string, in placement.Input) ([][]int, error) {
	start := time.Now()
	matrix, err := o.placementSolver.Solve(in)
	telemetry.PlacementSolverDuration.WithLabelValues(graphName).Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.PlacementsTotal.WithLabelValues(graphName, "infeasible").Inc()
		return nil, err
	}
	telemetry.PlacementsTotal.WithLabelValues(graphName, "solved").Inc()
	return matrix, nil
}

func (o *Orchestrator) setPlacement(name string, matrix [][]int, services, clusters []string) {
	o.mapMu.Lock()
	o.placements[name] = placementState{matrix: matrix, services: services, clusters: clusters}
	o.mapMu.Unlock()
}

func clusterCapacities(t *Topology) []float64 {
	out := make([]float64, len(t.Clusters))
	for i, c := range t.Clusters {
		out[i] = c.CPUCapacity
	}
	return out
}

func clusterGPUs(t *Topology) []int {
	out := make([]int, len(t.Clusters))
	for i, c := range t.Clusters {
		out[i] = boolToInt(c.GPUAvailable)
	}
	return out
}

func serviceResources(t *Topology, name string) map[string]interface{} {
	spec, ok := t.Services[name]
	if !ok {
		return map[string]interface{}{}
	}
	return map[string]interface{}{
		"cpu": spec.CPULimit,
		"gpu": spec.GPURequired,
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func copyValues(values map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

// toDescriptorMap round-trips an HDAGraph through JSON into a plain map so
// the graph store can persist it as an opaque document.
func toDescriptorMap(hda descriptor.HDAGraph) map[string]interface{} {
	raw, err := json.Marshal(hda)
	if err != nil {
		return map[string]interface{}{"id": hda.ID}
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]interface{}{"id": hda.ID}
	}
	return m
}

// descriptorManifests re-derives the []descriptor.ServiceManifest needed to
// recompute import sets from a stored Graph's opaque descriptor document.
func descriptorManifests(g graph.Graph) []descriptor.ServiceManifest {
	raw, err := json.Marshal(map[string]interface{}{"hdaGraph": g.Descriptor})
	if err != nil {
		return nil
	}
	desc, err := descriptor.Parse(raw)
	if err != nil {
		return nil
	}
	return desc.HDAGraph.Services
}
