package orchestrator

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/nimbusmesh/smo/internal/telemetry"
	"github.com/nimbusmesh/smo/pkg/clusterclient"
	"github.com/nimbusmesh/smo/pkg/scaling"
)

// unknownRetryInterval bounds the short sleep the loop takes when a managed
// service's replica count is not yet observable (spec §4.8 step 1).
const unknownRetryInterval = 5 * time.Second

// loopHandle is the process-wide state the design notes call for: one
// cancellation signal and a completion channel per (graph, cluster) worker,
// looked up by name rather than carried in a fixed-size array.
type loopHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// launchScalingLoops starts one worker per cluster holding managed services
// of the graph (services with a topology entry — only those can be scaled).
func (o *Orchestrator) launchScalingLoops(graphName string, servicePlacement map[string]string) {
	byCluster := make(map[string][]string)
	for svc, cluster := range servicePlacement {
		if _, ok := o.topology.Services[svc]; !ok {
			continue
		}
		byCluster[cluster] = append(byCluster[cluster], svc)
	}
	for _, services := range byCluster {
		sort.Strings(services)
	}

	o.mapMu.Lock()
	if o.loops[graphName] == nil {
		o.loops[graphName] = make(map[string]*loopHandle)
	}
	for cluster, services := range byCluster {
		ctx, cancel := context.WithCancel(context.Background())
		h := &loopHandle{cancel: cancel, done: make(chan struct{})}
		o.loops[graphName][cluster] = h
		go o.runScalingLoop(ctx, h.done, graphName, cluster, services)
	}
	o.mapMu.Unlock()
}

// stopScalingLoops signals cancellation to every worker for a graph and
// blocks until each has observed it, per the replace ordering guarantee in
// spec §5 ("signals cancel ... waits for them to observe cancellation").
func (o *Orchestrator) stopScalingLoops(graphName string) {
	o.mapMu.Lock()
	handles := o.loops[graphName]
	delete(o.loops, graphName)
	o.mapMu.Unlock()

	for _, h := range handles {
		h.cancel()
		<-h.done
	}
}

// runScalingLoop is one (graph, cluster) worker implementing spec §4.8's
// per-tick sequence: read replicas, read request rates, solve, act or
// escalate, then await cancellation or the decision interval.
func (o *Orchestrator) runScalingLoop(ctx context.Context, done chan struct{}, graphName, cluster string, services []string) {
	defer close(done)

	client, err := o.clusters.For(cluster)
	if err != nil {
		o.logger.Error("scaling loop: cluster client unavailable", "graph", graphName, "cluster", cluster, "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		replicas, ok := o.readReplicas(ctx, client, graphName, cluster, services)
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(unknownRetryInterval):
			}
			continue
		}

		input := o.buildScalingInput(ctx, graphName, cluster, services, replicas)

		start := time.Now()
		result, err := o.scalingSolver.Solve(input)
		telemetry.ScalingSolverDuration.WithLabelValues(graphName, cluster).Observe(time.Since(start).Seconds())

		switch {
		case errors.Is(err, scaling.Escalate):
			telemetry.ScalingTicksTotal.WithLabelValues(graphName, cluster, "escalated").Inc()
			telemetry.EscalationsTotal.WithLabelValues(graphName).Inc()
			o.logger.Warn("scaling solver infeasible, escalating to re-placement", "graph", graphName, "cluster", cluster)
			go func() {
				if err := o.Replace(context.Background(), graphName); err != nil {
					o.logger.Error("escalated re-placement failed", "graph", graphName, "error", err)
				}
			}()
			return
		case err != nil:
			telemetry.ScalingTicksTotal.WithLabelValues(graphName, cluster, "skipped").Inc()
			o.logger.Error("scaling solver error", "graph", graphName, "cluster", cluster, "error", err)
		default:
			o.applyScalingResult(ctx, client, graphName, cluster, services, replicas, result)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(o.cfg.DecisionInterval):
		}
	}
}

// readReplicas fetches current replicas for every managed service on this
// cluster. If any is ErrUnknown, ok is false and the caller retries on a
// short bounded interval without counting it as a tick.
func (o *Orchestrator) readReplicas(ctx context.Context, client clusterclient.Client, graphName, cluster string, services []string) (map[string]int, bool) {
	replicas := make(map[string]int, len(services))
	for _, svc := range services {
		r, err := client.GetReplicas(ctx, svc)
		if err != nil {
			if errors.Is(err, clusterclient.ErrUnknown) {
				return nil, false
			}
			o.logger.Warn("reading replicas", "graph", graphName, "cluster", cluster, "service", svc, "error", err)
			telemetry.ClusterClientErrorsTotal.WithLabelValues(cluster, "get_replicas").Inc()
			return nil, false
		}
		replicas[svc] = r
	}
	return replicas, true
}

// buildScalingInput samples request rates and assembles scaling.Input for
// this cluster's managed services, applying the frontend request-rate
// alias documented in spec §9.
func (o *Orchestrator) buildScalingInput(ctx context.Context, graphName, cluster string, services []string, replicas map[string]int) scaling.Input {
	n := len(services)
	in := scaling.Input{
		RequestRate:      make([]float64, n),
		PreviousReplicas: make([]int, n),
		CPULimit:         make([]float64, n),
		GPURequired:      make([]int, n),
		Alpha:            make([]float64, n),
		Beta:             make([]float64, n),
		MaxReplicas:      make([]int, n),
	}

	if spec, ok := o.topology.ClusterSpecByName(cluster); ok {
		in.ClusterCapacity = spec.CPUCapacity
		in.ClusterGPU = boolToInt(spec.GPUAvailable)
	}

	for i, svc := range services {
		spec, err := o.topology.serviceSpec(svc)
		if err != nil {
			o.logger.Warn("scaling service missing topology entry", "graph", graphName, "cluster", cluster, "service", svc, "error", err)
			continue
		}

		source := svc
		if svc == o.cfg.FrontendService {
			source = o.cfg.FrontendUpstream
		}
		rate, err := o.metrics.GetRequestRate(ctx, source, 30*time.Second)
		if err != nil {
			o.logger.Warn("reading request rate", "graph", graphName, "cluster", cluster, "service", svc, "error", err)
			rate = 0
		}

		in.RequestRate[i] = rate
		in.PreviousReplicas[i] = replicas[svc]
		in.CPULimit[i] = spec.CPULimit
		in.GPURequired[i] = boolToInt(spec.GPURequired)
		in.Alpha[i] = spec.Alpha
		in.Beta[i] = spec.Beta
		in.MaxReplicas[i] = spec.MaxReplicas
	}

	return in
}

// applyScalingResult scales each service whose solved replica count differs
// from its current count. Scale failures are logged and reported, not
// silently swallowed, but do not abort the rest of the tick.
func (o *Orchestrator) applyScalingResult(ctx context.Context, client clusterclient.Client, graphName, cluster string, services []string, current map[string]int, result []int) {
	changed := false
	for i, svc := range services {
		want := result[i]
		if want == current[svc] {
			continue
		}
		changed = true
		if err := client.ScaleDeployment(ctx, svc, want); err != nil {
			o.logger.Error("scaling deployment", "graph", graphName, "cluster", cluster, "service", svc, "error", err)
			telemetry.ClusterClientErrorsTotal.WithLabelValues(cluster, "scale_deployment").Inc()
			continue
		}
		telemetry.ScaleActionsTotal.WithLabelValues(cluster, svc).Inc()
	}
	if changed {
		telemetry.ScalingTicksTotal.WithLabelValues(graphName, cluster, "scaled").Inc()
	} else {
		telemetry.ScalingTicksTotal.WithLabelValues(graphName, cluster, "unchanged").Inc()
	}
}
