package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nimbusmesh/smo/pkg/clusterclient"
	"github.com/nimbusmesh/smo/pkg/descriptor"
	"github.com/nimbusmesh/smo/pkg/metricsclient"
	"github.com/nimbusmesh/smo/pkg/placement"
	"github.com/nimbusmesh/smo/pkg/scaling"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testTopology() *Topology {
	return &Topology{
		Clusters: []ClusterSpec{
			{Name: "cluster1", CPUCapacity: 4, GPUAvailable: false},
			{Name: "cluster2", CPUCapacity: 6, GPUAvailable: false},
		},
		Services: map[string]ServiceSpec{
			"image-compression-vo": {CPULimit: 0.5, ReplicasInitial: 1, MaxReplicas: 3, Alpha: 33.33, Beta: -16.66},
			"noise-reduction":      {CPULimit: 1, ReplicasInitial: 1, MaxReplicas: 3, Alpha: 0.533, Beta: -0.416},
			"image-detection":      {CPULimit: 1, ReplicasInitial: 1, MaxReplicas: 3, Alpha: 1.67, Beta: -0.01},
		},
	}
}

func newTestOrchestrator(t *testing.T, metrics metricsclient.Client) *Orchestrator {
	t.Helper()
	return &Orchestrator{
		topology:        testTopology(),
		placementSolver: placement.NewSolver(),
		scalingSolver:   scaling.NewSolver(),
		clusters:        clusterclient.NewRegistry("", ""),
		metrics:         metrics,
		logger:          testLogger(),
		cfg: Config{
			DecisionInterval: 20 * time.Millisecond,
			FrontendService:  "image-compression-vo",
			FrontendUpstream: "noise-reduction",
		},
		graphLocks: make(map[string]*sync.Mutex),
		loops:      make(map[string]map[string]*loopHandle),
		placements: make(map[string]placementState),
	}
}

func TestInitialPlacementInputPinsAnchorAndSeedsDefault(t *testing.T) {
	o := newTestOrchestrator(t, fakeMetrics{})
	desc := &descriptor.Descriptor{
		HDAGraph: descriptor.HDAGraph{
			ID: "g1",
			Services: []descriptor.ServiceManifest{
				{ID: "image-compression-vo"},
				{ID: "noise-reduction"},
				{ID: "image-detection"},
			},
		},
	}

	in, ids, err := o.initialPlacementInput(desc)
	if err != nil {
		t.Fatalf("initialPlacementInput returned error: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 service ids, got %d", len(ids))
	}
	for i, row := range in.Previous {
		if row[0] != 1 {
			t.Errorf("service %d previous placement not seeded onto cluster 0: %v", i, row)
		}
	}
	if !in.Initial {
		t.Error("expected Initial=true")
	}
}

func TestInitialPlacementInputRejectsUnknownService(t *testing.T) {
	o := newTestOrchestrator(t, fakeMetrics{})
	desc := &descriptor.Descriptor{
		HDAGraph: descriptor.HDAGraph{
			ID: "g1",
			Services: []descriptor.ServiceManifest{
				{ID: "not-in-topology"},
			},
		},
	}
	if _, _, err := o.initialPlacementInput(desc); err == nil {
		t.Fatal("expected error for service with no topology entry")
	}
}

type fakeMetrics struct {
	rates map[string]float64
}

func (f fakeMetrics) GetRequestRate(_ context.Context, name string, _ time.Duration) (float64, error) {
	return f.rates[name], nil
}
func (f fakeMetrics) GetLatency(context.Context, string, time.Duration) (float64, error) {
	return metricsclient.LatencyDefault, nil
}
func (f fakeMetrics) GetCPUUtilization(context.Context, string) (float64, error) {
	return 0, nil
}

func TestBuildScalingInputAppliesFrontendAlias(t *testing.T) {
	o := newTestOrchestrator(t, fakeMetrics{rates: map[string]float64{"noise-reduction": 42}})

	in := o.buildScalingInput(context.Background(), "g1", "cluster1",
		[]string{"image-compression-vo", "noise-reduction"},
		map[string]int{"image-compression-vo": 1, "noise-reduction": 1})

	if in.RequestRate[0] != 42 {
		t.Errorf("frontend alias not applied: got request rate %v, want 42 (aliased to noise-reduction)", in.RequestRate[0])
	}
	if in.ClusterCapacity != 4 {
		t.Errorf("cluster capacity = %v, want 4", in.ClusterCapacity)
	}
}

type fakeClusterClient struct {
	replicas map[string]int
}

func (f fakeClusterClient) GetDesiredReplicas(context.Context, string) (int, error) { return 0, nil }
func (f fakeClusterClient) GetReplicas(_ context.Context, name string) (int, error) {
	return f.replicas[name], nil
}
func (f fakeClusterClient) GetCPULimit(context.Context, string) (float64, error) { return 0, nil }
func (f fakeClusterClient) ScaleDeployment(_ context.Context, name string, replicas int) error {
	f.replicas[name] = replicas
	return nil
}

func TestScalingLoopStopsWithinDecisionInterval(t *testing.T) {
	o := newTestOrchestrator(t, fakeMetrics{rates: map[string]float64{"image-detection": 1}})
	fc := fakeClusterClient{replicas: map[string]int{"image-detection": 1}}
	o.clusters.Preload("cluster1", fc)

	o.launchScalingLoops("g1", map[string]string{"image-detection": "cluster1"})

	// Let it tick at least once.
	time.Sleep(60 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		o.stopScalingLoops("g1")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stopScalingLoops did not return within timeout")
	}
}
