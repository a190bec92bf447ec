package descriptor

import (
	"errors"
	"testing"

	"github.com/nimbusmesh/smo/internal/apierr"
)

func TestParseValid(t *testing.T) {
	raw := []byte(`
hdaGraph:
  id: g1
  services:
    - id: a
      deployment:
        intent:
          connectionPoints: [b]
      artifact:
        ociImage: oci://a
        ociConfig:
          implementer: generic
          type: helm
        valuesOverwrite: {}
    - id: b
      deployment:
        intent:
          connectionPoints: []
      artifact:
        ociImage: oci://b
        ociConfig:
          implementer: WOT
          type: helm
        valuesOverwrite: {}
`)

	d, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if d.HDAGraph.ID != "g1" {
		t.Errorf("ID = %q, want g1", d.HDAGraph.ID)
	}
	if len(d.HDAGraph.Services) != 2 {
		t.Fatalf("len(Services) = %d, want 2", len(d.HDAGraph.Services))
	}
}

func TestParseRejectsMissingID(t *testing.T) {
	raw := []byte(`
hdaGraph:
  services:
    - id: a
`)
	_, err := Parse(raw)
	if !errors.Is(err, apierr.ErrDescriptorParse) {
		t.Fatalf("Parse() error = %v, want ErrDescriptorParse", err)
	}
}

func TestImportClusters(t *testing.T) {
	services := []ServiceManifest{
		{ID: "A", Deployment: Deployment{Intent: Intent{ConnectionPoints: []string{"B"}}}},
		{ID: "B", Deployment: Deployment{Intent: Intent{ConnectionPoints: []string{"C"}}}},
		{ID: "C", Deployment: Deployment{Intent: Intent{ConnectionPoints: []string{}}}},
	}
	placement := map[string]string{"A": "k1", "B": "k2", "C": "k2"}

	got := ImportClusters(services, placement)

	if len(got["A"]) != 0 {
		t.Errorf("imports[A] = %v, want empty", got["A"])
	}
	if want := []string{"k1"}; !equalStringSlice(got["B"], want) {
		t.Errorf("imports[B] = %v, want %v", got["B"], want)
	}
	if want := []string{"k2"}; !equalStringSlice(got["C"], want) {
		t.Errorf("imports[C] = %v, want %v", got["C"], want)
	}
}

func TestApplyPlacementOverridesTopLevel(t *testing.T) {
	values := map[string]interface{}{}
	got := ApplyPlacementOverrides(values, "generic", "cluster1", []string{"cluster2"})

	affinity, ok := got["clustersAffinity"].([]string)
	if !ok || len(affinity) != 1 || affinity[0] != "cluster1" {
		t.Errorf("clustersAffinity = %v, want [cluster1]", got["clustersAffinity"])
	}
}

func TestApplyPlacementOverridesNestedForWOT(t *testing.T) {
	values := map[string]interface{}{}
	got := ApplyPlacementOverrides(values, "WOT", "cluster1", []string{"cluster2"})

	nested, ok := got["voChartOverwrite"].(map[string]interface{})
	if !ok {
		t.Fatalf("voChartOverwrite not present or wrong type: %v", got)
	}
	affinity, ok := nested["clustersAffinity"].([]string)
	if !ok || len(affinity) != 1 || affinity[0] != "cluster1" {
		t.Errorf("nested clustersAffinity = %v, want [cluster1]", nested["clustersAffinity"])
	}
	if _, present := got["clustersAffinity"]; present {
		t.Errorf("clustersAffinity should not be set at top level for WOT implementer")
	}
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
