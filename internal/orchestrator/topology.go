package orchestrator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ClusterSpec describes one member cluster's static capacity.
type ClusterSpec struct {
	Name         string  `yaml:"name"`
	CPUCapacity  float64 `yaml:"cpu_capacity"`
	GPUAvailable bool    `yaml:"gpu_available"`
}

// ServiceSpec carries the per-service scaling and placement parameters that
// the descriptor itself does not encode (component design §3: cluster
// descriptor, specified here as injectable rather than hardcoded).
type ServiceSpec struct {
	CPULimit        float64 `yaml:"cpu_limit"`
	GPURequired     bool    `yaml:"gpu_required"`
	ReplicasInitial int     `yaml:"replicas_initial"`
	MaxReplicas     int     `yaml:"max_replicas"`
	Alpha           float64 `yaml:"alpha"`
	Beta            float64 `yaml:"beta"`
	Grafana         string  `yaml:"grafana"`
}

// Topology is the static federation topology: the ordered cluster list and
// the per-service resource/scaling parameters.
type Topology struct {
	Clusters []ClusterSpec          `yaml:"clusters"`
	Services map[string]ServiceSpec `yaml:"services"`
}

// LoadTopology reads a Topology from a YAML file.
func LoadTopology(path string) (*Topology, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading topology file: %w", err)
	}
	var t Topology
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("parsing topology file: %w", err)
	}
	return &t, nil
}

// ClusterNames returns the ordered cluster name list.
func (t *Topology) ClusterNames() []string {
	names := make([]string, len(t.Clusters))
	for i, c := range t.Clusters {
		names[i] = c.Name
	}
	return names
}

// ClusterIndex returns the position of a cluster in the ordered list, or -1.
func (t *Topology) ClusterIndex(name string) int {
	for i, c := range t.Clusters {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func (t *Topology) serviceSpec(name string) (ServiceSpec, error) {
	spec, ok := t.Services[name]
	if !ok {
		return ServiceSpec{}, fmt.Errorf("no topology entry for service %q", name)
	}
	return spec, nil
}

// ClusterSpecByName returns the ClusterSpec for the named cluster.
func (t *Topology) ClusterSpecByName(name string) (ClusterSpec, bool) {
	for _, c := range t.Clusters {
		if c.Name == name {
			return c, true
		}
	}
	return ClusterSpec{}, false
}
