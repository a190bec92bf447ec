// Package descriptor parses hdaGraph application graph descriptors and
// derives the cross-cluster service import sets from their connection
// topology.
package descriptor

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/nimbusmesh/smo/internal/apierr"
)

// Descriptor is the top-level hdaGraph document: {hdaGraph: {id, services: [...]}}.
type Descriptor struct {
	HDAGraph HDAGraph `yaml:"hdaGraph" json:"hdaGraph"`
}

// HDAGraph is the application graph body.
type HDAGraph struct {
	ID       string            `yaml:"id" json:"id"`
	Services []ServiceManifest `yaml:"services" json:"services"`
}

// ServiceManifest is one service entry within the descriptor.
type ServiceManifest struct {
	ID         string     `yaml:"id" json:"id"`
	Deployment Deployment `yaml:"deployment" json:"deployment"`
	Artifact   Artifact   `yaml:"artifact" json:"artifact"`
}

// Deployment carries the service's resource intent and topology.
type Deployment struct {
	Intent Intent `yaml:"intent" json:"intent"`
}

// Intent names the services this one connects to.
type Intent struct {
	ConnectionPoints []string `yaml:"connectionPoints" json:"connectionPoints"`
}

// Artifact describes the packaged OCI image backing a service.
type Artifact struct {
	OCIImage  string                 `yaml:"ociImage" json:"ociImage"`
	OCIConfig OCIConfig              `yaml:"ociConfig" json:"ociConfig"`
	Values    map[string]interface{} `yaml:"valuesOverwrite" json:"valuesOverwrite"`
}

// OCIConfig names the artifact's type and implementer.
type OCIConfig struct {
	Implementer string `yaml:"implementer" json:"implementer"`
	Type        string `yaml:"type" json:"type"`
}

// Parse decodes a YAML or JSON hdaGraph document (JSON is a YAML subset, so
// a single decoder handles both).
func Parse(raw []byte) (*Descriptor, error) {
	var d Descriptor
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("%w: %w", apierr.ErrDescriptorParse, err)
	}
	if d.HDAGraph.ID == "" {
		return nil, fmt.Errorf("%w: hdaGraph.id is required", apierr.ErrDescriptorParse)
	}
	if len(d.HDAGraph.Services) == 0 {
		return nil, fmt.Errorf("%w: hdaGraph.services must not be empty", apierr.ErrDescriptorParse)
	}
	return &d, nil
}

// ImportClusters computes, for each service id, the ordered list of
// clusters where it must be made importable: the clusters of every other
// service that names it as a connection point. This is O(N^2), matching
// the component design, and duplicate cluster entries are preserved as
// observed rather than deduplicated (see the Open Questions in the design
// notes — downstream Helm chart significance of duplicates is unclear, so
// this implementation does not guess).
func ImportClusters(services []ServiceManifest, servicePlacement map[string]string) map[string][]string {
	imports := make(map[string][]string, len(services))
	for _, svc := range services {
		imports[svc.ID] = []string{}
	}

	for _, consumer := range services {
		for _, pointID := range consumer.Deployment.Intent.ConnectionPoints {
			if _, ok := imports[pointID]; !ok {
				continue
			}
			imports[pointID] = append(imports[pointID], servicePlacement[consumer.ID])
		}
	}

	return imports
}
