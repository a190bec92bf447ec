// Package graph holds the Graph/Service domain types, their persistence
// boundary (Store), and the HTTP handlers that expose them.
package graph

import "time"

// Status values a Graph can hold.
const (
	StatusRunning = "Running"
	StatusStopped = "Stopped"
)

// Service status values.
const (
	ServiceDeployed    = "Deployed"
	ServiceNotDeployed = "NotDeployed"
)

// Graph is an application graph: a named deployment of a set of
// interconnected services across the federation. Its services set is fixed
// at creation time.
type Graph struct {
	Name       string
	Project    string
	Status     string
	Grafana    string
	Descriptor map[string]interface{} // the original hdaGraph document, opaque to the core
	Services   []Service
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Service is one microservice within a Graph, placed on exactly one member
// cluster.
type Service struct {
	Name                string
	GraphName           string
	Status              string
	Grafana             string
	ClusterAffinity     string
	ArtifactRef         string
	ArtifactType        string
	ArtifactImplementer string
	Resources           map[string]interface{}
	ValuesOverwrite     map[string]interface{}
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Dict is the JSON serialization shape returned by the HTTP API for a
// single graph: {name, status, project, grafana, hdaGraph, services: [...]}.
type Dict struct {
	Name     string       `json:"name"`
	Status   string       `json:"status"`
	Project  string       `json:"project"`
	Grafana  string       `json:"grafana"`
	HDAGraph interface{}  `json:"hdaGraph"`
	Services []ServiceDict `json:"services"`
}

// ServiceDict is the JSON serialization shape for one service within a Dict.
type ServiceDict struct {
	Name                string      `json:"name"`
	Status              string      `json:"status"`
	Grafana             string      `json:"grafana"`
	ClusterAffinity     string      `json:"cluster_affinity"`
	Resources           interface{} `json:"resources"`
	ValuesOverwrite     interface{} `json:"values_overwrite"`
	ArtifactRef         string      `json:"artifact_ref"`
	ArtifactType        string      `json:"artifact_type"`
	ArtifactImplementer string      `json:"artifact_implementer"`
}

// ToDict converts a Graph into its HTTP serialization shape.
func (g Graph) ToDict() Dict {
	services := make([]ServiceDict, len(g.Services))
	for i, s := range g.Services {
		services[i] = ServiceDict{
			Name:                s.Name,
			Status:              s.Status,
			Grafana:             s.Grafana,
			ClusterAffinity:     s.ClusterAffinity,
			Resources:           s.Resources,
			ValuesOverwrite:     s.ValuesOverwrite,
			ArtifactRef:         s.ArtifactRef,
			ArtifactType:        s.ArtifactType,
			ArtifactImplementer: s.ArtifactImplementer,
		}
	}
	return Dict{
		Name:     g.Name,
		Status:   g.Status,
		Project:  g.Project,
		Grafana:  g.Grafana,
		HDAGraph: g.Descriptor,
		Services: services,
	}
}
