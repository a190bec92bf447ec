// Package clusterclient reads replica counts and CPU limits from, and
// scales deployments on, a single member cluster.
package clusterclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nimbusmesh/smo/internal/apierr"
)

// ErrUnknown signals a deployment's replica count could not be determined
// (not ready yet, or a transient lookup error) — callers must poll rather
// than treat it as a hard failure.
var ErrUnknown = errors.New("replica count unknown")

// Client is the contract one member cluster's deployments are read from and
// scaled through (component design §4.1).
type Client interface {
	// GetDesiredReplicas returns the deployment's spec.replicas.
	GetDesiredReplicas(ctx context.Context, name string) (int, error)
	// GetReplicas returns the deployment's available replica count, or
	// ErrUnknown if it is not yet observable.
	GetReplicas(ctx context.Context, name string) (int, error)
	// GetCPULimit returns the first container's CPU limit in cores,
	// accepting either a millicore suffix ("500m") or bare cores ("1").
	GetCPULimit(ctx context.Context, name string) (float64, error)
	// ScaleDeployment sets the deployment's replica count. Idempotent:
	// scaling to the current count is a no-op on the cluster side but
	// still a normal, successful call.
	ScaleDeployment(ctx context.Context, name string, replicas int) error
}

// ParseCPULimit parses a Kubernetes CPU quantity string ("500m" or "2") into
// cores, per the millicore-suffix rule in the component design.
func ParseCPULimit(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%w: empty cpu limit", apierr.ErrClusterUnavailable)
	}
	if strings.HasSuffix(raw, "m") {
		v, err := strconv.ParseFloat(strings.TrimSuffix(raw, "m"), 64)
		if err != nil {
			return 0, fmt.Errorf("parsing millicore cpu limit %q: %w", raw, err)
		}
		return v / 1000, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing cpu limit %q: %w", raw, err)
	}
	return v, nil
}
