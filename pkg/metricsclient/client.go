// Package metricsclient queries a Prometheus-compatible time series backend
// for per-service request rate, latency, and CPU utilization.
package metricsclient

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// QueryTimeout bounds every Prometheus query (component design §4.2).
const QueryTimeout = 5 * time.Second

// LatencyDefault is substituted for get_latency when its series is missing,
// "encoding worst case" per the component design.
const LatencyDefault = 30.0

// Client is the contract the scaling loop samples request rate and CPU
// utilization through.
type Client interface {
	// GetRequestRate returns requests/sec for name over window, or 0 when
	// the series has no data (the prototype default, not NaN — see the
	// supplemented features note on this in SPEC_FULL.md).
	GetRequestRate(ctx context.Context, name string, window time.Duration) (float64, error)
	// GetLatency returns seconds for name over window, defaulting to
	// LatencyDefault when the series has no data.
	GetLatency(ctx context.Context, name string, window time.Duration) (float64, error)
	// GetCPUUtilization returns a percentage for name, defaulting to 0
	// when the series has no data.
	GetCPUUtilization(ctx context.Context, name string) (float64, error)
}

// PrometheusClient is the real Client implementation, querying a Prometheus
// server via its HTTP query API.
type PrometheusClient struct {
	api promv1.API
}

// NewPrometheusClient creates a PrometheusClient targeting the given server
// address (e.g. "http://localhost:9090").
func NewPrometheusClient(address string) (*PrometheusClient, error) {
	client, err := api.NewClient(api.Config{Address: address})
	if err != nil {
		return nil, fmt.Errorf("building prometheus client: %w", err)
	}
	return &PrometheusClient{api: promv1.NewAPI(client)}, nil
}

// GetRequestRate queries the HTTP request completion rate for a service.
func (c *PrometheusClient) GetRequestRate(ctx context.Context, name string, window time.Duration) (float64, error) {
	query := fmt.Sprintf(`sum(rate(http_requests_total{service=%q}[%s]))by(service)`, name, formatRange(window))
	v, err := c.scalar(ctx, query)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) {
		return 0, nil
	}
	return v, nil
}

// GetLatency queries mean request latency for a service.
func (c *PrometheusClient) GetLatency(ctx context.Context, name string, window time.Duration) (float64, error) {
	rangeStr := formatRange(window)
	query := fmt.Sprintf(
		`(sum(rate(http_request_duration_seconds_sum{service=%q}[%s]))by(service))/(sum(rate(http_request_duration_seconds_count{service=%q}[%s]))by(service))`,
		name, rangeStr, name, rangeStr,
	)
	v, err := c.scalar(ctx, query)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) {
		return LatencyDefault, nil
	}
	return v, nil
}

// GetCPUUtilization queries a service's CPU utilization as a percentage of
// its configured limit.
func (c *PrometheusClient) GetCPUUtilization(ctx context.Context, name string) (float64, error) {
	query := fmt.Sprintf(
		`round(100*sum(rate(container_cpu_usage_seconds_total{container=~"%s.*"}[40s]))by(pod)/sum(kube_pod_container_resource_limits{container=~"%s.*",resource="cpu"})by(pod))`,
		name, name,
	)
	v, err := c.scalar(ctx, query)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) {
		return 0, nil
	}
	return v, nil
}

// scalar runs an instant query and returns its single scalar/vector result,
// or NaN if the result set is empty.
func (c *PrometheusClient) scalar(ctx context.Context, query string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeout)
	defer cancel()

	result, warnings, err := c.api.Query(ctx, query, time.Now())
	if err != nil {
		return 0, fmt.Errorf("querying prometheus: %w", err)
	}
	_ = warnings

	vec, ok := result.(model.Vector)
	if !ok || len(vec) == 0 {
		return math.NaN(), nil
	}
	return float64(vec[0].Value), nil
}

func formatRange(window time.Duration) string {
	secs := int(window.Seconds())
	if secs <= 0 {
		secs = 30
	}
	return fmt.Sprintf("%ds", secs)
}
