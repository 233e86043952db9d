// Package metrics provides centralized Prometheus metrics management for
// dataplatformd.
//
// This package implements a unified taxonomy for Prometheus metrics:
//   - Infrastructure metrics: database, cache, repositories
//   - Connector metrics: per-connector pool utilization, success rate,
//     alerting (C11's monitor)
//
// All metrics follow the naming convention:
// dataplatform_<category>_<subsystem>_<metric_name>_<unit>
//
// Example:
//
//	registry := metrics.DefaultRegistry()
//	registry.Connector().PoolUtilization.WithLabelValues("primary", "postgresql").Set(42)
package metrics

import (
	"sync"
)

// MetricCategory represents the category of a metric.
type MetricCategory string

const (
	// CategoryInfra represents infrastructure metrics (database, cache, repositories)
	CategoryInfra MetricCategory = "infra"

	// CategoryConnector represents per-connector monitoring metrics (C11)
	CategoryConnector MetricCategory = "monitor"
)

// MetricsRegistry is the central registry for all Prometheus metrics.
// Provides organized access to metrics by category (Infra, Connector).
//
// Thread-safe: All Prometheus metrics are thread-safe by design.
// Singleton: Use DefaultRegistry() to get the global instance.
type MetricsRegistry struct {
	namespace string

	// Category managers (lazy-initialized)
	infra     *InfraMetrics
	connector *ConnectorMetrics

	infraOnce     sync.Once
	connectorOnce sync.Once
}

var (
	defaultRegistry     *MetricsRegistry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the global singleton MetricsRegistry.
// Safe for concurrent use. Initialized once on first call.
func DefaultRegistry() *MetricsRegistry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewMetricsRegistry("dataplatform")
	})
	return defaultRegistry
}

// NewMetricsRegistry creates a new MetricsRegistry with the specified namespace.
// For most use cases, use DefaultRegistry() instead of calling this directly.
func NewMetricsRegistry(namespace string) *MetricsRegistry {
	if namespace == "" {
		namespace = "dataplatform"
	}

	return &MetricsRegistry{
		namespace: namespace,
	}
}

// Infra returns the Infrastructure metrics manager.
// Lazy-initialized on first access.
//
// Infrastructure metrics include:
//   - Database (connections, queries, errors)
//   - Cache (hits, misses, evictions)
//   - Repository (query duration, errors, results)
func (r *MetricsRegistry) Infra() *InfraMetrics {
	r.infraOnce.Do(func() {
		r.infra = NewInfraMetrics(r.namespace)
	})
	return r.infra
}

// Connector returns the connector-monitoring metrics manager (C11's
// Prometheus exposition). Lazy-initialized on first access.
func (r *MetricsRegistry) Connector() *ConnectorMetrics {
	r.connectorOnce.Do(func() {
		r.connector = NewConnectorMetrics(r.namespace)
	})
	return r.connector
}

// Namespace returns the configured namespace for this registry.
func (r *MetricsRegistry) Namespace() string {
	return r.namespace
}
