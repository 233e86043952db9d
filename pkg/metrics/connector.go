package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ConnectorMetrics exposes the monitor's (C11) aggregated PoolMetrics and
// alert counts as Prometheus gauges/counters, following the same
// namespace/subsystem taxonomy as InfraMetrics.
type ConnectorMetrics struct {
	PoolUtilization   *prometheus.GaugeVec
	SuccessRate       *prometheus.GaugeVec
	AvgExecutionMS    *prometheus.GaugeVec
	ActiveConnections *prometheus.GaugeVec
	AlertsActive      *prometheus.GaugeVec
	AlertsTriggered   *prometheus.CounterVec
	HealthCheckFails  *prometheus.CounterVec
}

// NewConnectorMetrics creates connector monitoring metrics under the
// "monitor" subsystem.
func NewConnectorMetrics(namespace string) *ConnectorMetrics {
	return &ConnectorMetrics{
		PoolUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "pool_utilization_ratio",
			Help:      "Active connections as a percentage of max connections, per connector",
		}, []string{"connector_id", "backend"}),

		SuccessRate: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "query_success_rate",
			Help:      "Percentage of operations that did not fail, per connector",
		}, []string{"connector_id", "backend"}),

		AvgExecutionMS: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "avg_execution_time_ms",
			Help:      "Exponential moving average of operation duration in milliseconds, per connector",
		}, []string{"connector_id", "backend"}),

		ActiveConnections: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "active_connections",
			Help:      "Active pooled connections, per connector",
		}, []string{"connector_id", "backend"}),

		AlertsActive: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "alerts_active",
			Help:      "Currently unresolved alerts, per connector and level",
		}, []string{"connector_id", "level"}),

		AlertsTriggered: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "alerts_triggered_total",
			Help:      "Total alerts triggered, per connector and rule",
		}, []string{"connector_id", "rule"}),

		HealthCheckFails: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "health_check_failures_total",
			Help:      "Total failed health checks, per connector",
		}, []string{"connector_id"}),
	}
}
