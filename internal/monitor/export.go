package monitor

import (
	"github.com/dafelhub/dataplatform/pkg/metrics"
)

// Exporter pushes a Collector's aggregated state into Prometheus gauges,
// mirroring the teacher's PrometheusExporter idiom of a thin adapter
// between an in-process collector and pkg/metrics.
type Exporter struct {
	collector *Collector
	metrics   *metrics.ConnectorMetrics
}

// NewExporter wires collector's output into the registry's Connector
// metrics.
func NewExporter(collector *Collector, registry *metrics.MetricsRegistry) *Exporter {
	return &Exporter{collector: collector, metrics: registry.Connector()}
}

// Export copies the collector's current Dashboard into Prometheus
// gauges/counters. Called after every Collect, or on its own timer.
func (e *Exporter) Export() {
	dash := e.collector.Dashboard()
	for _, h := range dash.Connections {
		e.metrics.PoolUtilization.WithLabelValues(h.ConnectorID, h.Backend).Set(h.PoolUtilization)
		e.metrics.SuccessRate.WithLabelValues(h.ConnectorID, h.Backend).Set(h.SuccessRate)
		e.metrics.AvgExecutionMS.WithLabelValues(h.ConnectorID, h.Backend).Set(h.AvgExecutionTimeMS)
		e.metrics.ActiveConnections.WithLabelValues(h.ConnectorID, h.Backend).Set(float64(h.ActiveConns))
	}

	levelCounts := make(map[[2]string]int)
	for _, a := range dash.ActiveAlerts {
		levelCounts[[2]string{a.ConnectorID, string(a.Level)}]++
	}
	for key, count := range levelCounts {
		e.metrics.AlertsActive.WithLabelValues(key[0], key[1]).Set(float64(count))
	}
}
