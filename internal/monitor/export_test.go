package monitor

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dafelhub/dataplatform/internal/connector"
	"github.com/dafelhub/dataplatform/pkg/metrics"
)

func TestExporter_PublishesPoolUtilization(t *testing.T) {
	c := NewCollector(testLogger())
	conn := &fakeConnector{
		cfg:   connector.ConnectionConfig{ID: "db-1", Backend: connector.BackendPostgres},
		state: connector.StateConnected,
		stats: connector.PoolStats{TotalOps: 10, ActiveConns: 5, MaxConns: 10},
	}
	c.Register(conn)
	c.Collect(context.Background())

	registry := metrics.NewMetricsRegistry("monitor_export_test")
	exporter := NewExporter(c, registry)
	exporter.Export()

	value := testutil.ToFloat64(registry.Connector().PoolUtilization.WithLabelValues("db-1", "postgresql"))
	assert.Equal(t, 50.0, value)
}

func TestExporter_PublishesActiveAlertCount(t *testing.T) {
	c := NewCollector(testLogger())
	conn := &fakeConnector{
		cfg:   connector.ConnectionConfig{ID: "db-2", Backend: connector.BackendMySQL},
		state: connector.StateConnected,
		stats: connector.PoolStats{TotalOps: 100, FailedOps: 50, ActiveConns: 1, MaxConns: 10},
	}
	c.Register(conn)
	c.Collect(context.Background())
	require.NotEmpty(t, c.Dashboard().ActiveAlerts)

	registry := metrics.NewMetricsRegistry("monitor_export_test_alerts")
	exporter := NewExporter(c, registry)
	exporter.Export()

	value := testutil.ToFloat64(registry.Connector().AlertsActive.WithLabelValues("db-2", string(LevelError)))
	assert.Equal(t, 1.0, value)
}
