package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dafelhub/dataplatform/internal/connector"
)

// fakeConnector is a hand-rolled connector.Connector stub whose
// PerformanceMetrics, State, and HealthCheck outcome are controllable
// per test, to exercise the collector's rule evaluation in isolation.
type fakeConnector struct {
	cfg        connector.ConnectionConfig
	stats      connector.PoolStats
	state      connector.State
	healthErrs []error // consumed in order, last value repeats once exhausted
	calls      atomic.Int32
}

func (f *fakeConnector) Connect(ctx context.Context) error    { return nil }
func (f *fakeConnector) Disconnect(ctx context.Context) error { return nil }
func (f *fakeConnector) TestConnection(ctx context.Context) connector.TestResult {
	return connector.TestResult{Success: true}
}
func (f *fakeConnector) HealthCheck(ctx context.Context) error {
	i := int(f.calls.Add(1)) - 1
	if len(f.healthErrs) == 0 {
		return nil
	}
	if i >= len(f.healthErrs) {
		i = len(f.healthErrs) - 1
	}
	return f.healthErrs[i]
}
func (f *fakeConnector) Execute(ctx context.Context, query string, params ...any) (connector.Result, error) {
	return connector.Result{}, nil
}
func (f *fakeConnector) Stream(ctx context.Context, query string, chunk int, params ...any) (connector.StreamCursor, error) {
	return nil, nil
}
func (f *fakeConnector) Transaction(ctx context.Context, isolation connector.Isolation) (connector.Tx, error) {
	return nil, nil
}
func (f *fakeConnector) Prepare(ctx context.Context, query string) (string, error) { return "", nil }
func (f *fakeConnector) ExecutePrepared(ctx context.Context, name string, params ...any) (connector.Result, error) {
	return connector.Result{}, nil
}
func (f *fakeConnector) GetSchemaInfo(ctx context.Context, scope connector.SchemaScope) (connector.SchemaFragment, error) {
	return connector.SchemaFragment{}, nil
}
func (f *fakeConnector) PerformanceMetrics() connector.PoolStats { return f.stats }
func (f *fakeConnector) State() connector.State                 { return f.state }
func (f *fakeConnector) Config() connector.ConnectionConfig     { return f.cfg }
func (f *fakeConnector) Metadata() connector.ConnectorMetadata  { return connector.ConnectorMetadata{} }

func testLogger() *slog.Logger { return slog.Default() }

func TestRegisterCollectUnregister(t *testing.T) {
	c := NewCollector(testLogger())
	conn := &fakeConnector{
		cfg:   connector.ConnectionConfig{ID: "db-1", Backend: connector.BackendPostgres},
		state: connector.StateConnected,
		stats: connector.PoolStats{TotalOps: 10, FailedOps: 0, ActiveConns: 2, MaxConns: 10},
	}
	c.Register(conn)

	c.Collect(context.Background())
	h, ok := c.Health("db-1")
	require.True(t, ok)
	assert.Equal(t, 100.0, h.SuccessRate)
	assert.Equal(t, 20.0, h.PoolUtilization)

	c.Unregister("db-1")
	_, ok = c.Health("db-1")
	assert.False(t, ok)
}

func TestCollect_TriggersLowSuccessRateAlert(t *testing.T) {
	c := NewCollector(testLogger())
	conn := &fakeConnector{
		cfg:   connector.ConnectionConfig{ID: "db-1", Backend: connector.BackendPostgres},
		state: connector.StateConnected,
		stats: connector.PoolStats{TotalOps: 100, FailedOps: 20, ActiveConns: 1, MaxConns: 10},
	}
	c.Register(conn)
	c.Collect(context.Background())

	dash := c.Dashboard()
	require.Len(t, dash.ActiveAlerts, 1)
	assert.Equal(t, "low_success_rate", dash.ActiveAlerts[0].Title)
	assert.Equal(t, LevelError, dash.ActiveAlerts[0].Level)
}

func TestCollect_ResolvesAlertWhenConditionClears(t *testing.T) {
	c := NewCollector(testLogger())
	conn := &fakeConnector{
		cfg:   connector.ConnectionConfig{ID: "db-1", Backend: connector.BackendPostgres},
		state: connector.StateConnected,
		stats: connector.PoolStats{TotalOps: 100, FailedOps: 20, ActiveConns: 1, MaxConns: 10},
	}
	c.Register(conn)
	c.Collect(context.Background())
	require.Len(t, c.Dashboard().ActiveAlerts, 1)

	conn.stats = connector.PoolStats{TotalOps: 100, FailedOps: 0, ActiveConns: 1, MaxConns: 10}
	c.Collect(context.Background())
	assert.Empty(t, c.Dashboard().ActiveAlerts)
}

func TestCollect_ConsecutiveHealthFailuresTriggersCritical(t *testing.T) {
	c := NewCollector(testLogger())
	failErr := errors.New("connection refused")
	conn := &fakeConnector{
		cfg:        connector.ConnectionConfig{ID: "db-1", Backend: connector.BackendPostgres},
		state:      connector.StateError,
		stats:      connector.PoolStats{TotalOps: 1, MaxConns: 10},
		healthErrs: []error{failErr, failErr, failErr, failErr},
	}
	c.Register(conn)

	for i := 0; i < 4; i++ {
		c.Collect(context.Background())
	}

	dash := c.Dashboard()
	var found bool
	for _, a := range dash.ActiveAlerts {
		if a.Title == "consecutive_health_failures" {
			found = true
			assert.Equal(t, LevelCritical, a.Level)
		}
	}
	assert.True(t, found)
}

func TestDashboard_EmptyWhenNothingRegistered(t *testing.T) {
	c := NewCollector(testLogger())
	dash := c.Dashboard()
	assert.Equal(t, 0, dash.TotalConnectors)
	assert.Equal(t, 100.0, dash.AverageSuccessRate)
	assert.Empty(t, dash.ActiveAlerts)
}
