// Package monitor implements C11: aggregation of PoolMetrics across
// explicitly registered connectors, with threshold-based alerting,
// grounded on original_source/database/connectors/monitoring.py's
// MonitoringCollector. Per the REDESIGN FLAGS note on weak references,
// registration here is explicit register/unregister, not a weakref set:
// a connector that is never unregistered stays monitored, and the
// caller owns that lifetime decision.
package monitor

import "time"

// AlertLevel mirrors the original's AlertLevel enum.
type AlertLevel string

const (
	LevelInfo     AlertLevel = "info"
	LevelWarning  AlertLevel = "warning"
	LevelError    AlertLevel = "error"
	LevelCritical AlertLevel = "critical"
)

// Comparison is the direction an alert rule's threshold is checked.
type Comparison int

const (
	GreaterThan Comparison = iota
	LessThan
)

// Rule is a single threshold-alerting rule, mirroring the original's
// _setup_default_alert_rules entries.
type Rule struct {
	Name        string
	Metric      string
	Threshold   float64
	Comparison  Comparison
	Level       AlertLevel
	Description string
}

// DefaultRules mirrors the original's four built-in rules: slow queries,
// low success rate, pool exhaustion, and consecutive health-check
// failures (the original's "connection_errors" rule, reinterpreted here
// against HealthCheck failures since this platform has no per-query
// error-rate counter independent of FailedOps).
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:        "high_query_time",
			Metric:      "avg_execution_time_ms",
			Threshold:   5000,
			Comparison:  GreaterThan,
			Level:       LevelWarning,
			Description: "average query execution time is high",
		},
		{
			Name:        "low_success_rate",
			Metric:      "success_rate",
			Threshold:   95.0,
			Comparison:  LessThan,
			Level:       LevelError,
			Description: "query success rate is below threshold",
		},
		{
			Name:        "high_pool_utilization",
			Metric:      "pool_utilization",
			Threshold:   90.0,
			Comparison:  GreaterThan,
			Level:       LevelWarning,
			Description: "connection pool utilization is high",
		},
		{
			Name:        "consecutive_health_failures",
			Metric:      "consecutive_health_failures",
			Threshold:   3,
			Comparison:  GreaterThan,
			Level:       LevelCritical,
			Description: "connector has failed consecutive health checks",
		},
	}
}

// Health is a point-in-time snapshot of one connector's monitored state,
// mirroring the original's ConnectionHealth dataclass.
type Health struct {
	ConnectorID               string
	Backend                   string
	State                     string
	SuccessRate               float64
	AvgExecutionTimeMS        float64
	ActiveConns               int32
	MaxConns                  int32
	PoolUtilization           float64
	ConsecutiveHealthFailures int
	LastChecked               time.Time
}

// Alert is a triggered or resolved threshold breach, mirroring the
// original's PerformanceAlert dataclass.
type Alert struct {
	ID           string
	Level        AlertLevel
	Title        string
	Description  string
	ConnectorID  string
	Metric       string
	Threshold    float64
	CurrentValue float64
	Timestamp    time.Time
	Resolved     bool
	ResolvedAt   time.Time
}

// Dashboard is the aggregated view returned to operators, mirroring the
// original's get_dashboard_data.
type Dashboard struct {
	Timestamp          time.Time
	TotalConnectors    int
	ConnectedCount     int
	AverageSuccessRate float64
	CriticalAlertCount int
	Connections        []Health
	ActiveAlerts       []Alert
}
