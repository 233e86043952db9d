package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dafelhub/dataplatform/internal/connector"
)

// Collector aggregates PoolMetrics across explicitly registered
// connectors and evaluates Rules against the aggregate, grounded on the
// original's MonitoringCollector. Unlike the original's weakref.ref
// set, registration is explicit: Register/Unregister own the
// connector's monitored lifetime, per the REDESIGN FLAGS note against
// silent weak-handle expiry.
type Collector struct {
	logger *slog.Logger
	rules  []Rule

	mu          sync.Mutex
	connectors  map[string]connector.Connector
	health      map[string]Health
	failures    map[string]int
	alerts      []Alert
	retention   time.Duration
}

// NewCollector creates a Collector with DefaultRules and a 24-hour
// resolved-alert retention window, mirroring the original's
// alert_retention_hours=24 default.
func NewCollector(logger *slog.Logger) *Collector {
	return &Collector{
		logger:     logger,
		rules:      DefaultRules(),
		connectors: make(map[string]connector.Connector),
		health:     make(map[string]Health),
		failures:   make(map[string]int),
		retention:  24 * time.Hour,
	}
}

// WithRules overrides the default alert rules.
func (c *Collector) WithRules(rules []Rule) *Collector {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = rules
	return c
}

// Register adds conn to the monitored set, keyed by its ConnectionConfig.ID.
func (c *Collector) Register(conn connector.Connector) {
	id := conn.Config().ID
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectors[id] = conn
	c.logger.Info("registered connector for monitoring", slog.String("connector_id", id))
}

// Unregister removes a connector from the monitored set. Its last known
// Health and any unresolved alerts are dropped, since there is nothing
// left to re-check them against.
func (c *Collector) Unregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.connectors, id)
	delete(c.health, id)
	delete(c.failures, id)
	kept := c.alerts[:0]
	for _, a := range c.alerts {
		if a.ConnectorID != id || a.Resolved {
			kept = append(kept, a)
		}
	}
	c.alerts = kept
	c.logger.Info("unregistered connector from monitoring", slog.String("connector_id", id))
}

// Collect polls every registered connector once: health check, pool
// stats snapshot, and rule evaluation, mirroring collect_metrics /
// _collect_connector_metrics.
func (c *Collector) Collect(ctx context.Context) {
	c.mu.Lock()
	conns := make(map[string]connector.Connector, len(c.connectors))
	for id, conn := range c.connectors {
		conns[id] = conn
	}
	c.mu.Unlock()

	for id, conn := range conns {
		c.collectOne(ctx, id, conn)
	}
	c.cleanupOldAlerts()
}

func (c *Collector) collectOne(ctx context.Context, id string, conn connector.Connector) {
	stats := conn.PerformanceMetrics()
	cfg := conn.Config()

	healthErr := conn.HealthCheck(ctx)

	c.mu.Lock()
	if healthErr != nil {
		c.failures[id]++
	} else {
		c.failures[id] = 0
	}
	consecutive := c.failures[id]
	c.mu.Unlock()

	var successRate float64 = 100.0
	if stats.TotalOps > 0 {
		successRate = float64(stats.TotalOps-stats.FailedOps) / float64(stats.TotalOps) * 100.0
	}
	var utilization float64
	if stats.MaxConns > 0 {
		utilization = float64(stats.ActiveConns) / float64(stats.MaxConns) * 100.0
	}

	h := Health{
		ConnectorID:               id,
		Backend:                   string(cfg.Backend),
		State:                     conn.State().String(),
		SuccessRate:               successRate,
		AvgExecutionTimeMS:        float64(stats.EMADuration) / float64(time.Millisecond),
		ActiveConns:               stats.ActiveConns,
		MaxConns:                  stats.MaxConns,
		PoolUtilization:           utilization,
		ConsecutiveHealthFailures: consecutive,
		LastChecked:               time.Now(),
	}

	c.mu.Lock()
	c.health[id] = h
	c.mu.Unlock()

	c.checkAlerts(id, h)
}

func metricValue(h Health, metric string) (float64, bool) {
	switch metric {
	case "avg_execution_time_ms":
		return h.AvgExecutionTimeMS, true
	case "success_rate":
		return h.SuccessRate, true
	case "pool_utilization":
		return h.PoolUtilization, true
	case "consecutive_health_failures":
		return float64(h.ConsecutiveHealthFailures), true
	default:
		return 0, false
	}
}

// checkAlerts evaluates every rule against h, opening or resolving
// alerts as needed, mirroring _check_alerts.
func (c *Collector) checkAlerts(id string, h Health) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, rule := range c.rules {
		value, ok := metricValue(h, rule.Metric)
		if !ok {
			continue
		}

		triggered := false
		switch rule.Comparison {
		case GreaterThan:
			triggered = value > rule.Threshold
		case LessThan:
			triggered = value < rule.Threshold
		}

		existing := c.findOpenAlert(id, rule.Metric)
		if triggered {
			if existing != nil {
				continue
			}
			alert := Alert{
				ID:           fmt.Sprintf("%s_%s_%d", id, rule.Name, now.UnixNano()),
				Level:        rule.Level,
				Title:        rule.Name,
				Description:  rule.Description,
				ConnectorID:  id,
				Metric:       rule.Metric,
				Threshold:    rule.Threshold,
				CurrentValue: value,
				Timestamp:    now,
			}
			c.alerts = append(c.alerts, alert)
			c.logger.Warn("monitor alert triggered",
				slog.String("connector_id", id),
				slog.String("rule", rule.Name),
				slog.Float64("threshold", rule.Threshold),
				slog.Float64("current_value", value))
		} else if existing != nil {
			existing.Resolved = true
			existing.ResolvedAt = now
			c.logger.Info("monitor alert resolved",
				slog.String("connector_id", id),
				slog.String("rule", rule.Name))
		}
	}
}

func (c *Collector) findOpenAlert(connectorID, metric string) *Alert {
	for i := range c.alerts {
		a := &c.alerts[i]
		if a.ConnectorID == connectorID && a.Metric == metric && !a.Resolved {
			return a
		}
	}
	return nil
}

func (c *Collector) cleanupOldAlerts() {
	cutoff := time.Now().Add(-c.retention)
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.alerts[:0]
	for _, a := range c.alerts {
		if !a.Resolved || a.ResolvedAt.After(cutoff) {
			kept = append(kept, a)
		}
	}
	c.alerts = kept
}

// Dashboard returns the current aggregated view, mirroring
// get_dashboard_data.
func (c *Collector) Dashboard() Dashboard {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := Dashboard{Timestamp: time.Now(), TotalConnectors: len(c.connectors)}
	var successSum float64
	for _, h := range c.health {
		d.Connections = append(d.Connections, h)
		if h.State == "connected" {
			d.ConnectedCount++
		}
		successSum += h.SuccessRate
	}
	sort.Slice(d.Connections, func(i, j int) bool { return d.Connections[i].ConnectorID < d.Connections[j].ConnectorID })
	if len(c.health) > 0 {
		d.AverageSuccessRate = successSum / float64(len(c.health))
	} else {
		d.AverageSuccessRate = 100.0
	}

	for _, a := range c.alerts {
		if a.Resolved {
			continue
		}
		d.ActiveAlerts = append(d.ActiveAlerts, a)
		if a.Level == LevelCritical {
			d.CriticalAlertCount++
		}
	}
	sort.Slice(d.ActiveAlerts, func(i, j int) bool { return d.ActiveAlerts[i].Timestamp.After(d.ActiveAlerts[j].Timestamp) })
	return d
}

// Health returns the last collected Health for a single connector.
func (c *Collector) Health(id string) (Health, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.health[id]
	return h, ok
}

// Run polls every interval until ctx is cancelled, mirroring the
// original's asyncio polling loop wired through collect_metrics.
func (c *Collector) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Collect(ctx)
		}
	}
}
