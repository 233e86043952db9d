// Package postgres implements the PostgreSQL wire-protocol connector (C5),
// generalized from the teacher's internal/database/postgres pool (pgxpool
// configuration, background health loop, and metrics plumbing kept; the
// alert-row-shaped query helpers replaced with the uniform Connector
// contract).
package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dafelhub/dataplatform/internal/apperrors"
	"github.com/dafelhub/dataplatform/internal/connector"
)

const (
	defaultHealthPeriod   = 30 * time.Second
	defaultCleanupPeriod  = 60 * time.Second
	defaultOpRingSize     = 500
	defaultPreparedCap    = 256
	defaultPreparedTTL    = 30 * time.Minute
	defaultShutdownGrace  = 10 * time.Second
	defaultHealthTimeout  = 5 * time.Second
)

// Connector implements connector.Connector over a pgxpool.Pool.
type Connector struct {
	cfg    connector.ConnectionConfig
	logger *slog.Logger

	mu    sync.RWMutex
	pool  *pgxpool.Pool
	state atomic.Int32

	meta    *connector.ConnectorMetadata
	metrics *connector.PoolMetrics
	opRing  *connector.OpRing

	prepared   *lru.Cache[string, *connector.PreparedEntry]
	preparedMu sync.Mutex

	breaker *circuitBreaker

	closeCh   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func New(cfg connector.ConnectionConfig, logger *slog.Logger) (*Connector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	cache, err := lru.New[string, *connector.PreparedEntry](defaultPreparedCap)
	if err != nil {
		return nil, apperrors.New(apperrors.KindInvalidConfig, "postgres.New", err)
	}
	c := &Connector{
		cfg:      cfg.Clone(),
		logger:   logger.With("backend", "postgres", "connector_id", cfg.ID),
		meta:     connector.NewConnectorMetadata(),
		metrics:  connector.NewPoolMetrics(cfg.PoolMin, cfg.PoolMax),
		opRing:   connector.NewOpRing(defaultOpRingSize),
		prepared: cache,
		breaker:  newCircuitBreaker(5, 30*time.Second),
		closeCh:  make(chan struct{}),
	}
	c.state.Store(int32(connectorState(0)))
	return c, nil
}

func connectorState(s int32) connector.State { return connector.State(s) }

func (c *Connector) State() connector.State {
	return connector.State(c.state.Load())
}

func (c *Connector) setState(s connector.State) {
	c.state.Store(int32(s))
}

func (c *Connector) Config() connector.ConnectionConfig { return c.cfg.Clone() }

func (c *Connector) Metadata() connector.ConnectorMetadata { return c.meta.Snapshot() }

// Connect acquires the pool, probes the server, and starts the background
// health and cleanup loops. Idempotent when already Connected, per spec §4.1.
func (c *Connector) Connect(ctx context.Context) error {
	if c.State() == connector.StateConnected {
		return nil
	}
	c.setState(connector.StateConnecting)

	pgCfg, err := pgxpool.ParseConfig(BuildDSN(c.cfg))
	if err != nil {
		c.setState(connector.StateError)
		return apperrors.New(apperrors.KindInvalidConfig, "postgres.Connect", err)
	}
	pgCfg.MaxConns = int32(c.cfg.PoolMax)
	pgCfg.MinConns = int32(c.cfg.PoolMin)
	pgCfg.HealthCheckPeriod = defaultHealthPeriod
	if c.cfg.ConnectTimeout > 0 {
		pgCfg.ConnConfig.ConnectTimeout = c.cfg.ConnectTimeout
	}

	connectCtx := ctx
	var cancel context.CancelFunc
	if c.cfg.ConnectTimeout > 0 {
		connectCtx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}

	pool, err := pgxpool.NewWithConfig(connectCtx, pgCfg)
	if err != nil {
		c.setState(connector.StateError)
		return apperrors.New(apperrors.KindConnectionFailed, "postgres.Connect", err).WithBackend("postgres").WithRetryable(true)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		c.setState(connector.StateError)
		return apperrors.New(apperrors.KindConnectionFailed, "postgres.Connect", err).WithBackend("postgres").WithRetryable(true)
	}

	c.mu.Lock()
	c.pool = pool
	c.mu.Unlock()

	c.meta.ConnectedAt = time.Now()
	c.meta.SetHealthy(true, "")
	c.meta.SetServerInfo(map[string]string{
		"server_version": pool.Config().ConnConfig.RuntimeParams["server_version"],
	})
	c.setState(connector.StateConnected)

	c.wg.Add(2)
	go c.healthLoop()
	go c.cleanupLoop()

	c.logger.Info("connected", "host", c.cfg.Host, "database", c.cfg.Database)
	return nil
}

// Disconnect signals shutdown, waits a bounded grace for workers, and
// releases the pool. Always safe to call after a partial failure.
func (c *Connector) Disconnect(ctx context.Context) error {
	c.closeOnce.Do(func() { close(c.closeCh) })

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(defaultShutdownGrace):
		c.logger.Warn("shutdown grace elapsed, forcing pool close")
	}

	c.mu.Lock()
	pool := c.pool
	c.pool = nil
	c.mu.Unlock()
	if pool != nil {
		pool.Close()
	}
	c.setState(connector.StateDisconnected)
	c.logger.Info("disconnected")
	return nil
}

func (c *Connector) TestConnection(ctx context.Context) connector.TestResult {
	start := time.Now()
	pool, err := c.acquirePool()
	if err != nil {
		return connector.TestResult{Success: false, Err: err}
	}
	pingCtx, cancel := context.WithTimeout(ctx, defaultHealthTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		return connector.TestResult{Success: false, Elapsed: time.Since(start), Err: apperrors.New(apperrors.KindConnectionFailed, "postgres.TestConnection", err)}
	}
	return connector.TestResult{Success: true, Elapsed: time.Since(start), ServerInfo: c.meta.Snapshot().ServerInfo}
}

func (c *Connector) HealthCheck(ctx context.Context) error {
	pool, err := c.acquirePool()
	if err != nil {
		return err
	}
	checkCtx, cancel := context.WithTimeout(ctx, defaultHealthTimeout)
	defer cancel()

	var result int
	row := pool.QueryRow(checkCtx, "SELECT 1")
	if err := row.Scan(&result); err != nil || result != 1 {
		c.meta.SetHealthy(false, errString(err))
		return apperrors.New(apperrors.KindHealthCheckFailed, "postgres.HealthCheck", err)
	}
	c.meta.SetHealthy(true, "")
	return nil
}

func (c *Connector) Execute(ctx context.Context, query string, params ...any) (connector.Result, error) {
	if c.State() != connector.StateConnected {
		return connector.Result{}, apperrors.New(apperrors.KindNotConnected, "postgres.Execute", fmt.Errorf("connector not connected"))
	}
	if !c.breaker.allow() {
		return connector.Result{}, apperrors.New(apperrors.KindCircuitBreakerOpen, "postgres.Execute", fmt.Errorf("circuit breaker open"))
	}
	pool, err := c.acquirePool()
	if err != nil {
		return connector.Result{}, err
	}

	start := time.Now()
	kind := connector.ClassifyOpKind(query)
	opCtx := ctx
	var cancel context.CancelFunc
	if c.cfg.OpTimeout > 0 {
		opCtx, cancel = context.WithTimeout(ctx, c.cfg.OpTimeout)
		defer cancel()
	}

	var result connector.Result
	if kind == connector.OpRead {
		rows, qerr := pool.Query(opCtx, query, params...)
		if qerr != nil {
			err = c.classify("postgres.Execute", qerr, opCtx)
		} else {
			defer rows.Close()
			result.Rows, err = scanRows(rows)
			result.RowsReturned = int64(len(result.Rows))
		}
	} else {
		tag, qerr := pool.Exec(opCtx, query, params...)
		if qerr != nil {
			err = c.classify("postgres.Execute", qerr, opCtx)
		} else {
			result.RowsAffected = tag.RowsAffected()
		}
	}
	result.OpKind = kind
	result.Duration = time.Since(start)

	c.recordOp(kind, query, len(params), start, result, err)
	if err != nil {
		c.breaker.recordFailure()
		return connector.Result{}, err
	}
	c.breaker.recordSuccess()
	c.meta.Touch()
	return result, nil
}

func scanRows(rows pgx.Rows) ([]connector.Row, error) {
	fields := rows.FieldDescriptions()
	var out []connector.Row
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(connector.Row, len(fields))
		for i, f := range fields {
			row[string(f.Name)] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (c *Connector) Stream(ctx context.Context, query string, chunk int, params ...any) (connector.StreamCursor, error) {
	if c.State() != connector.StateConnected {
		return nil, apperrors.New(apperrors.KindNotConnected, "postgres.Stream", fmt.Errorf("connector not connected"))
	}
	pool, err := c.acquirePool()
	if err != nil {
		return nil, err
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, apperrors.New(apperrors.KindTimeout, "postgres.Stream", err).WithRetryable(true)
	}
	rows, err := conn.Query(ctx, query, params...)
	if err != nil {
		conn.Release()
		return nil, c.classify("postgres.Stream", err, ctx)
	}
	if chunk <= 0 {
		chunk = 500
	}
	return &streamCursor{conn: conn, rows: rows, chunk: chunk}, nil
}

type streamCursor struct {
	conn   *pgxpool.Conn
	rows   pgx.Rows
	chunk  int
	closed bool
	mu     sync.Mutex
}

func (s *streamCursor) Next(ctx context.Context) (connector.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return connector.Batch{Done: true}, nil
	}
	fields := s.rows.FieldDescriptions()
	var batch []connector.Row
	for len(batch) < s.chunk {
		select {
		case <-ctx.Done():
			return connector.Batch{}, ctx.Err()
		default:
		}
		if !s.rows.Next() {
			s.closeLocked()
			return connector.Batch{Rows: batch, Done: true}, s.rows.Err()
		}
		vals, err := s.rows.Values()
		if err != nil {
			s.closeLocked()
			return connector.Batch{}, err
		}
		row := make(connector.Row, len(fields))
		for i, f := range fields {
			row[string(f.Name)] = vals[i]
		}
		batch = append(batch, row)
	}
	return connector.Batch{Rows: batch, Done: false}, nil
}

func (s *streamCursor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *streamCursor) closeLocked() {
	if s.closed {
		return
	}
	s.rows.Close()
	s.conn.Release()
	s.closed = true
}

type tx struct {
	pgTx pgx.Tx
	done bool
	mu   sync.Mutex
}

func (c *Connector) Transaction(ctx context.Context, isolation connector.Isolation) (connector.Tx, error) {
	pool, err := c.acquirePool()
	if err != nil {
		return nil, err
	}
	opts := pgx.TxOptions{IsoLevel: mapIsolation(isolation)}
	pgTx, err := pool.BeginTx(ctx, opts)
	if err != nil {
		return nil, apperrors.New(apperrors.KindTransactionFailed, "postgres.Transaction", err)
	}
	return &tx{pgTx: pgTx}, nil
}

func mapIsolation(i connector.Isolation) pgx.TxIsoLevel {
	switch i {
	case connector.IsolationReadUncommitted:
		return pgx.ReadUncommitted
	case connector.IsolationReadCommitted:
		return pgx.ReadCommitted
	case connector.IsolationRepeatableRead:
		return pgx.RepeatableRead
	case connector.IsolationSerializable:
		return pgx.Serializable
	default:
		return pgx.ReadCommitted
	}
}

func (t *tx) Execute(ctx context.Context, query string, params ...any) (connector.Result, error) {
	kind := connector.ClassifyOpKind(query)
	if kind == connector.OpRead {
		rows, err := t.pgTx.Query(ctx, query, params...)
		if err != nil {
			return connector.Result{}, apperrors.New(apperrors.KindUnknown, "postgres.tx.Execute", err)
		}
		defer rows.Close()
		out, err := scanRows(rows)
		if err != nil {
			return connector.Result{}, err
		}
		return connector.Result{Rows: out, OpKind: kind}, nil
	}
	tag, err := t.pgTx.Exec(ctx, query, params...)
	if err != nil {
		return connector.Result{}, apperrors.New(apperrors.KindUnknown, "postgres.tx.Execute", err)
	}
	return connector.Result{RowsAffected: tag.RowsAffected(), OpKind: kind}, nil
}

func (t *tx) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	return t.pgTx.Commit(ctx)
}

func (t *tx) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	return t.pgTx.Rollback(ctx)
}

// Prepare derives a deterministic, content-addressed name so a restarted
// process re-derives the same name for the same SQL (Open Question #2,
// decision recorded in DESIGN.md) and issues a server-side PREPARE.
func (c *Connector) Prepare(ctx context.Context, sql string) (string, error) {
	pool, err := c.acquirePool()
	if err != nil {
		return "", err
	}
	name := preparedName(sql)

	c.preparedMu.Lock()
	defer c.preparedMu.Unlock()
	if entry, ok := c.prepared.Get(name); ok {
		entry.UseCount.Add(1)
		entry.LastUsed = time.Now()
		return name, nil
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return "", apperrors.New(apperrors.KindPreparedStatementFailed, "postgres.Prepare", err)
	}
	defer conn.Release()
	if _, err := conn.Conn().Prepare(ctx, name, sql); err != nil {
		return "", apperrors.New(apperrors.KindPreparedStatementFailed, "postgres.Prepare", err)
	}
	entry := &connector.PreparedEntry{Name: name, Statement: sql, CreatedAt: time.Now(), LastUsed: time.Now()}
	if evicted, ok := c.prepared.Add(name, entry); ok && evicted {
		c.logger.Debug("prepared statement cache evicted an entry (LRU)")
	}
	return name, nil
}

func preparedName(sql string) string {
	sum := sha256.Sum256([]byte(sql))
	return "ps_" + hex.EncodeToString(sum[:])[:16]
}

func (c *Connector) ExecutePrepared(ctx context.Context, name string, params ...any) (connector.Result, error) {
	pool, err := c.acquirePool()
	if err != nil {
		return connector.Result{}, err
	}
	c.preparedMu.Lock()
	entry, ok := c.prepared.Get(name)
	c.preparedMu.Unlock()
	if !ok {
		return connector.Result{}, apperrors.New(apperrors.KindPreparedStatementFailed, "postgres.ExecutePrepared", fmt.Errorf("unknown prepared statement %q", name))
	}
	kind := connector.ClassifyOpKind(entry.Statement)
	start := time.Now()
	var result connector.Result
	if kind == connector.OpRead {
		rows, qerr := pool.Query(ctx, name, params...)
		if qerr != nil {
			return connector.Result{}, apperrors.New(apperrors.KindPreparedStatementFailed, "postgres.ExecutePrepared", qerr)
		}
		defer rows.Close()
		result.Rows, err = scanRows(rows)
	} else {
		tag, qerr := pool.Exec(ctx, name, params...)
		if qerr != nil {
			return connector.Result{}, apperrors.New(apperrors.KindPreparedStatementFailed, "postgres.ExecutePrepared", qerr)
		}
		result.RowsAffected = tag.RowsAffected()
	}
	entry.UseCount.Add(1)
	entry.LastUsed = time.Now()
	result.OpKind = kind
	result.Duration = time.Since(start)
	return result, err
}

func (c *Connector) PerformanceMetrics() connector.PoolStats {
	pool, err := c.acquirePool()
	if err == nil {
		stat := pool.Stat()
		c.metrics.ActiveConns.Store(stat.AcquiredConns())
		c.metrics.IdleConns.Store(stat.IdleConns())
	}
	return c.metrics.Snapshot()
}

func (c *Connector) acquirePool() (*pgxpool.Pool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.pool == nil {
		return nil, apperrors.New(apperrors.KindNotConnected, "postgres.acquirePool", fmt.Errorf("not connected"))
	}
	return c.pool, nil
}

func (c *Connector) recordOp(kind connector.OpKind, query string, paramCount int, start time.Time, result connector.Result, err error) {
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}
	c.opRing.Push(connector.OpMetrics{
		Kind:         kind,
		Query:        query,
		ParamCount:   paramCount,
		Start:        start,
		End:          time.Now(),
		Duration:     time.Since(start),
		RowsAffected: result.RowsAffected,
		RowsReturned: int64(len(result.Rows)),
		Error:        errStr,
	})
	c.metrics.RecordOp(time.Since(start), err != nil)
}

func (c *Connector) classify(op string, err error, ctx context.Context) error {
	if ctx.Err() != nil {
		return apperrors.New(apperrors.KindTimeout, op, err).WithRetryable(true)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "password") || strings.Contains(msg, "authentication"):
		return apperrors.New(apperrors.KindConnectionFailed, op, err)
	case strings.Contains(msg, "timeout"):
		return apperrors.New(apperrors.KindTimeout, op, err).WithRetryable(true)
	default:
		return apperrors.New(apperrors.KindUnknown, op, err)
	}
}

func (c *Connector) healthLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(defaultHealthPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.closeCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), defaultHealthTimeout)
			if err := c.HealthCheck(ctx); err != nil {
				c.logger.Warn("health check failed", "error", err)
			}
			cancel()
		}
	}
}

func (c *Connector) cleanupLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(defaultCleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.closeCh:
			return
		case <-ticker.C:
			c.evictExpiredPrepared()
		}
	}
}

func (c *Connector) evictExpiredPrepared() {
	c.preparedMu.Lock()
	defer c.preparedMu.Unlock()
	for _, key := range c.prepared.Keys() {
		entry, ok := c.prepared.Peek(key)
		if !ok {
			continue
		}
		if time.Since(entry.LastUsed) > defaultPreparedTTL {
			c.prepared.Remove(key)
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
