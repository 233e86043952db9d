// Package mysql implements the MySQL wire-protocol connector (C5) using
// github.com/go-sql-driver/mysql, structured after
// internal/connector/postgres (pool sizing, health loop, prepared-statement
// cleanup; the postgres circuit breaker is not carried over) since no
// example repo in the retrieval pack ships a MySQL driver — this
// dependency is named, not grounded, per DESIGN.md.
package mysql

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/dafelhub/dataplatform/internal/apperrors"
	"github.com/dafelhub/dataplatform/internal/connector"
)

func BuildDSN(cfg connector.ConnectionConfig) string {
	tlsParam := "false"
	if cfg.TLS {
		tlsParam = "true"
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&tls=%s",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database, tlsParam)
}

type Connector struct {
	cfg    connector.ConnectionConfig
	logger *slog.Logger

	mu    sync.RWMutex
	db    *sql.DB
	state int32

	meta    *connector.ConnectorMetadata
	metrics *connector.PoolMetrics
	opRing  *connector.OpRing

	preparedMu sync.Mutex
	prepared   map[string]*preparedStmt

	closeCh   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type preparedStmt struct {
	stmt  *sql.Stmt
	entry *connector.PreparedEntry
}

func New(cfg connector.ConnectionConfig, logger *slog.Logger) (*Connector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Host == "" || cfg.Database == "" {
		return nil, apperrors.New(apperrors.KindInvalidConfig, "mysql.New", fmt.Errorf("host and database are required"))
	}
	if cfg.PoolMax <= 0 {
		return nil, apperrors.New(apperrors.KindInvalidConfig, "mysql.New", fmt.Errorf("pool max must be > 0"))
	}
	return &Connector{
		cfg:      cfg.Clone(),
		logger:   logger.With("backend", "mysql", "connector_id", cfg.ID),
		meta:     connector.NewConnectorMetadata(),
		metrics:  connector.NewPoolMetrics(cfg.PoolMin, cfg.PoolMax),
		opRing:   connector.NewOpRing(500),
		prepared: map[string]*preparedStmt{},
		closeCh:  make(chan struct{}),
	}, nil
}

func (c *Connector) State() connector.State               { return connector.State(c.state) }
func (c *Connector) Config() connector.ConnectionConfig    { return c.cfg.Clone() }
func (c *Connector) Metadata() connector.ConnectorMetadata { return c.meta.Snapshot() }

func (c *Connector) Connect(ctx context.Context) error {
	if c.State() == connector.StateConnected {
		return nil
	}
	c.state = int32(connector.StateConnecting)

	db, err := sql.Open("mysql", BuildDSN(c.cfg))
	if err != nil {
		c.state = int32(connector.StateError)
		return apperrors.New(apperrors.KindConnectionFailed, "mysql.Connect", err)
	}
	db.SetMaxOpenConns(c.cfg.PoolMax)
	db.SetMaxIdleConns(c.cfg.PoolMin)
	db.SetConnMaxLifetime(time.Hour)

	connectCtx := ctx
	var cancel context.CancelFunc
	if c.cfg.ConnectTimeout > 0 {
		connectCtx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}
	if err := db.PingContext(connectCtx); err != nil {
		db.Close()
		c.state = int32(connector.StateError)
		return apperrors.New(apperrors.KindConnectionFailed, "mysql.Connect", err).WithBackend("mysql").WithRetryable(true)
	}

	c.mu.Lock()
	c.db = db
	c.mu.Unlock()
	c.meta.ConnectedAt = time.Now()
	c.meta.SetHealthy(true, "")
	c.state = int32(connector.StateConnected)

	c.wg.Add(2)
	go c.healthLoop()
	go c.cleanupLoop()

	c.logger.Info("connected", "host", c.cfg.Host, "database", c.cfg.Database)
	return nil
}

func (c *Connector) Disconnect(ctx context.Context) error {
	c.closeOnce.Do(func() { close(c.closeCh) })
	done := make(chan struct{})
	go func() { c.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		c.logger.Warn("shutdown grace elapsed, forcing pool close")
	}
	c.mu.Lock()
	db := c.db
	c.db = nil
	c.mu.Unlock()
	if db != nil {
		db.Close()
	}
	c.state = int32(connector.StateDisconnected)
	return nil
}

func (c *Connector) acquire() (*sql.DB, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.db == nil {
		return nil, apperrors.New(apperrors.KindNotConnected, "mysql.acquire", fmt.Errorf("not connected"))
	}
	return c.db, nil
}

func (c *Connector) TestConnection(ctx context.Context) connector.TestResult {
	start := time.Now()
	db, err := c.acquire()
	if err != nil {
		return connector.TestResult{Success: false, Err: err}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return connector.TestResult{Success: false, Elapsed: time.Since(start), Err: apperrors.New(apperrors.KindConnectionFailed, "mysql.TestConnection", err)}
	}
	return connector.TestResult{Success: true, Elapsed: time.Since(start)}
}

func (c *Connector) HealthCheck(ctx context.Context) error {
	db, err := c.acquire()
	if err != nil {
		return err
	}
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(checkCtx); err != nil {
		c.meta.SetHealthy(false, err.Error())
		return apperrors.New(apperrors.KindHealthCheckFailed, "mysql.HealthCheck", err)
	}
	c.meta.SetHealthy(true, "")
	return nil
}

func (c *Connector) Execute(ctx context.Context, query string, params ...any) (connector.Result, error) {
	db, err := c.acquire()
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
		rows, qerr := db.QueryContext(opCtx, query, params...)
		if qerr != nil {
			err = c.classify("mysql.Execute", qerr, opCtx)
		} else {
			defer rows.Close()
			result.Rows, err = scanRows(rows)
			result.RowsReturned = int64(len(result.Rows))
		}
	} else {
		res, qerr := db.ExecContext(opCtx, query, params...)
		if qerr != nil {
			err = c.classify("mysql.Execute", qerr, opCtx)
		} else {
			result.RowsAffected, _ = res.RowsAffected()
		}
	}
	result.OpKind = kind
	result.Duration = time.Since(start)
	c.recordOp(kind, query, len(params), start, result, err)
	if err != nil {
		return connector.Result{}, err
	}
	c.meta.Touch()
	return result, nil
}

func scanRows(rows *sql.Rows) ([]connector.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []connector.Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(connector.Row, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

type cursor struct {
	rows  *sql.Rows
	cols  []string
	chunk int
	mu    sync.Mutex
	done  bool
}

func (c *Connector) Stream(ctx context.Context, query string, chunk int, params ...any) (connector.StreamCursor, error) {
	db, err := c.acquire()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, apperrors.New(apperrors.KindUnknown, "mysql.Stream", err)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, apperrors.New(apperrors.KindUnknown, "mysql.Stream", err)
	}
	if chunk <= 0 {
		chunk = 500
	}
	return &cursor{rows: rows, cols: cols, chunk: chunk}, nil
}

func (s *cursor) Next(ctx context.Context) (connector.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return connector.Batch{Done: true}, nil
	}
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
		vals := make([]any, len(s.cols))
		ptrs := make([]any, len(s.cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := s.rows.Scan(ptrs...); err != nil {
			s.closeLocked()
			return connector.Batch{}, err
		}
		row := make(connector.Row, len(s.cols))
		for i, c := range s.cols {
			row[c] = vals[i]
		}
		batch = append(batch, row)
	}
	return connector.Batch{Rows: batch, Done: false}, nil
}

func (s *cursor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *cursor) closeLocked() {
	if s.done {
		return
	}
	s.rows.Close()
	s.done = true
}

type tx struct {
	tx   *sql.Tx
	done bool
	mu   sync.Mutex
}

func (c *Connector) Transaction(ctx context.Context, isolation connector.Isolation) (connector.Tx, error) {
	db, err := c.acquire()
	if err != nil {
		return nil, err
	}
	opts := &sql.TxOptions{}
	switch isolation {
	case connector.IsolationReadUncommitted:
		opts.Isolation = sql.LevelReadUncommitted
	case connector.IsolationRepeatableRead:
		opts.Isolation = sql.LevelRepeatableRead
	case connector.IsolationSerializable:
		opts.Isolation = sql.LevelSerializable
	default:
		opts.Isolation = sql.LevelReadCommitted
	}
	sqlTx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return nil, apperrors.New(apperrors.KindTransactionFailed, "mysql.Transaction", err)
	}
	return &tx{tx: sqlTx}, nil
}

func (t *tx) Execute(ctx context.Context, query string, params ...any) (connector.Result, error) {
	kind := connector.ClassifyOpKind(query)
	if kind == connector.OpRead {
		rows, err := t.tx.QueryContext(ctx, query, params...)
		if err != nil {
			return connector.Result{}, apperrors.New(apperrors.KindUnknown, "mysql.tx.Execute", err)
		}
		defer rows.Close()
		out, err := scanRows(rows)
		if err != nil {
			return connector.Result{}, err
		}
		return connector.Result{Rows: out, OpKind: kind}, nil
	}
	res, err := t.tx.ExecContext(ctx, query, params...)
	if err != nil {
		return connector.Result{}, apperrors.New(apperrors.KindUnknown, "mysql.tx.Execute", err)
	}
	n, _ := res.RowsAffected()
	return connector.Result{RowsAffected: n, OpKind: kind}, nil
}

func (t *tx) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Commit()
}

func (t *tx) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}

func (c *Connector) Prepare(ctx context.Context, sqlText string) (string, error) {
	db, err := c.acquire()
	if err != nil {
		return "", err
	}
	name := preparedName(sqlText)
	c.preparedMu.Lock()
	defer c.preparedMu.Unlock()
	if p, ok := c.prepared[name]; ok {
		p.entry.UseCount.Add(1)
		p.entry.LastUsed = time.Now()
		return name, nil
	}
	stmt, err := db.PrepareContext(ctx, sqlText)
	if err != nil {
		return "", apperrors.New(apperrors.KindPreparedStatementFailed, "mysql.Prepare", err)
	}
	c.prepared[name] = &preparedStmt{stmt: stmt, entry: &connector.PreparedEntry{
		Name: name, Statement: sqlText, CreatedAt: time.Now(), LastUsed: time.Now(),
	}}
	return name, nil
}

func preparedName(sql string) string {
	sum := sha256.Sum256([]byte(sql))
	return "ps_" + hex.EncodeToString(sum[:])[:16]
}

func (c *Connector) ExecutePrepared(ctx context.Context, name string, params ...any) (connector.Result, error) {
	c.preparedMu.Lock()
	p, ok := c.prepared[name]
	c.preparedMu.Unlock()
	if !ok {
		return connector.Result{}, apperrors.New(apperrors.KindPreparedStatementFailed, "mysql.ExecutePrepared", fmt.Errorf("unknown prepared statement %q", name))
	}
	kind := connector.ClassifyOpKind(p.entry.Statement)
	start := time.Now()
	var result connector.Result
	if kind == connector.OpRead {
		rows, err := p.stmt.QueryContext(ctx, params...)
		if err != nil {
			return connector.Result{}, apperrors.New(apperrors.KindPreparedStatementFailed, "mysql.ExecutePrepared", err)
		}
		defer rows.Close()
		result.Rows, _ = scanRows(rows)
	} else {
		res, err := p.stmt.ExecContext(ctx, params...)
		if err != nil {
			return connector.Result{}, apperrors.New(apperrors.KindPreparedStatementFailed, "mysql.ExecutePrepared", err)
		}
		result.RowsAffected, _ = res.RowsAffected()
	}
	p.entry.UseCount.Add(1)
	p.entry.LastUsed = time.Now()
	result.OpKind = kind
	result.Duration = time.Since(start)
	return result, nil
}

func (c *Connector) PerformanceMetrics() connector.PoolStats {
	if db, err := c.acquire(); err == nil {
		stats := db.Stats()
		c.metrics.ActiveConns.Store(int32(stats.InUse))
		c.metrics.IdleConns.Store(int32(stats.Idle))
	}
	return c.metrics.Snapshot()
}

func (c *Connector) recordOp(kind connector.OpKind, query string, paramCount int, start time.Time, result connector.Result, err error) {
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}
	c.opRing.Push(connector.OpMetrics{
		Kind: kind, Query: query, ParamCount: paramCount, Start: start, End: time.Now(),
		Duration: time.Since(start), RowsAffected: result.RowsAffected, RowsReturned: result.RowsReturned,
		Error: errStr,
	})
	c.metrics.RecordOp(time.Since(start), err != nil)
}

func (c *Connector) classify(op string, err error, ctx context.Context) error {
	if ctx.Err() != nil {
		return apperrors.New(apperrors.KindTimeout, op, err).WithRetryable(true)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "access denied"):
		return apperrors.New(apperrors.KindConnectionFailed, op, err)
	case strings.Contains(msg, "timeout"):
		return apperrors.New(apperrors.KindTimeout, op, err).WithRetryable(true)
	default:
		return apperrors.New(apperrors.KindUnknown, op, err)
	}
}

func (c *Connector) healthLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.closeCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.HealthCheck(ctx); err != nil {
				c.logger.Warn("health check failed", "error", err)
			}
			cancel()
		}
	}
}

func (c *Connector) cleanupLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.closeCh:
			return
		case <-ticker.C:
			c.preparedMu.Lock()
			for name, p := range c.prepared {
				if time.Since(p.entry.LastUsed) > 30*time.Minute {
					p.stmt.Close()
					delete(c.prepared, name)
				}
			}
			c.preparedMu.Unlock()
		}
	}
}
