// Package sqlite implements the embedded SQLite connector (C5), generalized
// from the teacher's internal/storage/sqlite.SQLiteStorage: same WAL pragma
// set, path validation, and single-node connection tuning, now exposing the
// uniform connector.Connector contract instead of an alert-row API.
package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dafelhub/dataplatform/internal/apperrors"
	"github.com/dafelhub/dataplatform/internal/connector"
)

var forbiddenPrefixes = []string{"/etc", "/sys", "/proc", "/dev"}

// ValidatePath rejects directory traversal and system paths, mirroring the
// teacher's NewSQLiteStorage path checks.
func ValidatePath(path string) error {
	if path == "" {
		return apperrors.New(apperrors.KindInvalidConfig, "sqlite.ValidatePath", fmt.Errorf("path is required"))
	}
	if strings.Contains(path, "..") {
		return apperrors.New(apperrors.KindInvalidConfig, "sqlite.ValidatePath", fmt.Errorf("path must not contain .."))
	}
	for _, prefix := range forbiddenPrefixes {
		if strings.HasPrefix(path, prefix) {
			return apperrors.New(apperrors.KindInvalidConfig, "sqlite.ValidatePath", fmt.Errorf("path %q is forbidden", path))
		}
	}
	return nil
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
	path := cfg.Options["path"]
	if path == "" {
		path = cfg.Database
	}
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	return &Connector{
		cfg:      cfg.Clone(),
		logger:   logger.With("backend", "sqlite", "connector_id", cfg.ID),
		meta:     connector.NewConnectorMetadata(),
		metrics:  connector.NewPoolMetrics(1, 10),
		opRing:   connector.NewOpRing(500),
		prepared: map[string]*preparedStmt{},
		closeCh:  make(chan struct{}),
	}, nil
}

func (c *Connector) State() connector.State             { return connector.State(c.state) }
func (c *Connector) Config() connector.ConnectionConfig  { return c.cfg.Clone() }
func (c *Connector) Metadata() connector.ConnectorMetadata { return c.meta.Snapshot() }

func (c *Connector) path() string {
	if p := c.cfg.Options["path"]; p != "" {
		return p
	}
	return c.cfg.Database
}

func (c *Connector) Connect(ctx context.Context) error {
	if c.State() == connector.StateConnected {
		return nil
	}
	c.state = int32(connector.StateConnecting)

	path := c.path()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		c.state = int32(connector.StateError)
		return apperrors.New(apperrors.KindConnectionFailed, "sqlite.Connect", err)
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		c.state = int32(connector.StateError)
		return apperrors.New(apperrors.KindConnectionFailed, "sqlite.Connect", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		c.state = int32(connector.StateError)
		return apperrors.New(apperrors.KindConnectionFailed, "sqlite.Connect", err)
	}

	c.mu.Lock()
	c.db = db
	c.mu.Unlock()
	c.meta.ConnectedAt = time.Now()
	c.meta.SetHealthy(true, "")
	c.state = int32(connector.StateConnected)

	c.wg.Add(1)
	go c.cleanupLoop()

	c.logger.Info("connected", "path", path)
	return nil
}

func (c *Connector) Disconnect(ctx context.Context) error {
	c.closeOnce.Do(func() { close(c.closeCh) })
	c.wg.Wait()

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

func (c *Connector) TestConnection(ctx context.Context) connector.TestResult {
	start := time.Now()
	db, err := c.acquire()
	if err != nil {
		return connector.TestResult{Success: false, Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		return connector.TestResult{Success: false, Elapsed: time.Since(start), Err: apperrors.New(apperrors.KindConnectionFailed, "sqlite.TestConnection", err)}
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
		return apperrors.New(apperrors.KindHealthCheckFailed, "sqlite.HealthCheck", err)
	}
	c.meta.SetHealthy(true, "")
	return nil
}

func (c *Connector) acquire() (*sql.DB, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.db == nil {
		return nil, apperrors.New(apperrors.KindNotConnected, "sqlite.acquire", fmt.Errorf("not connected"))
	}
	return c.db, nil
}

func (c *Connector) Execute(ctx context.Context, query string, params ...any) (connector.Result, error) {
	db, err := c.acquire()
	if err != nil {
		return connector.Result{}, err
	}
	start := time.Now()
	kind := connector.ClassifyOpKind(query)
	var result connector.Result
	if kind == connector.OpRead {
		rows, qerr := db.QueryContext(ctx, query, params...)
		if qerr != nil {
			err = apperrors.New(apperrors.KindUnknown, "sqlite.Execute", qerr)
		} else {
			defer rows.Close()
			result.Rows, err = scanRows(rows)
			result.RowsReturned = int64(len(result.Rows))
		}
	} else {
		res, qerr := db.ExecContext(ctx, query, params...)
		if qerr != nil {
			err = apperrors.New(apperrors.KindUnknown, "sqlite.Execute", qerr)
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

// sqliteCursor reads the driver's sql.Rows lazily, materializing one batch
// of up to chunk rows per Next; Close (or reaching the end) closes the
// underlying rows.
type sqliteCursor struct {
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
		return nil, apperrors.New(apperrors.KindUnknown, "sqlite.Stream", err)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, apperrors.New(apperrors.KindUnknown, "sqlite.Stream", err)
	}
	if chunk <= 0 {
		chunk = 500
	}
	return &sqliteCursor{rows: rows, cols: cols, chunk: chunk}, nil
}

func (s *sqliteCursor) Next(ctx context.Context) (connector.Batch, error) {
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

func (s *sqliteCursor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *sqliteCursor) closeLocked() {
	if s.done {
		return
	}
	s.rows.Close()
	s.done = true
}

type sqliteTx struct {
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
	case connector.IsolationSerializable:
		opts.Isolation = sql.LevelSerializable
	default:
		opts.Isolation = sql.LevelDefault
	}
	sqlTx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return nil, apperrors.New(apperrors.KindTransactionFailed, "sqlite.Transaction", err)
	}
	return &sqliteTx{tx: sqlTx}, nil
}

func (t *sqliteTx) Execute(ctx context.Context, query string, params ...any) (connector.Result, error) {
	kind := connector.ClassifyOpKind(query)
	if kind == connector.OpRead {
		rows, err := t.tx.QueryContext(ctx, query, params...)
		if err != nil {
			return connector.Result{}, apperrors.New(apperrors.KindUnknown, "sqlite.tx.Execute", err)
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
		return connector.Result{}, apperrors.New(apperrors.KindUnknown, "sqlite.tx.Execute", err)
	}
	n, _ := res.RowsAffected()
	return connector.Result{RowsAffected: n, OpKind: kind}, nil
}

func (t *sqliteTx) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback(ctx context.Context) error {
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
		return "", apperrors.New(apperrors.KindPreparedStatementFailed, "sqlite.Prepare", err)
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
		return connector.Result{}, apperrors.New(apperrors.KindPreparedStatementFailed, "sqlite.ExecutePrepared", fmt.Errorf("unknown prepared statement %q", name))
	}
	kind := connector.ClassifyOpKind(p.entry.Statement)
	start := time.Now()
	var result connector.Result
	if kind == connector.OpRead {
		rows, err := p.stmt.QueryContext(ctx, params...)
		if err != nil {
			return connector.Result{}, apperrors.New(apperrors.KindPreparedStatementFailed, "sqlite.ExecutePrepared", err)
		}
		defer rows.Close()
		result.Rows, _ = scanRows(rows)
	} else {
		res, err := p.stmt.ExecContext(ctx, params...)
		if err != nil {
			return connector.Result{}, apperrors.New(apperrors.KindPreparedStatementFailed, "sqlite.ExecutePrepared", err)
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
