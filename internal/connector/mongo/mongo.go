// Package mongo implements the MongoDB wire-protocol connector (C5) using
// go.mongodb.org/mongo-driver, structured after internal/connector/postgres
// for pool/health/metrics plumbing. No example repo in the retrieval pack
// ships a Mongo driver — named, not grounded, per DESIGN.md.
//
// The document backend has no SQL text: Execute/Stream accept a JSON-encoded
// operation descriptor of the shape
// {"collection": "...", "filter": {...}}           — find
// {"collection": "...", "pipeline": [...]}          — aggregate
// {"collection": "...", "documents": [...]}         — insert
// {"collection": "...", "filter": {...}, "update": {...}} — update
// {"collection": "...", "filter": {...}, "delete": true}  — delete
// matching spec §4.1's op-kind detection by field presence.
package mongo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/dafelhub/dataplatform/internal/apperrors"
	"github.com/dafelhub/dataplatform/internal/connector"
)

func BuildURI(cfg connector.ConnectionConfig) string {
	auth := ""
	if cfg.Username != "" {
		auth = fmt.Sprintf("%s:%s@", cfg.Username, cfg.Password)
	}
	return fmt.Sprintf("mongodb://%s%s:%d/%s", auth, cfg.Host, cfg.Port, cfg.Database)
}

type opDescriptor struct {
	Collection string         `json:"collection"`
	Filter     map[string]any `json:"filter"`
	Pipeline   []map[string]any `json:"pipeline"`
	Documents  []map[string]any `json:"documents"`
	Update     map[string]any `json:"update"`
	Delete     bool           `json:"delete"`
}

func classify(desc opDescriptor) connector.OpKind {
	switch {
	case desc.Delete:
		return connector.OpDelete
	case desc.Update != nil:
		return connector.OpWrite
	case len(desc.Documents) > 0:
		return connector.OpWrite
	case len(desc.Pipeline) > 0, desc.Filter != nil:
		return connector.OpRead
	default:
		return connector.OpUtility
	}
}

type Connector struct {
	cfg    connector.ConnectionConfig
	logger *slog.Logger

	mu     sync.RWMutex
	client *mongo.Client
	db     *mongo.Database
	state  int32

	meta    *connector.ConnectorMetadata
	metrics *connector.PoolMetrics
	opRing  *connector.OpRing

	closeCh   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func New(cfg connector.ConnectionConfig, logger *slog.Logger) (*Connector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Host == "" || cfg.Database == "" {
		return nil, apperrors.New(apperrors.KindInvalidConfig, "mongo.New", fmt.Errorf("host and database are required"))
	}
	return &Connector{
		cfg:     cfg.Clone(),
		logger:  logger.With("backend", "mongo", "connector_id", cfg.ID),
		meta:    connector.NewConnectorMetadata(),
		metrics: connector.NewPoolMetrics(cfg.PoolMin, cfg.PoolMax),
		opRing:  connector.NewOpRing(500),
		closeCh: make(chan struct{}),
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

	opts := options.Client().ApplyURI(BuildURI(c.cfg))
	if c.cfg.PoolMax > 0 {
		opts.SetMaxPoolSize(uint64(c.cfg.PoolMax))
	}
	if c.cfg.PoolMin > 0 {
		opts.SetMinPoolSize(uint64(c.cfg.PoolMin))
	}

	connectCtx := ctx
	var cancel context.CancelFunc
	if c.cfg.ConnectTimeout > 0 {
		connectCtx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}
	client, err := mongo.Connect(opts)
	if err != nil {
		c.state = int32(connector.StateError)
		return apperrors.New(apperrors.KindConnectionFailed, "mongo.Connect", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		c.state = int32(connector.StateError)
		return apperrors.New(apperrors.KindConnectionFailed, "mongo.Connect", err).WithBackend("mongodb").WithRetryable(true)
	}

	c.mu.Lock()
	c.client = client
	c.db = client.Database(c.cfg.Database)
	c.mu.Unlock()
	c.meta.ConnectedAt = time.Now()
	c.meta.SetHealthy(true, "")
	c.state = int32(connector.StateConnected)

	c.wg.Add(1)
	go c.healthLoop()

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
	}
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()
	if client != nil {
		_ = client.Disconnect(ctx)
	}
	c.state = int32(connector.StateDisconnected)
	return nil
}

func (c *Connector) acquire() (*mongo.Database, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.db == nil {
		return nil, apperrors.New(apperrors.KindNotConnected, "mongo.acquire", fmt.Errorf("not connected"))
	}
	return c.db, nil
}

func (c *Connector) TestConnection(ctx context.Context) connector.TestResult {
	start := time.Now()
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client == nil {
		return connector.TestResult{Success: false, Err: apperrors.New(apperrors.KindNotConnected, "mongo.TestConnection", fmt.Errorf("not connected"))}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		return connector.TestResult{Success: false, Elapsed: time.Since(start), Err: apperrors.New(apperrors.KindConnectionFailed, "mongo.TestConnection", err)}
	}
	return connector.TestResult{Success: true, Elapsed: time.Since(start)}
}

func (c *Connector) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client == nil {
		return apperrors.New(apperrors.KindNotConnected, "mongo.HealthCheck", fmt.Errorf("not connected"))
	}
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(checkCtx, readpref.Primary()); err != nil {
		c.meta.SetHealthy(false, err.Error())
		return apperrors.New(apperrors.KindHealthCheckFailed, "mongo.HealthCheck", err)
	}
	c.meta.SetHealthy(true, "")
	return nil
}

func parseDescriptor(query string) (opDescriptor, error) {
	var desc opDescriptor
	if err := json.Unmarshal([]byte(query), &desc); err != nil {
		return desc, apperrors.New(apperrors.KindInvalidConfig, "mongo.parseDescriptor", err)
	}
	if desc.Collection == "" {
		return desc, apperrors.New(apperrors.KindInvalidConfig, "mongo.parseDescriptor", fmt.Errorf("collection is required"))
	}
	return desc, nil
}

func (c *Connector) Execute(ctx context.Context, query string, params ...any) (connector.Result, error) {
	db, err := c.acquire()
	if err != nil {
		return connector.Result{}, err
	}
	desc, err := parseDescriptor(query)
	if err != nil {
		return connector.Result{}, err
	}
	kind := classify(desc)
	start := time.Now()
	coll := db.Collection(desc.Collection)

	var result connector.Result
	switch kind {
	case connector.OpRead:
		if len(desc.Pipeline) > 0 {
			pipeline := make([]bson.M, len(desc.Pipeline))
			for i, p := range desc.Pipeline {
				pipeline[i] = p
			}
			cur, aerr := coll.Aggregate(ctx, pipeline)
			if aerr != nil {
				err = apperrors.New(apperrors.KindUnknown, "mongo.Execute", aerr)
			} else {
				result.Rows, err = drainCursor(ctx, cur)
			}
		} else {
			cur, ferr := coll.Find(ctx, bson.M(desc.Filter))
			if ferr != nil {
				err = apperrors.New(apperrors.KindUnknown, "mongo.Execute", ferr)
			} else {
				result.Rows, err = drainCursor(ctx, cur)
			}
		}
		result.RowsReturned = int64(len(result.Rows))
	case connector.OpWrite:
		if desc.Update != nil {
			res, uerr := coll.UpdateMany(ctx, bson.M(desc.Filter), bson.M{"$set": desc.Update})
			if uerr != nil {
				err = apperrors.New(apperrors.KindUnknown, "mongo.Execute", uerr)
			} else {
				result.RowsAffected = res.ModifiedCount
			}
		} else {
			docs := make([]any, len(desc.Documents))
			for i, d := range desc.Documents {
				docs[i] = d
			}
			res, ierr := coll.InsertMany(ctx, docs)
			if ierr != nil {
				err = apperrors.New(apperrors.KindUnknown, "mongo.Execute", ierr)
			} else {
				result.RowsAffected = int64(len(res.InsertedIDs))
			}
		}
	case connector.OpDelete:
		res, derr := coll.DeleteMany(ctx, bson.M(desc.Filter))
		if derr != nil {
			err = apperrors.New(apperrors.KindUnknown, "mongo.Execute", derr)
		} else {
			result.RowsAffected = res.DeletedCount
		}
	default:
		err = apperrors.New(apperrors.KindInvalidConfig, "mongo.Execute", fmt.Errorf("unsupported op descriptor"))
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

func drainCursor(ctx context.Context, cur *mongo.Cursor) ([]connector.Row, error) {
	defer cur.Close(ctx)
	var out []connector.Row
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, connector.Row(doc))
	}
	return out, cur.Err()
}

type streamCursor struct {
	cur   *mongo.Cursor
	chunk int
	mu    sync.Mutex
	done  bool
}

func (c *Connector) Stream(ctx context.Context, query string, chunk int, params ...any) (connector.StreamCursor, error) {
	db, err := c.acquire()
	if err != nil {
		return nil, err
	}
	desc, err := parseDescriptor(query)
	if err != nil {
		return nil, err
	}
	coll := db.Collection(desc.Collection)
	opts := options.Find()
	if chunk > 0 {
		opts.SetBatchSize(int32(chunk))
	}
	cur, ferr := coll.Find(ctx, bson.M(desc.Filter), opts)
	if ferr != nil {
		return nil, apperrors.New(apperrors.KindUnknown, "mongo.Stream", ferr)
	}
	if chunk <= 0 {
		chunk = 500
	}
	return &streamCursor{cur: cur, chunk: chunk}, nil
}

func (s *streamCursor) Next(ctx context.Context) (connector.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return connector.Batch{Done: true}, nil
	}
	var batch []connector.Row
	for len(batch) < s.chunk {
		if !s.cur.Next(ctx) {
			s.closeLocked(ctx)
			return connector.Batch{Rows: batch, Done: true}, s.cur.Err()
		}
		var doc bson.M
		if err := s.cur.Decode(&doc); err != nil {
			s.closeLocked(ctx)
			return connector.Batch{}, err
		}
		batch = append(batch, connector.Row(doc))
	}
	return connector.Batch{Rows: batch, Done: false}, nil
}

func (s *streamCursor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked(context.Background())
	return nil
}

func (s *streamCursor) closeLocked(ctx context.Context) {
	if s.done {
		return
	}
	s.cur.Close(ctx)
	s.done = true
}

// mongoTx uses a client session to approximate the scoped Tx handle;
// MongoDB transactions require a replica set, which is a deployment concern
// outside this connector's remit.
type mongoTx struct {
	session mongo.Session
	ctx     context.Context
	db      *mongo.Database
	done    bool
	mu      sync.Mutex
}

func (c *Connector) Transaction(ctx context.Context, isolation connector.Isolation) (connector.Tx, error) {
	db, err := c.acquire()
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	session, serr := client.StartSession()
	if serr != nil {
		return nil, apperrors.New(apperrors.KindTransactionFailed, "mongo.Transaction", serr)
	}
	if err := session.StartTransaction(); err != nil {
		session.EndSession(ctx)
		return nil, apperrors.New(apperrors.KindTransactionFailed, "mongo.Transaction", err)
	}
	return &mongoTx{session: session, ctx: ctx, db: db}, nil
}

func (t *mongoTx) Execute(ctx context.Context, query string, params ...any) (connector.Result, error) {
	desc, err := parseDescriptor(query)
	if err != nil {
		return connector.Result{}, err
	}
	coll := t.db.Collection(desc.Collection)
	kind := classify(desc)
	switch kind {
	case connector.OpWrite:
		docs := make([]any, len(desc.Documents))
		for i, d := range desc.Documents {
			docs[i] = d
		}
		res, ierr := coll.InsertMany(ctx, docs)
		if ierr != nil {
			return connector.Result{}, apperrors.New(apperrors.KindUnknown, "mongo.tx.Execute", ierr)
		}
		return connector.Result{RowsAffected: int64(len(res.InsertedIDs)), OpKind: kind}, nil
	case connector.OpDelete:
		res, derr := coll.DeleteMany(ctx, bson.M(desc.Filter))
		if derr != nil {
			return connector.Result{}, apperrors.New(apperrors.KindUnknown, "mongo.tx.Execute", derr)
		}
		return connector.Result{RowsAffected: res.DeletedCount, OpKind: kind}, nil
	default:
		cur, ferr := coll.Find(ctx, bson.M(desc.Filter))
		if ferr != nil {
			return connector.Result{}, apperrors.New(apperrors.KindUnknown, "mongo.tx.Execute", ferr)
		}
		rows, err := drainCursor(ctx, cur)
		return connector.Result{Rows: rows, RowsReturned: int64(len(rows)), OpKind: kind}, err
	}
}

func (t *mongoTx) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	defer t.session.EndSession(ctx)
	return t.session.CommitTransaction(ctx)
}

func (t *mongoTx) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	defer t.session.EndSession(ctx)
	return t.session.AbortTransaction(ctx)
}

// Prepare/ExecutePrepared are SQL-dialect-only per spec §4.1; the document
// backend reports InvalidConfiguration if a caller tries to use them.
func (c *Connector) Prepare(ctx context.Context, sql string) (string, error) {
	return "", apperrors.New(apperrors.KindInvalidConfig, "mongo.Prepare", fmt.Errorf("prepared statements are not supported by the document backend"))
}

func (c *Connector) ExecutePrepared(ctx context.Context, name string, params ...any) (connector.Result, error) {
	return connector.Result{}, apperrors.New(apperrors.KindInvalidConfig, "mongo.ExecutePrepared", fmt.Errorf("prepared statements are not supported by the document backend"))
}

func (c *Connector) PerformanceMetrics() connector.PoolStats {
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
