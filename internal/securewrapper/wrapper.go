// Package securewrapper implements the Secure Wrapper (C10): it wraps a
// connector.Connector, binds it to a subject and credential, and enforces
// per-session idle expiry, policy evaluation, and audit emission around
// every operation, per spec §4.6. Event emission is grounded on the
// rescued teacher audit_logger.go's event/severity/attrs idiom
// (AuditLogger.LogSecurityEvent), adapted from HTTP request events to
// connector operation events.
package securewrapper

import (
	"context"
	"sync"
	"time"

	"github.com/dafelhub/dataplatform/internal/apperrors"
	"github.com/dafelhub/dataplatform/internal/audit"
	"github.com/dafelhub/dataplatform/internal/connector"
	"github.com/dafelhub/dataplatform/internal/policy"
)

// Subject identifies the caller a Wrapper is bound to, used both for
// policy evaluation and audit attribution.
type Subject struct {
	ID    string
	Roles []string
	IP    string
}

func (s Subject) toPolicy() policy.Subject {
	return policy.Subject{ID: s.ID, Roles: s.Roles, IP: s.IP}
}

// Wrapper composes a connector.Connector with session-idle tracking,
// policy enforcement, and audit emission. It satisfies connector.Connector
// itself, so callers can use it anywhere a bare connector is expected.
type Wrapper struct {
	inner    connector.Connector
	policies *policy.Set
	trail    *audit.Trail
	subject  Subject
	database string

	mu           sync.Mutex
	idleTimeout  time.Duration
	lastActivity time.Time
}

// New binds inner to subject, enforced by policies and recorded to trail.
// database names the logical database this wrapper's operations are
// evaluated against (matched to each Policy's DatabaseGlobs).
func New(inner connector.Connector, policies *policy.Set, trail *audit.Trail, subject Subject, database string, idleTimeout time.Duration) *Wrapper {
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Minute
	}
	return &Wrapper{
		inner: inner, policies: policies, trail: trail, subject: subject,
		database: database, idleTimeout: idleTimeout, lastActivity: time.Now(),
	}
}

func (w *Wrapper) emit(eventType string, data map[string]any) {
	if w.trail == nil {
		return
	}
	subjectData := map[string]any{"id": w.subject.ID, "roles": w.subject.Roles, "ip": w.subject.IP}
	if err := w.trail.Append(eventType, data, subjectData); err != nil {
		// Append reports a full or closed queue only through this error,
		// which is dropped here: the wrapper does not fail the caller's
		// operation because an audit event could not be enqueued.
		_ = err
	}
}

// checkIdle enforces step 1 of spec §4.6: a session idle beyond
// idleTimeout fails authentication before any policy check runs.
func (w *Wrapper) checkIdle() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if time.Since(w.lastActivity) > w.idleTimeout {
		return apperrors.New(apperrors.KindAuthenticationFailed, "securewrapper.checkIdle", errSessionExpired)
	}
	return nil
}

func (w *Wrapper) touch() {
	w.mu.Lock()
	w.lastActivity = time.Now()
	w.mu.Unlock()
}

var errSessionExpired = sessionExpiredError{}

type sessionExpiredError struct{}

func (sessionExpiredError) Error() string { return "session expired" }

// permissionFor classifies an op-kind into the required permission, per
// spec §4.6 step 2. Transactions and utility ops require write and read
// respectively, since neither has a dedicated Permission value.
func permissionFor(op connector.OpKind) policy.Permission {
	switch op {
	case connector.OpRead:
		return policy.PermissionRead
	case connector.OpWrite:
		return policy.PermissionWrite
	case connector.OpDelete:
		return policy.PermissionDelete
	case connector.OpSchema:
		return policy.PermissionSchema
	case connector.OpAdmin:
		return policy.PermissionAdmin
	case connector.OpTransaction:
		return policy.PermissionWrite
	default:
		return policy.PermissionRead
	}
}

// authorize runs steps 1-3 of spec §4.6 for a single operation, emitting
// access_denied on policy failure.
func (w *Wrapper) authorize(op connector.OpKind) error {
	if err := w.checkIdle(); err != nil {
		w.emit("access_denied", map[string]any{"reason": "session_expired", "op": string(op)})
		return err
	}
	perm := permissionFor(op)
	if !w.policies.Allows(w.subject.toPolicy(), w.database, perm, time.Now()) {
		w.emit("access_denied", map[string]any{"reason": "policy_denied", "op": string(op), "permission": string(perm)})
		return apperrors.New(apperrors.KindPermissionDenied, "securewrapper.authorize", errPolicyDenied)
	}
	return nil
}

type policyDeniedError struct{}

func (policyDeniedError) Error() string { return "policy denied" }

var errPolicyDenied = policyDeniedError{}

// Connect delegates to the inner connector and emits connection_established.
func (w *Wrapper) Connect(ctx context.Context) error {
	err := w.inner.Connect(ctx)
	if err != nil {
		w.emit("query_failed", map[string]any{"op": "connect", "error": err.Error()})
		return err
	}
	w.touch()
	w.emit("connection_established", map[string]any{"backend": string(w.inner.Config().Backend)})
	return nil
}

// Disconnect delegates to the inner connector and emits connection_closed.
func (w *Wrapper) Disconnect(ctx context.Context) error {
	err := w.inner.Disconnect(ctx)
	w.emit("connection_closed", map[string]any{"backend": string(w.inner.Config().Backend)})
	return err
}

func (w *Wrapper) TestConnection(ctx context.Context) connector.TestResult {
	return w.inner.TestConnection(ctx)
}

func (w *Wrapper) HealthCheck(ctx context.Context) error {
	return w.inner.HealthCheck(ctx)
}

// Execute enforces steps 1-4 of spec §4.6 around the inner connector's
// Execute.
func (w *Wrapper) Execute(ctx context.Context, query string, params ...any) (connector.Result, error) {
	op := connector.ClassifyOpKind(query)
	if err := w.authorize(op); err != nil {
		return connector.Result{}, err
	}
	start := time.Now()
	result, err := w.inner.Execute(ctx, query, params...)
	duration := time.Since(start)
	if err != nil {
		w.emit("query_failed", map[string]any{"op": string(op), "duration_ms": duration.Milliseconds(), "error": err.Error()})
		return result, err
	}
	w.touch()
	w.emit("query_executed", map[string]any{
		"op": string(op), "duration_ms": duration.Milliseconds(),
		"rows_affected": result.RowsAffected, "rows_returned": result.RowsReturned,
	})
	return result, nil
}

func (w *Wrapper) Stream(ctx context.Context, query string, chunkSize int, params ...any) (connector.StreamCursor, error) {
	op := connector.ClassifyOpKind(query)
	if err := w.authorize(op); err != nil {
		return nil, err
	}
	cursor, err := w.inner.Stream(ctx, query, chunkSize, params...)
	if err != nil {
		w.emit("query_failed", map[string]any{"op": string(op), "error": err.Error()})
		return nil, err
	}
	w.touch()
	w.emit("query_executed", map[string]any{"op": string(op), "streaming": true})
	return cursor, nil
}

func (w *Wrapper) Transaction(ctx context.Context, isolation connector.Isolation) (connector.Tx, error) {
	if err := w.authorize(connector.OpTransaction); err != nil {
		return nil, err
	}
	tx, err := w.inner.Transaction(ctx, isolation)
	if err != nil {
		w.emit("query_failed", map[string]any{"op": "transaction", "error": err.Error()})
		return nil, err
	}
	w.touch()
	return tx, nil
}

func (w *Wrapper) Prepare(ctx context.Context, query string) (string, error) {
	op := connector.ClassifyOpKind(query)
	if err := w.authorize(op); err != nil {
		return "", err
	}
	return w.inner.Prepare(ctx, query)
}

func (w *Wrapper) ExecutePrepared(ctx context.Context, name string, params ...any) (connector.Result, error) {
	// The statement's permission was already checked at Prepare time; a
	// prepared statement's op-kind cannot be re-derived from its name
	// alone, so ExecutePrepared only re-checks session idleness.
	if err := w.checkIdle(); err != nil {
		w.emit("access_denied", map[string]any{"reason": "session_expired", "op": "execute_prepared"})
		return connector.Result{}, err
	}
	result, err := w.inner.ExecutePrepared(ctx, name, params...)
	if err != nil {
		w.emit("query_failed", map[string]any{"op": "execute_prepared", "error": err.Error()})
		return result, err
	}
	w.touch()
	w.emit("query_executed", map[string]any{"op": "execute_prepared", "rows_affected": result.RowsAffected})
	return result, nil
}

// GetSchemaInfo forwards introspection through the same permission
// pipeline, requiring the schema permission, per spec §4.6's last
// paragraph.
func (w *Wrapper) GetSchemaInfo(ctx context.Context, scope connector.SchemaScope) (connector.SchemaFragment, error) {
	if err := w.authorize(connector.OpSchema); err != nil {
		return connector.SchemaFragment{}, err
	}
	fragment, err := w.inner.GetSchemaInfo(ctx, scope)
	if err != nil {
		w.emit("query_failed", map[string]any{"op": "schema", "error": err.Error()})
		return fragment, err
	}
	w.touch()
	w.emit("query_executed", map[string]any{"op": "schema"})
	return fragment, nil
}

func (w *Wrapper) PerformanceMetrics() connector.PoolStats {
	return w.inner.PerformanceMetrics()
}

func (w *Wrapper) State() connector.State {
	return w.inner.State()
}

func (w *Wrapper) Config() connector.ConnectionConfig {
	return w.inner.Config()
}

func (w *Wrapper) Metadata() connector.ConnectorMetadata {
	return w.inner.Metadata()
}

var _ connector.Connector = (*Wrapper)(nil)
