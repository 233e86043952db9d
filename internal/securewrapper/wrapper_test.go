package securewrapper

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dafelhub/dataplatform/internal/apperrors"
	"github.com/dafelhub/dataplatform/internal/audit"
	"github.com/dafelhub/dataplatform/internal/connector"
	"github.com/dafelhub/dataplatform/internal/policy"
	"github.com/dafelhub/dataplatform/internal/vault"
)

// fakeConnector is a hand-rolled connector.Connector stub for exercising
// the wrapper's authorization and audit logic in isolation from any real
// backend.
type fakeConnector struct {
	cfg         connector.ConnectionConfig
	executeErr  error
	execResult  connector.Result
}

func (f *fakeConnector) Connect(ctx context.Context) error    { return nil }
func (f *fakeConnector) Disconnect(ctx context.Context) error { return nil }
func (f *fakeConnector) TestConnection(ctx context.Context) connector.TestResult {
	return connector.TestResult{Success: true}
}
func (f *fakeConnector) HealthCheck(ctx context.Context) error { return nil }
func (f *fakeConnector) Execute(ctx context.Context, query string, params ...any) (connector.Result, error) {
	if f.executeErr != nil {
		return connector.Result{}, f.executeErr
	}
	return f.execResult, nil
}
func (f *fakeConnector) Stream(ctx context.Context, query string, chunk int, params ...any) (connector.StreamCursor, error) {
	return nil, nil
}
func (f *fakeConnector) Transaction(ctx context.Context, isolation connector.Isolation) (connector.Tx, error) {
	return nil, nil
}
func (f *fakeConnector) Prepare(ctx context.Context, query string) (string, error) { return "stmt-1", nil }
func (f *fakeConnector) ExecutePrepared(ctx context.Context, name string, params ...any) (connector.Result, error) {
	return f.execResult, nil
}
func (f *fakeConnector) GetSchemaInfo(ctx context.Context, scope connector.SchemaScope) (connector.SchemaFragment, error) {
	return connector.SchemaFragment{}, nil
}
func (f *fakeConnector) PerformanceMetrics() connector.PoolStats { return connector.PoolStats{} }
func (f *fakeConnector) State() connector.State                 { return connector.StateConnected }
func (f *fakeConnector) Config() connector.ConnectionConfig     { return f.cfg }
func (f *fakeConnector) Metadata() connector.ConnectorMetadata  { return connector.ConnectorMetadata{} }

func newTestTrail(t *testing.T) *audit.Trail {
	t.Helper()
	v, err := vault.New([]byte("wrapper-test-passphrase"), 0)
	require.NoError(t, err)
	dir := t.TempDir()
	tr, err := audit.Open(filepath.Join(dir, "audit.db"), filepath.Join(dir, "backups"), v, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	tr.Start(ctx)
	t.Cleanup(func() { _ = tr.Close(context.Background()) })
	return tr
}

func allowAllPolicy() *policy.Set {
	return policy.NewSet(policy.Policy{
		ID: "allow-all",
		PermittedOps: map[policy.Permission]bool{
			policy.PermissionRead: true, policy.PermissionWrite: true, policy.PermissionDelete: true,
			policy.PermissionSchema: true, policy.PermissionAdmin: true,
		},
	})
}

func TestExecute_AllowedOperationEmitsQueryExecuted(t *testing.T) {
	inner := &fakeConnector{execResult: connector.Result{RowsAffected: 1}}
	trail := newTestTrail(t)
	w := New(inner, allowAllPolicy(), trail, Subject{ID: "alice"}, "appdb", time.Hour)

	_, err := w.Execute(context.Background(), "SELECT 1")
	require.NoError(t, err)
	trail.WaitIdle()
	assert.Equal(t, int64(1), trail.Stats().TotalEntries)
}

func TestExecute_PolicyDeniedEmitsAccessDenied(t *testing.T) {
	inner := &fakeConnector{}
	trail := newTestTrail(t)
	denyAll := policy.NewSet()
	w := New(inner, denyAll, trail, Subject{ID: "bob"}, "appdb", time.Hour)

	_, err := w.Execute(context.Background(), "SELECT 1")
	assert.Error(t, err)
	assert.Equal(t, apperrors.KindPermissionDenied, apperrors.Of(err))
	trail.WaitIdle()
	assert.Equal(t, int64(1), trail.Stats().TotalEntries)
}

func TestExecute_SessionExpiredFailsBeforePolicy(t *testing.T) {
	inner := &fakeConnector{}
	trail := newTestTrail(t)
	w := New(inner, allowAllPolicy(), trail, Subject{ID: "carol"}, "appdb", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	_, err := w.Execute(context.Background(), "SELECT 1")
	assert.Error(t, err)
	assert.Equal(t, apperrors.KindAuthenticationFailed, apperrors.Of(err))
}

func TestExecute_UnderlyingFailureEmitsQueryFailed(t *testing.T) {
	inner := &fakeConnector{executeErr: apperrors.New(apperrors.KindConnectionFailed, "fake", assert.AnError)}
	trail := newTestTrail(t)
	w := New(inner, allowAllPolicy(), trail, Subject{ID: "dave"}, "appdb", time.Hour)

	_, err := w.Execute(context.Background(), "SELECT 1")
	assert.Error(t, err)
	trail.WaitIdle()
	assert.Equal(t, int64(1), trail.Stats().TotalEntries)
}

func TestGetSchemaInfo_RequiresSchemaPermission(t *testing.T) {
	inner := &fakeConnector{}
	trail := newTestTrail(t)
	readOnly := policy.NewSet(policy.Policy{
		ID:           "read-only",
		PermittedOps: map[policy.Permission]bool{policy.PermissionRead: true},
	})
	w := New(inner, readOnly, trail, Subject{ID: "erin"}, "appdb", time.Hour)

	_, err := w.GetSchemaInfo(context.Background(), connector.SchemaScope{})
	assert.Error(t, err)
	assert.Equal(t, apperrors.KindPermissionDenied, apperrors.Of(err))
}

func TestIssueAndParseToken_RoundTrip(t *testing.T) {
	v, err := vault.New([]byte("session-passphrase"), 0)
	require.NoError(t, err)
	subject := Subject{ID: "frank", Roles: []string{"analyst"}}

	token, err := IssueToken(v, subject, "appdb", time.Hour)
	require.NoError(t, err)

	parsed, err := ParseToken(v, token)
	require.NoError(t, err)
	assert.Equal(t, "frank", parsed.Subject.ID)
	assert.Equal(t, "appdb", parsed.Database)
}

func TestParseToken_ExpiredFails(t *testing.T) {
	v, err := vault.New([]byte("session-passphrase"), 0)
	require.NoError(t, err)
	token, err := IssueToken(v, Subject{ID: "grace"}, "appdb", -time.Minute)
	require.NoError(t, err)

	_, err = ParseToken(v, token)
	assert.Error(t, err)
}

func TestParseToken_TamperedSignatureFails(t *testing.T) {
	v, err := vault.New([]byte("session-passphrase"), 0)
	require.NoError(t, err)
	token, err := IssueToken(v, Subject{ID: "heidi"}, "appdb", time.Hour)
	require.NoError(t, err)

	tampered := token[:len(token)-1] + "x"
	_, err = ParseToken(v, tampered)
	assert.Error(t, err)
}
