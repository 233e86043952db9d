// Package audit implements the Audit Trail (C3): a hash-chained,
// append-only log of security-relevant events. Every entry is linked to
// its predecessor by SHA-256 hash and signed with the vault's HMAC, so
// tampering with any entry or reordering the chain is detectable by
// Verify. Generalized from original_source/security/audit_trail.py's
// PersistentAuditTrail: same SQLite row store, background processing
// goroutine in place of its processing thread, periodic backup timer,
// and crash-recovery-by-rescan, reusing the teacher's modernc.org/sqlite
// embedding idiom (internal/connector/sqlite).
package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dafelhub/dataplatform/internal/apperrors"
	"github.com/dafelhub/dataplatform/internal/vault"
)

const checkpointEvery = 100

// Entry is one immutable link in the audit chain, mirroring the
// original's AuditTrailEntry.
type Entry struct {
	ID            string
	Sequence      int64
	Timestamp     time.Time
	Type          string
	Data          map[string]any
	Subject       map[string]any
	SystemContext map[string]any
	PreviousHash  string
	Hash          string
	Signature     string
}

type appendRequest struct {
	eventType string
	data      map[string]any
	subject   map[string]any
}

// Trail owns the append-only chain: its SQLite row store, in-memory
// chain-tip state, the background committer goroutine, and the
// periodic backup timer.
type Trail struct {
	db     *sql.DB
	vault  *vault.Vault
	logger *slog.Logger

	dbPath     string
	backupDir  string
	backupEvery time.Duration

	stateMu          sync.Mutex
	lastSequence     int64
	lastHash         string
	totalEntries     int64
	integrityChecked bool

	queue chan appendRequest
	done  chan struct{}
	wg    sync.WaitGroup
}

// Open initializes the row store at dbPath (created if absent), loads or
// reconstructs chain-tip state, and returns a Trail ready for Start.
func Open(dbPath, backupDir string, v *vault.Vault, logger *slog.Logger) (*Trail, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(backupDir, 0o700); err != nil {
		return nil, apperrors.New(apperrors.KindUnknown, "audit.Open", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, apperrors.New(apperrors.KindConnectionFailed, "audit.Open", err)
	}
	db.SetMaxOpenConns(1)

	t := &Trail{
		db:          db,
		vault:       v,
		logger:      logger,
		dbPath:      dbPath,
		backupDir:   backupDir,
		backupEvery: 15 * time.Minute,
		queue:       make(chan appendRequest, 1024),
		done:        make(chan struct{}),
	}
	if err := t.migrate(); err != nil {
		return nil, err
	}
	if err := t.loadState(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Trail) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS audit_entries (
			id TEXT PRIMARY KEY,
			sequence_number INTEGER UNIQUE NOT NULL,
			timestamp TEXT NOT NULL,
			event_type TEXT NOT NULL,
			event_data TEXT NOT NULL,
			subject TEXT,
			system_context TEXT NOT NULL,
			previous_hash TEXT NOT NULL,
			entry_hash TEXT NOT NULL,
			signature TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_entries_seq ON audit_entries(sequence_number)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_entries_type ON audit_entries(event_type)`,
		`CREATE TABLE IF NOT EXISTS audit_checkpoints (
			sequence_number INTEGER PRIMARY KEY,
			checkpoint_hash TEXT NOT NULL,
			entries_count INTEGER NOT NULL,
			timestamp TEXT NOT NULL
		)`,
	}
	for _, s := range stmts {
		if _, err := t.db.Exec(s); err != nil {
			return apperrors.New(apperrors.KindUnknown, "audit.migrate", err)
		}
	}
	return nil
}

// loadState reconstructs the in-memory chain tip by scanning the row
// store directly. Unlike the original, which persists a separate
// state.json and falls back to a rescan on mismatch, this always
// rescans: the row store is the only source of truth, so there is no
// separate state file that can drift out of sync with it.
func (t *Trail) loadState() error {
	row := t.db.QueryRow(`SELECT COUNT(*), COALESCE(MAX(sequence_number), 0) FROM audit_entries`)
	var count, maxSeq int64
	if err := row.Scan(&count, &maxSeq); err != nil {
		return apperrors.New(apperrors.KindUnknown, "audit.loadState", err)
	}
	var lastHash string
	if maxSeq > 0 {
		if err := t.db.QueryRow(`SELECT entry_hash FROM audit_entries WHERE sequence_number = ?`, maxSeq).Scan(&lastHash); err != nil {
			return apperrors.New(apperrors.KindUnknown, "audit.loadState", err)
		}
	}
	t.stateMu.Lock()
	t.lastSequence = maxSeq
	t.lastHash = lastHash
	t.totalEntries = count
	t.integrityChecked = true
	t.stateMu.Unlock()
	t.logger.Info("audit trail state loaded", "sequence", maxSeq, "total_entries", count)
	return nil
}

// Start launches the background committer and backup timer. Callers
// must call Close to drain and stop them.
func (t *Trail) Start(ctx context.Context) {
	t.wg.Add(1)
	go t.runCommitter(ctx)
	t.wg.Add(1)
	go t.runBackupTimer(ctx)
}

// Close stops the background goroutines, draining any queued entries
// before returning, and takes a final backup per spec §4.8.
func (t *Trail) Close(ctx context.Context) error {
	close(t.done)
	t.wg.Wait()
	if _, err := t.CreateBackup(); err != nil {
		return err
	}
	return t.db.Close()
}

// Append enqueues an event for asynchronous, ordered commit and returns
// immediately without waiting for it to be durably written. Use
// WaitIdle in tests to block until the queue drains.
func (t *Trail) Append(eventType string, data, subject map[string]any) error {
	req := appendRequest{eventType: eventType, data: data, subject: subject}
	select {
	case t.queue <- req:
		return nil
	case <-t.done:
		return apperrors.New(apperrors.KindConnectionClosed, "audit.Append", fmt.Errorf("audit trail is closed"))
	default:
		return apperrors.New(apperrors.KindTimeout, "audit.Append", fmt.Errorf("audit queue is full"))
	}
}

func (t *Trail) runCommitter(ctx context.Context) {
	defer t.wg.Done()
	// drain commits whatever is still queued before the committer exits.
	drain := func() {
		for {
			select {
			case req := <-t.queue:
				if _, err := t.commit(req); err != nil {
					t.logger.Error("failed to commit audit entry", "event_type", req.eventType, "error", err)
				}
			default:
				return
			}
		}
	}
	for {
		select {
		case req := <-t.queue:
			if _, err := t.commit(req); err != nil {
				t.logger.Error("failed to commit audit entry", "event_type", req.eventType, "error", err)
			}
		case <-t.done:
			drain()
			return
		case <-ctx.Done():
			drain()
			return
		}
	}
}

func systemContext() map[string]any {
	host, _ := os.Hostname()
	return map[string]any{
		"hostname":   host,
		"pid":        os.Getpid(),
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
}

func canonicalHash(id string, seq int64, ts time.Time, eventType string, data, subject, sysCtx map[string]any, previousHash string) (string, error) {
	payload := map[string]any{
		"id":             id,
		"sequence_number": seq,
		"timestamp":      ts.UTC().Format(time.RFC3339Nano),
		"event_type":     eventType,
		"event_data":     data,
		"subject":        subject,
		"system_context": sysCtx,
		"previous_hash":  previousHash,
	}
	// encoding/json sorts map keys lexicographically, giving the same
	// canonical form as the original's json.dumps(sort_keys=True).
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

func (t *Trail) commit(req appendRequest) (Entry, error) {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()

	seq := t.lastSequence + 1
	ts := time.Now().UTC()
	id := newID()
	sysCtx := systemContext()

	hash, err := canonicalHash(id, seq, ts, req.eventType, req.data, req.subject, sysCtx, t.lastHash)
	if err != nil {
		return Entry{}, apperrors.New(apperrors.KindUnknown, "audit.commit", err)
	}
	sig := t.vault.Hmac([]byte(hash))

	entry := Entry{
		ID: id, Sequence: seq, Timestamp: ts, Type: req.eventType,
		Data: req.data, Subject: req.subject, SystemContext: sysCtx,
		PreviousHash: t.lastHash, Hash: hash, Signature: hex.EncodeToString(sig),
	}
	if err := t.insert(entry); err != nil {
		return Entry{}, err
	}

	t.lastSequence = seq
	t.lastHash = hash
	t.totalEntries++

	if seq%checkpointEvery == 0 {
		if err := t.writeCheckpoint(seq, hash, t.totalEntries); err != nil {
			t.logger.Error("failed to write audit checkpoint", "sequence", seq, "error", err)
		}
	}
	return entry, nil
}

func (t *Trail) insert(e Entry) error {
	dataJSON, err := json.Marshal(e.Data)
	if err != nil {
		return apperrors.New(apperrors.KindUnknown, "audit.insert", err)
	}
	subjectJSON, err := json.Marshal(e.Subject)
	if err != nil {
		return apperrors.New(apperrors.KindUnknown, "audit.insert", err)
	}
	sysJSON, err := json.Marshal(e.SystemContext)
	if err != nil {
		return apperrors.New(apperrors.KindUnknown, "audit.insert", err)
	}
	_, err = t.db.Exec(`INSERT INTO audit_entries
		(id, sequence_number, timestamp, event_type, event_data, subject, system_context, previous_hash, entry_hash, signature)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Sequence, e.Timestamp.Format(time.RFC3339Nano), e.Type, string(dataJSON), string(subjectJSON), string(sysJSON), e.PreviousHash, e.Hash, e.Signature)
	if err != nil {
		return apperrors.New(apperrors.KindUnknown, "audit.insert", err)
	}
	return nil
}

func (t *Trail) writeCheckpoint(seq int64, hash string, count int64) error {
	_, err := t.db.Exec(`INSERT OR REPLACE INTO audit_checkpoints (sequence_number, checkpoint_hash, entries_count, timestamp) VALUES (?, ?, ?, ?)`,
		seq, hash, count, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return apperrors.New(apperrors.KindUnknown, "audit.writeCheckpoint", err)
	}
	return nil
}

// Stats reports the current chain tip, for health and monitoring.
type Stats struct {
	LastSequence int64
	LastHash     string
	TotalEntries int64
}

func (t *Trail) Stats() Stats {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return Stats{LastSequence: t.lastSequence, LastHash: t.lastHash, TotalEntries: t.totalEntries}
}

// WaitIdle blocks until the append queue has drained, for use in tests
// that need deterministic ordering without polling Stats.
func (t *Trail) WaitIdle() {
	for len(t.queue) > 0 {
		time.Sleep(time.Millisecond)
	}
}

var idCounter uint64
var idMu sync.Mutex

// newID generates a monotonic, unique entry id without relying on a
// random source, since crypto/rand is reserved for key material
// elsewhere in this module.
func newID() string {
	idMu.Lock()
	idCounter++
	n := idCounter
	idMu.Unlock()
	return fmt.Sprintf("audit-%d-%d", time.Now().UnixNano(), n)
}
