package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aidanlsb/formsync/internal/model"
	"github.com/aidanlsb/formsync/internal/sqlutil"
)

// SQLiteStore keeps the queue in a SQLite database.
type SQLiteStore struct {
	db        *sql.DB
	namespace string
}

// OpenSQLite opens or creates the queue database at path.
func OpenSQLite(path, namespace string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}
	return newSQLiteStore(db, namespace, true)
}

// OpenSQLiteInMemory opens a throwaway queue database.
func OpenSQLiteInMemory(namespace string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	return newSQLiteStore(db, namespace, false)
}

func newSQLiteStore(db *sql.DB, namespace string, wal bool) (*SQLiteStore, error) {
	// One connection keeps :memory: databases shared and serializes writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, namespace: namespaceOrDefault(namespace)}
	if err := s.initialize(wal); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initialize(wal bool) error {
	if wal {
		if _, err := s.db.Exec(`
			PRAGMA journal_mode = WAL;
			PRAGMA synchronous = FULL;
		`); err != nil {
			return fmt.Errorf("failed to configure queue database: %w", err)
		}
	}

	schema := `
		PRAGMA busy_timeout = 5000;

		CREATE TABLE IF NOT EXISTS pending (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			namespace TEXT NOT NULL,
			submission_id TEXT NOT NULL,
			form_id TEXT NOT NULL,
			data TEXT NOT NULL,
			enqueued_at TEXT NOT NULL,
			attempt_count INTEGER NOT NULL DEFAULT 0,
			UNIQUE(namespace, submission_id)
		);

		CREATE TABLE IF NOT EXISTS rejected (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			namespace TEXT NOT NULL,
			submission_id TEXT NOT NULL,
			form_id TEXT NOT NULL,
			data TEXT NOT NULL,
			enqueued_at TEXT NOT NULL,
			attempt_count INTEGER NOT NULL DEFAULT 0,
			reason TEXT NOT NULL,
			rejected_at TEXT NOT NULL,
			UNIQUE(namespace, submission_id)
		);

		CREATE INDEX IF NOT EXISTS idx_pending_namespace ON pending(namespace, seq);
		CREATE INDEX IF NOT EXISTS idx_rejected_namespace ON rejected(namespace, seq);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize queue database: %w", err)
	}
	return nil
}

// Namespace returns the namespace the store reads and writes.
func (s *SQLiteStore) Namespace() string { return s.namespace }

func (s *SQLiteStore) Append(ctx context.Context, p model.PendingSubmission) error {
	data, err := encodeData(p.Data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pending (namespace, submission_id, form_id, data, enqueued_at, attempt_count)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.namespace, p.SubmissionID, p.FormID, data, formatTime(p.EnqueuedAt), p.AttemptCount)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateEntry, p.SubmissionID)
		}
		return fmt.Errorf("failed to append entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]model.PendingSubmission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT submission_id, form_id, data, enqueued_at, attempt_count
		FROM pending WHERE namespace = ? ORDER BY seq`, s.namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	return sqlutil.ScanRows(rows, func(rows *sql.Rows) (model.PendingSubmission, error) {
		return scanPending(rows)
	})
}

func (s *SQLiteStore) Get(ctx context.Context, submissionID string) (model.PendingSubmission, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT submission_id, form_id, data, enqueued_at, attempt_count
		FROM pending WHERE namespace = ? AND submission_id = ?`, s.namespace, submissionID)
	p, err := scanPending(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PendingSubmission{}, fmt.Errorf("%w: %s", ErrEntryNotFound, submissionID)
	}
	return p, err
}

func (s *SQLiteStore) Remove(ctx context.Context, submissionID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM pending WHERE namespace = ? AND submission_id = ?`, s.namespace, submissionID)
	if err != nil {
		return fmt.Errorf("failed to remove entry: %w", err)
	}
	return requireAffected(res, submissionID)
}

func (s *SQLiteStore) IncrementAttempts(ctx context.Context, submissionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		UPDATE pending SET attempt_count = attempt_count + 1
		WHERE namespace = ? AND submission_id = ?
		RETURNING attempt_count`, s.namespace, submissionID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrEntryNotFound, submissionID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to update attempts: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) Amend(ctx context.Context, submissionID string, data map[string]interface{}) error {
	encoded, err := encodeData(data)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending SET data = ? WHERE namespace = ? AND submission_id = ?`,
		encoded, s.namespace, submissionID)
	if err != nil {
		return fmt.Errorf("failed to amend entry: %w", err)
	}
	return requireAffected(res, submissionID)
}

func (s *SQLiteStore) Reject(ctx context.Context, submissionID, reason string, at time.Time) error {
	return s.move(ctx, submissionID, `
		INSERT INTO rejected (namespace, submission_id, form_id, data, enqueued_at, attempt_count, reason, rejected_at)
		SELECT namespace, submission_id, form_id, data, enqueued_at, attempt_count, ?, ?
		FROM pending WHERE namespace = ? AND submission_id = ?`,
		`DELETE FROM pending WHERE namespace = ? AND submission_id = ?`,
		reason, formatTime(at))
}

func (s *SQLiteStore) ListRejected(ctx context.Context) ([]model.RejectedSubmission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT submission_id, form_id, data, enqueued_at, attempt_count, reason, rejected_at
		FROM rejected WHERE namespace = ? ORDER BY seq`, s.namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to list rejected entries: %w", err)
	}
	return sqlutil.ScanRows(rows, scanRejected)
}

func scanRejected(rows *sql.Rows) (model.RejectedSubmission, error) {
	var r model.RejectedSubmission
	var data, enqueuedAt, rejectedAt string
	if err := rows.Scan(&r.SubmissionID, &r.FormID, &data, &enqueuedAt, &r.AttemptCount, &r.Reason, &rejectedAt); err != nil {
		return r, fmt.Errorf("failed to scan rejected entry: %w", err)
	}
	var err error
	if r.Data, err = decodeData(data); err != nil {
		return r, err
	}
	r.EnqueuedAt = parseTime(enqueuedAt)
	r.RejectedAt = parseTime(rejectedAt)
	return r, nil
}

func (s *SQLiteStore) Restore(ctx context.Context, submissionID string) error {
	return s.move(ctx, submissionID, `
		INSERT INTO pending (namespace, submission_id, form_id, data, enqueued_at, attempt_count)
		SELECT namespace, submission_id, form_id, data, enqueued_at, attempt_count
		FROM rejected WHERE namespace = ? AND submission_id = ?`,
		`DELETE FROM rejected WHERE namespace = ? AND submission_id = ?`)
}

func (s *SQLiteStore) DeleteRejected(ctx context.Context, submissionID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM rejected WHERE namespace = ? AND submission_id = ?`, s.namespace, submissionID)
	if err != nil {
		return fmt.Errorf("failed to delete rejected entry: %w", err)
	}
	return requireAffected(res, submissionID)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// move copies one row between tables and deletes the original in a single
// transaction. Extra args are bound before the namespace and id.
func (s *SQLiteStore) move(ctx context.Context, submissionID, insert, del string, extra ...interface{}) error {
	return sqlutil.InTx(ctx, s.db, func(tx *sql.Tx) error {
		args := append(extra, s.namespace, submissionID)
		res, err := tx.ExecContext(ctx, insert, args...)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", ErrDuplicateEntry, submissionID)
			}
			return fmt.Errorf("failed to move entry: %w", err)
		}
		if err := requireAffected(res, submissionID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, del, s.namespace, submissionID); err != nil {
			return fmt.Errorf("failed to move entry: %w", err)
		}
		return nil
	})
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPending(row scanner) (model.PendingSubmission, error) {
	var p model.PendingSubmission
	var data, enqueuedAt string
	if err := row.Scan(&p.SubmissionID, &p.FormID, &data, &enqueuedAt, &p.AttemptCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("failed to scan entry: %w", err)
	}
	var err error
	if p.Data, err = decodeData(data); err != nil {
		return p, err
	}
	p.EnqueuedAt = parseTime(enqueuedAt)
	return p, nil
}

func requireAffected(res sql.Result, submissionID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, submissionID)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func encodeData(data map[string]interface{}) (string, error) {
	if data == nil {
		data = map[string]interface{}{}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to encode submission data: %w", err)
	}
	return string(b), nil
}

func decodeData(s string) (map[string]interface{}, error) {
	data := map[string]interface{}{}
	if err := json.Unmarshal([]byte(s), &data); err != nil {
		return nil, fmt.Errorf("failed to decode submission data: %w", err)
	}
	return data, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func namespaceOrDefault(ns string) string {
	if strings.TrimSpace(ns) == "" {
		return DefaultNamespace
	}
	return ns
}

var _ Store = (*SQLiteStore)(nil)
