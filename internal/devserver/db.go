package devserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aidanlsb/formsync/internal/model"
	"github.com/aidanlsb/formsync/internal/schema"
	"github.com/aidanlsb/formsync/internal/slugs"
	"github.com/aidanlsb/formsync/internal/sqlutil"
)

// db is the server's storage: forms and their stored submissions.
type db struct {
	sql *sql.DB
}

func openDB(path string) (*db, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create server data directory: %w", err)
		}
		dsn = path
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open server database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	d := &db{sql: conn}
	if err := d.initialize(path != ""); err != nil {
		conn.Close()
		return nil, err
	}
	return d, nil
}

func (d *db) initialize(wal bool) error {
	if wal {
		if _, err := d.sql.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
			return fmt.Errorf("failed to configure server database: %w", err)
		}
	}

	ddl := `
		PRAGMA busy_timeout = 5000;

		CREATE TABLE IF NOT EXISTS forms (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			name_key TEXT NOT NULL UNIQUE,
			owner_project_id TEXT NOT NULL DEFAULT '',
			fields TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS submissions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			submission_id TEXT NOT NULL UNIQUE,
			form_id TEXT NOT NULL,
			pk_value TEXT,
			data TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_submissions_pk ON submissions(form_id, pk_value);
	`
	if _, err := d.sql.Exec(ddl); err != nil {
		return fmt.Errorf("failed to initialize server database: %w", err)
	}
	return nil
}

func (d *db) close() error {
	return d.sql.Close()
}

// putForm inserts or replaces a form. Forms with the same name key replace
// each other.
func (d *db) putForm(ctx context.Context, form *schema.Form) error {
	form.Normalize()
	pks := 0
	for _, f := range form.Fields {
		if f.IsPrimaryKey {
			pks++
		}
	}
	if pks > 1 {
		return fmt.Errorf("%w: %s", schema.ErrMultiplePrimaryKeys, form.Name)
	}
	if form.ID == "" {
		form.ID = uuid.NewString()
	}
	fields, err := json.Marshal(form.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}

	key := slugs.FormKey(form.Name)
	return sqlutil.InTx(ctx, d.sql, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM forms WHERE name_key = ? AND id != ?`, key, form.ID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO forms (id, name, name_key, owner_project_id, fields)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				name_key = excluded.name_key,
				owner_project_id = excluded.owner_project_id,
				fields = excluded.fields`,
			form.ID, form.Name, key, form.OwnerProjectID, string(fields))
		if err != nil {
			return fmt.Errorf("failed to store form %q: %w", form.Name, err)
		}
		return nil
	})
}

func (d *db) formByID(ctx context.Context, id string) (*schema.Form, error) {
	return d.queryForm(ctx, `SELECT id, name, owner_project_id, fields FROM forms WHERE id = ?`, id)
}

func (d *db) formByName(ctx context.Context, name string) (*schema.Form, error) {
	return d.queryForm(ctx, `SELECT id, name, owner_project_id, fields FROM forms WHERE name_key = ?`, slugs.FormKey(name))
}

func (d *db) queryForm(ctx context.Context, query, arg string) (*schema.Form, error) {
	var (
		form   schema.Form
		fields string
	)
	err := d.sql.QueryRowContext(ctx, query, arg).Scan(&form.ID, &form.Name, &form.OwnerProjectID, &fields)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", schema.ErrFormNotFound, arg)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fields), &form.Fields); err != nil {
		return nil, fmt.Errorf("corrupt fields for form %s: %w", form.ID, err)
	}
	form.Normalize()
	return &form, nil
}

// insertSubmission stores a submission unless its submission id was seen
// before, in which case the original record id is returned with dup set.
func (d *db) insertSubmission(ctx context.Context, form *schema.Form, submissionID string, data map[string]interface{}) (id string, dup bool, err error) {
	err = d.sql.QueryRowContext(ctx, `SELECT id FROM submissions WHERE submission_id = ?`, submissionID).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", false, err
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		return "", false, fmt.Errorf("failed to encode data: %w", err)
	}

	var pk sql.NullString
	if field, ok := form.PrimaryKey(); ok {
		if v, ok := data[field.Label]; ok && v != nil {
			pk = sql.NullString{String: formatKey(v), Valid: true}
		}
	}

	id = uuid.NewString()
	_, err = d.sql.ExecContext(ctx, `
		INSERT INTO submissions (id, submission_id, form_id, pk_value, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, submissionID, form.ID, pk, string(encoded), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", false, fmt.Errorf("failed to store submission: %w", err)
	}
	return id, false, nil
}

// primaryKeyValues lists the primary-key values of a form's submissions in
// the order they were stored. Submissions without a value are skipped.
func (d *db) primaryKeyValues(ctx context.Context, formID string) ([]model.Candidate, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT pk_value, id FROM submissions
		WHERE form_id = ? AND pk_value IS NOT NULL
		ORDER BY seq`, formID)
	if err != nil {
		return nil, err
	}
	return sqlutil.ScanRows(rows, func(rows *sql.Rows) (model.Candidate, error) {
		var c model.Candidate
		err := rows.Scan(&c.Value, &c.RecordID)
		return c, err
	})
}

// records lists a form's stored submissions in the order they were stored.
func (d *db) records(ctx context.Context, formID string) ([]model.Record, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT s.id, s.form_id, f.name, s.data FROM submissions s
		JOIN forms f ON f.id = s.form_id
		WHERE s.form_id = ?
		ORDER BY s.seq`, formID)
	if err != nil {
		return nil, err
	}
	return sqlutil.ScanRows(rows, func(rows *sql.Rows) (model.Record, error) {
		var (
			rec  model.Record
			data string
		)
		if err := rows.Scan(&rec.ID, &rec.FormID, &rec.FormName, &data); err != nil {
			return rec, err
		}
		if err := json.Unmarshal([]byte(data), &rec.Data); err != nil {
			return rec, fmt.Errorf("corrupt data for record %s: %w", rec.ID, err)
		}
		return rec, nil
	})
}

func (d *db) record(ctx context.Context, id string) (*model.Record, error) {
	return d.queryRecord(ctx, `
		SELECT s.id, s.form_id, f.name, s.data FROM submissions s
		JOIN forms f ON f.id = s.form_id
		WHERE s.id = ?`, id)
}

func (d *db) queryRecord(ctx context.Context, query string, args ...interface{}) (*model.Record, error) {
	var (
		rec  model.Record
		data string
	)
	err := d.sql.QueryRowContext(ctx, query, args...).Scan(&rec.ID, &rec.FormID, &rec.FormName, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), &rec.Data); err != nil {
		return nil, fmt.Errorf("corrupt data for record %s: %w", rec.ID, err)
	}
	return &rec, nil
}

func (d *db) countSubmissions(ctx context.Context) (int, error) {
	var n int
	err := d.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM submissions`).Scan(&n)
	return n, err
}

// formatKey renders a primary-key value the way clients send it back in
// lookup paths.
func formatKey(v interface{}) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprint(v)
}
