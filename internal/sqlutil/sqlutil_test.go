package sqlutil

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "modernc.org/sqlite"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(`CREATE TABLE items (name TEXT NOT NULL)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	return db
}

func scanName(rows *sql.Rows) (string, error) {
	var name string
	err := rows.Scan(&name)
	return name, err
}

func TestScanRowsEmptyIsNonNil(t *testing.T) {
	db := openMemory(t)
	rows, err := db.Query(`SELECT name FROM items`)
	if err != nil {
		t.Fatal(err)
	}
	names, err := ScanRows(rows, scanName)
	if err != nil {
		t.Fatalf("ScanRows: %v", err)
	}
	if names == nil || len(names) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", names)
	}
}

func TestInTxCommitsAndRollsBack(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()

	err := InTx(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO items (name) VALUES ('a'), ('b')`)
		return err
	})
	if err != nil {
		t.Fatalf("InTx commit: %v", err)
	}

	boom := errors.New("boom")
	err = InTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO items (name) VALUES ('c')`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx error = %v, want boom", err)
	}

	rows, err := db.Query(`SELECT name FROM items ORDER BY name`)
	if err != nil {
		t.Fatal(err)
	}
	names, err := ScanRows(rows, scanName)
	if err != nil {
		t.Fatalf("ScanRows: %v", err)
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("names = %v, want [a b]", names)
	}
}
