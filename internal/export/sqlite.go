package export

import (
	"database/sql"
	"fmt"

	"github.com/agentic-research/arbor/internal/session"
	_ "modernc.org/sqlite"
)

// SQLiteWriter stores a tree listing in a nodes table, one row per node,
// linked by parent_id.
type SQLiteWriter struct {
	db        *sql.DB
	tx        *sql.Tx
	stmtNode  *sql.Stmt
	batchSize int
	count     int

	nextID int64
	stack  []int64 // ids of the open ancestors by depth
}

// NewSQLiteWriter creates the database at dbPath and its schema.
func NewSQLiteWriter(dbPath string) (*SQLiteWriter, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = MEMORY"); err != nil {
		_ = db.Close()
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS nodes (
		id INTEGER PRIMARY KEY,
		parent_id INTEGER,
		ord INTEGER NOT NULL,
		path TEXT NOT NULL,
		label TEXT NOT NULL,
		value TEXT
	);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	w := &SQLiteWriter{db: db, batchSize: 5000}
	if err := w.beginTx(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *SQLiteWriter) beginTx() error {
	var err error
	w.tx, err = w.db.Begin()
	if err != nil {
		return err
	}
	w.stmtNode, err = w.tx.Prepare(`
		INSERT INTO nodes (id, parent_id, ord, path, label, value)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	return err
}

func (w *SQLiteWriter) commitTx() error {
	if w.stmtNode != nil {
		_ = w.stmtNode.Close()
	}
	return w.tx.Commit()
}

// Add writes one entry. Entries must arrive in Print order.
func (w *SQLiteWriter) Add(e session.Entry) error {
	if e.Depth < len(w.stack) {
		w.stack = w.stack[:e.Depth]
	}
	var parent *int64
	if n := len(w.stack); n > 0 {
		p := w.stack[n-1]
		parent = &p
	}
	w.nextID++
	id := w.nextID
	if _, err := w.stmtNode.Exec(id, parent, id, e.Path, e.Label, e.Value); err != nil {
		return fmt.Errorf("insert %s: %w", e.Path, err)
	}
	w.stack = append(w.stack, id)

	w.count++
	if w.count >= w.batchSize {
		if err := w.commitTx(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		if err := w.beginTx(); err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		w.count = 0
	}
	return nil
}

// Close commits pending rows, indexes the table and closes the database.
func (w *SQLiteWriter) Close() error {
	if err := w.commitTx(); err != nil {
		_ = w.db.Close()
		return err
	}
	if _, err := w.db.Exec(`CREATE INDEX IF NOT EXISTS idx_parent_label ON nodes(parent_id, label)`); err != nil {
		_ = w.db.Close()
		return fmt.Errorf("create index: %w", err)
	}
	return w.db.Close()
}

// WriteSQLite exports entries into a new database at dbPath.
func WriteSQLite(dbPath string, entries []session.Entry) error {
	w, err := NewSQLiteWriter(dbPath)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := w.Add(e); err != nil {
			_ = w.Close()
			return err
		}
	}
	return w.Close()
}
