package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/hyperjump/mnemo/internal/models"
)

const (
	// DriverCGO is the mattn/go-sqlite3 driver.
	DriverCGO = "sqlite3"
	// DriverPureGo is the modernc.org/sqlite driver.
	DriverPureGo = "sqlite"
)

// SQLiteStore implements Store on an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at dbPath with the given driver
// ("sqlite3" or "sqlite") and initializes the schema. Parent directories are created
// if they do not exist.
func NewSQLiteStore(driver, dbPath string) (*SQLiteStore, error) {
	if driver == "" {
		driver = DriverCGO
	}
	if driver != DriverCGO && driver != DriverPureGo {
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}
	db, err := sql.Open(driver, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '[]',
		vector BLOB NOT NULL,
		dim INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at);

	CREATE TABLE IF NOT EXISTS store_meta (
		key TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

const bumpGeneration = `INSERT INTO store_meta (key, value) VALUES ('generation', 1)
	ON CONFLICT(key) DO UPDATE SET value = value + 1`

// DB exposes the underlying handle so other components can share the database file.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Put inserts or replaces a document in a single transaction.
func (s *SQLiteStore) Put(ctx context.Context, doc *models.Document) error {
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if doc.Metadata == nil {
		metadataJSON = []byte("[]")
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin put %s: %w", models.ErrStore, doc.ID, err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO documents (id, text, metadata, vector, dim, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Text, string(metadataJSON), encodeVector(doc.Vector), len(doc.Vector), doc.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("%w: put %s: %w", models.ErrStore, doc.ID, err)
	}
	if _, err := tx.ExecContext(ctx, bumpGeneration); err != nil {
		return fmt.Errorf("%w: put %s: generation: %w", models.ErrStore, doc.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit put %s: %w", models.ErrStore, doc.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var (
		doc          models.Document
		metadataJSON string
		blob         []byte
		dim          int
		created      int64
	)
	if err := row.Scan(&doc.ID, &doc.Text, &metadataJSON, &blob, &dim, &created); err != nil {
		return nil, err
	}
	if metadataJSON != "" && metadataJSON != "[]" {
		if err := json.Unmarshal([]byte(metadataJSON), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	vec, err := decodeVector(blob, dim)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", doc.ID, err)
	}
	doc.Vector = vec
	doc.CreatedAt = time.Unix(0, created).UTC()
	return &doc, nil
}

// Get returns a document by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, text, metadata, vector, dim, created_at FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: document %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %w", models.ErrStore, id, err)
	}
	return doc, nil
}

// Delete removes a document by ID.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin delete %s: %w", models.ErrStore, id, err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: delete %s: %w", models.ErrStore, id, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: document %s", models.ErrNotFound, id)
	}
	if _, err := tx.ExecContext(ctx, bumpGeneration); err != nil {
		return fmt.Errorf("%w: delete %s: generation: %w", models.ErrStore, id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit delete %s: %w", models.ErrStore, id, err)
	}
	return nil
}

// List returns documents newest first.
func (s *SQLiteStore) List(ctx context.Context, offset, limit int) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, metadata, vector, dim, created_at FROM documents
		 ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list: %w", models.ErrStore, err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: list: %w", models.ErrStore, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list: %w", models.ErrStore, err)
	}
	return docs, nil
}

// ForEachVector streams (id, vector) pairs in id order.
func (s *SQLiteStore) ForEachVector(ctx context.Context, fn func(id string, vec []float32) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, vector, dim FROM documents ORDER BY id`)
	if err != nil {
		return fmt.Errorf("%w: scan vectors: %w", models.ErrStore, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   string
			blob []byte
			dim  int
		)
		if err := rows.Scan(&id, &blob, &dim); err != nil {
			return fmt.Errorf("%w: scan vectors: %w", models.ErrStore, err)
		}
		vec, err := decodeVector(blob, dim)
		if err != nil {
			return fmt.Errorf("%w: document %s: %w", models.ErrStore, id, err)
		}
		if err := fn(id, vec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: scan vectors: %w", models.ErrStore, err)
	}
	return nil
}

// Count returns the number of stored documents.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %w", models.ErrStore, err)
	}
	return n, nil
}

// Generation returns the write counter, zero for a store that was never written.
func (s *SQLiteStore) Generation(ctx context.Context) (uint64, error) {
	var gen int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = 'generation'`).Scan(&gen)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: generation: %w", models.ErrStore, err)
	}
	return uint64(gen), nil
}

// OlderThan returns IDs of documents created before cutoff, oldest first.
func (s *SQLiteStore) OlderThan(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM documents WHERE created_at < ? ORDER BY created_at ASC LIMIT ?`,
		cutoff.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: older than: %w", models.ErrStore, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: older than: %w", models.ErrStore, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func encodeVector(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func decodeVector(b []byte, dim int) ([]float32, error) {
	if len(b) != dim*4 {
		return nil, fmt.Errorf("vector blob has %d bytes, want %d", len(b), dim*4)
	}
	out := make([]float32, dim)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}
