package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mirna-curator/curator/internal/curation"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS results (
	paper_id      TEXT NOT NULL,
	rna_id        TEXT NOT NULL,
	annotation    TEXT,
	aes           TEXT,
	terminal_node TEXT,
	nodes         TEXT NOT NULL,
	input_tokens  INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (paper_id, rna_id)
);
CREATE INDEX IF NOT EXISTS idx_results_annotation ON results(annotation);
`

// SQLite keeps one row per pair. The per-node ledger is stored as JSON
// because its columns depend on the flowchart.
type SQLite struct {
	db   *sql.DB
	path string
}

func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &SQLite{db: db, path: path}, nil
}

func (s *SQLite) Write(ctx context.Context, res *curation.Result) error {
	nodes, err := json.Marshal(res.Nodes)
	if err != nil {
		return fmt.Errorf("encoding nodes: %w", err)
	}

	var aes sql.NullString
	if res.AuxiliaryEntities != nil {
		data, err := json.Marshal(res.AuxiliaryEntities)
		if err != nil {
			return fmt.Errorf("encoding entities: %w", err)
		}
		aes = sql.NullString{String: string(data), Valid: true}
	}

	var annotation sql.NullString
	if res.Annotation != nil {
		annotation = sql.NullString{String: *res.Annotation, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO results (paper_id, rna_id, annotation, aes, terminal_node, nodes, input_tokens, output_tokens)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(paper_id, rna_id) DO UPDATE SET
			annotation = excluded.annotation,
			aes = excluded.aes,
			terminal_node = excluded.terminal_node,
			nodes = excluded.nodes,
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens,
			created_at = CURRENT_TIMESTAMP
	`, res.PaperID, res.RNAID, annotation, aes, res.TerminalNode, string(nodes),
		res.Usage.InputTokens, res.Usage.OutputTokens)
	if err != nil {
		return fmt.Errorf("storing result for %s/%s: %w", res.PaperID, res.RNAID, err)
	}
	return nil
}

func (s *SQLite) Has(ctx context.Context, paperID, rnaID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM results WHERE paper_id = ? AND rna_id = ?`, paperID, rnaID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Annotation returns the stored annotation for a pair, or nil.
func (s *SQLite) Annotation(ctx context.Context, paperID, rnaID string) (*string, error) {
	var annotation sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT annotation FROM results WHERE paper_id = ? AND rna_id = ?`, paperID, rnaID).Scan(&annotation)
	if err != nil {
		return nil, err
	}
	if !annotation.Valid {
		return nil, nil
	}
	return &annotation.String, nil
}

// Path returns the database file.
func (s *SQLite) Path() string { return s.path }

func (s *SQLite) Close() error {
	return s.db.Close()
}
