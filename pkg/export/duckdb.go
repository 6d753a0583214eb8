// Package export persists inference results to DuckDB so downstream
// analysis (clustering, dashboards) can query patterns and embeddings with
// SQL instead of re-parsing JSON output.
package export

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/soundprediction/go-behaviorgraph/pkg/detect"
)

// DuckDBWriter writes detection runs to DuckDB tables.
type DuckDBWriter struct {
	db *sql.DB
}

// NewDuckDBWriter opens (or creates) the database file and ensures the
// result tables exist.
func NewDuckDBWriter(dbPath string) (*DuckDBWriter, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create export directory: %w", err)
		}
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open DuckDB: %w", err)
	}

	w := &DuckDBWriter{db: db}
	if err := w.createTables(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return w, nil
}

func (w *DuckDBWriter) createTables(ctx context.Context) error {
	_, err := w.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS patterns (
			checkpoint_id VARCHAR,
			pattern_type VARCHAR,
			music_activity_idx INTEGER,
			calendar_event_idx INTEGER,
			confidence_score DOUBLE,
			correlation DOUBLE,
			detected_at TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create patterns table: %w", err)
	}

	_, err = w.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS node_embeddings (
			checkpoint_id VARCHAR,
			node_id VARCHAR,
			embedding DOUBLE[],
			exported_at TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create node_embeddings table: %w", err)
	}
	return nil
}

// WritePatterns appends one detection run's patterns.
func (w *DuckDBWriter) WritePatterns(ctx context.Context, checkpointID string, patterns []detect.Pattern) error {
	if len(patterns) == 0 {
		return nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO patterns (
			checkpoint_id, pattern_type, music_activity_idx,
			calendar_event_idx, confidence_score, correlation, detected_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, p := range patterns {
		if _, err := stmt.ExecContext(ctx,
			checkpointID,
			p.PatternType,
			p.MusicActivityIdx,
			p.CalendarEventIdx,
			p.ConfidenceScore,
			p.Correlation,
			now,
		); err != nil {
			return fmt.Errorf("failed to insert pattern: %w", err)
		}
	}
	return tx.Commit()
}

// WriteEmbeddings appends one export run's embeddings.
func (w *DuckDBWriter) WriteEmbeddings(ctx context.Context, checkpointID string, embeddings [][]float64, nodeIDs []string) error {
	if len(embeddings) != len(nodeIDs) {
		return fmt.Errorf("embedding count %d does not match node id count %d", len(embeddings), len(nodeIDs))
	}
	if len(embeddings) == 0 {
		return nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO node_embeddings (checkpoint_id, node_id, embedding, exported_at)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i, emb := range embeddings {
		if _, err := stmt.ExecContext(ctx, checkpointID, nodeIDs[i], emb, now); err != nil {
			return fmt.Errorf("failed to insert embedding for %s: %w", nodeIDs[i], err)
		}
	}
	return tx.Commit()
}

// Close closes the database.
func (w *DuckDBWriter) Close() error {
	return w.db.Close()
}
