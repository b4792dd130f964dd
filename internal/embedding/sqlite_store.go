// sqlite_store.go - Persistent vector cache on SQLite

package embedding

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const vectorSchema = `CREATE TABLE IF NOT EXISTS vectors (
    key TEXT PRIMARY KEY,
    model TEXT NOT NULL,
    dim INTEGER NOT NULL,
    vector BLOB NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_vectors_model ON vectors(model);
`

// SQLiteVectorStore keeps embeddings in a single SQLite table.
type SQLiteVectorStore struct {
	conn *sql.DB
}

// OpenSQLiteVectorStore opens (creating if needed) the cache at path.
// ":memory:" gives a process-local store.
func OpenSQLiteVectorStore(path string) (*SQLiteVectorStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single writer avoids SQLITE_BUSY across goroutines
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(vectorSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteVectorStore{conn: conn}, nil
}

// Get loads the vector stored under key.
func (s *SQLiteVectorStore) Get(ctx context.Context, key string) ([]float32, bool, error) {
	var dim int
	var blob []byte
	err := s.conn.QueryRowContext(ctx, `SELECT dim, vector FROM vectors WHERE key = ?`, key).Scan(&dim, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get vector: %w", err)
	}
	if len(blob) != dim*4 {
		return nil, false, fmt.Errorf("vector length mismatch for %s: %d bytes, dim %d", key, len(blob), dim)
	}
	return deserializeVector(blob), true, nil
}

// Put stores vec under key, replacing any previous value.
func (s *SQLiteVectorStore) Put(ctx context.Context, key, modelID string, vec []float32) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO vectors (key, model, dim, vector) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET model = excluded.model, dim = excluded.dim, vector = excluded.vector
	`, key, modelID, len(vec), serializeVector(vec))
	if err != nil {
		return fmt.Errorf("failed to put vector: %w", err)
	}
	return nil
}

// Count returns the number of stored vectors for modelID.
func (s *SQLiteVectorStore) Count(ctx context.Context, modelID string) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectors WHERE model = ?`, modelID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count vectors: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (s *SQLiteVectorStore) Close() error {
	return s.conn.Close()
}

// serializeVector converts a float32 slice to little-endian bytes
func serializeVector(vector []float32) []byte {
	buf := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// deserializeVector converts bytes back to a float32 slice
func deserializeVector(data []byte) []float32 {
	vector := make([]float32, len(data)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vector
}
