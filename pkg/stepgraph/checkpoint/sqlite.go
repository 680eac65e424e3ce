package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists checkpoints to SQLite.
// It is suitable for single-process production use. Each Put runs in one
// transaction, so a step is either fully committed or absent.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore creates a new SQLite checkpoint store.
// The path should be a file path (e.g., "./checkpoints.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id TEXT NOT NULL,
			checkpoint_ns TEXT NOT NULL DEFAULT '',
			checkpoint_id TEXT NOT NULL,
			parent_checkpoint_id TEXT,
			checkpoint BLOB NOT NULL,
			metadata BLOB NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (thread_id, checkpoint_ns, checkpoint_id)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create checkpoints table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS writes (
			thread_id TEXT NOT NULL,
			checkpoint_ns TEXT NOT NULL DEFAULT '',
			checkpoint_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			channel TEXT NOT NULL,
			value BLOB,
			recorded INTEGER NOT NULL,
			PRIMARY KEY (thread_id, checkpoint_ns, checkpoint_id, task_id, seq)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create writes table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, threadID, ns string, cp Checkpoint) (Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Checkpoint{}, ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("begin put: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if existing, err := s.get(ctx, tx, threadID, ns, cp.ID); err != nil {
		return Checkpoint{}, err
	} else if cp.ID != "" && existing != nil {
		return *existing, nil
	}

	latest, err := s.get(ctx, tx, threadID, ns, "")
	if err != nil {
		return Checkpoint{}, err
	}

	prepared, err := prepare(threadID, ns, cp, latest)
	if err != nil {
		return Checkpoint{}, err
	}

	body, meta, err := encode(prepared)
	if err != nil {
		return Checkpoint{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO checkpoints (thread_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, checkpoint, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, threadID, ns, prepared.ID, prepared.ParentID, body, meta, prepared.CreatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return Checkpoint{}, fmt.Errorf("insert checkpoint: %w", err)
	}

	if prepared.ParentID != "" {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM writes WHERE thread_id = ? AND checkpoint_ns = ? AND checkpoint_id = ?
		`, threadID, ns, prepared.ParentID); err != nil {
			return Checkpoint{}, fmt.Errorf("clear pending writes: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Checkpoint{}, fmt.Errorf("commit put: %w", err)
	}
	return prepared, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, threadID, ns, checkpointID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.get(ctx, s.db, threadID, ns, checkpointID)
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLiteStore) get(ctx context.Context, q querier, threadID, ns, checkpointID string) (*Checkpoint, error) {
	var row *sql.Row
	if checkpointID == "" {
		row = q.QueryRowContext(ctx, `
			SELECT checkpoint_id, parent_checkpoint_id, checkpoint, metadata, created_at
			FROM checkpoints
			WHERE thread_id = ? AND checkpoint_ns = ?
			ORDER BY checkpoint_id DESC LIMIT 1
		`, threadID, ns)
	} else {
		row = q.QueryRowContext(ctx, `
			SELECT checkpoint_id, parent_checkpoint_id, checkpoint, metadata, created_at
			FROM checkpoints
			WHERE thread_id = ? AND checkpoint_ns = ? AND checkpoint_id = ?
		`, threadID, ns, checkpointID)
	}

	cp, err := scanCheckpoint(row.Scan, threadID, ns)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return cp, nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, threadID, ns string, opts ListOptions) ([]Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	query := `
		SELECT checkpoint_id, parent_checkpoint_id, checkpoint, metadata, created_at
		FROM checkpoints
		WHERE thread_id = ? AND checkpoint_ns = ?`
	args := []any{threadID, ns}
	if opts.Before != "" {
		query += ` AND checkpoint_id < ?`
		args = append(args, opts.Before)
	}
	query += ` ORDER BY checkpoint_id DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows.Scan, threadID, ns)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		out = append(out, *cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return out, nil
}

func scanCheckpoint(scan func(dest ...any) error, threadID, ns string) (*Checkpoint, error) {
	var (
		id, created string
		parent      sql.NullString
		body, meta  []byte
	)
	if err := scan(&id, &parent, &body, &meta, &created); err != nil {
		return nil, err
	}
	cp := &Checkpoint{
		ThreadID:  threadID,
		Namespace: ns,
		ID:        id,
		ParentID:  parent.String,
	}
	cp.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	if err := decode(cp, body, meta); err != nil {
		return nil, err
	}
	return cp, nil
}

// PutWrites implements Store.
func (s *SQLiteStore) PutWrites(ctx context.Context, threadID, ns, checkpointID, taskID string, writes []PendingWrite) error {
	if !writesComplete(threadID, checkpointID) || len(writes) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put writes: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	now := time.Now().UnixNano()
	for i, w := range writes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO writes (thread_id, checkpoint_ns, checkpoint_id, task_id, seq, channel, value, recorded)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(thread_id, checkpoint_ns, checkpoint_id, task_id, seq) DO UPDATE SET
				channel = excluded.channel,
				value = excluded.value
		`, threadID, ns, checkpointID, taskID, w.Sequence, w.Channel, []byte(w.Value), now+int64(i)); err != nil {
			return fmt.Errorf("insert pending write: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put writes: %w", err)
	}
	return nil
}

// Writes implements Store.
func (s *SQLiteStore) Writes(ctx context.Context, threadID, ns, checkpointID string) ([]PendingWrite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, seq, channel, value
		FROM writes
		WHERE thread_id = ? AND checkpoint_ns = ? AND checkpoint_id = ?
		ORDER BY recorded, task_id, seq
	`, threadID, ns, checkpointID)
	if err != nil {
		return nil, fmt.Errorf("list pending writes: %w", err)
	}
	defer rows.Close()

	var out []PendingWrite
	for rows.Next() {
		var w PendingWrite
		var value []byte
		if err := rows.Scan(&w.TaskID, &w.Sequence, &w.Channel, &value); err != nil {
			return nil, fmt.Errorf("scan pending write: %w", err)
		}
		w.Value = value
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending writes: %w", err)
	}
	return out, nil
}

// DeleteThread implements Store.
func (s *SQLiteStore) DeleteThread(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete thread: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("delete thread checkpoints: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM writes WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("delete thread writes: %w", err)
	}
	return tx.Commit()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}
