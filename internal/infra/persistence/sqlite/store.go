// Package sqlite provides a SQLite-backed persistent store. Transactions run
// against the in-memory implementation; committed state is snapshotted to a
// single SQLite table as JSON blobs after every successful write.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"provenancecore/internal/infra/persistence/memory"
	"provenancecore/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

// Snapshot buckets. Units hold current-state records, history the append-only log.
const (
	bucketUnits   = "units"
	bucketHistory = "history"
)

// persistAttempts bounds how often a failed snapshot write is retried before
// the error escalates to storage_unavailable.
const persistAttempts = 3

// persistBackoff is the initial retry delay; it doubles per attempt.
const persistBackoff = 50 * time.Millisecond

// Store persists ledger state to a SQLite file while reusing the in-memory
// store for transactional semantics.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens (or creates) the SQLite file at path and hydrates the
// in-memory state from any existing snapshot.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = "provenancecore.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	s := &Store{Store: memory.NewStore(engine), db: db, path: path}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot memory.Snapshot
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan state: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		switch bucket {
		case bucketUnits:
			if err := json.Unmarshal(payload, &snapshot.Units); err != nil {
				return fmt.Errorf("decode units: %w", err)
			}
		case bucketHistory:
			if err := json.Unmarshal(payload, &snapshot.History); err != nil {
				return fmt.Errorf("decode history: %w", err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	s.ImportState(snapshot)
	return nil
}

func (s *Store) persistOnce() (retErr error) {
	snapshot := s.ExportState()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for bucket, value := range map[string]any{
		bucketUnits:   snapshot.Units,
		bucketHistory: snapshot.History,
	} {
		data, err := json.Marshal(value)
		if err != nil {
			retErr = err
			return retErr
		}
		if _, err := tx.Exec(`INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
			retErr = fmt.Errorf("upsert %s: %w", bucket, err)
			return retErr
		}
	}
	return tx.Commit()
}

// persist snapshots committed state with a bounded retry. A write that still
// fails after the retry budget surfaces as storage_unavailable.
func (s *Store) persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var lastErr error
	backoff := persistBackoff
	for attempt := 0; attempt < persistAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if lastErr = s.persistOnce(); lastErr == nil {
			return nil
		}
	}
	return domain.NewError(domain.KindStorageUnavailable, "", "",
		fmt.Sprintf("sqlite snapshot failed after %d attempts: %v", persistAttempts, lastErr))
}

// RunInTransaction applies fn within a transaction, then snapshots state to
// SQLite when the transaction committed. A transaction whose snapshot cannot
// be persisted is rolled back in memory as well, so a failed write is never
// observable through reads.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (domain.Result, error) {
	before := s.ExportState()
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if pErr := s.persist(ctx); pErr != nil {
		s.ImportState(before)
		return res, pErr
	}
	return res, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
