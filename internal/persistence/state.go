package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/falconhq/falcon/internal/locks"
	"github.com/falconhq/falcon/internal/memory"
)

// SaveLocks replaces the stored lock table with the given snapshot.
// Callers pass Manager.Snapshot(), which already excludes expired locks.
func (s *SQLiteStore) SaveLocks(ctx context.Context, snapshot []locks.Lock) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM artifact_locks`); err != nil {
		return fmt.Errorf("failed to clear locks: %w", err)
	}

	for _, lock := range snapshot {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO artifact_locks (path, holder, acquired_at)
			VALUES (?, ?, ?)
		`, lock.Path, lock.Holder, lock.AcquiredAt)
		if err != nil {
			return fmt.Errorf("failed to insert lock on %s: %w", lock.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadLocks returns all stored locks. Locks whose TTL has since lapsed are
// returned as-is; the manager reclaims them lazily on first contact.
func (s *SQLiteStore) LoadLocks(ctx context.Context) ([]locks.Lock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, holder, acquired_at
		FROM artifact_locks
		ORDER BY path
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query locks: %w", err)
	}
	defer rows.Close()

	var result []locks.Lock
	for rows.Next() {
		var lock locks.Lock
		if err := rows.Scan(&lock.Path, &lock.Holder, &lock.AcquiredAt); err != nil {
			return nil, fmt.Errorf("failed to scan lock: %w", err)
		}
		result = append(result, lock)
	}
	return result, rows.Err()
}

// SaveMemory replaces the stored memory entries with a snapshot of every
// namespace in the store. Values are serialized as JSON.
func (s *SQLiteStore) SaveMemory(ctx context.Context, store *memory.Store) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_entries`); err != nil {
		return fmt.Errorf("failed to clear memory entries: %w", err)
	}

	for _, namespace := range store.Namespaces() {
		for _, entry := range store.Entries(namespace) {
			value, err := json.Marshal(entry.Value)
			if err != nil {
				return fmt.Errorf("failed to encode %s/%s: %w", namespace, entry.Key, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO memory_entries (namespace, key, value, category, updated_at)
				VALUES (?, ?, ?, ?, ?)
			`, namespace, entry.Key, string(value), entry.Category, entry.UpdatedAt)
			if err != nil {
				return fmt.Errorf("failed to insert %s/%s: %w", namespace, entry.Key, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadMemory restores all stored entries into the given memory store.
func (s *SQLiteStore) LoadMemory(ctx context.Context, store *memory.Store) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT namespace, key, value, category, updated_at
		FROM memory_entries
		ORDER BY namespace, key
	`)
	if err != nil {
		return fmt.Errorf("failed to query memory entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var namespace, value string
		var entry memory.Entry
		if err := rows.Scan(&namespace, &entry.Key, &value, &entry.Category, &entry.UpdatedAt); err != nil {
			return fmt.Errorf("failed to scan memory entry: %w", err)
		}
		if err := json.Unmarshal([]byte(value), &entry.Value); err != nil {
			return fmt.Errorf("failed to decode %s/%s: %w", namespace, entry.Key, err)
		}
		store.Restore(namespace, entry)
	}
	return rows.Err()
}
