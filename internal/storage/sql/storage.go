package sqlstorage

import (
	"context"
	"fmt"

	"github.com/Fuchsoria/banditucb/internal/storage"
	"github.com/jmoiron/sqlx"
)

const schema = `CREATE TABLE IF NOT EXISTS bandit_snapshots (
	key     TEXT PRIMARY KEY,
	payload BYTEA NOT NULL
)`

type Storage struct {
	db *sqlx.DB
}

func New(ctx context.Context, connectionString string) (*Storage, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("cannot open db, %w", err)
	}

	return &Storage{db}, nil
}

func (s *Storage) Connect(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot connect to db, %w", err)
	}

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("cannot create snapshots table, %w", err)
	}

	return nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// SaveSnapshots replaces every stored row inside one transaction.
func (s *Storage) SaveSnapshots(ctx context.Context, items []storage.SnapshotItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cannot begin transaction, %w", err)
	}

	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM bandit_snapshots"); err != nil {
		return fmt.Errorf("cannot clear snapshots, %w", err)
	}

	for _, item := range items {
		_, err := tx.NamedExecContext(ctx,
			"INSERT INTO bandit_snapshots (key, payload) VALUES (:key, :payload)", item)
		if err != nil {
			return fmt.Errorf("cannot insert snapshot of key %q, %w", item.Key, err)
		}
	}

	return tx.Commit()
}

func (s *Storage) LoadSnapshots(ctx context.Context) ([]storage.SnapshotItem, error) {
	var items []storage.SnapshotItem

	err := s.db.SelectContext(ctx, &items, "SELECT key, payload FROM bandit_snapshots ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("cannot select snapshots, %w", err)
	}

	return items, nil
}
