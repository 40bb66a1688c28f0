// Package badgerstorage keeps snapshots and the append-only journal in an embedded BadgerDB.
//
// Snapshots and the journal are each stored under a numbered generation prefix
// ("snapshot/<gen>/", "aof/<gen>/"). A small pointer key names the live
// generation. A replace streams the new generation through a write batch,
// so its size is not bounded by one transaction, then flips the pointer and
// drops every other generation.
package badgerstorage

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/Fuchsoria/banditucb/internal/storage"
	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

const (
	snapshotName = "snapshot"
	journalName  = "aof"
	metaPrefix   = "meta/"
)

type Config struct {
	// Path is ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
}

type Storage struct {
	db     *badger.DB
	logger badger.Logger

	mu     sync.Mutex
	seq    uint64
	aofGen uint64
}

type badgerLogger struct {
	sugar *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// New opens the database. A nil logger silences badger.
func New(cfg Config, logger *zap.Logger) (*Storage, error) {
	var opts badger.Options

	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("path is required for persistent database")
		}

		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("cannot create database directory %s, %w", cfg.Path, err)
		}

		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	var blog badger.Logger
	if logger != nil {
		blog = &badgerLogger{sugar: logger.Sugar()}
	}

	opts = opts.WithLogger(blog)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("cannot open db, %w", err)
	}

	s := &Storage{db: db, logger: blog}

	if err := s.initSeq(); err != nil {
		db.Close()

		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// SaveSnapshots replaces the stored snapshot with items.
func (s *Storage) SaveSnapshots(ctx context.Context, items []storage.SnapshotItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.replaceGeneration(ctx, snapshotName, func(wb *badger.WriteBatch, prefix string) error {
		for _, item := range items {
			if err := ctx.Err(); err != nil {
				return err
			}

			if err := wb.Set([]byte(prefix+item.Key), item.Payload); err != nil {
				return fmt.Errorf("cannot store key %q, %w", item.Key, err)
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("cannot save snapshot, %w", err)
	}

	return nil
}

func (s *Storage) LoadSnapshots(ctx context.Context) ([]storage.SnapshotItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var items []storage.SnapshotItem

	err := s.db.View(func(txn *badger.Txn) error {
		gen, err := generation(txn, snapshotName)
		if err != nil {
			return err
		}

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(generationPrefix(snapshotName, gen))
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()

			payload, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			items = append(items, storage.SnapshotItem{
				Key:     string(item.Key()[len(prefix):]),
				Payload: payload,
			})
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cannot read snapshot, %w", err)
	}

	return items, nil
}

func generationPrefix(name string, gen uint64) string {
	return fmt.Sprintf("%s/%016d/", name, gen)
}

func generation(txn *badger.Txn, name string) (uint64, error) {
	item, err := txn.Get([]byte(metaPrefix + name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}

	if err != nil {
		return 0, err
	}

	var gen uint64

	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupted %s generation pointer", name)
		}

		gen = binary.BigEndian.Uint64(val)

		return nil
	})

	return gen, err
}

// replaceGeneration writes the next generation of name with write and makes it
// the live one. Readers only follow the pointer, so a failure before the flip
// leaves the previous generation untouched.
func (s *Storage) replaceGeneration(ctx context.Context, name string, write func(wb *badger.WriteBatch, prefix string) error) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var current uint64

	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		current, err = generation(txn, name)

		return err
	})
	if err != nil {
		return 0, err
	}

	next := current + 1
	nextPrefix := generationPrefix(name, next)

	// leftovers of an interrupted replace
	if err := s.dropPrefix([]byte(nextPrefix), nil); err != nil {
		return 0, err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	if err := write(wb, nextPrefix); err != nil {
		return 0, err
	}

	if err := wb.Flush(); err != nil {
		return 0, err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		val := make([]byte, 8)
		binary.BigEndian.PutUint64(val, next)

		return txn.Set([]byte(metaPrefix+name), val)
	})
	if err != nil {
		return 0, err
	}

	// the new generation is live, stale ones are garbage from here on
	if err := s.dropPrefix([]byte(name+"/"), []byte(nextPrefix)); err != nil && s.logger != nil {
		s.logger.Warningf("cannot drop stale %s generations: %v", name, err)
	}

	return next, nil
}

// dropPrefix deletes every key under prefix except those under keep.
func (s *Storage) dropPrefix(prefix, keep []byte) error {
	var keys [][]byte

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			if keep != nil && bytes.HasPrefix(key, keep) {
				continue
			}

			keys = append(keys, it.Item().KeyCopy(nil))
		}

		return nil
	})
	if err != nil {
		return err
	}

	if len(keys) == 0 {
		return nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return err
		}
	}

	return wb.Flush()
}
