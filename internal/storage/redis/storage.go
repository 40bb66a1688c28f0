package redisstorage

import (
	"context"
	"fmt"
	"time"

	"github.com/Fuchsoria/banditucb/internal/storage"
	"github.com/redis/go-redis/v9"
)

const defaultHashKey = "banditucb:snapshots"

type Storage struct {
	client  *redis.Client
	hashKey string
}

// New stores every snapshot as a field of a single hash.
func New(addr, password string, db int) *Storage {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	return &Storage{client: client, hashKey: defaultHashKey}
}

func (s *Storage) Connect(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return nil
}

func (s *Storage) Close() error {
	return s.client.Close()
}

func (s *Storage) SaveSnapshots(ctx context.Context, items []storage.SnapshotItem) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.hashKey)

		for _, item := range items {
			pipe.HSet(ctx, s.hashKey, item.Key, item.Payload)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store snapshot in Redis: %w", err)
	}

	return nil
}

func (s *Storage) LoadSnapshots(ctx context.Context) ([]storage.SnapshotItem, error) {
	fields, err := s.client.HGetAll(ctx, s.hashKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot from Redis: %w", err)
	}

	items := make([]storage.SnapshotItem, 0, len(fields))
	for key, payload := range fields {
		items = append(items, storage.SnapshotItem{Key: key, Payload: []byte(payload)})
	}

	return items, nil
}
