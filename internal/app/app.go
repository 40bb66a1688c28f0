package app

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Fuchsoria/banditucb/internal/bandit"
	"github.com/Fuchsoria/banditucb/internal/digest"
	"github.com/Fuchsoria/banditucb/internal/storage"
	"go.uber.org/zap"
)

type App struct {
	logger  Logger
	storage Storage
	source  bandit.Source

	mu      sync.Mutex
	bandits map[string]*bandit.State
}

type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	GetInstance() *zap.Logger
}

type Storage interface {
	SaveSnapshots(ctx context.Context, items []storage.SnapshotItem) error
	LoadSnapshots(ctx context.Context) ([]storage.SnapshotItem, error)
}

// KeyOps is the replay log of one key.
type KeyOps struct {
	Key string
	Ops []bandit.Op
}

// New creates an empty keyspace. A nil storage keeps everything in memory,
// a nil source uses the process-wide random source.
func New(logger Logger, storage Storage, source bandit.Source) *App {
	return &App{
		logger:  logger,
		storage: storage,
		source:  source,
		bandits: make(map[string]*bandit.State),
	}
}

func (a *App) GetLogger() Logger {
	return a.logger
}

func (a *App) GetStorage() Storage {
	return a.storage
}

// Init creates or fully resets the bandit stored under key.
func (a *App) Init(key string, armCount int, c float64) (int, error) {
	s, err := bandit.New(armCount, c)
	if err != nil {
		return 0, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.bandits[key] = s

	return s.ArmCount(), nil
}

func (a *App) Add(key string, arm int, reward float64) (uint64, float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, err := a.get(key)
	if err != nil {
		return 0, 0, err
	}

	return s.RecordReward(arm, reward)
}

func (a *App) Set(key string, arm int, count uint64, mean float64) (uint64, float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, err := a.get(key)
	if err != nil {
		return 0, 0, err
	}

	return s.ForceSet(arm, count, mean)
}

func (a *App) Pick(key string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, err := a.get(key)
	if err != nil {
		return 0, err
	}

	if a.source == nil {
		return s.Pick()
	}

	return s.PickWith(a.source)
}

func (a *App) Counts(key string) ([]uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, err := a.get(key)
	if err != nil {
		return nil, err
	}

	return s.Counts(), nil
}

func (a *App) Means(key string) ([]float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, err := a.get(key)
	if err != nil {
		return nil, err
	}

	return s.Means(), nil
}

func (a *App) Bounds(key string) ([]float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, err := a.get(key)
	if err != nil {
		return nil, err
	}

	return s.Bounds(), nil
}

// Delete removes key and reports whether it existed.
func (a *App) Delete(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, ok := a.bandits[key]
	delete(a.bandits, key)

	return ok
}

func (a *App) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.bandits)
}

func (a *App) Keys() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.sortedKeys()
}

// Digest returns the hex fingerprint of the bandit under key.
func (a *App) Digest(key string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, err := a.get(key)
	if err != nil {
		return "", err
	}

	d := digest.New()
	d.AddString(key)
	s.Digest(d)

	return d.Hex(), nil
}

func (a *App) MemoryUsage(key string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, err := a.get(key)
	if err != nil {
		return 0, err
	}

	return len(key) + s.MemUsage(), nil
}

// Backup copies the bandits stored under keys. Absent keys map to nil.
func (a *App) Backup(keys []string) map[string]*bandit.State {
	a.mu.Lock()
	defer a.mu.Unlock()

	backup := make(map[string]*bandit.State, len(keys))

	for _, key := range keys {
		if s, ok := a.bandits[key]; ok {
			backup[key] = s.Clone()
		} else {
			backup[key] = nil
		}
	}

	return backup
}

// Revert puts back the bandits copied by Backup and removes keys that were absent.
func (a *App) Revert(backup map[string]*bandit.State) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for key, s := range backup {
		if s == nil {
			delete(a.bandits, key)
		} else {
			a.bandits[key] = s
		}
	}
}

// ReplayLog returns the replay operations of every key in key order.
func (a *App) ReplayLog() []KeyOps {
	a.mu.Lock()
	defer a.mu.Unlock()

	keys := a.sortedKeys()
	log := make([]KeyOps, 0, len(keys))

	for _, key := range keys {
		log = append(log, KeyOps{Key: key, Ops: a.bandits[key].Replay()})
	}

	return log
}

// Save writes a snapshot of the whole keyspace to storage and returns the number of keys saved.
func (a *App) Save(ctx context.Context) (int, error) {
	if a.storage == nil {
		a.logger.Warn("snapshot skipped, no storage configured")

		return 0, nil
	}

	items, err := a.snapshot()
	if err != nil {
		return 0, err
	}

	if err := a.storage.SaveSnapshots(ctx, items); err != nil {
		return 0, fmt.Errorf("cannot save snapshot, %w", err)
	}

	a.logger.Info("snapshot saved", "keys", len(items))

	return len(items), nil
}

// Restore replaces the keyspace with the stored snapshot.
func (a *App) Restore(ctx context.Context) (int, error) {
	if a.storage == nil {
		return 0, nil
	}

	items, err := a.storage.LoadSnapshots(ctx)
	if err != nil {
		return 0, fmt.Errorf("cannot load snapshot, %w", err)
	}

	bandits := make(map[string]*bandit.State, len(items))

	for _, item := range items {
		s, err := bandit.Unmarshal(item.Payload)
		if err != nil {
			return 0, fmt.Errorf("cannot decode snapshot of key %q, %w", item.Key, err)
		}

		bandits[item.Key] = s
	}

	a.mu.Lock()
	a.bandits = bandits
	a.mu.Unlock()

	a.logger.Info("snapshot restored", "keys", len(bandits))

	return len(bandits), nil
}

func (a *App) snapshot() ([]storage.SnapshotItem, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	items := make([]storage.SnapshotItem, 0, len(a.bandits))

	for _, key := range a.sortedKeys() {
		payload, err := a.bandits[key].MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("cannot encode key %q, %w", key, err)
		}

		items = append(items, storage.SnapshotItem{Key: key, Payload: payload})
	}

	return items, nil
}

func (a *App) get(key string) (*bandit.State, error) {
	s, ok := a.bandits[key]
	if !ok {
		return nil, bandit.ErrNotInitialized
	}

	return s, nil
}

func (a *App) sortedKeys() []string {
	keys := make([]string, 0, len(a.bandits))
	for key := range a.bandits {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}
