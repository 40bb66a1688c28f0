package command

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Fuchsoria/banditucb/internal/bandit"
	"github.com/Fuchsoria/banditucb/internal/metrics"
)

var errJournalDisabled = &bandit.Error{Kind: bandit.KindPreconditionFailed, Msg: "append only journal is disabled"}

// ReplayArgv renders a replay operation of key as the command that performs it.
func ReplayArgv(key string, op bandit.Op) []string {
	switch op.Kind {
	case bandit.OpInit:
		return []string{CmdInit, key, strconv.Itoa(op.ArmCount), FormatDouble(op.C)}
	case bandit.OpSet:
		return []string{CmdSet, key, strconv.Itoa(op.Arm), strconv.FormatUint(op.Count, 10), FormatDouble(op.Mean)}
	default:
		return nil
	}
}

// Restore loads the last snapshot and replays the journal on top of it through
// the regular command path.
func (d *Dispatcher) Restore(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	keys, err := d.app.Restore(ctx)
	if err != nil {
		return err
	}

	if d.journal == nil {
		metrics.Keys.Set(float64(keys))

		return nil
	}

	applied, err := d.journal.Replay(ctx, func(argv []string) error {
		reply := d.exec(ctx, argv, fromJournal)
		if reply.IsError() {
			return fmt.Errorf("cannot replay %v, %w", argv, reply.Err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("journal replay failed after %d entries, %w", applied, err)
	}

	metrics.Keys.Set(float64(d.app.Len()))
	d.logger.Info("keyspace restored", "snapshot_keys", keys, "journal_entries", applied)

	return nil
}

// Save snapshots the keyspace and, once the snapshot is stored, empties the journal.
func (d *Dispatcher) Save(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.save(ctx)
}

func (d *Dispatcher) save(ctx context.Context) (int, error) {
	n, err := d.app.Save(ctx)
	metrics.PersistenceTotal.WithLabelValues("snapshot", metrics.Status(err)).Inc()

	if err != nil {
		return 0, err
	}

	if d.journal != nil && d.app.GetStorage() != nil {
		if err := d.journal.Truncate(ctx); err != nil {
			return n, fmt.Errorf("cannot truncate journal, %w", err)
		}
	}

	return n, nil
}

// RewriteJournal replaces the journal with the replay log of the current keyspace.
func (d *Dispatcher) RewriteJournal(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.rewriteJournal(ctx)
}

func (d *Dispatcher) rewriteJournal(ctx context.Context) (int, error) {
	if d.journal == nil {
		return 0, errJournalDisabled
	}

	var entries [][]string

	for _, keyOps := range d.app.ReplayLog() {
		for _, op := range keyOps.Ops {
			entries = append(entries, ReplayArgv(keyOps.Key, op))
		}
	}

	err := d.journal.Rewrite(ctx, entries)
	metrics.PersistenceTotal.WithLabelValues("rewrite", metrics.Status(err)).Inc()

	if err != nil {
		return 0, err
	}

	d.logger.Info("journal rewritten", "entries", len(entries))

	return len(entries), nil
}

// RunSnapshots saves the keyspace every interval until ctx is done.
func (d *Dispatcher) RunSnapshots(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.Save(ctx); err != nil {
				d.logger.Error("periodic snapshot failed", "error", err)
			}
		}
	}
}
