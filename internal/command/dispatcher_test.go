package command

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/Fuchsoria/banditucb/internal/app"
	"github.com/Fuchsoria/banditucb/internal/bandit"
	"github.com/Fuchsoria/banditucb/internal/logger"
	badgerstorage "github.com/Fuchsoria/banditucb/internal/storage/badger"
	"github.com/stretchr/testify/require"
)

type fakeReplicator struct {
	published [][]string
	err       error
}

func (f *fakeReplicator) Publish(_ context.Context, argv []string) error {
	f.published = append(f.published, argv)

	return f.err
}

type memoryJournal struct {
	entries [][]string
	err     error
}

func (m *memoryJournal) Append(_ context.Context, argv []string) error {
	if m.err != nil {
		return m.err
	}

	m.entries = append(m.entries, argv)

	return nil
}

func (m *memoryJournal) Replay(_ context.Context, fn func(argv []string) error) (int, error) {
	for i, argv := range m.entries {
		if err := fn(argv); err != nil {
			return i, err
		}
	}

	return len(m.entries), nil
}

func (m *memoryJournal) Rewrite(_ context.Context, entries [][]string) error {
	m.entries = entries

	return nil
}

func (m *memoryJournal) Truncate(context.Context) error {
	m.entries = nil

	return nil
}

func newStore(t *testing.T) *badgerstorage.Storage {
	t.Helper()

	s, err := badgerstorage.New(badgerstorage.Config{InMemory: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func journalEntries(t *testing.T, s *badgerstorage.Storage) [][]string {
	t.Helper()

	var entries [][]string
	_, err := s.Replay(context.Background(), func(argv []string) error {
		entries = append(entries, argv)

		return nil
	})
	require.NoError(t, err)

	return entries
}

func exec(d *Dispatcher, line string) Reply {
	return d.Exec(context.Background(), strings.Fields(line))
}

func TestDispatcher(t *testing.T) {
	t.Run("test scenario", func(t *testing.T) {
		d := New(app.New(logger.NewNop(), nil, bandit.NewSource(5)))

		require.Equal(t, "3", exec(d, "BANDITUCB.INIT home 3 2.0").String())
		require.Equal(t, "[1 5]", exec(d, "banditucb.add home 0 5.0").String())

		arm := exec(d, "BANDITUCB.PICK home")
		require.Equal(t, ReplyInteger, arm.Kind)
		require.Contains(t, []int64{1, 2}, arm.Int)

		require.Equal(t, "[1 1]", exec(d, "BANDITUCB.ADD home 1 1.0").String())
		require.Equal(t, "[1 1]", exec(d, "BANDITUCB.ADD home 2 1.0").String())
		require.Equal(t, Integer(0), exec(d, "BANDITUCB.PICK home"))
		require.Equal(t, "[1 1 1]", exec(d, "BANDITUCB.COUNTS home").String())
		require.Equal(t, "[5 1 1]", exec(d, "BANDITUCB.MEANS home").String())

		bounds := exec(d, "BANDITUCB.BOUNDS home")
		require.Len(t, bounds.Array, 3)
		require.InDelta(t, 7.096, bounds.Array[0].Double, 1e-3)
	})

	t.Run("test fresh bounds are NaN", func(t *testing.T) {
		d := New(app.New(logger.NewNop(), nil, nil))

		exec(d, "BANDITUCB.INIT k 2 1")
		require.Equal(t, "[NaN NaN]", exec(d, "BANDITUCB.BOUNDS k").String())
	})

	t.Run("test error replies", func(t *testing.T) {
		d := New(app.New(logger.NewNop(), nil, nil))

		cases := []struct {
			line string
			kind bandit.Kind
			msg  string
		}{
			{"NOPE k", bandit.KindInvalidArgument, "ERR unknown command 'NOPE'"},
			{"BANDITUCB.INIT k 3", bandit.KindInvalidArgument, "ERR wrong number of arguments for 'banditucb.init' command"},
			{"BANDITUCB.INIT k three 1", bandit.KindInvalidArgument, "ERR invalid value: narms must be a signed 64 bit integer"},
			{"BANDITUCB.INIT k 0 1", bandit.KindInvalidArgument, "ERR arm_count must be > 0"},
			{"BANDITUCB.INIT k -1 1", bandit.KindInvalidArgument, "ERR arm_count must be > 0"},
			{"BANDITUCB.INIT k 65 1", bandit.KindInvalidArgument, "ERR too many arms"},
			{"BANDITUCB.INIT k 2 abc", bandit.KindInvalidArgument, "ERR c must be a finite real number"},
			{"BANDITUCB.INIT k 2 inf", bandit.KindInvalidArgument, "ERR c must be a finite real number"},
			{"BANDITUCB.ADD k 0 1", bandit.KindPreconditionFailed, "ERR bandit needs to be initialized first"},
			{"BANDITUCB.PICK k", bandit.KindPreconditionFailed, "ERR bandit needs to be initialized first"},
			{"BANDITUCB.BOUNDS k", bandit.KindPreconditionFailed, "ERR bandit needs to be initialized first"},
			{"BANDITUCB.SET k 0 -1 1", bandit.KindInvalidArgument, "ERR invalid value: count must be an unsigned 64 bit integer"},
			{"BANDITUCB.SET k 0 18446744073709551615 1", bandit.KindInvalidArgument, "ERR invalid value: count is out of range"},
			{"REWRITEAOF", bandit.KindPreconditionFailed, "ERR append only journal is disabled"},
		}

		for _, tc := range cases {
			reply := exec(d, tc.line)
			require.True(t, reply.IsError(), tc.line)
			require.Equal(t, tc.kind, reply.Err.Kind, tc.line)
			require.Equal(t, tc.msg, reply.Err.Msg, tc.line)
		}

		require.True(t, d.Exec(context.Background(), nil).IsError())
	})

	t.Run("test invalid arm leaves state untouched", func(t *testing.T) {
		d := New(app.New(logger.NewNop(), nil, nil))

		exec(d, "BANDITUCB.INIT k 2 1")
		require.Equal(t, "ERR invalid arm", exec(d, "BANDITUCB.ADD k 2 1").String())
		require.Equal(t, "ERR invalid arm", exec(d, "BANDITUCB.SET k -1 1 1").String())
		require.Equal(t, "[0 0]", exec(d, "BANDITUCB.COUNTS k").String())
	})

	t.Run("test largest count", func(t *testing.T) {
		d := New(app.New(logger.NewNop(), nil, nil))

		exec(d, "BANDITUCB.INIT k 1 1")
		require.Equal(t, "[9223372036854775807 1]", exec(d, "BANDITUCB.SET k 0 9223372036854775807 1").String())
		require.Equal(t, "[9223372036854775807]", exec(d, "BANDITUCB.COUNTS k").String())
	})

	t.Run("test command keys", func(t *testing.T) {
		single := Command{FirstKey: 1, LastKey: 1}
		all := Command{FirstKey: 1, LastKey: -1}

		require.Equal(t, []string{"k"}, single.keys([]string{"BANDITUCB.ADD", "k", "0", "1"}))
		require.Equal(t, []string{"a", "b"}, all.keys([]string{"DEL", "a", "b"}))
		require.Nil(t, Command{}.keys([]string{"PING"}))
		require.Nil(t, all.keys([]string{"DEL"}))
	})

	t.Run("test host commands", func(t *testing.T) {
		d := New(app.New(logger.NewNop(), nil, nil))

		require.Equal(t, Status("PONG"), exec(d, "PING"))
		require.Equal(t, Bulk("hi"), exec(d, "PING hi"))

		exec(d, "BANDITUCB.INIT b 1 1")
		exec(d, "BANDITUCB.INIT a 1 1")
		require.Equal(t, "[a b]", exec(d, "KEYS").String())

		require.Len(t, exec(d, "DEBUG.DIGEST a").Str, 16)
		require.Greater(t, exec(d, "MEMORY.USAGE a").Int, int64(0))

		require.Equal(t, Integer(2), exec(d, "DEL a b c"))
		require.Equal(t, "[]", exec(d, "KEYS").String())
		require.Equal(t, Status("OK"), exec(d, "SAVE"))
	})

	t.Run("test custom command registration", func(t *testing.T) {
		d := New(app.New(logger.NewNop(), nil, nil))
		d.Register(Command{Name: "ECHO", Arity: 2, Handler: func(_ context.Context, _ *Dispatcher, args []string) Reply {
			return Bulk(args[0])
		}})

		require.Equal(t, Bulk("x"), exec(d, "echo x"))
	})
}

func TestPropagation(t *testing.T) {
	ctx := context.Background()

	t.Run("test only successful writes are journaled and published", func(t *testing.T) {
		store := newStore(t)
		repl := &fakeReplicator{}
		d := New(app.New(logger.NewNop(), store, nil), WithJournal(store), WithReplicator(repl))

		exec(d, "BANDITUCB.INIT k 2 1")
		exec(d, "BANDITUCB.ADD k 0 0.5")
		exec(d, "BANDITUCB.ADD k 9 0.5")
		exec(d, "BANDITUCB.PICK k")
		exec(d, "BANDITUCB.COUNTS k")
		exec(d, "BANDITUCB.SET k 1 3 0.25")

		want := [][]string{
			{"BANDITUCB.INIT", "k", "2", "1"},
			{"BANDITUCB.ADD", "k", "0", "0.5"},
			{"BANDITUCB.SET", "k", "1", "3", "0.25"},
		}
		require.Equal(t, want, journalEntries(t, store))
		require.Equal(t, want, repl.published)
	})

	t.Run("test publish failure does not fail the write", func(t *testing.T) {
		repl := &fakeReplicator{err: errors.New("broker down")}
		d := New(app.New(logger.NewNop(), nil, nil), WithReplicator(repl))

		require.Equal(t, Integer(2), exec(d, "BANDITUCB.INIT k 2 1"))
	})

	t.Run("test failed journal append undoes the write", func(t *testing.T) {
		journal := &memoryJournal{}
		repl := &fakeReplicator{}
		d := New(app.New(logger.NewNop(), nil, nil), WithJournal(journal), WithReplicator(repl))

		require.Equal(t, Integer(2), exec(d, "BANDITUCB.INIT k 2 1"))

		journal.err = errors.New("disk full")

		for _, line := range []string{
			"BANDITUCB.ADD k 0 5",
			"BANDITUCB.SET k 1 4 0.5",
			"BANDITUCB.INIT k 3 1",
			"BANDITUCB.INIT other 1 1",
			"DEL k",
		} {
			reply := exec(d, line)
			require.True(t, reply.IsError(), line)
			require.Equal(t, bandit.KindInternal, reply.Err.Kind, line)
			require.Contains(t, reply.Err.Msg, "disk full", line)
		}

		require.Equal(t, "[k]", exec(d, "KEYS").String())
		require.Equal(t, "[0 0]", exec(d, "BANDITUCB.COUNTS k").String())
		require.Equal(t, "[0 0]", exec(d, "BANDITUCB.MEANS k").String())
		require.Len(t, repl.published, 1)

		journal.err = nil

		require.Equal(t, "[1 5]", exec(d, "BANDITUCB.ADD k 0 5").String())
		require.Len(t, journal.entries, 2)
	})

	t.Run("test failed journal append on replica", func(t *testing.T) {
		journal := &memoryJournal{err: errors.New("disk full")}
		d := New(app.New(logger.NewNop(), nil, nil), WithJournal(journal), ReadOnly())

		require.True(t, d.Replicate(ctx, []string{"BANDITUCB.INIT", "k", "2", "1"}).IsError())
		require.Equal(t, "[]", exec(d, "KEYS").String())
	})

	t.Run("test replica", func(t *testing.T) {
		store := newStore(t)
		repl := &fakeReplicator{}
		d := New(app.New(logger.NewNop(), nil, nil), WithJournal(store), WithReplicator(repl), ReadOnly())

		reply := exec(d, "BANDITUCB.INIT k 2 1")
		require.True(t, reply.IsError())
		require.True(t, strings.HasPrefix(reply.Err.Msg, "READONLY"))

		require.Equal(t, Integer(2), d.Replicate(ctx, []string{"BANDITUCB.INIT", "k", "2", "1"}))
		require.Equal(t, "[0 0]", exec(d, "BANDITUCB.COUNTS k").String())

		require.Len(t, journalEntries(t, store), 1)
		require.Empty(t, repl.published)
	})
}

func TestPersistence(t *testing.T) {
	ctx := context.Background()

	t.Run("test restore replays journal over snapshot", func(t *testing.T) {
		store := newStore(t)
		d := New(app.New(logger.NewNop(), store, nil), WithJournal(store))

		exec(d, "BANDITUCB.INIT a 2 1")
		exec(d, "BANDITUCB.ADD a 0 1")
		require.Equal(t, Status("OK"), exec(d, "SAVE"))
		require.Empty(t, journalEntries(t, store))

		exec(d, "BANDITUCB.ADD a 0 2")
		exec(d, "BANDITUCB.INIT b 1 0.5")
		exec(d, "DEL a")
		exec(d, "BANDITUCB.INIT a 3 1")
		exec(d, "BANDITUCB.ADD a 2 -4")

		restored := New(app.New(logger.NewNop(), store, nil), WithJournal(store))
		require.NoError(t, restored.Restore(ctx))

		require.Equal(t, "[a b]", exec(restored, "KEYS").String())
		require.Equal(t, "[0 0 1]", exec(restored, "BANDITUCB.COUNTS a").String())
		require.Equal(t, exec(d, "DEBUG.DIGEST a"), exec(restored, "DEBUG.DIGEST a"))
	})

	t.Run("test rewrite reproduces exact means", func(t *testing.T) {
		store := newStore(t)
		d := New(app.New(logger.NewNop(), nil, nil), WithJournal(store))

		exec(d, "BANDITUCB.INIT k 3 1.4142135623730951")
		for _, r := range []string{"1", "0", "0", "0.1", "0.7"} {
			exec(d, "BANDITUCB.ADD k 1 "+r)
		}
		exec(d, "BANDITUCB.ADD k 2 0.3333333333333333")

		require.Equal(t, Status("OK"), exec(d, "REWRITEAOF"))

		entries := journalEntries(t, store)
		require.Len(t, entries, 4)
		require.Equal(t, []string{"BANDITUCB.INIT", "k", "3", "1.4142135623730951"}, entries[0])

		restored := New(app.New(logger.NewNop(), nil, nil), WithJournal(store))
		require.NoError(t, restored.Restore(ctx))

		require.Equal(t, exec(d, "BANDITUCB.MEANS k"), exec(restored, "BANDITUCB.MEANS k"))
		require.Equal(t, exec(d, "BANDITUCB.COUNTS k"), exec(restored, "BANDITUCB.COUNTS k"))

		// replaying the compacted journal twice changes nothing
		require.NoError(t, restored.Restore(ctx))
		require.Equal(t, exec(d, "BANDITUCB.MEANS k"), exec(restored, "BANDITUCB.MEANS k"))
	})

	t.Run("test rewrite and save a large keyspace", func(t *testing.T) {
		store := newStore(t)
		d := New(app.New(logger.NewNop(), store, nil), WithJournal(store))

		const keys = 3000

		for i := 0; i < keys; i++ {
			require.Equal(t, Integer(64), exec(d, fmt.Sprintf("BANDITUCB.INIT k%d 64 1.4", i)))
		}
		require.Equal(t, "[1 0.5]", exec(d, "BANDITUCB.ADD k7 3 0.5").String())

		require.Equal(t, Status("OK"), exec(d, "REWRITEAOF"))
		require.Len(t, journalEntries(t, store), keys*65)

		require.Equal(t, Status("OK"), exec(d, "SAVE"))
		require.Empty(t, journalEntries(t, store))

		restored := New(app.New(logger.NewNop(), store, nil), WithJournal(store))
		require.NoError(t, restored.Restore(ctx))

		require.Len(t, exec(restored, "KEYS").Array, keys)
		require.Equal(t, exec(d, "DEBUG.DIGEST k7"), exec(restored, "DEBUG.DIGEST k7"))
		require.Equal(t, exec(d, "BANDITUCB.COUNTS k7"), exec(restored, "BANDITUCB.COUNTS k7"))
	})

	t.Run("test periodic snapshots stop with context", func(t *testing.T) {
		d := New(app.New(logger.NewNop(), nil, nil))

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		d.RunSnapshots(cctx, 1)
	})
}

func TestReplayArgv(t *testing.T) {
	require.Equal(t,
		[]string{"BANDITUCB.SET", "k", "1", "7", "NaN"},
		ReplayArgv("k", bandit.Op{Kind: bandit.OpSet, Arm: 1, Count: 7, Mean: math.NaN()}))
	require.Equal(t,
		[]string{"BANDITUCB.INIT", "k", "4", "-0.5"},
		ReplayArgv("k", bandit.Op{Kind: bandit.OpInit, ArmCount: 4, C: -0.5}))
	require.Equal(t, "+Inf", FormatDouble(math.Inf(1)))
}
