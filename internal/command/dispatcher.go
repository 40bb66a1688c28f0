// Package command is the keyspace command dispatcher. Commands arrive as argv
// slices, are checked against a command table registered once at startup, and
// successful writes are propagated to the journal and the replication stream.
package command

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Fuchsoria/banditucb/internal/app"
	"github.com/Fuchsoria/banditucb/internal/bandit"
	"github.com/Fuchsoria/banditucb/internal/metrics"
)

type Journal interface {
	Append(ctx context.Context, argv []string) error
	Replay(ctx context.Context, fn func(argv []string) error) (int, error)
	Rewrite(ctx context.Context, entries [][]string) error
	Truncate(ctx context.Context) error
}

type Replicator interface {
	Publish(ctx context.Context, argv []string) error
}

type Handler func(ctx context.Context, d *Dispatcher, args []string) Reply

// Command describes one entry of the command table. Arity counts the command
// name; a negative arity means at least -Arity arguments.
//
// FirstKey and LastKey are the argv positions of the keys a write touches,
// LastKey counts from the end when negative. Writes without keys cannot be
// rolled back when the journal append fails.
type Command struct {
	Name     string
	Arity    int
	Write    bool
	FirstKey int
	LastKey  int
	Handler  Handler
}

func (c Command) keys(argv []string) []string {
	if c.FirstKey <= 0 {
		return nil
	}

	last := c.LastKey
	if last < 0 {
		last += len(argv)
	}

	if last >= len(argv) {
		last = len(argv) - 1
	}

	if c.FirstKey > last {
		return nil
	}

	return argv[c.FirstKey : last+1]
}

type Dispatcher struct {
	app        *app.App
	logger     app.Logger
	journal    Journal
	replicator Replicator
	readOnly   bool

	// serializes execution so propagation order matches apply order
	mu       sync.Mutex
	commands map[string]Command
}

type Option func(d *Dispatcher)

func WithJournal(j Journal) Option {
	return func(d *Dispatcher) {
		d.journal = j
	}
}

func WithReplicator(r Replicator) Option {
	return func(d *Dispatcher) {
		d.replicator = r
	}
}

// ReadOnly rejects client writes. Replicated writes still apply.
func ReadOnly() Option {
	return func(d *Dispatcher) {
		d.readOnly = true
	}
}

func New(a *app.App, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		app:      a,
		logger:   a.GetLogger(),
		commands: make(map[string]Command),
	}

	for _, opt := range opts {
		opt(d)
	}

	for _, cmd := range builtins() {
		d.Register(cmd)
	}

	return d
}

// Register adds cmd to the command table, replacing any command with the same name.
func (d *Dispatcher) Register(cmd Command) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.commands[strings.ToLower(cmd.Name)] = cmd
}

type origin int

const (
	fromClient origin = iota
	fromReplication
	fromJournal
)

// Exec runs a client command and propagates it when it is a successful write.
func (d *Dispatcher) Exec(ctx context.Context, argv []string) Reply {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.exec(ctx, argv, fromClient)
}

// Replicate applies a write received from the master. It is journaled locally
// but never published again.
func (d *Dispatcher) Replicate(ctx context.Context, argv []string) Reply {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.exec(ctx, argv, fromReplication)
}

func (d *Dispatcher) exec(ctx context.Context, argv []string, from origin) Reply {
	if len(argv) == 0 {
		return ErrorReply(bandit.KindInvalidArgument, "ERR empty command")
	}

	name := strings.ToLower(argv[0])

	cmd, ok := d.commands[name]
	if !ok {
		return ErrorReply(bandit.KindInvalidArgument, fmt.Sprintf("ERR unknown command '%s'", argv[0]))
	}

	if (cmd.Arity > 0 && len(argv) != cmd.Arity) || (cmd.Arity < 0 && len(argv) < -cmd.Arity) {
		return ErrorReply(bandit.KindInvalidArgument,
			fmt.Sprintf("ERR wrong number of arguments for '%s' command", name))
	}

	if from == fromClient && cmd.Write && d.readOnly {
		return ErrorReply(bandit.KindPreconditionFailed, "READONLY You can't write against a read only replica.")
	}

	start := time.Now()
	defer func() {
		metrics.CommandLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	// a write that cannot be journaled is undone
	var backup map[string]*bandit.State
	if cmd.Write && d.journal != nil && from != fromJournal {
		backup = d.app.Backup(cmd.keys(argv))
	}

	reply := cmd.Handler(ctx, d, argv[1:])

	if reply.IsError() {
		metrics.CommandsTotal.WithLabelValues(name, "error").Inc()
		d.logger.Debug("command failed", "command", name, "error", reply.Err.Msg)

		return reply
	}

	if cmd.Write && from != fromJournal {
		if err := d.propagate(ctx, argv, from == fromClient); err != nil {
			d.app.Revert(backup)
			metrics.CommandsTotal.WithLabelValues(name, "error").Inc()
			d.logger.Error("cannot propagate command", "command", name, "error", err)

			return ErrorReply(bandit.KindInternal, "ERR "+err.Error())
		}
	}

	metrics.CommandsTotal.WithLabelValues(name, "ok").Inc()

	if cmd.Write {
		metrics.Keys.Set(float64(d.app.Len()))
	}

	return reply
}

func (d *Dispatcher) propagate(ctx context.Context, argv []string, publish bool) error {
	if d.journal != nil {
		if err := d.journal.Append(ctx, argv); err != nil {
			return fmt.Errorf("journal append failed, %w", err)
		}
	}

	if publish && d.replicator != nil {
		if err := d.replicator.Publish(ctx, argv); err != nil {
			// replication is best effort
			d.logger.Warn("cannot publish command to replicas", "error", err)
		}
	}

	return nil
}
