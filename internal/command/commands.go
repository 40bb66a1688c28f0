package command

import (
	"context"
	"math"
	"strconv"

	"github.com/Fuchsoria/banditucb/internal/bandit"
)

const (
	CmdInit       = "BANDITUCB.INIT"
	CmdAdd        = "BANDITUCB.ADD"
	CmdSet        = "BANDITUCB.SET"
	CmdPick       = "BANDITUCB.PICK"
	CmdCounts     = "BANDITUCB.COUNTS"
	CmdMeans      = "BANDITUCB.MEANS"
	CmdBounds     = "BANDITUCB.BOUNDS"
	CmdDel        = "DEL"
	CmdKeys       = "KEYS"
	CmdDigest     = "DEBUG.DIGEST"
	CmdMemory     = "MEMORY.USAGE"
	CmdSave       = "SAVE"
	CmdRewriteAOF = "REWRITEAOF"
	CmdPing       = "PING"
)

func builtins() []Command {
	return []Command{
		{Name: CmdInit, Arity: 4, Write: true, FirstKey: 1, LastKey: 1, Handler: initCommand},
		{Name: CmdAdd, Arity: 4, Write: true, FirstKey: 1, LastKey: 1, Handler: addCommand},
		{Name: CmdSet, Arity: 5, Write: true, FirstKey: 1, LastKey: 1, Handler: setCommand},
		{Name: CmdPick, Arity: 2, Handler: pickCommand},
		{Name: CmdCounts, Arity: 2, Handler: countsCommand},
		{Name: CmdMeans, Arity: 2, Handler: meansCommand},
		{Name: CmdBounds, Arity: 2, Handler: boundsCommand},
		{Name: CmdDel, Arity: -2, Write: true, FirstKey: 1, LastKey: -1, Handler: delCommand},
		{Name: CmdKeys, Arity: 1, Handler: keysCommand},
		{Name: CmdDigest, Arity: 2, Handler: digestCommand},
		{Name: CmdMemory, Arity: 2, Handler: memoryCommand},
		{Name: CmdSave, Arity: 1, Handler: saveCommand},
		{Name: CmdRewriteAOF, Arity: 1, Handler: rewriteCommand},
		{Name: CmdPing, Arity: -1, Handler: pingCommand},
	}
}

func invalid(msg string) Reply {
	return ErrorReply(bandit.KindInvalidArgument, "ERR invalid value: "+msg)
}

func parseInt(s string) (int, bool) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < math.MinInt || v > math.MaxInt {
		return 0, false
	}

	return int(v), true
}

func parseDouble(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)

	return v, err == nil
}

// BANDITUCB.INIT key narms c
func initCommand(_ context.Context, d *Dispatcher, args []string) Reply {
	narms, ok := parseInt(args[1])
	if !ok {
		return invalid("narms must be a signed 64 bit integer")
	}

	c, ok := parseDouble(args[2])
	if !ok {
		return FromError(&bandit.Error{Kind: bandit.KindInvalidArgument, Msg: "c must be a finite real number"})
	}

	n, err := d.app.Init(args[0], narms, c)
	if err != nil {
		return FromError(err)
	}

	return Integer(int64(n))
}

// BANDITUCB.ADD key arm reward
func addCommand(_ context.Context, d *Dispatcher, args []string) Reply {
	arm, ok := parseInt(args[1])
	if !ok {
		return invalid("arm must be a signed 64 bit integer")
	}

	reward, ok := parseDouble(args[2])
	if !ok {
		return invalid("reward must be a double")
	}

	count, mean, err := d.app.Add(args[0], arm, reward)
	if err != nil {
		return FromError(err)
	}

	return Array(Integer(int64(count)), Double(mean))
}

// BANDITUCB.SET key arm count mean
func setCommand(_ context.Context, d *Dispatcher, args []string) Reply {
	arm, ok := parseInt(args[1])
	if !ok {
		return invalid("arm must be a signed 64 bit integer")
	}

	count, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		return invalid("count must be an unsigned 64 bit integer")
	}

	// counts are replied as signed integers
	if count > math.MaxInt64 {
		return invalid("count is out of range")
	}

	mean, ok := parseDouble(args[3])
	if !ok {
		return invalid("mean must be a double")
	}

	count, mean, err = d.app.Set(args[0], arm, count, mean)
	if err != nil {
		return FromError(err)
	}

	return Array(Integer(int64(count)), Double(mean))
}

func pickCommand(_ context.Context, d *Dispatcher, args []string) Reply {
	arm, err := d.app.Pick(args[0])
	if err != nil {
		return FromError(err)
	}

	return Integer(int64(arm))
}

func countsCommand(_ context.Context, d *Dispatcher, args []string) Reply {
	counts, err := d.app.Counts(args[0])
	if err != nil {
		return FromError(err)
	}

	items := make([]Reply, len(counts))
	for i, c := range counts {
		items[i] = Integer(int64(c))
	}

	return Array(items...)
}

func meansCommand(_ context.Context, d *Dispatcher, args []string) Reply {
	means, err := d.app.Means(args[0])
	if err != nil {
		return FromError(err)
	}

	return doubles(means)
}

func boundsCommand(_ context.Context, d *Dispatcher, args []string) Reply {
	bounds, err := d.app.Bounds(args[0])
	if err != nil {
		return FromError(err)
	}

	return doubles(bounds)
}

func doubles(values []float64) Reply {
	items := make([]Reply, len(values))
	for i, v := range values {
		items[i] = Double(v)
	}

	return Array(items...)
}

// DEL key [key ...]
func delCommand(_ context.Context, d *Dispatcher, args []string) Reply {
	var removed int64

	for _, key := range args {
		if d.app.Delete(key) {
			removed++
		}
	}

	return Integer(removed)
}

func keysCommand(_ context.Context, d *Dispatcher, _ []string) Reply {
	keys := d.app.Keys()

	items := make([]Reply, len(keys))
	for i, key := range keys {
		items[i] = Bulk(key)
	}

	return Array(items...)
}

func digestCommand(_ context.Context, d *Dispatcher, args []string) Reply {
	sum, err := d.app.Digest(args[0])
	if err != nil {
		return FromError(err)
	}

	return Bulk(sum)
}

func memoryCommand(_ context.Context, d *Dispatcher, args []string) Reply {
	size, err := d.app.MemoryUsage(args[0])
	if err != nil {
		return FromError(err)
	}

	return Integer(int64(size))
}

func saveCommand(ctx context.Context, d *Dispatcher, _ []string) Reply {
	if _, err := d.save(ctx); err != nil {
		return FromError(err)
	}

	return Status("OK")
}

func rewriteCommand(ctx context.Context, d *Dispatcher, _ []string) Reply {
	if _, err := d.rewriteJournal(ctx); err != nil {
		return FromError(err)
	}

	return Status("OK")
}

func pingCommand(_ context.Context, _ *Dispatcher, args []string) Reply {
	if len(args) > 0 {
		return Bulk(args[0])
	}

	return Status("PONG")
}
