package command

import (
	"errors"
	"strconv"

	"github.com/Fuchsoria/banditucb/internal/bandit"
)

type ReplyKind int

const (
	ReplyInteger ReplyKind = iota + 1
	ReplyDouble
	ReplyBulk
	ReplyStatus
	ReplyArray
	ReplyError
)

type Reply struct {
	Kind   ReplyKind
	Int    int64
	Double float64
	Str    string
	Array  []Reply
	Err    *Error
}

// Error is an error reply. Msg is what clients see, Kind classifies it.
type Error struct {
	Kind bandit.Kind
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

func Integer(v int64) Reply {
	return Reply{Kind: ReplyInteger, Int: v}
}

func Double(v float64) Reply {
	return Reply{Kind: ReplyDouble, Double: v}
}

func Bulk(s string) Reply {
	return Reply{Kind: ReplyBulk, Str: s}
}

func Status(s string) Reply {
	return Reply{Kind: ReplyStatus, Str: s}
}

func Array(items ...Reply) Reply {
	if items == nil {
		items = []Reply{}
	}

	return Reply{Kind: ReplyArray, Array: items}
}

func ErrorReply(kind bandit.Kind, msg string) Reply {
	return Reply{Kind: ReplyError, Err: &Error{Kind: kind, Msg: msg}}
}

// FromError turns a core error into an "ERR ..." reply keeping its kind.
func FromError(err error) Reply {
	var be *bandit.Error
	if errors.As(err, &be) {
		return ErrorReply(be.Kind, "ERR "+be.Msg)
	}

	return ErrorReply(bandit.KindInternal, "ERR "+err.Error())
}

func (r Reply) IsError() bool {
	return r.Kind == ReplyError
}

// String renders the reply the way a terminal client would print it.
func (r Reply) String() string {
	switch r.Kind {
	case ReplyInteger:
		return strconv.FormatInt(r.Int, 10)
	case ReplyDouble:
		return FormatDouble(r.Double)
	case ReplyBulk, ReplyStatus:
		return r.Str
	case ReplyError:
		return r.Err.Msg
	case ReplyArray:
		out := "["
		for i, item := range r.Array {
			if i > 0 {
				out += " "
			}
			out += item.String()
		}

		return out + "]"
	default:
		return ""
	}
}

// FormatDouble uses the shortest representation that parses back to the same bits.
func FormatDouble(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
