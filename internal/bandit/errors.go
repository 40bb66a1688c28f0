package bandit

import "fmt"

type Kind int

const (
	KindInvalidArgument Kind = iota + 1
	KindPreconditionFailed
	KindDecode
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "INVALID_ARGUMENT"
	case KindPreconditionFailed:
		return "PRECONDITION_FAILED"
	case KindDecode:
		return "DECODE_FAILURE"
	case KindInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// Error is returned by every bandit operation. Match it by kind with errors.Is
// against the Err* sentinels.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

var (
	ErrInvalidArgument    = &Error{Kind: KindInvalidArgument}
	ErrPreconditionFailed = &Error{Kind: KindPreconditionFailed}
	ErrDecode             = &Error{Kind: KindDecode}
	ErrInternal           = &Error{Kind: KindInternal}

	ErrNotInitialized = &Error{Kind: KindPreconditionFailed, Msg: "bandit needs to be initialized first"}
	ErrInvalidArm     = &Error{Kind: KindInvalidArgument, Msg: "invalid arm"}
	ErrNoChoices      = &Error{Kind: KindInternal, Msg: "no choices"}
)

func invalidArgument(msg string) error {
	return &Error{Kind: KindInvalidArgument, Msg: msg}
}

func decodeFailure(format string, args ...interface{}) error {
	return &Error{Kind: KindDecode, Msg: fmt.Sprintf(format, args...)}
}
