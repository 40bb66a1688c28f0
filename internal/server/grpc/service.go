package gw

import (
	"context"

	"github.com/Fuchsoria/banditucb/internal/bandit"
	"github.com/Fuchsoria/banditucb/internal/command"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName  = "banditucb.v1.Commands"
	execMethod   = "/" + serviceName + "/Exec"
	errorDomain  = "banditucb"
	metadataFile = "banditucb/v1/commands.proto"
)

// CommandsServer takes an argv list and returns the command reply.
type CommandsServer interface {
	Exec(ctx context.Context, in *structpb.ListValue) (*structpb.Value, error)
}

var commandsServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*CommandsServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Exec",
			Handler:    execHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: metadataFile,
}

func RegisterCommandsServer(s grpc.ServiceRegistrar, srv CommandsServer) {
	s.RegisterService(&commandsServiceDesc, srv)
}

func execHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.ListValue)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(CommandsServer).Exec(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: execMethod,
	}

	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CommandsServer).Exec(ctx, req.(*structpb.ListValue))
	}

	return interceptor(ctx, in, info, handler)
}

type CommandsClient struct {
	cc grpc.ClientConnInterface
}

func NewCommandsClient(cc grpc.ClientConnInterface) *CommandsClient {
	return &CommandsClient{cc: cc}
}

func (c *CommandsClient) Exec(ctx context.Context, in *structpb.ListValue, opts ...grpc.CallOption) (*structpb.Value, error) {
	out := new(structpb.Value)
	if err := c.cc.Invoke(ctx, execMethod, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

type Executor interface {
	Exec(ctx context.Context, argv []string) command.Reply
}

type service struct {
	executor Executor
}

func (s *service) Exec(ctx context.Context, in *structpb.ListValue) (*structpb.Value, error) {
	argv, err := toArgv(in)
	if err != nil {
		return nil, err
	}

	reply := s.executor.Exec(ctx, argv)
	if reply.IsError() {
		return nil, statusError(reply.Err)
	}

	return toValue(reply), nil
}

// toArgv accepts strings and numbers, numbers are formatted like command doubles.
func toArgv(in *structpb.ListValue) ([]string, error) {
	values := in.GetValues()
	if len(values) == 0 {
		return nil, status.Error(codes.InvalidArgument, "ERR empty command")
	}

	argv := make([]string, len(values))

	for i, v := range values {
		switch kind := v.GetKind().(type) {
		case *structpb.Value_StringValue:
			argv[i] = kind.StringValue
		case *structpb.Value_NumberValue:
			argv[i] = command.FormatDouble(kind.NumberValue)
		default:
			return nil, status.Errorf(codes.InvalidArgument, "ERR argument %d must be a string or a number", i)
		}
	}

	return argv, nil
}

func toValue(reply command.Reply) *structpb.Value {
	switch reply.Kind {
	case command.ReplyInteger:
		return structpb.NewNumberValue(float64(reply.Int))
	case command.ReplyDouble:
		// NaN and infinities have no JSON number form
		return structpb.NewStringValue(command.FormatDouble(reply.Double))
	case command.ReplyArray:
		items := make([]*structpb.Value, len(reply.Array))
		for i, item := range reply.Array {
			items[i] = toValue(item)
		}

		return structpb.NewListValue(&structpb.ListValue{Values: items})
	case command.ReplyBulk, command.ReplyStatus:
		return structpb.NewStringValue(reply.Str)
	default:
		return structpb.NewNullValue()
	}
}

func codeOf(kind bandit.Kind) codes.Code {
	switch kind {
	case bandit.KindInvalidArgument:
		return codes.InvalidArgument
	case bandit.KindPreconditionFailed:
		return codes.FailedPrecondition
	case bandit.KindDecode:
		return codes.DataLoss
	default:
		return codes.Internal
	}
}

func statusError(e *command.Error) error {
	st := status.New(codeOf(e.Kind), e.Msg)

	detailed, err := st.WithDetails(&errdetails.ErrorInfo{
		Reason: e.Kind.String(),
		Domain: errorDomain,
	})
	if err != nil {
		return st.Err()
	}

	return detailed.Err()
}
