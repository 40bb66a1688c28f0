package gw

import (
	"net/http"
	"strings"

	"github.com/Fuchsoria/banditucb/internal/command"
	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const requestIDHeader = "X-Request-Id"

var views = map[string]string{
	"counts": command.CmdCounts,
	"means":  command.CmdMeans,
	"bounds": command.CmdBounds,
	"pick":   command.CmdPick,
	"digest": command.CmdDigest,
}

// NewGateway builds the HTTP mux in front of the gRPC client.
func NewGateway(client *CommandsClient) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux(
		runtime.WithMarshalerOption(runtime.MIMEWildcard, &runtime.JSONPb{
			MarshalOptions:   protojson.MarshalOptions{EmitUnpopulated: true},
			UnmarshalOptions: protojson.UnmarshalOptions{DiscardUnknown: true},
		}),
	)

	err := mux.HandlePath(http.MethodPost, "/api/v1/exec", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		inbound, outbound := runtime.MarshalerForRequest(mux, r)

		body := new(structpb.Struct)
		if err := inbound.NewDecoder(r.Body).Decode(body); err != nil {
			runtime.HTTPError(r.Context(), mux, outbound, w, r, status.Errorf(codes.InvalidArgument, "ERR malformed request, %v", err))

			return
		}

		args := body.GetFields()["args"].GetListValue()
		if args == nil {
			runtime.HTTPError(r.Context(), mux, outbound, w, r, status.Error(codes.InvalidArgument, "ERR args must be a list"))

			return
		}

		forward(mux, client, w, r, args)
	})
	if err != nil {
		return nil, err
	}

	err = mux.HandlePath(http.MethodGet, "/api/v1/bandits/{key}/{view}", func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		name, ok := views[strings.ToLower(params["view"])]
		if !ok {
			_, outbound := runtime.MarshalerForRequest(mux, r)
			runtime.HTTPError(r.Context(), mux, outbound, w, r, status.Errorf(codes.NotFound, "unknown view %q", params["view"]))

			return
		}

		forward(mux, client, w, r, &structpb.ListValue{Values: []*structpb.Value{
			structpb.NewStringValue(name),
			structpb.NewStringValue(params["key"]),
		}})
	})
	if err != nil {
		return nil, err
	}

	err = mux.HandlePath(http.MethodGet, "/metrics", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		promhttp.Handler().ServeHTTP(w, r)
	})
	if err != nil {
		return nil, err
	}

	return mux, nil
}

func forward(mux *runtime.ServeMux, client *CommandsClient, w http.ResponseWriter, r *http.Request, args *structpb.ListValue) {
	_, outbound := runtime.MarshalerForRequest(mux, r)

	requestID := r.Header.Get(requestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	w.Header().Set(requestIDHeader, requestID)

	ctx := metadata.AppendToOutgoingContext(r.Context(), strings.ToLower(requestIDHeader), requestID)

	value, err := client.Exec(ctx, args)
	if err != nil {
		runtime.HTTPError(ctx, mux, outbound, w, r, err)

		return
	}

	data, err := outbound.Marshal(value)
	if err != nil {
		runtime.HTTPError(ctx, mux, outbound, w, r, status.Error(codes.Internal, err.Error()))

		return
	}

	w.Header().Set("Content-Type", outbound.ContentType(value))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
