package gw

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Fuchsoria/banditucb/internal/app"
	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_zap "github.com/grpc-ecosystem/go-grpc-middleware/logging/zap"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	grpc_ctxtags "github.com/grpc-ecosystem/go-grpc-middleware/tags"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type Server struct {
	executor Executor
	logger   app.Logger
	grpcAddr string

	grpcServer *grpc.Server
	httpServer *http.Server
	conn       *grpc.ClientConn
}

// NewServer builds both servers up front so Stop is safe to call at any time,
// even before Start.
func NewServer(executor Executor, logger app.Logger, host, port, grpcPort string) (*Server, error) {
	if port == "" || grpcPort == "" {
		return nil, fmt.Errorf("http and grpc ports are required")
	}

	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(
			grpc_ctxtags.UnaryServerInterceptor(),
			grpc_zap.UnaryServerInterceptor(logger.GetInstance()),
			grpc_recovery.UnaryServerInterceptor(),
		)),
	)

	RegisterCommandsServer(grpcServer, &service{executor: executor})

	grpcAddr := net.JoinHostPort(host, grpcPort)

	// the client connects lazily, on the first gateway request
	conn, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("cannot create grpc client, %w", err)
	}

	mux, err := NewGateway(NewCommandsClient(conn))
	if err != nil {
		conn.Close()

		return nil, fmt.Errorf("cannot create gateway, %w", err)
	}

	return &Server{
		executor:   executor,
		logger:     logger,
		grpcAddr:   grpcAddr,
		grpcServer: grpcServer,
		conn:       conn,
		httpServer: &http.Server{
			Addr:              net.JoinHostPort(host, port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Start serves gRPC in the background and blocks on the HTTP gateway.
// It returns nil once Stop has been called.
func (s *Server) Start(ctx context.Context) error {
	lis, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("cannot listen %s, %w", s.grpcAddr, err)
	}

	go func() {
		if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Error("grpc server stopped", "error", err)
		}
	}()

	s.logger.Info("server is listening", "http", s.httpServer.Addr, "grpc", s.grpcAddr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)

	_ = s.conn.Close()
	s.grpcServer.GracefulStop()

	return err
}
