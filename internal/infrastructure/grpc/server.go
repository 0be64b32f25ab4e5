package grpc

import (
	"context"
	"fmt"
	"net"

	"github.com/wekeepgrowing/semo-dunning/internal/config"
	"github.com/wekeepgrowing/semo-dunning/pkg/logger"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

type Server struct {
	config   *config.Config
	logger   *zap.Logger
	health   *health.Server
	server   *grpc.Server
	listener net.Listener
}

func NewServer(cfg *config.Config, log *zap.Logger, healthServer *health.Server) *Server {
	server := grpc.NewServer(
		grpc.UnaryInterceptor(logger.NewGrpcUnaryServerInterceptor(log)),
	)
	healthpb.RegisterHealthServer(server, healthServer)
	reflection.Register(server)

	return &Server{
		config: cfg,
		logger: log,
		health: healthServer,
		server: server,
	}
}

func (s *Server) Start() error {
	addr := s.config.Server.GRPC.Address()

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener

	s.logger.Info("Starting gRPC server", zap.String("address", addr))

	if err := s.server.Serve(listener); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.server.Stop()
	}
	return nil
}
