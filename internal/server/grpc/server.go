// Package grpc serves the read side of the directory to other services:
// user lookup, user listing and hidden-address queries, all behind the
// access token issued on authentication.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/burrow/internal/logging"
	"github.com/dmitrijs2005/burrow/internal/server/models"
	"github.com/dmitrijs2005/burrow/internal/server/services"
	"google.golang.org/grpc"
)

// Directory is the part of the chat service the API reads from.
type Directory interface {
	LookupUser(ctx context.Context, username string) (*services.LookupResult, bool, error)
	ListUsers(ctx context.Context) ([]*services.LookupResult, error)
	HiddenService(userID string) (*models.HiddenAddress, bool)
}

type GRPCServer struct {
	address   string
	directory Directory
	logger    logging.Logger
	jwtSecret []byte
}

func NewGRPCServer(a string, l logging.Logger, dir Directory, secretKey string) *GRPCServer {
	return &GRPCServer{
		address:   a,
		logger:    l.With("module", "grpc_server"),
		directory: dir,
		jwtSecret: []byte(secretKey),
	}
}

func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts on listen until ctx is done.
func (s *GRPCServer) Serve(ctx context.Context, listen net.Listener) error {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.accessTokenInterceptor))
	srv.RegisterService(&directoryServiceDesc, s)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())
	if err := srv.Serve(listen); err != nil {
		return err
	}
	return nil
}
