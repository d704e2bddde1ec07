package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/burrow/internal/common"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func (s *GRPCServer) LookupUser(ctx context.Context, req *LookupUserRequest) (*LookupUserResponse, error) {
	if req.Username == "" {
		return nil, status.Error(codes.InvalidArgument, "username is required")
	}

	res, found, err := s.directory.LookupUser(ctx, req.Username)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	if !found {
		return nil, status.Error(codes.NotFound, "user not found")
	}
	return &LookupUserResponse{User: res}, nil
}

func (s *GRPCServer) ListUsers(ctx context.Context, _ *ListUsersRequest) (*ListUsersResponse, error) {
	users, err := s.directory.ListUsers(ctx)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &ListUsersResponse{Users: users}, nil
}

func (s *GRPCServer) GetHiddenService(ctx context.Context, req *GetHiddenServiceRequest) (*GetHiddenServiceResponse, error) {
	userID := req.UserID
	if userID == "" {
		userID, _ = ctx.Value(UserIDKey).(string)
	}

	hs, ok := s.directory.HiddenService(userID)
	if !ok {
		return nil, status.Error(codes.NotFound, "no hidden service")
	}
	return &GetHiddenServiceResponse{HiddenService: hs}, nil
}

func (s *GRPCServer) toStatus(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, common.ErrorValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, common.ErrorNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, common.ErrorStorageUnavailable):
		s.logger.Error(ctx, "storage unavailable", "error", err)
		return status.Error(codes.Unavailable, "storage unavailable")
	default:
		s.logger.Error(ctx, err.Error())
		return status.Error(codes.Internal, "internal error")
	}
}
