package grpc

import (
	"context"

	"github.com/dmitrijs2005/burrow/internal/server/models"
	"github.com/dmitrijs2005/burrow/internal/server/services"
	"google.golang.org/grpc"
)

const serviceName = "burrow.directory.DirectoryService"

const (
	MethodLookupUser       = "/" + serviceName + "/LookupUser"
	MethodListUsers        = "/" + serviceName + "/ListUsers"
	MethodGetHiddenService = "/" + serviceName + "/GetHiddenService"
)

type LookupUserRequest struct {
	Username string `json:"username"`
}

type LookupUserResponse struct {
	User *services.LookupResult `json:"user"`
}

type ListUsersRequest struct{}

type ListUsersResponse struct {
	Users []*services.LookupResult `json:"users"`
}

// GetHiddenServiceRequest with an empty UserID asks for the caller's own
// address.
type GetHiddenServiceRequest struct {
	UserID string `json:"userId"`
}

type GetHiddenServiceResponse struct {
	HiddenService *models.HiddenAddress `json:"hiddenService"`
}

// DirectoryServer is implemented by GRPCServer.
type DirectoryServer interface {
	LookupUser(context.Context, *LookupUserRequest) (*LookupUserResponse, error)
	ListUsers(context.Context, *ListUsersRequest) (*ListUsersResponse, error)
	GetHiddenService(context.Context, *GetHiddenServiceRequest) (*GetHiddenServiceResponse, error)
}

func unaryHandler[Req any](method string, call func(DirectoryServer, context.Context, *Req) (any, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(DirectoryServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(DirectoryServer), ctx, req.(*Req))
		})
	}
}

var directoryServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*DirectoryServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "LookupUser",
			Handler: unaryHandler(MethodLookupUser, func(s DirectoryServer, ctx context.Context, r *LookupUserRequest) (any, error) {
				return s.LookupUser(ctx, r)
			}),
		},
		{
			MethodName: "ListUsers",
			Handler: unaryHandler(MethodListUsers, func(s DirectoryServer, ctx context.Context, r *ListUsersRequest) (any, error) {
				return s.ListUsers(ctx, r)
			}),
		},
		{
			MethodName: "GetHiddenService",
			Handler: unaryHandler(MethodGetHiddenService, func(s DirectoryServer, ctx context.Context, r *GetHiddenServiceRequest) (any, error) {
				return s.GetHiddenService(ctx, r)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "burrow/directory",
}

// DirectoryClient calls the directory service with the JSON codec.
type DirectoryClient struct {
	cc grpc.ClientConnInterface
}

func NewDirectoryClient(cc grpc.ClientConnInterface) *DirectoryClient {
	return &DirectoryClient{cc: cc}
}

func (c *DirectoryClient) LookupUser(ctx context.Context, in *LookupUserRequest, opts ...grpc.CallOption) (*LookupUserResponse, error) {
	out := new(LookupUserResponse)
	if err := c.cc.Invoke(ctx, MethodLookupUser, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *DirectoryClient) ListUsers(ctx context.Context, in *ListUsersRequest, opts ...grpc.CallOption) (*ListUsersResponse, error) {
	out := new(ListUsersResponse)
	if err := c.cc.Invoke(ctx, MethodListUsers, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *DirectoryClient) GetHiddenService(ctx context.Context, in *GetHiddenServiceRequest, opts ...grpc.CallOption) (*GetHiddenServiceResponse, error) {
	out := new(GetHiddenServiceResponse)
	if err := c.cc.Invoke(ctx, MethodGetHiddenService, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}
