// ABOUTME: warden.v1.Identity gRPC service reporting the caller's verified identity
// ABOUTME: Uses well-known protobuf types so no generated code is needed

package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/2389/warden/internal/auth"
)

// IdentityWhoAmIMethod is the full method name of Identity.WhoAmI.
const IdentityWhoAmIMethod = "/warden.v1.Identity/WhoAmI"

// IdentityServer answers identity queries for bearer-authenticated callers.
type IdentityServer interface {
	WhoAmI(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error)
}

// RegisterIdentityServer registers srv on s.
func RegisterIdentityServer(s grpc.ServiceRegistrar, srv IdentityServer) {
	s.RegisterService(&identityServiceDesc, srv)
}

var identityServiceDesc = grpc.ServiceDesc{
	ServiceName: "warden.v1.Identity",
	HandlerType: (*IdentityServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "WhoAmI", Handler: whoAmIHandler},
	},
	Metadata: "warden/v1/identity.proto",
}

func whoAmIHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IdentityServer).WhoAmI(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: IdentityWhoAmIMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IdentityServer).WhoAmI(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

type identityService struct{}

// WhoAmI returns the subject, token id and live scope of the access token.
func (identityService) WhoAmI(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	a := auth.FromContext(ctx)
	if a == nil {
		return nil, status.Error(codes.Unauthenticated, "not authenticated")
	}
	scope := make([]any, len(a.Scope))
	for i, s := range a.Scope {
		scope[i] = s
	}
	return structpb.NewStruct(map[string]any{
		"subject":  a.Subject,
		"token_id": a.TokenID,
		"kind":     a.Kind.String(),
		"scope":    scope,
	})
}
