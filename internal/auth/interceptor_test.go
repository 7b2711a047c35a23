// ABOUTME: Unit tests for gRPC auth interceptors
// ABOUTME: Calls the interceptors directly with stub verifiers and metadata

package auth

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/2389/warden/internal/apierr"
)

// Helper to create test context with authorization header
func contextWithAuth(token string) context.Context {
	md := metadata.New(map[string]string{
		"authorization": "Bearer " + token,
	})
	return metadata.NewIncomingContext(context.Background(), md)
}

func captureHandler(got **AuthContext) grpc.UnaryHandler {
	return func(ctx context.Context, req any) (any, error) {
		*got = FromContext(ctx)
		return "ok", nil
	}
}

func TestUnaryInterceptor_ValidToken(t *testing.T) {
	v := &stubVerifier{claims: accessClaims("user:read")}
	interceptor := UnaryInterceptor(v, slog.Default())

	var got *AuthContext
	resp, err := interceptor(contextWithAuth("eyJ.token"), nil, &grpc.UnaryServerInfo{FullMethod: "/warden.v1.Users/Get"}, captureHandler(&got))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
	require.NotNil(t, got)
	assert.Equal(t, "user-1", got.Subject)
}

func TestUnaryInterceptor_Rejections(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		err  error
		code codes.Code
	}{
		{name: "no metadata", ctx: context.Background(), code: codes.Unauthenticated},
		{name: "no header", ctx: metadata.NewIncomingContext(context.Background(), metadata.MD{}), code: codes.Unauthenticated},
		{name: "verifier unauthorized", ctx: contextWithAuth("eyJ.token"), err: apierr.Unauthorized("access token is expired"), code: codes.Unauthenticated},
		{name: "verifier dependency", ctx: contextWithAuth("eyJ.token"), err: apierr.DependencyFailed("missing"), code: codes.FailedPrecondition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &stubVerifier{claims: accessClaims(), err: tt.err}
			interceptor := UnaryInterceptor(v, nil)

			var got *AuthContext
			_, err := interceptor(tt.ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/warden.v1.Users/Get"}, captureHandler(&got))
			require.Error(t, err)
			assert.Equal(t, tt.code, status.Code(err))
			assert.Nil(t, got)
		})
	}
}

func TestUnaryInterceptor_HealthIsPublic(t *testing.T) {
	v := &stubVerifier{err: apierr.Unauthorized("nope")}
	interceptor := UnaryInterceptor(v, nil)

	var got *AuthContext
	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}, captureHandler(&got))
	require.NoError(t, err)
	assert.Zero(t, v.calls)
}

type fakeServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (f *fakeServerStream) Context() context.Context { return f.ctx }

func TestStreamInterceptor_WrapsContext(t *testing.T) {
	v := &stubVerifier{claims: accessClaims("user:read")}
	interceptor := StreamInterceptor(v, nil)

	var got *AuthContext
	err := interceptor(nil, &fakeServerStream{ctx: contextWithAuth("eyJ.token")}, &grpc.StreamServerInfo{FullMethod: "/warden.v1.Users/Watch"},
		func(srv any, ss grpc.ServerStream) error {
			got = FromContext(ss.Context())
			return nil
		})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.HasScope("user:read"))
}
