package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	pb "github.com/and161185/slotkeeper/api/slotkeeper/v1"
	"github.com/and161185/slotkeeper/internal/errs"
	"github.com/and161185/slotkeeper/internal/model"
)

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "127.0.0.1:12345" }

type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s fakeStream) Context() context.Context { return s.ctx }

func TestLoggingUnary_Passthrough(t *testing.T) {
	t.Parallel()

	ic := LoggingUnary(zaptest.NewLogger(t))
	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: fakeAddr{}})
	info := &grpc.UnaryServerInfo{FullMethod: "/sk.Service/Method"}

	resp, err := ic(ctx, "req", info, func(context.Context, any) (any, error) { return "ok", nil })
	if err != nil || resp.(string) != "ok" {
		t.Fatalf("unexpected result: %v, %v", resp, err)
	}

	wantErr := errors.New("boom")
	_, err = ic(ctx, "req", info, func(context.Context, any) (any, error) { return nil, wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("want original error, got: %v", err)
	}

	if got := clientIP(ctx); got != "127.0.0.1" {
		t.Fatalf("clientIP must drop the port, got %q", got)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	_, err := RecoverUnary(log)(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: "/sk.Service/Panic"},
		func(context.Context, any) (any, error) { panic("oh no") })
	if status.Code(err) != codes.Internal {
		t.Fatalf("want codes.Internal, got: %v", err)
	}

	err = RecoverStream(log)(nil, fakeStream{ctx: context.Background()}, &grpc.StreamServerInfo{FullMethod: "/sk.Service/Watch"},
		func(any, grpc.ServerStream) error { panic("stream") })
	if status.Code(err) != codes.Internal {
		t.Fatalf("stream: want codes.Internal, got: %v", err)
	}

	resp, err := RecoverUnary(log)(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: "/sk.Service/Ok"},
		func(context.Context, any) (any, error) { return 42, nil })
	if err != nil || resp.(int) != 42 {
		t.Fatalf("passthrough: %v %v", resp, err)
	}
}

func TestLoggingStream_ReturnsHandlerError(t *testing.T) {
	t.Parallel()

	want := status.Error(codes.Canceled, "gone")
	err := LoggingStream(zaptest.NewLogger(t))(nil, fakeStream{ctx: context.Background()},
		&grpc.StreamServerInfo{FullMethod: "/sk.Service/Watch"},
		func(any, grpc.ServerStream) error { time.Sleep(time.Millisecond); return want })
	if !errors.Is(err, want) {
		t.Fatalf("want %v, got %v", want, err)
	}
}

func TestAuthInterceptors(t *testing.T) {
	t.Parallel()

	key := []byte("k")
	a := NewAuthenticator(key)
	id := uuid.Must(uuid.NewV4())
	tok := makeJWT(t, id.String(), model.RoleStudent, key, jwt.SigningMethodHS256, time.Now(), time.Minute)

	var seen model.Principal
	h := func(ctx context.Context, _ any) (any, error) {
		seen, _ = PrincipalFromCtx(ctx)
		return nil, nil
	}

	_, err := a.AuthUnary()(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: pb.ListSlotsMethod}, h)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("want Unauthenticated, got %v", err)
	}

	if _, err := a.AuthUnary()(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: pb.LoginMethod}, h); err != nil {
		t.Fatalf("login is public: %v", err)
	}

	if _, err := a.AuthUnary()(ctxWithAuth(tok), nil, &grpc.UnaryServerInfo{FullMethod: pb.ListSlotsMethod}, h); err != nil {
		t.Fatalf("valid token: %v", err)
	}
	if seen.UserID != id || seen.Role != model.RoleStudent {
		t.Fatalf("principal not stored: %+v", seen)
	}

	var streamSeen bool
	err = a.AuthStream()(nil, fakeStream{ctx: ctxWithAuth(tok)}, &grpc.StreamServerInfo{FullMethod: "/sk.Service/Private"},
		func(_ any, ss grpc.ServerStream) error {
			_, streamSeen = PrincipalFromCtx(ss.Context())
			return nil
		})
	if err != nil || !streamSeen {
		t.Fatalf("stream auth: %v seen=%v", err, streamSeen)
	}
	err = a.AuthStream()(nil, fakeStream{ctx: context.Background()}, &grpc.StreamServerInfo{FullMethod: "/sk.Service/Private"},
		func(any, grpc.ServerStream) error { return nil })
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("stream without token: %v", err)
	}
}

func TestToStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err    error
		code   codes.Code
		reason string
	}{
		{errs.ErrQuotaExhausted, codes.ResourceExhausted, "QUOTA_EXHAUSTED"},
		{fmt.Errorf("%w: classifier 503", errs.ErrModerationUnavailable), codes.Unavailable, "MODERATION_UNAVAILABLE"},
		{fmt.Errorf("%w: backend", errs.ErrGenerationFailed), codes.Unavailable, "GENERATION_FAILED"},
		{fmt.Errorf("%w: upload", errs.ErrStorage), codes.Unavailable, "STORAGE"},
		{errs.ErrForbidden, codes.PermissionDenied, "FORBIDDEN"},
		{errs.ErrLoginLocked, codes.PermissionDenied, "LOGIN_LOCKED"},
		{errs.ErrUnauthorized, codes.Unauthenticated, "UNAUTHENTICATED"},
		{errs.ErrNotFound, codes.NotFound, "NOT_FOUND"},
		{fmt.Errorf("unlock at cap: %w", errs.ErrFailedPrecondition), codes.FailedPrecondition, "FAILED_PRECONDITION"},
		{errs.ErrInvariantViolation, codes.Internal, "INVARIANT_VIOLATION"},
		{errors.New("validation: empty prompt"), codes.InvalidArgument, "INVALID_ARGUMENT"},
		{errors.New("driver exploded"), codes.Internal, "INTERNAL"},
	}
	for _, c := range cases {
		got := toStatus(c.err, nil)
		if status.Code(got) != c.code || ReasonOf(got) != c.reason {
			t.Fatalf("%v: got %v reason %q", c.err, got, ReasonOf(got))
		}
	}

	if toStatus(nil, nil) != nil {
		t.Fatalf("nil must stay nil")
	}
	if st, _ := status.FromError(toStatus(errors.New("pq: password=secret"), nil)); st.Message() != "internal" {
		t.Fatalf("internal errors must not leak: %q", st.Message())
	}
	pre := status.Error(codes.Aborted, "x")
	if toStatus(pre, nil) != pre {
		t.Fatalf("status errors pass through")
	}
	if ReasonOf(errors.New("plain")) != "" {
		t.Fatalf("plain errors carry no reason")
	}
}
