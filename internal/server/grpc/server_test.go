package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/dmitrijs2005/burrow/internal/common"
	"github.com/dmitrijs2005/burrow/internal/logging"
	"github.com/dmitrijs2005/burrow/internal/server/auth"
	"github.com/dmitrijs2005/burrow/internal/server/models"
	"github.com/dmitrijs2005/burrow/internal/server/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type fakeDirectory struct {
	users   map[string]*services.LookupResult
	hidden  map[string]*models.HiddenAddress
	listErr error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		users: map[string]*services.LookupResult{
			"alice": {UserID: "a", Username: "alice", PublicKey: "pk-a", NetworkAddress: "abc.onion", IsOnline: true},
			"bob":   {UserID: "b", Username: "bob", PublicKey: "pk-b"},
		},
		hidden: map[string]*models.HiddenAddress{
			"a": {UserID: "a", Address: "abc.onion", Port: 80},
		},
	}
}

func (f *fakeDirectory) LookupUser(_ context.Context, username string) (*services.LookupResult, bool, error) {
	u, ok := f.users[username]
	return u, ok, nil
}

func (f *fakeDirectory) ListUsers(context.Context) ([]*services.LookupResult, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return []*services.LookupResult{f.users["alice"], f.users["bob"]}, nil
}

func (f *fakeDirectory) HiddenService(userID string) (*models.HiddenAddress, bool) {
	hs, ok := f.hidden[userID]
	return hs, ok
}

const testSecret = "secret"

func startServer(t *testing.T, dir Directory) *DirectoryClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer("bufnet", logging.Nop(), dir, testSecret)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		cancel()
		<-done
	})
	return NewDirectoryClient(conn)
}

func authed(t *testing.T, userID string) context.Context {
	t.Helper()
	token, err := auth.GenerateToken(userID, []byte(testSecret), time.Hour)
	require.NoError(t, err)
	return metadata.AppendToOutgoingContext(context.Background(), common.AccessTokenHeaderName, token)
}

func TestLookupUser(t *testing.T) {
	c := startServer(t, newFakeDirectory())

	res, err := c.LookupUser(authed(t, "b"), &LookupUserRequest{Username: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "a", res.User.UserID)
	assert.Equal(t, "abc.onion", res.User.NetworkAddress)
	assert.True(t, res.User.IsOnline)

	_, err = c.LookupUser(authed(t, "b"), &LookupUserRequest{Username: "carol"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = c.LookupUser(authed(t, "b"), &LookupUserRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestRequiresToken(t *testing.T) {
	c := startServer(t, newFakeDirectory())

	_, err := c.LookupUser(context.Background(), &LookupUserRequest{Username: "alice"})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestListUsers(t *testing.T) {
	dir := newFakeDirectory()
	c := startServer(t, dir)

	res, err := c.ListUsers(authed(t, "a"), &ListUsersRequest{})
	require.NoError(t, err)
	require.Len(t, res.Users, 2)
	assert.Equal(t, "bob", res.Users[1].Username)

	dir.listErr = common.ErrorStorageUnavailable
	_, err = c.ListUsers(authed(t, "a"), &ListUsersRequest{})
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestGetHiddenService(t *testing.T) {
	c := startServer(t, newFakeDirectory())

	res, err := c.GetHiddenService(authed(t, "a"), &GetHiddenServiceRequest{})
	require.NoError(t, err)
	assert.Equal(t, "abc.onion", res.HiddenService.Address)

	res, err = c.GetHiddenService(authed(t, "b"), &GetHiddenServiceRequest{UserID: "a"})
	require.NoError(t, err)
	assert.Equal(t, 80, res.HiddenService.Port)

	_, err = c.GetHiddenService(authed(t, "b"), &GetHiddenServiceRequest{})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	srv := NewGRPCServer("127.0.0.1:0", logging.Nop(), newFakeDirectory(), "secret")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	select {
	case err := <-done:
		t.Fatalf("server exited too early: %v", err)
	case <-time.After(150 * time.Millisecond):
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error on graceful stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop within timeout after context cancel")
	}
}

func TestRun_ReturnsErrorOnBadAddress(t *testing.T) {
	t.Parallel()

	srv := NewGRPCServer("127.0.0.1:99999", logging.Nop(), newFakeDirectory(), "secret")
	if err := srv.Run(context.Background()); err == nil {
		t.Fatal("expected error from Run on bad address, got nil")
	}
}
