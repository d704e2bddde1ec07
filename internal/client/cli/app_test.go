package cli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/burrow/internal/client/config"
	"github.com/dmitrijs2005/burrow/internal/common"
	"github.com/dmitrijs2005/burrow/internal/server/models"
	"github.com/dmitrijs2005/burrow/internal/server/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	gs "github.com/dmitrijs2005/burrow/internal/server/grpc"
)

type fakeDirectory struct {
	lastToken string
	err       error
}

func (f *fakeDirectory) record(ctx context.Context) {
	md, _ := metadata.FromOutgoingContext(ctx)
	if v := md.Get(common.AccessTokenHeaderName); len(v) > 0 {
		f.lastToken = v[0]
	}
}

func (f *fakeDirectory) LookupUser(ctx context.Context, in *gs.LookupUserRequest, _ ...grpc.CallOption) (*gs.LookupUserResponse, error) {
	f.record(ctx)
	if f.err != nil {
		return nil, f.err
	}
	if in.Username != "alice" {
		return nil, status.Error(codes.NotFound, "user not found")
	}
	return &gs.LookupUserResponse{User: &services.LookupResult{UserID: "a", Username: "alice", PublicKey: "pk", IsOnline: true}}, nil
}

func (f *fakeDirectory) ListUsers(ctx context.Context, _ *gs.ListUsersRequest, _ ...grpc.CallOption) (*gs.ListUsersResponse, error) {
	f.record(ctx)
	if f.err != nil {
		return nil, f.err
	}
	return &gs.ListUsersResponse{Users: []*services.LookupResult{
		{UserID: "a", Username: "alice", NetworkAddress: "abc.onion"},
		{UserID: "b", Username: "bob"},
	}}, nil
}

func (f *fakeDirectory) GetHiddenService(ctx context.Context, in *gs.GetHiddenServiceRequest, _ ...grpc.CallOption) (*gs.GetHiddenServiceResponse, error) {
	f.record(ctx)
	if in.UserID == "nobody" {
		return nil, status.Error(codes.NotFound, "no hidden service")
	}
	return &gs.GetHiddenServiceResponse{HiddenService: &models.HiddenAddress{
		UserID: "a", Address: "abc.onion", Port: 80, Target: "127.0.0.1:3001", Simulated: true,
	}}, nil
}

func newTestApp(dir *fakeDirectory, input string) (*App, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return &App{
		config: &config.Config{RequestTimeout: time.Second},
		dir:    dir,
		reader: bufio.NewReader(strings.NewReader(input)),
		out:    out,
		token:  "tok",
	}, out
}

func TestLookup(t *testing.T) {
	dir := &fakeDirectory{}
	a, out := newTestApp(dir, "")

	require.NoError(t, a.Lookup(context.Background(), "alice"))
	assert.Contains(t, out.String(), "username: alice")
	assert.Contains(t, out.String(), "address:  -")
	assert.Equal(t, "tok", dir.lastToken)

	out.Reset()
	require.NoError(t, a.Lookup(context.Background(), "carol"))
	assert.Equal(t, "user \"carol\" not found\n", out.String())
}

func TestUsers(t *testing.T) {
	a, out := newTestApp(&fakeDirectory{}, "")

	require.NoError(t, a.Users(context.Background()))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "abc.onion")
}

func TestHidden(t *testing.T) {
	a, out := newTestApp(&fakeDirectory{}, "")

	require.NoError(t, a.Hidden(context.Background(), ""))
	assert.Equal(t, "abc.onion port 80 -> 127.0.0.1:3001 (simulated)\n", out.String())

	out.Reset()
	require.NoError(t, a.Hidden(context.Background(), "nobody"))
	assert.Equal(t, "no hidden service\n", out.String())
}

func TestUnauthenticatedIsExplained(t *testing.T) {
	a, _ := newTestApp(&fakeDirectory{err: status.Error(codes.Unauthenticated, "missing token")}, "")

	err := a.Users(context.Background())
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
	assert.Contains(t, err.Error(), "missing token")
}

func TestOtherErrorsPassThrough(t *testing.T) {
	boom := errors.New("boom")
	a, _ := newTestApp(&fakeDirectory{err: boom}, "")

	assert.ErrorIs(t, a.Users(context.Background()), boom)
}

func TestSetToken_NonTerminal(t *testing.T) {
	origTerm := isTerminal
	isTerminal = func(int) bool { return false }
	t.Cleanup(func() { isTerminal = origTerm })

	dir := &fakeDirectory{}
	a, _ := newTestApp(dir, "new-token\n")

	require.NoError(t, a.SetToken(context.Background()))
	require.NoError(t, a.Users(context.Background()))
	assert.Equal(t, "new-token", dir.lastToken)
}

func TestSetToken_Terminal(t *testing.T) {
	origTerm, origRead := isTerminal, readPassword
	isTerminal = func(int) bool { return true }
	readPassword = func(int) ([]byte, error) { return []byte(" secret \n"), nil }
	t.Cleanup(func() { isTerminal, readPassword = origTerm, origRead })

	a, out := newTestApp(&fakeDirectory{}, "")

	require.NoError(t, a.SetToken(context.Background()))
	assert.True(t, a.hasToken())
	assert.Equal(t, "secret", a.token)
	assert.Equal(t, "Access token: \n", out.String())
}
