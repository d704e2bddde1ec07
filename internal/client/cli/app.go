package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"text/tabwriter"

	"github.com/dmitrijs2005/burrow/internal/client/config"
	"github.com/dmitrijs2005/burrow/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	gs "github.com/dmitrijs2005/burrow/internal/server/grpc"
)

type directoryAPI interface {
	LookupUser(ctx context.Context, in *gs.LookupUserRequest, opts ...grpc.CallOption) (*gs.LookupUserResponse, error)
	ListUsers(ctx context.Context, in *gs.ListUsersRequest, opts ...grpc.CallOption) (*gs.ListUsersResponse, error)
	GetHiddenService(ctx context.Context, in *gs.GetHiddenServiceRequest, opts ...grpc.CallOption) (*gs.GetHiddenServiceResponse, error)
}

type App struct {
	config *config.Config
	dir    directoryAPI
	conn   io.Closer
	reader *bufio.Reader
	out    io.Writer

	mu    sync.RWMutex
	token string
}

func NewApp(c *config.Config) (*App, error) {
	conn, err := grpc.NewClient(c.ServerEndpointAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	return &App{
		config: c,
		dir:    gs.NewDirectoryClient(conn),
		conn:   conn,
		reader: bufio.NewReader(os.Stdin),
		out:    os.Stdout,
		token:  c.AccessToken,
	}, nil
}

// Run starts the REPL on stdin and closes the connection when it ends.
func (a *App) Run(ctx context.Context) error {
	defer a.conn.Close()
	runREPL(ctx, a, bufio.NewScanner(a.reader))
	return nil
}

func (a *App) hasToken() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token != ""
}

func (a *App) SetToken(ctx context.Context) error {
	token, err := GetSecret(a.reader, "Access token", a.out)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.token = token
	a.mu.Unlock()
	return nil
}

// callContext attaches the token and the request timeout.
func (a *App) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	a.mu.RLock()
	token := a.token
	a.mu.RUnlock()

	ctx = metadata.AppendToOutgoingContext(ctx, common.AccessTokenHeaderName, token)
	return context.WithTimeout(ctx, a.config.RequestTimeout)
}

func (a *App) Lookup(ctx context.Context, username string) error {
	ctx, cancel := a.callContext(ctx)
	defer cancel()

	res, err := a.dir.LookupUser(ctx, &gs.LookupUserRequest{Username: username})
	if status.Code(err) == codes.NotFound {
		fmt.Fprintf(a.out, "user %q not found\n", username)
		return nil
	}
	if err != nil {
		return describe(err)
	}

	u := res.User
	fmt.Fprintf(a.out, "id:       %s\nusername: %s\naddress:  %s\nonline:   %t\nkey:      %s\n",
		u.UserID, u.Username, orDash(u.NetworkAddress), u.IsOnline, u.PublicKey)
	return nil
}

func (a *App) Users(ctx context.Context) error {
	ctx, cancel := a.callContext(ctx)
	defer cancel()

	res, err := a.dir.ListUsers(ctx, &gs.ListUsersRequest{})
	if err != nil {
		return describe(err)
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSERNAME\tONLINE\tADDRESS")
	for _, u := range res.Users {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", u.UserID, u.Username, u.IsOnline, orDash(u.NetworkAddress))
	}
	return tw.Flush()
}

func (a *App) Hidden(ctx context.Context, userID string) error {
	ctx, cancel := a.callContext(ctx)
	defer cancel()

	res, err := a.dir.GetHiddenService(ctx, &gs.GetHiddenServiceRequest{UserID: userID})
	if status.Code(err) == codes.NotFound {
		fmt.Fprintln(a.out, "no hidden service")
		return nil
	}
	if err != nil {
		return describe(err)
	}

	hs := res.HiddenService
	mode := "live"
	if hs.Simulated {
		mode = "simulated"
	}
	fmt.Fprintf(a.out, "%s port %d -> %s (%s)\n", hs.Address, hs.Port, hs.Target, mode)
	return nil
}

func describe(err error) error {
	if status.Code(err) == codes.Unauthenticated {
		return fmt.Errorf("%w: %s (use the token command)", common.ErrorUnauthorized, status.Convert(err).Message())
	}
	return err
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
