package hiddensvc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/burrow/internal/common"
)

// Controller is the part of the anonymizing-network control plane the
// manager needs.
type Controller interface {
	AddOnion(ctx context.Context, keyBlob string, port int, target string) (serviceID string, err error)
	DelOnion(ctx context.Context, serviceID string) error
	Close() error
}

// Dialer opens a Controller. A failing dial puts the manager into
// simulation mode.
type Dialer func(ctx context.Context) (Controller, error)

// ErrNoControlAddress is returned by ControlDialer when no address is
// configured.
var ErrNoControlAddress = errors.New("no control address configured")

// ErrControlRejected marks a command the daemon answered with a non-250
// reply. The connection itself is still usable.
var ErrControlRejected = errors.New("control command rejected")

// ControlDialer returns a Dialer for the Tor control port at addr.
func ControlDialer(addr, password string) Dialer {
	return func(ctx context.Context) (Controller, error) {
		if addr == "" {
			return nil, ErrNoControlAddress
		}
		return DialControl(ctx, addr, password)
	}
}

// ControlConn speaks the Tor control protocol over one TCP connection.
// Commands are serialized.
type ControlConn struct {
	mu   sync.Mutex
	conn net.Conn
	text *textproto.Conn
}

// DialControl connects and authenticates.
func DialControl(ctx context.Context, addr, password string) (*ControlConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial control: %w", common.ErrorTransportFailure, err)
	}

	c := &ControlConn{conn: conn, text: textproto.NewConn(conn)}
	if _, err := c.cmd(ctx, "AUTHENTICATE %s", quote(password)); err != nil {
		_ = c.Close()
		if errors.Is(err, ErrControlRejected) {
			return nil, fmt.Errorf("%w: %w", common.ErrorTransportFailure, err)
		}
		return nil, err
	}
	return c, nil
}

func (c *ControlConn) AddOnion(ctx context.Context, keyBlob string, port int, target string) (string, error) {
	msg, err := c.cmd(ctx, "ADD_ONION %s Flags=DiscardPK Port=%d,%s", keyBlob, port, target)
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(msg, "\n") {
		if id, ok := strings.CutPrefix(line, "ServiceID="); ok {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: ADD_ONION reply without ServiceID", ErrControlRejected)
}

func (c *ControlConn) DelOnion(ctx context.Context, serviceID string) error {
	_, err := c.cmd(ctx, "DEL_ONION %s", serviceID)
	return err
}

func (c *ControlConn) Close() error {
	return c.text.Close()
}

func (c *ControlConn) cmd(ctx context.Context, format string, args ...any) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(dl)
		defer c.conn.SetDeadline(time.Time{})
	}

	id, err := c.text.Cmd(format, args...)
	if err != nil {
		return "", fmt.Errorf("%w: control: %w", common.ErrorTransportFailure, err)
	}
	c.text.StartResponse(id)
	defer c.text.EndResponse(id)

	_, msg, err := c.text.ReadResponse(250)
	var reply *textproto.Error
	if errors.As(err, &reply) {
		return "", fmt.Errorf("%w: %w", ErrControlRejected, reply)
	}
	if err != nil {
		return "", fmt.Errorf("%w: control: %w", common.ErrorTransportFailure, err)
	}
	return msg, nil
}

func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}
