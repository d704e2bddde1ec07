package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/burrow/internal/common"
	"github.com/dmitrijs2005/burrow/internal/netx"
	"github.com/dmitrijs2005/burrow/internal/server/models"
)

// Transport performs one direct delivery attempt.
type Transport interface {
	Send(ctx context.Context, address string, msg *models.Message) error
}

// HTTPTransport posts the message as JSON to http://<address>:<port>/message.
type HTTPTransport struct {
	client  *http.Client
	port    int
	timeout time.Duration
}

func NewHTTPTransport(client *http.Client, port int, timeout time.Duration) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{client: client, port: port, timeout: timeout}
}

// URL returns the endpoint for address.
func (t *HTTPTransport) URL(address string) string {
	return "http://" + net.JoinHostPort(address, strconv.Itoa(t.port)) + common.DirectMessagePath
}

func (t *HTTPTransport) Send(ctx context.Context, address string, msg *models.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	if err := netx.PostJSON(ctx, t.client, t.URL(address), body); err != nil {
		return fmt.Errorf("%w: %w", common.ErrorTransportFailure, err)
	}
	return nil
}
