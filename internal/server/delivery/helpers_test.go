package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/burrow/internal/logging"
	"github.com/dmitrijs2005/burrow/internal/server/models"
	"github.com/dmitrijs2005/burrow/internal/server/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type sent struct {
	event   string
	payload any
}

type fakeChannel struct {
	id      string
	mu      sync.Mutex
	events  []sent
	err     error
	block   chan struct{}
	entered chan struct{}
}

func (c *fakeChannel) ID() string { return c.id }

func (c *fakeChannel) Send(event string, payload any) error {
	if c.block != nil {
		c.entered <- struct{}{}
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, sent{event, payload})
	return nil
}

func (c *fakeChannel) got() []sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sent(nil), c.events...)
}

func (c *fakeChannel) count(event string) int {
	n := 0
	for _, s := range c.got() {
		if s.event == event {
			n++
		}
	}
	return n
}

type fakeTransport struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeTransport) Send(ctx context.Context, address string, msg *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, address)
	return f.err
}

var errUnreachable = errors.New("connection refused")

type harness struct {
	clock     *clock.Mock
	registry  *registry.Registry
	transport *fakeTransport
	callbacks *Callbacks
	confirm   *Confirmer
	metrics   *Metrics
	queue     *RelayQueue
	engine    *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	reg := registry.New()
	confirm, err := NewConfirmer(reg, 128)
	require.NoError(t, err)

	callbacks := NewCallbacks(time.Hour, clk)
	metrics := NewMetrics(prometheus.NewRegistry())
	queue := NewRelayQueue(DefaultQueueConfig(), reg, callbacks, confirm, clk, metrics, logging.Nop())
	transport := &fakeTransport{}

	return &harness{
		clock:     clk,
		registry:  reg,
		transport: transport,
		callbacks: callbacks,
		confirm:   confirm,
		metrics:   metrics,
		queue:     queue,
		engine:    NewEngine(transport, queue, callbacks, confirm, clk, metrics, logging.Nop()),
	}
}

func userA() *models.UserRecord {
	return &models.UserRecord{UserID: "a", Username: "alice", NetworkAddress: "a.addr"}
}

func userB() *models.UserRecord {
	return &models.UserRecord{UserID: "b", Username: "bob"}
}

func message(id string) *models.Message {
	return &models.Message{ID: id, SenderID: "a", SenderName: "alice", RecipientID: "b", Content: "hi", Timestamp: 1}
}
