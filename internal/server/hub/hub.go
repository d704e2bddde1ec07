// Package hub is the WebSocket signaling transport. Each connection gets a
// Client with its own read and write pumps; frames are dispatched to the
// chat service and results are pushed back as events.
package hub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dmitrijs2005/burrow/internal/common"
	"github.com/dmitrijs2005/burrow/internal/logging"
	"github.com/dmitrijs2005/burrow/internal/server/models"
	"github.com/dmitrijs2005/burrow/internal/server/registry"
	"github.com/dmitrijs2005/burrow/internal/server/services"
	"github.com/gorilla/websocket"
)

var (
	errBadFrame         = fmt.Errorf("%w: malformed frame", common.ErrorValidation)
	errNotAuthenticated = fmt.Errorf("%w: authenticate first", common.ErrorUnauthorized)
)

// Service is the part of the chat service the hub drives.
type Service interface {
	Authenticate(ctx context.Context, ch registry.Channel, req services.AuthRequest) (*services.AuthResult, error)
	LookupUser(ctx context.Context, username string) (*services.LookupResult, bool, error)
	SendMessage(ctx context.Context, senderID string, req services.SendRequest) (models.DeliveryOutcome, error)
	RegisterHiddenService(ctx context.Context, userID string, port int) (*models.HiddenAddress, error)
	RemoveHiddenService(ctx context.Context, userID string) (bool, error)
	Disconnect(ctx context.Context, userID string, ch registry.Channel) error
}

type Hub struct {
	svc      Service
	upgrader websocket.Upgrader
	logger   logging.Logger

	mu      sync.Mutex
	clients map[*Client]struct{}
}

func New(svc Service, logger logging.Logger) *Hub {
	return &Hub{
		svc: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  logger.With("module", "hub"),
		clients: make(map[*Client]struct{}),
	}
}

// ServeHTTP upgrades the request and blocks until the connection ends.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	c := newClient(h, conn)
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	go c.writePump()
	c.readPump(ctx)
	h.release(ctx, c)
}

func (h *Hub) release(ctx context.Context, c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()

	if uid := c.UserID(); uid != "" {
		if err := h.svc.Disconnect(ctx, uid, c); err != nil {
			h.logger.Error(ctx, "disconnect failed", "user_id", uid, "error", err)
		}
	}
}

// Len reports the number of open connections.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close drops every open connection.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) dispatch(ctx context.Context, c *Client, env *Envelope) {
	if env.Type == models.EventAuthenticate {
		h.authenticate(ctx, c, env)
		return
	}
	if env.Type == models.EventHeartbeat {
		_ = c.Send(models.EventHeartbeat, heartbeatData{Timestamp: time.Now().UTC()})
		return
	}

	userID := c.UserID()
	if userID == "" {
		c.sendError(errNotAuthenticated)
		return
	}

	var err error
	switch env.Type {
	case models.EventLookupUser:
		err = h.lookup(ctx, c, env)
	case models.EventPrivateMessage:
		var req services.SendRequest
		if err = env.ParseData(&req); err != nil {
			err = errBadFrame
			break
		}
		_, err = h.svc.SendMessage(ctx, userID, req)
	case models.EventRegisterHiddenService:
		var req hiddenServiceData
		if err = env.ParseData(&req); err != nil {
			err = errBadFrame
			break
		}
		var hs *models.HiddenAddress
		if hs, err = h.svc.RegisterHiddenService(ctx, userID, req.Port); err == nil {
			err = c.Send(models.EventHiddenServiceCreated, hs)
		}
	case models.EventRemoveHiddenService:
		var removed bool
		if removed, err = h.svc.RemoveHiddenService(ctx, userID); err == nil {
			err = c.Send(models.EventHiddenServiceRemoved, removedData{UserID: userID, Removed: removed})
		}
	default:
		err = fmt.Errorf("%w: unknown event %q", common.ErrorValidation, env.Type)
	}

	if err != nil {
		h.logger.Debug(ctx, "event failed", "event", env.Type, "user_id", userID, "error", err)
		c.sendError(err)
	}
}

func (h *Hub) authenticate(ctx context.Context, c *Client, env *Envelope) {
	var req services.AuthRequest
	if err := env.ParseData(&req); err != nil {
		c.sendError(errBadFrame)
		return
	}

	if prev := c.UserID(); prev != "" && prev != req.UserID {
		c.sendError(fmt.Errorf("%w: connection already bound to another user", common.ErrorValidation))
		return
	}

	res, err := h.svc.Authenticate(ctx, c, req)
	if err != nil {
		c.sendError(err)
		return
	}
	c.setUserID(res.User.UserID)
	_ = c.Send(models.EventAuthenticated, res)
}

func (h *Hub) lookup(ctx context.Context, c *Client, env *Envelope) error {
	var req lookupData
	if err := env.ParseData(&req); err != nil {
		return errBadFrame
	}

	res, found, err := h.svc.LookupUser(ctx, req.Username)
	if err != nil {
		return err
	}
	if !found {
		return c.Send(models.EventUserNotFound, notFoundData{Username: req.Username})
	}
	return c.Send(models.EventUserFound, res)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, common.ErrorValidation):
		return "invalid_request"
	case errors.Is(err, common.ErrorUnauthorized):
		return "unauthorized"
	case errors.Is(err, common.ErrorAlreadyExists):
		return "conflict"
	case errors.Is(err, common.ErrorNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
