// Package services contains server-side business logic. ChatService is the
// entry point for every transport (WebSocket hub, REST, gRPC): it ties the
// directory, the connection registry, the hidden-address manager and the
// delivery engine together.
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/burrow/internal/common"
	"github.com/dmitrijs2005/burrow/internal/logging"
	"github.com/dmitrijs2005/burrow/internal/server/auth"
	"github.com/dmitrijs2005/burrow/internal/server/config"
	"github.com/dmitrijs2005/burrow/internal/server/delivery"
	"github.com/dmitrijs2005/burrow/internal/server/directory"
	"github.com/dmitrijs2005/burrow/internal/server/hiddensvc"
	"github.com/dmitrijs2005/burrow/internal/server/models"
	"github.com/dmitrijs2005/burrow/internal/server/registry"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// AuthRequest is what a client presents when it opens a live channel.
type AuthRequest struct {
	UserID         string `json:"userId"`
	Username       string `json:"username"`
	PublicKey      string `json:"publicKey"`
	NetworkAddress string `json:"networkAddress,omitempty"`
}

// AuthResult is returned to the client after authentication.
type AuthResult struct {
	User        *models.UserRecord `json:"user"`
	AccessToken string             `json:"accessToken"`
	OnlineUsers []string           `json:"onlineUsers"`
}

// LookupResult is the public view of a directory entry.
type LookupResult struct {
	UserID         string `json:"userId"`
	Username       string `json:"username"`
	PublicKey      string `json:"publicKey"`
	NetworkAddress string `json:"networkAddress,omitempty"`
	IsOnline       bool   `json:"isOnline"`
}

// SendRequest is a message as submitted by its sender.
type SendRequest struct {
	RecipientID string `json:"recipientId"`
	Content     string `json:"content"`
	IsEncrypted bool   `json:"isEncrypted"`
}

// Stats summarizes server state for health reporting.
type Stats struct {
	OnlineUsers    int              `json:"onlineUsers"`
	RelayQueue     int              `json:"relayQueue"`
	HiddenServices hiddensvc.Status `json:"hiddenServices"`
}

type ChatService struct {
	directory *directory.Store
	registry  *registry.Registry
	hidden    *hiddensvc.Manager
	engine    *delivery.Engine
	inbound   *lru.Cache[string, struct{}]
	clock     clock.Clock
	logger    logging.Logger

	jwtSecret                   []byte
	accessTokenValidityDuration time.Duration
	directPort                  int
	hiddenServiceTarget         string
}

func NewChatService(dir *directory.Store, reg *registry.Registry, hidden *hiddensvc.Manager,
	engine *delivery.Engine, clk clock.Clock, logger logging.Logger, cfg *config.Config) (*ChatService, error) {
	inbound, err := lru.New[string, struct{}](cfg.DedupeSize)
	if err != nil {
		return nil, err
	}
	return &ChatService{
		directory:                   dir,
		registry:                    reg,
		hidden:                      hidden,
		engine:                      engine,
		inbound:                     inbound,
		clock:                       clk,
		logger:                      logger.With("module", "chat"),
		jwtSecret:                   []byte(cfg.SecretKey),
		accessTokenValidityDuration: cfg.AccessTokenValidityDuration,
		directPort:                  cfg.DirectPort,
		hiddenServiceTarget:         cfg.HiddenServiceTarget,
	}, nil
}

// Authenticate registers or refreshes the user's directory record, binds ch
// in the registry and announces the user as online. A username or network
// address held by a different user id is rejected with
// common.ErrorAlreadyExists.
func (s *ChatService) Authenticate(ctx context.Context, ch registry.Channel, req AuthRequest) (*AuthResult, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.Username = strings.TrimSpace(req.Username)
	if req.UserID == "" || req.Username == "" {
		return nil, fmt.Errorf("%w: userId and username are required", common.ErrorValidation)
	}

	rec, err := s.directory.Modify(ctx, req.UserID, func(*models.UserRecord) (*models.UserRecord, error) {
		address := req.NetworkAddress
		if address == "" {
			if hs, ok := s.hidden.Get(req.UserID); ok {
				address = hs.Address
			}
		}
		return &models.UserRecord{
			UserID:         req.UserID,
			Username:       req.Username,
			PublicKey:      req.PublicKey,
			NetworkAddress: address,
			LastSeen:       s.clock.Now().UTC(),
		}, nil
	})
	if err != nil {
		return nil, err
	}

	token, err := auth.GenerateToken(rec.UserID, s.jwtSecret, s.accessTokenValidityDuration)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrorInternal, err)
	}

	s.registry.Register(rec.UserID, ch)
	s.registry.Broadcast(models.EventUserStatus, models.UserStatus{
		UserID:   rec.UserID,
		Username: rec.Username,
		Status:   models.PresenceOnline,
	}, rec.UserID)

	s.logger.Info(ctx, "user authenticated", "user_id", rec.UserID, "username", rec.Username)
	return &AuthResult{User: rec, AccessToken: token, OnlineUsers: s.registry.Online()}, nil
}

// LookupUser returns found=false for an unknown username.
func (s *ChatService) LookupUser(ctx context.Context, username string) (*LookupResult, bool, error) {
	rec, found, err := s.directory.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil || !found {
		return nil, false, err
	}
	return s.view(rec), true, nil
}

// ListUsers returns every user in the directory.
func (s *ChatService) ListUsers(ctx context.Context) ([]*LookupResult, error) {
	var out []*LookupResult
	for rec, err := range s.directory.All(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, s.view(rec))
	}
	return out, nil
}

func (s *ChatService) view(rec *models.UserRecord) *LookupResult {
	_, online := s.registry.Find(rec.UserID)
	return &LookupResult{
		UserID:         rec.UserID,
		Username:       rec.Username,
		PublicKey:      rec.PublicKey,
		NetworkAddress: rec.NetworkAddress,
		IsOnline:       online,
	}
}

// SendMessage builds a message from senderID and hands it to the delivery
// engine. On a relay outcome the sender is told the message is pending;
// direct success is confirmed by the engine itself.
func (s *ChatService) SendMessage(ctx context.Context, senderID string, req SendRequest) (models.DeliveryOutcome, error) {
	if req.RecipientID == "" || req.Content == "" {
		return models.DeliveryOutcome{}, fmt.Errorf("%w: recipientId and content are required", common.ErrorValidation)
	}

	sender, recipient, err := s.resolvePair(ctx, senderID, req.RecipientID)
	if err != nil {
		return models.DeliveryOutcome{}, err
	}

	msg := s.newMessage(sender, req)
	out := s.engine.Deliver(ctx, msg, sender, recipient, nil)

	if out.Method == models.MethodRelay {
		s.notifySender(senderID, models.MessageDelivered{
			MessageID:   msg.ID,
			RecipientID: msg.RecipientID,
			Status:      models.StatusPending,
			Method:      models.MethodRelay,
		})
	}
	return out, nil
}

// Relay queues msg without a direct attempt. A missing id is generated; an
// id that is already queued is rejected with common.ErrorAlreadyExists.
func (s *ChatService) Relay(ctx context.Context, msg *models.Message) (models.DeliveryOutcome, error) {
	if msg == nil || msg.SenderID == "" || msg.RecipientID == "" || msg.Content == "" {
		return models.DeliveryOutcome{}, fmt.Errorf("%w: senderId, recipientId and content are required", common.ErrorValidation)
	}

	sender, recipient, err := s.resolvePair(ctx, msg.SenderID, msg.RecipientID)
	if err != nil {
		return models.DeliveryOutcome{}, err
	}

	m := *msg
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp == 0 {
		m.Timestamp = s.clock.Now().UnixMilli()
	}
	if m.SenderName == "" {
		m.SenderName = sender.Username
	}
	return s.engine.Relay(&m, sender, recipient, nil)
}

// ReceiveDirect is the inbound side of direct delivery. A message id seen
// before is accepted again without a second push. common.ErrorNotFound
// means the recipient is not connected here; the id is then forgotten so
// a later retry can succeed.
func (s *ChatService) ReceiveDirect(ctx context.Context, msg *models.Message) error {
	if msg == nil || msg.ID == "" || msg.RecipientID == "" {
		return fmt.Errorf("%w: id and recipientId are required", common.ErrorValidation)
	}
	if seen, _ := s.inbound.ContainsOrAdd(msg.ID, struct{}{}); seen {
		s.logger.Debug(ctx, "duplicate direct message dropped", "message_id", msg.ID)
		return nil
	}

	ch, ok := s.registry.Find(msg.RecipientID)
	if !ok {
		s.inbound.Remove(msg.ID)
		return fmt.Errorf("%w: recipient %s is offline", common.ErrorNotFound, msg.RecipientID)
	}
	if err := ch.Send(models.EventPrivateMessage, msg); err != nil {
		s.inbound.Remove(msg.ID)
		return fmt.Errorf("%w: %w", common.ErrorTransportFailure, err)
	}
	return nil
}

// RegisterHiddenService provisions a hidden address for the user and
// points the directory at it. port 0 means the configured direct port.
func (s *ChatService) RegisterHiddenService(ctx context.Context, userID string, port int) (*models.HiddenAddress, error) {
	_, found, err := s.directory.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: user %s", common.ErrorNotFound, userID)
	}
	if port == 0 {
		port = s.directPort
	}

	hs, err := s.hidden.CreateHiddenService(ctx, userID, port, s.hiddenServiceTarget)
	if err != nil {
		return nil, err
	}

	_, err = s.directory.Modify(ctx, userID, func(cur *models.UserRecord) (*models.UserRecord, error) {
		if cur == nil {
			return nil, fmt.Errorf("%w: user %s", common.ErrorNotFound, userID)
		}
		return s.syncAddress(cur, ""), nil
	})
	if err != nil {
		return nil, err
	}
	return hs, nil
}

// RemoveHiddenService tears the address down and clears it from the
// directory. It reports false when the user had none.
func (s *ChatService) RemoveHiddenService(ctx context.Context, userID string) (bool, error) {
	prev, ok := s.hidden.Get(userID)
	if !ok {
		return false, nil
	}
	ok, err := s.hidden.RemoveHiddenService(ctx, userID)
	if err != nil || !ok {
		return false, err
	}

	_, err = s.directory.Modify(ctx, userID, func(cur *models.UserRecord) (*models.UserRecord, error) {
		if cur == nil {
			return nil, nil
		}
		return s.syncAddress(cur, prev.Address), nil
	})
	return true, err
}

// syncAddress points rec at the user's live hidden address. Without one, an
// address equal to released is cleared and any other address is kept.
// Called inside directory.Modify so it reads the manager and writes the
// record in one cycle.
func (s *ChatService) syncAddress(rec *models.UserRecord, released string) *models.UserRecord {
	if hs, ok := s.hidden.Get(rec.UserID); ok {
		rec.NetworkAddress = hs.Address
	} else if released != "" && rec.NetworkAddress == released {
		rec.NetworkAddress = ""
	}
	return rec
}

// HiddenService returns the active address of userID.
func (s *ChatService) HiddenService(userID string) (*models.HiddenAddress, bool) {
	return s.hidden.Get(userID)
}

// Disconnect releases ch. Nothing happens when ch was already replaced by
// a newer connection of the same user.
func (s *ChatService) Disconnect(ctx context.Context, userID string, ch registry.Channel) error {
	if userID == "" || !s.registry.Unregister(userID, ch) {
		return nil
	}

	rec, err := s.directory.Modify(ctx, userID, func(cur *models.UserRecord) (*models.UserRecord, error) {
		if cur == nil {
			return nil, nil
		}
		cur.LastSeen = s.clock.Now().UTC()
		return cur, nil
	})
	if err != nil || rec == nil {
		return err
	}

	s.registry.Broadcast(models.EventUserStatus, models.UserStatus{
		UserID:   rec.UserID,
		Username: rec.Username,
		Status:   models.PresenceOffline,
	}, userID)

	s.logger.Info(ctx, "user disconnected", "user_id", userID)
	return nil
}

// DeliveryStatus reports the relay envelope for messageID, if any.
func (s *ChatService) DeliveryStatus(messageID string) (models.RelayEnvelope, bool) {
	return s.engine.Queue().Get(delivery.RelayID(messageID))
}

func (s *ChatService) Stats() Stats {
	return Stats{
		OnlineUsers:    len(s.registry.Online()),
		RelayQueue:     s.engine.Queue().Len(),
		HiddenServices: s.hidden.Status(),
	}
}

func (s *ChatService) resolvePair(ctx context.Context, senderID, recipientID string) (*models.UserRecord, *models.UserRecord, error) {
	sender, found, err := s.directory.FindByUserID(ctx, senderID)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, fmt.Errorf("%w: sender %s", common.ErrorNotFound, senderID)
	}

	recipient, found, err := s.directory.FindByUserID(ctx, recipientID)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, fmt.Errorf("%w: recipient %s", common.ErrorNotFound, recipientID)
	}
	return sender, recipient, nil
}

func (s *ChatService) newMessage(sender *models.UserRecord, req SendRequest) *models.Message {
	return &models.Message{
		ID:          uuid.NewString(),
		SenderID:    sender.UserID,
		SenderName:  sender.Username,
		RecipientID: req.RecipientID,
		Content:     req.Content,
		Timestamp:   s.clock.Now().UnixMilli(),
		IsEncrypted: req.IsEncrypted,
	}
}

func (s *ChatService) notifySender(senderID string, ev models.MessageDelivered) {
	ch, ok := s.registry.Find(senderID)
	if !ok {
		return
	}
	if err := ch.Send(models.EventMessageDelivered, ev); err != nil {
		s.logger.Debug(context.Background(), "sender notification failed", "user_id", senderID, "error", err)
	}
}
