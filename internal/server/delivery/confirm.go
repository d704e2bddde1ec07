package delivery

import (
	"github.com/dmitrijs2005/burrow/internal/server/models"
	"github.com/dmitrijs2005/burrow/internal/server/registry"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Presence looks up a live channel for a user.
type Presence interface {
	Find(userID string) (registry.Channel, bool)
}

// Confirmer pushes message_delivered to senders, at most once per message
// id as long as the id is still in the LRU window.
type Confirmer struct {
	presence Presence
	seen     *lru.Cache[string, struct{}]
}

func NewConfirmer(presence Presence, size int) (*Confirmer, error) {
	seen, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, err
	}
	return &Confirmer{presence: presence, seen: seen}, nil
}

// Confirm reports whether this call claimed the confirmation for msg. The
// push itself is skipped when the sender is offline.
func (c *Confirmer) Confirm(msg *models.Message, method string) bool {
	if found, _ := c.seen.ContainsOrAdd(msg.ID, struct{}{}); found {
		return false
	}
	if ch, ok := c.presence.Find(msg.SenderID); ok {
		_ = ch.Send(models.EventMessageDelivered, models.MessageDelivered{
			MessageID:   msg.ID,
			RecipientID: msg.RecipientID,
			Status:      models.StatusDelivered,
			Method:      method,
		})
	}
	return true
}

// Confirmed reports whether msgID was already confirmed.
func (c *Confirmer) Confirmed(msgID string) bool {
	return c.seen.Contains(msgID)
}
