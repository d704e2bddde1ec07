package models

import "time"

// Delivery methods reported in outcomes and confirmations.
const (
	MethodDirect = "direct"
	MethodRelay  = "relay"
)

// Delivery statuses pushed to senders and passed to completion callbacks.
const (
	StatusDelivered = "delivered"
	StatusPending   = "pending"
	StatusAbandoned = "abandoned"
)

// Message is immutable once built; ID is a UUID.
type Message struct {
	ID          string `json:"id"`
	SenderID    string `json:"senderId"`
	SenderName  string `json:"senderName"`
	RecipientID string `json:"recipientId"`
	Content     string `json:"content"`
	Timestamp   int64  `json:"timestamp"`
	IsEncrypted bool   `json:"isEncrypted"`
}

// RelayEnvelope is a queued message waiting for the recipient to show up
// on the signaling hub.
type RelayEnvelope struct {
	RelayID     string
	Message     *Message
	Sender      *UserRecord
	Recipient   *UserRecord
	Attempts    int
	Delivered   bool
	Abandoned   bool
	Timestamp   time.Time
	LastAttempt time.Time
	DeliveredAt time.Time
}

// DeliveryOutcome is the synchronous result of a delivery request. For
// MethodRelay, Success only means the envelope was queued.
type DeliveryOutcome struct {
	Success   bool      `json:"success"`
	MessageID string    `json:"messageId"`
	Method    string    `json:"method"`
	RelayID   string    `json:"relayId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// DeliveryStatus is the final status handed to a completion callback.
type DeliveryStatus struct {
	MessageID   string
	RecipientID string
	Status      string
	Method      string
	Attempts    int
}
