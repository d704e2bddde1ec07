package models

// Events exchanged over live channels.
const (
	EventAuthenticate          = "authenticate"
	EventAuthenticated         = "authenticated"
	EventLookupUser            = "lookup_user"
	EventUserFound             = "user_found"
	EventUserNotFound          = "user_not_found"
	EventPrivateMessage        = "private_message"
	EventMessageDelivered      = "message_delivered"
	EventUserStatus            = "user_status"
	EventRegisterHiddenService = "register_hidden_service"
	EventHiddenServiceCreated  = "hidden_service_registered"
	EventRemoveHiddenService   = "remove_hidden_service"
	EventHiddenServiceRemoved  = "hidden_service_removed"
	EventHeartbeat             = "heartbeat"
	EventError                 = "error"
)

// Presence values carried by user_status.
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

// MessageDelivered is pushed to the sender. Method is omitted when unknown.
type MessageDelivered struct {
	MessageID   string `json:"messageId"`
	RecipientID string `json:"recipientId"`
	Status      string `json:"status"`
	Method      string `json:"method,omitempty"`
}

// UserStatus is broadcast on presence changes.
type UserStatus struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Status   string `json:"status"`
}
