package models

import "time"

// UserRecord is the directory view of a user. NetworkAddress is empty until
// a hidden address has been provisioned.
type UserRecord struct {
	UserID         string    `json:"userId"`
	Username       string    `json:"username"`
	PublicKey      string    `json:"publicKey"`
	NetworkAddress string    `json:"networkAddress,omitempty"`
	LastSeen       time.Time `json:"lastSeen"`
}

// Clone returns a copy that callers may mutate freely.
func (u *UserRecord) Clone() *UserRecord {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
