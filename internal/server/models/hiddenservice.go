package models

import "time"

// HiddenAddress is the per-user ephemeral endpoint. Simulated marks
// addresses fabricated locally because no control channel was available;
// they are syntactically valid but nothing routes to them.
type HiddenAddress struct {
	UserID     string    `json:"userId"`
	Address    string    `json:"address"`
	Port       int       `json:"port"`
	Target     string    `json:"target"`
	ServiceID  string    `json:"serviceId"`
	PrivateKey []byte    `json:"-"`
	Simulated  bool      `json:"simulated"`
	CreatedAt  time.Time `json:"createdAt"`
}
