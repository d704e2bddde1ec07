package hub

import (
	"encoding/json"
	"time"
)

// Envelope is the frame exchanged over the socket in both directions.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ErrorData is the payload of an error frame.
type ErrorData struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type lookupData struct {
	Username string `json:"username"`
}

type notFoundData struct {
	Username string `json:"username"`
}

type hiddenServiceData struct {
	Port int `json:"port"`
}

type removedData struct {
	UserID  string `json:"userId"`
	Removed bool   `json:"removed"`
}

type heartbeatData struct {
	Timestamp time.Time `json:"timestamp"`
}

func newEnvelope(eventType string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: eventType, Data: raw, Timestamp: time.Now().UTC()})
}

// ParseData decodes the payload into v.
func (e *Envelope) ParseData(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}
