package domain

import (
	"encoding/json"
	"time"
)

// MessageType represents the kind of an envelope on the wire
type MessageType string

// Inbound message types (client to server)
const (
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypePing        MessageType = "ping"
)

// Outbound message types (server to client)
const (
	MessageTypeConnectionEstablished MessageType = "connection_established"
	MessageTypeSubscriptionConfirmed MessageType = "subscription_confirmed"
	MessageTypeGenerationProgress    MessageType = "generation_progress"
	MessageTypeTrainingProgress      MessageType = "training_progress"
	MessageTypeCreditBalanceUpdate   MessageType = "credit_balance_update"
	MessageTypeFeedUpdate            MessageType = "feed_update"
	MessageTypeNotification          MessageType = "notification"
)

// Envelope is the wire unit exchanged over a connection. The timestamp is
// stamped by the sending side of the protocol layer; inbound timestamps
// supplied by clients are never trusted.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	UserID    string          `json:"userId,omitempty"`
}

// NewEnvelope creates an outbound envelope, stamping the emission time
func NewEnvelope(messageType MessageType, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{
		Type:      messageType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Decode decodes the envelope payload into the provided value
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Marshal marshals the envelope to bytes
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal unmarshals bytes into an envelope
func Unmarshal(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// ConnectionEstablishedPayload confirms admission to the connecting client
type ConnectionEstablishedPayload struct {
	ClientID string `json:"clientId"`
	UserID   string `json:"userId"`
}

// SubscriptionPayload carries the channel list of a subscribe or
// unsubscribe request
type SubscriptionPayload struct {
	Channels []string `json:"channels"`
}

// SubscriptionConfirmedPayload echoes the channels of a subscribe request
type SubscriptionConfirmedPayload struct {
	Channels []string `json:"channels"`
}

// GenerationProgressPayload reports image/video generation job progress
type GenerationProgressPayload struct {
	JobID    string          `json:"jobId"`
	Progress float64         `json:"progress"`
	Status   string          `json:"status"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// TrainingProgressPayload reports model training job progress
type TrainingProgressPayload struct {
	JobID       string  `json:"jobId"`
	Progress    float64 `json:"progress"`
	Status      string  `json:"status"`
	CurrentStep string  `json:"currentStep,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// CreditBalancePayload reports a credit balance change
type CreditBalancePayload struct {
	UserID      string          `json:"userId"`
	NewBalance  int64           `json:"newBalance"`
	Transaction json.RawMessage `json:"transaction"`
}

// Feed update kinds
const (
	FeedUpdateNewContent = "new_content"
	FeedUpdateLike       = "like"
	FeedUpdateComment    = "comment"
)

// FeedUpdatePayload reports a social feed change on a channel
type FeedUpdatePayload struct {
	Type      string          `json:"type"`
	ContentID string          `json:"contentId"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// RegistryStats is a read-only diagnostic view of the connection registry
type RegistryStats struct {
	TotalConnections int            `json:"totalConnections"`
	PerUserCounts    map[string]int `json:"perUserCounts"`
}
