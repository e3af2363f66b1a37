// Package models defines the core data structures for Patchbay.
//
// It includes the outbox/notification event model, message and lead records,
// tenant messaging configuration, and the API response envelope shared across
// modules.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType identifies the kind of work an outbox or notification event carries.
type EventType string

const (
	// EventMessageSend delivers an outbound SMS through the resolved provider.
	EventMessageSend EventType = "message.send"
	// EventQuoteCreated renders the tenant quote template and chains a send.
	EventQuoteCreated EventType = "quote.created"
	// EventNotificationDispatch expands an event into per-rule sends.
	EventNotificationDispatch EventType = "notification.dispatch"
	// EventMessageReceived is raised for every inbound message.
	EventMessageReceived EventType = "message.received"
	// EventLeadCreated is raised when a producer ingests a new lead.
	EventLeadCreated EventType = "lead.created"
)

// Direction distinguishes inbound from outbound messages.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// MessageStatus tracks a message through the provider lifecycle.
type MessageStatus string

const (
	MessageStatusQueued    MessageStatus = "queued"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusFailed    MessageStatus = "failed"
	MessageStatusReceived  MessageStatus = "received"
)

// ProviderKind selects the messaging provider for a tenant.
type ProviderKind string

const (
	ProviderTwilio ProviderKind = "twilio"
	ProviderFake   ProviderKind = "fake"
)

// ChannelSMS is the only delivery channel currently supported.
const ChannelSMS = "sms"

// Error variables shared across modules for testable error handling.
var (
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
	ErrEmptyBody      = errors.New("message body cannot be empty")
	ErrNoConsent      = errors.New("lead has not consented to SMS")
	ErrLeadNotFound   = errors.New("lead not found")
	ErrTenantNotFound = errors.New("tenant not found")
)

// SendPayload is the typed payload of a message.send event.
type SendPayload struct {
	LeadID string `json:"lead_id,omitempty"`
	To     string `json:"to"`
	From   string `json:"from,omitempty"`
	Body   string `json:"body"`
	// Reason annotates system-generated sends for auditability,
	// e.g. "consent:stop" for opt-out confirmations.
	Reason string `json:"reason,omitempty"`
}

// QuotePayload is the typed payload of a quote.created event.
type QuotePayload struct {
	QuoteID string `json:"quote_id,omitempty"`
	LeadID  string `json:"lead_id"`
}

// NotifyPayload is the typed payload of notification.dispatch, message.received
// and lead.created events.
type NotifyPayload struct {
	EventType EventType `json:"event_type,omitempty"`
	LeadID    string    `json:"lead_id,omitempty"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Body      string    `json:"body,omitempty"`
}

// OutboxEvent is a durable unit of pending side-effecting work. Rows are never
// deleted; processing sets ProcessedAt exactly once.
type OutboxEvent struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenant_id"`
	EventType     EventType  `json:"event_type"`
	PayloadJSON   string     `json:"payload_json"`
	NextAttemptAt time.Time  `json:"next_attempt_at"`
	ProcessedAt   *time.Time `json:"processed_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

// NotificationEvent has the same shape as OutboxEvent but lives in a separate
// queue: it is a domain event awaiting fan-out to notification rules.
type NotificationEvent struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenant_id"`
	EventType     EventType  `json:"event_type"`
	PayloadJSON   string     `json:"payload_json"`
	NextAttemptAt time.Time  `json:"next_attempt_at"`
	ProcessedAt   *time.Time `json:"processed_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

// NotificationRule routes a domain event to a destination. Owned by tenant
// configuration; read-only from the dispatcher's perspective.
type NotificationRule struct {
	ID                string    `json:"id"`
	TenantID          string    `json:"tenant_id"`
	EventType         EventType `json:"event_type"`
	Channel           string    `json:"channel"`
	Target            string    `json:"target"`
	UseBusinessNumber bool      `json:"use_business_number"`
}

// Message is a single inbound or outbound message record.
type Message struct {
	ID                string        `json:"id"`
	TenantID          string        `json:"tenant_id"`
	LeadID            string        `json:"lead_id,omitempty"`
	Direction         Direction     `json:"direction"`
	Channel           string        `json:"channel"`
	FromNumber        string        `json:"from_number,omitempty"`
	ToNumber          string        `json:"to_number,omitempty"`
	Body              string        `json:"body,omitempty"`
	ProviderMessageID string        `json:"provider_message_id,omitempty"`
	Status            MessageStatus `json:"status"`
	ErrorCode         string        `json:"error_code,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
}

// Lead is the subset of the CRM lead record this subsystem reads and mutates.
type Lead struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenant_id"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
	ConsentSMS bool   `json:"consent_sms"`
}

// Tenant holds the routing attributes needed to resolve inbound traffic.
type Tenant struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	BusinessNumber string `json:"business_number,omitempty"`
	IngestToken    string `json:"-"`
}

// MessagingCredentials is the per-tenant provider selection plus secrets.
// Absence of a row falls back to environment-level defaults.
type MessagingCredentials struct {
	TenantID            string       `json:"tenant_id"`
	Provider            ProviderKind `json:"provider"`
	AccountSID          string       `json:"account_sid,omitempty"`
	AuthToken           string       `json:"auth_token,omitempty"`
	MessagingServiceSID string       `json:"messaging_service_sid,omitempty"`
	FromNumber          string       `json:"from_number,omitempty"`
}

// Template is a tenant-owned message template keyed by name.
type Template struct {
	TenantID string `json:"tenant_id"`
	Key      string `json:"key"`
	Content  string `json:"content"`
}

// BucketState is the persisted token bucket state for one (tenant, bucket) key.
type BucketState struct {
	Tokens    float64   `json:"tokens"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MarshalPayload encodes a typed event payload for the payload column.
func MarshalPayload(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal event payload: %w", err)
	}
	return string(b), nil
}

// UnmarshalPayload decodes an event payload column into the typed struct.
func UnmarshalPayload(payloadJSON string, v any) error {
	if payloadJSON == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(payloadJSON), v); err != nil {
		return fmt.Errorf("unmarshal event payload: %w", err)
	}
	return nil
}
