// Package twiliosms wraps the Twilio REST API for SMS delivery and verifies
// inbound webhook signatures.
package twiliosms

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Sender sends a single SMS and returns the provider message SID.
type Sender interface {
	SendSMS(ctx context.Context, to, from, messagingServiceSID, body string) (string, error)
}

// Opts holds configuration options for the Twilio client.
type Opts struct {
	AccountSID string
	AuthToken  string
}

// Option defines a configuration option for the Twilio client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// Client wraps the Twilio REST API for outbound SMS.
type Client struct {
	client *twilio.RestClient
}

// NewClient creates a Twilio client, falling back to TWILIO_ACCOUNT_SID and
// TWILIO_AUTH_TOKEN environment variables for anything not provided via options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})

	return &Client{client: client}, nil
}

// SendSMS sends an SMS via the Twilio API. An explicit from number wins over
// the messaging service SID; exactly one of the two must be set.
func (c *Client) SendSMS(ctx context.Context, to, from, messagingServiceSID, body string) (string, error) {
	if to == "" {
		return "", fmt.Errorf("send SMS: destination number is required")
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetBody(body)
	if from != "" {
		params.SetFrom(from)
	} else if messagingServiceSID != "" {
		params.SetMessagingServiceSid(messagingServiceSID)
	} else {
		return "", fmt.Errorf("send SMS: from number or messaging service SID is required")
	}

	msg, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Client.SendSMS: Twilio send failed", "to", to, "error", err)
		return "", fmt.Errorf("failed to send SMS to %s: %w", to, err)
	}

	sid := ""
	if msg.Sid != nil {
		sid = *msg.Sid
	}
	slog.Debug("Client.SendSMS: message accepted by Twilio", "to", to, "sid", sid)
	return sid, nil
}
