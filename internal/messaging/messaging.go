// Package messaging resolves the outbound SMS provider for a tenant and
// dispatches sends through it.
//
// Resolution walks a fixed fallback chain: the tenant's stored credentials
// win; environment-level Twilio defaults come next; the fake provider is the
// terminal fallback so development environments never hard-fail a send.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/patchbay-io/patchbay/internal/models"
	"github.com/patchbay-io/patchbay/internal/store"
	"github.com/patchbay-io/patchbay/internal/twiliosms"
)

// SendRequest describes one outbound SMS.
type SendRequest struct {
	TenantID string
	To       string
	// From, when set, overrides the resolved sender number.
	From string
	Body string
}

// SendResult reports the outcome of a dispatched send.
type SendResult struct {
	Provider          models.ProviderKind
	ProviderMessageID string
	Status            models.MessageStatus
	FromNumber        string
}

// Opts holds configuration options for the Resolver.
type Opts struct {
	DefaultAccountSID          string
	DefaultAuthToken           string
	DefaultFromNumber          string
	DefaultMessagingServiceSID string

	// NewTwilioSender builds a live Twilio sender from credentials. Tests
	// override it to capture sends.
	NewTwilioSender func(accountSID, authToken string) (twiliosms.Sender, error)

	// Fake is the terminal fallback sender.
	Fake twiliosms.Sender
}

// Option defines a configuration option for the Resolver.
type Option func(*Opts)

// WithDefaultCredentials sets the environment-level Twilio account.
func WithDefaultCredentials(accountSID, authToken string) Option {
	return func(o *Opts) {
		o.DefaultAccountSID = accountSID
		o.DefaultAuthToken = authToken
	}
}

// WithDefaultFromNumber sets the environment-level sender number.
func WithDefaultFromNumber(from string) Option {
	return func(o *Opts) { o.DefaultFromNumber = from }
}

// WithDefaultMessagingServiceSID sets the environment-level messaging service.
func WithDefaultMessagingServiceSID(sid string) Option {
	return func(o *Opts) { o.DefaultMessagingServiceSID = sid }
}

// WithTwilioSenderFactory overrides how live Twilio senders are constructed.
func WithTwilioSenderFactory(f func(accountSID, authToken string) (twiliosms.Sender, error)) Option {
	return func(o *Opts) { o.NewTwilioSender = f }
}

// WithFakeSender overrides the terminal fallback sender.
func WithFakeSender(s twiliosms.Sender) Option {
	return func(o *Opts) { o.Fake = s }
}

// Resolver picks a provider per tenant and sends through it.
type Resolver struct {
	store store.Store
	opts  Opts
}

// NewResolver creates a Resolver, falling back to TWILIO_ACCOUNT_SID,
// TWILIO_AUTH_TOKEN, TWILIO_FROM_NUMBER and TWILIO_MESSAGING_SERVICE_SID
// environment variables for any default not provided via options.
func NewResolver(st store.Store, opts ...Option) *Resolver {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DefaultAccountSID == "" {
		cfg.DefaultAccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.DefaultAuthToken == "" {
		cfg.DefaultAuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.DefaultFromNumber == "" {
		cfg.DefaultFromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	}
	if cfg.DefaultMessagingServiceSID == "" {
		cfg.DefaultMessagingServiceSID = os.Getenv("TWILIO_MESSAGING_SERVICE_SID")
	}
	if cfg.NewTwilioSender == nil {
		cfg.NewTwilioSender = func(accountSID, authToken string) (twiliosms.Sender, error) {
			return twiliosms.NewClient(
				twiliosms.WithAccountSID(accountSID),
				twiliosms.WithAuthToken(authToken),
			)
		}
	}
	if cfg.Fake == nil {
		cfg.Fake = twiliosms.NewFakeSender()
	}
	slog.Debug("Resolver config loaded",
		"DefaultAccountSID_set", cfg.DefaultAccountSID != "",
		"DefaultAuthToken_set", cfg.DefaultAuthToken != "",
		"DefaultFromNumber", cfg.DefaultFromNumber,
		"DefaultMessagingServiceSID_set", cfg.DefaultMessagingServiceSID != "")
	return &Resolver{store: st, opts: cfg}
}

// resolved is the provider selection for one send.
type resolved struct {
	provider            models.ProviderKind
	sender              twiliosms.Sender
	fromNumber          string
	messagingServiceSID string
}

// resolve walks the fallback chain for the tenant.
func (r *Resolver) resolve(tenantID string) (resolved, error) {
	creds, err := r.store.GetMessagingCredentials(tenantID)
	if err != nil {
		return resolved{}, fmt.Errorf("resolve provider for tenant %s: %w", tenantID, err)
	}
	if creds != nil {
		switch creds.Provider {
		case models.ProviderFake:
			return resolved{provider: models.ProviderFake, sender: r.opts.Fake}, nil
		case models.ProviderTwilio:
			if creds.AccountSID != "" && creds.AuthToken != "" {
				sender, err := r.opts.NewTwilioSender(creds.AccountSID, creds.AuthToken)
				if err != nil {
					return resolved{}, fmt.Errorf("build tenant Twilio sender: %w", err)
				}
				return resolved{
					provider:            models.ProviderTwilio,
					sender:              sender,
					fromNumber:          creds.FromNumber,
					messagingServiceSID: creds.MessagingServiceSID,
				}, nil
			}
			slog.Warn("Resolver.resolve: tenant Twilio credentials incomplete, falling back", "tenantID", tenantID)
		}
	}
	if r.opts.DefaultAccountSID != "" && r.opts.DefaultAuthToken != "" {
		sender, err := r.opts.NewTwilioSender(r.opts.DefaultAccountSID, r.opts.DefaultAuthToken)
		if err != nil {
			return resolved{}, fmt.Errorf("build default Twilio sender: %w", err)
		}
		return resolved{
			provider:            models.ProviderTwilio,
			sender:              sender,
			fromNumber:          r.opts.DefaultFromNumber,
			messagingServiceSID: r.opts.DefaultMessagingServiceSID,
		}, nil
	}
	return resolved{provider: models.ProviderFake, sender: r.opts.Fake}, nil
}

// Send resolves the tenant's provider and dispatches the message. Twilio
// accepts asynchronously, so its result status is queued; the fake provider
// reports sent immediately.
func (r *Resolver) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	if req.To == "" {
		return SendResult{}, models.ErrEmptyRecipient
	}
	if req.Body == "" {
		return SendResult{}, models.ErrEmptyBody
	}

	sel, err := r.resolve(req.TenantID)
	if err != nil {
		return SendResult{}, err
	}

	from := sel.fromNumber
	if req.From != "" {
		from = req.From
	}

	sid, err := sel.sender.SendSMS(ctx, req.To, from, sel.messagingServiceSID, req.Body)
	if err != nil {
		return SendResult{}, fmt.Errorf("send via %s: %w", sel.provider, err)
	}

	status := models.MessageStatusQueued
	if sel.provider == models.ProviderFake {
		status = models.MessageStatusSent
	}
	slog.Debug("Resolver.Send: message dispatched",
		"tenantID", req.TenantID, "provider", sel.provider, "to", req.To, "sid", sid)
	return SendResult{
		Provider:          sel.provider,
		ProviderMessageID: sid,
		Status:            status,
		FromNumber:        from,
	}, nil
}
