// Package outbox implements the periodic event processor.
//
// Each run drains up to one batch of due outbox events, dispatching by event
// type, then drains the notification queue by expanding each event into
// per-rule sends. Rows are marked processed exactly once; send failures are
// logged and swallowed rather than retried, so the queue never wedges on a
// misbehaving provider.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/patchbay-io/patchbay/internal/messaging"
	"github.com/patchbay-io/patchbay/internal/models"
	"github.com/patchbay-io/patchbay/internal/store"
)

// DefaultQuoteMessage is sent when a tenant has no quote_sms template.
const DefaultQuoteMessage = "You have a new quote."

// defaultNotificationBody stands in when a notification event carries no body.
const defaultNotificationBody = "[Notification]"

// quoteTemplateKey is the tenant template rendered for quote.created events.
const quoteTemplateKey = "quote_sms"

// Dispatcher sends one outbound message through the resolved provider.
type Dispatcher interface {
	Send(ctx context.Context, req messaging.SendRequest) (messaging.SendResult, error)
}

// Opts holds configuration options for the Processor.
type Opts struct {
	BatchSize int
	Interval  time.Duration
}

// Option defines a configuration option for the Processor.
type Option func(*Opts)

// WithBatchSize overrides the per-run batch bound.
func WithBatchSize(n int) Option {
	return func(o *Opts) { o.BatchSize = n }
}

// WithInterval sets the polling interval used by Run.
func WithInterval(d time.Duration) Option {
	return func(o *Opts) { o.Interval = d }
}

// Processor drains the outbox and notification queues.
type Processor struct {
	store      store.Store
	dispatcher Dispatcher
	opts       Opts

	// now is replaceable in tests.
	now func() time.Time
}

// NewProcessor creates a Processor over the given store and dispatcher.
func NewProcessor(st store.Store, d Dispatcher, opts ...Option) *Processor {
	cfg := Opts{
		BatchSize: store.DefaultBatchSize,
		Interval:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Processor{store: st, dispatcher: d, opts: cfg, now: time.Now}
}

// ProcessDue drains one batch of due outbox events, then one batch of due
// notification events, and returns the total number of rows processed.
func (p *Processor) ProcessDue(ctx context.Context) (int, error) {
	now := p.now()
	processed := 0

	due, err := p.store.ListDueOutboxEvents(now, p.opts.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list due outbox events: %w", err)
	}
	for _, event := range due {
		p.dispatchOutboxEvent(ctx, event)
		if err := p.store.MarkOutboxProcessed(event.ID, p.now()); err != nil {
			return processed, fmt.Errorf("mark outbox event %s processed: %w", event.ID, err)
		}
		processed++
	}

	notifs, err := p.store.ListDueNotificationEvents(now, p.opts.BatchSize)
	if err != nil {
		return processed, fmt.Errorf("list due notification events: %w", err)
	}
	for _, n := range notifs {
		var payload models.NotifyPayload
		if err := models.UnmarshalPayload(n.PayloadJSON, &payload); err != nil {
			slog.Error("Processor.ProcessDue: bad notification payload", "id", n.ID, "error", err)
		} else {
			p.expandNotification(n.TenantID, n.EventType, payload)
		}
		if err := p.store.MarkNotificationProcessed(n.ID, p.now()); err != nil {
			return processed, fmt.Errorf("mark notification event %s processed: %w", n.ID, err)
		}
		processed++
	}

	return processed, nil
}

// dispatchOutboxEvent handles a single event. Failures inside a branch are
// logged and swallowed; the caller marks the row processed regardless.
func (p *Processor) dispatchOutboxEvent(ctx context.Context, event models.OutboxEvent) {
	switch event.EventType {
	case models.EventMessageSend:
		p.handleMessageSend(ctx, event)
	case models.EventQuoteCreated:
		p.handleQuoteCreated(event)
	case models.EventNotificationDispatch:
		var payload models.NotifyPayload
		if err := models.UnmarshalPayload(event.PayloadJSON, &payload); err != nil {
			slog.Error("Processor.dispatchOutboxEvent: bad dispatch payload", "id", event.ID, "error", err)
			return
		}
		p.expandNotification(event.TenantID, payload.EventType, payload)
	default:
		// Unknown types are dropped rather than blocking the queue.
		slog.Warn("Processor.dispatchOutboxEvent: unknown event type", "id", event.ID, "eventType", event.EventType)
	}
}

func (p *Processor) handleMessageSend(ctx context.Context, event models.OutboxEvent) {
	var payload models.SendPayload
	if err := models.UnmarshalPayload(event.PayloadJSON, &payload); err != nil {
		slog.Error("Processor.handleMessageSend: bad payload", "id", event.ID, "error", err)
		return
	}

	msg := models.Message{
		TenantID:   event.TenantID,
		LeadID:     payload.LeadID,
		Direction:  models.DirectionOutbound,
		Channel:    models.ChannelSMS,
		FromNumber: payload.From,
		ToNumber:   payload.To,
		Body:       payload.Body,
	}

	res, err := p.dispatcher.Send(ctx, messaging.SendRequest{
		TenantID: event.TenantID,
		To:       payload.To,
		From:     payload.From,
		Body:     payload.Body,
	})
	if err != nil {
		// Send failures are not retried at this layer; the row is still
		// marked processed by the caller.
		slog.Error("Processor.handleMessageSend: send failed", "id", event.ID, "to", payload.To, "error", err)
		msg.Status = models.MessageStatusFailed
	} else {
		msg.ProviderMessageID = res.ProviderMessageID
		msg.Status = res.Status
		if res.FromNumber != "" {
			msg.FromNumber = res.FromNumber
		}
	}

	if _, err := p.store.InsertMessage(msg); err != nil {
		slog.Error("Processor.handleMessageSend: record message failed", "id", event.ID, "error", err)
	}
}

func (p *Processor) handleQuoteCreated(event models.OutboxEvent) {
	var payload models.QuotePayload
	if err := models.UnmarshalPayload(event.PayloadJSON, &payload); err != nil {
		slog.Error("Processor.handleQuoteCreated: bad payload", "id", event.ID, "error", err)
		return
	}

	lead, err := p.store.GetLead(payload.LeadID)
	if err != nil {
		slog.Error("Processor.handleQuoteCreated: lead lookup failed", "id", event.ID, "leadID", payload.LeadID, "error", err)
		return
	}

	body := DefaultQuoteMessage
	tmpl, err := p.store.GetTemplate(event.TenantID, quoteTemplateKey)
	if err != nil {
		slog.Error("Processor.handleQuoteCreated: template lookup failed", "id", event.ID, "error", err)
	} else if tmpl != nil {
		first, last := "", ""
		if lead != nil {
			first, last = lead.FirstName, lead.LastName
		}
		body = strings.ReplaceAll(tmpl.Content, "{{first_name}}", first)
		body = strings.ReplaceAll(body, "{{last_name}}", last)
	}

	if lead == nil || lead.Phone == "" {
		slog.Warn("Processor.handleQuoteCreated: lead has no phone, skipping send", "id", event.ID, "leadID", payload.LeadID)
		return
	}

	sendPayload, err := models.MarshalPayload(models.SendPayload{
		LeadID: payload.LeadID,
		To:     lead.Phone,
		Body:   body,
	})
	if err != nil {
		slog.Error("Processor.handleQuoteCreated: marshal chained payload", "id", event.ID, "error", err)
		return
	}
	if _, err := p.store.EnqueueOutboxEvent(event.TenantID, models.EventMessageSend, sendPayload); err != nil {
		slog.Error("Processor.handleQuoteCreated: enqueue chained send", "id", event.ID, "error", err)
	}
}

// expandNotification enqueues one message.send per matching sms rule.
func (p *Processor) expandNotification(tenantID string, eventType models.EventType, payload models.NotifyPayload) {
	rules, err := p.store.ListNotificationRules(tenantID, eventType)
	if err != nil {
		slog.Error("Processor.expandNotification: rule lookup failed", "tenantID", tenantID, "eventType", eventType, "error", err)
		return
	}
	body := payload.Body
	if body == "" {
		body = defaultNotificationBody
	}
	for _, rule := range rules {
		if rule.Channel != models.ChannelSMS {
			continue
		}
		sendPayload, err := models.MarshalPayload(models.SendPayload{
			To:   rule.Target,
			From: payload.From,
			Body: body,
		})
		if err != nil {
			slog.Error("Processor.expandNotification: marshal payload", "tenantID", tenantID, "error", err)
			continue
		}
		if _, err := p.store.EnqueueOutboxEvent(tenantID, models.EventMessageSend, sendPayload); err != nil {
			slog.Error("Processor.expandNotification: enqueue send", "tenantID", tenantID, "target", rule.Target, "error", err)
		}
	}
}

// Run polls ProcessDue at the configured interval until the context is
// cancelled. Errors are logged; the loop keeps going.
func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()
	slog.Info("Processor.Run: outbox poll loop started", "interval", p.opts.Interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Processor.Run: outbox poll loop stopped")
			return
		case <-ticker.C:
			n, err := p.ProcessDue(ctx)
			if err != nil {
				slog.Error("Processor.Run: process due events", "error", err)
				continue
			}
			if n > 0 {
				slog.Debug("Processor.Run: processed events", "count", n)
			}
		}
	}
}
