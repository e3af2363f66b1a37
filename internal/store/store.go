// Package store provides storage backends for Patchbay.
//
// It persists the outbox and notification queues, message and lead records,
// tenant routing/configuration, and token bucket state. SQLite and PostgreSQL
// backends run embedded migrations on open; an in-memory backend exists for
// tests.
package store

import (
	"strings"
	"time"

	"github.com/patchbay-io/patchbay/internal/models"
)

// DefaultBatchSize is the maximum number of due queue rows selected per
// processor invocation. It doubles as the backpressure bound per tick.
const DefaultBatchSize = 10

// Store is the persistence interface shared by all backends.
//
// Ownership discipline: MarkOutboxProcessed and MarkNotificationProcessed are
// the only writers of processed_at; UpdateMessageStatusByProviderID is the
// only writer of outbound message status/error_code; SetConsentByPhone is the
// only writer of consent_sms.
type Store interface {
	// EnqueueOutboxEvent inserts a pending outbox event due immediately and
	// returns its id.
	EnqueueOutboxEvent(tenantID string, eventType models.EventType, payloadJSON string) (string, error)

	// ListDueOutboxEvents returns up to limit unprocessed events whose
	// next_attempt_at <= now, oldest-due first.
	ListDueOutboxEvents(now time.Time, limit int) ([]models.OutboxEvent, error)

	// MarkOutboxProcessed sets processed_at for the event. The write is
	// idempotent and keyed by id.
	MarkOutboxProcessed(id string, processedAt time.Time) error

	// EnqueueNotificationEvent inserts a pending notification event due
	// immediately and returns its id.
	EnqueueNotificationEvent(tenantID string, eventType models.EventType, payloadJSON string) (string, error)

	// ListDueNotificationEvents mirrors ListDueOutboxEvents for the
	// notification queue.
	ListDueNotificationEvents(now time.Time, limit int) ([]models.NotificationEvent, error)

	// MarkNotificationProcessed sets processed_at for the notification event.
	MarkNotificationProcessed(id string, processedAt time.Time) error

	// ListNotificationRules returns the rules matching (tenant, event type).
	ListNotificationRules(tenantID string, eventType models.EventType) ([]models.NotificationRule, error)

	// InsertMessage records an inbound or outbound message and returns its id.
	InsertMessage(m models.Message) (string, error)

	// UpdateMessageStatusByProviderID updates status/error_code of the message
	// matching the provider message id. Zero matched rows is not an error;
	// the affected count is returned.
	UpdateMessageStatusByProviderID(providerMessageID string, status models.MessageStatus, errorCode string) (int64, error)

	// InsertLead records a new lead and returns its id.
	InsertLead(l models.Lead) (string, error)

	// FindLeadByPhone returns the lead with an exact phone match within the
	// tenant, or nil when absent.
	FindLeadByPhone(tenantID, phone string) (*models.Lead, error)

	// GetLead returns the lead by id, or nil when absent.
	GetLead(id string) (*models.Lead, error)

	// SetConsentByPhone flips consent_sms on ALL leads in the tenant matching
	// the phone number and returns the affected count.
	SetConsentByPhone(tenantID, phone string, consent bool) (int64, error)

	// ResolveInboundTenant resolves the tenant for an inbound message: the
	// messaging service SID mapping wins; the destination number mapping is
	// the fallback. Returns "" when neither matches.
	ResolveInboundTenant(messagingServiceSID, toNumber string) (string, error)

	// FindTenantByIngestToken returns the tenant owning the producer token,
	// or nil when the token matches nothing.
	FindTenantByIngestToken(token string) (*models.Tenant, error)

	// GetMessagingCredentials returns the tenant's provider credentials, or
	// nil when none are configured.
	GetMessagingCredentials(tenantID string) (*models.MessagingCredentials, error)

	// GetTemplate returns the tenant template for key, or nil when absent.
	GetTemplate(tenantID, key string) (*models.Template, error)

	// GetBucket returns the persisted token bucket state, or nil when the
	// bucket has never been used.
	GetBucket(tenantID, bucket string) (*models.BucketState, error)

	// PutBucket upserts token bucket state for (tenant, bucket).
	PutBucket(tenantID, bucket string, state models.BucketState) error

	// Close releases the underlying resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite". File paths and
// anything else default to SQLite.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}
