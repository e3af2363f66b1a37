package store

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/patchbay-io/patchbay/internal/models"
)

// InMemoryStore is a map-backed Store for tests and local development. It
// mirrors the SQL backends' semantics, including due-ordering and the
// processed_at write discipline.
type InMemoryStore struct {
	mu sync.Mutex

	outbox        []models.OutboxEvent
	notifications []models.NotificationEvent
	rules         []models.NotificationRule
	messages      []models.Message
	leads         []models.Lead
	tenants       []models.Tenant
	credentials   map[string]models.MessagingCredentials
	templates     map[string]models.Template
	buckets       map[string]models.BucketState
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		credentials: make(map[string]models.MessagingCredentials),
		templates:   make(map[string]models.Template),
		buckets:     make(map[string]models.BucketState),
	}
}

func (s *InMemoryStore) EnqueueOutboxEvent(tenantID string, eventType models.EventType, payloadJSON string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	e := models.OutboxEvent{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		EventType:     eventType,
		PayloadJSON:   payloadJSON,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
	s.outbox = append(s.outbox, e)
	return e.ID, nil
}

func (s *InMemoryStore) ListDueOutboxEvents(now time.Time, limit int) ([]models.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []models.OutboxEvent
	for _, e := range s.outbox {
		if e.ProcessedAt == nil && !e.NextAttemptAt.After(now) {
			due = append(due, e)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].NextAttemptAt.Before(due[j].NextAttemptAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *InMemoryStore) MarkOutboxProcessed(id string, processedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.outbox {
		if s.outbox[i].ID == id {
			t := processedAt
			s.outbox[i].ProcessedAt = &t
			return nil
		}
	}
	return nil
}

func (s *InMemoryStore) EnqueueNotificationEvent(tenantID string, eventType models.EventType, payloadJSON string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	e := models.NotificationEvent{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		EventType:     eventType,
		PayloadJSON:   payloadJSON,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
	s.notifications = append(s.notifications, e)
	return e.ID, nil
}

func (s *InMemoryStore) ListDueNotificationEvents(now time.Time, limit int) ([]models.NotificationEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []models.NotificationEvent
	for _, e := range s.notifications {
		if e.ProcessedAt == nil && !e.NextAttemptAt.After(now) {
			due = append(due, e)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].NextAttemptAt.Before(due[j].NextAttemptAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *InMemoryStore) MarkNotificationProcessed(id string, processedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.notifications {
		if s.notifications[i].ID == id {
			t := processedAt
			s.notifications[i].ProcessedAt = &t
			return nil
		}
	}
	return nil
}

func (s *InMemoryStore) ListNotificationRules(tenantID string, eventType models.EventType) ([]models.NotificationRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.NotificationRule
	for _, r := range s.rules {
		if r.TenantID == tenantID && r.EventType == eventType {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *InMemoryStore) InsertMessage(m models.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	s.messages = append(s.messages, m)
	return m.ID, nil
}

func (s *InMemoryStore) UpdateMessageStatusByProviderID(providerMessageID string, status models.MessageStatus, errorCode string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.messages {
		if s.messages[i].ProviderMessageID == providerMessageID && providerMessageID != "" {
			s.messages[i].Status = status
			s.messages[i].ErrorCode = errorCode
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) InsertLead(l models.Lead) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	s.leads = append(s.leads, l)
	return l.ID, nil
}

func (s *InMemoryStore) FindLeadByPhone(tenantID, phone string) (*models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.leads {
		if s.leads[i].TenantID == tenantID && s.leads[i].Phone == phone {
			l := s.leads[i]
			return &l, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) GetLead(id string) (*models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.leads {
		if s.leads[i].ID == id {
			l := s.leads[i]
			return &l, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) SetConsentByPhone(tenantID, phone string, consent bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.leads {
		if s.leads[i].TenantID == tenantID && s.leads[i].Phone == phone {
			s.leads[i].ConsentSMS = consent
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) ResolveInboundTenant(messagingServiceSID, toNumber string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if messagingServiceSID != "" {
		for _, c := range s.credentials {
			if c.MessagingServiceSID == messagingServiceSID {
				return c.TenantID, nil
			}
		}
	}
	if toNumber != "" {
		for _, t := range s.tenants {
			if t.BusinessNumber == toNumber {
				return t.ID, nil
			}
		}
	}
	return "", nil
}

func (s *InMemoryStore) FindTenantByIngestToken(token string) (*models.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token == "" {
		return nil, nil
	}
	for i := range s.tenants {
		if s.tenants[i].IngestToken == token {
			t := s.tenants[i]
			return &t, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) GetMessagingCredentials(tenantID string) (*models.MessagingCredentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.credentials[tenantID]; ok {
		return &c, nil
	}
	return nil, nil
}

func (s *InMemoryStore) GetTemplate(tenantID, key string) (*models.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.templates[tenantID+":"+key]; ok {
		return &t, nil
	}
	return nil, nil
}

func (s *InMemoryStore) GetBucket(tenantID, bucket string) (*models.BucketState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.buckets[tenantID+":"+bucket]; ok {
		return &st, nil
	}
	return nil, nil
}

func (s *InMemoryStore) PutBucket(tenantID, bucket string, state models.BucketState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets[tenantID+":"+bucket] = state
	return nil
}

func (s *InMemoryStore) Close() error { return nil }

// Seeding helpers for tests and local development.

// AddTenant registers a tenant.
func (s *InMemoryStore) AddTenant(t models.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants = append(s.tenants, t)
}

// AddLead registers a lead.
func (s *InMemoryStore) AddLead(l models.Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads = append(s.leads, l)
}

// AddRule registers a notification rule.
func (s *InMemoryStore) AddRule(r models.NotificationRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	s.rules = append(s.rules, r)
}

// AddCredentials registers per-tenant messaging credentials.
func (s *InMemoryStore) AddCredentials(c models.MessagingCredentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[c.TenantID] = c
}

// AddTemplate registers a tenant template.
func (s *InMemoryStore) AddTemplate(t models.Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.TenantID+":"+t.Key] = t
}

// Messages returns a copy of all recorded messages.
func (s *InMemoryStore) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// OutboxEvents returns a copy of all outbox events, processed or not.
func (s *InMemoryStore) OutboxEvents() []models.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.OutboxEvent, len(s.outbox))
	copy(out, s.outbox)
	return out
}

// NotificationEvents returns a copy of all notification events.
func (s *InMemoryStore) NotificationEvents() []models.NotificationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.NotificationEvent, len(s.notifications))
	copy(out, s.notifications)
	return out
}

// Leads returns a copy of all leads.
func (s *InMemoryStore) Leads() []models.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Lead, len(s.leads))
	copy(out, s.leads)
	return out
}
