package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/patchbay-io/patchbay/internal/models"
)

func (s *SQLiteStore) FindLeadByPhone(tenantID, phone string) (*models.Lead, error) {
	row := s.db.QueryRow(
		`SELECT id, tenant_id, first_name, last_name, phone, email, consent_sms
		 FROM leads WHERE tenant_id = ? AND phone = ? LIMIT 1`,
		tenantID, phone,
	)
	return scanLead(row)
}

func (s *SQLiteStore) GetLead(id string) (*models.Lead, error) {
	row := s.db.QueryRow(
		`SELECT id, tenant_id, first_name, last_name, phone, email, consent_sms
		 FROM leads WHERE id = ?`,
		id,
	)
	return scanLead(row)
}

func (s *SQLiteStore) InsertLead(l models.Lead) (string, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	_, err := s.db.Exec(
		`INSERT INTO leads (id, tenant_id, first_name, last_name, phone, email, consent_sms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.TenantID, nilIfEmpty(l.FirstName), nilIfEmpty(l.LastName),
		nilIfEmpty(l.Phone), nilIfEmpty(l.Email), l.ConsentSMS, time.Now(),
	)
	if err != nil {
		return "", fmt.Errorf("insert lead failed: %w", err)
	}
	return l.ID, nil
}

func (s *SQLiteStore) SetConsentByPhone(tenantID, phone string, consent bool) (int64, error) {
	result, err := s.db.Exec(
		`UPDATE leads SET consent_sms = ? WHERE tenant_id = ? AND phone = ?`,
		consent, tenantID, phone,
	)
	if err != nil {
		return 0, fmt.Errorf("set consent by phone failed: %w", err)
	}
	n, _ := result.RowsAffected()
	slog.Debug("SQLiteStore.SetConsentByPhone", "tenantID", tenantID, "consent", consent, "affected", n)
	return n, nil
}

func (s *SQLiteStore) ResolveInboundTenant(messagingServiceSID, toNumber string) (string, error) {
	// MSID mapping wins over number-based routing.
	if messagingServiceSID != "" {
		var tenantID string
		err := s.db.QueryRow(
			`SELECT tenant_id FROM messaging_credentials WHERE messaging_service_sid = ?`,
			messagingServiceSID,
		).Scan(&tenantID)
		if err == nil {
			return tenantID, nil
		}
		if err != sql.ErrNoRows {
			return "", fmt.Errorf("resolve tenant by MSID failed: %w", err)
		}
	}
	if toNumber != "" {
		var tenantID string
		err := s.db.QueryRow(
			`SELECT id FROM tenants WHERE business_number = ?`,
			toNumber,
		).Scan(&tenantID)
		if err == nil {
			return tenantID, nil
		}
		if err != sql.ErrNoRows {
			return "", fmt.Errorf("resolve tenant by number failed: %w", err)
		}
	}
	return "", nil
}

func (s *SQLiteStore) FindTenantByIngestToken(token string) (*models.Tenant, error) {
	if token == "" {
		return nil, nil
	}
	var t models.Tenant
	var businessNumber, ingestToken sql.NullString
	err := s.db.QueryRow(
		`SELECT id, name, business_number, ingest_token FROM tenants WHERE ingest_token = ?`,
		token,
	).Scan(&t.ID, &t.Name, &businessNumber, &ingestToken)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find tenant by ingest token failed: %w", err)
	}
	t.BusinessNumber = businessNumber.String
	t.IngestToken = ingestToken.String
	return &t, nil
}

func (s *SQLiteStore) GetMessagingCredentials(tenantID string) (*models.MessagingCredentials, error) {
	var c models.MessagingCredentials
	var accountSID, authToken, msid, fromNumber sql.NullString
	err := s.db.QueryRow(
		`SELECT tenant_id, provider, account_sid, auth_token, messaging_service_sid, from_number
		 FROM messaging_credentials WHERE tenant_id = ?`,
		tenantID,
	).Scan(&c.TenantID, &c.Provider, &accountSID, &authToken, &msid, &fromNumber)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get messaging credentials failed: %w", err)
	}
	c.AccountSID = accountSID.String
	c.AuthToken = authToken.String
	c.MessagingServiceSID = msid.String
	c.FromNumber = fromNumber.String
	return &c, nil
}

func (s *SQLiteStore) GetTemplate(tenantID, key string) (*models.Template, error) {
	var t models.Template
	err := s.db.QueryRow(
		`SELECT tenant_id, key, content FROM templates WHERE tenant_id = ? AND key = ?`,
		tenantID, key,
	).Scan(&t.TenantID, &t.Key, &t.Content)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get template failed: %w", err)
	}
	return &t, nil
}
