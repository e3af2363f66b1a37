package store

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/patchbay-io/patchbay/internal/models"
)

func (s *PostgresStore) InsertMessage(m models.Message) (string, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO messages (id, tenant_id, lead_id, direction, channel, from_number, to_number, body, provider_message_id, status, error_code, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		m.ID, m.TenantID, nilIfEmpty(m.LeadID), string(m.Direction), m.Channel,
		nilIfEmpty(m.FromNumber), nilIfEmpty(m.ToNumber), nilIfEmpty(m.Body),
		nilIfEmpty(m.ProviderMessageID), string(m.Status), nilIfEmpty(m.ErrorCode), m.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert message failed: %w", err)
	}
	slog.Debug("PostgresStore.InsertMessage", "id", m.ID, "tenantID", m.TenantID, "direction", m.Direction, "status", m.Status)
	return m.ID, nil
}

func (s *PostgresStore) UpdateMessageStatusByProviderID(providerMessageID string, status models.MessageStatus, errorCode string) (int64, error) {
	result, err := s.db.Exec(
		`UPDATE messages SET status = $1, error_code = $2 WHERE provider_message_id = $3`,
		string(status), nilIfEmpty(errorCode), providerMessageID,
	)
	if err != nil {
		return 0, fmt.Errorf("update message status failed: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
