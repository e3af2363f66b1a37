package store

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/patchbay-io/patchbay/internal/models"
)

func (s *SQLiteStore) InsertMessage(m models.Message) (string, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO messages (id, tenant_id, lead_id, direction, channel, from_number, to_number, body, provider_message_id, status, error_code, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.TenantID, nilIfEmpty(m.LeadID), string(m.Direction), m.Channel,
		nilIfEmpty(m.FromNumber), nilIfEmpty(m.ToNumber), nilIfEmpty(m.Body),
		nilIfEmpty(m.ProviderMessageID), string(m.Status), nilIfEmpty(m.ErrorCode), m.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert message failed: %w", err)
	}
	slog.Debug("SQLiteStore.InsertMessage", "id", m.ID, "tenantID", m.TenantID, "direction", m.Direction, "status", m.Status)
	return m.ID, nil
}

func (s *SQLiteStore) UpdateMessageStatusByProviderID(providerMessageID string, status models.MessageStatus, errorCode string) (int64, error) {
	result, err := s.db.Exec(
		`UPDATE messages SET status = ?, error_code = ? WHERE provider_message_id = ?`,
		string(status), nilIfEmpty(errorCode), providerMessageID,
	)
	if err != nil {
		return 0, fmt.Errorf("update message status failed: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
