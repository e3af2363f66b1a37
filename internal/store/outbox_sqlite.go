package store

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/patchbay-io/patchbay/internal/models"
)

func (s *SQLiteStore) EnqueueOutboxEvent(tenantID string, eventType models.EventType, payloadJSON string) (string, error) {
	id := uuid.NewString()
	now := time.Now()
	_, err := s.db.Exec(
		`INSERT INTO outbox (id, tenant_id, event_type, payload, next_attempt_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, tenantID, string(eventType), nilIfEmpty(payloadJSON), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue outbox event failed: %w", err)
	}
	slog.Debug("SQLiteStore.EnqueueOutboxEvent", "id", id, "tenantID", tenantID, "eventType", eventType)
	return id, nil
}

func (s *SQLiteStore) ListDueOutboxEvents(now time.Time, limit int) ([]models.OutboxEvent, error) {
	rows, err := s.db.Query(
		`SELECT id, tenant_id, event_type, payload, next_attempt_at, processed_at, created_at
		 FROM outbox WHERE processed_at IS NULL AND next_attempt_at <= ?
		 ORDER BY next_attempt_at ASC LIMIT ?`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list due outbox events failed: %w", err)
	}
	defer rows.Close()

	var events []models.OutboxEvent
	for rows.Next() {
		e, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox iteration failed: %w", err)
	}
	return events, nil
}

func (s *SQLiteStore) MarkOutboxProcessed(id string, processedAt time.Time) error {
	_, err := s.db.Exec(`UPDATE outbox SET processed_at = ? WHERE id = ?`, processedAt, id)
	if err != nil {
		return fmt.Errorf("mark outbox processed failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) EnqueueNotificationEvent(tenantID string, eventType models.EventType, payloadJSON string) (string, error) {
	id := uuid.NewString()
	now := time.Now()
	_, err := s.db.Exec(
		`INSERT INTO notifications (id, tenant_id, event_type, payload, next_attempt_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, tenantID, string(eventType), nilIfEmpty(payloadJSON), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue notification event failed: %w", err)
	}
	slog.Debug("SQLiteStore.EnqueueNotificationEvent", "id", id, "tenantID", tenantID, "eventType", eventType)
	return id, nil
}

func (s *SQLiteStore) ListDueNotificationEvents(now time.Time, limit int) ([]models.NotificationEvent, error) {
	rows, err := s.db.Query(
		`SELECT id, tenant_id, event_type, payload, next_attempt_at, processed_at, created_at
		 FROM notifications WHERE processed_at IS NULL AND next_attempt_at <= ?
		 ORDER BY next_attempt_at ASC LIMIT ?`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list due notification events failed: %w", err)
	}
	defer rows.Close()

	var events []models.NotificationEvent
	for rows.Next() {
		e, err := scanNotificationEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notification iteration failed: %w", err)
	}
	return events, nil
}

func (s *SQLiteStore) MarkNotificationProcessed(id string, processedAt time.Time) error {
	_, err := s.db.Exec(`UPDATE notifications SET processed_at = ? WHERE id = ?`, processedAt, id)
	if err != nil {
		return fmt.Errorf("mark notification processed failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListNotificationRules(tenantID string, eventType models.EventType) ([]models.NotificationRule, error) {
	rows, err := s.db.Query(
		`SELECT id, tenant_id, event_type, channel, target, use_business_number
		 FROM notification_rules WHERE tenant_id = ? AND event_type = ?`,
		tenantID, string(eventType),
	)
	if err != nil {
		return nil, fmt.Errorf("list notification rules failed: %w", err)
	}
	defer rows.Close()

	var rules []models.NotificationRule
	for rows.Next() {
		var r models.NotificationRule
		if err := rows.Scan(&r.ID, &r.TenantID, &r.EventType, &r.Channel, &r.Target, &r.UseBusinessNumber); err != nil {
			return nil, fmt.Errorf("scan notification rule failed: %w", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notification rule iteration failed: %w", err)
	}
	return rules, nil
}
