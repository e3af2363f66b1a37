package store

import (
	"database/sql"
	"fmt"

	"github.com/patchbay-io/patchbay/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// scanOutboxEvent scans an OutboxEvent from sql.Rows.
func scanOutboxEvent(rows *sql.Rows) (models.OutboxEvent, error) {
	var e models.OutboxEvent
	var payload sql.NullString
	var processedAt sql.NullTime
	err := rows.Scan(&e.ID, &e.TenantID, &e.EventType, &payload, &e.NextAttemptAt, &processedAt, &e.CreatedAt)
	if err != nil {
		return e, fmt.Errorf("scan outbox event failed: %w", err)
	}
	e.PayloadJSON = payload.String
	if processedAt.Valid {
		e.ProcessedAt = &processedAt.Time
	}
	return e, nil
}

// scanNotificationEvent scans a NotificationEvent from sql.Rows.
func scanNotificationEvent(rows *sql.Rows) (models.NotificationEvent, error) {
	var e models.NotificationEvent
	var payload sql.NullString
	var processedAt sql.NullTime
	err := rows.Scan(&e.ID, &e.TenantID, &e.EventType, &payload, &e.NextAttemptAt, &processedAt, &e.CreatedAt)
	if err != nil {
		return e, fmt.Errorf("scan notification event failed: %w", err)
	}
	e.PayloadJSON = payload.String
	if processedAt.Valid {
		e.ProcessedAt = &processedAt.Time
	}
	return e, nil
}

// scanLead scans a Lead from a single sql.Row.
func scanLead(row *sql.Row) (*models.Lead, error) {
	var l models.Lead
	var firstName, lastName, phone, email sql.NullString
	err := row.Scan(&l.ID, &l.TenantID, &firstName, &lastName, &phone, &email, &l.ConsentSMS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan lead failed: %w", err)
	}
	l.FirstName = firstName.String
	l.LastName = lastName.String
	l.Phone = phone.String
	l.Email = email.String
	return &l, nil
}
