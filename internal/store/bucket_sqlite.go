package store

import (
	"database/sql"
	"fmt"

	"github.com/patchbay-io/patchbay/internal/models"
)

func (s *SQLiteStore) GetBucket(tenantID, bucket string) (*models.BucketState, error) {
	var st models.BucketState
	err := s.db.QueryRow(
		`SELECT tokens, updated_at FROM rate_limits WHERE tenant_id = ? AND bucket = ?`,
		tenantID, bucket,
	).Scan(&st.Tokens, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get bucket failed: %w", err)
	}
	return &st, nil
}

func (s *SQLiteStore) PutBucket(tenantID, bucket string, state models.BucketState) error {
	_, err := s.db.Exec(
		`INSERT INTO rate_limits (tenant_id, bucket, tokens, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (tenant_id, bucket) DO UPDATE SET tokens = excluded.tokens, updated_at = excluded.updated_at`,
		tenantID, bucket, state.Tokens, state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("put bucket failed: %w", err)
	}
	return nil
}
