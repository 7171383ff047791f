package store

import (
	"context"
	"database/sql"
)

// UpsertProviderCredentials stores a tenant's encrypted credential blob.
// The blob is AES-GCM sealed before it reaches this layer; the store never
// sees plaintext secrets.
func (s *Store) UpsertProviderCredentials(ctx context.Context, tenantID, encrypted string) error {
	query := `INSERT INTO provider_credentials (tenant_id, encrypted_credentials, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (tenant_id) DO UPDATE SET encrypted_credentials = $2, updated_at = NOW()`

	_, err := s.db.ExecContext(ctx, query, tenantID, encrypted)
	return err
}

// GetProviderCredentials fetches the encrypted blob, or "" when the tenant
// has none configured.
func (s *Store) GetProviderCredentials(ctx context.Context, tenantID string) (string, error) {
	var encrypted string
	err := s.db.QueryRowContext(ctx,
		`SELECT encrypted_credentials FROM provider_credentials WHERE tenant_id = $1`,
		tenantID).Scan(&encrypted)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return encrypted, err
}
