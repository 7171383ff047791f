package store

import (
	"context"
	"encoding/json"

	"github.com/ignite/sendrelay/internal/domain"
)

// GetListRecipients fetches every recipient of a list, active or not.
// The orchestrator decides what to skip; the store does not filter.
func (s *Store) GetListRecipients(ctx context.Context, listID string) ([]domain.Recipient, error) {
	query := `SELECT id, address, active, COALESCE(vars, '{}'::jsonb)
		FROM recipients WHERE list_id = $1 ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, listID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Recipient
	for rows.Next() {
		var r domain.Recipient
		var vars []byte
		if err := rows.Scan(&r.ID, &r.Address, &r.Active, &vars); err != nil {
			return nil, err
		}
		if len(vars) > 0 {
			if err := json.Unmarshal(vars, &r.Vars); err != nil {
				return nil, err
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
