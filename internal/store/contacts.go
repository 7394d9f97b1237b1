package store

import (
	"context"
	"fmt"

	"piata/matcher-service/internal/model"
)

// OwnerContact returns the notification address for a marketplace user.
// The user_profiles table is owned by the marketplace core; read-only here.
func (s *AgentStore) OwnerContact(ctx context.Context, userID string) (model.OwnerContact, error) {
	var c model.OwnerContact
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(email, ''), COALESCE(full_name, '')
		 FROM user_profiles
		 WHERE user_id = $1`,
		userID,
	).Scan(&c.Email, &c.FullName)
	if err != nil {
		return c, fmt.Errorf("owner contact for %s: %w", userID, err)
	}
	return c, nil
}
