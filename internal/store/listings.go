package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"piata/matcher-service/internal/model"
)

// ListingStore reads candidate listings from the marketplace core. The
// anunturi table is owned by the marketplace; this engine only reads it.
type ListingStore struct {
	pool *pgxpool.Pool
}

// NewListingStore returns a configured ListingStore.
func NewListingStore(pool *pgxpool.Pool) *ListingStore {
	return &ListingStore{pool: pool}
}

// Recent returns active listings created at or after since, newest first,
// capped at limit. The caller picks a window that overlaps the run cadence;
// the idempotent match upsert makes the overlap safe.
func (s *ListingStore) Recent(ctx context.Context, since time.Time, limit int) ([]model.Listing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, COALESCE(description, ''), price,
		        COALESCE(location, ''), category_id, COALESCE(status, 'active'), created_at
		 FROM anunturi
		 WHERE status = 'active' AND created_at >= $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent listings: %w", err)
	}
	defer rows.Close()

	var listings []model.Listing
	for rows.Next() {
		var l model.Listing
		if err := rows.Scan(
			&l.ID, &l.Title, &l.Description, &l.Price,
			&l.Location, &l.CategoryID, &l.Status, &l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}
