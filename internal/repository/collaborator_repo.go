package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ListingCounter counts a user's active listings of one category.
type ListingCounter interface {
	CountActiveListings(ctx context.Context, userID, listingType string) (int64, error)
}

// RfqCounter counts a vendor's RFQ responses that still occupy a slot.
type RfqCounter interface {
	CountActiveRfqResponses(ctx context.Context, vendorID string) (int64, error)
}

// ActiveRfqStatuses are the non-terminal RFQ response states.
var ActiveRfqStatuses = []string{"pending", "submitted", "accepted"}

type listingCounter struct {
	pool *pgxpool.Pool
}

// NewListingCounter creates a ListingCounter over the marketplace listings table.
func NewListingCounter(pool *pgxpool.Pool) ListingCounter {
	return &listingCounter{pool: pool}
}

func (c *listingCounter) CountActiveListings(ctx context.Context, userID, listingType string) (int64, error) {
	var n int64
	const q = `SELECT COUNT(*) FROM listings WHERE owner_id = $1 AND listing_type = $2 AND status = 'active'`
	if err := c.pool.QueryRow(ctx, q, userID, listingType).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active %s listings for user %s: %w", listingType, userID, mapErr(err))
	}
	return n, nil
}

type rfqCounter struct {
	pool *pgxpool.Pool
}

// NewRfqCounter creates an RfqCounter over the marketplace rfq_responses table.
func NewRfqCounter(pool *pgxpool.Pool) RfqCounter {
	return &rfqCounter{pool: pool}
}

func (c *rfqCounter) CountActiveRfqResponses(ctx context.Context, vendorID string) (int64, error) {
	var n int64
	const q = `SELECT COUNT(*) FROM rfq_responses WHERE vendor_id = $1 AND status = ANY($2)`
	if err := c.pool.QueryRow(ctx, q, vendorID, ActiveRfqStatuses).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active rfq responses for vendor %s: %w", vendorID, mapErr(err))
	}
	return n, nil
}
