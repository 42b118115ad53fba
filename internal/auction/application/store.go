package application

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/subastas/bidengine/internal/auction/domain"
)

// Store is the persistence boundary of the engine. One implementation runs on
// pgx transactions, the in-memory one backs tests and local runs.
type Store interface {
	// CreateAuction inserts a freshly opened auction row.
	CreateAuction(ctx context.Context, a *domain.Auction) error

	// LoadAuction returns the auction row and its full bid history in
	// sequence order, or domain.ErrAuctionNotFound.
	LoadAuction(ctx context.Context, id uuid.UUID) (*domain.Auction, []*domain.Bid, error)

	// SaveMutation persists one coordinator mutation atomically: the new
	// ledger entries, the status updates of existing bids, and the auction
	// row with its cached projection.
	SaveMutation(ctx context.Context, a *domain.Auction, newBids, changedBids []*domain.Bid) error

	// ListExpiredOpenAuctions returns ids of open auctions whose end time has
	// passed, for the closer sweep.
	ListExpiredOpenAuctions(ctx context.Context, asOf time.Time) ([]uuid.UUID, error)
}
