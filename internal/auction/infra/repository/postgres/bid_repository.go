package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/subastas/bidengine/internal/auction/domain"
)

// BidRepository persists the append-only bid ledger. Rows are only ever
// inserted or status-updated, never deleted or rewritten.
type BidRepository struct {
	pool *pgxpool.Pool
}

func NewBidRepository(pool *pgxpool.Pool) *BidRepository {
	return &BidRepository{pool: pool}
}

// Insert appends one ledger entry inside the caller's transaction. The
// (auction_id, seq) primary key makes a duplicate append fail loudly instead
// of silently reordering history.
func (r *BidRepository) Insert(ctx context.Context, tx pgx.Tx, bid *domain.Bid) error {
	query := `
        INSERT INTO bids (auction_id, seq, id, bidder_id, amount, kind, status, max_amount, placed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `
	var maxAmount *decimal.Decimal
	if bid.Auto != nil {
		m := bid.Auto.MaxAmount
		maxAmount = &m
	}
	_, err := tx.Exec(ctx, query,
		bid.AuctionID,
		bid.Seq,
		bid.ID,
		bid.BidderID,
		bid.Amount,
		bid.Kind,
		bid.Status,
		maxAmount,
		bid.PlacedAt,
	)
	return err
}

// UpdateStatus is the single permitted mutation of an existing ledger entry.
func (r *BidRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, bid *domain.Bid) error {
	query := `
        UPDATE bids SET status = $1
        WHERE auction_id = $2 AND seq = $3
    `
	_, err := tx.Exec(ctx, query, bid.Status, bid.AuctionID, bid.Seq)
	return err
}

// ListByAuction returns the full history in sequence order.
func (r *BidRepository) ListByAuction(ctx context.Context, auctionID uuid.UUID) ([]*domain.Bid, error) {
	query := `
        SELECT auction_id, seq, id, bidder_id, amount, kind, status, max_amount, placed_at
        FROM bids
        WHERE auction_id = $1
        ORDER BY seq ASC
    `
	rows, err := r.pool.Query(ctx, query, auctionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bids []*domain.Bid
	for rows.Next() {
		bid := &domain.Bid{}
		var kind, status string
		var maxAmount *decimal.Decimal
		err := rows.Scan(
			&bid.AuctionID,
			&bid.Seq,
			&bid.ID,
			&bid.BidderID,
			&bid.Amount,
			&kind,
			&status,
			&maxAmount,
			&bid.PlacedAt,
		)
		if err != nil {
			return nil, err
		}
		bid.Kind = domain.BidKind(kind)
		bid.Status = domain.BidStatus(status)
		if maxAmount != nil {
			bid.Auto = &domain.AutoBidTerms{MaxAmount: *maxAmount}
		}
		bids = append(bids, bid)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bids, nil
}
