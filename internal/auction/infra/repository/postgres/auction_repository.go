package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/subastas/bidengine/internal/auction/domain"
)

// AuctionRepository persists auction rows with their cached projection.
type AuctionRepository struct {
	pool *pgxpool.Pool
}

func NewAuctionRepository(pool *pgxpool.Pool) *AuctionRepository {
	return &AuctionRepository{pool: pool}
}

// Save inserts or updates the auction row inside the caller's transaction.
func (r *AuctionRepository) Save(ctx context.Context, tx pgx.Tx, a *domain.Auction) error {
	query := `
        INSERT INTO auctions (id, seller_id, starting_price, min_increment, ends_at, status,
                              current_price, current_winner_id, bid_count, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (id) DO UPDATE
        SET
            status = EXCLUDED.status,
            current_price = EXCLUDED.current_price,
            current_winner_id = EXCLUDED.current_winner_id,
            bid_count = EXCLUDED.bid_count,
            updated_at = EXCLUDED.updated_at;
    `
	var winner *uuid.UUID
	if a.CurrentWinnerID != uuid.Nil {
		w := a.CurrentWinnerID
		winner = &w
	}
	_, err := tx.Exec(ctx, query,
		a.ID,
		a.SellerID,
		a.StartingPrice,
		a.MinIncrement,
		a.EndsAt,
		a.Status,
		a.CurrentPrice,
		winner,
		a.BidCount,
		a.CreatedAt,
		a.UpdatedAt,
	)
	return err
}

// GetByID returns the bare auction row; the bid history is loaded separately
// and the aggregate is rebuilt by domain.Hydrate.
func (r *AuctionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Auction, error) {
	query := `
        SELECT id, seller_id, starting_price, min_increment, ends_at, status,
               current_price, current_winner_id, bid_count, created_at, updated_at
        FROM auctions
        WHERE id = $1
    `
	a := &domain.Auction{}
	var winner *uuid.UUID
	var status string

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&a.ID,
		&a.SellerID,
		&a.StartingPrice,
		&a.MinIncrement,
		&a.EndsAt,
		&status,
		&a.CurrentPrice,
		&winner,
		&a.BidCount,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("auction %s: %w", id, domain.ErrAuctionNotFound)
		}
		return nil, err
	}
	a.Status = domain.AuctionStatus(status)
	if winner != nil {
		a.CurrentWinnerID = *winner
	}
	return a, nil
}

// ListExpiredOpen returns ids of open auctions whose end time has passed, the
// closer's work list.
func (r *AuctionRepository) ListExpiredOpen(ctx context.Context, asOf time.Time) ([]uuid.UUID, error) {
	query := `
        SELECT id
        FROM auctions
        WHERE status = $1 AND ends_at <= $2
        ORDER BY ends_at ASC
    `
	rows, err := r.pool.Query(ctx, query, domain.StatusOpen, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
