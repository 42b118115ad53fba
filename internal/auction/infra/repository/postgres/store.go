package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/subastas/bidengine/internal/auction/domain"
	"github.com/subastas/bidengine/internal/shared/logger"
)

var log = logger.GetLogger()

// Store implements the application Store on PostgreSQL. Each mutation runs in
// one transaction so a crash can never leave the cached projection ahead of
// (or behind) the ledger.
type Store struct {
	pool     *pgxpool.Pool
	auctions *AuctionRepository
	bids     *BidRepository
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:     pool,
		auctions: NewAuctionRepository(pool),
		bids:     NewBidRepository(pool),
	}
}

func (s *Store) CreateAuction(ctx context.Context, a *domain.Auction) error {
	return s.withTx(ctx, a.ID, func(tx pgx.Tx) error {
		return s.auctions.Save(ctx, tx, a)
	})
}

func (s *Store) LoadAuction(ctx context.Context, id uuid.UUID) (*domain.Auction, []*domain.Bid, error) {
	row, err := s.auctions.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	bids, err := s.bids.ListByAuction(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("load bids for auction %s: %w", id, err)
	}
	return row, bids, nil
}

func (s *Store) SaveMutation(ctx context.Context, a *domain.Auction, newBids, changedBids []*domain.Bid) error {
	return s.withTx(ctx, a.ID, func(tx pgx.Tx) error {
		for _, b := range newBids {
			if err := s.bids.Insert(ctx, tx, b); err != nil {
				return fmt.Errorf("insert bid seq %d: %w", b.Seq, err)
			}
		}
		for _, b := range changedBids {
			if err := s.bids.UpdateStatus(ctx, tx, b); err != nil {
				return fmt.Errorf("update bid seq %d status: %w", b.Seq, err)
			}
		}
		return s.auctions.Save(ctx, tx, a)
	})
}

func (s *Store) ListExpiredOpenAuctions(ctx context.Context, asOf time.Time) ([]uuid.UUID, error) {
	return s.auctions.ListExpiredOpen(ctx, asOf)
}

// withTx wraps fn in a transaction with commit/rollback handling in one place.
func (s *Store) withTx(ctx context.Context, auctionID uuid.UUID, fn func(tx pgx.Tx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction for auction %s: %w", auctionID, err)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("Recovered from panic during transaction",
				zap.String("auctionID", auctionID.String()),
				zap.Any("panic", r),
			)
			_ = tx.Rollback(ctx)
			panic(r)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("commit transaction for auction %s: %w", auctionID, commitErr)
		}
	}()

	err = fn(tx)
	return err
}
