package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/subastas/bidengine/internal/auction/domain"
)

// OpenAuctionRequest carries the auction metadata supplied by the item/user
// catalog. The engine treats it as given and immutable afterwards.
type OpenAuctionRequest struct {
	AuctionID     uuid.UUID
	SellerID      uuid.UUID
	StartingPrice decimal.Decimal
	// MinIncrement of zero selects the 5% policy default.
	MinIncrement decimal.Decimal
	EndsAt       time.Time
}

// AuctionService is the boundary the host system talks to. Every mutation is
// funneled through the per-auction coordinator; reads go straight to the store
// because the ledger is append-only and safe to read concurrently.
type AuctionService interface {
	OpenAuction(ctx context.Context, req OpenAuctionRequest) (domain.Snapshot, error)
	PlaceBid(ctx context.Context, req PlaceBidRequest) (PlaceBidResult, error)
	CancelAuction(ctx context.Context, req CancelRequest) (domain.Snapshot, error)
	GetAuctionState(ctx context.Context, auctionID uuid.UUID) (domain.Snapshot, error)
	GetBidHistory(ctx context.Context, auctionID uuid.UUID, page, pageSize int) ([]*domain.Bid, error)
	// CloseAuction is invoked by the closer's scheduler, not exposed over the
	// public API. Idempotent by design.
	CloseAuction(ctx context.Context, auctionID uuid.UUID) (domain.Outcome, error)
}

type auctionService struct {
	registry *Registry
	store    Store
}

func NewAuctionService(registry *Registry, store Store) AuctionService {
	return &auctionService{registry: registry, store: store}
}

func (s *auctionService) OpenAuction(ctx context.Context, req OpenAuctionRequest) (domain.Snapshot, error) {
	id := req.AuctionID
	if id == uuid.Nil {
		id = uuid.New()
	}
	a, err := domain.NewAuction(id, req.SellerID, req.StartingPrice, req.MinIncrement, req.EndsAt)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if err := s.store.CreateAuction(ctx, a); err != nil {
		return domain.Snapshot{}, fmt.Errorf("open auction %s: %w", id, err)
	}
	s.registry.adopt(a)
	return a.Snapshot(), nil
}

func (s *auctionService) PlaceBid(ctx context.Context, req PlaceBidRequest) (PlaceBidResult, error) {
	coord, terminal, err := s.registry.acquire(ctx, req.AuctionID)
	if err != nil {
		return PlaceBidResult{}, err
	}
	if terminal != nil {
		return PlaceBidResult{}, terminalOutcomeError(terminal)
	}
	res, err := coord.submit(ctx, command{kind: cmdPlaceBid, placeBid: &req})
	if err != nil {
		return PlaceBidResult{}, err
	}
	return res.placed, nil
}

func (s *auctionService) CancelAuction(ctx context.Context, req CancelRequest) (domain.Snapshot, error) {
	coord, terminal, err := s.registry.acquire(ctx, req.AuctionID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if terminal != nil {
		return terminal.Snapshot(), terminalOutcomeError(terminal)
	}
	res, err := coord.submit(ctx, command{kind: cmdCancel, cancel: &req})
	if err != nil {
		return res.snapshot, err
	}
	s.registry.releaseIfTerminal(req.AuctionID, res.snapshot.Status)
	return res.snapshot, nil
}

func (s *auctionService) CloseAuction(ctx context.Context, auctionID uuid.UUID) (domain.Outcome, error) {
	coord, terminal, err := s.registry.acquire(ctx, auctionID)
	if err != nil {
		return domain.Outcome{}, err
	}
	if terminal != nil {
		if terminal.Status == domain.StatusClosed {
			// at-least-once close trigger hitting an already closed auction
			out, _, cerr := terminal.Close(s.registry.now())
			return out, cerr
		}
		return domain.Outcome{}, terminalOutcomeError(terminal)
	}
	res, err := coord.submit(ctx, command{kind: cmdClose})
	if err != nil {
		return domain.Outcome{}, err
	}
	s.registry.releaseIfTerminal(auctionID, res.snapshot.Status)
	return res.outcome, nil
}

func (s *auctionService) GetAuctionState(ctx context.Context, auctionID uuid.UUID) (domain.Snapshot, error) {
	row, bids, err := s.store.LoadAuction(ctx, auctionID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	a, err := domain.Hydrate(row, bids)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return a.Snapshot(), nil
}

func (s *auctionService) GetBidHistory(ctx context.Context, auctionID uuid.UUID, page, pageSize int) ([]*domain.Bid, error) {
	row, bids, err := s.store.LoadAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	a, err := domain.Hydrate(row, bids)
	if err != nil {
		return nil, err
	}
	return a.HistoryPage(page, pageSize), nil
}
