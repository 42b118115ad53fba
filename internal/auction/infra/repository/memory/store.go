// Package memory holds an in-process implementation of the application Store,
// used by tests and local runs without PostgreSQL.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/subastas/bidengine/internal/auction/domain"
)

type record struct {
	row  *domain.Auction
	bids []*domain.Bid
}

// Store keeps auction rows and bid histories in maps behind one lock. Reads
// return detached copies, mirroring what a database round trip gives back.
type Store struct {
	mu       sync.RWMutex
	auctions map[uuid.UUID]*record

	// failNext, when set, makes the next SaveMutation fail once. Lets tests
	// exercise the coordinator's rollback path.
	failNext error
}

func NewStore() *Store {
	return &Store{auctions: make(map[uuid.UUID]*record)}
}

// FailNextSave arms a one-shot SaveMutation failure.
func (s *Store) FailNextSave(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func (s *Store) CreateAuction(_ context.Context, a *domain.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.auctions[a.ID]; ok {
		return fmt.Errorf("auction %s already exists", a.ID)
	}
	s.auctions[a.ID] = &record{row: a.Row()}
	return nil
}

func (s *Store) LoadAuction(_ context.Context, id uuid.UUID) (*domain.Auction, []*domain.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.auctions[id]
	if !ok {
		return nil, nil, fmt.Errorf("auction %s: %w", id, domain.ErrAuctionNotFound)
	}
	bids := make([]*domain.Bid, 0, len(rec.bids))
	for _, b := range rec.bids {
		bids = append(bids, b.Clone())
	}
	return rec.row.Row(), bids, nil
}

func (s *Store) SaveMutation(_ context.Context, a *domain.Auction, newBids, changedBids []*domain.Bid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	rec, ok := s.auctions[a.ID]
	if !ok {
		return fmt.Errorf("auction %s: %w", a.ID, domain.ErrAuctionNotFound)
	}
	for _, b := range newBids {
		if b.Seq != int64(len(rec.bids))+1 {
			return fmt.Errorf("auction %s: non-contiguous bid seq %d", a.ID, b.Seq)
		}
		rec.bids = append(rec.bids, b.Clone())
	}
	for _, b := range changedBids {
		idx := b.Seq - 1
		if idx < 0 || idx >= int64(len(rec.bids)) {
			return fmt.Errorf("auction %s: status update for unknown seq %d", a.ID, b.Seq)
		}
		rec.bids[idx].Status = b.Status
	}
	rec.row = a.Row()
	return nil
}

func (s *Store) ListExpiredOpenAuctions(_ context.Context, asOf time.Time) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []uuid.UUID
	for id, rec := range s.auctions {
		if rec.row.Status == domain.StatusOpen && !rec.row.EndsAt.After(asOf) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
