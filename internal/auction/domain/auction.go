package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AuctionStatus transitions only forward: Open -> Closing -> Closed, or
// Open -> Cancelled.
type AuctionStatus string

const (
	StatusOpen      AuctionStatus = "open"
	StatusClosing   AuctionStatus = "closing"
	StatusClosed    AuctionStatus = "closed"
	StatusCancelled AuctionStatus = "cancelled"
)

// defaultIncrementRatio is the policy default when an auction carries no fixed
// minimum increment: 5% of the current price.
var defaultIncrementRatio = decimal.NewFromFloat(0.05)

// StandingProxy is the active ceiling a bidder defends on one auction. Seq is
// the sequence number of the bid that first registered it; raising the ceiling
// keeps the original Seq, which is what gives first-mover advantage on ties.
type StandingProxy struct {
	BidderID  uuid.UUID
	MaxAmount decimal.Decimal
	Seq       int64
}

// Auction is the aggregate owning one auction's ledger, cached projection and
// standing proxy set. It is not safe for concurrent use; the coordinator is
// the single writer and serializes every mutation.
type Auction struct {
	ID            uuid.UUID
	SellerID      uuid.UUID
	StartingPrice decimal.Decimal
	// MinIncrement of zero means the 5% policy default applies.
	MinIncrement    decimal.Decimal
	EndsAt          time.Time
	Status          AuctionStatus
	CurrentPrice    decimal.Decimal
	CurrentWinnerID uuid.UUID
	BidCount        int
	CreatedAt       time.Time
	UpdatedAt       time.Time

	ledger  Ledger
	proxies map[uuid.UUID]*StandingProxy
}

// NewAuction opens an auction for an item supplied by the catalog collaborator.
func NewAuction(id, sellerID uuid.UUID, startingPrice, minIncrement decimal.Decimal, endsAt time.Time) (*Auction, error) {
	if !startingPrice.IsPositive() {
		return nil, fmt.Errorf("new auction %s: starting price %s: %w", id, startingPrice, ErrInvalidAmount)
	}
	if minIncrement.IsNegative() {
		return nil, fmt.Errorf("new auction %s: min increment %s: %w", id, minIncrement, ErrInvalidAmount)
	}
	now := time.Now().UTC()
	return &Auction{
		ID:              id,
		SellerID:        sellerID,
		StartingPrice:   startingPrice,
		MinIncrement:    minIncrement,
		EndsAt:          endsAt,
		Status:          StatusOpen,
		CurrentPrice:    startingPrice,
		CurrentWinnerID: uuid.Nil,
		CreatedAt:       now,
		UpdatedAt:       now,
		proxies:         make(map[uuid.UUID]*StandingProxy),
	}, nil
}

// Hydrate rebuilds the aggregate from its persisted row and bid history. The
// standing proxy set is derived from the ledger and the cached projection is
// checked against a replay, so a corrupted row is caught before any mutation.
func Hydrate(row *Auction, bids []*Bid) (*Auction, error) {
	a := *row
	a.proxies = make(map[uuid.UUID]*StandingProxy)
	for _, b := range bids {
		if b.Seq != int64(a.ledger.Len())+1 {
			return nil, fmt.Errorf("hydrate auction %s: bid history has a gap at seq %d: %w", a.ID, b.Seq, ErrAuctionCorrupted)
		}
		a.ledger.Append(b)
		if b.Auto == nil || b.Status == BidStatusCancelled {
			continue
		}
		if sp, ok := a.proxies[b.BidderID]; ok {
			if b.Auto.MaxAmount.GreaterThan(sp.MaxAmount) {
				sp.MaxAmount = b.Auto.MaxAmount
			}
		} else {
			a.proxies[b.BidderID] = &StandingProxy{BidderID: b.BidderID, MaxAmount: b.Auto.MaxAmount, Seq: b.Seq}
		}
	}
	if a.Status != StatusOpen {
		a.proxies = make(map[uuid.UUID]*StandingProxy)
	}
	a.pruneProxies()
	if err := a.VerifyProjection(); err != nil {
		return nil, err
	}
	return &a, nil
}

// Row returns a copy of the persisted fields only, with no ledger and no
// proxy set. This is what stores write and what Hydrate takes back.
func (a *Auction) Row() *Auction {
	r := *a
	r.ledger = Ledger{}
	r.proxies = nil
	return &r
}

// Increment returns the minimum increment in force at the current price.
func (a *Auction) Increment() decimal.Decimal {
	if a.MinIncrement.IsPositive() {
		return a.MinIncrement
	}
	return a.CurrentPrice.Mul(defaultIncrementRatio)
}

// MinAcceptable is the lowest amount a new manual bid may carry.
func (a *Auction) MinAcceptable() decimal.Decimal {
	return a.CurrentPrice.Add(a.Increment())
}

// StandingProxyFor returns a copy of the bidder's standing proxy, if any.
func (a *Auction) StandingProxyFor(bidderID uuid.UUID) (StandingProxy, bool) {
	sp, ok := a.proxies[bidderID]
	if !ok {
		return StandingProxy{}, false
	}
	return *sp, true
}

// StandingProxies returns a copy of the live proxy set.
func (a *Auction) StandingProxies() []StandingProxy {
	out := make([]StandingProxy, 0, len(a.proxies))
	for _, sp := range a.proxies {
		out = append(out, *sp)
	}
	return out
}

func (a *Auction) History() []*Bid            { return a.ledger.History() }
func (a *Auction) HistoryPage(p, s int) []*Bid { return a.ledger.Page(p, s) }

// EffectiveAmount is the manual-equivalent amount a proposal bids at. Auto-bids
// enter at one increment over the current price, capped at their ceiling.
func (a *Auction) EffectiveAmount(p Proposal) decimal.Decimal {
	if p.Auto != nil {
		return decimal.Min(a.MinAcceptable(), p.Auto.MaxAmount)
	}
	return p.Amount
}

// Apply appends an already validated proposal, updates the cached projection,
// bid statuses and the standing proxy set. It returns the new ledger entry and
// the previously existing bids whose status changed.
func (a *Auction) Apply(p Proposal, now time.Time) (*Bid, []*Bid) {
	bid := &Bid{
		ID:        uuid.New(),
		AuctionID: a.ID,
		BidderID:  p.BidderID,
		Amount:    a.EffectiveAmount(p),
		Kind:      p.Kind,
		Status:    BidStatusActive,
		PlacedAt:  now,
	}
	if p.Auto != nil {
		auto := *p.Auto
		bid.Auto = &auto
	}
	a.ledger.Append(bid)

	var changed []*Bid
	if prev := a.winningBid(); prev != nil {
		prev.Status = BidStatusSuperseded
		changed = append(changed, prev)
	}
	bid.Status = BidStatusWinning
	a.CurrentPrice = bid.Amount
	a.CurrentWinnerID = bid.BidderID
	a.BidCount++
	a.UpdatedAt = now

	if bid.Auto != nil {
		if sp, ok := a.proxies[bid.BidderID]; ok {
			if bid.Auto.MaxAmount.GreaterThan(sp.MaxAmount) {
				sp.MaxAmount = bid.Auto.MaxAmount
			}
		} else {
			a.proxies[bid.BidderID] = &StandingProxy{BidderID: bid.BidderID, MaxAmount: bid.Auto.MaxAmount, Seq: bid.Seq}
		}
	}
	a.pruneProxies()
	return bid, changed
}

func (a *Auction) winningBid() *Bid {
	for i := a.ledger.Len() - 1; i >= 0; i-- {
		if b := a.ledger.bids[i]; b.Status == BidStatusWinning {
			return b
		}
	}
	return nil
}

// pruneProxies drops every proxy already outbid beyond its ceiling. The
// current winner's proxy always stands while the auction is open.
func (a *Auction) pruneProxies() {
	for id, sp := range a.proxies {
		if id == a.CurrentWinnerID {
			continue
		}
		if !sp.MaxAmount.GreaterThan(a.CurrentPrice) {
			delete(a.proxies, id)
		}
	}
}

// Outcome is the terminal result of a closed auction. WinnerID is uuid.Nil for
// the distinct no-winner outcome of an auction that closed without bids.
type Outcome struct {
	AuctionID  uuid.UUID
	WinnerID   uuid.UUID
	FinalPrice decimal.Decimal
	BidCount   int
	ClosedAt   time.Time
}

// Close finalizes the auction: Open -> Closing -> Closed. Calling it on an
// already closed auction returns the recorded outcome again, which is what
// makes the closer's at-least-once trigger safe. It returns the bids whose
// status changed during settlement.
func (a *Auction) Close(now time.Time) (Outcome, []*Bid, error) {
	switch a.Status {
	case StatusClosed:
		return a.outcome(), nil, nil
	case StatusCancelled:
		return Outcome{}, nil, fmt.Errorf("close auction %s: %w", a.ID, ErrAuctionClosed)
	}
	if err := a.VerifyProjection(); err != nil {
		return Outcome{}, nil, err
	}
	a.Status = StatusClosing

	var changed []*Bid
	for _, b := range a.ledger.bids {
		switch b.Status {
		case BidStatusActive, BidStatusSuperseded:
			b.Status = BidStatusLost
			changed = append(changed, b)
		}
	}
	a.Status = StatusClosed
	a.UpdatedAt = now
	a.proxies = make(map[uuid.UUID]*StandingProxy)
	return a.outcome(), changed, nil
}

func (a *Auction) outcome() Outcome {
	return Outcome{
		AuctionID:  a.ID,
		WinnerID:   a.CurrentWinnerID,
		FinalPrice: a.CurrentPrice,
		BidCount:   a.BidCount,
		ClosedAt:   a.UpdatedAt,
	}
}

// Cancel moves an open auction to Cancelled and voids every bid. Without
// force (a moderation action) it is only allowed while no bid was accepted.
func (a *Auction) Cancel(now time.Time, force bool) ([]*Bid, error) {
	if a.Status != StatusOpen {
		return nil, fmt.Errorf("cancel auction %s: %w", a.ID, ErrAuctionClosed)
	}
	if a.BidCount > 0 && !force {
		return nil, fmt.Errorf("cancel auction %s: %w", a.ID, ErrCancelNotAllowed)
	}
	var changed []*Bid
	for _, b := range a.ledger.bids {
		if b.Status != BidStatusCancelled {
			b.Status = BidStatusCancelled
			changed = append(changed, b)
		}
	}
	a.Status = StatusCancelled
	a.CurrentPrice = a.StartingPrice
	a.CurrentWinnerID = uuid.Nil
	a.BidCount = 0
	a.UpdatedAt = now
	a.proxies = make(map[uuid.UUID]*StandingProxy)
	return changed, nil
}

// VerifyProjection replays the ledger and compares it against the cached
// projection. A mismatch is unrecoverable for this auction.
func (a *Auction) VerifyProjection() error {
	r := Replay(a.StartingPrice, a.ledger.bids)
	if !r.CurrentPrice.Equal(a.CurrentPrice) || r.CurrentWinnerID != a.CurrentWinnerID || r.BidCount != a.BidCount {
		return fmt.Errorf("auction %s: replay got price=%s winner=%s bids=%d, cached price=%s winner=%s bids=%d: %w",
			a.ID, r.CurrentPrice, r.CurrentWinnerID, r.BidCount,
			a.CurrentPrice, a.CurrentWinnerID, a.BidCount, ErrAuctionCorrupted)
	}
	return nil
}

// Snapshot is the read model handed back to callers after each operation.
type Snapshot struct {
	AuctionID       uuid.UUID       `json:"auction_id"`
	SellerID        uuid.UUID       `json:"seller_id"`
	StartingPrice   decimal.Decimal `json:"starting_price"`
	CurrentPrice    decimal.Decimal `json:"current_price"`
	MinAcceptable   decimal.Decimal `json:"min_acceptable"`
	CurrentWinnerID uuid.UUID       `json:"current_winner_id,omitempty"`
	BidCount        int             `json:"bid_count"`
	Status          AuctionStatus   `json:"status"`
	EndsAt          time.Time       `json:"ends_at"`
}

func (a *Auction) Snapshot() Snapshot {
	return Snapshot{
		AuctionID:       a.ID,
		SellerID:        a.SellerID,
		StartingPrice:   a.StartingPrice,
		CurrentPrice:    a.CurrentPrice,
		MinAcceptable:   a.MinAcceptable(),
		CurrentWinnerID: a.CurrentWinnerID,
		BidCount:        a.BidCount,
		Status:          a.Status,
		EndsAt:          a.EndsAt,
	}
}
