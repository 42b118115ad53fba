package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BidKind tells apart bids typed in by a user from bids the resolver placed on
// behalf of a standing proxy.
type BidKind string

const (
	BidKindManual         BidKind = "manual"
	BidKindProxyTriggered BidKind = "proxy_triggered"
)

// BidStatus lifecycle: a bid is appended as Active, promoted to Winning when it
// becomes the leader, demoted to Superseded when outbid, and settled to Lost or
// kept Winning at close. Cancelled only happens when the whole auction is
// cancelled. Transitions never go back to Active.
type BidStatus string

const (
	BidStatusActive     BidStatus = "active"
	BidStatusSuperseded BidStatus = "superseded"
	BidStatusWinning    BidStatus = "winning"
	BidStatusLost       BidStatus = "lost"
	BidStatusCancelled  BidStatus = "cancelled"
)

// AutoBidTerms is only present on auto-bids, so MaxAmount is unreachable on a
// plain manual bid.
type AutoBidTerms struct {
	MaxAmount decimal.Decimal
}

// Bid is one accepted entry of an auction's ledger. Seq is assigned by the
// ledger, strictly increasing and gap-free within the auction; PlacedAt is
// audit-only and never used for ordering.
type Bid struct {
	ID        uuid.UUID
	AuctionID uuid.UUID
	BidderID  uuid.UUID
	Seq       int64
	Amount    decimal.Decimal
	Kind      BidKind
	Status    BidStatus
	Auto      *AutoBidTerms
	PlacedAt  time.Time
}

// IsAutoBid reports whether this bid registered or raised a standing proxy.
func (b *Bid) IsAutoBid() bool { return b.Auto != nil }

// Clone copies the bid, including its auto-bid terms, so callers outside the
// coordinator never hold a reference into the live ledger.
func (b *Bid) Clone() *Bid {
	c := *b
	if b.Auto != nil {
		auto := *b.Auto
		c.Auto = &auto
	}
	return &c
}
