package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Proposal is a bid asking for admission. Amount is the posted amount of a
// manual or proxy-triggered bid; for auto-bids the effective amount is derived
// from the auction state and Amount is ignored.
type Proposal struct {
	AuctionID uuid.UUID
	BidderID  uuid.UUID
	Amount    decimal.Decimal
	Kind      BidKind
	Auto      *AutoBidTerms
}

// Validate decides whether a proposal is admissible against a snapshot of the
// auction state. Pure decision, no side effects; first failing check wins.
//
// Proxy-triggered counter-bids only need to strictly improve on the current
// price: when a proxy defends with its last money the capped amount can be
// below a full increment, and that is an accepted English-auction bid.
func Validate(a *Auction, p Proposal, now time.Time) error {
	if a.Status != StatusOpen || !now.Before(a.EndsAt) {
		return fmt.Errorf("auction %s: %w", a.ID, ErrAuctionClosed)
	}

	if p.Kind != BidKindProxyTriggered {
		if sp, ok := a.StandingProxyFor(p.BidderID); ok {
			if p.Auto == nil && !p.Amount.GreaterThan(sp.MaxAmount) {
				return fmt.Errorf("bidder %s already holds a proxy up to %s: %w", p.BidderID, sp.MaxAmount, ErrRedundantBid)
			}
			if p.Auto != nil && !p.Auto.MaxAmount.GreaterThan(sp.MaxAmount) {
				return fmt.Errorf("bidder %s already holds a proxy up to %s: %w", p.BidderID, sp.MaxAmount, ErrRedundantBid)
			}
		}
	}

	if p.BidderID == a.SellerID {
		return fmt.Errorf("auction %s: %w", a.ID, ErrSelfBidForbidden)
	}

	switch {
	case p.Auto != nil:
		if !p.Auto.MaxAmount.IsPositive() {
			return fmt.Errorf("max amount %s: %w", p.Auto.MaxAmount, ErrInvalidAmount)
		}
		if p.Auto.MaxAmount.LessThan(a.MinAcceptable()) {
			return &BidTooLowError{MinAcceptable: a.MinAcceptable()}
		}
	case p.Kind == BidKindProxyTriggered:
		if !p.Amount.IsPositive() {
			return fmt.Errorf("amount %s: %w", p.Amount, ErrInvalidAmount)
		}
		if !p.Amount.GreaterThan(a.CurrentPrice) {
			return &BidTooLowError{MinAcceptable: a.MinAcceptable()}
		}
	default:
		if !p.Amount.IsPositive() {
			return fmt.Errorf("amount %s: %w", p.Amount, ErrInvalidAmount)
		}
		if p.Amount.LessThan(a.MinAcceptable()) {
			return &BidTooLowError{MinAcceptable: a.MinAcceptable()}
		}
	}
	return nil
}
