package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrAuctionNotFound  = errors.New("auction not found")
	ErrAuctionClosed    = errors.New("auction is closed for bidding")
	ErrSelfBidForbidden = errors.New("seller cannot bid on their own auction")
	ErrRedundantBid     = errors.New("bid does not improve the bidder's standing proxy")
	ErrInvalidAmount    = errors.New("bid amount must be a positive decimal")
	ErrBidTooLow        = errors.New("bid amount is too low")
	ErrCancelNotAllowed = errors.New("auction has bids and cannot be cancelled by the seller")
	// ErrAuctionCorrupted means the cached projection diverged from a ledger
	// replay. The auction is poisoned: it must never declare a winner.
	ErrAuctionCorrupted = errors.New("auction state diverged from ledger replay")
)

// BidTooLowError carries the minimum acceptable amount so the caller can retry
// with a correct bid. It unwraps to ErrBidTooLow.
type BidTooLowError struct {
	MinAcceptable decimal.Decimal
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("bid amount is too low, minimum acceptable is %s", e.MinAcceptable)
}

func (e *BidTooLowError) Unwrap() error { return ErrBidTooLow }
