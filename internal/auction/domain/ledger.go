package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger is the append-only, authoritative bid history of one auction. It
// assigns sequence numbers itself: strictly increasing, gap-free, starting at 1.
// Entries are never mutated except for their Status field, which the owning
// aggregate updates in place.
type Ledger struct {
	bids []*Bid
}

// Append stores the bid and returns its assigned sequence number. It never
// fails for structurally valid input; admission is the validator's job.
func (l *Ledger) Append(b *Bid) int64 {
	b.Seq = int64(len(l.bids)) + 1
	l.bids = append(l.bids, b)
	return b.Seq
}

func (l *Ledger) Len() int { return len(l.bids) }

// History returns a copy of the full ledger in sequence order.
func (l *Ledger) History() []*Bid {
	out := make([]*Bid, 0, len(l.bids))
	for _, b := range l.bids {
		out = append(out, b.Clone())
	}
	return out
}

// Page returns one page of the history, 1-based, ordered by sequence number.
func (l *Ledger) Page(page, pageSize int) []*Bid {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultHistoryPageSize
	}
	start := (page - 1) * pageSize
	if start >= len(l.bids) {
		return []*Bid{}
	}
	end := start + pageSize
	if end > len(l.bids) {
		end = len(l.bids)
	}
	out := make([]*Bid, 0, end-start)
	for _, b := range l.bids[start:end] {
		out = append(out, b.Clone())
	}
	return out
}

const defaultHistoryPageSize = 50

// Projection is the part of the auction state that must be recomputable from
// the ledger alone.
type Projection struct {
	CurrentPrice    decimal.Decimal
	CurrentWinnerID uuid.UUID
	BidCount        int
}

// Replay folds a bid history over the starting price and returns the projection
// it implies. The live cached state must match this exactly; a divergence is a
// fatal corruption of the auction.
func Replay(startingPrice decimal.Decimal, bids []*Bid) Projection {
	p := Projection{CurrentPrice: startingPrice, CurrentWinnerID: uuid.Nil}
	for _, b := range bids {
		if b.Status == BidStatusCancelled {
			continue
		}
		p.CurrentPrice = b.Amount
		p.CurrentWinnerID = b.BidderID
		p.BidCount++
	}
	return p
}
