package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ResolveProxies runs the standing proxies to a fixed point after an accepted
// bid: as long as some proxy other than the current leader can still improve on
// the price, the best one counter-bids at min(currentPrice+increment, ceiling)
// through the normal validate/append path. When it returns without error, no
// standing proxy has a further improving counter-bid left.
//
// Tie rule: a challenger never outbids a leader whose own proxy holds the same
// ceiling with an earlier registration, so the earlier proxy keeps the lot.
//
// The loop carries an explicit iteration bound: every round either raises the
// price by at least one increment or spends a proxy's whole ceiling, which can
// happen once per proxy. Running past the bound means the auction state is
// corrupted and the caller must poison the auction.
func ResolveProxies(a *Auction, now time.Time) ([]*Bid, []*Bid, error) {
	var appended []*Bid
	var changed []*Bid

	bound := resolverBound(a)
	for i := 0; ; i++ {
		if i > bound {
			return appended, changed, fmt.Errorf("proxy resolution exceeded %d iterations on auction %s: %w", bound, a.ID, ErrAuctionCorrupted)
		}
		ch := challenger(a)
		if ch == nil {
			return appended, changed, nil
		}
		amount := decimal.Min(a.MinAcceptable(), ch.MaxAmount)
		p := Proposal{
			AuctionID: a.ID,
			BidderID:  ch.BidderID,
			Amount:    amount,
			Kind:      BidKindProxyTriggered,
		}
		if err := Validate(a, p, now); err != nil {
			return appended, changed, fmt.Errorf("proxy counter-bid by %s at %s rejected: %w", ch.BidderID, amount, err)
		}
		bid, demoted := a.Apply(p, now)
		appended = append(appended, bid)
		changed = append(changed, demoted...)
	}
}

// challenger picks the proxy entitled to counter-bid now: the highest ceiling
// still above the current price, held by someone other than the leader, with
// the earlier registration breaking exact ties deterministically.
func challenger(a *Auction) *StandingProxy {
	var leaderProxy *StandingProxy
	if sp, ok := a.proxies[a.CurrentWinnerID]; ok {
		leaderProxy = sp
	}
	var best *StandingProxy
	for _, sp := range a.proxies {
		if sp.BidderID == a.CurrentWinnerID {
			continue
		}
		if !sp.MaxAmount.GreaterThan(a.CurrentPrice) {
			continue
		}
		// first-mover advantage: an equal ceiling registered later never
		// displaces the leader's earlier proxy
		if leaderProxy != nil && sp.MaxAmount.Equal(leaderProxy.MaxAmount) && leaderProxy.Seq < sp.Seq {
			continue
		}
		if best == nil ||
			sp.MaxAmount.GreaterThan(best.MaxAmount) ||
			(sp.MaxAmount.Equal(best.MaxAmount) && sp.Seq < best.Seq) {
			best = sp
		}
	}
	return best
}

func resolverBound(a *Auction) int {
	inc := a.Increment()
	if !inc.IsPositive() {
		return len(a.proxies) + 1
	}
	highest := a.CurrentPrice
	for _, sp := range a.proxies {
		if sp.MaxAmount.GreaterThan(highest) {
			highest = sp.MaxAmount
		}
	}
	steps := highest.Sub(a.CurrentPrice).Div(inc).Ceil().IntPart()
	return len(a.proxies) + int(steps) + 1
}
