package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// place runs the full accept path for one proposal: validate, apply, resolve
// proxies to the fixed point. Mirrors what the coordinator does per request.
func place(t *testing.T, a *Auction, p Proposal, now time.Time) {
	t.Helper()
	require.NoError(t, Validate(a, p, now))
	_, _ = a.Apply(p, now)
	_, _, err := ResolveProxies(a, now)
	require.NoError(t, err)
}

func requireLeader(t *testing.T, a *Auction, bidder uuid.UUID, price string) {
	t.Helper()
	require.Equal(t, bidder, a.CurrentWinnerID)
	require.True(t, a.CurrentPrice.Equal(dec(price)),
		"expected price %s, got %s", price, a.CurrentPrice)
}

// The three-step scenario: manual bid, auto-bid entry, manual counter with the
// proxy defending.
func TestProxyResolutionScenario(t *testing.T) {
	a, now := newTestAuction(t, "100", "10", time.Hour)

	// A bids 110 manually
	place(t, a, manual(testBidderA, "110"), now)
	requireLeader(t, a, testBidderA, "110")

	// B registers a proxy up to 150, enters at one increment
	place(t, a, auto(testBidderB, "150"), now)
	requireLeader(t, a, testBidderB, "120")

	// A raises to 130 manually; B's proxy counters to 140 and A has nothing left
	place(t, a, manual(testBidderA, "130"), now)
	requireLeader(t, a, testBidderB, "140")

	require.Equal(t, 4, a.BidCount)
	history := a.History()
	last := history[len(history)-1]
	require.Equal(t, BidKindProxyTriggered, last.Kind)
	require.Equal(t, testBidderB, last.BidderID)
	require.True(t, last.Amount.Equal(dec("140")))
}

func TestProxyVsProxyBattle(t *testing.T) {
	a, now := newTestAuction(t, "100", "10", time.Hour)

	place(t, a, auto(testBidderA, "150"), now)
	requireLeader(t, a, testBidderA, "110")

	// B's higher ceiling grinds A's proxy down and wins just past it
	place(t, a, auto(testBidderB, "200"), now)
	requireLeader(t, a, testBidderB, "160")

	// A's proxy is exhausted and removed; B's still stands
	_, ok := a.StandingProxyFor(testBidderA)
	require.False(t, ok)
	_, ok = a.StandingProxyFor(testBidderB)
	require.True(t, ok)
}

func TestEqualCeilingsEarlierProxyWins(t *testing.T) {
	a, now := newTestAuction(t, "100", "10", time.Hour)

	place(t, a, auto(testBidderA, "150"), now)
	place(t, a, auto(testBidderB, "150"), now)

	// whatever the increments landed on, A keeps the lead
	require.Equal(t, testBidderA, a.CurrentWinnerID)
	require.False(t, a.CurrentPrice.GreaterThan(dec("150")))
}

func TestEqualCeilingsEarlierProxyWinsOffsetPrices(t *testing.T) {
	// a manual bid first shifts the ladder parity; the later proxy would land
	// exactly on the shared ceiling, and still must not displace the earlier one
	a, now := newTestAuction(t, "100", "10", time.Hour)

	place(t, a, auto(testBidderA, "150"), now)
	place(t, a, auto(testBidderB, "150"), now)
	place(t, a, manual(testBidderC, "145"), now)

	require.Equal(t, testBidderA, a.CurrentWinnerID)
	require.False(t, a.CurrentPrice.GreaterThan(dec("150")))
}

func TestThreeProxiesResolveToSecondHighestPlusIncrement(t *testing.T) {
	a, now := newTestAuction(t, "100", "10", time.Hour)

	place(t, a, auto(testBidderA, "130"), now)
	place(t, a, auto(testBidderB, "180"), now)
	place(t, a, auto(testBidderC, "300"), now)

	requireLeader(t, a, testBidderC, "190")
}

func TestResolverReachesFixedPoint(t *testing.T) {
	a, now := newTestAuction(t, "100", "10", time.Hour)

	place(t, a, auto(testBidderA, "173"), now)
	place(t, a, auto(testBidderB, "240"), now)
	place(t, a, manual(testBidderC, "200"), now)

	// no standing proxy other than the leader's can still improve the price
	for _, sp := range a.StandingProxies() {
		if sp.BidderID == a.CurrentWinnerID {
			continue
		}
		require.False(t, sp.MaxAmount.GreaterThan(a.CurrentPrice),
			"latent proxy %s could still counter-bid above %s", sp.BidderID, a.CurrentPrice)
	}
}

func TestCappedCounterBidBelowFullIncrement(t *testing.T) {
	a, now := newTestAuction(t, "100", "10", time.Hour)

	place(t, a, auto(testBidderA, "125"), now)
	requireLeader(t, a, testBidderA, "110")

	// B outbids at 120; A's proxy defends with its last 5, below a full increment
	place(t, a, manual(testBidderB, "120"), now)
	requireLeader(t, a, testBidderA, "125")

	history := a.History()
	last := history[len(history)-1]
	require.Equal(t, BidKindProxyTriggered, last.Kind)
	require.True(t, last.Amount.Equal(dec("125")))
}

func TestLeaderRaisingOwnCeilingOutbidsThemselves(t *testing.T) {
	a, now := newTestAuction(t, "100", "10", time.Hour)

	place(t, a, auto(testBidderA, "150"), now)
	requireLeader(t, a, testBidderA, "110")

	place(t, a, auto(testBidderA, "250"), now)
	requireLeader(t, a, testBidderA, "120")

	sp, ok := a.StandingProxyFor(testBidderA)
	require.True(t, ok)
	require.True(t, sp.MaxAmount.Equal(dec("250")))
	// the raise keeps the original registration order
	require.Equal(t, int64(1), sp.Seq)
}

func TestMonotonicPrice(t *testing.T) {
	a, now := newTestAuction(t, "100", "10", time.Hour)

	place(t, a, auto(testBidderA, "173"), now)
	place(t, a, manual(testBidderB, "125"), now)
	place(t, a, auto(testBidderC, "210"), now)
	place(t, a, manual(testBidderB, "250"), now)

	prev := dec("0")
	for _, b := range a.History() {
		require.True(t, b.Amount.GreaterThan(prev),
			"seq %d amount %s does not increase over %s", b.Seq, b.Amount, prev)
		prev = b.Amount
	}
}

func TestSingleWinningBid(t *testing.T) {
	a, now := newTestAuction(t, "100", "10", time.Hour)

	place(t, a, auto(testBidderA, "173"), now)
	place(t, a, manual(testBidderB, "185"), now)
	place(t, a, auto(testBidderC, "400"), now)

	winning := 0
	for _, b := range a.History() {
		if b.Status == BidStatusWinning {
			winning++
			require.Equal(t, a.CurrentWinnerID, b.BidderID)
		}
	}
	require.Equal(t, 1, winning)
}
