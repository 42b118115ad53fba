package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/subastas/bidengine/internal/auction/domain"
	"github.com/subastas/bidengine/internal/auction/infra/repository/memory"
)

var (
	testSeller  = uuid.MustParse("00000000-0000-0000-0000-0000000000aa")
	testBidderA = uuid.MustParse("00000000-0000-0000-0000-0000000000a1")
	testBidderB = uuid.MustParse("00000000-0000-0000-0000-0000000000b2")
	testBidderC = uuid.MustParse("00000000-0000-0000-0000-0000000000c3")
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// fakeClock lets tests move an auction past its end time without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// capturePublisher records every event so tests can assert on emission order.
type capturePublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *capturePublisher) Publish(_ context.Context, ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *capturePublisher) All() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

func (p *capturePublisher) CountByType(t EventType) int {
	n := 0
	for _, ev := range p.All() {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func newTestService(t *testing.T) (AuctionService, *memory.Store, *capturePublisher, *fakeClock) {
	t.Helper()
	store := memory.NewStore()
	pub := &capturePublisher{}
	clock := newFakeClock()
	registry := NewRegistry(store, pub, WithClock(clock.Now))
	t.Cleanup(registry.Shutdown)
	return NewAuctionService(registry, store), store, pub, clock
}

func openTestAuction(t *testing.T, svc AuctionService, clock *fakeClock, endsIn time.Duration) uuid.UUID {
	t.Helper()
	snap, err := svc.OpenAuction(context.Background(), OpenAuctionRequest{
		SellerID:      testSeller,
		StartingPrice: dec("100"),
		MinIncrement:  dec("10"),
		EndsAt:        clock.Now().Add(endsIn),
	})
	require.NoError(t, err)
	return snap.AuctionID
}

func manualBid(auctionID uuid.UUID, bidder uuid.UUID, amount string) PlaceBidRequest {
	return PlaceBidRequest{AuctionID: auctionID, BidderID: bidder, Amount: dec(amount)}
}

func autoBid(auctionID uuid.UUID, bidder uuid.UUID, maxAmount string) PlaceBidRequest {
	return PlaceBidRequest{AuctionID: auctionID, BidderID: bidder, IsAutoBid: true, MaxAmount: dec(maxAmount)}
}

func TestPlaceBidPersists(t *testing.T) {
	svc, store, _, clock := newTestService(t)
	ctx := context.Background()
	auctionID := openTestAuction(t, svc, clock, time.Hour)

	res, err := svc.PlaceBid(ctx, manualBid(auctionID, testBidderA, "110"))
	require.NoError(t, err)
	require.False(t, res.Duplicate)
	require.True(t, res.Bid.Amount.Equal(dec("110")))
	require.Equal(t, int64(1), res.Bid.Seq)
	require.Equal(t, testBidderA, res.Snapshot.CurrentWinnerID)

	// state survives an independent load from the store
	row, bids, err := store.LoadAuction(ctx, auctionID)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	a, err := domain.Hydrate(row, bids)
	require.NoError(t, err)
	require.True(t, a.CurrentPrice.Equal(dec("110")))
	require.Equal(t, testBidderA, a.CurrentWinnerID)
}

func TestPlaceBidDeduplicatesRetries(t *testing.T) {
	svc, _, _, clock := newTestService(t)
	ctx := context.Background()
	auctionID := openTestAuction(t, svc, clock, time.Hour)

	req := manualBid(auctionID, testBidderA, "110")
	req.RequestID = "req-1"

	first, err := svc.PlaceBid(ctx, req)
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	retry, err := svc.PlaceBid(ctx, req)
	require.NoError(t, err)
	require.True(t, retry.Duplicate)
	require.Equal(t, first.Bid.ID, retry.Bid.ID)

	snap, err := svc.GetAuctionState(ctx, auctionID)
	require.NoError(t, err)
	require.Equal(t, 1, snap.BidCount)
}

func TestConcurrentBidsSerialize(t *testing.T) {
	svc, _, _, clock := newTestService(t)
	ctx := context.Background()
	auctionID := openTestAuction(t, svc, clock, time.Hour)

	const bidders = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted, rejected := 0, 0

	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bidder := uuid.New()
			amount := decimal.NewFromInt(int64(200 + i*50))
			_, err := svc.PlaceBid(ctx, PlaceBidRequest{
				AuctionID: auctionID,
				BidderID:  bidder,
				Amount:    amount,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, domain.ErrBidTooLow):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, bidders, accepted+rejected)
	require.Greater(t, accepted, 0)

	history, err := svc.GetBidHistory(ctx, auctionID, 1, 100)
	require.NoError(t, err)
	require.Len(t, history, accepted)

	// serialization leaves a gap-free ledger with strictly increasing amounts
	prev := dec("0")
	for i, b := range history {
		require.Equal(t, int64(i+1), b.Seq)
		require.True(t, b.Amount.GreaterThan(prev))
		prev = b.Amount
	}

	snap, err := svc.GetAuctionState(ctx, auctionID)
	require.NoError(t, err)
	// the highest submitted amount always gets through
	require.True(t, snap.CurrentPrice.Equal(decimal.NewFromInt(200+(bidders-1)*50)))
}

func TestCloseAuctionIsIdempotent(t *testing.T) {
	svc, _, pub, clock := newTestService(t)
	ctx := context.Background()
	auctionID := openTestAuction(t, svc, clock, time.Minute)

	_, err := svc.PlaceBid(ctx, manualBid(auctionID, testBidderA, "110"))
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)

	first, err := svc.CloseAuction(ctx, auctionID)
	require.NoError(t, err)
	require.Equal(t, testBidderA, first.WinnerID)
	require.True(t, first.FinalPrice.Equal(dec("110")))

	// the repeat trigger arrives later; the recorded outcome must not drift
	clock.Advance(time.Hour)
	second, err := svc.CloseAuction(ctx, auctionID)
	require.NoError(t, err)
	require.Equal(t, first, second)

	// the winner is announced exactly once
	require.Equal(t, 1, pub.CountByType(EventAuctionWon))
}

func TestCloseAuctionWithoutBids(t *testing.T) {
	svc, _, pub, clock := newTestService(t)
	ctx := context.Background()
	auctionID := openTestAuction(t, svc, clock, time.Minute)

	clock.Advance(2 * time.Minute)

	outcome, err := svc.CloseAuction(ctx, auctionID)
	require.NoError(t, err)
	require.Equal(t, uuid.Nil, outcome.WinnerID)
	require.Equal(t, 1, pub.CountByType(EventAuctionClosedNoWinner))
}

func TestPlaceBidAfterCloseRejected(t *testing.T) {
	svc, _, _, clock := newTestService(t)
	ctx := context.Background()
	auctionID := openTestAuction(t, svc, clock, time.Minute)

	clock.Advance(2 * time.Minute)
	_, err := svc.CloseAuction(ctx, auctionID)
	require.NoError(t, err)

	_, err = svc.PlaceBid(ctx, manualBid(auctionID, testBidderA, "110"))
	require.ErrorIs(t, err, domain.ErrAuctionClosed)
}

func TestCancelAuthorization(t *testing.T) {
	t.Run("stranger_cannot_cancel", func(t *testing.T) {
		svc, _, _, clock := newTestService(t)
		auctionID := openTestAuction(t, svc, clock, time.Hour)

		_, err := svc.CancelAuction(context.Background(), CancelRequest{
			AuctionID: auctionID,
			ActorID:   testBidderA,
		})
		require.ErrorIs(t, err, domain.ErrCancelNotAllowed)
	})

	t.Run("seller_cancels_bidless_auction", func(t *testing.T) {
		svc, _, pub, clock := newTestService(t)
		auctionID := openTestAuction(t, svc, clock, time.Hour)

		snap, err := svc.CancelAuction(context.Background(), CancelRequest{
			AuctionID: auctionID,
			ActorID:   testSeller,
		})
		require.NoError(t, err)
		require.Equal(t, domain.StatusCancelled, snap.Status)
		require.Equal(t, 1, pub.CountByType(EventAuctionCancelled))
	})

	t.Run("seller_blocked_once_bids_exist", func(t *testing.T) {
		svc, _, _, clock := newTestService(t)
		ctx := context.Background()
		auctionID := openTestAuction(t, svc, clock, time.Hour)

		_, err := svc.PlaceBid(ctx, manualBid(auctionID, testBidderA, "110"))
		require.NoError(t, err)

		_, err = svc.CancelAuction(ctx, CancelRequest{AuctionID: auctionID, ActorID: testSeller})
		require.ErrorIs(t, err, domain.ErrCancelNotAllowed)
	})

	t.Run("moderator_overrides", func(t *testing.T) {
		svc, _, _, clock := newTestService(t)
		ctx := context.Background()
		auctionID := openTestAuction(t, svc, clock, time.Hour)

		_, err := svc.PlaceBid(ctx, manualBid(auctionID, testBidderA, "110"))
		require.NoError(t, err)

		snap, err := svc.CancelAuction(ctx, CancelRequest{
			AuctionID: auctionID,
			ActorID:   uuid.New(),
			Moderator: true,
			Reason:    "fraudulent listing",
		})
		require.NoError(t, err)
		require.Equal(t, domain.StatusCancelled, snap.Status)
		require.Equal(t, 0, snap.BidCount)
	})
}

func TestStoreFailureRollsBackAggregate(t *testing.T) {
	svc, store, _, clock := newTestService(t)
	ctx := context.Background()
	auctionID := openTestAuction(t, svc, clock, time.Hour)

	_, err := svc.PlaceBid(ctx, manualBid(auctionID, testBidderA, "110"))
	require.NoError(t, err)

	store.FailNextSave(fmt.Errorf("connection reset"))
	_, err = svc.PlaceBid(ctx, manualBid(auctionID, testBidderB, "120"))
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrAuctionCorrupted)

	// the failed mutation left no trace; the same bid goes through on retry
	snap, err := svc.GetAuctionState(ctx, auctionID)
	require.NoError(t, err)
	require.Equal(t, 1, snap.BidCount)
	require.True(t, snap.CurrentPrice.Equal(dec("110")))

	res, err := svc.PlaceBid(ctx, manualBid(auctionID, testBidderB, "120"))
	require.NoError(t, err)
	require.Equal(t, int64(2), res.Bid.Seq)
	require.True(t, res.Snapshot.CurrentPrice.Equal(dec("120")))
}

func TestProxyBattleEmitsEventsInOrder(t *testing.T) {
	svc, _, pub, clock := newTestService(t)
	ctx := context.Background()
	auctionID := openTestAuction(t, svc, clock, time.Hour)

	_, err := svc.PlaceBid(ctx, autoBid(auctionID, testBidderB, "150"))
	require.NoError(t, err)

	// A's manual 130 is immediately countered by B's proxy at 140
	res, err := svc.PlaceBid(ctx, manualBid(auctionID, testBidderA, "130"))
	require.NoError(t, err)
	require.Equal(t, testBidderB, res.Snapshot.CurrentWinnerID)
	require.True(t, res.Snapshot.CurrentPrice.Equal(dec("140")))

	events := pub.All()
	require.Len(t, events, 5)
	require.Equal(t, EventBidAccepted, events[0].Type) // B enters at 110
	require.Equal(t, testBidderB, events[0].BidderID)

	require.Equal(t, EventBidAccepted, events[1].Type) // A bids 130
	require.Equal(t, testBidderA, events[1].BidderID)
	require.True(t, events[1].Amount.Equal(dec("130")))

	require.Equal(t, EventOutbid, events[2].Type) // B briefly loses the lead
	require.Equal(t, testBidderB, events[2].BidderID)

	require.Equal(t, EventBidAccepted, events[3].Type) // proxy counter at 140
	require.Equal(t, testBidderB, events[3].BidderID)
	require.True(t, events[3].Amount.Equal(dec("140")))

	require.Equal(t, EventOutbid, events[4].Type) // A learns they lost the lead
	require.Equal(t, testBidderA, events[4].BidderID)
}

func TestManualOutbidNotifiesDisplacedLeader(t *testing.T) {
	svc, _, pub, clock := newTestService(t)
	ctx := context.Background()
	auctionID := openTestAuction(t, svc, clock, time.Hour)

	_, err := svc.PlaceBid(ctx, manualBid(auctionID, testBidderA, "110"))
	require.NoError(t, err)
	_, err = svc.PlaceBid(ctx, manualBid(auctionID, testBidderB, "120"))
	require.NoError(t, err)

	events := pub.All()
	require.Len(t, events, 3)
	require.Equal(t, EventBidAccepted, events[0].Type)
	require.Equal(t, testBidderA, events[0].BidderID)
	require.Equal(t, EventBidAccepted, events[1].Type)
	require.Equal(t, testBidderB, events[1].BidderID)

	// the displaced leader hears about it
	require.Equal(t, EventOutbid, events[2].Type)
	require.Equal(t, testBidderA, events[2].BidderID)
	require.True(t, events[2].Amount.Equal(dec("120")))
}

func TestLeaderRaisingOwnBidGetsNoOutbid(t *testing.T) {
	svc, _, pub, clock := newTestService(t)
	ctx := context.Background()
	auctionID := openTestAuction(t, svc, clock, time.Hour)

	_, err := svc.PlaceBid(ctx, manualBid(auctionID, testBidderA, "110"))
	require.NoError(t, err)
	_, err = svc.PlaceBid(ctx, manualBid(auctionID, testBidderA, "130"))
	require.NoError(t, err)

	require.Equal(t, 0, pub.CountByType(EventOutbid))
}

func TestStoppingCoordinatorAnswersQueuedCommands(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	clock := newFakeClock()
	a, err := domain.NewAuction(uuid.New(), testSeller, dec("100"), dec("10"), clock.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, store.CreateAuction(ctx, a))

	c := newCoordinator(a, store, NopPublisher{}, clock.Now)

	// command sits in the inbox while the loop starts with a cancelled context
	req := manualBid(a.ID, testBidderA, "110")
	cmd := command{kind: cmdPlaceBid, ctx: ctx, placeBid: &req, reply: make(chan commandResult, 1)}
	c.inbox <- cmd

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	go c.run(cancelled)

	select {
	case res := <-cmd.reply:
		// processed before the cancellation was observed, or answered by the
		// drain; either way the caller is released
		if res.err != nil {
			require.ErrorIs(t, res.err, domain.ErrAuctionClosed)
		}
	case <-time.After(time.Second):
		t.Fatal("queued command was dropped by a stopping coordinator")
	}
}

func TestSubmitAfterCoordinatorStopped(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	clock := newFakeClock()
	a, err := domain.NewAuction(uuid.New(), testSeller, dec("100"), dec("10"), clock.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, store.CreateAuction(ctx, a))

	c := newCoordinator(a, store, NopPublisher{}, clock.Now)
	loopCtx, cancel := context.WithCancel(ctx)
	go c.run(loopCtx)
	cancel()
	<-c.stopped

	req := manualBid(a.ID, testBidderA, "110")
	_, err = c.submit(ctx, command{kind: cmdPlaceBid, placeBid: &req})
	require.ErrorIs(t, err, domain.ErrAuctionClosed)
}

func TestPlaceBidOnUnknownAuction(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.PlaceBid(context.Background(), manualBid(uuid.New(), testBidderA, "110"))
	require.ErrorIs(t, err, domain.ErrAuctionNotFound)
}

func TestBidHistoryPaging(t *testing.T) {
	svc, _, _, clock := newTestService(t)
	ctx := context.Background()
	auctionID := openTestAuction(t, svc, clock, time.Hour)

	bidders := []uuid.UUID{testBidderA, testBidderB, testBidderC}
	for i := 0; i < 5; i++ {
		amount := decimal.NewFromInt(int64(110 + i*20))
		_, err := svc.PlaceBid(ctx, PlaceBidRequest{
			AuctionID: auctionID,
			BidderID:  bidders[i%len(bidders)],
			Amount:    amount,
		})
		require.NoError(t, err)
	}

	page1, err := svc.GetBidHistory(ctx, auctionID, 1, 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	require.Equal(t, int64(1), page1[0].Seq)

	page3, err := svc.GetBidHistory(ctx, auctionID, 3, 2)
	require.NoError(t, err)
	require.Len(t, page3, 1)
	require.Equal(t, int64(5), page3[0].Seq)
}
