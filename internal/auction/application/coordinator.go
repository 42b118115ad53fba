package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/subastas/bidengine/internal/auction/domain"
	"github.com/subastas/bidengine/internal/shared/logger"
	"github.com/subastas/bidengine/internal/shared/metrics"
)

var log = logger.GetLogger()

// PlaceBidRequest is the inbound command for one bid. BidderID comes verified
// from the authentication collaborator; RequestID makes caller retries
// idempotent and may be empty when the caller does not want dedup.
type PlaceBidRequest struct {
	AuctionID uuid.UUID
	BidderID  uuid.UUID
	Amount    decimal.Decimal
	IsAutoBid bool
	MaxAmount decimal.Decimal
	RequestID string
}

// PlaceBidResult is the reply to an accepted (or deduplicated) bid. Duplicate
// marks a retry answered from the dedup cache with the prior result.
type PlaceBidResult struct {
	Bid       *domain.Bid
	Snapshot  domain.Snapshot
	Duplicate bool
}

// CancelRequest cancels an auction. A seller may cancel only while no bid was
// accepted; Moderator overrides that.
type CancelRequest struct {
	AuctionID uuid.UUID
	ActorID   uuid.UUID
	Reason    string
	Moderator bool
}

type commandKind int

const (
	cmdPlaceBid commandKind = iota
	cmdCancel
	cmdClose
)

type command struct {
	kind     commandKind
	ctx      context.Context
	placeBid *PlaceBidRequest
	cancel   *CancelRequest
	reply    chan commandResult
}

type commandResult struct {
	placed   PlaceBidResult
	snapshot domain.Snapshot
	outcome  domain.Outcome
	err      error
}

// Coordinator is the serialization point of one auction: a single goroutine
// draining an inbox in arrival order, the only writer of the aggregate. Two
// bidders racing on the same item are ordered here, and a bid arriving at the
// close instant lands deterministically before or after the closing
// transition, never inside it.
type Coordinator struct {
	auction   *domain.Auction
	store     Store
	publisher EventPublisher
	now       func() time.Time

	inbox   chan command
	stopped chan struct{}

	// seen maps request ids to their prior result so a blind retry is
	// answered instead of double-counted. Lives inside the serialization
	// point, so the lookup is atomic with bid processing.
	seen map[string]PlaceBidResult

	// poisoned is set when a ledger replay no longer reproduces the cached
	// state. Every later command fails; the auction never declares a winner.
	poisoned error
}

func newCoordinator(a *domain.Auction, store Store, publisher EventPublisher, now func() time.Time) *Coordinator {
	return &Coordinator{
		auction:   a,
		store:     store,
		publisher: publisher,
		now:       now,
		inbox:     make(chan command, 32),
		stopped:   make(chan struct{}),
		seen:      make(map[string]PlaceBidResult),
	}
}

// run drains the inbox until the context is cancelled. FIFO per auction;
// different auctions run their own loops in parallel. On cancellation every
// command still queued is answered with an error, so no caller is left
// blocked on a reply that will never come.
func (c *Coordinator) run(ctx context.Context) {
	defer close(c.stopped)
	for {
		select {
		case <-ctx.Done():
			c.drainInbox()
			return
		case cmd := <-c.inbox:
			var res commandResult
			switch cmd.kind {
			case cmdPlaceBid:
				res.placed, res.err = c.handlePlaceBid(cmd.ctx, *cmd.placeBid)
				res.snapshot = c.auction.Snapshot()
			case cmdCancel:
				res.snapshot, res.err = c.handleCancel(cmd.ctx, *cmd.cancel)
			case cmdClose:
				res.outcome, res.err = c.handleClose(cmd.ctx)
				res.snapshot = c.auction.Snapshot()
			}
			cmd.reply <- res
		}
	}
}

// submit queues a command and blocks until the coordinator fully processed it.
// Partial results are never observed: the reply only exists after
// validate -> append -> project -> resolve -> persist completed.
func (c *Coordinator) submit(ctx context.Context, cmd command) (commandResult, error) {
	cmd.ctx = ctx
	cmd.reply = make(chan commandResult, 1)
	select {
	case c.inbox <- cmd:
	case <-c.stopped:
		return commandResult{}, fmt.Errorf("auction %s: coordinator stopped: %w", c.auction.ID, domain.ErrAuctionClosed)
	case <-ctx.Done():
		return commandResult{}, ctx.Err()
	}
	select {
	case res := <-cmd.reply:
		return res, res.err
	case <-c.stopped:
		// the loop exited after the command was queued; the drain may have
		// answered it already
		select {
		case res := <-cmd.reply:
			return res, res.err
		default:
		}
		return commandResult{}, fmt.Errorf("auction %s: coordinator stopped: %w", c.auction.ID, domain.ErrAuctionClosed)
	case <-ctx.Done():
		// The command still runs to completion inside the loop; the caller
		// just stopped waiting. A retry with the same request id is safe.
		return commandResult{}, ctx.Err()
	}
}

// drainInbox answers every queued command after the loop stopped. Reply
// channels are buffered, so the sends cannot block.
func (c *Coordinator) drainInbox() {
	for {
		select {
		case cmd := <-c.inbox:
			cmd.reply <- commandResult{
				snapshot: c.auction.Snapshot(),
				err:      fmt.Errorf("auction %s: coordinator stopped: %w", c.auction.ID, domain.ErrAuctionClosed),
			}
		default:
			return
		}
	}
}

func (c *Coordinator) handlePlaceBid(ctx context.Context, req PlaceBidRequest) (PlaceBidResult, error) {
	if c.poisoned != nil {
		return PlaceBidResult{}, c.poisoned
	}
	if req.RequestID != "" {
		if prior, ok := c.seen[req.RequestID]; ok {
			metrics.DuplicateRequests.Inc()
			prior.Duplicate = true
			return prior, nil
		}
	}

	now := c.now()
	p := domain.Proposal{
		AuctionID: req.AuctionID,
		BidderID:  req.BidderID,
		Amount:    req.Amount,
		Kind:      domain.BidKindManual,
	}
	if req.IsAutoBid {
		p.Auto = &domain.AutoBidTerms{MaxAmount: req.MaxAmount}
	}

	if err := domain.Validate(c.auction, p, now); err != nil {
		metrics.BidsRejected.WithLabelValues(rejectionReason(err)).Inc()
		log.Debug("Bid rejected",
			zap.String("auctionID", req.AuctionID.String()),
			zap.String("bidderID", req.BidderID.String()),
			zap.Error(err),
		)
		return PlaceBidResult{}, err
	}

	prevLeader := c.auction.CurrentWinnerID
	bid, demoted := c.auction.Apply(p, now)
	newBids := []*domain.Bid{bid}
	changed := demoted

	proxyBids, proxyDemoted, rerr := domain.ResolveProxies(c.auction, now)
	if rerr != nil {
		return PlaceBidResult{}, c.poison(rerr)
	}
	newBids = append(newBids, proxyBids...)
	changed = append(changed, proxyDemoted...)

	if err := c.store.SaveMutation(ctx, c.auction, newBids, changed); err != nil {
		return PlaceBidResult{}, c.recoverFromStoreError(ctx, err)
	}

	metrics.BidsAccepted.Add(float64(len(newBids)))
	metrics.ProxyBids.Add(float64(len(proxyBids)))
	snap := c.auction.Snapshot()
	c.emitBidEvents(ctx, snap, prevLeader, newBids, now)

	log.Info("Bid accepted",
		zap.String("auctionID", c.auction.ID.String()),
		zap.String("bidderID", req.BidderID.String()),
		zap.String("amount", bid.Amount.String()),
		zap.Int("proxyCounterBids", len(proxyBids)),
		zap.String("currentPrice", snap.CurrentPrice.String()),
		zap.String("leader", snap.CurrentWinnerID.String()),
	)

	res := PlaceBidResult{Bid: bid.Clone(), Snapshot: snap}
	if req.RequestID != "" {
		c.seen[req.RequestID] = res
	}
	return res, nil
}

// emitBidEvents publishes one BidAccepted per ledger append and one Outbid per
// leadership change, prevLeader being the leader before this command applied.
func (c *Coordinator) emitBidEvents(ctx context.Context, snap domain.Snapshot, prevLeader uuid.UUID, accepted []*domain.Bid, now time.Time) {
	for _, b := range accepted {
		c.publisher.Publish(ctx, Event{
			Type:      EventBidAccepted,
			AuctionID: c.auction.ID,
			BidderID:  b.BidderID,
			Amount:    b.Amount,
			Snapshot:  snap,
			At:        now,
		})
		if prevLeader != uuid.Nil && prevLeader != b.BidderID {
			c.publisher.Publish(ctx, Event{
				Type:      EventOutbid,
				AuctionID: c.auction.ID,
				BidderID:  prevLeader,
				Amount:    b.Amount,
				Snapshot:  snap,
				At:        now,
			})
		}
		prevLeader = b.BidderID
	}
}

func (c *Coordinator) handleCancel(ctx context.Context, req CancelRequest) (domain.Snapshot, error) {
	if c.poisoned != nil {
		return c.auction.Snapshot(), c.poisoned
	}
	if !req.Moderator && req.ActorID != c.auction.SellerID {
		return c.auction.Snapshot(), fmt.Errorf("actor %s is not the seller: %w", req.ActorID, domain.ErrCancelNotAllowed)
	}
	now := c.now()
	changed, err := c.auction.Cancel(now, req.Moderator)
	if err != nil {
		return c.auction.Snapshot(), err
	}
	if err := c.store.SaveMutation(ctx, c.auction, nil, changed); err != nil {
		return c.auction.Snapshot(), c.recoverFromStoreError(ctx, err)
	}
	metrics.AuctionsCancelled.Inc()
	snap := c.auction.Snapshot()
	c.publisher.Publish(ctx, Event{
		Type:      EventAuctionCancelled,
		AuctionID: c.auction.ID,
		Snapshot:  snap,
		At:        now,
	})
	log.Info("Auction cancelled",
		zap.String("auctionID", c.auction.ID.String()),
		zap.String("actorID", req.ActorID.String()),
		zap.String("reason", req.Reason),
	)
	return snap, nil
}

func (c *Coordinator) handleClose(ctx context.Context) (domain.Outcome, error) {
	if c.poisoned != nil {
		return domain.Outcome{}, c.poisoned
	}
	alreadyClosed := c.auction.Status == domain.StatusClosed
	now := c.now()
	outcome, changed, err := c.auction.Close(now)
	if err != nil {
		if errors.Is(err, domain.ErrAuctionCorrupted) {
			return domain.Outcome{}, c.poison(err)
		}
		return domain.Outcome{}, err
	}
	if alreadyClosed {
		// idempotent repeat of the close trigger, nothing to persist or emit
		return outcome, nil
	}
	if err := c.store.SaveMutation(ctx, c.auction, nil, changed); err != nil {
		return domain.Outcome{}, c.recoverFromStoreError(ctx, err)
	}

	snap := c.auction.Snapshot()
	if outcome.WinnerID != uuid.Nil {
		metrics.AuctionsClosed.WithLabelValues("won").Inc()
		c.publisher.Publish(ctx, Event{
			Type:      EventAuctionWon,
			AuctionID: c.auction.ID,
			BidderID:  outcome.WinnerID,
			Amount:    outcome.FinalPrice,
			Snapshot:  snap,
			At:        now,
		})
	} else {
		metrics.AuctionsClosed.WithLabelValues("no_winner").Inc()
		c.publisher.Publish(ctx, Event{
			Type:      EventAuctionClosedNoWinner,
			AuctionID: c.auction.ID,
			Snapshot:  snap,
			At:        now,
		})
	}
	log.Info("Auction closed",
		zap.String("auctionID", c.auction.ID.String()),
		zap.String("winnerID", outcome.WinnerID.String()),
		zap.String("finalPrice", outcome.FinalPrice.String()),
		zap.Int("bidCount", outcome.BidCount),
	)
	return outcome, nil
}

// poison marks the auction unrecoverable and alerts the operator through the
// error log. Processing for this auction halts; other auctions are unaffected.
func (c *Coordinator) poison(err error) error {
	c.poisoned = err
	log.Error("Auction poisoned, halting processing",
		zap.String("auctionID", c.auction.ID.String()),
		zap.Error(err),
	)
	return err
}

// recoverFromStoreError reloads the last committed state so the in-memory
// aggregate does not drift from the database after a failed transaction. If
// even the reload fails the auction is poisoned.
func (c *Coordinator) recoverFromStoreError(ctx context.Context, saveErr error) error {
	row, bids, loadErr := c.store.LoadAuction(ctx, c.auction.ID)
	if loadErr != nil {
		return c.poison(fmt.Errorf("save failed (%v) and reload failed: %w", saveErr, loadErr))
	}
	restored, hydrateErr := domain.Hydrate(row, bids)
	if hydrateErr != nil {
		return c.poison(fmt.Errorf("save failed (%v) and rehydrate failed: %w", saveErr, hydrateErr))
	}
	c.auction = restored
	log.Warn("Mutation rolled back after store error",
		zap.String("auctionID", c.auction.ID.String()),
		zap.Error(saveErr),
	)
	return fmt.Errorf("auction %s: persist mutation: %w", c.auction.ID, saveErr)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrAuctionClosed):
		return "auction_closed"
	case errors.Is(err, domain.ErrSelfBidForbidden):
		return "self_bid_forbidden"
	case errors.Is(err, domain.ErrRedundantBid):
		return "redundant_bid"
	case errors.Is(err, domain.ErrBidTooLow):
		return "bid_too_low"
	case errors.Is(err, domain.ErrInvalidAmount):
		return "invalid_amount"
	default:
		return "other"
	}
}
