package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/subastas/bidengine/internal/auction/domain"
)

type EventType string

const (
	EventBidAccepted           EventType = "bid_accepted"
	EventOutbid                EventType = "outbid"
	EventAuctionWon            EventType = "auction_won"
	EventAuctionClosedNoWinner EventType = "auction_closed_no_winner"
	EventAuctionCancelled      EventType = "auction_cancelled"
)

// Event is what the engine hands to the notification collaborator. The engine
// does not format or deliver anything; the surrounding system fans these out.
type Event struct {
	Type      EventType
	AuctionID uuid.UUID
	// BidderID is the subject: the accepted bidder, the displaced bidder, or
	// the winner. uuid.Nil for auction-level events with no subject.
	BidderID uuid.UUID
	Amount   decimal.Decimal
	Snapshot domain.Snapshot
	At       time.Time
}

// EventPublisher receives engine events. Implementations must not block the
// coordinator; queue or drop.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event)
}

// NopPublisher discards events. Used when no collaborator is wired, and in
// tests that do not assert on events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}
