package websocket

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/subastas/bidengine/internal/auction/domain"
)

// MessageType identifies what the server pushed to watchers of an auction.
type MessageType string

const (
	MessageTypeBidAccepted   MessageType = "bid_accepted"
	MessageTypeOutbid        MessageType = "outbid"
	MessageTypeAuctionWon    MessageType = "auction_won"
	MessageTypeAuctionNoSale MessageType = "auction_closed_no_winner"
	MessageTypeAuctionVoided MessageType = "auction_cancelled"
	MessageTypeInitialState  MessageType = "initial_state"
)

// BaseMessage is embedded by every outbound message so clients can dispatch
// on the type field before decoding the payload.
type BaseMessage struct {
	Type MessageType `json:"type"`
}

// EventMessage is the wire form of an engine event.
type EventMessage struct {
	BaseMessage
	Payload struct {
		AuctionID uuid.UUID       `json:"auction_id"`
		BidderID  *uuid.UUID      `json:"bidder_id,omitempty"`
		Amount    decimal.Decimal `json:"amount"`
		Snapshot  domain.Snapshot `json:"snapshot"`
		At        time.Time       `json:"at"`
	} `json:"payload"`
}

// InitialStateMessage is sent to a client right after it joins an auction's
// stream, so watchers do not start blind.
type InitialStateMessage struct {
	BaseMessage
	Payload domain.Snapshot `json:"payload"`
}
