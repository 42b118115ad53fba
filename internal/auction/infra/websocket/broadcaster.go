package websocket

import (
	"context"
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	fiberws "github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/subastas/bidengine/internal/auction/application"
	"github.com/subastas/bidengine/internal/shared/logger"
	ws "github.com/subastas/bidengine/internal/shared/websocket"
)

var log = logger.GetLogger()

// Broadcaster is the in-process notification collaborator: it turns engine
// events into JSON messages for every websocket client watching the auction.
type Broadcaster struct {
	hub     *ws.Hub
	service application.AuctionService
}

func NewBroadcaster(hub *ws.Hub, service application.AuctionService) *Broadcaster {
	return &Broadcaster{hub: hub, service: service}
}

var eventMessageTypes = map[application.EventType]MessageType{
	application.EventBidAccepted:           MessageTypeBidAccepted,
	application.EventOutbid:                MessageTypeOutbid,
	application.EventAuctionWon:            MessageTypeAuctionWon,
	application.EventAuctionClosedNoWinner: MessageTypeAuctionNoSale,
	application.EventAuctionCancelled:      MessageTypeAuctionVoided,
}

// Publish implements application.EventPublisher. It marshals and queues the
// message without blocking the coordinator.
func (b *Broadcaster) Publish(_ context.Context, ev application.Event) {
	msgType, ok := eventMessageTypes[ev.Type]
	if !ok {
		return
	}
	msg := EventMessage{BaseMessage: BaseMessage{Type: msgType}}
	msg.Payload.AuctionID = ev.AuctionID
	if ev.BidderID != uuid.Nil {
		id := ev.BidderID
		msg.Payload.BidderID = &id
	}
	msg.Payload.Amount = ev.Amount
	msg.Payload.Snapshot = ev.Snapshot
	msg.Payload.At = ev.At

	data, err := json.Marshal(msg)
	if err != nil {
		log.Error("failed to marshal event message", zap.Error(err))
		return
	}
	b.hub.BroadcastToAuction(ev.AuctionID.String(), data)
}

// Register wires the watch endpoint: GET /ws/auctions/:id upgrades and joins
// the auction's event stream.
func (b *Broadcaster) Register(app *fiber.App) {
	app.Use("/ws/auctions/:id", func(c *fiber.Ctx) error {
		if fiberws.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/auctions/:id", fiberws.New(b.serve))
}

func (b *Broadcaster) serve(conn *fiberws.Conn) {
	auctionID, err := uuid.Parse(conn.Params("id"))
	if err != nil {
		_ = conn.Close()
		return
	}

	client := &ws.Client{
		Hub:       b.hub,
		Conn:      conn,
		Send:      make(chan []byte, 16),
		AuctionID: auctionID.String(),
		ID:        uuid.NewString(),
	}
	b.hub.RegisterClient(client)

	// hand the newcomer the current state before any live event arrives
	if snap, err := b.service.GetAuctionState(context.Background(), auctionID); err == nil {
		initial := InitialStateMessage{
			BaseMessage: BaseMessage{Type: MessageTypeInitialState},
			Payload:     snap,
		}
		if data, err := json.Marshal(initial); err == nil {
			select {
			case client.Send <- data:
			default:
			}
		}
	}

	go client.WritePump()
	client.ReadPump()
}
