// Package http exposes the engine's boundary operations over fiber. Identity
// is trusted: bidder and actor ids arrive verified by the authentication
// collaborator upstream of this process.
package http

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/subastas/bidengine/internal/auction/application"
	"github.com/subastas/bidengine/internal/auction/domain"
)

type Handler struct {
	service application.AuctionService
}

func NewHandler(service application.AuctionService) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(app *fiber.App) {
	app.Post("/auctions", h.openAuction)
	app.Get("/auctions/:id", h.getAuctionState)
	app.Post("/auctions/:id/bids", h.placeBid)
	app.Get("/auctions/:id/bids", h.getBidHistory)
	app.Post("/auctions/:id/cancel", h.cancelAuction)
}

type openAuctionRequest struct {
	AuctionID     uuid.UUID       `json:"auction_id"`
	SellerID      uuid.UUID       `json:"seller_id"`
	StartingPrice decimal.Decimal `json:"starting_price"`
	MinIncrement  decimal.Decimal `json:"min_increment"`
	EndsAt        time.Time       `json:"ends_at"`
}

func (h *Handler) openAuction(c *fiber.Ctx) error {
	var req openAuctionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	snap, err := h.service.OpenAuction(c.Context(), application.OpenAuctionRequest{
		AuctionID:     req.AuctionID,
		SellerID:      req.SellerID,
		StartingPrice: req.StartingPrice,
		MinIncrement:  req.MinIncrement,
		EndsAt:        req.EndsAt,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(snap)
}

type placeBidRequest struct {
	BidderID  uuid.UUID       `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	IsAutoBid bool            `json:"is_auto_bid"`
	MaxAmount decimal.Decimal `json:"max_amount"`
	RequestID string          `json:"request_id"`
}

type placeBidResponse struct {
	Bid       *bidDTO         `json:"bid,omitempty"`
	Snapshot  domain.Snapshot `json:"snapshot"`
	Duplicate bool            `json:"duplicate,omitempty"`
}

func (h *Handler) placeBid(c *fiber.Ctx) error {
	auctionID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid auction id")
	}
	var req placeBidRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	res, err := h.service.PlaceBid(c.Context(), application.PlaceBidRequest{
		AuctionID: auctionID,
		BidderID:  req.BidderID,
		Amount:    req.Amount,
		IsAutoBid: req.IsAutoBid,
		MaxAmount: req.MaxAmount,
		RequestID: req.RequestID,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(placeBidResponse{
		Bid:       toBidDTO(res.Bid),
		Snapshot:  res.Snapshot,
		Duplicate: res.Duplicate,
	})
}

func (h *Handler) getAuctionState(c *fiber.Ctx) error {
	auctionID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid auction id")
	}
	snap, err := h.service.GetAuctionState(c.Context(), auctionID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(snap)
}

func (h *Handler) getBidHistory(c *fiber.Ctx) error {
	auctionID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid auction id")
	}
	page := c.QueryInt("page", 1)
	pageSize := c.QueryInt("page_size", 50)
	bids, err := h.service.GetBidHistory(c.Context(), auctionID, page, pageSize)
	if err != nil {
		return respondError(c, err)
	}
	out := make([]*bidDTO, 0, len(bids))
	for _, b := range bids {
		out = append(out, toBidDTO(b))
	}
	return c.JSON(fiber.Map{
		"auction_id": auctionID,
		"page":       page,
		"page_size":  pageSize,
		"bids":       out,
	})
}

type cancelAuctionRequest struct {
	ActorID   uuid.UUID `json:"actor_id"`
	Reason    string    `json:"reason"`
	Moderator bool      `json:"moderator"`
}

func (h *Handler) cancelAuction(c *fiber.Ctx) error {
	auctionID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid auction id")
	}
	var req cancelAuctionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	snap, err := h.service.CancelAuction(c.Context(), application.CancelRequest{
		AuctionID: auctionID,
		ActorID:   req.ActorID,
		Reason:    req.Reason,
		Moderator: req.Moderator,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(snap)
}

type bidDTO struct {
	BidID     uuid.UUID        `json:"bid_id"`
	AuctionID uuid.UUID        `json:"auction_id"`
	BidderID  uuid.UUID        `json:"bidder_id"`
	Seq       int64            `json:"seq"`
	Amount    decimal.Decimal  `json:"amount"`
	Kind      domain.BidKind   `json:"kind"`
	Status    domain.BidStatus `json:"status"`
	IsAutoBid bool             `json:"is_auto_bid"`
	MaxAmount *decimal.Decimal `json:"max_amount,omitempty"`
	PlacedAt  time.Time        `json:"placed_at"`
}

func toBidDTO(b *domain.Bid) *bidDTO {
	if b == nil {
		return nil
	}
	dto := &bidDTO{
		BidID:     b.ID,
		AuctionID: b.AuctionID,
		BidderID:  b.BidderID,
		Seq:       b.Seq,
		Amount:    b.Amount,
		Kind:      b.Kind,
		Status:    b.Status,
		IsAutoBid: b.IsAutoBid(),
		PlacedAt:  b.PlacedAt,
	}
	if b.Auto != nil {
		m := b.Auto.MaxAmount
		dto.MaxAmount = &m
	}
	return dto
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

// respondError maps the engine's rejection taxonomy to HTTP. BidTooLow
// rejections carry the minimum acceptable amount so the caller can retry
// correctly.
func respondError(c *fiber.Ctx, err error) error {
	var tooLow *domain.BidTooLowError
	if errors.As(err, &tooLow) {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":                 "bid_too_low",
			"min_acceptable_amount": tooLow.MinAcceptable,
		})
	}
	switch {
	case errors.Is(err, domain.ErrAuctionNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "auction_not_found"})
	case errors.Is(err, domain.ErrAuctionClosed):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "auction_closed"})
	case errors.Is(err, domain.ErrSelfBidForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "self_bid_forbidden"})
	case errors.Is(err, domain.ErrRedundantBid):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "redundant_bid"})
	case errors.Is(err, domain.ErrCancelNotAllowed):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "cancel_not_allowed"})
	case errors.Is(err, domain.ErrInvalidAmount):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_amount"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
	}
}
