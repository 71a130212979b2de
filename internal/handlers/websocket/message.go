package websocket

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"

	"github.com/lienmarket/marketplace-server/internal/engine"
	"github.com/lienmarket/marketplace-server/pkg/errors"
	"github.com/lienmarket/marketplace-server/pkg/types"
)

type Message struct {
	Type string          `json:"type"` // Type of the message (e.g., "bid", "update")
	Data json.RawMessage `json:"data"` // Payload of the message
}

// ParseMessage validates and parses incoming messages.
func ParseMessage(rawMessage []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(rawMessage, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// HandleMessage routes the message based on its type.
func (h *GatewayHandler) HandleMessage(client *Client, rawMessage []byte) {
	if !client.RateLimiter.Allow() {
		log.Warnf("Rate limit exceeded for client %s", client.ID)
		client.Send <- []byte(errors.New(errors.ErrRateLimited, "Rate limit exceeded").ToJSON())
		return
	}

	msg, err := ParseMessage(rawMessage)
	if err != nil {
		log.Infof("Invalid message from client %s: %v", client.ID, err)
		client.Send <- []byte(errors.New(errors.ErrBadMessageFormat, "Invalid message format").ToJSON())
		return
	}

	switch msg.Type {
	case "join":
		log.Debugf("Client %s joined the auction feed", client.ID)
	case "bid":
		h.handleBidMessage(client, msg.Data)
	case "update":
		h.handleUpdateRequest(client, msg.Data)
	default:
		log.Infof("Unknown message type: %s", msg.Type)
		client.Send <- []byte(errors.New(errors.ErrUnknownMessageType, "Unknown message type").ToJSON())
	}
}

type BidMessage struct {
	AuctionID     string          `json:"auction_id"`
	CertificateID string          `json:"certificate_id"`
	BidType       string          `json:"bid_type"`
	Amount        decimal.Decimal `json:"amount"`
}

type bidAccepted struct {
	Type string    `json:"type"`
	Bid  types.Bid `json:"bid"`
}

// handleBidMessage runs the bid through the engine and broadcasts the
// accepted bid to every connected client. Rejections go back to the
// sender only.
func (h *GatewayHandler) handleBidMessage(client *Client, data json.RawMessage) {
	var bidMsg BidMessage
	if err := json.Unmarshal(data, &bidMsg); err != nil {
		client.Send <- []byte(errors.New(errors.ErrBadMessageFormat, "Invalid bid message").ToJSON())
		return
	}

	bid, err := h.engine.PlaceBid(context.Background(), engine.PlaceBidRequest{
		AuctionID:     bidMsg.AuctionID,
		CertificateID: bidMsg.CertificateID,
		UserID:        client.ID,
		BidType:       types.BiddingMode(bidMsg.BidType),
		BidAmount:     bidMsg.Amount,
	})
	if err != nil {
		var appErr *errors.AppError
		if stderrors.As(err, &appErr) {
			client.Send <- []byte(appErr.ToJSON())
		} else {
			log.Error("Error placing bid: ", err)
			client.Send <- []byte(errors.New(errors.ErrInternalServer, "Internal server error").ToJSON())
		}
		return
	}

	payload, err := json.Marshal(bidAccepted{Type: "bid", Bid: bid})
	if err != nil {
		log.Error("Error marshalling bid message: ", err)
		return
	}
	h.Broadcast(payload)
}

type updateRequest struct {
	AuctionID string `json:"auction_id"`
}

type auctionUpdate struct {
	Type         string              `json:"type"`
	Auction      types.Auction       `json:"auction"`
	Certificates []types.Certificate `json:"certificates"`
}

// handleUpdateRequest replies with the auction's current state.
func (h *GatewayHandler) handleUpdateRequest(client *Client, data json.RawMessage) {
	var req updateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		client.Send <- []byte(errors.New(errors.ErrBadMessageFormat, "Invalid update request").ToJSON())
		return
	}

	ctx := context.Background()
	auction, err := h.db.GetAuction(ctx, req.AuctionID)
	if err != nil {
		client.Send <- []byte(errors.New(errors.ErrNotFound, "Auction not found").ToJSON())
		return
	}
	certs, err := h.db.ListCertificatesForAuction(ctx, req.AuctionID)
	if err != nil {
		log.Error("Error listing certificates: ", err)
		client.Send <- []byte(errors.New(errors.ErrInternalServer, "Internal server error").ToJSON())
		return
	}

	payload, err := json.Marshal(auctionUpdate{Type: "update", Auction: auction, Certificates: certs})
	if err != nil {
		log.Error("Error marshalling update: ", err)
		return
	}
	client.Send <- payload
}
