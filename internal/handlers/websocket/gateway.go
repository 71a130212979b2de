package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/lienmarket/marketplace-server/configs"
	"github.com/lienmarket/marketplace-server/internal/auth"
	"github.com/lienmarket/marketplace-server/internal/database"
	"github.com/lienmarket/marketplace-server/internal/engine"
	"github.com/lienmarket/marketplace-server/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// GatewayHandler is the live bidding gateway: authenticated bidders join
// over a websocket, submit bids and receive accepted-bid broadcasts.
type GatewayHandler struct {
	db        database.Service
	engine    *engine.Engine
	validator *auth.Validator
	cfg       *configs.Config
	clients   sync.Map // *Client -> struct{}
}

func NewGatewayHandler(db database.Service, eng *engine.Engine, validator *auth.Validator, cfg *configs.Config) *GatewayHandler {
	return &GatewayHandler{db: db, engine: eng, validator: validator, cfg: cfg}
}

// HandleBidding integrates authentication and websocket handling.
func (h *GatewayHandler) HandleBidding(w http.ResponseWriter, r *http.Request) {
	token, err := h.validator.ValidateTokenFromCookie(r)
	if err != nil || token == nil {
		log.Error("Invalid token: ", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var email string
	if err := token.Get("email", &email); err != nil {
		log.Error("Error retrieving email from token claims")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	user, err := h.db.GetUserByEmail(r.Context(), email)
	if err != nil {
		log.Error("User not found: ", err)
		http.Error(w, "User not found", http.StatusUnauthorized)
		return
	}

	h.serve(w, r, user)
}

// serve upgrades the HTTP request to a websocket connection.
func (h *GatewayHandler) serve(w http.ResponseWriter, r *http.Request, user types.User) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Infof("Failed to upgrade connection: %v", err)
		http.Error(w, "Failed to establish connection", http.StatusInternalServerError)
		return
	}

	client := &Client{
		ID:          user.ID,
		Email:       user.Email,
		Conn:        conn,
		Send:        make(chan []byte),
		RateLimiter: rate.NewLimiter(1, 3),
	}

	h.clients.Store(client, struct{}{})

	go client.ReadMessages(h)
	go client.WriteMessages()
}

// Broadcast sends a message to all connected clients.
func (h *GatewayHandler) Broadcast(message []byte) {
	h.clients.Range(func(key, _ any) bool {
		client := key.(*Client)
		select {
		case client.Send <- message:
		default:
			// Drop clients that stopped draining their send channel.
			h.clients.Delete(client)
			client.Disconnect(nil)
		}
		return true
	})
}

// StartPeriodicCheck drives the auction lifecycle on a timer: Scheduled
// auctions open at their auction date, Open auctions close once the
// bidding window has elapsed, and closed ones settle when auto-settle is
// enabled.
func (h *GatewayHandler) StartPeriodicCheck() {
	interval := h.cfg.Auction.CheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			h.checkAuctions()
		}
	}()
}

func (h *GatewayHandler) checkAuctions() {
	ctx := context.Background()
	auctions, err := h.db.ListCurrentAuctions(ctx)
	if err != nil {
		log.Error("Error getting auctions: ", err)
		return
	}

	now := time.Now()
	for _, auction := range auctions {
		switch auction.Status {
		case types.AuctionScheduled:
			if engine.CanOpenAt(auction, now, false) {
				if err := h.engine.OpenAuction(ctx, auction.ID, false); err != nil {
					log.Error("Error opening auction: ", err)
				}
			}
		case types.AuctionOpen:
			if now.After(auction.AuctionDate.Add(h.cfg.Auction.BiddingWindow)) {
				if err := h.engine.CloseAuction(ctx, auction.ID); err != nil {
					log.Error("Error closing auction: ", err)
					continue
				}
				h.Broadcast([]byte(`{"type": "auction_closed", "auction_id": "` + auction.ID + `"}`))
			}
		case types.AuctionClosed:
			if h.cfg.Auction.AutoSettle {
				report, err := h.engine.SettleAuction(ctx, auction.ID)
				if err != nil {
					log.Error("Error settling auction: ", err)
					continue
				}
				log.Infof("Auction %s auto-settled: %d awarded, %d unsold",
					auction.ID, report.Awarded, report.Unsold)
				h.Broadcast([]byte(`{"type": "auction_settled", "auction_id": "` + auction.ID + `"}`))
			}
		}
	}
}
