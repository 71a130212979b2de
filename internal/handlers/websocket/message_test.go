package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/lienmarket/marketplace-server/configs"
	"github.com/lienmarket/marketplace-server/internal/database"
	"github.com/lienmarket/marketplace-server/internal/engine"
	"github.com/lienmarket/marketplace-server/pkg/types"
)

func TestParseMessage(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type": "bid", "data": {"auction_id": "a1"}}`))
	require.NoError(t, err)
	require.Equal(t, "bid", msg.Type)

	_, err = ParseMessage([]byte(`not json`))
	require.Error(t, err)
}

func newTestGateway(t *testing.T) (*GatewayHandler, *database.MemoryStore, types.Auction, types.Certificate, types.User) {
	t.Helper()

	store := database.NewMemoryStore()
	county := store.PutCounty(types.County{Name: "Pinellas", State: "FL"})
	property := store.PutProperty(types.Property{
		CountyID: county.ID, ParcelID: "20-31-16-00000-110-0100",
		Address: "200 Central Ave", City: "St. Petersburg", Zip: "33701",
	})
	auction := store.PutAuction(types.Auction{
		CountyID:    county.ID,
		AuctionDate: time.Now().Add(-time.Hour),
		Status:      types.AuctionOpen,
		BiddingMode: types.BidInterestRate,
	})
	ceiling := decimal.RequireFromString("18")
	cert := store.PutCertificate(types.Certificate{
		CertificateNumber: "2025-000001",
		CountyID:          county.ID,
		PropertyID:        property.ID,
		AuctionID:         auction.ID,
		Status:            types.CertificateUnsold,
		FaceValue:         decimal.RequireFromString("5000"),
		InterestRate:      &ceiling,
	})
	user := store.PutUser(types.User{
		Name: "alice", Email: "alice@example.com",
		AccountStatus: types.AccountActive, KYCVerified: true,
	})

	cfg := &configs.Config{}
	eng := engine.New(store, true)
	return NewGatewayHandler(store, eng, nil, cfg), store, auction, cert, user
}

func newTestClient(userID string) *Client {
	return &Client{
		ID:          userID,
		Send:        make(chan []byte, 8),
		RateLimiter: rate.NewLimiter(rate.Inf, 1),
	}
}

func TestHandleMessage_InvalidFormat(t *testing.T) {
	h, _, _, _, user := newTestGateway(t)
	client := newTestClient(user.ID)

	h.HandleMessage(client, []byte(`garbage`))

	var reply struct {
		Type string `json:"type"`
		Code int    `json:"code"`
	}
	require.NoError(t, json.Unmarshal(<-client.Send, &reply))
	require.Equal(t, "error", reply.Type)
}

func TestHandleMessage_RateLimited(t *testing.T) {
	h, _, _, _, user := newTestGateway(t)
	client := newTestClient(user.ID)
	client.RateLimiter = rate.NewLimiter(0, 0) // rejects everything

	h.HandleMessage(client, []byte(`{"type": "join"}`))

	var reply struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(<-client.Send, &reply))
	require.Equal(t, "error", reply.Type)
	require.Contains(t, reply.Message, "Rate limit")
}

func TestHandleBid_AcceptedAndBroadcast(t *testing.T) {
	h, store, auction, cert, user := newTestGateway(t)
	client := newTestClient(user.ID)
	h.clients.Store(client, struct{}{})

	bidMsg, _ := json.Marshal(BidMessage{
		AuctionID:     auction.ID,
		CertificateID: cert.ID,
		BidType:       string(types.BidInterestRate),
		Amount:        decimal.RequireFromString("12"),
	})
	raw, _ := json.Marshal(Message{Type: "bid", Data: bidMsg})

	h.HandleMessage(client, raw)

	var broadcast struct {
		Type string    `json:"type"`
		Bid  types.Bid `json:"bid"`
	}
	require.NoError(t, json.Unmarshal(<-client.Send, &broadcast))
	require.Equal(t, "bid", broadcast.Type)
	require.Equal(t, user.ID, broadcast.Bid.UserID)

	bids, err := store.ListBidsForCertificate(context.Background(), cert.ID)
	require.NoError(t, err)
	require.Len(t, bids, 1)
}

func TestHandleBid_RejectionGoesToSenderOnly(t *testing.T) {
	h, _, auction, cert, user := newTestGateway(t)
	sender := newTestClient(user.ID)
	other := newTestClient("someone-else")
	h.clients.Store(sender, struct{}{})
	h.clients.Store(other, struct{}{})

	// 25% is above the 18% ceiling.
	bidMsg, _ := json.Marshal(BidMessage{
		AuctionID:     auction.ID,
		CertificateID: cert.ID,
		BidType:       string(types.BidInterestRate),
		Amount:        decimal.RequireFromString("25"),
	})
	raw, _ := json.Marshal(Message{Type: "bid", Data: bidMsg})

	h.HandleMessage(sender, raw)

	var reply struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(<-sender.Send, &reply))
	require.Equal(t, "error", reply.Type)
	require.Empty(t, other.Send)
}
