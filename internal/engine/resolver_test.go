package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lienmarket/marketplace-server/pkg/types"
)

func rateBid(id, userID, rate string, at time.Time) types.Bid {
	return types.Bid{
		ID:        id,
		UserID:    userID,
		BidType:   types.BidInterestRate,
		BidAmount: decimal.RequireFromString(rate),
		BidTime:   at,
	}
}

func premiumBid(id, userID, amount string, at time.Time) types.Bid {
	return types.Bid{
		ID:        id,
		UserID:    userID,
		BidType:   types.BidPremium,
		BidAmount: decimal.RequireFromString(amount),
		BidTime:   at,
	}
}

func TestResolveWinner_NoBids(t *testing.T) {
	winner, status := ResolveWinner(types.Certificate{ID: "cert1"}, nil)
	require.Nil(t, winner)
	require.Equal(t, NoBids, status)
}

func TestResolveWinner_LowestRateWins(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	bids := []types.Bid{
		rateBid("bid-a", "userA", "3.0", t0),
		rateBid("bid-b", "userB", "2.5", t0.Add(time.Second)),
		rateBid("bid-c", "userC", "2.5", t0.Add(3*time.Second)),
	}

	winner, status := ResolveWinner(types.Certificate{ID: "cert1"}, bids)
	require.Equal(t, WinnerFound, status)
	// userB and userC tie at 2.5; userB bid first.
	require.Equal(t, "bid-b", winner.ID)
	require.Equal(t, "userB", winner.UserID)
}

func TestResolveWinner_HighestPremiumWins(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	bids := []types.Bid{
		premiumBid("bid-a", "userA", "1200", t0),
		premiumBid("bid-b", "userB", "1500", t0.Add(time.Second)),
	}

	winner, status := ResolveWinner(types.Certificate{ID: "cert1"}, bids)
	require.Equal(t, WinnerFound, status)
	require.Equal(t, "bid-b", winner.ID)
	require.True(t, winner.BidAmount.Equal(decimal.NewFromInt(1500)))
}

func TestResolveWinner_MostRecentBidPerUser(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	// User submits 5.0, 4.0, then 4.5: only the 4.5 stands.
	bids := []types.Bid{
		rateBid("bid-1", "userA", "5.0", t0),
		rateBid("bid-2", "userA", "4.0", t0.Add(time.Second)),
		rateBid("bid-3", "userA", "4.5", t0.Add(2*time.Second)),
		rateBid("bid-4", "userB", "4.75", t0.Add(3*time.Second)),
	}

	winner, status := ResolveWinner(types.Certificate{ID: "cert1"}, bids)
	require.Equal(t, WinnerFound, status)
	// userA's standing offer is 4.5 which beats userB's 4.75. The
	// superseded 4.0 must not participate.
	require.Equal(t, "bid-3", winner.ID)
	require.True(t, winner.BidAmount.Equal(decimal.RequireFromString("4.5")))
}

func TestResolveWinner_EqualTimeBreaksOnBidID(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	bids := []types.Bid{
		rateBid("bid-z", "userA", "2.0", t0),
		rateBid("bid-a", "userB", "2.0", t0),
	}

	winner, status := ResolveWinner(types.Certificate{ID: "cert1"}, bids)
	require.Equal(t, WinnerFound, status)
	require.Equal(t, "bid-a", winner.ID)
}

func TestResolveWinner_Deterministic(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	bids := []types.Bid{
		rateBid("bid-1", "userA", "3.0", t0),
		rateBid("bid-2", "userB", "2.5", t0.Add(time.Second)),
		rateBid("bid-3", "userC", "2.5", t0.Add(2*time.Second)),
		rateBid("bid-4", "userA", "2.75", t0.Add(3*time.Second)),
	}

	first, firstStatus := ResolveWinner(types.Certificate{ID: "cert1"}, bids)
	second, secondStatus := ResolveWinner(types.Certificate{ID: "cert1"}, bids)
	require.Equal(t, firstStatus, secondStatus)
	require.Equal(t, first.ID, second.ID)
}

func TestResolveWinner_AuditTrailUntouched(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	bids := []types.Bid{
		rateBid("bid-1", "userA", "5.0", t0),
		rateBid("bid-2", "userA", "4.0", t0.Add(time.Second)),
	}

	_, _ = ResolveWinner(types.Certificate{ID: "cert1"}, bids)
	// The input slice keeps every bid, superseded ones included.
	require.Len(t, bids, 2)
	require.Equal(t, "bid-1", bids[0].ID)
}
